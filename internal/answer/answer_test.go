package answer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethanbaker/meeting-assistant/internal/config"
	"github.com/google/generative-ai-go/genai"
	"github.com/openai/openai-go/v2/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	answer string
	err    error
	gate   chan struct{}

	mu      sync.Mutex
	prompts []string
}

func (b *fakeBackend) Generate(ctx context.Context, prompt string) (string, error) {
	b.mu.Lock()
	b.prompts = append(b.prompts, prompt)
	b.mu.Unlock()

	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return b.answer, b.err
}

func kindsAndTexts(entries []Entry) [][2]string {
	var out [][2]string
	for _, e := range entries {
		out = append(out, [2]string{string(e.Kind), e.Text})
	}
	return out
}

func TestChatLog(t *testing.T) {
	log := NewChatLog()
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	log.now = func() time.Time { return fixed }

	gen := log.Generation()
	assert.True(t, log.AppendExchange(gen, "Who won", "Team A.", "screen"))

	entries := log.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, KindQuestion, entries[0].Kind)
	assert.Equal(t, "screen", entries[0].Source)
	assert.Equal(t, KindAnswer, entries[1].Kind)
	assert.Empty(t, entries[1].Source)
	assert.Equal(t, fixed, entries[1].Timestamp)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)

	next := log.Reset()
	assert.Equal(t, gen+1, next)
	assert.Zero(t, log.Len())

	assert.False(t, log.AppendExchange(gen, "stale", "answer", "screen"))
	assert.Zero(t, log.Len())

	log.Reset()
	log.Reset()
	assert.Zero(t, log.Len())
}

func TestDispatcherAsk(t *testing.T) {
	tests := []struct {
		name    string
		backend *fakeBackend
		want    string
	}{
		{"success", &fakeBackend{answer: "Team A."}, "Team A."},
		{"empty response", &fakeBackend{answer: "  "}, EmptyAnswer},
		{"backend error", &fakeBackend{err: errors.New("network unreachable")}, "network unreachable"},
		{"blank error", &fakeBackend{err: errors.New("")}, FailureAnswer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := NewChatLog()
			d := NewDispatcher(tt.backend, chat)

			got := d.Ask(context.Background(), "Who won?", "screen")

			assert.Equal(t, tt.want, got)
			assert.False(t, d.Processing())
			assert.Equal(t, [][2]string{{"question", "Who won?"}, {"answer", tt.want}}, kindsAndTexts(chat.Entries()))
			assert.Equal(t, []string{"Who won?"}, tt.backend.prompts)
		})
	}
}

func TestDispatcherProcessing(t *testing.T) {
	backend := &fakeBackend{answer: "ok", gate: make(chan struct{})}
	chat := NewChatLog()

	var mu sync.Mutex
	changes := 0
	d := NewDispatcher(backend, chat, WithOnChange(func() {
		mu.Lock()
		changes++
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for _, q := range []string{"What is first", "What is second"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Ask(context.Background(), q, "microphone")
		}()
	}

	assert.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return len(backend.prompts) == 2
	}, time.Second, 5*time.Millisecond)
	assert.True(t, d.Processing())

	close(backend.gate)
	wg.Wait()

	assert.False(t, d.Processing())
	assert.Equal(t, 4, chat.Len())

	// Each exchange stays adjacent even when calls overlap
	entries := chat.Entries()
	for i := 0; i < len(entries); i += 2 {
		assert.Equal(t, KindQuestion, entries[i].Kind)
		assert.Equal(t, KindAnswer, entries[i+1].Kind)
	}

	mu.Lock()
	assert.Equal(t, 4, changes)
	mu.Unlock()
}

func TestDispatcherDiscardsStaleAnswers(t *testing.T) {
	backend := &fakeBackend{answer: "late", gate: make(chan struct{})}
	chat := NewChatLog()
	d := NewDispatcher(backend, chat)

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Ask(context.Background(), "Is anyone there", "screen")
	}()

	assert.Eventually(t, d.Processing, time.Second, 5*time.Millisecond)
	chat.Reset()
	close(backend.gate)
	<-done

	assert.Zero(t, chat.Len())
	assert.False(t, d.Processing())
}

func TestResponseText(t *testing.T) {
	assert.Empty(t, responseText(nil))
	assert.Empty(t, responseText(&genai.GenerateContentResponse{}))

	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: nil},
			{Content: &genai.Content{Parts: []genai.Part{
				genai.Text("Team "),
				genai.Blob{MIMEType: "image/png"},
				genai.Text("A. "),
			}}},
		},
	}
	assert.Equal(t, "Team A.", responseText(resp))
}

func TestOpenAIGenerate(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": " Team A. "}
			}]
		}`))
	}))
	defer srv.Close()

	o, err := NewOpenAI("sk-test", "gpt-4o-mini", "Answer briefly.", option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	require.NoError(t, err)

	answer, err := o.Generate(context.Background(), "Who won?")
	require.NoError(t, err)
	assert.Equal(t, "Team A.", answer)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "Answer briefly.", got.Messages[0].Content)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "Who won?", got.Messages[1].Content)
}

func TestOpenAIGenerateError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	o, err := NewOpenAI("sk-test", "nope", "", option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	require.NoError(t, err)

	_, err = o.Generate(context.Background(), "Who won?")
	assert.Error(t, err)
}

func TestNewFromSettings(t *testing.T) {
	_, closer, err := NewFromSettings(context.Background(), &config.Settings{AIProvider: config.ProviderOpenAI})
	assert.Error(t, err)
	assert.NoError(t, closer())

	backend, closer, err := NewFromSettings(context.Background(), &config.Settings{
		AIProvider:   config.ProviderOpenAI,
		OpenAIAPIKey: "sk-test",
		AIModel:      "gpt-4o-mini",
	})
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, backend)
	assert.NoError(t, closer())

	_, _, err = NewFromSettings(context.Background(), &config.Settings{AIProvider: "llama"})
	assert.Error(t, err)
}
