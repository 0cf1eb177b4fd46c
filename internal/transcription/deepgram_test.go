package transcription

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	listenapi "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	"github.com/ethanbaker/meeting-assistant/internal/capture"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDeepgram answers every binary frame with an interim and a final result
type fakeDeepgram struct {
	mu       sync.Mutex
	auth     string
	query    url.Values
	binary   int
	controls []string
}

func (f *fakeDeepgram) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}

	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.auth = r.Header.Get("Authorization")
		f.query = r.URL.Query()
		f.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			if messageType == websocket.BinaryMessage {
				f.mu.Lock()
				f.binary++
				f.mu.Unlock()

				_ = conn.WriteMessage(websocket.TextMessage, result("hello", false))
				_ = conn.WriteMessage(websocket.TextMessage, result("Hello world.", true))
				continue
			}

			var msg controlMessage
			_ = json.Unmarshal(data, &msg)

			f.mu.Lock()
			f.controls = append(f.controls, msg.Type)
			f.mu.Unlock()

			if msg.Type == "CloseStream" {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata","request_id":"abc"}`))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}
}

func (f *fakeDeepgram) controlTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.controls...)
}

func result(text string, final bool) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":     "Results",
		"is_final": final,
		"channel": map[string]any{
			"alternatives": []map[string]any{{"transcript": text, "confidence": 0.98}},
		},
	})
	return b
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/listen"
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()

	select {
	case ev, ok := <-events:
		require.True(t, ok, "event channel closed early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestDeepgramBuildURL(t *testing.T) {
	d := NewDeepgram("key", WithEndpoint("wss://example.test/v1/listen"))

	raw, err := d.buildURL(Config{Model: "nova-2", Language: "en-US", SmartFormat: true})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "nova-2", u.Query().Get("model"))
	assert.Equal(t, "en-US", u.Query().Get("language"))
	assert.Equal(t, "true", u.Query().Get("smart_format"))
	assert.False(t, u.Query().Has("encoding"))

	raw, err = d.buildURL(Config{Model: "nova-2", Encoding: "linear16", SampleRate: 16000, Channels: 1})
	require.NoError(t, err)

	u, err = url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "linear16", u.Query().Get("encoding"))
	assert.Equal(t, "16000", u.Query().Get("sample_rate"))
	assert.Equal(t, "1", u.Query().Get("channels"))
	assert.Equal(t, "false", u.Query().Get("smart_format"))
}

func TestDeepgramConnection(t *testing.T) {
	fake := &fakeDeepgram{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	d := NewDeepgram("secret", WithEndpoint(wsURL(srv)), WithKeepAlive(0))
	conn, err := d.Connect(context.Background(), Config{Model: "nova-2", Language: "en-US", SmartFormat: true})
	require.NoError(t, err)

	events := conn.Events()
	assert.Equal(t, EventOpened, nextEvent(t, events).Kind)

	require.NoError(t, conn.Send([]byte("audio-bytes")))

	interim := nextEvent(t, events)
	assert.Equal(t, EventFragment, interim.Kind)
	assert.False(t, interim.IsFinal)
	assert.Equal(t, "hello", interim.Text)

	final := nextEvent(t, events)
	assert.True(t, final.IsFinal)
	assert.Equal(t, "Hello world.", final.Text)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Finish(ctx))
	require.NoError(t, conn.Finish(ctx))

	assert.Equal(t, EventClosed, nextEvent(t, events).Kind)
	_, ok := <-events
	assert.False(t, ok)

	assert.Error(t, conn.Send([]byte("late")))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, "Token secret", fake.auth)
	assert.Equal(t, "nova-2", fake.query.Get("model"))
	assert.Equal(t, 1, fake.binary)
	assert.Equal(t, []string{"CloseStream"}, fake.controls)
}

func TestDeepgramKeepAlive(t *testing.T) {
	fake := &fakeDeepgram{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	d := NewDeepgram("secret", WithEndpoint(wsURL(srv)), WithKeepAlive(10*time.Millisecond))
	conn, err := d.Connect(context.Background(), Config{Model: "nova-2"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		for _, typ := range fake.controlTypes() {
			if typ == "KeepAlive" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Finish(context.Background()))
}

func TestDeepgramServerError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Error","description":"bad audio"}`))
		_ = conn.WriteMessage(websocket.TextMessage, result("still here", true))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	conn, err := NewDeepgram("k", WithEndpoint(wsURL(srv)), WithKeepAlive(0)).Connect(context.Background(), Config{})
	require.NoError(t, err)

	events := conn.Events()
	assert.Equal(t, EventOpened, nextEvent(t, events).Kind)

	errEvent := nextEvent(t, events)
	require.Equal(t, EventError, errEvent.Kind)
	assert.Contains(t, errEvent.Err.Error(), "bad audio")

	assert.Equal(t, "still here", nextEvent(t, events).Text)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = conn.Finish(ctx)
}

func TestDeepgramRejectedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewDeepgram("bad", WithEndpoint(wsURL(srv))).Connect(context.Background(), Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestSessionOverDeepgram(t *testing.T) {
	fake := &fakeDeepgram{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	pr, pw := io.Pipe()
	track := capture.NewTrack(capture.KindAudio, "display audio", pr, capture.WithFormat(pcm))
	rec := &recordingSink{}

	backend := NewDeepgram("secret", WithEndpoint(wsURL(srv)), WithKeepAlive(0))
	s, err := Open(context.Background(), backend, capture.NewStream(track), SourceScreen, testOptions, rec.sink())
	require.NoError(t, err)

	_, err = pw.Write(make([]byte, 320))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(rec.texts()) == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))

	assert.Equal(t, []string{"Hello world."}, rec.texts())
	assert.Equal(t, []string{"CloseStream"}, fake.controlTypes())
	require.NoError(t, track.Stop())
}

func TestResultEvent(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Event
		ok      bool
	}{
		{
			name: "final result",
			payload: `{"type":"Results","channel_index":[0,1],"duration":1.2,"start":0.0,"is_final":true,"speech_final":true,
				"channel":{"alternatives":[{"transcript":"What time is it?","confidence":0.97,
				"words":[{"word":"what","start":0.1,"end":0.3,"confidence":0.99}]}]}}`,
			want: Event{Kind: EventFragment, Text: "What time is it?", IsFinal: true},
			ok:   true,
		},
		{
			name:    "interim result",
			payload: `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"what ti"}]}}`,
			want:    Event{Kind: EventFragment, Text: "what ti"},
			ok:      true,
		},
		{
			name:    "no alternatives",
			payload: `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res listenapi.MessageResponse
			require.NoError(t, json.Unmarshal([]byte(tt.payload), &res))

			ev, ok := resultEvent(&res)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, ev)
		})
	}
}
