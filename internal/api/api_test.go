package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethanbaker/meeting-assistant/internal/assistant"
	"github.com/ethanbaker/meeting-assistant/internal/capture"
	"github.com/ethanbaker/meeting-assistant/internal/config"
	"github.com/ethanbaker/meeting-assistant/internal/transcription"
	"github.com/ethanbaker/meeting-assistant/pkg/sdk"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConn struct {
	events chan transcription.Event
	mu     sync.Mutex
	audio  bytes.Buffer
	once   sync.Once
}

func (c *recordingConn) Events() <-chan transcription.Event { return c.events }

func (c *recordingConn) Send(chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio.Write(chunk)
	return nil
}

func (c *recordingConn) Finish(context.Context) error {
	c.once.Do(func() { close(c.events) })
	return nil
}

func (c *recordingConn) received() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audio.String()
}

type recordingBackend struct {
	mu    sync.Mutex
	conns []*recordingConn
}

func (b *recordingBackend) Connect(context.Context, transcription.Config) (transcription.Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	conn := &recordingConn{events: make(chan transcription.Event, 8)}
	conn.events <- transcription.Event{Kind: transcription.EventOpened}
	b.conns = append(b.conns, conn)
	return conn, nil
}

func (b *recordingBackend) conn(i int) *recordingConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conns[i]
}

type staticAnswerer struct{}

func (staticAnswerer) Generate(context.Context, string) (string, error) {
	return "Forty two.", nil
}

type testServer struct {
	srv        *httptest.Server
	client     *sdk.Client
	backend    *recordingBackend
	controller *assistant.Controller
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	device := capture.NewBrowserDevice()
	backend := &recordingBackend{}
	controller := assistant.New(assistant.Dependencies{
		Device:      device,
		Transcriber: backend,
		Answerer:    staticAnswerer{},
		Options:     transcription.Options{Model: "nova-2", Language: "en-US", ChunkInterval: 200 * time.Millisecond},
	})

	settings := &config.Settings{APIPort: "0", AllowedOrigins: []string{"*"}}
	engine, err := NewEngine(settings, controller, device)
	require.NoError(t, err)

	srv := httptest.NewServer(engine)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = controller.Close(ctx)
		srv.Close()
	})

	return &testServer{
		srv:        srv,
		client:     sdk.NewClient(srv.URL, ""),
		backend:    backend,
		controller: controller,
	}
}

func (s *testServer) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

var fullOffer = &sdk.MediaOffer{
	Display:    sdk.DisplayOffer{Video: true, Audio: true},
	Microphone: true,
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	assert.NoError(t, s.client.Health(context.Background()))
}

func TestNoRoute(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.srv.URL + "/api/missing")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	snap, err := s.client.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "idle", snap.Phase)
	assert.Equal(t, "00 : 00", snap.ElapsedDisplay)

	started, err := s.client.StartSession(ctx, fullOffer)
	require.NoError(t, err)
	require.Len(t, started.Tracks, 3)

	var sources []string
	for _, tr := range started.Tracks {
		sources = append(sources, tr.Source+"/"+tr.Kind)
	}
	assert.Equal(t, []string{"display/video", "display/audio", "microphone/audio"}, sources)

	snap, err = s.client.GetSession(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Recording)

	_, err = s.client.StartSession(ctx, fullOffer)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")

	require.NoError(t, s.client.StopSession(ctx))
	require.NoError(t, s.client.StopSession(ctx))

	snap, err = s.client.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "idle", snap.Phase)
}

func TestStartWithoutSharedAudio(t *testing.T) {
	s := newTestServer(t)

	_, err := s.client.StartSession(context.Background(), &sdk.MediaOffer{
		Display:    sdk.DisplayOffer{Video: true},
		Microphone: true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "Share audio")

	snap, err := s.client.GetSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "idle", snap.Phase)
	assert.Contains(t, snap.Error, "Failed to start recording")
}

func TestStartDeclinedShare(t *testing.T) {
	s := newTestServer(t)

	_, err := s.client.StartSession(context.Background(), &sdk.MediaOffer{
		Display: sdk.DisplayOffer{Denied: true},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestTrackUpload(t *testing.T) {
	s := newTestServer(t)

	started, err := s.client.StartSession(context.Background(), fullOffer)
	require.NoError(t, err)

	// Tracks are display video, display audio, microphone; conns are screen, microphone
	screenAudio := s.dial(t, "/api/session/tracks/"+started.Tracks[1].ID)
	mic := s.dial(t, "/api/session/tracks/"+started.Tracks[2].ID)

	require.NoError(t, screenAudio.WriteMessage(websocket.BinaryMessage, []byte("screen-chunk")))
	require.NoError(t, mic.WriteMessage(websocket.BinaryMessage, []byte("mic-chunk")))

	assert.Eventually(t, func() bool {
		return s.backend.conn(0).received() == "screen-chunk" && s.backend.conn(1).received() == "mic-chunk"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTrackUploadRejected(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.srv.URL + "/api/session/tracks/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	started, err := s.client.StartSession(context.Background(), fullOffer)
	require.NoError(t, err)

	path := "/api/session/tracks/" + started.Tracks[1].ID
	s.dial(t, path)

	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + path
	_, resp, err = websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestEventStream(t *testing.T) {
	s := newTestServer(t)
	events := s.dial(t, "/api/session/events")

	readSnapshot := func() sdk.SessionSnapshot {
		require.NoError(t, events.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := events.ReadMessage()
		require.NoError(t, err)

		var snap sdk.SessionSnapshot
		require.NoError(t, json.Unmarshal(data, &snap))
		return snap
	}

	assert.Equal(t, "idle", readSnapshot().Phase)

	_, err := s.client.StartSession(context.Background(), fullOffer)
	require.NoError(t, err)

	for {
		if readSnapshot().Recording {
			break
		}
	}
}

func TestAskAndClear(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	answer, err := s.client.Ask(ctx, "What is the answer?")
	require.NoError(t, err)
	assert.Equal(t, "Forty two.", answer)

	snap, err := s.client.GetSession(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Chat, 2)
	assert.Equal(t, "question", snap.Chat[0].Kind)
	assert.Equal(t, "typed", snap.Chat[0].Source)
	assert.Equal(t, "Forty two.", snap.Chat[1].Text)

	require.NoError(t, s.client.ClearSession(ctx))

	snap, err = s.client.GetSession(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Chat)
}
