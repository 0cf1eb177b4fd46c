package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	listenapi "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	"github.com/ethanbaker/meeting-assistant/internal/logging"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait         = 10 * time.Second
	handshakeTimeout  = 10 * time.Second
	keepAliveInterval = 8 * time.Second
	maxMessageSize    = 1024 * 1024
	eventBuffer       = 64
)

var _ Backend = (*Deepgram)(nil)

// DefaultDeepgramURL is the live listen endpoint
const DefaultDeepgramURL = "wss://api.deepgram.com/v1/listen"

// Deepgram is a Backend speaking Deepgram's live streaming protocol
type Deepgram struct {
	apiKey    string
	endpoint  string
	keepAlive time.Duration
	dialer    *websocket.Dialer
}

// DeepgramOption customizes the Deepgram backend
type DeepgramOption func(*Deepgram)

// WithEndpoint overrides the listen URL
func WithEndpoint(endpoint string) DeepgramOption {
	return func(d *Deepgram) {
		if endpoint != "" {
			d.endpoint = endpoint
		}
	}
}

// WithKeepAlive sets how often KeepAlive messages are sent; zero disables them
func WithKeepAlive(interval time.Duration) DeepgramOption {
	return func(d *Deepgram) { d.keepAlive = interval }
}

// NewDeepgram creates a Deepgram backend authenticated with apiKey
func NewDeepgram(apiKey string, opts ...DeepgramOption) *Deepgram {
	d := &Deepgram{
		apiKey:    apiKey,
		endpoint:  DefaultDeepgramURL,
		keepAlive: keepAliveInterval,
		dialer:    &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// buildURL encodes the recognition config as query parameters
func (d *Deepgram) buildURL(cfg Config) (string, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid deepgram endpoint: %w", err)
	}

	q := u.Query()
	if cfg.Model != "" {
		q.Set("model", cfg.Model)
	}
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	q.Set("smart_format", strconv.FormatBool(cfg.SmartFormat))
	if cfg.Encoding != "" {
		q.Set("encoding", cfg.Encoding)
		q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
		if cfg.Channels > 0 {
			q.Set("channels", strconv.Itoa(cfg.Channels))
		}
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Connect dials the listen endpoint. The returned connection emits EventOpened first
func (d *Deepgram) Connect(ctx context.Context, cfg Config) (Connection, error) {
	endpoint, err := d.buildURL(cfg)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+d.apiKey)

	conn, resp, err := d.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to deepgram (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to deepgram: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	c := &deepgramConn{
		conn:   conn,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
		log:    logging.L("deepgram"),
	}
	c.events <- Event{Kind: EventOpened}

	go c.readPump()
	if d.keepAlive > 0 {
		go c.keepAlivePump(d.keepAlive)
	}

	return c, nil
}

// controlMessage is a client to server JSON message
type controlMessage struct {
	Type string `json:"type"`
}

// serverMessage is the envelope shared by every server message. Results bodies
// are decoded into the SDK's listen response type
type serverMessage struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

type deepgramConn struct {
	conn *websocket.Conn
	log  *zap.Logger

	writeMu sync.Mutex

	events chan Event
	done   chan struct{}

	finishOnce sync.Once
	finishErr  error
	closeOnce  sync.Once
	closing    atomic.Bool
}

func (c *deepgramConn) Events() <-chan Event {
	return c.events
}

func (c *deepgramConn) Send(chunk []byte) error {
	select {
	case <-c.done:
		return errors.New("deepgram connection closed")
	default:
	}

	return c.write(websocket.BinaryMessage, chunk)
}

func (c *deepgramConn) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

func (c *deepgramConn) writeControl(msgType string) error {
	b, err := json.Marshal(controlMessage{Type: msgType})
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, b)
}

// Finish sends CloseStream and waits for the server to flush and close
func (c *deepgramConn) Finish(ctx context.Context) error {
	c.finishOnce.Do(func() {
		select {
		case <-c.done:
			return
		default:
		}

		if err := c.writeControl("CloseStream"); err != nil {
			c.finishErr = fmt.Errorf("failed to send CloseStream: %w", err)
			c.close()
			return
		}

		select {
		case <-c.done:
		case <-ctx.Done():
			c.finishErr = ctx.Err()
			c.close()
			<-c.done
		}
	})
	return c.finishErr
}

func (c *deepgramConn) close() {
	c.closeOnce.Do(func() {
		c.closing.Store(true)

		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
}

func (c *deepgramConn) readPump() {
	defer func() {
		c.close()
		c.events <- Event{Kind: EventClosed}
		close(c.events)
		close(c.done)
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.closing.Load() {
				c.events <- Event{Kind: EventError, Err: fmt.Errorf("deepgram stream error: %w", err)}
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("failed to decode deepgram message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case "Results":
			var res listenapi.MessageResponse
			if err := json.Unmarshal(data, &res); err != nil {
				c.log.Warn("failed to decode deepgram results", zap.Error(err))
				continue
			}
			if ev, ok := resultEvent(&res); ok {
				c.events <- ev
			}
		case "Error":
			reason := msg.Description
			if reason == "" {
				reason = msg.Message
			}
			c.events <- Event{Kind: EventError, Err: fmt.Errorf("deepgram error: %s", reason)}
		case "Metadata", "UtteranceEnd", "SpeechStarted":
			c.log.Debug("deepgram event received", zap.String("type", msg.Type))
		default:
			c.log.Debug("ignoring deepgram message", zap.String("type", msg.Type))
		}
	}
}

// resultEvent turns a Results message into a fragment from its top alternative
func resultEvent(res *listenapi.MessageResponse) (Event, bool) {
	if len(res.Channel.Alternatives) == 0 {
		return Event{}, false
	}
	return Event{
		Kind:    EventFragment,
		Text:    res.Channel.Alternatives[0].Transcript,
		IsFinal: res.IsFinal,
	}, true
}

func (c *deepgramConn) keepAlivePump(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.writeControl("KeepAlive"); err != nil {
				c.log.Debug("failed to send keepalive", zap.Error(err))
				return
			}
		}
	}
}
