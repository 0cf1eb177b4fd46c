package transcription

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ethanbaker/meeting-assistant/internal/capture"
	"github.com/ethanbaker/meeting-assistant/internal/logging"
	"go.uber.org/zap"
)

// State is the lifecycle position of a Session
type State int

const (
	StateUnopened State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	defaultChunkInterval = 200 * time.Millisecond
	containerReadSize    = 32 * 1024
)

// Session streams one audio source to a backend and reports final text.
// Audio is forwarded only while the session is Open
type Session struct {
	source    Source
	conn      Connection
	audio     io.ReadCloser
	chunkSize int
	sink      Sink
	log       *zap.Logger

	mu         sync.Mutex
	state      State
	forwarding bool
	sent       int

	forwardDone chan struct{}
	loopDone    chan struct{}
}

// Open connects to the backend for the first audio track of stream. Audio
// forwarding starts when the backend reports the connection open
func Open(ctx context.Context, backend Backend, stream *capture.Stream, source Source, opts Options, sink Sink) (*Session, error) {
	tracks := stream.AudioTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: %s stream has no audio track", ErrSetupFailed, source)
	}
	track := tracks[0]

	cfg := Config{
		Model:       opts.Model,
		Language:    opts.Language,
		SmartFormat: opts.SmartFormat,
		Encoding:    track.Format.Encoding,
		SampleRate:  track.Format.SampleRate,
		Channels:    track.Format.Channels,
	}

	conn, err := backend.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect %s transcription: %w", ErrSetupFailed, source, err)
	}

	s := &Session{
		source:      source,
		conn:        conn,
		audio:       track.Subscribe(capture.Lossless()),
		chunkSize:   chunkSize(track.Format, opts.ChunkInterval),
		sink:        sink,
		log:         logging.L("transcription").With(zap.String("source", string(source))),
		forwardDone: make(chan struct{}),
		loopDone:    make(chan struct{}),
	}

	go s.loop()

	return s, nil
}

// chunkSize returns the byte size of one interval of raw audio, or 0 when the
// audio is containerized and chunk boundaries come from the producer
func chunkSize(format capture.AudioFormat, interval time.Duration) int {
	if !format.IsRaw() || format.SampleRate <= 0 {
		return 0
	}
	if interval <= 0 {
		interval = defaultChunkInterval
	}

	channels := format.Channels
	if channels <= 0 {
		channels = 1
	}

	size := int(int64(format.SampleRate) * int64(channels) * 2 * interval.Milliseconds() / 1000)
	if size < 2 {
		size = 2
	}
	return size
}

// Source returns the capture this session transcribes
func (s *Session) Source() Source {
	return s.source
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ChunksSent returns the number of audio chunks handed to the connection
func (s *Session) ChunksSent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

func (s *Session) loop() {
	defer close(s.loopDone)

	for ev := range s.conn.Events() {
		s.handle(ev)
	}
}

func (s *Session) handle(ev Event) {
	switch ev.Kind {
	case EventOpened:
		s.mu.Lock()
		if s.state != StateUnopened {
			s.mu.Unlock()
			return
		}
		s.state = StateOpen
		s.forwarding = true
		s.mu.Unlock()

		s.log.Info("transcription connection opened")
		go s.forward()

	case EventFragment:
		if !ev.IsFinal {
			return
		}
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return
		}
		if s.State() == StateUnopened {
			s.log.Warn("dropping fragment received before open")
			return
		}
		if s.sink.OnFinal != nil {
			s.sink.OnFinal(s.source, text)
		}

	case EventError:
		s.log.Error("transcription stream error", zap.Error(ev.Err))
		if s.sink.OnError != nil {
			s.sink.OnError(s.source, ev.Err)
		}

	case EventClosed:
		s.log.Info("transcription connection closed")

	default:
		s.log.Warn("ignoring unknown transcription event", zap.Stringer("kind", ev.Kind))
	}
}

// forward reads audio and sends it in chunks until the audio ends or the session closes
func (s *Session) forward() {
	defer close(s.forwardDone)

	size := s.chunkSize
	if size == 0 {
		size = containerReadSize
	}
	buf := make([]byte, size)

	for {
		var n int
		var err error
		if s.chunkSize > 0 {
			n, err = io.ReadFull(s.audio, buf)
		} else {
			n, err = s.audio.Read(buf)
		}

		if n > 0 {
			sent, sendErr := s.send(buf[:n])
			if sendErr != nil {
				s.log.Error("failed to forward audio", zap.Error(sendErr))
				if s.sink.OnError != nil {
					s.sink.OnError(s.source, sendErr)
				}
				return
			}
			if !sent {
				return
			}
		}

		if err != nil {
			return
		}
	}
}

// send forwards one chunk if the session is still open. The lock is held across
// the write so Close cannot interleave with an in-flight chunk
func (s *Session) send(chunk []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return false, nil
	}
	if err := s.conn.Send(chunk); err != nil {
		return false, err
	}
	s.sent++
	return true, nil
}

// Close ends the audio stream, waits for the backend to acknowledge, then stops
// local chunking. It is safe on a session whose connection never opened
func (s *Session) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	forwarding := s.forwarding
	s.mu.Unlock()

	var err error
	if finishErr := s.conn.Finish(ctx); finishErr != nil {
		err = fmt.Errorf("failed to finish %s transcription: %w", s.source, finishErr)
	}

	_ = s.audio.Close()
	if forwarding {
		<-s.forwardDone
	}

	select {
	case <-s.loopDone:
	case <-ctx.Done():
		if err == nil {
			err = fmt.Errorf("failed to drain %s transcription events: %w", s.source, ctx.Err())
		}
	}

	return err
}
