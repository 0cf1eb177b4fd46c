package capture

import (
	"io"
	"sync"

	"github.com/ethanbaker/meeting-assistant/internal/logging"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// TrackKind distinguishes the media carried by a track
type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

const (
	readBufferSize     = 32 * 1024
	subscriptionBuffer = 64
)

// AudioFormat describes raw PCM audio. A zero value means the track carries a
// self-describing container (webm/ogg) that the transcription backend detects itself
type AudioFormat struct {
	Encoding   string
	SampleRate int
	Channels   int
}

// IsRaw reports whether the format describes headerless PCM
func (f AudioFormat) IsRaw() bool {
	return f.Encoding != ""
}

// Track is a single media source. Its bytes are fanned out to every subscriber.
// A lossy subscriber that falls behind loses chunks; a lossless one holds the
// track back until it catches up
type Track struct {
	ID     string
	Kind   TrackKind
	Label  string
	Format AudioFormat

	src    io.ReadCloser
	onStop func() error

	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	pumping bool
	ended   bool

	stopOnce sync.Once
	stopErr  error
}

// TrackOption customizes a Track at construction
type TrackOption func(*Track)

// WithFormat sets the raw audio format of a track
func WithFormat(format AudioFormat) TrackOption {
	return func(t *Track) { t.Format = format }
}

// WithStopFunc runs fn when the track is stopped, before its source is closed
func WithStopFunc(fn func() error) TrackOption {
	return func(t *Track) { t.onStop = fn }
}

// WithID overrides the generated track ID
func WithID(id string) TrackOption {
	return func(t *Track) { t.ID = id }
}

// NewTrack wraps src as a track. Reading from src starts with the first subscriber
func NewTrack(kind TrackKind, label string, src io.ReadCloser, opts ...TrackOption) *Track {
	t := &Track{
		ID:    uuid.NewString(),
		Kind:  kind,
		Label: label,
		src:   src,
		subs:  make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SubscribeOption customizes a Subscription
type SubscribeOption func(*Subscription)

// Lossless makes the track wait for the subscriber when its buffer is full
// instead of dropping chunks
func Lossless() SubscribeOption {
	return func(s *Subscription) { s.lossless = true }
}

// Subscribe returns a reader over the track's bytes from this point on
func (t *Track) Subscribe(opts ...SubscribeOption) *Subscription {
	s := &Subscription{
		track:  t,
		chunks: make(chan []byte, subscriptionBuffer),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ended {
		close(s.chunks)
		return s
	}

	t.subs[s] = struct{}{}
	if !t.pumping {
		t.pumping = true
		go t.pump()
	}
	return s
}

// Stop halts the track and releases its source. Safe to call more than once
func (t *Track) Stop() error {
	t.stopOnce.Do(func() {
		if t.onStop != nil {
			t.stopErr = multierr.Append(t.stopErr, t.onStop())
		}
		t.stopErr = multierr.Append(t.stopErr, t.src.Close())

		// Without a running pump nobody else will end the subscriptions
		t.mu.Lock()
		if !t.pumping {
			t.endLocked()
		}
		t.mu.Unlock()
	})
	return t.stopErr
}

// Ended reports whether the track has stopped producing data
func (t *Track) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

func (t *Track) pump() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := t.src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			// Deliver outside the lock so a blocked lossless subscriber can still unsubscribe
			for _, s := range t.subscribers() {
				s.deliver(chunk)
			}
		}
		if err != nil {
			t.mu.Lock()
			t.endLocked()
			t.mu.Unlock()
			return
		}
	}
}

func (t *Track) subscribers() []*Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	subs := make([]*Subscription, 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	return subs
}

func (t *Track) endLocked() {
	if t.ended {
		return
	}
	t.ended = true
	for s := range t.subs {
		close(s.chunks)
	}
	t.subs = make(map[*Subscription]struct{})
}

func (t *Track) unsubscribe(s *Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, s)
}

// Subscription is one consumer's view of a track. It implements io.ReadCloser
type Subscription struct {
	track   *Track
	chunks  chan []byte
	done    chan struct{}
	pending  []byte
	once     sync.Once
	lossless bool

	dropMu  sync.Mutex
	dropped int
}

func (s *Subscription) deliver(chunk []byte) {
	if s.lossless {
		select {
		case s.chunks <- chunk:
		case <-s.done:
		}
		return
	}

	select {
	case s.chunks <- chunk:
	default:
		s.dropMu.Lock()
		s.dropped++
		dropped := s.dropped
		s.dropMu.Unlock()

		logging.L("capture").Warn("subscriber fell behind, dropped chunk",
			zap.String("track", s.track.Label),
			zap.Int("bytes", len(chunk)),
			zap.Int("dropped", dropped),
		)
	}
}

// Read returns buffered track bytes, blocking until data arrives, the track
// ends (io.EOF) or the subscription is closed (io.EOF)
func (s *Subscription) Read(p []byte) (int, error) {
	if len(s.pending) == 0 {
		select {
		case chunk, ok := <-s.chunks:
			if !ok {
				return 0, io.EOF
			}
			s.pending = chunk
		case <-s.done:
			return 0, io.EOF
		}
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Close detaches the subscription from its track
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.track.unsubscribe(s)
		close(s.done)
	})
	return nil
}

// Dropped returns how many chunks were discarded because the reader fell behind
func (s *Subscription) Dropped() int {
	s.dropMu.Lock()
	defer s.dropMu.Unlock()
	return s.dropped
}
