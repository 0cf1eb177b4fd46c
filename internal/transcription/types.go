package transcription

import (
	"context"
	"errors"
	"time"
)

// ErrSetupFailed wraps any failure to open a transcription session
var ErrSetupFailed = errors.New("transcription setup failed")

// Source tags which capture a transcript came from
type Source string

const (
	SourceScreen     Source = "screen"
	SourceMicrophone Source = "microphone"
)

// EventKind enumerates the events a backend connection produces
type EventKind int

const (
	EventOpened EventKind = iota
	EventFragment
	EventError
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventFragment:
		return "fragment"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is a tagged variant; only the fields of its Kind are set
type Event struct {
	Kind EventKind

	// EventFragment
	Text    string
	IsFinal bool

	// EventError
	Err error
}

// Config is the recognition setup sent to the backend when connecting
type Config struct {
	Model       string
	Language    string
	SmartFormat bool

	// Raw audio description, empty for containerized audio
	Encoding   string
	SampleRate int
	Channels   int
}

// Connection is one live streaming connection to a backend. Events is closed
// after the final EventClosed
type Connection interface {
	Events() <-chan Event
	Send(chunk []byte) error
	Finish(ctx context.Context) error
}

// Backend opens streaming connections
type Backend interface {
	Connect(ctx context.Context, cfg Config) (Connection, error)
}

// Options are the fixed recognition parameters shared by every session
type Options struct {
	Model         string
	Language      string
	SmartFormat   bool
	ChunkInterval time.Duration
}

// Sink receives a session's output. Callbacks may run on the session's goroutines
type Sink struct {
	OnFinal func(source Source, text string)
	OnError func(source Source, err error)
}
