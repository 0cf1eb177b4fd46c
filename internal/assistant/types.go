package assistant

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethanbaker/meeting-assistant/internal/answer"
)

// Phase is the position of the controller in its recording lifecycle
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseStarting  Phase = "starting"
	PhaseRecording Phase = "recording"
	PhaseStopping  Phase = "stopping"
)

var (
	// ErrAlreadyActive is returned by Start outside of the idle phase
	ErrAlreadyActive = errors.New("a recording session is already active")

	// ErrTeardown wraps the errors collected while stopping a session
	ErrTeardown = errors.New("recording teardown incomplete")

	// ErrClosed is returned once the controller has been closed
	ErrClosed = errors.New("assistant is closed")
)

// Error banner texts
const (
	bannerStart         = "Failed to start recording: "
	bannerTranscription = "Transcription service error"
	bannerStop          = "Failed to stop recording properly"
)

// Snapshot is a consistent copy of everything the controller exposes
type Snapshot struct {
	Phase                Phase
	Elapsed              int
	ElapsedDisplay       string
	Error                string
	ScreenTranscript     string
	MicrophoneTranscript string
	Chat                 []answer.Entry
	Processing           bool
}

// Recording reports whether a session is active
func (s Snapshot) Recording() bool {
	return s.Phase == PhaseRecording
}

// FormatElapsed renders seconds as "MM : SS"; minutes are not capped
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d : %02d", seconds/60, seconds%60)
}

// Ticker abstracts time.Ticker for the elapsed counter
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates a Ticker firing every d
type TickerFunc func(d time.Duration) Ticker

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func newRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}
