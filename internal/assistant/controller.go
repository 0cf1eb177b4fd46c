package assistant

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ethanbaker/meeting-assistant/internal/answer"
	"github.com/ethanbaker/meeting-assistant/internal/capture"
	"github.com/ethanbaker/meeting-assistant/internal/logging"
	"github.com/ethanbaker/meeting-assistant/internal/questions"
	"github.com/ethanbaker/meeting-assistant/internal/transcription"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const subscriberBuffer = 16

// Dependencies are the external collaborators of the controller
type Dependencies struct {
	Device      capture.Device
	Transcriber transcription.Backend
	Answerer    answer.Backend
	Options     transcription.Options

	// RecordSink receives the combined screen stream; nil discards it
	RecordSink io.Writer

	CaptureOptions []capture.ManagerOption
}

// Option customizes a Controller
type Option func(*Controller)

// WithTicker replaces the one-second ticker driving the elapsed counter
func WithTicker(fn TickerFunc) Option {
	return func(c *Controller) { c.newTicker = fn }
}

// WithLogger sets the controller logger
func WithLogger(log *zap.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// Controller wires capture, the two transcription sessions, question extraction
// and answering together, and owns all session state
type Controller struct {
	capture     *capture.Manager
	transcriber transcription.Backend
	opts        transcription.Options
	recordSink  io.Writer
	extractor   *questions.Extractor
	chat        *answer.ChatLog
	dispatcher  *answer.Dispatcher
	newTicker   TickerFunc
	log         *zap.Logger

	// asks outlive recording sessions; only Close cancels them
	askCtx    context.Context
	askCancel context.CancelFunc
	asks      sync.WaitGroup

	mu          sync.Mutex
	phase       Phase
	elapsed     int
	errMsg      string
	transcripts map[transcription.Source][]string
	recorder    *capture.Recorder
	sessions    []*transcription.Session
	stopTimer   chan struct{}
	timerDone   chan struct{}
	closed      bool

	subMu      sync.Mutex
	subs       map[chan Snapshot]struct{}
	subsClosed bool
}

// New creates an idle controller
func New(deps Dependencies, opts ...Option) *Controller {
	askCtx, askCancel := context.WithCancel(context.Background())

	c := &Controller{
		capture:     capture.NewManager(deps.Device, deps.CaptureOptions...),
		transcriber: deps.Transcriber,
		opts:        deps.Options,
		recordSink:  deps.RecordSink,
		extractor:   questions.NewExtractor(),
		chat:        answer.NewChatLog(),
		newTicker:   newRealTicker,
		log:         logging.L("assistant"),
		askCtx:      askCtx,
		askCancel:   askCancel,
		phase:       PhaseIdle,
		transcripts: newTranscripts(),
		subs:        make(map[chan Snapshot]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.dispatcher = answer.NewDispatcher(deps.Answerer, c.chat, answer.WithOnChange(c.notify))

	return c
}

func newTranscripts() map[transcription.Source][]string {
	return map[transcription.Source][]string{
		transcription.SourceScreen:     nil,
		transcription.SourceMicrophone: nil,
	}
}

// Start begins a recording session: capture, then the screen and microphone
// transcription sessions. Any failure releases what was acquired and leaves the
// controller idle with the error banner set
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	c.phase = PhaseStarting
	c.errMsg = ""
	c.elapsed = 0
	c.transcripts = newTranscripts()
	c.mu.Unlock()

	c.chat.Reset()
	c.notify()

	streams, err := c.capture.Start(ctx)
	if err != nil {
		return c.abortStart(err)
	}

	rec := capture.NewRecorder(streams.Combined, c.recordSink)
	rec.Start()

	sink := transcription.Sink{OnFinal: c.onFinal, OnError: c.onStreamError}

	screen, err := transcription.Open(ctx, c.transcriber, streams.ScreenAudio, transcription.SourceScreen, c.opts, sink)
	if err != nil {
		c.release(ctx, rec, nil)
		return c.abortStart(err)
	}

	mic, err := transcription.Open(ctx, c.transcriber, streams.Microphone, transcription.SourceMicrophone, c.opts, sink)
	if err != nil {
		c.release(ctx, rec, []*transcription.Session{screen})
		return c.abortStart(err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.release(ctx, rec, []*transcription.Session{screen, mic})
		c.setIdle("")
		return ErrClosed
	}
	c.phase = PhaseRecording
	c.recorder = rec
	c.sessions = []*transcription.Session{screen, mic}
	c.stopTimer, c.timerDone = c.startTimer()
	c.mu.Unlock()

	c.log.Info("recording started")
	c.notify()

	return nil
}

// abortStart returns to idle with the start failure as the banner
func (c *Controller) abortStart(err error) error {
	c.log.Error("failed to start recording", zap.Error(err))
	c.setIdle(bannerStart + err.Error())
	return err
}

func (c *Controller) setIdle(banner string) {
	c.mu.Lock()
	c.phase = PhaseIdle
	c.elapsed = 0
	if banner != "" {
		c.errMsg = banner
	}
	c.mu.Unlock()
	c.notify()
}

// release tears down partially acquired resources in reverse order
func (c *Controller) release(ctx context.Context, rec *capture.Recorder, sessions []*transcription.Session) {
	err := rec.Stop()
	for _, s := range sessions {
		err = multierr.Append(err, s.Close(ctx))
	}
	err = multierr.Append(err, c.capture.Stop())

	if err != nil {
		c.log.Warn("failed to release partial session", zap.Error(err))
	}
}

// Stop ends the recording session. Stop outside of the recording phase is a
// no-op. Teardown errors set the banner but the controller always returns to idle
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseRecording {
		c.mu.Unlock()
		return nil
	}
	c.phase = PhaseStopping
	rec, sessions := c.recorder, c.sessions
	stopTimer, timerDone := c.stopTimer, c.timerDone
	c.recorder, c.sessions = nil, nil
	c.stopTimer, c.timerDone = nil, nil
	c.mu.Unlock()
	c.notify()

	err := rec.Stop()
	for _, s := range sessions {
		err = multierr.Append(err, s.Close(ctx))
	}

	close(stopTimer)
	<-timerDone

	err = multierr.Append(err, c.capture.Stop())

	if err != nil {
		c.log.Error("failed to stop recording cleanly", zap.Error(err))
		c.setIdle(bannerStop)
		return fmt.Errorf("%w: %w", ErrTeardown, err)
	}

	c.log.Info("recording stopped")
	c.setIdle("")
	return nil
}

// Clear empties both transcripts and the chat log. Answers still in flight
// for the cleared chat are discarded
func (c *Controller) Clear() {
	c.mu.Lock()
	c.transcripts = newTranscripts()
	c.mu.Unlock()

	c.chat.Reset()
	c.notify()
}

// Close tears down any active session, cancels in-flight answers and closes
// all subscriptions
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.Stop(ctx)

	c.askCancel()
	done := make(chan struct{})
	go func() {
		c.asks.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = multierr.Append(err, fmt.Errorf("failed to wait for pending answers: %w", ctx.Err()))
	}

	c.subMu.Lock()
	for ch := range c.subs {
		close(ch)
	}
	c.subs = make(map[chan Snapshot]struct{})
	c.subsClosed = true
	c.subMu.Unlock()

	return err
}

// Ask answers a question outside of transcription, e.g. typed by the user
func (c *Controller) Ask(ctx context.Context, question, source string) string {
	return c.dispatcher.Ask(ctx, question, source)
}

func (c *Controller) onFinal(source transcription.Source, text string) {
	c.mu.Lock()
	c.transcripts[source] = append(c.transcripts[source], text)
	c.mu.Unlock()
	c.notify()

	candidates := c.extractor.Feed(text, string(source))
	if len(candidates) == 0 {
		return
	}

	// Registering under c.mu orders every Add before the Wait in Close
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.log.Debug("controller closed, not answering", zap.Int("questions", len(candidates)))
		return
	}
	c.asks.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.asks.Done()
		for _, cand := range candidates {
			c.dispatcher.Ask(c.askCtx, cand.Text, cand.Source)
		}
	}()
}

func (c *Controller) onStreamError(source transcription.Source, err error) {
	c.mu.Lock()
	c.errMsg = bannerTranscription
	c.mu.Unlock()
	c.notify()
}

// startTimer runs the elapsed counter; the caller holds c.mu
func (c *Controller) startTimer() (chan struct{}, chan struct{}) {
	stop := make(chan struct{})
	done := make(chan struct{})
	ticker := c.newTicker(time.Second)

	go func() {
		defer close(done)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C():
				c.mu.Lock()
				if c.phase == PhaseRecording {
					c.elapsed++
				}
				c.mu.Unlock()
				c.notify()
			}
		}
	}()

	return stop, done
}

// Snapshot returns the current state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		Phase:                c.phase,
		Elapsed:              c.elapsed,
		ElapsedDisplay:       FormatElapsed(c.elapsed),
		Error:                c.errMsg,
		ScreenTranscript:     strings.Join(c.transcripts[transcription.SourceScreen], " "),
		MicrophoneTranscript: strings.Join(c.transcripts[transcription.SourceMicrophone], " "),
	}
	c.mu.Unlock()

	snap.Chat = c.chat.Entries()
	snap.Processing = c.dispatcher.Processing()
	return snap
}

// Subscribe returns a channel receiving a snapshot after every state change.
// Slow subscribers miss intermediate snapshots. Call cancel to unsubscribe
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)

	c.subMu.Lock()
	if c.subsClosed {
		close(ch)
		c.subMu.Unlock()
		return ch, func() {}
	}
	c.subs[ch] = struct{}{}
	c.subMu.Unlock()

	cancel := func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

func (c *Controller) notify() {
	c.subMu.Lock()
	empty := len(c.subs) == 0
	c.subMu.Unlock()
	if empty {
		return
	}

	snap := c.Snapshot()

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}
