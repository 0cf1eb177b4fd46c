package answer

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/ethanbaker/meeting-assistant/internal/logging"
	"go.uber.org/zap"
)

// Fallback answers shown when the backend cannot produce one
const (
	EmptyAnswer   = "I apologize, but I couldn't process that question."
	FailureAnswer = "Sorry, I encountered an error processing your question."
)

// Backend is a generative-language service answering a single prompt
type Backend interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Dispatcher sends questions to a backend and records each exchange.
// Calls are not serialized; Processing is true while any call is in flight
type Dispatcher struct {
	backend  Backend
	chat     *ChatLog
	log      *zap.Logger
	inflight atomic.Int64
	onChange func()
}

// DispatcherOption customizes a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithOnChange registers a hook run whenever the processing state or chat log changes
func WithOnChange(fn func()) DispatcherOption {
	return func(d *Dispatcher) { d.onChange = fn }
}

// NewDispatcher creates a dispatcher writing into chat
func NewDispatcher(backend Backend, chat *ChatLog, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		backend: backend,
		chat:    chat,
		log:     logging.L("answer"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Processing reports whether an Ask is in flight
func (d *Dispatcher) Processing() bool {
	return d.inflight.Load() > 0
}

// Ask asks the backend and appends the question and its answer, or a fallback
// answer when the backend fails. The exchange is dropped only if the chat log
// was reset while the call was in flight
func (d *Dispatcher) Ask(ctx context.Context, question, source string) string {
	gen := d.chat.Generation()

	d.inflight.Add(1)
	d.notify()

	answer, err := d.backend.Generate(ctx, question)
	switch {
	case err != nil:
		d.log.Error("failed to answer question", zap.String("source", source), zap.Error(err))
		answer = err.Error()
		if strings.TrimSpace(answer) == "" {
			answer = FailureAnswer
		}
	case strings.TrimSpace(answer) == "":
		answer = EmptyAnswer
	}

	if !d.chat.AppendExchange(gen, question, answer, source) {
		d.log.Info("discarding answer from a cleared chat", zap.String("source", source))
	}

	d.inflight.Add(-1)
	d.notify()

	return answer
}

func (d *Dispatcher) notify() {
	if d.onChange != nil {
		d.onChange()
	}
}
