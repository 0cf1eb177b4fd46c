package answer

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind is the role of a chat entry
type Kind string

const (
	KindQuestion Kind = "question"
	KindAnswer   Kind = "answer"
)

// Entry is one immutable line of the chat feed
type Entry struct {
	ID        uuid.UUID
	Kind      Kind
	Text      string
	Source    string // only set on questions
	Timestamp time.Time
}

// ChatLog is the append-only question/answer feed. Each Reset starts a new
// generation; exchanges begun under an older generation are discarded
type ChatLog struct {
	mu         sync.RWMutex
	entries    []Entry
	generation uint64
	now        func() time.Time
}

// NewChatLog creates an empty chat log
func NewChatLog() *ChatLog {
	return &ChatLog{now: time.Now}
}

// Generation returns the current generation token
func (l *ChatLog) Generation() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.generation
}

// Reset empties the log and returns the new generation
func (l *ChatLog) Reset() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = nil
	l.generation++
	return l.generation
}

// AppendExchange appends a question immediately followed by its answer, unless
// gen is stale. It reports whether the exchange was kept
func (l *ChatLog) AppendExchange(gen uint64, question, answer, source string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if gen != l.generation {
		return false
	}

	now := l.now()
	l.entries = append(l.entries,
		Entry{ID: uuid.New(), Kind: KindQuestion, Text: question, Source: source, Timestamp: now},
		Entry{ID: uuid.New(), Kind: KindAnswer, Text: answer, Timestamp: now},
	)
	return true
}

// Entries returns a copy of the log in order
func (l *ChatLog) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// Len returns the number of entries
func (l *ChatLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
