package questions

import (
	"regexp"
	"strings"
	"sync"
)

var (
	sentenceBreak = regexp.MustCompile(`[.!?]+`)

	// Lead words match as a prefix, so "Isabel..." counts the same as "Is..."
	leadWord = regexp.MustCompile(`(?i)^(what|who|where|when|why|how|can|could|would|should|is|are|do|does|did)`)
)

// Candidate is a sentence that passed question detection and was not suppressed
type Candidate struct {
	Text   string
	Source string
}

// Split breaks text into trimmed, non-empty sentences on runs of . ! ?
func Split(text string) []string {
	var sentences []string
	for _, part := range sentenceBreak.Split(text, -1) {
		if part = strings.TrimSpace(part); part != "" {
			sentences = append(sentences, part)
		}
	}
	return sentences
}

// IsQuestion reports whether a sentence ends with '?' or opens with an
// interrogative lead word
func IsQuestion(sentence string) bool {
	s := strings.TrimSpace(sentence)
	if s == "" {
		return false
	}
	return strings.HasSuffix(s, "?") || leadWord.MatchString(s)
}

// Extractor turns final transcript text into question candidates, suppressing a
// candidate identical to the most recently dispatched one
type Extractor struct {
	mu   sync.Mutex
	last string
}

// NewExtractor creates an extractor with an empty last-question marker
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Feed returns the candidates in text, in order. The marker is updated for each
// returned candidate before the next sentence is considered
func (e *Extractor) Feed(text, source string) []Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Candidate
	for _, sentence := range Split(text) {
		if !IsQuestion(sentence) || sentence == e.last {
			continue
		}
		e.last = sentence
		out = append(out, Candidate{Text: sentence, Source: source})
	}
	return out
}

// Last returns the most recently dispatched question
func (e *Extractor) Last() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}
