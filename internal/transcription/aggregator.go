package transcription

import (
	"strings"
	"sync"

	"talkpartner/internal/domain"
)

// aggregator folds provider segments into the running utterance. Final
// segments are kept; the latest interim segment is appended after them until
// the provider finalizes it.
type aggregator struct {
	mu      sync.Mutex
	finals  []string
	interim string
}

func newAggregator() *aggregator {
	return &aggregator{}
}

// Add records one provider event and reports the resulting update. ok is
// false when the event carried no text.
func (a *aggregator) Add(event domain.TranscriptEvent) (domain.TranscriptUpdate, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	text := strings.TrimSpace(event.Text)
	if text == "" {
		return domain.TranscriptUpdate{}, false
	}

	partial := event.Kind != domain.TranscriptKindFinal
	if partial {
		a.interim = text
	} else {
		a.finals = append(a.finals, text)
		a.interim = ""
	}
	return domain.TranscriptUpdate{Partial: partial, Text: a.runningLocked()}, true
}

// Text returns the utterance captured so far.
func (a *aggregator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runningLocked()
}

func (a *aggregator) runningLocked() string {
	parts := make([]string, 0, len(a.finals)+1)
	parts = append(parts, a.finals...)
	if a.interim != "" {
		parts = append(parts, a.interim)
	}
	return strings.Join(parts, " ")
}
