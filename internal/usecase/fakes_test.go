package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"talkpartner/internal/domain"
	"talkpartner/internal/ports"
)

type fakeSource struct {
	mu            sync.Mutex
	subscriptions []*fakeSubscription
	err           error
	calls         int
}

func (f *fakeSource) Subscribe(_ context.Context) (ports.TranscriptSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.subscriptions) {
		return nil, errors.New("no subscription configured")
	}
	sub := f.subscriptions[f.calls]
	f.calls++
	return sub, nil
}

type fakeSubscription struct {
	updates chan domain.TranscriptUpdate

	mu        sync.Mutex
	stopCalls int
	closed    bool
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{updates: make(chan domain.TranscriptUpdate, 16)}
}

func (f *fakeSubscription) Updates() <-chan domain.TranscriptUpdate { return f.updates }

func (f *fakeSubscription) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	if !f.closed {
		close(f.updates)
		f.closed = true
	}
	return nil
}

func (f *fakeSubscription) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type fakeCorrector struct {
	mu     sync.Mutex
	result domain.Correction
	errs   []error
	inputs []string
}

func (f *fakeCorrector) Correct(_ context.Context, utterance string) (domain.Correction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, utterance)
	if len(f.errs) > 0 {
		err := f.errs[0]
		if len(f.errs) > 1 {
			f.errs = f.errs[1:]
		}
		if err != nil {
			return domain.Correction{}, err
		}
	}
	return f.result, nil
}

func (f *fakeCorrector) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

type fakeResponder struct {
	mu       sync.Mutex
	reply    domain.Reply
	err      error
	requests []ports.DialogueRequest
}

func (f *fakeResponder) Respond(_ context.Context, req ports.DialogueRequest) (domain.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return domain.Reply{}, f.err
	}
	return f.reply, nil
}

func (f *fakeResponder) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeSynthesizer struct {
	mu     sync.Mutex
	audio  []byte
	err    error
	texts  []string
	before func()
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	before := f.before
	f.mu.Unlock()
	if before != nil {
		before()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.audio, nil
}

func (f *fakeSynthesizer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

type fakeEventSink struct {
	mu sync.Mutex

	statuses []domain.Status
	partials []string
	appended []indexedMessage
	updated  []indexedMessage
	errors   []errEvent
}

type indexedMessage struct {
	index   int
	message domain.Message
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) StatusChanged(status domain.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
}

func (f *fakeEventSink) PartialTranscript(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partials = append(f.partials, text)
}

func (f *fakeEventSink) MessageAppended(index int, message domain.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, indexedMessage{index: index, message: message})
}

func (f *fakeEventSink) MessageUpdated(index int, message domain.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, indexedMessage{index: index, message: message})
}

func (f *fakeEventSink) TurnError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStatuses() []domain.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Status, len(f.statuses))
	copy(out, f.statuses)
	return out
}

func (f *fakeEventSink) snapshotPartials() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.partials))
	copy(out, f.partials)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}

func (f *fakeEventSink) snapshotUpdated() []indexedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]indexedMessage, len(f.updated))
	copy(out, f.updated)
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func (s *sleepRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delays)
}
