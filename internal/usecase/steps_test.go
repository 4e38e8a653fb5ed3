package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"talkpartner/internal/domain"
	"talkpartner/internal/retry"
)

func TestCorrectionStepDefaultsToThreeAttempts(t *testing.T) {
	t.Parallel()

	corrector := &fakeCorrector{errs: []error{domain.ErrRateLimited}}
	step := NewCorrectionStep(corrector, StepConfig{Delay: time.Second}, nil)
	sleeps := &sleepRecorder{}
	step.policy.Sleep = sleeps.Sleep

	_, err := step.Correct(context.Background(), "hi")
	if !errors.Is(err, retry.ErrRetryLimitExceeded) || !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected exhausted rate limit error, got %v", err)
	}
	if corrector.calls() != 3 {
		t.Fatalf("expected 3 attempts, got %d", corrector.calls())
	}
	if sleeps.count() != 2 {
		t.Fatalf("expected 2 waits, got %d", sleeps.count())
	}
}

func TestResponseStepRetriesAnyError(t *testing.T) {
	t.Parallel()

	responder := &fakeResponder{err: errors.New("bad gateway")}
	step := NewResponseStep(responder, StepConfig{Delay: time.Second}, nil)
	sleeps := &sleepRecorder{}
	step.policy.Sleep = sleeps.Sleep

	_, err := step.Respond(context.Background(), "a coffee shop", nil)
	if !errors.Is(err, retry.ErrRetryLimitExceeded) {
		t.Fatalf("expected retry limit error, got %v", err)
	}
	if responder.calls() != 5 {
		t.Fatalf("expected 5 attempts, got %d", responder.calls())
	}
	if sleeps.count() != 4 {
		t.Fatalf("expected 4 waits, got %d", sleeps.count())
	}
}

func TestResponseStepBuildsDialogueRequest(t *testing.T) {
	t.Parallel()

	responder := &fakeResponder{reply: domain.Reply{Text: "ok"}}
	step := NewResponseStep(responder, StepConfig{Attempts: 1}, nil)

	history := []domain.Message{
		domain.NewUserMessage("Hello there.", "hello there", "", nil),
		domain.NewSystemMessage("Hi! Where are you headed?", domain.Usage{}),
		domain.NewUserMessage("To the hotel.", "to hotel", "", nil),
	}
	if _, err := step.Respond(context.Background(), "We meet at a taxi stand.", history); err != nil {
		t.Fatalf("respond failed: %v", err)
	}

	req := responder.requests[0]
	if !strings.Contains(req.Instructions, "We meet at a taxi stand.") {
		t.Fatalf("instructions must carry the situation: %q", req.Instructions)
	}
	wantRoles := []domain.Role{domain.RoleUser, domain.RoleAssistant, domain.RoleUser}
	if len(req.Utterances) != len(wantRoles) {
		t.Fatalf("unexpected utterances: %+v", req.Utterances)
	}
	for i, role := range wantRoles {
		if req.Utterances[i].Role != role || req.Utterances[i].Text != history[i].Text {
			t.Fatalf("utterance %d: got %+v", i, req.Utterances[i])
		}
	}
}
