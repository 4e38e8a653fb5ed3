package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"talkpartner/internal/domain"
	"talkpartner/internal/ports"
	"talkpartner/internal/prompts"
	"talkpartner/internal/retry"
)

// ResponseStep asks the dialogue service for the partner's next line. Every
// error is retried until the attempt budget runs out.
type ResponseStep struct {
	responder ports.Responder
	policy    retry.Policy
}

func NewResponseStep(responder ports.Responder, cfg StepConfig, logger *zap.Logger) *ResponseStep {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResponseStep{
		responder: responder,
		policy: retry.Policy{
			Attempts: cfg.Attempts,
			Delay:    cfg.Delay,
			OnRetry: func(attempt int, err error) {
				logger.Warn("dialogue call failed, retrying",
					zap.Int("attempt", attempt),
					zap.Int("max_attempts", cfg.Attempts),
					zap.Duration("delay", cfg.Delay),
					zap.Error(err),
				)
			},
		},
	}
}

func (s *ResponseStep) Respond(ctx context.Context, situation string, history []domain.Message) (domain.Reply, error) {
	instructions, err := prompts.PartnerInstructions(situation)
	if err != nil {
		return domain.Reply{}, fmt.Errorf("render partner instructions: %w", err)
	}
	req := ports.DialogueRequest{
		Instructions: instructions,
		Utterances:   toUtterances(history),
	}

	return retry.Do(ctx, s.policy, func(ctx context.Context) (domain.Reply, error) {
		return s.responder.Respond(ctx, req)
	})
}

func toUtterances(history []domain.Message) []domain.Utterance {
	out := make([]domain.Utterance, 0, len(history))
	for _, message := range history {
		role := domain.RoleAssistant
		if message.IsUser() {
			role = domain.RoleUser
		}
		out = append(out, domain.Utterance{Role: role, Text: message.Text})
	}
	return out
}
