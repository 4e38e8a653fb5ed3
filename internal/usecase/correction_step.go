package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"talkpartner/internal/domain"
	"talkpartner/internal/ports"
	"talkpartner/internal/retry"
)

// StepConfig bounds one step's retry loop.
type StepConfig struct {
	Attempts int
	Delay    time.Duration
}

// CorrectionStep sends the committed utterance to the correction service.
// Only rate-limit responses are retried; any other error is returned as-is.
type CorrectionStep struct {
	corrector ports.Corrector
	policy    retry.Policy
}

func NewCorrectionStep(corrector ports.Corrector, cfg StepConfig, logger *zap.Logger) *CorrectionStep {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CorrectionStep{
		corrector: corrector,
		policy: retry.Policy{
			Attempts: cfg.Attempts,
			Delay:    cfg.Delay,
			Retryable: func(err error) bool {
				return errors.Is(err, domain.ErrRateLimited)
			},
			OnRetry: func(attempt int, err error) {
				logger.Warn("correction rate limited, retrying",
					zap.Int("attempt", attempt),
					zap.Int("max_attempts", cfg.Attempts),
					zap.Duration("delay", cfg.Delay),
					zap.Error(err),
				)
			},
		},
	}
}

func (s *CorrectionStep) Correct(ctx context.Context, utterance string) (domain.Correction, error) {
	return retry.Do(ctx, s.policy, func(ctx context.Context) (domain.Correction, error) {
		return s.corrector.Correct(ctx, utterance)
	})
}
