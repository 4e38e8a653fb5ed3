package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"talkpartner/internal/domain"
	"talkpartner/internal/history"
	"talkpartner/internal/ports"
)

var (
	ErrNotCapturing   = errors.New("no active capture")
	ErrTurnInProgress = errors.New("a conversation turn is already in progress")

	errDuplicateUserMessage = errors.New("user message already appended in this turn")
)

// Config controls the retry budgets of the turn pipeline.
type Config struct {
	Correction StepConfig
	Response   StepConfig
}

// TurnResult reports the messages a committed turn appended. System is nil
// when the dialogue step failed.
type TurnResult struct {
	User   domain.Message
	System *domain.Message
}

// TurnController drives one conversation turn at a time:
// Idle -> Capturing -> Processing -> Idle, with Capturing -> Idle on abort.
type TurnController struct {
	source     ports.TranscriptionSource
	correction *CorrectionStep
	response   *ResponseStep
	speech     ports.SpeechSynthesizer
	history    *history.Log
	events     ports.EventSink
	logger     *zap.Logger

	mu      sync.Mutex
	state   domain.TurnState
	capture *activeCapture
}

type activeCapture struct {
	subscription ports.TranscriptSubscription
	cancel       context.CancelFunc
	partial      string
	done         chan struct{}
}

func NewTurnController(
	source ports.TranscriptionSource,
	corrector ports.Corrector,
	responder ports.Responder,
	speech ports.SpeechSynthesizer,
	log *history.Log,
	events ports.EventSink,
	cfg Config,
	logger *zap.Logger,
) *TurnController {
	if log == nil {
		log = history.NewLog()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TurnController{
		source:     source,
		correction: NewCorrectionStep(corrector, cfg.Correction, logger),
		response:   NewResponseStep(responder, cfg.Response, logger),
		speech:     speech,
		history:    log,
		events:     events,
		logger:     logger,
		state:      domain.TurnStateIdle,
	}
}

// Start opens a transcription subscription and begins capturing.
func (c *TurnController) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != domain.TurnStateIdle {
		c.mu.Unlock()
		return ErrTurnInProgress
	}
	c.state = domain.TurnStateCapturing
	c.mu.Unlock()

	captureCtx, cancel := context.WithCancel(ctx)
	subscription, err := c.source.Subscribe(captureCtx)
	if err != nil {
		cancel()
		c.mu.Lock()
		c.state = domain.TurnStateIdle
		c.mu.Unlock()
		c.events.TurnError(domain.ErrorCodeCapture, err.Error())
		return fmt.Errorf("start capture: %w", err)
	}

	active := &activeCapture{
		subscription: subscription,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	c.mu.Lock()
	c.capture = active
	c.mu.Unlock()

	go c.consumeTranscript(active)

	c.events.StatusChanged(c.Status())
	return nil
}

// Commit takes the current partial transcript as the final utterance, stops
// capture and runs the turn pipeline to completion.
func (c *TurnController) Commit(ctx context.Context, setting domain.Setting) (TurnResult, error) {
	c.mu.Lock()
	active := c.capture
	if c.state != domain.TurnStateCapturing || active == nil {
		c.mu.Unlock()
		return TurnResult{}, ErrNotCapturing
	}
	utterance := active.partial
	c.capture = nil
	c.state = domain.TurnStateProcessing
	c.mu.Unlock()

	c.stopCapture(active)
	c.events.StatusChanged(c.Status())
	defer c.finish()

	return c.runTurn(ctx, utterance, setting)
}

// Abort discards the current capture without any network call.
func (c *TurnController) Abort() error {
	c.mu.Lock()
	active := c.capture
	if c.state != domain.TurnStateCapturing || active == nil {
		c.mu.Unlock()
		return ErrNotCapturing
	}
	c.capture = nil
	c.mu.Unlock()

	c.stopCapture(active)
	c.finish()
	return nil
}

// Reset truncates the history to its first index entries. An in-progress
// capture is discarded first; a processing turn rejects the reset.
func (c *TurnController) Reset(index int) error {
	if c.Status().State == domain.TurnStateCapturing {
		if err := c.Abort(); err != nil && !errors.Is(err, ErrNotCapturing) {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.TurnStateIdle {
		return ErrTurnInProgress
	}
	kept := c.history.Truncate(index)
	c.logger.Info("conversation reset", zap.Int("kept_messages", kept))
	return nil
}

// Status returns the current turn status.
func (c *TurnController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := domain.Status{State: c.state}
	if c.capture != nil {
		status.PartialText = c.capture.partial
	}
	return status
}

// Messages returns a copy of the conversation history.
func (c *TurnController) Messages() ([]domain.Message, error) {
	return c.history.Snapshot()
}

func (c *TurnController) consumeTranscript(active *activeCapture) {
	defer close(active.done)

	for update := range active.subscription.Updates() {
		c.mu.Lock()
		current := c.capture == active
		if current {
			active.partial = update.Text
		}
		c.mu.Unlock()

		if current {
			c.events.PartialTranscript(update.Text)
		}
	}
}

func (c *TurnController) stopCapture(active *activeCapture) {
	if err := active.subscription.Stop(); err != nil {
		c.logger.Warn("failed to stop capture cleanly", zap.Error(err))
	}
	active.cancel()
	<-active.done
}

func (c *TurnController) finish() {
	c.mu.Lock()
	c.state = domain.TurnStateIdle
	c.mu.Unlock()
	c.events.StatusChanged(c.Status())
}

// turn tracks what a single pipeline run has appended.
type turn struct {
	id           string
	userAppended bool
	logger       *zap.Logger
}

func (c *TurnController) runTurn(ctx context.Context, utterance string, setting domain.Setting) (TurnResult, error) {
	t := &turn{id: uuid.NewString()}
	t.logger = c.logger.With(zap.String("turn_id", t.id))

	ctx, span := tracer.Start(ctx, "process turn", trace.WithAttributes(attribute.String("turn.id", t.id)))
	defer span.End()

	correction, err := c.correct(ctx, utterance)
	if err != nil {
		err = fmt.Errorf("correct utterance: %w", err)
		failSpan(span, err)
		t.logger.Error("turn failed", zap.Error(err))
		c.events.TurnError(domain.ErrorCodeCorrection, err.Error())
		return TurnResult{}, err
	}

	usage := correction.Usage
	user := domain.NewUserMessage(correction.Text, utterance, correction.Explanation, &usage)
	if err := c.appendUser(t, user); err != nil {
		failSpan(span, err)
		t.logger.Error("turn failed", zap.Error(err))
		return TurnResult{}, err
	}
	result := TurnResult{User: user}

	var reply domain.Reply
	messages, err := c.history.Snapshot()
	if err == nil {
		reply, err = c.reply(ctx, setting.Situation, messages)
	}
	if err != nil {
		err = fmt.Errorf("generate reply: %w", err)
		failSpan(span, err)
		t.logger.Error("turn failed", zap.Error(err))
		c.events.TurnError(domain.ErrorCodeResponse, err.Error())
		return result, err
	}

	system := domain.NewSystemMessage(reply.Text, reply.Usage)
	index, err := c.history.Append(system)
	if err != nil {
		err = fmt.Errorf("store reply: %w", err)
		failSpan(span, err)
		t.logger.Error("turn failed", zap.Error(err))
		return result, err
	}
	c.events.MessageAppended(index, system)
	result.System = &system

	audio, err := c.synthesize(ctx, reply.Text)
	if err != nil {
		t.logger.Warn("speech synthesis failed, reply stays silent", zap.Error(err))
		return result, nil
	}

	index, updated, err := c.history.PatchLastSystem(func(m *domain.Message) {
		m.Audio = audio
	})
	if errors.Is(err, history.ErrNotLastSystem) {
		t.logger.Warn("last message is not a system message, audio not attached")
		return result, nil
	}
	if err != nil {
		t.logger.Warn("failed to attach audio to reply", zap.Error(err))
		return result, nil
	}
	c.events.MessageUpdated(index, updated)
	result.System = &updated
	return result, nil
}

func (c *TurnController) appendUser(t *turn, message domain.Message) error {
	if t.userAppended {
		t.logger.Warn("user message already appended in this turn, skipping duplicate")
		return errDuplicateUserMessage
	}
	index, err := c.history.Append(message)
	if err != nil {
		return fmt.Errorf("store user message: %w", err)
	}
	t.userAppended = true
	c.events.MessageAppended(index, message)
	return nil
}

func (c *TurnController) correct(ctx context.Context, utterance string) (domain.Correction, error) {
	ctx, span := tracer.Start(ctx, "correct utterance")
	defer span.End()

	correction, err := c.correction.Correct(ctx, utterance)
	if err != nil {
		failSpan(span, err)
		return domain.Correction{}, err
	}
	recordUsage(ctx, "correction", correction.Usage)
	return correction, nil
}

func (c *TurnController) reply(ctx context.Context, situation string, messages []domain.Message) (domain.Reply, error) {
	ctx, span := tracer.Start(ctx, "generate reply", trace.WithAttributes(attribute.Int("history.length", len(messages))))
	defer span.End()

	reply, err := c.response.Respond(ctx, situation, messages)
	if err != nil {
		failSpan(span, err)
		return domain.Reply{}, err
	}
	recordUsage(ctx, "response", reply.Usage)
	return reply, nil
}

func (c *TurnController) synthesize(ctx context.Context, text string) ([]byte, error) {
	if c.speech == nil {
		return nil, errors.New("speech synthesis is not configured")
	}
	ctx, span := tracer.Start(ctx, "synthesize speech")
	defer span.End()

	audio, err := c.speech.Synthesize(ctx, text)
	if err != nil {
		failSpan(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("audio.bytes", len(audio)))
	return audio, nil
}
