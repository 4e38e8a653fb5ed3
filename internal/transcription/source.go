package transcription

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"talkpartner/internal/domain"
	"talkpartner/internal/ports"
)

// Config controls how capture sessions are opened.
type Config struct {
	Audio        ports.AudioConfig
	Streaming    ports.StreamingConfig
	ChunkSize    int
	CloseTimeout time.Duration
}

// Source pairs microphone capture with a streaming speech-to-text provider.
type Source struct {
	audio    ports.AudioCapture
	provider ports.TranscriptionProvider
	cfg      Config
	logger   *zap.Logger
}

func NewSource(audio ports.AudioCapture, provider ports.TranscriptionProvider, cfg Config, logger *zap.Logger) *Source {
	if cfg.ChunkSize < minChunkSize {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = defaultCloseTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		audio:    audio,
		provider: provider,
		cfg:      cfg,
		logger:   logger,
	}
}

// Subscribe opens the provider stream, then the microphone, and starts
// forwarding running-transcript updates. The subscription lives until Stop.
func (s *Source) Subscribe(ctx context.Context) (ports.TranscriptSubscription, error) {
	sessionCtx, cancel := context.WithCancel(ctx)

	stream, err := s.provider.StartStreaming(sessionCtx, s.cfg.Streaming)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open transcription stream: %w", err)
	}

	audio, err := s.audio.Start(sessionCtx, s.cfg.Audio)
	if err != nil {
		_ = stream.Close()
		cancel()
		return nil, fmt.Errorf("start microphone: %w", err)
	}

	sub := &subscription{
		ctx:          sessionCtx,
		cancel:       cancel,
		audio:        audio,
		stream:       stream,
		aggregator:   newAggregator(),
		updates:      make(chan domain.TranscriptUpdate, 32),
		eventsDone:   make(chan struct{}),
		audioDone:    make(chan struct{}),
		closeTimeout: s.cfg.CloseTimeout,
		logger:       s.logger.With(zap.String("capture_id", uuid.NewString())),
	}

	go sub.consume()
	go sub.pump(s.cfg.ChunkSize)

	sub.logger.Debug("capture started")
	return sub, nil
}

type subscription struct {
	ctx    context.Context
	cancel context.CancelFunc

	audio      ports.AudioSession
	stream     ports.StreamingSession
	aggregator *aggregator

	updates    chan domain.TranscriptUpdate
	eventsDone chan struct{}
	audioDone  chan struct{}

	closeTimeout time.Duration
	logger       *zap.Logger

	stopOnce sync.Once
	stopErr  error
}

func (s *subscription) Updates() <-chan domain.TranscriptUpdate {
	return s.updates
}

// Stop ends the microphone, lets the provider flush, and closes Updates.
// Calling it more than once is safe.
func (s *subscription) Stop() error {
	s.stopOnce.Do(func() {
		if err := s.audio.Stop(); err != nil {
			s.logger.Warn("failed to stop microphone cleanly", zap.Error(err))
		}
		_ = s.stream.CloseSend()

		if err := waitForStream(s.stream, s.closeTimeout); err != nil {
			s.stopErr = fmt.Errorf("close transcription stream: %w", err)
		}
		s.cancel()
		<-s.eventsDone
		<-s.audioDone
		close(s.updates)

		s.logger.Debug("capture stopped", zap.String("transcript", s.aggregator.Text()))
	})
	return s.stopErr
}

func (s *subscription) consume() {
	defer close(s.eventsDone)

	events := s.stream.Events()
	for {
		var event domain.TranscriptEvent
		select {
		case <-s.ctx.Done():
			return
		case next, open := <-events:
			if !open {
				return
			}
			event = next
		}

		update, ok := s.aggregator.Add(event)
		if !ok {
			continue
		}
		select {
		case s.updates <- update:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *subscription) pump(chunkSize int) {
	defer close(s.audioDone)

	if err := pumpAudio(s.audio, s.stream, chunkSize); err != nil {
		s.logger.Warn("audio pump stopped", zap.Error(err))
	}
}
