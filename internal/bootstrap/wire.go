package bootstrap

import (
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"talkpartner/internal/audio"
	"talkpartner/internal/config"
	"talkpartner/internal/history"
	"talkpartner/internal/ports"
	"talkpartner/internal/providers/claude"
	"talkpartner/internal/providers/deepgram"
	"talkpartner/internal/providers/openai"
	"talkpartner/internal/transcription"
	"talkpartner/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.TurnController
	Config     config.Config
	Logger     *zap.Logger
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	logger, err := NewLogger(cfg.Log)
	if err != nil {
		return Services{}, err
	}

	controller, err := buildController(cfg, eventSink, logger)
	if err != nil {
		_ = logger.Sync()
		return Services{}, err
	}

	logger.Info("talkpartner ready",
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("audio_backend", cfg.Audio.Backend),
		zap.String("env_file", cfg.EnvFile),
	)
	return Services{Controller: controller, Config: cfg, Logger: logger}, nil
}

func buildController(cfg config.Config, eventSink ports.EventSink, logger *zap.Logger) (*usecase.TurnController, error) {
	httpClient := newHTTPClient()

	corrector, responder, err := buildLanguageModel(cfg, httpClient, logger)
	if err != nil {
		return nil, err
	}
	speech, err := buildSpeech(cfg, httpClient, logger)
	if err != nil {
		return nil, err
	}

	source := transcription.NewSource(
		buildCapture(cfg.Audio, logger),
		deepgram.NewProvider(deepgram.Config{
			APIKey:        cfg.Deepgram.APIKey,
			APIBaseURL:    cfg.Deepgram.APIBaseURL,
			Model:         cfg.Deepgram.Model,
			Language:      cfg.Deepgram.Language,
			SmartFormat:   cfg.Deepgram.SmartFormat,
			EndpointingMS: cfg.Deepgram.EndpointingMS,
			KeepAlive:     cfg.Deepgram.KeepAlive,
		}, logger.Named("deepgram")),
		transcription.Config{
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			Streaming: ports.StreamingConfig{
				SampleRate:     cfg.Audio.SampleRate,
				Channels:       cfg.Audio.Channels,
				Encoding:       "linear16",
				InterimResults: true,
			},
			ChunkSize:    cfg.Audio.ChunkSize,
			CloseTimeout: cfg.Audio.CloseTimeout,
		},
		logger.Named("transcription"),
	)

	return usecase.NewTurnController(
		source,
		corrector,
		responder,
		speech,
		history.NewLog(),
		eventSink,
		usecase.Config{
			Correction: usecase.StepConfig{Attempts: cfg.Retry.CorrectionAttempts, Delay: cfg.Retry.Delay},
			Response:   usecase.StepConfig{Attempts: cfg.Retry.ResponseAttempts, Delay: cfg.Retry.Delay},
		},
		logger.Named("turn"),
	), nil
}

func buildLanguageModel(cfg config.Config, httpClient *http.Client, logger *zap.Logger) (ports.Corrector, ports.Responder, error) {
	switch cfg.LLM.Provider {
	case config.ProviderOpenAI:
		client, err := openai.NewClient(openai.Config{
			APIKey:              cfg.LLM.OpenAIAPIKey,
			BaseURL:             cfg.LLM.OpenAIBaseURL,
			CorrectionModel:     cfg.LLM.CorrectionModel,
			DialogueModel:       cfg.LLM.DialogueModel,
			MaxTokens:           cfg.LLM.MaxTokens,
			ExplanationLanguage: cfg.Conversation.ExplanationLanguage,
			HTTPClient:          httpClient,
		}, logger.Named("openai"))
		if err != nil {
			return nil, nil, fmt.Errorf("openai client: %w", err)
		}
		return client, client, nil
	default:
		client, err := claude.NewClient(claude.Config{
			APIKey:              cfg.LLM.AnthropicAPIKey,
			BaseURL:             cfg.LLM.AnthropicBaseURL,
			CorrectionModel:     cfg.LLM.CorrectionModel,
			DialogueModel:       cfg.LLM.DialogueModel,
			MaxTokens:           int64(cfg.LLM.MaxTokens),
			ExplanationLanguage: cfg.Conversation.ExplanationLanguage,
			HTTPClient:          httpClient,
		}, logger.Named("claude"))
		if err != nil {
			return nil, nil, fmt.Errorf("anthropic client: %w", err)
		}
		return client, client, nil
	}
}

// buildSpeech returns a nil synthesizer when no OpenAI key is configured;
// replies then stay silent.
func buildSpeech(cfg config.Config, httpClient *http.Client, logger *zap.Logger) (ports.SpeechSynthesizer, error) {
	if cfg.LLM.OpenAIAPIKey == "" {
		logger.Warn("OPENAI_API_KEY is not set, replies will not be spoken")
		return nil, nil
	}
	synth, err := openai.NewSynthesizer(openai.SpeechConfig{
		APIKey:     cfg.LLM.OpenAIAPIKey,
		BaseURL:    cfg.LLM.OpenAIBaseURL,
		Model:      cfg.Speech.Model,
		Voices:     cfg.Speech.Voices,
		HTTPClient: httpClient,
	}, logger.Named("speech"))
	if err != nil {
		return nil, fmt.Errorf("speech synthesizer: %w", err)
	}
	return synth, nil
}

func buildCapture(cfg config.AudioConfig, logger *zap.Logger) ports.AudioCapture {
	if cfg.Backend == config.AudioBackendMalgo {
		return audio.NewMalgoCapture(logger.Named("malgo"))
	}
	return audio.NewFFmpegCapture(cfg.RecorderCommand, logger.Named("ffmpeg"))
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		),
	}
}
