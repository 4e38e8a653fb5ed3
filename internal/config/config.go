package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	AudioBackendFFmpeg = "ffmpeg"
	AudioBackendMalgo  = "malgo"

	DefaultSituation = "You are the user's friend and live in America. You meet the user at the Las Vegas airport, " +
		"tell them about food, hotels and casinos, and suggest going somewhere together."
)

// Config stores runtime configuration.
type Config struct {
	EnvFile      string
	Deepgram     DeepgramConfig
	Audio        AudioConfig
	LLM          LLMConfig
	Speech       SpeechConfig
	Retry        RetryConfig
	Conversation ConversationConfig
	Log          LogConfig
}

type DeepgramConfig struct {
	APIKey        string
	APIBaseURL    string
	Model         string
	Language      string
	SmartFormat   bool
	EndpointingMS int
	KeepAlive     time.Duration
}

type AudioConfig struct {
	Backend         string
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
	ChunkSize       int
	CloseTimeout    time.Duration
}

type LLMConfig struct {
	Provider         string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	CorrectionModel  string
	DialogueModel    string
	MaxTokens        int
}

type SpeechConfig struct {
	Model  string
	Voices []string
}

type RetryConfig struct {
	CorrectionAttempts int
	ResponseAttempts   int
	Delay              time.Duration
}

type ConversationConfig struct {
	Situation           string
	SpeechSpeed         float64
	ExplanationLanguage string
}

type LogConfig struct {
	Level string
	Debug bool
}

// Load reads an optional .env file, then resolves configuration from the
// environment with defaults. Variables already set in the environment win
// over the file.
func Load() (Config, error) {
	envFile, err := loadEnvFile()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		EnvFile: envFile,
		Deepgram: DeepgramConfig{
			APIKey:        strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")),
			APIBaseURL:    envOrDefault("DEEPGRAM_API_BASE", "https://api.deepgram.com/v1"),
			Model:         envOrDefault("DEEPGRAM_MODEL", "nova-2"),
			Language:      envOrDefault("DEEPGRAM_LANGUAGE", "en-US"),
			SmartFormat:   envOrDefaultBool("DEEPGRAM_SMART_FORMAT", true),
			EndpointingMS: envOrDefaultInt("DEEPGRAM_ENDPOINTING_MS", 0),
			KeepAlive:     envOrDefaultMillis("DEEPGRAM_KEEPALIVE_MS", 8000),
		},
		Audio: AudioConfig{
			Backend:         strings.ToLower(envOrDefault("TALKPARTNER_AUDIO_BACKEND", AudioBackendFFmpeg)),
			RecorderCommand: envOrDefault("TALKPARTNER_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("TALKPARTNER_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice:     envOrDefault("TALKPARTNER_AUDIO_INPUT_DEVICE", "default"),
			SampleRate:      envOrDefaultInt("TALKPARTNER_SAMPLE_RATE", 16000),
			Channels:        envOrDefaultInt("TALKPARTNER_CHANNELS", 1),
			ChunkSize:       envOrDefaultInt("TALKPARTNER_AUDIO_CHUNK_SIZE", 4096),
			CloseTimeout:    envOrDefaultMillis("TALKPARTNER_STREAM_CLOSE_TIMEOUT_MS", 4000),
		},
		LLM: LLMConfig{
			Provider:         strings.ToLower(envOrDefault("TALKPARTNER_LLM_PROVIDER", ProviderAnthropic)),
			AnthropicAPIKey:  strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
			AnthropicBaseURL: strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL")),
			OpenAIAPIKey:     strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			OpenAIBaseURL:    strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
			CorrectionModel:  strings.TrimSpace(os.Getenv("TALKPARTNER_CORRECTION_MODEL")),
			DialogueModel:    strings.TrimSpace(os.Getenv("TALKPARTNER_DIALOGUE_MODEL")),
			MaxTokens:        envOrDefaultInt("TALKPARTNER_MAX_TOKENS", 1000),
		},
		Speech: SpeechConfig{
			Model:  envOrDefault("TALKPARTNER_TTS_MODEL", "tts-1"),
			Voices: splitList(envOrDefault("TALKPARTNER_TTS_VOICES", "nova,onyx")),
		},
		Retry: RetryConfig{
			CorrectionAttempts: envOrDefaultInt("TALKPARTNER_CORRECTION_ATTEMPTS", 3),
			ResponseAttempts:   envOrDefaultInt("TALKPARTNER_RESPONSE_ATTEMPTS", 5),
			Delay:              envOrDefaultMillis("TALKPARTNER_RETRY_DELAY_MS", 5000),
		},
		Conversation: ConversationConfig{
			Situation:           envOrDefault("TALKPARTNER_SITUATION", DefaultSituation),
			SpeechSpeed:         envOrDefaultFloat("TALKPARTNER_SPEECH_SPEED", 1.0),
			ExplanationLanguage: envOrDefault("TALKPARTNER_EXPLANATION_LANGUAGE", "Japanese"),
		},
		Log: LogConfig{
			Level: strings.ToLower(envOrDefault("TALKPARTNER_LOG_LEVEL", "info")),
			Debug: envOrDefaultBool("TALKPARTNER_DEBUG", false),
		},
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.ChunkSize < 256 {
		cfg.Audio.ChunkSize = 4096
	}
	if cfg.Retry.CorrectionAttempts <= 0 {
		cfg.Retry.CorrectionAttempts = 3
	}
	if cfg.Retry.ResponseAttempts <= 0 {
		cfg.Retry.ResponseAttempts = 5
	}
	if cfg.Conversation.SpeechSpeed < 0.2 || cfg.Conversation.SpeechSpeed > 1.0 {
		cfg.Conversation.SpeechSpeed = 1.0
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderOpenAI:
	default:
		return fmt.Errorf("unsupported TALKPARTNER_LLM_PROVIDER %q", c.LLM.Provider)
	}
	switch c.Audio.Backend {
	case AudioBackendFFmpeg, AudioBackendMalgo:
	default:
		return fmt.Errorf("unsupported TALKPARTNER_AUDIO_BACKEND %q", c.Audio.Backend)
	}
	return nil
}

// loadEnvFile loads TALKPARTNER_ENV_FILE when set, otherwise the first .env
// found in the working directory or the user config directory.
func loadEnvFile() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("TALKPARTNER_ENV_FILE")); explicit != "" {
		if err := godotenv.Load(explicit); err != nil {
			return "", fmt.Errorf("load env file %s: %w", explicit, err)
		}
		return explicit, nil
	}

	candidates := []string{".env"}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "talkpartner", ".env"))
	}
	path := firstExisting(candidates...)
	if path == "" {
		return "", nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("load env file %s: %w", path, err)
	}
	return path, nil
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultMillis(key string, fallback int) time.Duration {
	ms := envOrDefaultInt(key, fallback)
	if ms < 0 {
		ms = fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
