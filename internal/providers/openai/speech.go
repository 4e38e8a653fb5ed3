package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const DefaultSpeechModel = "tts-1"

var (
	ErrEmptySpeech  = errors.New("speech synthesis returned no audio")
	defaultVoices   = []string{string(goopenai.VoiceNova), string(goopenai.VoiceOnyx)}
	defaultAudioFmt = goopenai.SpeechResponseFormatMp3
)

// SpeechConfig controls text-to-speech requests.
type SpeechConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Voices     []string
	HTTPClient *http.Client
}

// Synthesizer turns reply text into mp3 audio, alternating between the
// configured voices at random. Playback speed is left to the player.
type Synthesizer struct {
	api    *goopenai.Client
	model  string
	voices []string
	pick   func(n int) int
	logger *zap.Logger
}

func NewSynthesizer(cfg SpeechConfig, logger *zap.Logger) (*Synthesizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultSpeechModel
	}
	voices := make([]string, 0, len(cfg.Voices))
	for _, v := range cfg.Voices {
		if v = strings.TrimSpace(v); v != "" {
			voices = append(voices, v)
		}
	}
	if len(voices) == 0 {
		voices = defaultVoices
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{
		api:    newAPI(cfg.APIKey, cfg.BaseURL, cfg.HTTPClient),
		model:  cfg.Model,
		voices: voices,
		pick:   rand.IntN,
		logger: logger,
	}, nil
}

func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	voice := s.voices[s.pick(len(s.voices))]

	resp, err := s.api.CreateSpeech(ctx, goopenai.CreateSpeechRequest{
		Model:          goopenai.SpeechModel(s.model),
		Input:          text,
		Voice:          goopenai.SpeechVoice(voice),
		ResponseFormat: defaultAudioFmt,
	})
	if err != nil {
		return nil, classify("speech", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read speech audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrEmptySpeech
	}
	s.logger.Debug("speech synthesized", zap.String("voice", voice), zap.Int("bytes", len(audio)))
	return audio, nil
}
