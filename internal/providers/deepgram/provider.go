package deepgram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"talkpartner/internal/ports"
)

const (
	defaultBaseURL   = "https://api.deepgram.com/v1"
	defaultModel     = "nova-2"
	defaultLanguage  = "en-US"
	defaultKeepAlive = 8 * time.Second
)

var ErrMissingAPIKey = errors.New("DEEPGRAM_API_KEY is not configured")

// Config controls the Deepgram live transcription endpoint.
type Config struct {
	APIKey         string
	APIBaseURL     string
	Model          string
	Language       string
	SmartFormat    bool
	EndpointingMS  int
	KeepAlive      time.Duration
	HandshakeLimit time.Duration
}

// Provider opens Deepgram live transcription sessions.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *zap.Logger
}

func NewProvider(cfg Config, logger *zap.Logger) *Provider {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	if cfg.HandshakeLimit <= 0 {
		cfg.HandshakeLimit = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeLimit,
		},
		logger: logger,
	}
}

func (p *Provider) StartStreaming(ctx context.Context, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	listenURL, err := listenURL(p.cfg, cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.cfg.APIKey)

	conn, resp, err := p.dialer.DialContext(ctx, listenURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connect to deepgram (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("connect to deepgram: %w", err)
	}
	p.logger.Debug("deepgram stream opened", zap.String("model", p.cfg.Model), zap.String("language", p.cfg.Language))

	return startSession(ctx, conn, p.cfg.KeepAlive, p.logger), nil
}

func listenURL(providerCfg Config, streamCfg ports.StreamingConfig) (string, error) {
	base := strings.TrimSpace(providerCfg.APIBaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	u, err := url.Parse(strings.TrimRight(base, "/") + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid deepgram base url: %w", err)
	}

	if streamCfg.Encoding == "" {
		streamCfg.Encoding = "linear16"
	}
	if streamCfg.SampleRate <= 0 {
		streamCfg.SampleRate = 16000
	}
	if streamCfg.Channels <= 0 {
		streamCfg.Channels = 1
	}

	query := u.Query()
	query.Set("model", providerCfg.Model)
	query.Set("encoding", streamCfg.Encoding)
	query.Set("sample_rate", strconv.Itoa(streamCfg.SampleRate))
	query.Set("channels", strconv.Itoa(streamCfg.Channels))
	query.Set("interim_results", strconv.FormatBool(streamCfg.InterimResults))
	query.Set("smart_format", strconv.FormatBool(providerCfg.SmartFormat))
	query.Set("punctuate", "true")
	if providerCfg.Language != "" {
		query.Set("language", providerCfg.Language)
	}
	if providerCfg.EndpointingMS > 0 {
		query.Set("endpointing", strconv.Itoa(providerCfg.EndpointingMS))
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}
