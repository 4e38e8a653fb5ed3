package claude

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"talkpartner/internal/domain"
	"talkpartner/internal/ports"
	"talkpartner/internal/prompts"
)

const (
	DefaultCorrectionModel = "claude-3-haiku-20240307"
	DefaultDialogueModel   = "claude-3-5-sonnet-20240620"

	defaultMaxTokens = 1000
)

var (
	ErrMissingAPIKey = errors.New("ANTHROPIC_API_KEY is not configured")
	ErrNoToolCall    = errors.New("model did not call the correction tool")
)

// Config controls the Anthropic Messages API client.
type Config struct {
	APIKey              string
	BaseURL             string
	CorrectionModel     string
	DialogueModel       string
	MaxTokens           int64
	ExplanationLanguage string
	HTTPClient          *http.Client
}

// Client corrects utterances and produces partner replies with Claude.
type Client struct {
	api    anthropic.Client
	cfg    Config
	tool   prompts.CorrectionTool
	logger *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.CorrectionModel == "" {
		cfg.CorrectionModel = DefaultCorrectionModel
	}
	if cfg.DialogueModel == "" {
		cfg.DialogueModel = DefaultDialogueModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tool, err := prompts.NewCorrectionTool(cfg.ExplanationLanguage)
	if err != nil {
		return nil, fmt.Errorf("build correction tool: %w", err)
	}

	// Retries are owned by the turn pipeline.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Client{
		api:    anthropic.NewClient(opts...),
		cfg:    cfg,
		tool:   tool,
		logger: logger,
	}, nil
}

// Correct forces the correction tool and reads its arguments back.
func (c *Client) Correct(ctx context.Context, utterance string) (domain.Correction, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.cfg.CorrectionModel),
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: anthropic.Float(0.5),
		TopP:        anthropic.Float(0.9),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(utterance)),
		},
		Tools: []anthropic.ToolUnionParam{{
			OfTool: &anthropic.ToolParam{
				Name:        c.tool.Name,
				Description: anthropic.String(c.tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: c.tool.Schema.Properties,
					Required:   c.tool.Schema.Required,
				},
			},
		}},
		ToolChoice: anthropic.ToolChoiceParamOfTool(c.tool.Name),
	}

	resp, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return domain.Correction{}, classify("correction", err)
	}

	for _, block := range resp.Content {
		if block.Type != "tool_use" || block.Name != c.tool.Name {
			continue
		}
		input, err := prompts.DecodeCorrection(block.Input)
		if err != nil {
			return domain.Correction{}, err
		}
		c.logger.Debug("claude correction",
			zap.String("model", c.cfg.CorrectionModel),
			zap.Int64("input_tokens", resp.Usage.InputTokens),
			zap.Int64("output_tokens", resp.Usage.OutputTokens),
		)
		return domain.Correction{
			Text:        input.Corrected,
			Explanation: input.Changes,
			Usage:       usage(resp.Usage),
		}, nil
	}
	return domain.Correction{}, ErrNoToolCall
}

// Respond sends the role-tagged history with the partner instructions as the
// system prompt.
func (c *Client) Respond(ctx context.Context, req ports.DialogueRequest) (domain.Reply, error) {
	messages := make([]anthropic.MessageParam, 0, len(req.Utterances))
	for _, u := range req.Utterances {
		block := anthropic.NewTextBlock(u.Text)
		if u.Role == domain.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
			continue
		}
		messages = append(messages, anthropic.NewUserMessage(block))
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.cfg.DialogueModel),
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: anthropic.Float(0.5),
		TopP:        anthropic.Float(0.9),
		Messages:    messages,
	}
	if req.Instructions != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
	}

	resp, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return domain.Reply{}, classify("dialogue", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return domain.Reply{Text: strings.TrimSpace(text.String()), Usage: usage(resp.Usage)}, nil
}

func usage(u anthropic.Usage) domain.Usage {
	return domain.Usage{Input: int(u.InputTokens), Output: int(u.OutputTokens)}
}

// classify tags throttling responses with domain.ErrRateLimited.
func classify(call string, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("anthropic %s: %w: %w", call, domain.ErrRateLimited, err)
	}
	return fmt.Errorf("anthropic %s: %w", call, err)
}
