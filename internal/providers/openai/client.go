package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"talkpartner/internal/domain"
	"talkpartner/internal/ports"
	"talkpartner/internal/prompts"
)

const (
	DefaultCorrectionModel = goopenai.GPT4oMini
	DefaultDialogueModel   = goopenai.GPT4o

	defaultMaxTokens = 1000
)

var (
	ErrMissingAPIKey = errors.New("OPENAI_API_KEY is not configured")
	ErrNoToolCall    = errors.New("model did not call the correction function")
	ErrNoChoices     = errors.New("completion returned no choices")
)

// Config controls the OpenAI chat completion client.
type Config struct {
	APIKey              string
	BaseURL             string
	CorrectionModel     string
	DialogueModel       string
	MaxTokens           int
	ExplanationLanguage string
	HTTPClient          *http.Client
}

// Client corrects utterances and produces partner replies with chat
// completions.
type Client struct {
	api    *goopenai.Client
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

	return &Client{
		api:    newAPI(cfg.APIKey, cfg.BaseURL, cfg.HTTPClient),
		cfg:    cfg,
		tool:   tool,
		logger: logger,
	}, nil
}

func newAPI(apiKey string, baseURL string, httpClient *http.Client) *goopenai.Client {
	apiCfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		apiCfg.HTTPClient = httpClient
	}
	return goopenai.NewClientWithConfig(apiCfg)
}

// Correct forces the correction function and reads its arguments back.
func (c *Client) Correct(ctx context.Context, utterance string) (domain.Correction, error) {
	req := goopenai.ChatCompletionRequest{
		Model:       c.cfg.CorrectionModel,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: 0.5,
		TopP:        0.9,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: utterance},
		},
		Tools: []goopenai.Tool{{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        c.tool.Name,
				Description: c.tool.Description,
				Parameters:  c.tool.Schema,
			},
		}},
		ToolChoice: goopenai.ToolChoice{
			Type:     goopenai.ToolTypeFunction,
			Function: goopenai.ToolFunction{Name: c.tool.Name},
		},
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return domain.Correction{}, classify("correction", err)
	}
	if len(resp.Choices) == 0 {
		return domain.Correction{}, ErrNoChoices
	}

	for _, call := range resp.Choices[0].Message.ToolCalls {
		if call.Function.Name != c.tool.Name {
			continue
		}
		input, err := prompts.DecodeCorrection([]byte(call.Function.Arguments))
		if err != nil {
			return domain.Correction{}, err
		}
		c.logger.Debug("openai correction",
			zap.String("model", c.cfg.CorrectionModel),
			zap.Int("input_tokens", resp.Usage.PromptTokens),
			zap.Int("output_tokens", resp.Usage.CompletionTokens),
		)
		return domain.Correction{
			Text:        input.Corrected,
			Explanation: input.Changes,
			Usage:       usage(resp.Usage),
		}, nil
	}
	return domain.Correction{}, ErrNoToolCall
}

// Respond sends the instructions as the system message followed by the
// role-tagged history.
func (c *Client) Respond(ctx context.Context, req ports.DialogueRequest) (domain.Reply, error) {
	messages := make([]goopenai.ChatCompletionMessage, 0, len(req.Utterances)+1)
	if req.Instructions != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: req.Instructions,
		})
	}
	for _, u := range req.Utterances {
		role := goopenai.ChatMessageRoleUser
		if u.Role == domain.RoleAssistant {
			role = goopenai.ChatMessageRoleAssistant
		}
		messages = append(messages, goopenai.ChatCompletionMessage{Role: role, Content: u.Text})
	}

	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       c.cfg.DialogueModel,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: 0.5,
		TopP:        0.9,
		Messages:    messages,
	})
	if err != nil {
		return domain.Reply{}, classify("dialogue", err)
	}
	if len(resp.Choices) == 0 {
		return domain.Reply{}, ErrNoChoices
	}
	return domain.Reply{
		Text:  strings.TrimSpace(resp.Choices[0].Message.Content),
		Usage: usage(resp.Usage),
	}, nil
}

func usage(u goopenai.Usage) domain.Usage {
	return domain.Usage{Input: u.PromptTokens, Output: u.CompletionTokens}
}

// classify tags throttling responses with domain.ErrRateLimited.
func classify(call string, err error) error {
	status := 0
	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status == http.StatusTooManyRequests {
		return fmt.Errorf("openai %s: %w: %w", call, domain.ErrRateLimited, err)
	}
	return fmt.Errorf("openai %s: %w", call, err)
}
