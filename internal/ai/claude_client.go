package ai

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/bilgisen/chanpost/internal/logger"
)

const (
	providerClaude   = "claude"
	anthropicVersion = "2023-06-01"

	stopMaxTokens    = "max_tokens"

	DefaultClaudeModel = "claude-3-5-sonnet-20241022"
)

// ClaudeClient calls the Anthropic Messages API.
type ClaudeClient struct {
	client  *resty.Client
	apiKey  string
	model   string
	baseURL string
	log     zerolog.Logger
}

type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func NewClaudeClient(apiKey, model string, timeout time.Duration) *ClaudeClient {
	if model == "" {
		model = DefaultClaudeModel
	}
	return &ClaudeClient{
		client:  resty.New().SetTimeout(timeout),
		apiKey:  apiKey,
		model:   model,
		baseURL: "https://api.anthropic.com/v1",
		log:     *logger.Get(),
	}
}

// WithLogger replaces the logger used for response warnings.
func (c *ClaudeClient) WithLogger(log zerolog.Logger) *ClaudeClient {
	c.log = log
	return c
}

// WithBaseURL points the client at a different endpoint.
func (c *ClaudeClient) WithBaseURL(url string) *ClaudeClient {
	c.baseURL = url
	return c
}

func (c *ClaudeClient) Generate(ctx context.Context, prompt string, maxOutput int) (string, error) {
	req := claudeRequest{
		Model:     c.model,
		MaxTokens: maxOutput,
		Messages:  []claudeMessage{{Role: "user", Content: prompt}},
	}

	var resp claudeResponse
	r, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-api-key", c.apiKey).
		SetHeader("anthropic-version", anthropicVersion).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(c.baseURL + "/messages")

	if err != nil {
		return "", generationError(providerClaude, "API request failed: %w", err)
	}

	if resp.Error != nil {
		return "", generationError(providerClaude, "API error (%s): %s", resp.Error.Type, resp.Error.Message)
	}

	if r.IsError() {
		return "", generationError(providerClaude, "unexpected status code %d", r.StatusCode())
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", generationError(providerClaude, "no content in response")
	}
	if resp.StopReason == stopMaxTokens {
		c.log.Warn().
			Str("model", c.model).
			Int("max_tokens", maxOutput).
			Msg("Claude response hit the token limit, post may be cut short")
	}

	return b.String(), nil
}
