// Package telegram sends formatted posts to a channel through the Bot API.
package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	DefaultAPIURL = "https://api.telegram.org"
	parseMode     = "MarkdownV2"
)

// PublishError is returned when a post was not accepted by the channel.
type PublishError struct {
	Target      string
	Code        int // Bot API error_code, or the HTTP status
	Description string
	Err         error
}

func (e *PublishError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("publish to %s: %v", e.Target, e.Err)
	}
	return fmt.Sprintf("publish to %s: %d %s", e.Target, e.Code, e.Description)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

type Config struct {
	Token         string
	APIURL        string
	Timeout       time.Duration
	RatePerMinute int // <= 0 disables limiting
}

// Sink posts MarkdownV2 messages. Sends are never retried by the client: a
// timed-out request may still have been delivered.
type Sink struct {
	client  *resty.Client
	token   string
	apiURL  string
	limiter *rate.Limiter
}

type sendMessageRequest struct {
	ChatID             string              `json:"chat_id"`
	Text               string              `json:"text"`
	ParseMode          string              `json:"parse_mode"`
	LinkPreviewOptions *linkPreviewOptions `json:"link_preview_options,omitempty"`
}

type linkPreviewOptions struct {
	IsDisabled bool `json:"is_disabled"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

func NewSink(cfg Config) *Sink {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RatePerMinute))
	}
	return &Sink{
		client:  resty.New().SetTimeout(cfg.Timeout),
		token:   cfg.Token,
		apiURL:  cfg.APIURL,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Send publishes body to target. A nil error means the channel accepted it.
func (s *Sink) Send(ctx context.Context, target, body string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return &PublishError{Target: target, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	var resp apiResponse
	r, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(sendMessageRequest{
			ChatID:             target,
			Text:               body,
			ParseMode:          parseMode,
			LinkPreviewOptions: &linkPreviewOptions{IsDisabled: false},
		}).
		SetResult(&resp).
		SetError(&resp).
		Post(fmt.Sprintf("%s/bot%s/sendMessage", s.apiURL, s.token))

	if err != nil {
		return &PublishError{Target: target, Err: fmt.Errorf("request failed: %w", err)}
	}

	if !resp.OK {
		code := resp.ErrorCode
		if code == 0 {
			code = r.StatusCode()
		}
		return &PublishError{Target: target, Code: code, Description: resp.Description}
	}

	return nil
}
