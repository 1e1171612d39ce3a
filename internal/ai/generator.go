package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Generator produces text for a prompt. maxOutput bounds the response size in
// provider tokens.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxOutput int) (string, error)
}

// GenerationError covers every failure of a generation call: transport,
// quota, provider error or an unusable response.
type GenerationError struct {
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

func generationError(provider string, format string, args ...interface{}) error {
	return &GenerationError{Provider: provider, Err: fmt.Errorf(format, args...)}
}

// NewGenerator returns the client for provider. It returns nil, nil when
// generation is disabled ("none" or no API key), which makes every post a
// fallback post.
func NewGenerator(provider, apiKey, model string, timeout time.Duration) (Generator, error) {
	if apiKey == "" {
		return nil, nil
	}
	switch strings.ToLower(provider) {
	case "none":
		return nil, nil
	case providerClaude:
		return NewClaudeClient(apiKey, model, timeout), nil
	case providerGemini:
		return NewGeminiClient(apiKey, model, timeout), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", provider)
	}
}
