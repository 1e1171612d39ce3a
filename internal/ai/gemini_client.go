package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	providerGemini = "gemini"

	DefaultGeminiModel = "gemini-1.5-flash"
)

type GeminiClient struct {
	client  *resty.Client
	apiKey  string
	model   string
	baseURL string
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func NewGeminiClient(apiKey, model string, timeout time.Duration) *GeminiClient {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiClient{
		client:  resty.New().SetTimeout(timeout),
		apiKey:  apiKey,
		model:   model,
		baseURL: "https://generativelanguage.googleapis.com/v1beta/models",
	}
}

// WithBaseURL points the client at a different endpoint.
func (g *GeminiClient) WithBaseURL(url string) *GeminiClient {
	g.baseURL = url
	return g
}

func (g *GeminiClient) Generate(ctx context.Context, prompt string, maxOutput int) (string, error) {
	url := fmt.Sprintf("%s/%s:generateContent", g.baseURL, g.model)

	req := geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{{
				Text: prompt,
			}},
		}},
	}
	if maxOutput > 0 {
		req.GenerationConfig = &geminiGenerationConfig{MaxOutputTokens: maxOutput}
	}

	var resp geminiResponse
	r, err := g.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetQueryParam("key", g.apiKey).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(url)

	if err != nil {
		return "", generationError(providerGemini, "API request failed: %w", err)
	}

	if resp.Error != nil {
		return "", generationError(providerGemini, "API error: %s", resp.Error.Message)
	}

	if r.IsError() {
		return "", generationError(providerGemini, "unexpected status code %d", r.StatusCode())
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", generationError(providerGemini, "no content in response")
	}

	return resp.Candidates[0].Content.Parts[0].Text, nil
}
