package ai

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	controlChars = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	blankRuns    = regexp.MustCompile(`\n{3,}`)
)

// PostProcessor cleans generated text before it is formatted.
type PostProcessor struct {
	minContentLength int
}

func NewPostProcessor() *PostProcessor {
	return &PostProcessor{
		minContentLength: 20,
	}
}

// Clean normalises generated text. A result shorter than the minimum length
// is rejected so the caller can fall back.
func (p *PostProcessor) Clean(text string) (string, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = controlChars.ReplaceAllString(text, "")
	text = stripCodeFence(strings.TrimSpace(text))
	text = blankRuns.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	if len([]rune(text)) < p.minContentLength {
		return "", fmt.Errorf("content too short, minimum %d characters required", p.minContentLength)
	}
	return text, nil
}

// stripCodeFence removes a ``` fence wrapping the whole response, which some
// models add around plain answers.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	inner := strings.TrimSuffix(s, "```")
	if nl := strings.Index(inner, "\n"); nl >= 0 {
		inner = inner[nl+1:]
	} else {
		inner = strings.TrimPrefix(inner, "```")
	}
	return strings.TrimSpace(inner)
}
