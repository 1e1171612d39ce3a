package ai

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bilgisen/chanpost/internal/format"
	"github.com/bilgisen/chanpost/internal/models"
)

const (
	DefaultMaxOutput       = 1500
	DefaultLanguage        = "Russian"
	fallbackDescriptionCap = 200
)

// Rewriter turns a ContentItem into a publishable post. Generation is a
// best-effort step: when it fails the post is built from the item fields.
type Rewriter struct {
	gen       Generator
	post      *PostProcessor
	language  string
	maxOutput int
	log       zerolog.Logger
}

type RewriterConfig struct {
	Language  string
	MaxOutput int
}

// NewRewriter returns a rewriter. A nil gen makes every post a fallback post.
func NewRewriter(gen Generator, cfg RewriterConfig, log zerolog.Logger) *Rewriter {
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = DefaultMaxOutput
	}
	return &Rewriter{
		gen:       gen,
		post:      NewPostProcessor(),
		language:  cfg.Language,
		maxOutput: cfg.MaxOutput,
		log:       log,
	}
}

// Rewrite never fails; the fallback has no external dependency.
func (r *Rewriter) Rewrite(ctx context.Context, item models.ContentItem) models.FormattedPost {
	text, err := r.generate(ctx, item)
	if err != nil {
		r.log.Warn().
			Err(err).
			Str("source", item.Source.String()).
			Str("identifier", item.Identifier).
			Msg("Rewrite failed, using fallback post")
		return Fallback(item)
	}

	return models.FormattedPost{
		Title:      item.Title,
		Body:       format.Format(text),
		Identifier: item.Identifier,
		Source:     item.Source,
	}
}

func (r *Rewriter) generate(ctx context.Context, item models.ContentItem) (text string, err error) {
	if r.gen == nil {
		return "", &GenerationError{Provider: "none", Err: fmt.Errorf("no generator configured")}
	}
	prompt, ok := PromptFor(item, r.language)
	if !ok {
		return "", &GenerationError{Provider: "none", Err: fmt.Errorf("no prompt template for source %q", item.Source)}
	}

	defer func() {
		if p := recover(); p != nil {
			text, err = "", &GenerationError{Provider: "unknown", Err: fmt.Errorf("generator panic: %v", p)}
		}
	}()

	raw, err := r.gen.Generate(ctx, prompt, r.maxOutput)
	if err != nil {
		return "", err
	}
	cleaned, err := r.post.Clean(raw)
	if err != nil {
		return "", &GenerationError{Provider: "postprocess", Err: err}
	}
	return cleaned, nil
}

// Fallback builds a deterministic post straight from the item fields.
func Fallback(item models.ContentItem) models.FormattedPost {
	style, _ := StyleFor(item.Source)

	title := format.EscapeLiteral(item.Title)
	desc := format.EscapeLiteral(format.TruncateWords(item.Description, fallbackDescriptionCap))
	url := format.EscapeLiteral(item.Identifier)
	label := format.EscapeLiteral(style.LinkLabel)

	body := fmt.Sprintf("%s *%s*\n\n%s\n\n🔗 [%s](%s)", style.Glyph, title, desc, label, url)
	if desc == "" {
		body = fmt.Sprintf("%s *%s*\n\n🔗 [%s](%s)", style.Glyph, title, label, url)
	}

	return models.FormattedPost{
		Title:      item.Title,
		Body:       body,
		Identifier: item.Identifier,
		Source:     item.Source,
		Fallback:   true,
	}
}
