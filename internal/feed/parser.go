package feed

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bilgisen/chanpost/internal/models"
)

// Parser handles cleaning and normalizing collected items
type Parser struct {
	htmlTagRegex *regexp.Regexp
}

func NewParser() *Parser {
	return &Parser{
		htmlTagRegex: regexp.MustCompile(`<[^>]*>`),
	}
}

// CleanHTML removes HTML tags and normalizes whitespace
func (p *Parser) CleanHTML(input string) string {
	cleaned := p.htmlTagRegex.ReplaceAllString(input, " ")
	cleaned = html.UnescapeString(cleaned)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	return strings.TrimSpace(cleaned)
}

// NormalizeItem trims fields and canonicalizes the identifier
func (p *Parser) NormalizeItem(item models.ContentItem) models.ContentItem {
	return models.ContentItem{
		Identifier:  CanonicalURL(item.Identifier),
		Title:       p.CleanHTML(item.Title),
		Description: p.CleanHTML(item.Description),
		Source:      item.Source,
	}
}

// ValidateItem checks that the item has the required fields
func (p *Parser) ValidateItem(item models.ContentItem) error {
	if item.Identifier == "" {
		return fmt.Errorf("missing required field: identifier")
	}
	if item.Title == "" {
		return fmt.Errorf("missing required field: title")
	}
	if !item.Source.Valid() {
		return fmt.Errorf("unknown source %q", item.Source)
	}
	return nil
}

// Prepare normalizes items, drops invalid ones and removes duplicates within
// the batch.
func (p *Parser) Prepare(items []models.ContentItem, log zerolog.Logger) []models.ContentItem {
	seen := make(map[string]struct{}, len(items))
	out := make([]models.ContentItem, 0, len(items))
	for _, item := range items {
		normalized := p.NormalizeItem(item)
		if err := p.ValidateItem(normalized); err != nil {
			log.Warn().
				Err(err).
				Str("source", item.Source.String()).
				Str("identifier", item.Identifier).
				Msg("Dropping invalid item")
			continue
		}
		if _, dup := seen[normalized.Identifier]; dup {
			continue
		}
		seen[normalized.Identifier] = struct{}{}
		out = append(out, normalized)
	}
	return out
}

// CanonicalURL strips query and fragment (tracking parameters) and lowercases
// the host. Strings that do not parse as absolute URLs are returned trimmed.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
