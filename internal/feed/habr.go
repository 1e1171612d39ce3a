package feed

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"github.com/bilgisen/chanpost/internal/format"
	"github.com/bilgisen/chanpost/internal/models"
)

const (
	defaultHabrURL     = "https://habr.com"
	habrDescriptionCap = 300
)

type HabrConfig struct {
	Period  string // daily, weekly, monthly; anything else reads the newest flow
	Limit   int
	BaseURL string
}

// HabrCollector reads the top articles of the Habr development flow from its
// RSS feed.
type HabrCollector struct {
	cfg     HabrConfig
	fetcher *Fetcher
	parser  *Parser
	log     zerolog.Logger
}

func NewHabrCollector(cfg HabrConfig, fetcher *Fetcher, log zerolog.Logger) *HabrCollector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultHabrURL
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	return &HabrCollector{
		cfg:     cfg,
		fetcher: fetcher,
		parser:  NewParser(),
		log:     log,
	}
}

func (c *HabrCollector) Source() models.SourceTag { return models.SourceHabr }

func (c *HabrCollector) feedURL() string {
	switch c.cfg.Period {
	case "daily", "weekly", "monthly":
		return fmt.Sprintf("%s/ru/rss/flows/develop/articles/top/%s/", c.cfg.BaseURL, c.cfg.Period)
	default:
		return c.cfg.BaseURL + "/ru/rss/flows/develop/articles/"
	}
}

func (c *HabrCollector) Collect(ctx context.Context) ([]models.ContentItem, error) {
	body, err := c.fetcher.Get(ctx, c.feedURL(), map[string]string{"fl": "ru"},
		"application/rss+xml, application/xml;q=0.9, */*;q=0.8")
	if err != nil {
		return nil, &CollectionError{Source: models.SourceHabr, Err: err}
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, &CollectionError{Source: models.SourceHabr, Err: fmt.Errorf("parse feed: %w", err)}
	}

	items := make([]models.ContentItem, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		if len(items) == c.cfg.Limit {
			break
		}
		link := entryLink(entry)
		if link == "" {
			continue
		}
		desc := c.parser.CleanHTML(entry.Description)
		items = append(items, models.ContentItem{
			Identifier:  link,
			Title:       entry.Title,
			Description: format.TruncateWords(desc, habrDescriptionCap),
			Source:      models.SourceHabr,
		})
	}
	return c.parser.Prepare(items, c.log), nil
}

// entryLink prefers the explicit link and falls back to an http GUID.
func entryLink(entry *gofeed.Item) string {
	if entry.Link != "" {
		return entry.Link
	}
	if strings.HasPrefix(entry.GUID, "http") {
		return entry.GUID
	}
	return ""
}
