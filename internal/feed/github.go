package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bilgisen/chanpost/internal/models"
)

const defaultGitHubAPI = "https://api.github.com"

type GitHubConfig struct {
	Language string // "all" disables the language filter
	Period   string // daily, weekly or monthly
	Limit    int
	Token    string // optional, raises the API rate limit
	BaseURL  string
}

// GitHubCollector lists the most starred repositories created within the
// configured period, using the GitHub search API.
type GitHubCollector struct {
	cfg     GitHubConfig
	fetcher *Fetcher
	parser  *Parser
	now     func() time.Time
	log     zerolog.Logger
}

type githubSearchResponse struct {
	Items []struct {
		FullName        string `json:"full_name"`
		HTMLURL         string `json:"html_url"`
		Description     string `json:"description"`
		StargazersCount int    `json:"stargazers_count"`
		Language        string `json:"language"`
	} `json:"items"`
}

func NewGitHubCollector(cfg GitHubConfig, fetcher *Fetcher, log zerolog.Logger) *GitHubCollector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGitHubAPI
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 25
	}
	if cfg.Token != "" {
		fetcher.client.SetAuthToken(cfg.Token)
	}
	return &GitHubCollector{
		cfg:     cfg,
		fetcher: fetcher,
		parser:  NewParser(),
		now:     time.Now,
		log:     log,
	}
}

func (c *GitHubCollector) Source() models.SourceTag { return models.SourceGitHub }

func (c *GitHubCollector) Collect(ctx context.Context) ([]models.ContentItem, error) {
	body, err := c.fetcher.Get(ctx, c.cfg.BaseURL+"/search/repositories", map[string]string{
		"q":        c.query(),
		"sort":     "stars",
		"order":    "desc",
		"per_page": strconv.Itoa(c.cfg.Limit),
	}, "application/vnd.github+json")
	if err != nil {
		return nil, &CollectionError{Source: models.SourceGitHub, Err: err}
	}

	var resp githubSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &CollectionError{Source: models.SourceGitHub, Err: fmt.Errorf("failed to parse search response: %w", err)}
	}

	items := make([]models.ContentItem, 0, len(resp.Items))
	for _, repo := range resp.Items {
		items = append(items, models.ContentItem{
			Identifier:  repo.HTMLURL,
			Title:       repo.FullName,
			Description: repo.Description,
			Source:      models.SourceGitHub,
		})
	}
	return c.parser.Prepare(items, c.log), nil
}

func (c *GitHubCollector) query() string {
	since := c.now().UTC().AddDate(0, 0, -periodDays(c.cfg.Period)).Format("2006-01-02")
	parts := []string{"created:>=" + since}
	if lang := strings.TrimSpace(c.cfg.Language); lang != "" && lang != "all" {
		parts = append(parts, "language:"+lang)
	}
	return strings.Join(parts, " ")
}

func periodDays(period string) int {
	switch period {
	case "weekly":
		return 7
	case "monthly":
		return 30
	default:
		return 1
	}
}
