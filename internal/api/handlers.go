package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/bilgisen/chanpost/internal/middleware"
	"github.com/bilgisen/chanpost/internal/models"
	"github.com/bilgisen/chanpost/internal/scheduler"
	"github.com/bilgisen/chanpost/internal/storage"
)

// StatusSource exposes the scheduler state.
type StatusSource interface {
	State() scheduler.State
}

type Handlers struct {
	ledger  storage.Ledger
	status  StatusSource
	started time.Time
	log     zerolog.Logger
}

// RecentQuery is the query of GET /posts/recent.
type RecentQuery struct {
	Limit int `query:"limit" validate:"min=1,max=100"`
}

func defaultRecentQuery() RecentQuery {
	return RecentQuery{Limit: storage.DefaultListLimit}
}

type recentPost struct {
	Identifier  string           `json:"identifier"`
	Title       string           `json:"title"`
	Source      models.SourceTag `json:"source"`
	PublishedAt time.Time        `json:"published_at"`
}

func NewHandlers(ledger storage.Ledger, status StatusSource, log zerolog.Logger) *Handlers {
	return &Handlers{
		ledger:  ledger,
		status:  status,
		started: time.Now(),
		log:     log,
	}
}

// HealthCheck handles the /health endpoint
func (h *Handlers) HealthCheck(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
		"time":   time.Now().Format(time.RFC3339),
	}
	if h.status != nil {
		resp["scheduler"] = h.status.State()
	}
	return c.JSON(resp)
}

// RecentPosts handles GET /api/v1/posts/recent
func (h *Handlers) RecentPosts(c *fiber.Ctx) error {
	q := middleware.Query[RecentQuery](c)

	records, err := h.ledger.ListRecent(c.UserContext(), q.Limit)
	if err != nil {
		h.log.Error().Err(err).Int("limit", q.Limit).Msg("Error listing recent posts")
		return fiber.NewError(fiber.StatusServiceUnavailable, "ledger unavailable")
	}

	items := make([]recentPost, len(records))
	for i, r := range records {
		items[i] = recentPost{
			Identifier:  r.Identifier,
			Title:       r.Title,
			Source:      r.Source,
			PublishedAt: r.PublishedAt.UTC(),
		}
	}

	return c.JSON(fiber.Map{
		"limit": q.Limit,
		"total": len(items),
		"items": items,
	})
}
