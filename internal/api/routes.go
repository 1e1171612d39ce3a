package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bilgisen/chanpost/internal/middleware"
)

type ServerConfig struct {
	HTTPTimeout time.Duration
	APIKey      string // guards /api/v1/posts when set
}

// NewApp builds the read-only status server.
func NewApp(cfg ServerConfig, h *Handlers, gatherer prometheus.Gatherer) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.HTTPTimeout,
		WriteTimeout:          cfg.HTTPTimeout,
		IdleTimeout:           120 * time.Second,
		ErrorHandler:          middleware.ErrorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(middleware.RequestLogger())

	SetupRoutes(app, h, gatherer, cfg.APIKey)
	return app
}

// SetupRoutes configures all the routes for the application
func SetupRoutes(app *fiber.App, h *Handlers, gatherer prometheus.Gatherer, apiKey string) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// API group with versioning
	api := app.Group("/api/v1")
	api.Get("/health", h.HealthCheck)

	posts := api.Group("/posts", middleware.NewAuth(middleware.AuthConfig{Key: apiKey}))
	posts.Get("/recent", middleware.ValidateQuery(defaultRecentQuery), h.RecentPosts)

	// 404 Handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Endpoint not found",
		})
	})
}
