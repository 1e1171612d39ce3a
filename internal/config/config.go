package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration for the application
type Config struct {
	// Telegram
	TelegramToken     string `json:"-" validate:"required"`
	ChannelID         string `json:"channel_id" validate:"required"`
	TelegramAPIURL    string `json:"telegram_api_url" validate:"required,url"`
	SendRatePerMinute int    `json:"send_rate_per_minute" validate:"gte=0"`

	// AI Configuration
	AIProvider   string        `json:"ai_provider" validate:"oneof=claude gemini none"`
	AIApiKey     string        `json:"-"`
	AIModel      string        `json:"ai_model"`
	AITimeout    time.Duration `json:"ai_timeout" validate:"gt=0"`
	AIMaxTokens  int           `json:"ai_max_tokens" validate:"gt=0"`
	PostLanguage string        `json:"post_language" validate:"required"`

	// Ledger
	LedgerBackend string `json:"ledger_backend" validate:"oneof=sqlite postgres redis memory"`
	DatabasePath  string `json:"database_path" validate:"required_if=LedgerBackend sqlite"`
	DatabaseURL   string `json:"-" validate:"required_if=LedgerBackend postgres"`
	RedisURL      string `json:"redis_url" validate:"required_if=LedgerBackend redis"`
	RedisPrefix   string `json:"redis_prefix"`
	RetentionDays int    `json:"retention_days" validate:"gte=0"`

	// Sources
	GitHubEnabled  bool   `json:"github_enabled"`
	GitHubLanguage string `json:"github_language" validate:"required"`
	GitHubPeriod   string `json:"github_period" validate:"oneof=daily weekly monthly"`
	GitHubLimit    int    `json:"github_limit" validate:"gt=0,lte=100"`
	GitHubToken    string `json:"-"`
	HabrEnabled    bool   `json:"habr_enabled"`
	HabrPeriod     string `json:"habr_period" validate:"oneof=daily weekly monthly alltime"`
	HabrLimit      int    `json:"habr_limit" validate:"gt=0"`

	// Scheduling
	PostsPerCycle        int    `json:"posts_per_cycle" validate:"gte=1"`
	DelayBetweenPosts    int    `json:"delay_between_posts" validate:"gte=0"` // seconds
	PostingIntervalHours int    `json:"posting_interval_hours" validate:"gte=1"`
	RunMode              string `json:"run_mode" validate:"oneof=once continuous"`

	// Server configuration
	StatusEnabled   bool          `json:"status_enabled"`
	StatusAPIKey    string        `json:"-"`
	Port            string        `json:"port" validate:"required_if=StatusEnabled true"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" validate:"gt=0"`
	HTTPTimeout     time.Duration `json:"http_timeout" validate:"gt=0"`

	// Logging
	LogLevel  string `json:"log_level" validate:"oneof=debug info warn error"`
	LogFile   string `json:"log_file"`
	LogPretty bool   `json:"log_pretty"`
}

// Load loads configuration from environment variables and validates it
func Load() (*Config, error) {
	return load((*Config).Validate)
}

// LoadMaintenance is Load for commands that never publish;
// the Telegram settings are not required.
func LoadMaintenance() (*Config, error) {
	return load((*Config).ValidateMaintenance)
}

func load(check func(*Config) error) (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("Error loading .env file")
	}

	cfg := &Config{
		TelegramToken:     getEnv("TELEGRAM_BOT_TOKEN", ""),
		ChannelID:         getEnv("CHANNEL_ID", ""),
		TelegramAPIURL:    getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
		SendRatePerMinute: getEnvAsInt("SEND_RATE_PER_MINUTE", 20),

		AIProvider:   strings.ToLower(getEnv("AI_PROVIDER", "claude")),
		AIApiKey:     getEnv("AI_API_KEY", ""),
		AIModel:      getEnv("AI_MODEL", ""),
		AITimeout:    getEnvAsDuration("AI_TIMEOUT", 60*time.Second),
		AIMaxTokens:  getEnvAsInt("AI_MAX_TOKENS", 1500),
		PostLanguage: getEnv("POST_LANGUAGE", "Russian"),

		LedgerBackend: strings.ToLower(getEnv("LEDGER_BACKEND", "sqlite")),
		DatabasePath:  getEnv("DATABASE_PATH", "bot_data.db"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisPrefix:   getEnv("REDIS_PREFIX", "chanpost:"),
		RetentionDays: getEnvAsInt("RETENTION_DAYS", 0),

		GitHubEnabled:  getEnvAsBool("GITHUB_ENABLED", true),
		GitHubLanguage: getEnv("GITHUB_LANGUAGE", "python"),
		GitHubPeriod:   getEnv("GITHUB_PERIOD", "daily"),
		GitHubLimit:    getEnvAsInt("GITHUB_LIMIT", 25),
		GitHubToken:    getEnv("GITHUB_TOKEN", ""),
		HabrEnabled:    getEnvAsBool("HABR_ENABLED", true),
		HabrPeriod:     getEnv("HABR_PERIOD", "daily"),
		HabrLimit:      getEnvAsInt("HABR_LIMIT", 10),

		PostsPerCycle:        getEnvAsInt("POSTS_PER_CYCLE", 3),
		DelayBetweenPosts:    getEnvAsInt("DELAY_BETWEEN_POSTS", 300),
		PostingIntervalHours: getEnvAsInt("POSTING_INTERVAL_HOURS", 6),
		RunMode:              strings.ToLower(getEnv("RUN_MODE", "continuous")),

		StatusEnabled:   getEnvAsBool("STATUS_ENABLED", true),
		StatusAPIKey:    getEnv("STATUS_API_KEY", ""),
		Port:            getEnv("PORT", "8080"),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		HTTPTimeout:     getEnvAsDuration("HTTP_TIMEOUT", 30*time.Second),

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFile:   getEnv("LOG_FILE", ""),
		LogPretty: getEnvAsBool("LOG_PRETTY", true),
	}

	if err := check(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

var validate = validator.New()

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if !c.GitHubEnabled && !c.HabrEnabled {
		return errors.New("at least one source must be enabled")
	}
	return nil
}

// ValidateMaintenance validates everything except the publishing target.
func (c *Config) ValidateMaintenance() error {
	return validate.StructExcept(c, "TelegramToken", "ChannelID")
}

// DelayBetween returns the pause between posts of one cycle.
func (c *Config) DelayBetween() time.Duration {
	return time.Duration(c.DelayBetweenPosts) * time.Second
}

// PostingInterval returns the pause between cycles.
func (c *Config) PostingInterval() time.Duration {
	return time.Duration(c.PostingIntervalHours) * time.Hour
}

// Retention returns the ledger retention, zero when records are kept forever.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Helper functions for environment variable handling
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultVal int) int {
	valueStr := getEnv(name, "")
	if valueStr == "" {
		return defaultVal
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Warn().Err(err).Str("key", name).Int("default", defaultVal).Msg("Invalid integer, using default")
		return defaultVal
	}
	return value
}

func getEnvAsBool(name string, defaultVal bool) bool {
	valueStr := getEnv(name, "")
	if valueStr == "" {
		return defaultVal
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Warn().Err(err).Str("key", name).Bool("default", defaultVal).Msg("Invalid boolean, using default")
		return defaultVal
	}
	return value
}

// getEnvAsDuration accepts Go durations ("90s") and bare seconds ("90").
func getEnvAsDuration(name string, defaultVal time.Duration) time.Duration {
	valueStr := getEnv(name, "")
	if valueStr == "" {
		return defaultVal
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Warn().Err(err).Str("key", name).Dur("default", defaultVal).Msg("Invalid duration, using default")
		return defaultVal
	}
	return value
}
