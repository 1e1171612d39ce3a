package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	once   sync.Once
	logger = zerolog.Nop()
)

// Config holds the configuration for the logger
type Config struct {
	Level  string
	Output string // "stdout", "stderr", or file path; empty means stdout
	Pretty bool   // Enable pretty logging for development
}

// Init initializes the global logger. Only the first call has any effect.
func Init(cfg Config) error {
	var err error
	once.Do(func() {
		var l zerolog.Logger
		l, err = New(cfg)
		if err != nil {
			return
		}
		logger = l
		zerolog.DefaultContextLogger = &logger
	})
	return err
}

// New builds a logger from cfg without touching the global one.
func New(cfg Config) (zerolog.Logger, error) {
	level, parseErr := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if parseErr != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	output, err := openOutput(cfg.Output)
	if err != nil {
		return zerolog.Nop(), err
	}

	var l zerolog.Logger
	if cfg.Pretty {
		l = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: "2006-01-02 15:04:05",
		})
	} else {
		l = zerolog.New(output)
	}

	// Add timestamp and caller info
	return l.Level(level).With().
		Timestamp().
		Caller().
		Logger(), nil
}

func openOutput(target string) (io.Writer, error) {
	switch target {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}

	if dir := filepath.Dir(target); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	file, err := os.OpenFile(target, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

// Get returns the logger instance
func Get() *zerolog.Logger {
	return &logger
}
