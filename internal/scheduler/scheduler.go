// Package scheduler runs publishing cycles: collect, shuffle, then for each
// unpublished item rewrite, send and record until the quota is met.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bilgisen/chanpost/internal/feed"
	"github.com/bilgisen/chanpost/internal/metrics"
	"github.com/bilgisen/chanpost/internal/models"
	"github.com/bilgisen/chanpost/internal/storage"
)

const (
	RunModeOnce       = "once"
	RunModeContinuous = "continuous"

	DefaultCooldown = 5 * time.Minute
)

// Rewriter turns an item into a post. It must not fail.
type Rewriter interface {
	Rewrite(ctx context.Context, item models.ContentItem) models.FormattedPost
}

// Sink delivers a post body to the target channel.
type Sink interface {
	Send(ctx context.Context, target, body string) error
}

type Config struct {
	PostsPerCycle     int
	DelayBetweenPosts time.Duration
	PostingInterval   time.Duration
	Cooldown          time.Duration
	RunMode           string
	Target            string
}

// CycleResult summarizes one pass.
type CycleResult struct {
	CycleID   string
	Collected int
	Published int
	Skipped   int
	Failed    int
	Fallbacks int
}

// State is a snapshot of the scheduler's progress.
type State struct {
	Cycles        int       `json:"cycles"`
	LastRunAt     time.Time `json:"last_run_at"`
	LastPublished int       `json:"last_published"`
	LastError     string    `json:"last_error,omitempty"`
	NextRunAt     time.Time `json:"next_run_at"`
}

type Scheduler struct {
	cfg        Config
	collectors []feed.Collector
	ledger     storage.Ledger
	rewriter   Rewriter
	sink       Sink
	clock      Clock
	shuffle    func([]models.ContentItem)
	metrics    *metrics.Metrics
	log        zerolog.Logger

	mu    sync.Mutex
	state State
}

type Option func(*Scheduler)

func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithShuffle replaces the random ordering of collected items.
func WithShuffle(fn func([]models.ContentItem)) Option {
	return func(s *Scheduler) { s.shuffle = fn }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func New(cfg Config, collectors []feed.Collector, ledger storage.Ledger, rewriter Rewriter, sink Sink, log zerolog.Logger, opts ...Option) *Scheduler {
	if cfg.PostsPerCycle <= 0 {
		cfg.PostsPerCycle = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.RunMode == "" {
		cfg.RunMode = RunModeContinuous
	}
	s := &Scheduler{
		cfg:        cfg,
		collectors: collectors,
		ledger:     ledger,
		rewriter:   rewriter,
		sink:       sink,
		clock:      realClock{},
		shuffle:    randomShuffle,
		log:        log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func randomShuffle(items []models.ContentItem) {
	rand.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
}

// State returns a copy of the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run dispatches on the configured run mode.
func (s *Scheduler) Run(ctx context.Context) error {
	switch s.cfg.RunMode {
	case RunModeOnce:
		_, err := s.runGuarded(ctx)
		return err
	case RunModeContinuous:
		return s.RunContinuous(ctx)
	default:
		return fmt.Errorf("unknown run mode %q", s.cfg.RunMode)
	}
}

// RunContinuous repeats cycles until ctx is cancelled. A failed cycle is
// followed by the cooldown instead of the posting interval; it never ends the
// loop.
func (s *Scheduler) RunContinuous(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		wait := s.cfg.PostingInterval
		if _, err := s.runGuarded(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Error().Err(err).Dur("cooldown", s.cfg.Cooldown).Msg("Cycle failed, cooling down")
			wait = s.cfg.Cooldown
		}

		next := s.clock.Now().Add(wait)
		s.mu.Lock()
		s.state.NextRunAt = next
		s.mu.Unlock()
		s.log.Info().Time("next_run_at", next).Msg("Waiting for next cycle")

		if err := s.clock.Sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

// runGuarded runs one cycle, turning a panic into an error, and updates state.
func (s *Scheduler) runGuarded(ctx context.Context) (result CycleResult, err error) {
	started := s.clock.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("cycle panic: %v", p)
		}

		outcome := metrics.OutcomeOK
		s.mu.Lock()
		s.state.Cycles++
		s.state.LastRunAt = started
		s.state.LastPublished = result.Published
		s.state.LastError = ""
		if err != nil {
			s.state.LastError = err.Error()
			outcome = metrics.OutcomeFailed
		}
		s.mu.Unlock()
		s.metrics.Cycle(outcome)
	}()

	return s.RunCycle(ctx)
}

// RunCycle performs one pass. Collector failures are contained; a ledger
// failure aborts the cycle and is returned.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleResult, error) {
	result := CycleResult{CycleID: uuid.NewString()}
	log := s.log.With().Str("cycle_id", result.CycleID).Logger()
	log.Info().Int("quota", s.cfg.PostsPerCycle).Msg("Starting cycle")

	items := s.collect(ctx, log)
	result.Collected = len(items)
	s.shuffle(items)

	for _, item := range items {
		if result.Published >= s.cfg.PostsPerCycle {
			break
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		itemLog := log.With().
			Str("source", item.Source.String()).
			Str("identifier", item.Identifier).
			Logger()

		seen, err := s.ledger.Exists(ctx, item.Identifier)
		if err != nil {
			return result, err
		}
		if seen {
			result.Skipped++
			s.metrics.Skipped(item.Source)
			itemLog.Debug().Msg("Already published, skipping")
			continue
		}

		post := s.rewriter.Rewrite(ctx, item)
		if post.Fallback {
			result.Fallbacks++
			s.metrics.Fallback(item.Source)
		}

		// Another process may have published it while we were rewriting.
		seen, err = s.ledger.Exists(ctx, item.Identifier)
		if err != nil {
			return result, err
		}
		if seen {
			result.Skipped++
			s.metrics.Skipped(item.Source)
			continue
		}

		if err := s.sink.Send(ctx, s.cfg.Target, post.Body); err != nil {
			result.Failed++
			s.metrics.PublishFailed(item.Source)
			itemLog.Error().Err(err).Msg("Failed to publish post")
			continue
		}

		rec := models.PublishRecord{
			Identifier:  item.Identifier,
			Title:       item.Title,
			Source:      item.Source,
			PublishedAt: s.clock.Now(),
		}
		// The post is out; an interrupt must not lose the record.
		if err := s.ledger.Record(context.WithoutCancel(ctx), rec); err != nil {
			return result, err
		}
		result.Published++
		s.metrics.Published(item.Source)
		itemLog.Info().Bool("fallback", post.Fallback).Msg("Published post")

		if result.Published < s.cfg.PostsPerCycle {
			if err := s.clock.Sleep(ctx, s.cfg.DelayBetweenPosts); err != nil {
				return result, err
			}
		}
	}

	log.Info().
		Int("collected", result.Collected).
		Int("published", result.Published).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("Cycle finished")
	return result, nil
}

func (s *Scheduler) collect(ctx context.Context, log zerolog.Logger) []models.ContentItem {
	var items []models.ContentItem
	for _, c := range s.collectors {
		got, err := c.Collect(ctx)
		if err != nil {
			var ce *feed.CollectionError
			if !errors.As(err, &ce) {
				err = &feed.CollectionError{Source: c.Source(), Err: err}
			}
			s.metrics.CollectionFailed(c.Source())
			log.Warn().Err(err).Str("source", c.Source().String()).Msg("Collector failed, continuing without it")
			continue
		}
		log.Debug().Str("source", c.Source().String()).Int("items", len(got)).Msg("Collected items")
		items = append(items, got...)
	}
	return items
}
