package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilgisen/chanpost/internal/ai"
	"github.com/bilgisen/chanpost/internal/feed"
	"github.com/bilgisen/chanpost/internal/metrics"
	"github.com/bilgisen/chanpost/internal/models"
	"github.com/bilgisen/chanpost/internal/storage"
	"github.com/bilgisen/chanpost/internal/storage/memory"
)

var epoch = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	onSleep func(n int) // called with the number of sleeps so far
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	n := len(c.sleeps)
	hook := c.onSleep
	c.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type fakeSink struct {
	mu     sync.Mutex
	sent   []string
	fail   func(body string) error
	onSend func()
}

func (s *fakeSink) Send(_ context.Context, target, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onSend != nil {
		s.onSend()
	}
	if s.fail != nil {
		if err := s.fail(body); err != nil {
			return err
		}
	}
	s.sent = append(s.sent, body)
	return nil
}

type fakeCollector struct {
	source models.SourceTag
	items  []models.ContentItem
	err    error
	calls  int
}

func (c *fakeCollector) Source() models.SourceTag { return c.source }

func (c *fakeCollector) Collect(context.Context) ([]models.ContentItem, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return append([]models.ContentItem(nil), c.items...), nil
}

// echoRewriter uses the identifier as the post body.
type echoRewriter struct{ fallback bool }

func (r echoRewriter) Rewrite(_ context.Context, item models.ContentItem) models.FormattedPost {
	return models.FormattedPost{Title: item.Title, Body: item.Identifier, Identifier: item.Identifier, Source: item.Source, Fallback: r.fallback}
}

func makeItems(source models.SourceTag, n int) []models.ContentItem {
	items := make([]models.ContentItem, n)
	for i := range items {
		items[i] = models.ContentItem{
			Identifier: fmt.Sprintf("https://example.com/%s/%d", source, i),
			Title:      fmt.Sprintf("Item %d", i),
			Source:     source,
		}
	}
	return items
}

func noShuffle([]models.ContentItem) {}

// strictLedger refuses writes on a cancelled context, like the SQL and Redis
// backends do.
type strictLedger struct {
	*memory.Ledger
}

func (l strictLedger) Record(ctx context.Context, rec models.PublishRecord) error {
	if err := ctx.Err(); err != nil {
		return storage.Wrap("record", err)
	}
	return l.Ledger.Record(ctx, rec)
}

type harness struct {
	sched  *Scheduler
	ledger *memory.Ledger
	sink   *fakeSink
	clock  *fakeClock
}

func newHarness(t *testing.T, cfg Config, collectors ...feed.Collector) *harness {
	t.Helper()
	h := &harness{
		ledger: memory.New(),
		sink:   &fakeSink{},
		clock:  &fakeClock{now: epoch},
	}
	h.ledger.WithClock(h.clock.Now)
	if cfg.Target == "" {
		cfg.Target = "@test"
	}
	h.sched = New(cfg, collectors, h.ledger, echoRewriter{}, h.sink, zerolog.Nop(),
		WithClock(h.clock), WithShuffle(noShuffle))
	return h
}

func TestRunCycle_StopsAtQuota(t *testing.T) {
	gh := &fakeCollector{source: models.SourceGitHub, items: makeItems(models.SourceGitHub, 5)}
	h := newHarness(t, Config{PostsPerCycle: 3, DelayBetweenPosts: 300 * time.Second}, gh)

	res, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, res.Collected)
	assert.Equal(t, 3, res.Published)
	assert.Len(t, h.sink.sent, 3)
	assert.Equal(t, []time.Duration{300 * time.Second, 300 * time.Second}, h.clock.Sleeps())
	assert.Equal(t, 3, h.ledger.Len())
	assert.NotEmpty(t, res.CycleID)
}

func TestRunCycle_SkipsPublished(t *testing.T) {
	items := makeItems(models.SourceHabr, 3)
	h := newHarness(t, Config{PostsPerCycle: 3}, &fakeCollector{source: models.SourceHabr, items: items})
	require.NoError(t, h.ledger.Record(context.Background(), models.PublishRecord{
		Identifier: items[1].Identifier, Source: models.SourceHabr, PublishedAt: epoch.Add(-time.Hour),
	}))

	res, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 2, res.Published)
	assert.Equal(t, []string{items[0].Identifier, items[2].Identifier}, h.sink.sent)
}

// racingRewriter records one identifier while rewriting it, as if another
// process published the item in the meantime.
type racingRewriter struct {
	echoRewriter
	ledger storage.Ledger
	target string
}

func (r racingRewriter) Rewrite(ctx context.Context, item models.ContentItem) models.FormattedPost {
	if item.Identifier == r.target {
		_ = r.ledger.Record(ctx, models.PublishRecord{
			Identifier: item.Identifier, Source: item.Source, PublishedAt: epoch,
		})
	}
	return r.echoRewriter.Rewrite(ctx, item)
}

func TestRunCycle_PublishedDuringRewriteIsSkipped(t *testing.T) {
	items := makeItems(models.SourceGitHub, 3)
	h := newHarness(t, Config{PostsPerCycle: 3}, &fakeCollector{source: models.SourceGitHub, items: items})
	h.sched.rewriter = racingRewriter{ledger: h.ledger, target: items[1].Identifier}

	res, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 2, res.Published)
	assert.Equal(t, []string{items[0].Identifier, items[2].Identifier}, h.sink.sent)
	assert.Equal(t, 3, h.ledger.Len())
}

func TestRunCycle_DuplicateAcrossCollectorsSentOnce(t *testing.T) {
	shared := models.ContentItem{Identifier: "https://github.com/acme/tool", Title: "tool", Source: models.SourceGitHub}
	first := &fakeCollector{source: models.SourceGitHub, items: []models.ContentItem{shared}}
	second := &fakeCollector{source: models.SourceHabr, items: []models.ContentItem{shared}}
	h := newHarness(t, Config{PostsPerCycle: 3}, first, second)

	res, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Collected)
	assert.Equal(t, 1, res.Published)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []string{shared.Identifier}, h.sink.sent)
}

func TestRunCycle_SecondCycleFindsNothingNew(t *testing.T) {
	gh := &fakeCollector{source: models.SourceGitHub, items: makeItems(models.SourceGitHub, 2)}
	h := newHarness(t, Config{PostsPerCycle: 3}, gh)

	_, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	res, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Published)
	assert.Equal(t, 2, res.Skipped)
	assert.Len(t, h.sink.sent, 2)
}

func TestRunCycle_SinkFailureIsNotRecorded(t *testing.T) {
	items := makeItems(models.SourceGitHub, 2)
	h := newHarness(t, Config{PostsPerCycle: 3}, &fakeCollector{source: models.SourceGitHub, items: items})
	failing := true
	h.sink.fail = func(body string) error {
		if failing && body == items[0].Identifier {
			return errors.New("telegram down")
		}
		return nil
	}

	res, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Published)

	ok, err := h.ledger.Exists(context.Background(), items[0].Identifier)
	require.NoError(t, err)
	assert.False(t, ok)

	// Eligible again once the sink recovers.
	failing = false
	res, err = h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Published)
	assert.Equal(t, []string{items[1].Identifier, items[0].Identifier}, h.sink.sent)
}

func TestRunCycle_CollectorFailureIsContained(t *testing.T) {
	broken := &fakeCollector{source: models.SourceHabr, err: errors.New("connection refused")}
	gh := &fakeCollector{source: models.SourceGitHub, items: makeItems(models.SourceGitHub, 1)}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := newHarness(t, Config{PostsPerCycle: 3}, broken, gh)
	h.sched.metrics = m

	res, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Published)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CollectionFailures.WithLabelValues("habr")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PostsPublished.WithLabelValues("github")))
}

func TestRunCycle_StorageErrorAborts(t *testing.T) {
	gh := &fakeCollector{source: models.SourceGitHub, items: makeItems(models.SourceGitHub, 2)}
	h := newHarness(t, Config{PostsPerCycle: 3}, gh)
	h.ledger.Fail = errors.New("disk I/O error")

	_, err := h.sched.RunCycle(context.Background())

	var se *storage.StorageError
	require.True(t, errors.As(err, &se))
	assert.Empty(t, h.sink.sent)
}

func TestRunCycle_RecordSurvivesCancel(t *testing.T) {
	items := makeItems(models.SourceGitHub, 2)
	h := newHarness(t, Config{PostsPerCycle: 3, DelayBetweenPosts: time.Minute},
		&fakeCollector{source: models.SourceGitHub, items: items})

	h.sched.ledger = strictLedger{h.ledger}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.sink.onSend = cancel

	res, err := h.sched.RunCycle(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Published)

	ok, err := h.ledger.Exists(context.Background(), items[0].Identifier)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, h.sink.sent, 1)
}

func TestRunCycle_CountsFallbacks(t *testing.T) {
	gh := &fakeCollector{source: models.SourceGitHub, items: []models.ContentItem{{
		Identifier:  "https://github.com/a/b",
		Title:       "a/b",
		Description: "Tool v1.0!",
		Source:      models.SourceGitHub,
	}}}
	h := newHarness(t, Config{PostsPerCycle: 1}, gh)
	h.sched.rewriter = ai.NewRewriter(nil, ai.RewriterConfig{}, zerolog.Nop())

	res, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fallbacks)
	require.Len(t, h.sink.sent, 1)
	assert.Contains(t, h.sink.sent[0], `Tool v1\.0\!`)
	assert.Empty(t, h.clock.Sleeps())
}

func TestRunContinuous_CooldownAfterFailureThenInterval(t *testing.T) {
	gh := &fakeCollector{source: models.SourceGitHub, items: makeItems(models.SourceGitHub, 1)}
	h := newHarness(t, Config{PostsPerCycle: 1, PostingInterval: 6 * time.Hour}, gh)
	h.ledger.Fail = errors.New("locked")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.clock.onSleep = func(n int) {
		switch n {
		case 1:
			h.ledger.Fail = nil
		case 2:
			cancel()
		}
	}

	require.NoError(t, h.sched.RunContinuous(ctx))

	assert.Equal(t, []time.Duration{DefaultCooldown, 6 * time.Hour}, h.clock.Sleeps())
	assert.Equal(t, 2, gh.calls)

	st := h.sched.State()
	assert.Equal(t, 2, st.Cycles)
	assert.Equal(t, 1, st.LastPublished)
	assert.Empty(t, st.LastError)
	assert.Equal(t, epoch.Add(DefaultCooldown+6*time.Hour), st.NextRunAt)
}

type panicCollector struct{}

func (panicCollector) Source() models.SourceTag { return models.SourceHabr }

func (panicCollector) Collect(context.Context) ([]models.ContentItem, error) {
	panic("boom")
}

func TestRunContinuous_RecoversPanic(t *testing.T) {
	h := newHarness(t, Config{PostsPerCycle: 1}, panicCollector{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.clock.onSleep = func(int) { cancel() }

	require.NoError(t, h.sched.RunContinuous(ctx))

	st := h.sched.State()
	assert.Equal(t, 1, st.Cycles)
	assert.Contains(t, st.LastError, "cycle panic: boom")
	assert.Equal(t, []time.Duration{DefaultCooldown}, h.clock.Sleeps())
}

func TestRunContinuous_ReturnsOnCancelledContext(t *testing.T) {
	gh := &fakeCollector{source: models.SourceGitHub}
	h := newHarness(t, Config{}, gh)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.sched.RunContinuous(ctx))
	assert.Zero(t, gh.calls)
}

func TestRun_Modes(t *testing.T) {
	gh := &fakeCollector{source: models.SourceGitHub, items: makeItems(models.SourceGitHub, 1)}
	h := newHarness(t, Config{RunMode: RunModeOnce, PostsPerCycle: 1}, gh)
	require.NoError(t, h.sched.Run(context.Background()))
	assert.Equal(t, 1, h.sched.State().Cycles)
	assert.Empty(t, h.clock.Sleeps())

	bad := newHarness(t, Config{RunMode: "hourly"})
	assert.Error(t, bad.sched.Run(context.Background()))
}

func TestRealClock_SleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := realClock{}.Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
