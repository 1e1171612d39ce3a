package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilgisen/chanpost/internal/models"
	"github.com/bilgisen/chanpost/internal/storage"
)

func newTestLedger(t *testing.T) (*Ledger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := New(client, "test:")
	t.Cleanup(func() { _ = l.Close() })
	return l, mr
}

func rec(id string, source models.SourceTag, at time.Time) models.PublishRecord {
	return models.PublishRecord{Identifier: id, Title: "title " + id, Source: source, PublishedAt: at}
}

func TestLedger_RecordFirstWriterWins(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	exists, err := l.Exists(ctx, "https://github.com/a/b")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, l.Record(ctx, rec("https://github.com/a/b", models.SourceGitHub, now)))

	dup := rec("https://github.com/a/b", models.SourceHabr, now.Add(time.Hour))
	dup.Title = "second writer"
	require.NoError(t, l.Record(ctx, dup))

	exists, err = l.Exists(ctx, "https://github.com/a/b")
	require.NoError(t, err)
	assert.True(t, exists)

	recs, err := l.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "title https://github.com/a/b", recs[0].Title)
	assert.Equal(t, models.SourceGitHub, recs[0].Source)
	assert.Equal(t, now.UnixNano(), recs[0].PublishedAt.UnixNano())
}

func TestLedger_ListRecentTiesByInsertion(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)

	require.NoError(t, l.Record(ctx, rec("a", models.SourceGitHub, base)))
	require.NoError(t, l.Record(ctx, rec("b", models.SourceGitHub, base.Add(time.Second))))
	require.NoError(t, l.Record(ctx, rec("c", models.SourceHabr, base.Add(time.Second))))
	require.NoError(t, l.Record(ctx, rec("d", models.SourceHabr, base.Add(time.Second))))

	recs, err := l.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "d", recs[0].Identifier)
	assert.Equal(t, "c", recs[1].Identifier)

	recs, err = l.ListRecent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.Equal(t, "a", recs[3].Identifier)
}

func TestLedger_ListRecentEmpty(t *testing.T) {
	l, _ := newTestLedger(t)
	recs, err := l.ListRecent(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestLedger_RecentCountsAndPurge(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	now := time.Now()
	l.now = func() time.Time { return now }

	require.NoError(t, l.Record(ctx, rec("g1", models.SourceGitHub, now.Add(-time.Hour))))
	require.NoError(t, l.Record(ctx, rec("h1", models.SourceHabr, now.Add(-2*time.Hour))))
	require.NoError(t, l.Record(ctx, rec("h2", models.SourceHabr, now.Add(-3*time.Hour))))
	require.NoError(t, l.Record(ctx, rec("old", models.SourceGitHub, now.Add(-30*24*time.Hour))))

	summary, err := l.RecentCounts(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.BySource[models.SourceGitHub])
	assert.Equal(t, 2, summary.BySource[models.SourceHabr])

	n, err := l.PurgeOlderThan(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	exists, err := l.Exists(ctx, "old")
	require.NoError(t, err)
	assert.False(t, exists)

	n, err = l.PurgeOlderThan(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	summary, err = l.RecentCounts(ctx, 365*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
}

func TestLedger_UnavailableStore(t *testing.T) {
	l, mr := newTestLedger(t)
	mr.Close()

	_, err := l.Exists(context.Background(), "x")
	var se *storage.StorageError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, "exists", se.Op)

	err = l.Record(context.Background(), rec("x", models.SourceGitHub, time.Now()))
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "record", se.Op)
}

func TestConnect_BadURL(t *testing.T) {
	_, err := Connect("not-a-url", "p:")
	var se *storage.StorageError
	assert.True(t, errors.As(err, &se))
}
