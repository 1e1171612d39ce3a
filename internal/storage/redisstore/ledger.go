// Package redisstore implements the dedup ledger on Redis for deployments
// where several processes share one ledger.
package redisstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bilgisen/chanpost/internal/models"
	"github.com/bilgisen/chanpost/internal/storage"
)

// recordScript inserts a record only if its key is absent. Running it as one
// script keeps the record, its index entry and its sequence number atomic.
var recordScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
local seq = redis.call('INCR', KEYS[3])
redis.call('HSET', KEYS[1], 'identifier', ARGV[1], 'title', ARGV[2], 'source', ARGV[3], 'published_at', ARGV[4], 'seq', seq)
redis.call('ZADD', KEYS[2], ARGV[5], KEYS[1])
return 1
`)

type Ledger struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ storage.Ledger = (*Ledger)(nil)

// Connect parses a redis:// URL, checks the connection and returns a ledger.
func Connect(url, prefix string) (*Ledger, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, storage.Wrap("connect", fmt.Errorf("failed to parse Redis URL: %w", err))
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, storage.Wrap("connect", fmt.Errorf("failed to connect to Redis: %w", err))
	}

	return New(client, prefix), nil
}

// New returns a ledger on an existing client. Keys are namespaced by prefix.
func New(client redis.UniversalClient, prefix string) *Ledger {
	return &Ledger{client: client, prefix: prefix, now: time.Now}
}

func (l *Ledger) Close() error {
	return l.client.Close()
}

func (l *Ledger) recordKey(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return l.prefix + "post:" + hex.EncodeToString(sum[:])
}

func (l *Ledger) indexKey() string { return l.prefix + "published" }
func (l *Ledger) seqKey() string   { return l.prefix + "seq" }

func (l *Ledger) Exists(ctx context.Context, identifier string) (bool, error) {
	n, err := l.client.Exists(ctx, l.recordKey(identifier)).Result()
	if err != nil {
		return false, storage.Wrap("exists", fmt.Errorf("redis exists error: %w", err))
	}
	return n > 0, nil
}

func (l *Ledger) Record(ctx context.Context, rec models.PublishRecord) error {
	if rec.Identifier == "" {
		return storage.Wrap("record", fmt.Errorf("identifier required"))
	}
	publishedAt := rec.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = l.now()
	}

	keys := []string{l.recordKey(rec.Identifier), l.indexKey(), l.seqKey()}
	err := recordScript.Run(ctx, l.client, keys,
		rec.Identifier,
		rec.Title,
		string(rec.Source),
		publishedAt.UnixNano(),
		publishedAt.UnixMicro(),
	).Err()
	if err != nil {
		return storage.Wrap("record", err)
	}
	return nil
}

func (l *Ledger) RecentCounts(ctx context.Context, window time.Duration) (models.CountSummary, error) {
	summary := storage.NewSummary(window)
	since := l.now().Add(-window).UnixMicro()

	keys, err := l.client.ZRangeByScore(ctx, l.indexKey(), &redis.ZRangeBy{
		Min: strconv.FormatInt(since, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return summary, storage.Wrap("recent_counts", err)
	}
	if len(keys) == 0 {
		return summary, nil
	}

	pipe := l.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGet(ctx, key, "source")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return summary, storage.Wrap("recent_counts", err)
	}

	for _, cmd := range cmds {
		source, err := cmd.Result()
		if err == redis.Nil {
			// purged between the range and the lookup
			continue
		}
		if err != nil {
			return summary, storage.Wrap("recent_counts", err)
		}
		summary.BySource[models.SourceTag(source)]++
		summary.Total++
	}
	return summary, nil
}

func (l *Ledger) ListRecent(ctx context.Context, limit int) ([]models.PublishRecord, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	top, err := l.client.ZRevRangeWithScores(ctx, l.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, storage.Wrap("list_recent", err)
	}
	if len(top) == 0 {
		return []models.PublishRecord{}, nil
	}

	// Members sharing the lowest score may sort arbitrarily in the zset, so
	// pull every member at or above it and order by sequence ourselves.
	floor := top[len(top)-1].Score
	keys, err := l.client.ZRangeByScore(ctx, l.indexKey(), &redis.ZRangeBy{
		Min: strconv.FormatFloat(floor, 'f', -1, 64),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, storage.Wrap("list_recent", err)
	}

	type entry struct {
		rec models.PublishRecord
		seq int64
	}

	pipe := l.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, storage.Wrap("list_recent", err)
	}

	entries := make([]entry, 0, len(keys))
	for _, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil {
			return nil, storage.Wrap("list_recent", err)
		}
		if len(fields) == 0 {
			continue
		}
		nanos, err := strconv.ParseInt(fields["published_at"], 10, 64)
		if err != nil {
			return nil, storage.Wrap("list_recent", fmt.Errorf("corrupt published_at: %w", err))
		}
		seq, _ := strconv.ParseInt(fields["seq"], 10, 64)
		entries = append(entries, entry{
			rec: models.PublishRecord{
				Identifier:  fields["identifier"],
				Title:       fields["title"],
				Source:      models.SourceTag(fields["source"]),
				PublishedAt: time.Unix(0, nanos),
			},
			seq: seq,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.rec.PublishedAt.Equal(b.rec.PublishedAt) {
			return a.rec.PublishedAt.After(b.rec.PublishedAt)
		}
		return a.seq > b.seq
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]models.PublishRecord, len(entries))
	for i, e := range entries {
		out[i] = e.rec
	}
	return out, nil
}

func (l *Ledger) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := l.now().Add(-age).UnixMicro()

	keys, err := l.client.ZRangeByScore(ctx, l.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, storage.Wrap("purge", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	members := make([]interface{}, len(keys))
	for i, k := range keys {
		members[i] = k
	}

	var deleted *redis.IntCmd
	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, l.indexKey(), members...)
		return nil
	})
	if err != nil {
		return 0, storage.Wrap("purge", fmt.Errorf("error deleting keys: %w", err))
	}
	return deleted.Val(), nil
}
