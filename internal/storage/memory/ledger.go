// Package memory provides an in-process ledger for tests and dry runs
// where Redis or SQLite is not available.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/bilgisen/chanpost/internal/models"
	"github.com/bilgisen/chanpost/internal/storage"
)

type entry struct {
	rec models.PublishRecord
	seq int64
}

type Ledger struct {
	mu      sync.RWMutex
	records map[string]entry
	seq     int64
	now     func() time.Time

	// Fail, when set, is returned (wrapped as a StorageError) by every call.
	Fail error
}

var _ storage.Ledger = (*Ledger)(nil)

func New() *Ledger {
	return &Ledger{records: make(map[string]entry), now: time.Now}
}

// WithClock replaces the time source used for windows and cutoffs.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func (l *Ledger) Close() error { return nil }

func (l *Ledger) Exists(_ context.Context, identifier string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.Fail != nil {
		return false, storage.Wrap("exists", l.Fail)
	}
	_, ok := l.records[identifier]
	return ok, nil
}

func (l *Ledger) Record(_ context.Context, rec models.PublishRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Fail != nil {
		return storage.Wrap("record", l.Fail)
	}
	if rec.Identifier == "" {
		return storage.Wrap("record", errors.New("identifier required"))
	}
	if _, ok := l.records[rec.Identifier]; ok {
		return nil
	}
	if rec.PublishedAt.IsZero() {
		rec.PublishedAt = l.now()
	}
	l.seq++
	l.records[rec.Identifier] = entry{rec: rec, seq: l.seq}
	return nil
}

func (l *Ledger) RecentCounts(_ context.Context, window time.Duration) (models.CountSummary, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	summary := storage.NewSummary(window)
	if l.Fail != nil {
		return summary, storage.Wrap("recent_counts", l.Fail)
	}
	since := l.now().Add(-window)
	for _, e := range l.records {
		if e.rec.PublishedAt.Before(since) {
			continue
		}
		summary.Total++
		summary.BySource[e.rec.Source]++
	}
	return summary, nil
}

func (l *Ledger) ListRecent(_ context.Context, limit int) ([]models.PublishRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.Fail != nil {
		return nil, storage.Wrap("list_recent", l.Fail)
	}
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	entries := make([]entry, 0, len(l.records))
	for _, e := range l.records {
		entries = append(entries, e)
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

func (l *Ledger) PurgeOlderThan(_ context.Context, age time.Duration) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Fail != nil {
		return 0, storage.Wrap("purge", l.Fail)
	}
	cutoff := l.now().Add(-age)
	var n int64
	for id, e := range l.records {
		if e.rec.PublishedAt.Before(cutoff) {
			delete(l.records, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
