// Package storage defines the dedup ledger of published items.
//
// A ledger answers one question, "was this identifier published before?",
// and records publications idempotently: the first writer for an identifier
// wins and later inserts are absorbed without error. Backends live in the
// sqlite, redis and memory subpackages.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/bilgisen/chanpost/internal/models"
)

// DefaultListLimit is used by ListRecent when the caller passes limit <= 0.
const DefaultListLimit = 10

// Ledger is the persistent record of published items.
type Ledger interface {
	// Exists reports whether a record for identifier exists.
	Exists(ctx context.Context, identifier string) (bool, error)
	// Record stores rec. An existing record for the same identifier is left
	// unchanged and no error is returned.
	Record(ctx context.Context, rec models.PublishRecord) error
	// RecentCounts counts records published within window of now.
	RecentCounts(ctx context.Context, window time.Duration) (models.CountSummary, error)
	// ListRecent returns up to limit records, newest first. Ties on
	// published_at go to the later insertion.
	ListRecent(ctx context.Context, limit int) ([]models.PublishRecord, error)
	// PurgeOlderThan deletes records published before now-age and returns
	// how many were removed.
	PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error)
	Close() error
}

// StorageError wraps any failure of the backing store. A ledger that cannot be
// read must never be treated as "not published".
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Wrap returns a *StorageError for op, or nil when err is nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// NewSummary returns an empty summary for window.
func NewSummary(window time.Duration) models.CountSummary {
	return models.CountSummary{
		Window:   window,
		BySource: make(map[models.SourceTag]int),
	}
}
