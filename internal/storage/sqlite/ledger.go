package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bilgisen/chanpost/internal/models"
	"github.com/bilgisen/chanpost/internal/storage"
)

// Ledger is a storage.Ledger backed by a SQLite database file.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

var _ storage.Ledger = (*Ledger)(nil)

// maxPrealloc bounds the ListRecent slice capacity; limit comes from callers.
const maxPrealloc = 100

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Ledger, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storage.Wrap("open", err)
	}
	// One connection serialises writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	l, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// New wraps an already opened database and applies the schema.
func New(db *sql.DB) (*Ledger, error) {
	l := &Ledger{db: db, now: time.Now}
	if err := l.migrate(); err != nil {
		return nil, storage.Wrap("migrate", err)
	}
	return l, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

func (l *Ledger) migrate() error {
	_, err := l.db.Exec(`
CREATE TABLE IF NOT EXISTS published_posts (
  id           INTEGER PRIMARY KEY AUTOINCREMENT,
  identifier   TEXT NOT NULL UNIQUE,
  title        TEXT NOT NULL,
  source       TEXT NOT NULL,
  published_at INTEGER NOT NULL,
  created_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_published_posts_published_at ON published_posts(published_at DESC);
`)
	return err
}

func (l *Ledger) Exists(ctx context.Context, identifier string) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx,
		`SELECT 1 FROM published_posts WHERE identifier = ? LIMIT 1`, identifier).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storage.Wrap("exists", err)
	}
	return true, nil
}

// Record inserts rec; the unique index on identifier absorbs duplicates.
func (l *Ledger) Record(ctx context.Context, rec models.PublishRecord) error {
	if rec.Identifier == "" {
		return storage.Wrap("record", errors.New("identifier required"))
	}
	publishedAt := rec.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = l.now()
	}

	_, err := l.db.ExecContext(ctx, `
INSERT INTO published_posts(identifier, title, source, published_at, created_at)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(identifier) DO NOTHING
`, rec.Identifier, rec.Title, string(rec.Source), publishedAt.UnixNano(), l.now().UnixNano())
	return storage.Wrap("record", err)
}

func (l *Ledger) RecentCounts(ctx context.Context, window time.Duration) (models.CountSummary, error) {
	summary := storage.NewSummary(window)
	since := l.now().Add(-window).UnixNano()

	rows, err := l.db.QueryContext(ctx, `
SELECT source, COUNT(*) FROM published_posts
WHERE published_at >= ?
GROUP BY source
`, since)
	if err != nil {
		return summary, storage.Wrap("recent_counts", err)
	}
	defer rows.Close()

	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return summary, storage.Wrap("recent_counts", err)
		}
		summary.BySource[models.SourceTag(source)] = n
		summary.Total += n
	}
	return summary, storage.Wrap("recent_counts", rows.Err())
}

func (l *Ledger) ListRecent(ctx context.Context, limit int) ([]models.PublishRecord, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	rows, err := l.db.QueryContext(ctx, `
SELECT identifier, title, source, published_at
FROM published_posts
ORDER BY published_at DESC, id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, storage.Wrap("list_recent", err)
	}
	defer rows.Close()

	out := make([]models.PublishRecord, 0, min(limit, maxPrealloc))
	for rows.Next() {
		var rec models.PublishRecord
		var source string
		var publishedAt int64
		if err := rows.Scan(&rec.Identifier, &rec.Title, &source, &publishedAt); err != nil {
			return nil, storage.Wrap("list_recent", err)
		}
		rec.Source = models.SourceTag(source)
		rec.PublishedAt = time.Unix(0, publishedAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap("list_recent", err)
	}
	return out, nil
}

func (l *Ledger) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := l.now().Add(-age).UnixNano()
	res, err := l.db.ExecContext(ctx, `DELETE FROM published_posts WHERE published_at < ?`, cutoff)
	if err != nil {
		return 0, storage.Wrap("purge", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storage.Wrap("purge", err)
	}
	return n, nil
}
