// Package postgres is a ledger backend for deployments that already run
// PostgreSQL. The schema mirrors the SQLite one.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/bilgisen/chanpost/internal/models"
	"github.com/bilgisen/chanpost/internal/storage"
)

const (
	DefaultMaxOpenConns    = 5
	DefaultMaxIdleConns    = 2
	DefaultConnMaxLifetime = 5 * time.Minute
)

type Ledger struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ storage.Ledger = (*Ledger)(nil)

type recordRow struct {
	Identifier  string    `db:"identifier"`
	Title       string    `db:"title"`
	Source      string    `db:"source"`
	PublishedAt time.Time `db:"published_at"`
}

type countRow struct {
	Source string `db:"source"`
	N      int    `db:"n"`
}

// Open connects to dsn (a postgres:// URL or key=value string) and applies
// the schema.
func Open(dsn string) (*Ledger, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, storage.Wrap("connect", err)
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	l, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// New wraps an open database and applies the schema.
func New(db *sqlx.DB) (*Ledger, error) {
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
  id           BIGSERIAL PRIMARY KEY,
  identifier   TEXT NOT NULL UNIQUE,
  title        TEXT NOT NULL,
  source       TEXT NOT NULL,
  published_at TIMESTAMPTZ NOT NULL,
  created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_published_posts_published_at ON published_posts (published_at DESC);
`)
	return err
}

func (l *Ledger) Exists(ctx context.Context, identifier string) (bool, error) {
	var exists bool
	err := l.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM published_posts WHERE identifier = $1)`, identifier)
	if err != nil {
		return false, storage.Wrap("exists", err)
	}
	return exists, nil
}

func (l *Ledger) Record(ctx context.Context, rec models.PublishRecord) error {
	if rec.Identifier == "" {
		return storage.Wrap("record", errors.New("identifier required"))
	}
	if rec.PublishedAt.IsZero() {
		rec.PublishedAt = l.now()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO published_posts (identifier, title, source, published_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identifier) DO NOTHING`,
		rec.Identifier, rec.Title, rec.Source.String(), rec.PublishedAt.UTC())
	return storage.Wrap("record", err)
}

func (l *Ledger) RecentCounts(ctx context.Context, window time.Duration) (models.CountSummary, error) {
	summary := storage.NewSummary(window)

	var rows []countRow
	err := l.db.SelectContext(ctx, &rows, `
		SELECT source, COUNT(*) AS n
		FROM published_posts
		WHERE published_at >= $1
		GROUP BY source`, l.now().Add(-window).UTC())
	if err != nil {
		return summary, storage.Wrap("recent_counts", err)
	}

	for _, r := range rows {
		summary.BySource[models.SourceTag(r.Source)] = r.N
		summary.Total += r.N
	}
	return summary, nil
}

func (l *Ledger) ListRecent(ctx context.Context, limit int) ([]models.PublishRecord, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	var rows []recordRow
	err := l.db.SelectContext(ctx, &rows, `
		SELECT identifier, title, source, published_at
		FROM published_posts
		ORDER BY published_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, storage.Wrap("list_recent", err)
	}

	out := make([]models.PublishRecord, len(rows))
	for i, r := range rows {
		out[i] = models.PublishRecord{
			Identifier:  r.Identifier,
			Title:       r.Title,
			Source:      models.SourceTag(r.Source),
			PublishedAt: r.PublishedAt,
		}
	}
	return out, nil
}

func (l *Ledger) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM published_posts WHERE published_at < $1`, l.now().Add(-age).UTC())
	if err != nil {
		return 0, storage.Wrap("purge", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storage.Wrap("purge", err)
	}
	return n, nil
}
