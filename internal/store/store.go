// Package store defines the persistence contract shared by the scheduler
// and both API front-ends.
package store

import (
	"context"
	"time"

	"github.com/marketdeck/marketd/internal/models"
)

// Store is the persistence surface the daemon depends on. Implementations
// must be safe for concurrent use.
type Store interface {
	// InsertDataPoint appends one observation. The store assigns the ID.
	InsertDataPoint(ctx context.Context, dp *models.DataPoint) error

	// InsertNews appends one news item. Inserts with a duplicate non-empty
	// URL are silently ignored.
	InsertNews(ctx context.Context, item *models.NewsItem) error

	// LatestDataPoints returns, per (symbol, source) pair within the
	// category, the record with the greatest ingested_at, ordered by
	// symbol ascending.
	LatestDataPoints(ctx context.Context, category models.Category, limit int) ([]models.DataPoint, error)

	// AllLatestNews returns up to limit items, newest first.
	AllLatestNews(ctx context.Context, limit int) ([]models.NewsItem, error)

	// History returns up to limit observations for the symbol, newest first.
	History(ctx context.Context, symbol string, limit int) ([]models.DataPoint, error)

	// UpsertSourceStatus records a fetch outcome. An empty errMsg resets
	// the error count, a non-empty one increments it.
	UpsertSourceStatus(ctx context.Context, name string, kind models.SourceKind, errMsg string) error

	// SourceStatuses returns up to limit persisted status rows.
	SourceStatuses(ctx context.Context, limit int) ([]models.SourceStatus, error)

	// PruneOlderThan deletes rows from both tables whose ingested_at is
	// older than the given age.
	PruneOlderThan(ctx context.Context, age time.Duration) error

	CountDataPoints(ctx context.Context) (int64, error)
	CountNews(ctx context.Context) (int64, error)

	Close() error
}
