// Package sqlite implements store.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/marketdeck/marketd/internal/models"
	"github.com/marketdeck/marketd/internal/store"
)

const queryTimeout = 5 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS data_entries (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	source_name  TEXT NOT NULL,
	source_kind  TEXT NOT NULL,
	category     TEXT NOT NULL,
	symbol       TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	value        REAL NOT NULL,
	currency     TEXT NOT NULL DEFAULT 'USD',
	change_pct   REAL,
	volume       REAL,
	timestamp    INTEGER NOT NULL,
	ingested_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_category ON data_entries(category, symbol);
CREATE INDEX IF NOT EXISTS idx_entries_ingested ON data_entries(ingested_at);
CREATE INDEX IF NOT EXISTS idx_entries_symbol ON data_entries(symbol);

CREATE TABLE IF NOT EXISTS news_items (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	title        TEXT NOT NULL,
	source       TEXT NOT NULL,
	url          TEXT UNIQUE,
	summary      TEXT NOT NULL DEFAULT '',
	category     TEXT NOT NULL,
	published_at INTEGER NOT NULL DEFAULT 0,
	ingested_at  INTEGER NOT NULL,
	score        REAL NOT NULL DEFAULT 0,
	region       TEXT NOT NULL DEFAULT '',
	country      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_news_published ON news_items(published_at);
CREATE INDEX IF NOT EXISTS idx_news_ingested ON news_items(ingested_at);

CREATE TABLE IF NOT EXISTS source_status (
	source_name  TEXT PRIMARY KEY,
	source_kind  TEXT NOT NULL,
	last_fetched INTEGER NOT NULL,
	last_error   TEXT NOT NULL DEFAULT '',
	error_count  INTEGER NOT NULL DEFAULT 0
);
`

// Store is the SQLite-backed implementation of store.Store.
type Store struct {
	db *sqlx.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the
// schema. WAL keeps API readers off the writers' backs.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite serializes writers; a single connection avoids SQLITE_BUSY
	// churn under concurrent inserts.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	log.Debug().Str("path", path).Msg("SQLite store opened")
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// dataRow maps the nullable numeric columns. NaN in memory is NULL on disk.
type dataRow struct {
	ID          int64           `db:"id"`
	SourceName  string          `db:"source_name"`
	SourceKind  string          `db:"source_kind"`
	Category    string          `db:"category"`
	Symbol      string          `db:"symbol"`
	DisplayName string          `db:"display_name"`
	Value       float64         `db:"value"`
	Currency    string          `db:"currency"`
	ChangePct   sql.NullFloat64 `db:"change_pct"`
	Volume      sql.NullFloat64 `db:"volume"`
	Timestamp   int64           `db:"timestamp"`
	IngestedAt  int64           `db:"ingested_at"`
}

func toNull(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func (r dataRow) toModel() models.DataPoint {
	return models.DataPoint{
		ID:          r.ID,
		SourceName:  r.SourceName,
		SourceKind:  models.SourceKind(r.SourceKind),
		Category:    models.Category(r.Category),
		Symbol:      r.Symbol,
		DisplayName: r.DisplayName,
		Value:       r.Value,
		Currency:    r.Currency,
		ChangePct:   fromNull(r.ChangePct),
		Volume:      fromNull(r.Volume),
		Timestamp:   time.Unix(r.Timestamp, 0).UTC(),
		IngestedAt:  time.Unix(r.IngestedAt, 0).UTC(),
	}
}

func (s *Store) InsertDataPoint(ctx context.Context, dp *models.DataPoint) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO data_entries
			(source_name, source_kind, category, symbol, display_name,
			 value, currency, change_pct, volume, timestamp, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		dp.SourceName, string(dp.SourceKind), string(dp.Category),
		dp.Symbol, dp.DisplayName, dp.Value, dp.Currency,
		toNull(dp.ChangePct), toNull(dp.Volume),
		dp.Timestamp.Unix(), dp.IngestedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert data point: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		dp.ID = id
	}
	return nil
}

func (s *Store) InsertNews(ctx context.Context, item *models.NewsItem) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	// Empty URL stored as NULL so the UNIQUE constraint only dedupes real
	// links (NULLs never collide in SQLite).
	var url any
	if item.URL != "" {
		url = item.URL
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO news_items
			(title, source, url, summary, category, published_at,
			 ingested_at, score, region, country)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.Title, item.Source, url, item.Summary, string(item.Category),
		item.PublishedAt.Unix(), item.IngestedAt.Unix(),
		item.Score, item.Region, item.Country)
	if err != nil {
		return fmt.Errorf("insert news: %w", err)
	}
	// On an ignored duplicate LastInsertId reports the connection's
	// previous rowid, so only trust it when a row actually landed.
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		if id, err := res.LastInsertId(); err == nil {
			item.ID = id
		}
	}
	return nil
}

func (s *Store) LatestDataPoints(ctx context.Context, category models.Category, limit int) ([]models.DataPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rows []dataRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT d.* FROM data_entries d
		INNER JOIN (
			SELECT symbol, source_name, MAX(ingested_at) AS max_ingested
			FROM data_entries
			WHERE category = ?
			GROUP BY symbol, source_name
		) latest
			ON d.symbol = latest.symbol
			AND d.source_name = latest.source_name
			AND d.ingested_at = latest.max_ingested
		WHERE d.category = ?
		GROUP BY d.symbol, d.source_name
		ORDER BY d.symbol ASC
		LIMIT ?`,
		string(category), string(category), limit)
	if err != nil {
		return nil, fmt.Errorf("latest data points: %w", err)
	}

	out := make([]models.DataPoint, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

type newsRow struct {
	ID          int64          `db:"id"`
	Title       string         `db:"title"`
	Source      string         `db:"source"`
	URL         sql.NullString `db:"url"`
	Summary     string         `db:"summary"`
	Category    string         `db:"category"`
	PublishedAt int64          `db:"published_at"`
	IngestedAt  int64          `db:"ingested_at"`
	Score       float64        `db:"score"`
	Region      string         `db:"region"`
	Country     string         `db:"country"`
}

func (r newsRow) toModel() models.NewsItem {
	return models.NewsItem{
		ID:          r.ID,
		Title:       r.Title,
		Source:      r.Source,
		URL:         r.URL.String,
		Summary:     r.Summary,
		Category:    models.Category(r.Category),
		PublishedAt: time.Unix(r.PublishedAt, 0).UTC(),
		IngestedAt:  time.Unix(r.IngestedAt, 0).UTC(),
		Score:       r.Score,
		Region:      r.Region,
		Country:     r.Country,
	}
}

func (s *Store) AllLatestNews(ctx context.Context, limit int) ([]models.NewsItem, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rows []newsRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM news_items
		ORDER BY published_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("latest news: %w", err)
	}

	out := make([]models.NewsItem, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *Store) History(ctx context.Context, symbol string, limit int) ([]models.DataPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rows []dataRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM data_entries
		WHERE symbol = ?
		ORDER BY ingested_at DESC, id DESC
		LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	out := make([]models.DataPoint, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *Store) UpsertSourceStatus(ctx context.Context, name string, kind models.SourceKind, errMsg string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source_status (source_name, source_kind, last_fetched, last_error, error_count)
		VALUES (?, ?, ?, ?, CASE WHEN ? = '' THEN 0 ELSE 1 END)
		ON CONFLICT(source_name) DO UPDATE SET
			source_kind  = excluded.source_kind,
			last_fetched = excluded.last_fetched,
			last_error   = excluded.last_error,
			error_count  = CASE WHEN excluded.last_error = '' THEN 0
			               ELSE source_status.error_count + 1 END`,
		name, string(kind), time.Now().Unix(), errMsg, errMsg)
	if err != nil {
		return fmt.Errorf("upsert source status: %w", err)
	}
	return nil
}

type statusRow struct {
	SourceName  string `db:"source_name"`
	SourceKind  string `db:"source_kind"`
	LastFetched int64  `db:"last_fetched"`
	LastError   string `db:"last_error"`
	ErrorCount  int    `db:"error_count"`
}

func (s *Store) SourceStatuses(ctx context.Context, limit int) ([]models.SourceStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rows []statusRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM source_status
		ORDER BY source_name ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("source statuses: %w", err)
	}

	out := make([]models.SourceStatus, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.SourceStatus{
			SourceName:  r.SourceName,
			SourceKind:  models.SourceKind(r.SourceKind),
			LastFetched: time.Unix(r.LastFetched, 0).UTC(),
			LastError:   r.LastError,
			ErrorCount:  r.ErrorCount,
		})
	}
	return out, nil
}

func (s *Store) PruneOlderThan(ctx context.Context, age time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cutoff := time.Now().Add(-age).Unix()

	res, err := s.db.ExecContext(ctx, `DELETE FROM data_entries WHERE ingested_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("prune data entries: %w", err)
	}
	entries, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `DELETE FROM news_items WHERE ingested_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("prune news: %w", err)
	}
	news, _ := res.RowsAffected()

	if entries > 0 || news > 0 {
		log.Debug().Int64("entries", entries).Int64("news", news).Msg("Pruned expired rows")
	}
	return nil
}

func (s *Store) CountDataPoints(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM data_entries`); err != nil {
		return 0, fmt.Errorf("count data points: %w", err)
	}
	return n, nil
}

func (s *Store) CountNews(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM news_items`); err != nil {
		return 0, fmt.Errorf("count news: %w", err)
	}
	return n, nil
}
