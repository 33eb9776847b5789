// Package models defines the two normalized record types produced by every
// fetcher and consumed by the store, the snapshot, and both API front-ends.
package models

import (
	"math"
	"time"
)

// SourceKind identifies the transport a record arrived through.
type SourceKind string

const (
	KindRSS    SourceKind = "rss"
	KindREST   SourceKind = "rest"
	KindStream SourceKind = "stream"
)

// Category partitions data points and news into the buckets the snapshot
// and the API filters operate on.
type Category string

const (
	CatCrypto         Category = "crypto"
	CatStockIndex     Category = "stock_index"
	CatCommodity      Category = "commodity"
	CatForex          Category = "forex"
	CatNews           Category = "news"
	CatCustom         Category = "custom"
	CatCryptoExchange Category = "crypto_exchange"
	CatFinancialNews  Category = "financial_news"
	CatOfficialPub    Category = "official_pub"
)

// DataCategories lists the data-bearing categories in the order the
// snapshot builder fills its entry buffer.
var DataCategories = []Category{
	CatCrypto, CatStockIndex, CatCommodity, CatForex,
	CatNews, CatCustom, CatCryptoExchange,
}

// ParseCategory maps a config/API string onto a Category. Unknown strings
// fall back to custom so a typo in a source descriptor degrades instead of
// failing the load.
func ParseCategory(s string) Category {
	switch Category(s) {
	case CatCrypto, CatStockIndex, CatCommodity, CatForex, CatNews,
		CatCustom, CatCryptoExchange, CatFinancialNews, CatOfficialPub:
		return Category(s)
	}
	return CatCustom
}

// DataPoint is one observation of a quoted instrument. ChangePct and Volume
// use NaN as the "unknown" sentinel; the store maps NaN to SQL NULL and the
// APIs render unknown as JSON null.
type DataPoint struct {
	ID          int64      `json:"id" db:"id"`
	SourceName  string     `json:"source" db:"source_name"`
	SourceKind  SourceKind `json:"source_type" db:"source_kind"`
	Category    Category   `json:"category" db:"category"`
	Symbol      string     `json:"symbol" db:"symbol"`
	DisplayName string     `json:"display_name" db:"display_name"`
	Value       float64    `json:"value" db:"value"`
	Currency    string     `json:"currency" db:"currency"`
	ChangePct   float64    `json:"change_pct" db:"change_pct"`
	Volume      float64    `json:"volume" db:"volume"`
	Timestamp   time.Time  `json:"timestamp" db:"timestamp"`
	IngestedAt  time.Time  `json:"ingested_at" db:"ingested_at"`
}

// Valid reports whether the data point satisfies the insert invariants:
// an identity (symbol or display name) and a finite value.
func (d DataPoint) Valid() bool {
	if d.Symbol == "" && d.DisplayName == "" {
		return false
	}
	return !math.IsNaN(d.Value) && !math.IsInf(d.Value, 0)
}

// NewsItem is one article or calendar event. URL is the logical dedup key:
// inserts with a duplicate non-empty URL are silently ignored by the store.
type NewsItem struct {
	ID          int64     `json:"id" db:"id"`
	Title       string    `json:"title" db:"title"`
	Source      string    `json:"source" db:"source"`
	URL         string    `json:"url" db:"url"`
	Summary     string    `json:"summary" db:"summary"`
	Category    Category  `json:"category" db:"category"`
	PublishedAt time.Time `json:"published_at" db:"published_at"`
	IngestedAt  time.Time `json:"ingested_at" db:"ingested_at"`
	Score       float64   `json:"score" db:"score"`
	Region      string    `json:"region" db:"region"`
	Country     string    `json:"country" db:"country"`

	// ScoreFinal is Score multiplied by the age decay factor. Computed
	// during snapshot builds, never persisted.
	ScoreFinal float64 `json:"score_final" db:"-"`
}

// SourceStatus is the persisted per-source health row surfaced by the
// /sources endpoint. LastError empty means the last attempt succeeded.
type SourceStatus struct {
	SourceName  string     `json:"name" db:"source_name"`
	SourceKind  SourceKind `json:"type" db:"source_kind"`
	LastFetched time.Time  `json:"last_fetched" db:"last_fetched"`
	LastError   string     `json:"last_error" db:"last_error"`
	ErrorCount  int        `json:"error_count" db:"error_count"`
}

// Health derives the user-visible tag from the persisted error count.
func (s SourceStatus) Health() string {
	switch {
	case s.ErrorCount == 0:
		return "healthy"
	case s.ErrorCount < 3:
		return "degraded"
	default:
		return "failing"
	}
}

// TierScore converts a configured source tier into the base news score.
func TierScore(tier int) float64 {
	switch tier {
	case 1:
		return 100
	case 2:
		return 75
	default:
		return 50
	}
}
