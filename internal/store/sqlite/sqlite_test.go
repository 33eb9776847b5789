package sqlite

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketdeck/marketd/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dp(symbol, source string, value float64, ingested time.Time) *models.DataPoint {
	return &models.DataPoint{
		SourceName: source,
		SourceKind: models.KindREST,
		Category:   models.CatCrypto,
		Symbol:     symbol,
		Value:      value,
		Currency:   "USD",
		ChangePct:  math.NaN(),
		Volume:     math.NaN(),
		Timestamp:  ingested,
		IngestedAt: ingested,
	}
}

func TestInsertDataPointAssignsID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := dp("BTC", "coingecko", 50000, time.Now())
	require.NoError(t, s.InsertDataPoint(ctx, p))
	assert.Positive(t, p.ID)

	n, err := s.CountDataPoints(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestNaNRoundTripsAsUnknown(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertDataPoint(ctx, dp("BTC", "coingecko", 50000, time.Now())))

	got, err := s.LatestDataPoints(ctx, models.CatCrypto, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, math.IsNaN(got[0].ChangePct))
	assert.True(t, math.IsNaN(got[0].Volume))
	assert.Equal(t, 50000.0, got[0].Value)
}

func TestLatestDataPointsPicksNewestPerSymbolSource(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	require.NoError(t, s.InsertDataPoint(ctx, dp("BTC", "coingecko", 49000, base)))
	require.NoError(t, s.InsertDataPoint(ctx, dp("BTC", "coingecko", 50000, base.Add(30*time.Second))))
	require.NoError(t, s.InsertDataPoint(ctx, dp("BTC", "binance", 50100, base)))
	require.NoError(t, s.InsertDataPoint(ctx, dp("ETH", "coingecko", 3000, base)))

	got, err := s.LatestDataPoints(ctx, models.CatCrypto, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Symbol ascending, one row per (symbol, source).
	assert.Equal(t, "BTC", got[0].Symbol)
	assert.Equal(t, "BTC", got[1].Symbol)
	assert.Equal(t, "ETH", got[2].Symbol)

	for _, g := range got {
		if g.Symbol == "BTC" && g.SourceName == "coingecko" {
			assert.Equal(t, 50000.0, g.Value)
		}
	}
}

func TestLatestDataPointsFiltersCategory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := dp("SPX", "yahoo", 5000, time.Now())
	p.Category = models.CatStockIndex
	require.NoError(t, s.InsertDataPoint(ctx, p))
	require.NoError(t, s.InsertDataPoint(ctx, dp("BTC", "coingecko", 50000, time.Now())))

	got, err := s.LatestDataPoints(ctx, models.CatStockIndex, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "SPX", got[0].Symbol)
}

func news(title, url string, published time.Time) *models.NewsItem {
	return &models.NewsItem{
		Title:       title,
		Source:      "coindesk",
		URL:         url,
		Category:    models.CatNews,
		PublishedAt: published,
		IngestedAt:  time.Now(),
		Score:       100,
	}
}

func TestInsertNewsDedupesOnURL(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := news("first", "https://example.com/a", time.Now())
	require.NoError(t, s.InsertNews(ctx, first))
	assert.Positive(t, first.ID)

	dup := news("duplicate", "https://example.com/a", time.Now())
	require.NoError(t, s.InsertNews(ctx, dup))
	// An ignored duplicate must not pick up the prior insert's rowid.
	assert.Zero(t, dup.ID)

	n, err := s.CountNews(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestInsertNewsEmptyURLNeverCollides(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertNews(ctx, news("one", "", time.Now())))
	require.NoError(t, s.InsertNews(ctx, news("two", "", time.Now())))

	n, err := s.CountNews(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestAllLatestNewsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.InsertNews(ctx, news("old", "https://example.com/old", now.Add(-2*time.Hour))))
	require.NoError(t, s.InsertNews(ctx, news("new", "https://example.com/new", now)))

	got, err := s.AllLatestNews(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].Title)
	assert.Equal(t, "old", got[1].Title)
}

func TestHistoryNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	require.NoError(t, s.InsertDataPoint(ctx, dp("BTC", "coingecko", 49000, base)))
	require.NoError(t, s.InsertDataPoint(ctx, dp("BTC", "coingecko", 50000, base.Add(30*time.Second))))
	require.NoError(t, s.InsertDataPoint(ctx, dp("ETH", "coingecko", 3000, base)))

	got, err := s.History(ctx, "BTC", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 50000.0, got[0].Value)
	assert.Equal(t, 49000.0, got[1].Value)
}

func TestUpsertSourceStatusErrorCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSourceStatus(ctx, "coingecko", models.KindREST, "timeout"))
	require.NoError(t, s.UpsertSourceStatus(ctx, "coingecko", models.KindREST, "http 500"))

	got, err := s.SourceStatuses(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].ErrorCount)
	assert.Equal(t, "http 500", got[0].LastError)
	assert.Equal(t, "degraded", got[0].Health())

	require.NoError(t, s.UpsertSourceStatus(ctx, "coingecko", models.KindREST, ""))

	got, err = s.SourceStatuses(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Zero(t, got[0].ErrorCount)
	assert.Empty(t, got[0].LastError)
	assert.Equal(t, "healthy", got[0].Health())
}

func TestPruneOlderThan(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.InsertDataPoint(ctx, dp("BTC", "coingecko", 49000, now.Add(-time.Hour))))
	require.NoError(t, s.InsertDataPoint(ctx, dp("BTC", "coingecko", 50000, now)))
	old := news("stale", "https://example.com/stale", now.Add(-2*time.Hour))
	old.IngestedAt = now.Add(-time.Hour)
	require.NoError(t, s.InsertNews(ctx, old))
	require.NoError(t, s.InsertNews(ctx, news("fresh", "https://example.com/fresh", now)))

	require.NoError(t, s.PruneOlderThan(ctx, 30*time.Minute))

	entries, err := s.CountDataPoints(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, entries)

	items, err := s.CountNews(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, items)
}
