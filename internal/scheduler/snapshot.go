package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketdeck/marketd/internal/metrics"
	"github.com/marketdeck/marketd/internal/models"
	"github.com/marketdeck/marketd/internal/store"
)

const (
	maxSnapshotEntries = 2048
	maxSnapshotNews    = 2048
	snapshotThrottle   = 5 * time.Second
)

// Snapshot is the in-memory view served to API readers. Rebuilds query the
// store into temporary buffers and swap them in under the writer lock, so
// readers never wait on a store query.
type Snapshot struct {
	mu      sync.RWMutex
	entries []models.DataPoint
	news    []models.NewsItem

	throttleMu sync.Mutex
	lastBuild  time.Time
}

// Rebuild refreshes the snapshot from the store. Calls arriving within the
// throttle window of the last rebuild coalesce and return false without
// touching the store.
func (s *Snapshot) Rebuild(ctx context.Context, st store.Store, now time.Time) bool {
	s.throttleMu.Lock()
	if !s.lastBuild.IsZero() && now.Sub(s.lastBuild) < snapshotThrottle {
		s.throttleMu.Unlock()
		return false
	}
	s.lastBuild = now
	s.throttleMu.Unlock()

	entries := make([]models.DataPoint, 0, maxSnapshotEntries)
	for _, cat := range models.DataCategories {
		remaining := maxSnapshotEntries - len(entries)
		if remaining <= 0 {
			break
		}
		pts, err := st.LatestDataPoints(ctx, cat, remaining)
		if err != nil {
			log.Error().Err(err).Str("category", string(cat)).Msg("Snapshot entries query failed")
			continue
		}
		entries = append(entries, pts...)
	}

	news, err := st.AllLatestNews(ctx, maxSnapshotNews)
	if err != nil {
		log.Error().Err(err).Msg("Snapshot news query failed")
		news = nil
	}
	for i := range news {
		news[i].ScoreFinal = news[i].Score * decayFactor(now, news[i].PublishedAt)
	}
	sort.SliceStable(news, func(i, j int) bool {
		a, b := news[i], news[j]
		if a.ScoreFinal != b.ScoreFinal {
			return a.ScoreFinal > b.ScoreFinal
		}
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.After(b.PublishedAt)
		}
		return a.ID > b.ID
	})

	s.mu.Lock()
	s.entries = entries
	s.news = news
	s.mu.Unlock()

	metrics.SnapshotRebuilds.Inc()
	metrics.SnapshotEntries.Set(float64(len(entries)))
	metrics.SnapshotNews.Set(float64(len(news)))
	log.Debug().Int("entries", len(entries)).Int("news", len(news)).Msg("Snapshot rebuilt")
	return true
}

// Entries returns a copy of the snapshot's data entries.
func (s *Snapshot) Entries() []models.DataPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.DataPoint, len(s.entries))
	copy(out, s.entries)
	return out
}

// News returns a copy of the ranked news.
func (s *Snapshot) News() []models.NewsItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.NewsItem, len(s.news))
	copy(out, s.news)
	return out
}

// decayFactor maps a news item's age to its score multiplier. Unknown
// publish times (the zero unix time) get the stalest factor.
func decayFactor(now, published time.Time) float64 {
	if published.Unix() == 0 {
		return 0.10
	}
	age := now.Sub(published)
	switch {
	case age < time.Hour:
		return 1.00
	case age < 3*time.Hour:
		return 0.85
	case age < 6*time.Hour:
		return 0.65
	case age < 12*time.Hour:
		return 0.45
	case age < 24*time.Hour:
		return 0.25
	default:
		return 0.10
	}
}
