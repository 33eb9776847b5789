package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/marketdeck/marketd/internal/models"
	"github.com/marketdeck/marketd/internal/store"
)

// mockStore records every call so tests can assert exactly what the
// scheduler touched.
type mockStore struct {
	mu sync.Mutex

	dataPoints []models.DataPoint
	newsItems  []models.NewsItem
	statusLog  []statusCall

	latestQueries int
	newsQueries   int
	pruneCalls    int

	latestByCategory map[models.Category][]models.DataPoint
	latestNews       []models.NewsItem
}

type statusCall struct {
	name   string
	kind   models.SourceKind
	errMsg string
}

var _ store.Store = (*mockStore)(nil)

func newMockStore() *mockStore {
	return &mockStore{latestByCategory: map[models.Category][]models.DataPoint{}}
}

func (m *mockStore) InsertDataPoint(_ context.Context, dp *models.DataPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dp.ID = int64(len(m.dataPoints) + 1)
	m.dataPoints = append(m.dataPoints, *dp)
	return nil
}

func (m *mockStore) InsertNews(_ context.Context, item *models.NewsItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.newsItems {
		if item.URL != "" && existing.URL == item.URL {
			return nil
		}
	}
	item.ID = int64(len(m.newsItems) + 1)
	m.newsItems = append(m.newsItems, *item)
	return nil
}

func (m *mockStore) LatestDataPoints(_ context.Context, category models.Category, limit int) ([]models.DataPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latestQueries++
	pts := m.latestByCategory[category]
	if len(pts) > limit {
		pts = pts[:limit]
	}
	return pts, nil
}

func (m *mockStore) AllLatestNews(_ context.Context, limit int) ([]models.NewsItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.newsQueries++
	news := m.latestNews
	if len(news) > limit {
		news = news[:limit]
	}
	out := make([]models.NewsItem, len(news))
	copy(out, news)
	return out, nil
}

func (m *mockStore) History(_ context.Context, symbol string, limit int) ([]models.DataPoint, error) {
	return nil, nil
}

func (m *mockStore) UpsertSourceStatus(_ context.Context, name string, kind models.SourceKind, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusLog = append(m.statusLog, statusCall{name: name, kind: kind, errMsg: errMsg})
	return nil
}

func (m *mockStore) SourceStatuses(_ context.Context, limit int) ([]models.SourceStatus, error) {
	return nil, nil
}

func (m *mockStore) PruneOlderThan(_ context.Context, age time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneCalls++
	return nil
}

func (m *mockStore) CountDataPoints(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.dataPoints)), nil
}

func (m *mockStore) CountNews(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.newsItems)), nil
}

func (m *mockStore) Close() error { return nil }

func (m *mockStore) queryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestQueries + m.newsQueries
}

func (m *mockStore) insertedData() []models.DataPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.DataPoint, len(m.dataPoints))
	copy(out, m.dataPoints)
	return out
}

func (m *mockStore) insertedNews() []models.NewsItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.NewsItem, len(m.newsItems))
	copy(out, m.newsItems)
	return out
}

func (m *mockStore) statuses() []statusCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]statusCall, len(m.statusLog))
	copy(out, m.statusLog)
	return out
}
