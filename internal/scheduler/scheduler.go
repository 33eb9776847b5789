// Package scheduler owns source due-time tracking, the REST worker pool,
// the RSS and prune loops, the streaming supervisors, and the in-memory
// snapshot the API layer reads.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketdeck/marketd/internal/config"
	"github.com/marketdeck/marketd/internal/fetch"
	"github.com/marketdeck/marketd/internal/metrics"
	"github.com/marketdeck/marketd/internal/models"
	"github.com/marketdeck/marketd/internal/store"
)

const (
	maxWorkers    = 8
	tickInterval  = 5 * time.Second
	batchPollWait = 3 * time.Second
	pruneInterval = 120 * time.Second
	retentionAge  = 1800 * time.Second
	maxErrLen     = 120
)

type job struct {
	idx int
	wg  *sync.WaitGroup
}

// Scheduler drives all ingestion. Construct with New, then Start/Stop.
type Scheduler struct {
	cfg    *config.Config
	store  store.Store
	client *fetch.Client

	snapshot Snapshot

	restHealth []sourceHealth
	rssHealth  []sourceHealth

	jobs    chan job
	streams []*fetch.Stream

	running      atomic.Bool
	forceRefresh atomic.Bool
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

func New(cfg *config.Config, st store.Store, client *fetch.Client) *Scheduler {
	s := &Scheduler{
		cfg:        cfg,
		store:      st,
		client:     client,
		restHealth: make([]sourceHealth, len(cfg.Sources.REST)),
		rssHealth:  make([]sourceHealth, len(cfg.Sources.RSS)),
		jobs:       make(chan job, max(len(cfg.Sources.REST), 1)),
		stopCh:     make(chan struct{}),
	}
	for i := range cfg.Sources.WebSocket {
		src := cfg.Sources.WebSocket[i]
		s.streams = append(s.streams, fetch.NewStream(src, s.onStreamData))
	}
	return s
}

// Snapshot exposes the read surface consumed by the API front-ends.
func (s *Scheduler) Snapshot() *Snapshot {
	return &s.snapshot
}

// ForceRefresh makes every source due on the next dispatcher tick,
// overriding intervals and backoff windows once.
func (s *Scheduler) ForceRefresh() {
	s.forceRefresh.Store(true)
}

// Start launches the worker pool and all loops.
func (s *Scheduler) Start() {
	s.running.Store(true)

	workers := min(maxWorkers, len(s.cfg.Sources.REST))
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.workerLoop()
		}()
	}

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.dispatchLoop()
	}()
	go func() {
		defer s.wg.Done()
		s.rssLoop()
	}()
	go func() {
		defer s.wg.Done()
		s.pruneLoop()
	}()

	for _, st := range s.streams {
		s.wg.Add(1)
		go func(st *fetch.Stream) {
			defer s.wg.Done()
			st.Run()
		}(st)
	}

	log.Info().
		Int("rest", len(s.cfg.Sources.REST)).
		Int("rss", len(s.cfg.Sources.RSS)).
		Int("streams", len(s.streams)).
		Int("workers", workers).
		Msg("Scheduler started")
}

// Stop flips running, wakes every loop, closes stream connections, and
// joins all goroutines.
func (s *Scheduler) Stop() {
	s.running.Store(false)
	close(s.stopCh)
	for _, st := range s.streams {
		st.Stop()
	}
	s.wg.Wait()
	log.Info().Msg("Scheduler stopped")
}

// sleep waits up to d, waking once per second to notice a force refresh.
// Returns false when the scheduler is stopping.
func (s *Scheduler) sleep(d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		select {
		case <-s.stopCh:
			return false
		case <-time.After(time.Second):
			if s.forceRefresh.Load() {
				return true
			}
		}
	}
	return true
}

// --- dispatcher and worker pool ---

func (s *Scheduler) dispatchLoop() {
	for s.running.Load() {
		s.dispatchTick(time.Now().UTC())
		s.forceRefresh.Store(false)
		if !s.sleep(tickInterval) {
			return
		}
	}
}

// dispatchTick builds one batch of due REST sources, hands it to the pool,
// and waits for it to drain before rebuilding the snapshot. An empty batch
// does neither. Returns the batch size.
func (s *Scheduler) dispatchTick(now time.Time) int {
	force := s.forceRefresh.Load()
	batch := s.dueRESTSources(now, force)
	if len(batch) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	wg.Add(len(batch))
	for _, idx := range batch {
		s.jobs <- job{idx: idx, wg: &wg}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for waiting := true; waiting; {
		select {
		case <-done:
			waiting = false
		case <-time.After(batchPollWait):
			// Wake periodically so shutdown stays responsive.
			if !s.running.Load() {
				// Workers may already have exited before these jobs were
				// enqueued; account for whatever is still queued so the
				// batch always completes.
				s.drainJobs()
				<-done
				waiting = false
			}
		}
	}

	s.snapshot.Rebuild(context.Background(), s.store, time.Now().UTC())
	return len(batch)
}

// dueRESTSources returns the indices eligible this tick, in config order.
func (s *Scheduler) dueRESTSources(now time.Time, force bool) []int {
	var batch []int
	for i := range s.cfg.Sources.REST {
		src := &s.cfg.Sources.REST[i]
		h := &s.restHealth[i]
		interval := time.Duration(src.RefreshIntervalSec) * time.Second
		if h.skipped(now, force) {
			continue
		}
		if h.due(now, interval, force) {
			batch = append(batch, i)
		}
	}
	return batch
}

func (s *Scheduler) workerLoop() {
	for {
		select {
		case <-s.stopCh:
			// Drain pending jobs so a dispatcher waiting on the batch
			// is not stranded.
			s.drainJobs()
			return
		case j := <-s.jobs:
			if s.running.Load() {
				s.processREST(j.idx)
			}
			j.wg.Done()
		}
	}
}

// drainJobs marks every queued job done without processing it.
func (s *Scheduler) drainJobs() {
	for {
		select {
		case j := <-s.jobs:
			j.wg.Done()
		default:
			return
		}
	}
}

// processREST fetches one REST source, maps the body, persists the records,
// and folds the outcome into health and persisted status.
func (s *Scheduler) processREST(idx int) int {
	src := s.cfg.Sources.REST[idx]
	h := &s.restHealth[idx]
	now := time.Now().UTC()
	ctx := context.Background()

	body, err := s.client.FetchREST(ctx, src)
	if err != nil {
		h.recordFailure(now)
		s.upsertStatus(ctx, src.Name, models.KindREST, err.Error())
		metrics.FetchTotal.WithLabelValues("rest", "error").Inc()
		log.Warn().Err(err).Str("source", src.Name).
			Int("failures", h.consecutiveFailures).
			Dur("backoff", h.backoff).
			Msg("REST fetch failed")
		return 0
	}

	var inserted int
	if config.CategoryOf(src.Category) == models.CatFinancialNews {
		items := fetch.MapCalendar(body, src, now)
		for i := range items {
			if err := s.store.InsertNews(ctx, &items[i]); err != nil {
				log.Error().Err(err).Str("source", src.Name).Msg("News insert failed")
				continue
			}
			inserted++
			metrics.InsertsTotal.WithLabelValues("news").Inc()
		}
	} else {
		points := fetch.MapQuotes(body, src, now)
		for i := range points {
			if !points[i].Valid() {
				continue
			}
			if err := s.store.InsertDataPoint(ctx, &points[i]); err != nil {
				log.Error().Err(err).Str("source", src.Name).Msg("Data insert failed")
				continue
			}
			inserted++
			metrics.InsertsTotal.WithLabelValues("data").Inc()
		}
	}

	if inserted == 0 {
		// Transport succeeded but the body mapped to nothing. Not a
		// failure: advance the attempt clock only.
		h.recordAttempt(now)
		metrics.FetchTotal.WithLabelValues("rest", "empty").Inc()
		log.Debug().Str("source", src.Name).Msg("REST fetch yielded no records")
		return 0
	}

	h.recordSuccess(now)
	s.upsertStatus(ctx, src.Name, models.KindREST, "")
	metrics.FetchTotal.WithLabelValues("rest", "success").Inc()
	log.Debug().Str("source", src.Name).Int("records", inserted).Msg("REST fetch ok")
	return inserted
}

// --- RSS loop ---

func (s *Scheduler) rssLoop() {
	for s.running.Load() {
		fetched := false
		now := time.Now().UTC()
		for i := range s.cfg.Sources.RSS {
			if !s.running.Load() {
				break
			}
			if s.processRSS(i, now) {
				fetched = true
			}
		}
		if fetched {
			s.snapshot.Rebuild(context.Background(), s.store, time.Now().UTC())
		}
		if !s.sleep(tickInterval) {
			return
		}
	}
}

// processRSS fetches one feed if eligible. Returns true only when the
// fetch succeeded and items reached the store, so the caller rebuilds
// the snapshot just for ticks that changed it.
func (s *Scheduler) processRSS(idx int, now time.Time) bool {
	src := s.cfg.Sources.RSS[idx]
	h := &s.rssHealth[idx]
	interval := time.Duration(src.RefreshIntervalSec) * time.Second
	force := s.forceRefresh.Load()

	if h.skipped(now, force) || !h.due(now, interval, force) {
		return false
	}

	ctx := context.Background()
	items, err := fetch.FetchFeed(ctx, s.client, src, s.cfg.General.MaxItemsPerSource, now)
	if err != nil {
		h.recordFailure(now)
		s.upsertStatus(ctx, src.Name, models.KindRSS, err.Error())
		metrics.FetchTotal.WithLabelValues("rss", "error").Inc()
		log.Warn().Err(err).Str("source", src.Name).Msg("RSS fetch failed")
		return false
	}
	if len(items) == 0 {
		h.recordAttempt(now)
		metrics.FetchTotal.WithLabelValues("rss", "empty").Inc()
		return false
	}

	for i := range items {
		if err := s.store.InsertNews(ctx, &items[i]); err != nil {
			log.Error().Err(err).Str("source", src.Name).Msg("News insert failed")
			continue
		}
		metrics.InsertsTotal.WithLabelValues("news").Inc()
	}

	h.recordSuccess(now)
	s.upsertStatus(ctx, src.Name, models.KindRSS, "")
	metrics.FetchTotal.WithLabelValues("rss", "success").Inc()
	log.Debug().Str("source", src.Name).Int("items", len(items)).Msg("RSS fetch ok")
	return true
}

// --- streaming ---

func (s *Scheduler) onStreamData(dp models.DataPoint) {
	ctx := context.Background()
	if err := s.store.InsertDataPoint(ctx, &dp); err != nil {
		log.Error().Err(err).Str("source", dp.SourceName).Msg("Stream insert failed")
		return
	}
	metrics.InsertsTotal.WithLabelValues("data").Inc()
	metrics.FetchTotal.WithLabelValues("stream", "success").Inc()
	// Throttled; high-frequency ticks coalesce into one rebuild per window.
	s.snapshot.Rebuild(ctx, s.store, time.Now().UTC())
}

// --- prune loop ---

func (s *Scheduler) pruneLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		case <-time.After(pruneInterval):
		}
		if !s.running.Load() {
			return
		}
		ctx := context.Background()
		if err := s.store.PruneOlderThan(ctx, retentionAge); err != nil {
			log.Error().Err(err).Msg("Prune failed")
			continue
		}
		s.snapshot.Rebuild(ctx, s.store, time.Now().UTC())
	}
}

func (s *Scheduler) upsertStatus(ctx context.Context, name string, kind models.SourceKind, errMsg string) {
	if len(errMsg) > maxErrLen {
		errMsg = errMsg[:maxErrLen]
	}
	if err := s.store.UpsertSourceStatus(ctx, name, kind, errMsg); err != nil {
		log.Error().Err(err).Str("source", name).Msg("Status upsert failed")
	}
}
