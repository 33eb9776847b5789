package httpapi

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/marketdeck/marketd/internal/models"
)

const (
	defaultHistoryLimit = 100
	maxSourceRows       = 256
)

// EntryDTO renders a DataPoint with unknown numerics as JSON null.
type EntryDTO struct {
	ID          int64    `json:"id"`
	Source      string   `json:"source"`
	SourceType  string   `json:"source_type"`
	Category    string   `json:"category"`
	Symbol      string   `json:"symbol"`
	DisplayName string   `json:"display_name"`
	Value       float64  `json:"value"`
	Currency    string   `json:"currency"`
	ChangePct   *float64 `json:"change_pct"`
	Volume      *float64 `json:"volume"`
	Timestamp   int64    `json:"timestamp"`
	IngestedAt  int64    `json:"ingested_at"`
}

func optFloat(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func ToEntryDTO(d models.DataPoint) EntryDTO {
	return EntryDTO{
		ID:          d.ID,
		Source:      d.SourceName,
		SourceType:  string(d.SourceKind),
		Category:    string(d.Category),
		Symbol:      d.Symbol,
		DisplayName: d.DisplayName,
		Value:       d.Value,
		Currency:    d.Currency,
		ChangePct:   optFloat(d.ChangePct),
		Volume:      optFloat(d.Volume),
		Timestamp:   d.Timestamp.Unix(),
		IngestedAt:  d.IngestedAt.Unix(),
	}
}

type NewsDTO struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Source      string  `json:"source"`
	URL         string  `json:"url"`
	Summary     string  `json:"summary"`
	Category    string  `json:"category"`
	PublishedAt int64   `json:"published_at"`
	Score       float64 `json:"score"`
	ScoreFinal  float64 `json:"score_final"`
	Region      string  `json:"region,omitempty"`
	Country     string  `json:"country,omitempty"`
}

func ToNewsDTO(n models.NewsItem) NewsDTO {
	return NewsDTO{
		ID:          n.ID,
		Title:       n.Title,
		Source:      n.Source,
		URL:         n.URL,
		Summary:     n.Summary,
		Category:    string(n.Category),
		PublishedAt: n.PublishedAt.Unix(),
		Score:       n.Score,
		ScoreFinal:  n.ScoreFinal,
		Region:      n.Region,
		Country:     n.Country,
	}
}

type listResponse struct {
	Data  any `json:"data"`
	Count int `json:"count"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	symbol := r.URL.Query().Get("symbol")

	out := []EntryDTO{}
	for _, e := range s.snapshot.Entries() {
		if category != "" && string(e.Category) != category {
			continue
		}
		if symbol != "" && !strings.Contains(e.Symbol, symbol) {
			continue
		}
		out = append(out, ToEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, listResponse{Data: out, Count: len(out)})
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")

	out := []NewsDTO{}
	for _, n := range s.snapshot.News() {
		if category != "" && string(n.Category) != category {
			continue
		}
		out = append(out, ToNewsDTO(n))
	}
	writeJSON(w, http.StatusOK, listResponse{Data: out, Count: len(out)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.CountDataPoints(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Count data points failed")
	}
	news, err := s.store.CountNews(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Count news failed")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       s.version,
		"uptime_sec":    int64(time.Since(s.startedAt).Seconds()),
		"entries_count": entries,
		"news_count":    news,
	})
}

type sourceDTO struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	LastFetched int64  `json:"last_fetched"`
	SecondsAgo  int64  `json:"seconds_ago"`
	LastError   string `json:"last_error"`
	ErrorCount  int    `json:"error_count"`
	Health      string `json:"health"`
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.SourceStatuses(r.Context(), maxSourceRows)
	if err != nil {
		log.Error().Err(err).Msg("Source statuses query failed")
		writeError(w, http.StatusInternalServerError, "storage")
		return
	}

	now := time.Now()
	out := make([]sourceDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, sourceDTO{
			Name:        row.SourceName,
			Type:        string(row.SourceKind),
			LastFetched: row.LastFetched.Unix(),
			SecondsAgo:  int64(now.Sub(row.LastFetched).Seconds()),
			LastError:   row.LastError,
			ErrorCount:  row.ErrorCount,
			Health:      row.Health(),
		})
	}
	writeJSON(w, http.StatusOK, listResponse{Data: out, Count: len(out)})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	points, err := s.store.History(r.Context(), symbol, limit)
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("History query failed")
		writeError(w, http.StatusInternalServerError, "storage")
		return
	}

	out := make([]EntryDTO, 0, len(points))
	for _, p := range points {
		out = append(out, ToEntryDTO(p))
	}
	writeJSON(w, http.StatusOK, listResponse{Data: out, Count: len(out)})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refresher.ForceRefresh()
	writeJSON(w, http.StatusOK, map[string]string{"status": "refresh scheduled"})
}
