// Package unixapi serves one-shot JSON requests over a local domain
// socket: the client connects, sends {"path": "..."}, receives one JSON
// response terminated by a newline, and the connection closes.
package unixapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketdeck/marketd/internal/api/httpapi"
	"github.com/marketdeck/marketd/internal/store"
)

const readTimeout = 5 * time.Second

// Server is the local-socket front-end. It serves the same snapshot and
// store the HTTP API does, over a framing small tools can script against.
type Server struct {
	path      string
	snapshot  httpapi.SnapshotReader
	store     store.Store
	refresher httpapi.Refresher

	ln     net.Listener
	wg     sync.WaitGroup
	closed bool
	mu     sync.Mutex
}

func NewServer(path string, snapshot httpapi.SnapshotReader, st store.Store, refresher httpapi.Refresher) *Server {
	return &Server{
		path:      path,
		snapshot:  snapshot,
		store:     st,
		refresher: refresher,
	}
}

// Start unlinks any stale socket file, binds, and accepts in the
// background.
func (s *Server) Start() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unlink stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("bind unix %s: %w", s.path, err)
	}
	s.ln = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
	log.Info().Str("path", s.path).Msg("Unix API listening")
	return nil
}

// Shutdown closes the listener, waits for in-flight connections, and
// removes the socket file.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if s.ln != nil {
		s.ln.Close()
	}
	s.wg.Wait()
	os.Remove(s.path)
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				log.Warn().Err(err).Msg("Unix accept failed")
			}
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

type request struct {
	Path string `json:"path"`
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var req request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.respond(conn, map[string]string{"error": "bad_request"})
		return
	}
	s.respond(conn, s.dispatch(req.Path))
}

func (s *Server) respond(conn net.Conn, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		log.Error().Err(err).Msg("Unix response encode failed")
		return
	}
	conn.Write(append(data, '\n'))
}

func (s *Server) dispatch(path string) any {
	switch path {
	case "/api/v1/entries":
		entries := s.snapshot.Entries()
		out := make([]httpapi.EntryDTO, 0, len(entries))
		for _, e := range entries {
			out = append(out, httpapi.ToEntryDTO(e))
		}
		return map[string]any{"data": out, "count": len(out)}
	case "/api/v1/news":
		news := s.snapshot.News()
		out := make([]httpapi.NewsDTO, 0, len(news))
		for _, n := range news {
			out = append(out, httpapi.ToNewsDTO(n))
		}
		return map[string]any{"data": out, "count": len(out)}
	case "/api/v1/status":
		ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
		defer cancel()
		entries, _ := s.store.CountDataPoints(ctx)
		news, _ := s.store.CountNews(ctx)
		return map[string]any{
			"status":        "ok",
			"entries_count": entries,
			"news_count":    news,
		}
	case "/api/v1/refresh":
		s.refresher.ForceRefresh()
		return map[string]string{"status": "refresh scheduled"}
	default:
		return map[string]string{"error": "not_found"}
	}
}
