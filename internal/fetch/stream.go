package fetch

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/marketdeck/marketd/internal/config"
	"github.com/marketdeck/marketd/internal/models"
)

const handshakeTimeout = 10 * time.Second

// Stream supervises one websocket source: connect, subscribe, decode
// inbound ticker frames, reconnect after a fixed delay until stopped.
type Stream struct {
	src    config.StreamSource
	onData func(models.DataPoint)

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	done   chan struct{}
}

// NewStream builds a supervisor. onData is invoked for every decoded
// ticker record that passes the symbol/value guard.
func NewStream(src config.StreamSource, onData func(models.DataPoint)) *Stream {
	return &Stream{
		src:    src,
		onData: onData,
		done:   make(chan struct{}),
	}
}

// Run blocks until Stop, cycling connect → receive → reconnect-wait.
// Intended to run on its own goroutine.
func (s *Stream) Run() {
	delay := time.Duration(s.src.ReconnectIntervalSec) * time.Second

	for {
		if s.stopped() {
			return
		}

		conn, err := s.dial()
		if err != nil {
			log.Warn().Err(err).Str("source", s.src.Name).Msg("Stream connect failed")
			if !s.wait(delay) {
				return
			}
			continue
		}

		log.Info().Str("source", s.src.Name).Str("url", s.src.URL).Msg("Stream connected")
		s.receive(conn)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()

		if !s.wait(delay) {
			return
		}
	}
}

// Stop wakes the supervisor and closes any live connection so a blocked
// read returns immediately.
func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *Stream) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Stream) wait(d time.Duration) bool {
	select {
	case <-s.done:
		return false
	case <-time.After(d):
		return true
	}
}

func (s *Stream) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.Dial(s.src.URL, nil)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return nil, websocket.ErrCloseSent
	}
	s.conn = conn
	s.mu.Unlock()

	if s.src.SubscribeMessage != "" {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(s.src.SubscribeMessage)); err != nil {
			s.mu.Lock()
			s.conn = nil
			s.mu.Unlock()
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func (s *Stream) receive(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !s.stopped() {
				log.Warn().Err(err).Str("source", s.src.Name).Msg("Stream read failed")
			}
			return
		}
		if dp, ok := decodeTicker(msg, s.src, time.Now().UTC()); ok {
			s.onData(dp)
		}
	}
}

// decodeTicker extracts a ticker record from one inbound frame using the
// fixed exchange mapping: s (symbol), c or p (last price), P (percent
// change), v (volume). Frames without a symbol or a positive price are
// ignored.
func decodeTicker(msg []byte, src config.StreamSource, now time.Time) (models.DataPoint, bool) {
	root := gjson.ParseBytes(msg)

	symbol := root.Get("s").String()
	value := leafFloat(root.Get("c"))
	if !finite(value) {
		value = leafFloat(root.Get("p"))
	}
	if symbol == "" || !finite(value) || value <= 0 {
		return models.DataPoint{}, false
	}

	change := leafFloat(root.Get("P"))
	volume := leafFloat(root.Get("v"))

	return models.DataPoint{
		SourceName: src.Name,
		SourceKind: models.KindStream,
		Category:   config.CategoryOf(src.Category),
		Symbol:     symbol,
		Value:      value,
		Currency:   "USDT",
		ChangePct:  change,
		Volume:     volume,
		Timestamp:  now,
		IngestedAt: now,
	}, true
}
