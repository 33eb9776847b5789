// Package fetch pulls raw data from the configured sources: pooled HTTP for
// REST endpoints, gofeed for RSS/Atom, and a supervised websocket per
// streaming source. Parsing into the normalized record types lives here too.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/marketdeck/marketd/internal/config"
)

const (
	requestTimeout = 15 * time.Second
	userAgent      = "marketd/0.1"
	maxBodyBytes   = 4 << 20
)

// Client is a shared, rate-limited HTTP client. One instance serves every
// REST and RSS source so the connection pool and the limiter are global.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	sem     chan struct{}
}

// NewClient builds the shared client. maxConcurrent caps in-flight requests
// across all sources; rps bounds the aggregate request rate.
func NewClient(maxConcurrent int, rps float64) *Client {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	if rps <= 0 {
		rps = 10
	}
	return &Client{
		http: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)),
		sem:     make(chan struct{}, maxConcurrent),
	}
}

// Get fetches an arbitrary URL (used by the RSS path).
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, url, nil, nil)
}

// FetchREST builds the request a REST source descriptor describes and
// returns the raw response body.
func (c *Client) FetchREST(ctx context.Context, src config.RESTSource) ([]byte, error) {
	url := src.BaseURL + src.Endpoint
	if src.Params != "" {
		url += "?" + src.Params
	}

	var body io.Reader
	method := src.Method
	if method == http.MethodPost && src.PostBody != "" {
		body = strings.NewReader(src.PostBody)
	}

	headers := map[string]string{}
	if src.APIKeyHeader != "" && src.APIKey != "" {
		headers[src.APIKeyHeader] = src.APIKey
	}
	if body != nil {
		headers["Content-Type"] = "application/json"
	}

	return c.do(ctx, method, url, body, headers)
}

func (c *Client) do(ctx context.Context, method, url string, body io.Reader, headers map[string]string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, application/xml, text/xml, */*")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("request %s: http %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body %s: %w", url, err)
	}

	log.Debug().
		Str("method", method).
		Str("url", url).
		Int("bytes", len(data)).
		Dur("elapsed", time.Since(start)).
		Msg("Fetched")
	return data, nil
}
