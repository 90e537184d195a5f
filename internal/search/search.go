// Package search provides the Searcher collaborator: an independent
// request/response actor the supervisor consults when an admin or channel
// member asks for a search over the archival publisher's store. The core
// engine never queries the archive directly — it only calls Search and
// relays whatever comes back.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ircfeedbot/internal/resilience/circuitbreaker"
	"ircfeedbot/internal/resilience/retry"
)

// Result is one hit returned by a search query.
type Result struct {
	Title string
	URL   string
	Feed  string
}

// Searcher answers a free-text query against an external archive.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// NoOp always returns an empty result set. Used when no search backend is
// configured.
type NoOp struct{}

// NewNoOp builds a NoOp Searcher.
func NewNoOp() *NoOp { return &NoOp{} }

// Search implements Searcher by returning no results.
func (NoOp) Search(_ context.Context, _ string, _ int) ([]Result, error) {
	return nil, nil
}

const defaultTimeout = 10 * time.Second

// HTTPSearcher queries a JSON HTTP search endpoint: GET {baseURL}?q=...&limit=...
// returning {"results": [{"title":..., "url":..., "feed":...}, ...]}.
type HTTPSearcher struct {
	baseURL        string
	httpClient     *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

// NewHTTPSearcher builds an HTTPSearcher against baseURL.
func NewHTTPSearcher(baseURL string) *HTTPSearcher {
	return &HTTPSearcher{
		baseURL:        baseURL,
		httpClient:     &http.Client{Timeout: defaultTimeout},
		circuitBreaker: circuitbreaker.New(circuitbreaker.SearchAPIConfig()),
		retryConfig:    retry.SearchAPIConfig(),
	}
}

type searchResponse struct {
	Results []Result `json:"results"`
}

// Search issues the query and decodes the response. A non-2xx response is
// returned as an error; callers decide whether to relay it or fall silent.
// A search is an interactive request an admin or channel member is waiting
// on, so failures go through the same breaker-then-retry guard as the
// engine's other outbound HTTP calls instead of being left to fail silently.
func (s *HTTPSearcher) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	var results []Result
	err := retry.WithBackoff(ctx, s.retryConfig, func() error {
		_, err := s.circuitBreaker.Execute(func() (interface{}, error) {
			r, doErr := s.doSearch(ctx, query, limit)
			results = r
			return nil, doErr
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *HTTPSearcher) doSearch(ctx context.Context, query string, limit int) ([]Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}

	q := req.URL.Query()
	q.Set("q", query)
	q.Set("limit", fmt.Sprintf("%d", limit))
	req.URL.RawQuery = q.Encode()

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &retry.HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("search endpoint returned %d", resp.StatusCode)}
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return decoded.Results, nil
}
