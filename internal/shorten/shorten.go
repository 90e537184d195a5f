// Package shorten provides the Shortener collaborator: turning a batch of
// long URLs into short ones via an external link-shortening service. The
// engine only depends on the Shortener interface; NewBitly wires a concrete
// Bitly-compatible implementation when BITLY_TOKENS is configured.
package shorten

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"ircfeedbot/internal/resilience/circuitbreaker"
	"ircfeedbot/internal/resilience/retry"
)

// Shortener turns long URLs into short ones. A failed shorten for one URL
// must not fail the whole batch: the returned slice is the same length as
// urls, and an entry that could not be shortened is returned unchanged.
type Shortener interface {
	Shorten(ctx context.Context, urls []string) ([]string, error)
}

// NoOp returns every URL unchanged. Used when no shortening token is
// configured.
type NoOp struct{}

// NewNoOp builds a NoOp Shortener.
func NewNoOp() *NoOp { return &NoOp{} }

// Shorten implements Shortener by returning urls verbatim.
func (NoOp) Shorten(_ context.Context, urls []string) ([]string, error) {
	return urls, nil
}

const (
	defaultTimeout = 10 * time.Second
	apiEndpoint    = "https://api-ssl.bitly.com/v4/shorten"
)

// Bitly shortens URLs through the Bitly v4 API, rotating across a pool of
// access tokens so one account's rate limit doesn't stall every feed.
type Bitly struct {
	tokens         []string
	next           uint64
	endpoint       string
	httpClient     *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

// NewBitly builds a Bitly shortener rotating across tokens. tokens must be
// non-empty; callers with no configured tokens should use NoOp instead.
func NewBitly(tokens []string) *Bitly {
	return &Bitly{
		tokens:         tokens,
		endpoint:       apiEndpoint,
		httpClient:     &http.Client{Timeout: defaultTimeout},
		circuitBreaker: circuitbreaker.New(circuitbreaker.ShortenAPIConfig()),
		retryConfig:    retry.URLFetchConfig(),
	}
}

func (b *Bitly) token() string {
	i := atomic.AddUint64(&b.next, 1) - 1
	return b.tokens[i%uint64(len(b.tokens))]
}

type bitlyRequest struct {
	LongURL string `json:"long_url"`
}

type bitlyResponse struct {
	Link string `json:"link"`
}

// Shorten shortens each URL independently. A per-URL failure (rate limit,
// malformed URL, API error) falls back to the original long URL rather
// than failing the batch; the failure is logged.
func (b *Bitly) Shorten(ctx context.Context, urls []string) ([]string, error) {
	out := make([]string, len(urls))
	for i, u := range urls {
		short, err := b.shortenOne(ctx, u)
		if err != nil {
			slog.Warn("shorten failed, using long url", slog.String("url", u), slog.Any("error", err))
			out[i] = u
			continue
		}
		out[i] = short
	}
	return out, nil
}

func (b *Bitly) shortenOne(ctx context.Context, longURL string) (string, error) {
	if _, err := url.Parse(longURL); err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}

	var short string
	err := retry.WithBackoff(ctx, b.retryConfig, func() error {
		result, err := b.circuitBreaker.Execute(func() (interface{}, error) {
			return b.callAPI(ctx, longURL)
		})
		if err != nil {
			return err
		}
		short = result.(string)
		return nil
	})
	return short, err
}

func (b *Bitly) callAPI(ctx context.Context, longURL string) (string, error) {
	body, err := json.Marshal(bitlyRequest{LongURL: longURL})
	if err != nil {
		return "", fmt.Errorf("marshal bitly request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build bitly request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.token())

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("bitly request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", &retry.HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("bitly returned %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("bitly returned %d", resp.StatusCode)
	}

	var decoded bitlyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode bitly response: %w", err)
	}
	return decoded.Link, nil
}
