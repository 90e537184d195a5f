package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"ircfeedbot/internal/resilience/circuitbreaker"
	"ircfeedbot/internal/resilience/retry"

	"github.com/sony/gobreaker"
)

const (
	summaryMaxLength  = 2000
	defaultTimeout    = 10 * time.Second
	truncationSuffix  = "... (truncated)"
)

// WebhookConfig configures a WebhookPublisher. It is built from a feed's
// publish.params map, so every field is a plain string, duration or number
// rather than a richer type.
type WebhookConfig struct {
	URL               string
	Username          string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// webhookPayload is a generic Discord/Slack-compatible webhook body: both
// accept a top-level "content" string and an "embeds" array with the same
// shape, so one struct serves either sink.
type webhookPayload struct {
	Username string          `json:"username,omitempty"`
	Content  string          `json:"content,omitempty"`
	Embeds   []webhookEmbed  `json:"embeds,omitempty"`
}

type webhookEmbed struct {
	Title       string          `json:"title"`
	URL         string          `json:"url"`
	Description string          `json:"description,omitempty"`
	Footer      *webhookFooter  `json:"footer,omitempty"`
	Timestamp   string          `json:"timestamp,omitempty"`
}

type webhookFooter struct {
	Text string `json:"text"`
}

type webhookErrorResponse struct {
	Message    string `json:"message"`
	RetryAfter float64 `json:"retry_after"`
}

// WebhookPublisher delivers posted entries to a Discord- or Slack-style
// incoming webhook, one embed per entry, batched into Discord's 10-embeds-
// per-request limit.
type WebhookPublisher struct {
	config         WebhookConfig
	httpClient     *http.Client
	rateLimiter    *RateLimiter
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

// NewWebhookPublisher builds a WebhookPublisher. Defaults mirror the
// teacher's Discord notifier: a 10s HTTP timeout, and a 2req/s-burst-5 rate
// limiter that most webhook providers' own throttling tolerates.
func NewWebhookPublisher(cfg WebhookConfig) *WebhookPublisher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2.0
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}

	return &WebhookPublisher{
		config:         cfg,
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		rateLimiter:    NewRateLimiter(rps, burst),
		circuitBreaker: circuitbreaker.New(circuitbreaker.PublisherConfig("publish-webhook")),
		retryConfig:    retry.PublisherConfig(),
	}
}

const maxEmbedsPerRequest = 10

// Publish sends entries as one or more webhook requests, chunked to stay
// under the embeds-per-request limit most providers enforce.
func (w *WebhookPublisher) Publish(ctx context.Context, scope string, entries []PublishedEntry) error {
	for start := 0; start < len(entries); start += maxEmbedsPerRequest {
		end := start + maxEmbedsPerRequest
		if end > len(entries) {
			end = len(entries)
		}
		if err := w.publishChunk(ctx, scope, entries[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (w *WebhookPublisher) publishChunk(ctx context.Context, scope string, entries []PublishedEntry) error {
	payload := w.buildPayload(scope, entries)

	return retry.WithBackoff(ctx, w.retryConfig, func() error {
		if err := w.rateLimiter.Allow(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		_, err := w.circuitBreaker.Execute(func() (interface{}, error) {
			return nil, w.sendWebhookRequest(ctx, payload)
		})
		if err != nil {
			if errorsIsOpenState(err) {
				slog.Warn("publish circuit breaker open, request rejected",
					slog.String("scope", scope),
					slog.String("state", w.circuitBreaker.State().String()))
				return err
			}
			if rateLimitErr, ok := is429Error(err); ok {
				slog.Warn("webhook rate limited", slog.String("scope", scope),
					slog.Duration("retry_after", rateLimitErr.RetryAfter))
				return rateLimitErr
			}
			return err
		}
		return nil
	})
}

func errorsIsOpenState(err error) bool {
	return err == gobreaker.ErrOpenState
}

func (w *WebhookPublisher) buildPayload(scope string, entries []PublishedEntry) webhookPayload {
	embeds := make([]webhookEmbed, 0, len(entries))
	now := timeNow()
	for _, e := range entries {
		embeds = append(embeds, webhookEmbed{
			Title:       e.Title,
			URL:         e.URL,
			Description: truncateSummary(e.Summary, summaryMaxLength, truncationSuffix),
			Footer:      &webhookFooter{Text: fmt.Sprintf("%s / %s", scope, e.Feed)},
			Timestamp:   now,
		})
	}
	return webhookPayload{
		Username: w.config.Username,
		Embeds:   embeds,
	}
}

func timeNow() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func (w *WebhookPublisher) sendWebhookRequest(ctx context.Context, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: extractRetryAfter(resp, respBody)}
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &ClientError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}
	return &ServerError{StatusCode: resp.StatusCode, Message: string(respBody)}
}

func extractRetryAfter(resp *http.Response, body []byte) time.Duration {
	if h := resp.Header.Get("Retry-After"); h != "" {
		if secs, err := strconv.Atoi(h); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	var parsed webhookErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.RetryAfter > 0 {
		return time.Duration(parsed.RetryAfter * float64(time.Second))
	}
	return time.Second
}
