// Package fetch implements the resilient, conditional-GET HTTP fetcher
// that sits in front of every parser: a disk-backed ETag cache, a
// probabilistic re-validation probe that guards against origins reusing
// ETags across changed bodies, and a per-netloc blacklist for origins
// caught doing so.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"ircfeedbot/internal/resilience/circuitbreaker"
	"ircfeedbot/internal/resilience/retry"
)

// Approach records how Content was produced.
type Approach string

const (
	ApproachCacheHit Approach = "cache-hit"
	ApproachETag304  Approach = "etag-304"
	ApproachRead     Approach = "read"
)

// probeProbability is the uniform-draw threshold for testing a cached
// strong ETag without If-None-Match, to detect origins that reuse ETags
// across changed bodies.
const probeProbability = 0.1

// Content is the Fetcher's output for a single URL.
type Content struct {
	Body      []byte
	ETag      string
	FetchedAt time.Time
	Approach  Approach
}

// isStrongETag reports whether an ETag is a strong validator. Weak
// validators (the W/ prefix) are intentionally excluded from the
// ETag-reuse probe: a weak ETag is explicitly allowed to identify
// semantically-equivalent-but-not-identical bodies.
func isStrongETag(etag string) bool {
	return etag != "" && !strings.HasPrefix(etag, "W/")
}

// Fetcher performs conditional GETs through a disk-backed Cache, guarding
// against origins whose ETags lie about body identity.
type Fetcher struct {
	client         *http.Client
	cache          *Cache
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config

	maxCacheAge time.Duration
	userAgent   string
	uaOverrides map[string]string

	mu         sync.Mutex
	blacklist  map[string]bool
	randFloat  func() float64
	randToken  func() string
}

// RandomUserAgentOverride is a sentinel `UserAgentOverrides` value: instead
// of a fixed string, each request to that netloc gets a freshly generated
// random token, to defeat throttling keyed on a stable User-Agent.
const RandomUserAgentOverride = "random"

func randomUserAgentToken() string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 12)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return "ircfeedbot-" + string(b)
}

// Config configures a Fetcher.
type Config struct {
	Timeout     time.Duration
	MaxCacheAge time.Duration
	UserAgent   string

	// UserAgentOverrides maps a netloc (lowercase, without a "www." prefix)
	// to the User-Agent string sent for requests to that site, for origins
	// that block or degrade the default UA (e.g. require a named crawler
	// UA, or serve a mobile-only variant to browser UAs).
	UserAgentOverrides map[string]string
}

// New builds a Fetcher backed by cache.
func New(cfg Config, cache *Cache) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "ircfeedbot/1.0"
	}

	uaOverrides := make(map[string]string, len(cfg.UserAgentOverrides))
	for netloc, ua := range cfg.UserAgentOverrides {
		uaOverrides[strings.ToLower(strings.TrimPrefix(netloc, "www."))] = ua
	}

	return &Fetcher{
		client:         &http.Client{Timeout: timeout},
		cache:          cache,
		circuitBreaker: circuitbreaker.New(circuitbreaker.FeedFetchConfig()),
		retryConfig:    retry.URLFetchConfig(),
		maxCacheAge:    cfg.MaxCacheAge,
		userAgent:      userAgent,
		uaOverrides:    uaOverrides,
		blacklist:      make(map[string]bool),
		randFloat:      rand.Float64,
		randToken:      randomUserAgentToken,
	}
}

// DefaultUserAgentOverrides are the engine's built-in per-site User-Agent
// overrides: origins known to block, rate-limit, or serve degraded content
// to the default UA, keyed by netloc without a "www." prefix.
func DefaultUserAgentOverrides() map[string]string {
	return map[string]string{
		"medscape.com":        "Googlebot-News",
		"m.youtube.com":       "Mozilla/5.0",
		"swansonvitamins.com": "FeedFetcher-Google; (+http://www.google.com/feedfetcher.html)",
		"youtu.be":            "Mozilla/5.0",
		"youtube.com":         "Mozilla/5.0",
	}
}

// userAgentFor returns the User-Agent to send for netloc: a per-site
// override if configured, otherwise the Fetcher's default.
func (f *Fetcher) userAgentFor(netloc string) string {
	key := strings.ToLower(strings.TrimPrefix(netloc, "www."))
	if ua, ok := f.uaOverrides[key]; ok {
		if ua == RandomUserAgentOverride {
			return f.randToken()
		}
		return ua
	}
	return f.userAgent
}

// Fetch performs the cache→probe→conditional-GET algorithm for rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Content, error) {
	netloc, err := netlocOf(rawURL)
	if err != nil {
		return Content{}, fmt.Errorf("parse url %q: %w", rawURL, err)
	}

	cached, hit := f.cache.Get(rawURL)
	if hit && f.maxCacheAge > 0 && time.Since(cached.FetchedAt) <= f.maxCacheAge {
		cached.Approach = ApproachCacheHit
		return cached, nil
	}

	probe := hit && isStrongETag(cached.ETag) && !f.isBlacklisted(netloc) && f.randFloat() <= probeProbability

	var result Content
	retryErr := retry.WithBackoff(ctx, f.retryConfig, func() error {
		cbResult, err := f.circuitBreaker.Execute(func() (interface{}, error) {
			return f.doFetch(ctx, rawURL, netloc, cached, hit, probe)
		})
		if err != nil {
			return err
		}
		result = cbResult.(Content)
		return nil
	})
	if retryErr != nil {
		return Content{}, fmt.Errorf("fetch %q: %w", rawURL, retryErr)
	}

	if probe && result.Approach == ApproachRead && result.ETag == cached.ETag {
		if !bytes.Equal(result.Body, cached.Body) {
			slog.Warn("etag reuse detected, blacklisting netloc",
				slog.String("netloc", netloc), slog.String("url", rawURL))
			f.blacklistNetloc(netloc)
			f.cache.PurgeNetloc(netloc)
		}
	}

	return result, nil
}

func (f *Fetcher) doFetch(ctx context.Context, rawURL, netloc string, cached Content, hit, probe bool) (Content, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Content{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgentFor(netloc))

	if hit && cached.ETag != "" && !probe {
		req.Header.Set("If-None-Match", cached.ETag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Content{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		refreshed := cached
		refreshed.FetchedAt = time.Now()
		refreshed.Approach = ApproachETag304
		f.cache.Put(rawURL, refreshed)
		return refreshed, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Content{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Content{}, fmt.Errorf("read body: %w", err)
	}

	content := Content{
		Body:      body,
		ETag:      resp.Header.Get("ETag"),
		FetchedAt: time.Now(),
		Approach:  ApproachRead,
	}
	f.cache.Put(rawURL, content)
	return content, nil
}

func (f *Fetcher) isBlacklisted(netloc string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blacklist[netloc]
}

func (f *Fetcher) blacklistNetloc(netloc string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blacklist[netloc] = true
}

func netlocOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return u.Host, nil
}
