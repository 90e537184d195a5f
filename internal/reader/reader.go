// Package reader implements the Feed Reader: one worker per (scope, feed)
// that drives poll cycles through the URL Fetcher, Parser Dispatch, and
// Entry Pipeline, then enqueues a ready-to-post Bundle.
package reader

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"ircfeedbot/internal/config"
	"ircfeedbot/internal/entry"
	"ircfeedbot/internal/fetch"
	"ircfeedbot/internal/ircerr"
	"ircfeedbot/internal/observability/metrics"
	"ircfeedbot/internal/parse"
	"ircfeedbot/internal/pipeline"
	"ircfeedbot/internal/scope"
	"ircfeedbot/internal/shorten"
	"ircfeedbot/internal/syncx"
)

// Tunables shared with the Channel Poster; values are grounded on the
// system this engine's behavior was distilled from.
const (
	// PeriodJitterFraction is the ± fraction applied to a feed's configured
	// poll period.
	PeriodJitterFraction = 0.05
	// PeriodFloor is the minimum permitted poll period, regardless of a
	// feed's configured value.
	PeriodFloor = 12 * time.Minute
	// SecondsBetweenFeedURLs is the minimum spacing between successive
	// fetches within one feed's poll cycle (its own multi-URL list, plus
	// any follow-URLs), matching the engine's per-message throttle so a
	// single feed can't hammer its own origin any harder than the poster
	// hammers the chat server.
	SecondsBetweenFeedURLs = 2 * time.Second
	// MinConsecutiveFeedFailuresForAlert is the failure-streak length that
	// first triggers a read-failure alert.
	MinConsecutiveFeedFailuresForAlert = 3
	// MinFeedIntervalForRepeatedAlert bounds how often a still-failing feed
	// re-alerts, to avoid alert storms from a long-broken source.
	MinFeedIntervalForRepeatedAlert = time.Hour
	// BundleQueueCapacity bounds a scope's pending-bundle channel.
	BundleQueueCapacity = 32
)

// Alerter receives a human-readable notice for conditions an operator
// should see: empty reads, repeated failures, full bundle queues. It is
// typically backed by the supervisor's alerts-scope announcer.
type Alerter interface {
	Alert(ctx context.Context, scope, feed, message string)
}

// Clock lets tests control time and jitter deterministically.
type Clock struct {
	Now       func() time.Time
	JitterF64 func() float64
}

// realClock is the production Clock.
func realClock() Clock {
	return Clock{Now: time.Now, JitterF64: rand.Float64}
}

// Reader drives one (scope, feed) through repeated poll cycles.
type Reader struct {
	Scope string
	Feed  *config.Feed

	Fetcher   *fetch.Fetcher
	Parsers   *parse.Registry
	Pipeline  *pipeline.Pipeline
	Shortener shorten.Shortener
	Scopes    *scope.Registry
	Groups    *GroupBarriers
	Alerts    Alerter
	Queue     chan *entry.Bundle

	AlertsScope string
	Once        bool

	Clock Clock

	consecutiveFailures int
	lastFailureAlert    time.Time
}

// New builds a Reader. queue is the destination scope's bounded bundle
// channel, shared across every feed posting to that scope.
func New(scopeName string, feed *config.Feed, fetcher *fetch.Fetcher, parsers *parse.Registry, pl *pipeline.Pipeline, shortener shorten.Shortener, scopes *scope.Registry, groups *GroupBarriers, alerts Alerter, queue chan *entry.Bundle, alertsScope string, once bool) *Reader {
	return &Reader{
		Scope:       scopeName,
		Feed:        feed,
		Fetcher:     fetcher,
		Parsers:     parsers,
		Pipeline:    pl,
		Shortener:   shortener,
		Scopes:      scopes,
		Groups:      groups,
		Alerts:      alerts,
		Queue:       queue,
		AlertsScope: alertsScope,
		Once:        once,
		Clock:       realClock(),
	}
}

// Run blocks, driving poll cycles until ctx is done (or, in once mode,
// until the first cycle completes).
func (r *Reader) Run(ctx context.Context) error {
	queryTime := r.Clock.Now()

	for {
		period := r.nextPeriod()
		queryTime = maxTime(r.Clock.Now(), queryTime.Add(period))
		if err := r.sleepUntil(ctx, queryTime); err != nil {
			return err
		}

		if err := r.Scopes.WaitJoined(ctx, r.Scope, r.AlertsScope); err != nil {
			return err
		}

		succeeded := r.cycle(ctx)

		if r.Once && succeeded {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (r *Reader) nextPeriod() time.Duration {
	configured := time.Duration(r.Feed.Period * float64(time.Hour))
	base := configured
	if base < PeriodFloor {
		base = PeriodFloor
	}
	j := PeriodJitterFraction
	low := 1 - j
	high := 1 + j
	factor := low + r.Clock.JitterF64()*(high-low)
	return time.Duration(float64(base) * factor)
}

func (r *Reader) sleepUntil(ctx context.Context, when time.Time) error {
	d := when.Sub(r.Clock.Now())
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cycle runs exactly one poll cycle and reports whether it completed
// without error.
func (r *Reader) cycle(ctx context.Context) bool {
	start := r.Clock.Now()

	raw, urlsFetched, zeroEntryURLs, err := r.fetchAndParse(ctx)
	if err != nil {
		r.handleFailure(ctx, err)
		metrics.RecordFeedPoll(r.Scope, r.Feed.Name, 0, r.Clock.Now().Sub(start), "failure")
		return false
	}
	r.consecutiveFailures = 0

	if zeroEntryURLs > 0 && r.Feed.Alerts.Empty {
		r.Alerts.Alert(ctx, r.Scope, r.Feed.Name,
			fmt.Sprintf("feed %s/%s: %d of %d URLs yielded zero entries", r.Scope, r.Feed.Name, zeroEntryURLs, urlsFetched))
	}

	entries, err := r.Pipeline.Run(ctx, r.Scope, r.Feed.Name, r.Feed, raw)
	if err != nil {
		r.handleFailure(ctx, fmt.Errorf("pipeline: %w", err))
		metrics.RecordFeedPoll(r.Scope, r.Feed.Name, 0, r.Clock.Now().Sub(start), "failure")
		return false
	}

	if r.Feed.Shorten {
		entries = r.shortenEntries(ctx, entries)
	}

	if r.Feed.Group != "" && r.Groups != nil {
		r.Groups.Wait(ctx, r.Feed.Group)
	}

	bundle := &entry.Bundle{
		Scope:         r.Scope,
		Feed:          r.Feed.Name,
		Entries:       entries,
		URLsFetched:   urlsFetched,
		ZeroEntryURLs: zeroEntryURLs,
	}
	r.enqueue(ctx, bundle)

	metrics.RecordFeedPoll(r.Scope, r.Feed.Name, len(entries), r.Clock.Now().Sub(start), "success")
	return true
}

func (r *Reader) shortenEntries(ctx context.Context, entries []entry.Entry) []entry.Entry {
	longs := make([]string, len(entries))
	for i, e := range entries {
		longs[i] = e.LongURL
	}
	shorts, err := r.Shortener.Shorten(ctx, longs)
	if err != nil || len(shorts) != len(entries) {
		slog.Warn("shorten failed, posting long urls", slog.String("scope", r.Scope), slog.String("feed", r.Feed.Name), slog.Any("error", err))
		return entries
	}
	for i := range entries {
		entries[i].ShortURL = shorts[i]
	}
	return entries
}

func (r *Reader) enqueue(ctx context.Context, bundle *entry.Bundle) {
	select {
	case r.Queue <- bundle:
		return
	default:
	}

	r.Alerts.Alert(ctx, r.Scope, r.Feed.Name, fmt.Sprintf("scope %s bundle queue is full, blocking", r.Scope))
	select {
	case r.Queue <- bundle:
	case <-ctx.Done():
	}
}

func (r *Reader) fetchAndParse(ctx context.Context) ([]entry.RawEntry, int, int, error) {
	urls := append([]string{}, r.Feed.URL...)

	var all []entry.RawEntry
	urlsFetched := 0
	zeroEntryURLs := 0
	throttle := syncx.NewIntervalLock(SecondsBetweenFeedURLs)

	for i := 0; i < len(urls); i++ {
		u := urls[i]

		// The first Wait returns at once and starts the interval, so every
		// later fetch is spaced from the one before it.
		if err := throttle.Wait(ctx); err != nil {
			return nil, urlsFetched, zeroEntryURLs, err
		}

		content, err := r.Fetcher.Fetch(ctx, u)
		if err != nil {
			return nil, urlsFetched, zeroEntryURLs, ircerr.New(ircerr.KindTransientNetwork, r.Scope, r.Feed.Name, err)
		}
		urlsFetched++

		entries, followURLs, err := r.Parsers.Dispatch(ctx, content.Body, r.Feed)
		if err != nil {
			return nil, urlsFetched, zeroEntryURLs, ircerr.New(ircerr.KindFeedCycle, r.Scope, r.Feed.Name, err)
		}
		if len(entries) == 0 {
			zeroEntryURLs++
		}
		all = append(all, entries...)
		urls = append(urls, followURLs...)
	}

	return all, urlsFetched, zeroEntryURLs, nil
}

func (r *Reader) handleFailure(ctx context.Context, err error) {
	r.consecutiveFailures++

	if !r.Feed.Alerts.Read {
		slog.Error("feed read failed", slog.String("scope", r.Scope), slog.String("feed", r.Feed.Name), slog.Any("error", err))
		return
	}
	if r.consecutiveFailures < MinConsecutiveFeedFailuresForAlert {
		slog.Error("feed read failed", slog.String("scope", r.Scope), slog.String("feed", r.Feed.Name), slog.Any("error", err))
		return
	}

	now := r.Clock.Now()
	if !r.lastFailureAlert.IsZero() && now.Sub(r.lastFailureAlert) < MinFeedIntervalForRepeatedAlert {
		slog.Error("feed read failed (alert suppressed, too recent)", slog.String("scope", r.Scope), slog.String("feed", r.Feed.Name), slog.Any("error", err))
		return
	}

	r.lastFailureAlert = now
	r.Alerts.Alert(ctx, r.Scope, r.Feed.Name,
		fmt.Sprintf("feed %s/%s has failed %d consecutive times: %v", r.Scope, r.Feed.Name, r.consecutiveFailures, err))
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
