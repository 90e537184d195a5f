// Package poster implements the Channel Poster: one worker per scope that
// dequeues bundles, waits out idle-time and rate constraints, announces
// postable entries, updates topics, records dedup state, and hands posted
// entries to the archival Publisher.
package poster

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"ircfeedbot/internal/config"
	"ircfeedbot/internal/dedup"
	"ircfeedbot/internal/entry"
	"ircfeedbot/internal/ircclient"
	"ircfeedbot/internal/observability/metrics"
	"ircfeedbot/internal/pipeline"
	"ircfeedbot/internal/publish"
	"ircfeedbot/internal/scope"
	"ircfeedbot/internal/syncx"
)

const (
	// DefaultMinChannelIdleTime is the default minimum quiet period a
	// scope must observe before a bundle is announced.
	DefaultMinChannelIdleTime = 15 * time.Minute
	// SecondsPerMessage paces individual irc.msg/TOPIC sends, process-wide.
	SecondsPerMessage = 2 * time.Second
	// DisconnectPollInterval is how often the poster checks for chat
	// client reconnection during a netsplit.
	DisconnectPollInterval = 5 * time.Second
	// QuoteLenMax is the IRC protocol line-length budget (512 bytes minus
	// the trailing \r\n) a rendered message must fit inside.
	QuoteLenMax = 510
)

// OutgoingRateLock is the process-wide lock serializing bundle
// announcement across every scope: at most one scope is "in flight" at
// any instant.
type OutgoingRateLock struct {
	mu sync.Mutex
}

// NewOutgoingRateLock builds an unlocked OutgoingRateLock.
func NewOutgoingRateLock() *OutgoingRateLock { return &OutgoingRateLock{} }

// Poster drives one scope's bundle queue.
type Poster struct {
	Scope string

	Client    ircclient.Client
	Store     *dedup.Store
	Publisher publish.Publisher
	Scopes    *scope.Registry
	RateLock  *OutgoingRateLock
	Throttle  *syncx.IntervalLock

	Queue       chan *entry.Bundle
	Feeds       map[string]*config.Feed
	AlertsScope string

	Identity string

	// BusyLock is held for the whole send phase of one bundle. The
	// supervisor acquires it during graceful shutdown to wait out any
	// bundle a poster is mid-way through sending, so it is passed in
	// rather than allocated privately.
	BusyLock *sync.Mutex

	Now func() time.Time
}

// New builds a Poster. feeds maps feed name to its config, used to look up
// per-feed idle/new-feed/dedup-scope settings for a dequeued bundle.
// busyLock is this scope's drain lock, shared with the supervisor.
func New(scopeName string, client ircclient.Client, store *dedup.Store, publisher publish.Publisher, scopes *scope.Registry, rateLock *OutgoingRateLock, throttle *syncx.IntervalLock, queue chan *entry.Bundle, feeds map[string]*config.Feed, alertsScope, identity string, busyLock *sync.Mutex) *Poster {
	return &Poster{
		Scope:       scopeName,
		Client:      client,
		Store:       store,
		Publisher:   publisher,
		Scopes:      scopes,
		RateLock:    rateLock,
		Throttle:    throttle,
		Queue:       queue,
		Feeds:       feeds,
		AlertsScope: alertsScope,
		Identity:    identity,
		BusyLock:    busyLock,
		Now:         time.Now,
	}
}

// Run blocks, dequeuing and posting bundles until ctx is done.
func (p *Poster) Run(ctx context.Context) error {
	if err := p.Scopes.WaitJoined(ctx, p.Scope, p.AlertsScope); err != nil {
		return err
	}

	for {
		select {
		case bundle, ok := <-p.Queue:
			if !ok {
				return nil
			}
			p.postBundle(ctx, bundle)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Poster) postBundle(ctx context.Context, bundle *entry.Bundle) {
	feed := p.Feeds[bundle.Feed]

	lookupStart := p.Now()
	postable, suppressed, err := p.postableSubset(ctx, feed, bundle)
	metrics.RecordDedupLookup("postable_subset", p.Now().Sub(lookupStart))
	if err != nil {
		slog.Error("compute postable subset failed", slog.String("scope", p.Scope), slog.String("feed", bundle.Feed), slog.Any("error", err))
		return
	}

	if len(postable) == 0 {
		p.markPosted(ctx, feed, bundle, suppressed)
		metrics.BundlesSuppressedTotal.WithLabelValues(p.Scope, bundle.Feed).Inc()
		return
	}

	minIdle := p.minIdle(feed)
	waitStart := p.Now()
	if err := p.waitForIdle(ctx, minIdle); err != nil {
		return
	}
	metrics.PostIdleWaitDuration.WithLabelValues(p.Scope).Observe(p.Now().Sub(waitStart).Seconds())
	defer p.RateLock.mu.Unlock()

	if err := p.waitForConnection(ctx); err != nil {
		return
	}

	p.BusyLock.Lock()
	defer p.BusyLock.Unlock()

	sent := p.sendEntries(ctx, feed, postable)

	p.markPosted(ctx, feed, bundle, append(sent, suppressed...))

	published := toPublishedEntries(bundle.Feed, sent)
	if p.Publisher != nil && len(published) > 0 {
		pubStart := p.Now()
		if err := p.Publisher.Publish(ctx, p.Scope, published); err != nil {
			slog.Error("publish failed", slog.String("scope", p.Scope), slog.Any("error", err))
			metrics.RecordPublisherCall(p.Scope, "failure", p.Now().Sub(pubStart))
		} else {
			metrics.RecordPublisherCall(p.Scope, "success", p.Now().Sub(pubStart))
		}
	}
}

// postableSubset applies the new-feed cap and dedup membership check,
// returning the entries to announce and, separately, the entries that
// were suppressed by the cap (still recorded as posted so they don't
// re-appear once the feed is no longer "new").
func (p *Poster) postableSubset(ctx context.Context, feed *config.Feed, bundle *entry.Bundle) (postable, suppressed []entry.Entry, err error) {
	isNew, err := p.Store.IsNewFeed(ctx, p.Scope, bundle.Feed)
	if err != nil {
		return nil, nil, fmt.Errorf("check new feed: %w", err)
	}

	urls := make([]string, len(bundle.Entries))
	for i, e := range bundle.Entries {
		urls[i] = e.Key()
	}

	var unposted []string
	if feed.DedupScope == config.DedupFeed {
		unposted, err = p.Store.UnpostedForFeed(ctx, p.Scope, bundle.Feed, urls)
	} else {
		unposted, err = p.Store.UnpostedForScope(ctx, p.Scope, urls)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("unposted lookup: %w", err)
	}

	unpostedSet := make(map[string]bool, len(unposted))
	for _, u := range unposted {
		unpostedSet[u] = true
	}

	var candidates []entry.Entry
	for _, e := range bundle.Entries {
		if unpostedSet[e.Key()] {
			candidates = append(candidates, e)
		}
	}

	if isNew && feed.NewFeedPolicy != config.NewFeedAll {
		limit := 0
		if feed.NewFeedPolicy == config.NewFeedSome {
			limit = config.NewFeedSomeLimit
		}
		if len(candidates) > limit {
			return candidates[:limit], candidates[limit:], nil
		}
	}

	return candidates, nil, nil
}

func (p *Poster) minIdle(feed *config.Feed) time.Duration {
	period := time.Duration(feed.Period * float64(time.Hour))
	if period <= periodFloorForIdleWaiver() {
		return 0
	}
	return DefaultMinChannelIdleTime
}

// periodFloorForIdleWaiver mirrors the reader's period floor: a feed
// already at the minimum permitted period gets no idle wait, so
// very-short-period feeds keep flowing.
func periodFloorForIdleWaiver() time.Duration {
	return 12 * time.Minute
}

// waitForIdle polls the scope's idle time, holding the global outgoing-
// rate lock only while it checks, until minIdle has elapsed since the
// scope's last inbound message. It returns with the lock held.
func (p *Poster) waitForIdle(ctx context.Context, minIdle time.Duration) error {
	state := p.Scopes.Get(p.Scope)

	for {
		p.RateLock.mu.Lock()

		idle := state.IdleFor(p.Now())
		sleep := minIdle - idle
		if sleep <= 0 {
			return nil
		}

		p.RateLock.mu.Unlock()

		timer := time.NewTimer(sleep)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (p *Poster) waitForConnection(ctx context.Context) error {
	for !p.Client.Connected() {
		timer := time.NewTimer(DisconnectPollInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return nil
}

// sendEntries announces each postable entry in order and returns the
// subset whose Msg call actually succeeded. A failed send is excluded so
// the caller never records it as posted; the next cycle will re-attempt it.
func (p *Poster) sendEntries(ctx context.Context, feed *config.Feed, postable []entry.Entry) []entry.Entry {
	sent := make([]entry.Entry, 0, len(postable))
	for _, e := range postable {
		if err := p.Throttle.Wait(ctx); err != nil {
			return sent
		}
		if err := p.Client.Msg(ctx, p.Scope, renderMessageFittingQuote(p.Identity, p.Scope, feed, e)); err != nil {
			slog.Error("post message failed", slog.String("scope", p.Scope), slog.Any("error", err))
			continue
		}
		metrics.RecordPost(p.Scope, e.Feed)
		sent = append(sent, e)

		if topic, changed := p.nextTopic(feed, e); changed {
			if err := p.Throttle.Wait(ctx); err != nil {
				return sent
			}
			if err := p.Client.SetTopic(ctx, p.Scope, topic); err != nil {
				slog.Error("set topic failed", slog.String("scope", p.Scope), slog.Any("error", err))
			} else {
				p.Scopes.Get(p.Scope).SetTopic(topic)
			}
		}
	}
	return sent
}

func renderMessage(feed *config.Feed, e entry.Entry) string {
	title := e.Title
	if feed.Message.Title != "" {
		title = feed.Message.Title
	}
	return fmt.Sprintf("[%s] %s → %s", e.Feed, title, e.DisplayURL())
}

// nextTopic computes the scope's topic after folding in e, if any of the
// feed's topic rules match. Each rule is "key: regex"; a match's first
// capture group (or whole match, if the pattern has none) becomes that
// key's value. Segments are rendered "key: value" and joined with " | ".
func (p *Poster) nextTopic(feed *config.Feed, e entry.Entry) (string, bool) {
	if len(feed.Topic) == 0 {
		return "", false
	}

	current := p.Scopes.Get(p.Scope).Topic()
	segments := parseTopicSegments(current)

	changed := false
	for key, pattern := range feed.Topic {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		match := re.FindStringSubmatch(e.Title)
		if match == nil {
			continue
		}
		value := match[0]
		if len(match) > 1 {
			value = match[1]
		}
		if segments[key] != value {
			segments[key] = value
			changed = true
		}
	}
	if !changed {
		return "", false
	}
	return renderTopicSegments(segments), true
}

func parseTopicSegments(topic string) map[string]string {
	segments := make(map[string]string)
	if topic == "" {
		return segments
	}
	for _, part := range strings.Split(topic, " | ") {
		kv := strings.SplitN(part, ": ", 2)
		if len(kv) == 2 {
			segments[kv[0]] = kv[1]
		}
	}
	return segments
}

func renderTopicSegments(segments map[string]string) string {
	keys := make([]string, 0, len(segments))
	for k := range segments {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, segments[k]))
	}
	return strings.Join(parts, " | ")
}

func (p *Poster) markPosted(ctx context.Context, feed *config.Feed, bundle *entry.Bundle, entries []entry.Entry) {
	if len(entries) == 0 {
		return
	}
	urls := make([]string, len(entries))
	for i, e := range entries {
		urls[i] = e.Key()
	}
	if err := p.Store.InsertPosted(ctx, p.Scope, bundle.Feed, urls); err != nil {
		slog.Error("mark posted failed", slog.String("scope", p.Scope), slog.String("feed", bundle.Feed), slog.Any("error", err))
		return
	}
	metrics.DedupURLsInsertedTotal.WithLabelValues(p.Scope, bundle.Feed).Add(float64(len(urls)))
}

func toPublishedEntries(feedName string, entries []entry.Entry) []publish.PublishedEntry {
	out := make([]publish.PublishedEntry, len(entries))
	for i, e := range entries {
		out[i] = publish.PublishedEntry{
			Title:   e.Title,
			Summary: e.Summary,
			URL:     e.DisplayURL(),
			Feed:    feedName,
		}
	}
	return out
}

// renderMessageFittingQuote re-shortens title, if needed, so the rendered
// PRIVMSG line (identity, scope, feed, url included) fits QuoteLenMax — a
// final, precise pass against the pipeline's conservative default budget.
func renderMessageFittingQuote(identity, target string, feed *config.Feed, e entry.Entry) string {
	msg := renderMessage(feed, e)
	overhead := len(fmt.Sprintf(":%s PRIVMSG %s :", identity, target))
	budget := QuoteLenMax - overhead
	if budget <= 0 || len(msg) <= budget {
		return msg
	}
	titleBudget := budget - (len(msg) - len(e.Title))
	e.Title = pipeline.ShortenToBytesWidth(e.Title, titleBudget)
	return renderMessage(feed, e)
}
