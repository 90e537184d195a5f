// Package metrics provides centralized Prometheus metrics for the feed
// engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Feed poll metrics track Feed Reader activity.
var (
	// FeedPollsTotal counts completed poll cycles by scope, feed, and
	// outcome (success, failure).
	FeedPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_polls_total",
			Help: "Total number of feed poll cycles",
		},
		[]string{"scope", "feed", "outcome"},
	)

	// FeedPollDuration measures time to complete one poll cycle (fetch
	// through pipeline).
	FeedPollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feed_poll_duration_seconds",
			Help:    "Time taken to complete one feed poll cycle",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"scope", "feed"},
	)

	// FeedEntriesFound counts entries yielded by a poll, before dedup.
	FeedEntriesFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_entries_found_total",
			Help: "Total number of entries found across feed polls",
		},
		[]string{"scope", "feed"},
	)

	// FeedConsecutiveFailures tracks the current consecutive-failure
	// streak for a feed.
	FeedConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feed_consecutive_failures",
			Help: "Current consecutive poll failure count for a feed",
		},
		[]string{"scope", "feed"},
	)
)

// Post metrics track Channel Poster activity.
var (
	// PostsTotal counts messages sent to a scope.
	PostsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posts_total",
			Help: "Total number of messages posted to a scope",
		},
		[]string{"scope", "feed"},
	)

	// PostIdleWaitDuration measures time a bundle spent waiting for
	// channel idle-time before posting.
	PostIdleWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "post_idle_wait_seconds",
			Help:    "Time a bundle waited for channel idle-time before posting",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"scope"},
	)

	// BundlesSuppressedTotal counts bundles whose postable subset was
	// empty (new-feed cap or full dedup).
	BundlesSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bundles_suppressed_total",
			Help: "Total number of bundles with no postable entries",
		},
		[]string{"scope", "feed"},
	)
)

// Dedup store metrics.
var (
	// DedupLookupDuration measures time spent querying the dedup store.
	DedupLookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dedup_lookup_duration_seconds",
			Help:    "Time taken by a dedup store membership lookup",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		},
		[]string{"operation"},
	)

	// DedupURLsInsertedTotal counts URLs recorded as posted.
	DedupURLsInsertedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_urls_inserted_total",
			Help: "Total number of URLs inserted into the dedup store",
		},
		[]string{"scope", "feed"},
	)
)

// URL Fetcher metrics.
var (
	// FetchCacheResultTotal counts fetch cache outcomes (hit, miss,
	// not_modified, probe_blacklisted).
	FetchCacheResultTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_cache_result_total",
			Help: "Total number of URL fetch cache outcomes",
		},
		[]string{"result"},
	)

	// FetchDuration measures time to perform one URL fetch, including any
	// conditional-request round trip.
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetch_duration_seconds",
			Help:    "Time taken to fetch a URL",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"approach"},
	)
)

// Publisher metrics.
var (
	// PublisherCallsTotal counts archival publisher invocations by
	// outcome.
	PublisherCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publisher_calls_total",
			Help: "Total number of archival publisher calls",
		},
		[]string{"scope", "outcome"},
	)

	// PublisherCallDuration measures publisher call latency.
	PublisherCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "publisher_call_duration_seconds",
			Help:    "Time taken by an archival publisher call",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)
)

// RecordFeedPoll records the outcome of one feed poll cycle.
func RecordFeedPoll(scope, feed string, entriesFound int, duration time.Duration, outcome string) {
	FeedPollsTotal.WithLabelValues(scope, feed, outcome).Inc()
	FeedPollDuration.WithLabelValues(scope, feed).Observe(duration.Seconds())
	if entriesFound > 0 {
		FeedEntriesFound.WithLabelValues(scope, feed).Add(float64(entriesFound))
	}
}

// RecordPost records one successful message post.
func RecordPost(scope, feed string) {
	PostsTotal.WithLabelValues(scope, feed).Inc()
}

// RecordDedupLookup records the duration of a dedup store operation.
func RecordDedupLookup(operation string, duration time.Duration) {
	DedupLookupDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordFetch records the outcome and duration of one URL fetch.
func RecordFetch(approach, result string, duration time.Duration) {
	FetchCacheResultTotal.WithLabelValues(result).Inc()
	FetchDuration.WithLabelValues(approach).Observe(duration.Seconds())
}

// RecordPublisherCall records the outcome and duration of one publisher
// call.
func RecordPublisherCall(scope, outcome string, duration time.Duration) {
	PublisherCallsTotal.WithLabelValues(scope, outcome).Inc()
	PublisherCallDuration.Observe(duration.Seconds())
}
