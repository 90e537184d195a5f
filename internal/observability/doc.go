// Package observability provides structured logging and Prometheus metrics
// for the feed-announcement engine.
//
// This package centralizes observability concerns to enable:
//   - Structured logging with correlation-ID propagation
//   - Prometheus metrics for monitoring feed polls, posts and publishes
//
// Subpackages:
//   - logging: Structured logging utilities with slog
//   - metrics: Prometheus metrics registry and recorders
//
// Example usage:
//
//	import (
//	    "ircfeedbot/internal/observability/logging"
//	    "ircfeedbot/internal/observability/metrics"
//	)
//
//	func main() {
//	    logger := logging.NewLogger()
//	    logger.Info("engine started")
//
//	    metrics.RecordFeedPoll("example-scope", "example-feed", 10, 2*time.Second, "success")
//	}
package observability
