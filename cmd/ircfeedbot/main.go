package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"ircfeedbot/internal/config"
	"ircfeedbot/internal/dedup"
	"ircfeedbot/internal/entry"
	"ircfeedbot/internal/fetch"
	"ircfeedbot/internal/healthsrv"
	"ircfeedbot/internal/ircclient"
	"ircfeedbot/internal/parse"
	pkgconfig "ircfeedbot/internal/pkg/config"
	"ircfeedbot/internal/pipeline"
	"ircfeedbot/internal/poster"
	"ircfeedbot/internal/publish"
	"ircfeedbot/internal/reader"
	"ircfeedbot/internal/scope"
	"ircfeedbot/internal/search"
	"ircfeedbot/internal/shorten"
	"ircfeedbot/internal/supervisor"
	"ircfeedbot/internal/syncx"

	rootconfig "ircfeedbot/pkg/config"
)

func main() {
	logger := initLogger()

	configPath := flag.String("config-path", "", "path to the engine's YAML configuration file")
	flag.Parse()
	if *configPath == "" {
		logger.Error("-config-path is required")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	runtimeCfg, warnings := pkgconfig.LoadRuntimeConfigFromEnv()
	for _, w := range warnings {
		logger.Warn("runtime configuration fallback", slog.String("detail", w))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := dedup.Open(ctx, rootconfig.GetEnvString("IRCFEEDBOT_DB_PATH", "./ircfeedbot.db"))
	if err != nil {
		logger.Error("failed to open dedup store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	cache, err := fetch.OpenCache(ctx, rootconfig.GetEnvString("IRCFEEDBOT_CACHE_PATH", "./ircfeedbot-cache.db"))
	if err != nil {
		logger.Error("failed to open fetch cache", slog.Any("error", err))
		os.Exit(1)
	}
	defer cache.Close()

	fetcher := fetch.New(fetch.Config{
		Timeout:            runtimeCfg.FetchTimeout,
		MaxCacheAge:        rootconfig.GetEnvDuration("IRCFEEDBOT_CACHE_MAX_AGE", 15*time.Minute),
		UserAgent:          rootconfig.GetEnvString("IRCFEEDBOT_USER_AGENT", "ircfeedbot/1.0"),
		UserAgentOverrides: fetch.DefaultUserAgentOverrides(),
	}, cache)

	parsers := parse.NewRegistry()
	pl := pipeline.New()
	shortener := buildShortener(logger)
	searcher := buildSearcher(logger)
	publisher := buildPublisher(cfg, logger)

	client := newIRCClient(cfg, logger)
	scopes := scope.NewRegistry()
	rateLock := poster.NewOutgoingRateLock()
	throttle := syncx.NewIntervalLock(poster.SecondsPerMessage)

	busyLocks := make(map[string]*sync.Mutex, len(cfg.Scopes))
	knownScopes := make(map[string]bool, len(cfg.Scopes))
	for _, scopeName := range cfg.ScopeOrder {
		busyLocks[scopeName] = &sync.Mutex{}
		knownScopes[scopeName] = true
	}

	alerter := &chatAlerter{client: client, alertsScope: cfg.AlertsChan}

	var wg sync.WaitGroup
	feedCount := 0
	for _, scopeName := range cfg.ScopeOrder {
		feeds := cfg.Scopes[scopeName]
		feedCount += len(feeds)
		queue := make(chan *entry.Bundle, reader.BundleQueueCapacity)
		groups := reader.NewGroupBarriers(reader.GroupPartyCounts(feeds))

		for _, feedName := range cfg.FeedOrder[scopeName] {
			feed := feeds[feedName]
			r := reader.New(scopeName, feed, fetcher, parsers, pl, shortener, scopes, groups, alerter, queue, cfg.AlertsChan, cfg.Once)
			wg.Add(1)
			go func(r *reader.Reader, scopeName, feedName string) {
				defer wg.Done()
				if err := r.Run(ctx); err != nil {
					logger.Error("reader exited", slog.String("scope", scopeName), slog.String("feed", feedName), slog.Any("error", err))
				}
			}(r, scopeName, feedName)
		}

		p := poster.New(scopeName, client, store, publisher, scopes, rateLock, throttle, queue, feeds, cfg.AlertsChan, cfg.Nick, busyLocks[scopeName])
		wg.Add(1)
		go func(p *poster.Poster, scopeName string) {
			defer wg.Done()
			if err := p.Run(ctx); err != nil {
				logger.Error("poster exited", slog.String("scope", scopeName), slog.Any("error", err))
			}
		}(p, scopeName)
	}

	healthServer := healthsrv.NewHealthServer(runtimeCfg.HealthAddr, logger)
	healthServer.SetScopeCounts(len(cfg.ScopeOrder), feedCount)
	go func() {
		if err := healthServer.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server failed", slog.Any("error", err))
		}
	}()

	sup := supervisor.New(client, scopes, store, []publish.Publisher{publisher}, searcher, busyLocks, knownScopes, cfg.Nick, cfg.Admin)

	healthServer.SetReady(true)
	logger.Info("ircfeedbot started",
		slog.String("host", cfg.Host),
		slog.Int("scopes", len(cfg.ScopeOrder)),
		slog.Int("feeds", feedCount),
		slog.String("health_addr", runtimeCfg.HealthAddr))

	code := sup.Run(ctx)
	stop()
	wg.Wait()
	os.Exit(code)
}

// initLogger builds the process-wide structured logger, honoring LOG_LEVEL
// the same way the engine's other components expect (debug enables verbose
// per-cycle logging from readers and posters).
func initLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// newIRCClient builds the chat client. A real IRC wire-protocol
// implementation is outside this engine's scope (see ircclient's package
// doc); for now this seam only produces an in-memory Fake, loudly, so
// operators don't mistake a fake connection for a live one.
func newIRCClient(cfg *config.Config, logger *slog.Logger) ircclient.Client {
	logger.Warn("no real IRC wire client is wired in; running against an in-memory fake",
		slog.String("host", cfg.Host), slog.Int("ssl_port", cfg.SSLPort))
	return ircclient.NewFake()
}

// buildShortener picks a URL shortener from environment configuration. Bitly
// is the only real backend wired; without tokens, feeds configured with
// shorten:true fall back to their original URLs via NoOp.
func buildShortener(logger *slog.Logger) shorten.Shortener {
	tokens := rootconfig.GetEnvStringList("IRCFEEDBOT_BITLY_TOKENS", nil)
	if len(tokens) == 0 {
		logger.Info("bitly shortener disabled, no tokens configured")
		return shorten.NewNoOp()
	}
	logger.Info("bitly shortener enabled", slog.Int("tokens", len(tokens)))
	return shorten.NewBitly(tokens)
}

// buildSearcher picks a directed-message search backend from environment
// configuration.
func buildSearcher(logger *slog.Logger) search.Searcher {
	baseURL := rootconfig.GetEnvString("IRCFEEDBOT_SEARCH_URL", "")
	if baseURL == "" {
		logger.Info("search disabled, IRCFEEDBOT_SEARCH_URL not set")
		return search.NewNoOp()
	}
	logger.Info("http searcher enabled", slog.String("base_url", baseURL))
	return search.NewHTTPSearcher(baseURL)
}

// buildPublisher constructs the fan-out publisher over every target named
// in the config's publish map. Each target is wrapped in a BufferedPublisher
// so a transient sink outage queues entries in memory instead of losing
// them, per the engine's publish-retry policy.
func buildPublisher(cfg *config.Config, logger *slog.Logger) publish.Publisher {
	var targets []publish.Publisher
	for name, pc := range cfg.Publish {
		switch pc.Kind {
		case "webhook", "discord", "slack":
			wc := publish.WebhookConfig{
				URL:      pc.Params["url"],
				Username: pc.Params["username"],
			}
			if v, err := time.ParseDuration(pc.Params["timeout"]); err == nil {
				wc.Timeout = v
			}
			if v, err := strconv.ParseFloat(pc.Params["requests_per_second"], 64); err == nil {
				wc.RequestsPerSecond = v
			}
			if v, err := strconv.Atoi(pc.Params["burst"]); err == nil {
				wc.Burst = v
			}
			logger.Info("publish target enabled", slog.String("name", name), slog.String("kind", pc.Kind))
			targets = append(targets, publish.NewBufferedPublisher(publish.NewWebhookPublisher(wc)))
		default:
			logger.Warn("unrecognized publish kind, skipping", slog.String("name", name), slog.String("kind", pc.Kind))
		}
	}
	if len(targets) == 0 {
		return publish.NewNoOp()
	}
	return publish.NewMulti(targets...)
}

// chatAlerter relays reader.Alerter notices to the configured alerts scope.
type chatAlerter struct {
	client      ircclient.Client
	alertsScope string
}

func (a *chatAlerter) Alert(ctx context.Context, scopeName, feedName, message string) {
	if a.alertsScope == "" {
		return
	}
	if err := a.client.Msg(ctx, a.alertsScope, message); err != nil {
		slog.Error("failed to relay alert", slog.String("scope", scopeName), slog.String("feed", feedName), slog.Any("error", err))
	}
}
