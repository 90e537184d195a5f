// Package supervisor owns the chat client connection, wires its inbound
// events to per-scope runtime state, dispatches admin commands, and
// coordinates graceful shutdown across every Channel Poster and Publisher.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"ircfeedbot/internal/dedup"
	"ircfeedbot/internal/ircclient"
	"ircfeedbot/internal/ircerr"
	"ircfeedbot/internal/publish"
	"ircfeedbot/internal/scope"
	"ircfeedbot/internal/search"

	"github.com/robfig/cron/v3"
)

// SearchResultLimit bounds how many hits a directed search command relays.
const SearchResultLimit = 5

// MaintenanceSchedule is the cron expression for the daily dedup store
// maintenance job (VACUUM/ANALYZE-equivalent housekeeping).
const MaintenanceSchedule = "0 4 * * *"

// NickRegainMaxAttempts bounds how many regain attempts are allowed inside
// NickRegainWindow before the supervisor gives up and signals a fatal exit.
const NickRegainMaxAttempts = 3

// NickRegainWindow is the sliding window NickRegainMaxAttempts is measured
// over.
const NickRegainWindow = 30 * time.Second

// Supervisor drives the chat client's lifecycle: startup event wiring,
// admin command dispatch, and graceful shutdown.
type Supervisor struct {
	Client      ircclient.Client
	Scopes      *scope.Registry
	Store       *dedup.Store
	Publishers  []publish.Publisher
	Searcher    search.Searcher
	BusyLocks   map[string]*sync.Mutex
	KnownScopes map[string]bool

	Nick      string
	AdminGlob string

	exit chan int
	once sync.Once

	cron *cron.Cron

	identityMu sync.Mutex
	identity   string
	finalized  bool

	regainMu       sync.Mutex
	regainAttempts []time.Time

	// Now is the clock the nick-regain rate limiter reads; overridable in
	// tests.
	Now func() time.Time
}

// New builds a Supervisor. busyLocks and knownScopes are keyed by scope
// name; busyLocks must be the same instances handed to each scope's
// Poster so shutdown can drain in-flight bundles.
func New(client ircclient.Client, scopes *scope.Registry, store *dedup.Store, publishers []publish.Publisher, searcher search.Searcher, busyLocks map[string]*sync.Mutex, knownScopes map[string]bool, nick, adminGlob string) *Supervisor {
	if searcher == nil {
		searcher = search.NewNoOp()
	}
	return &Supervisor{
		Client:      client,
		Scopes:      scopes,
		Store:       store,
		Publishers:  publishers,
		Searcher:    searcher,
		BusyLocks:   busyLocks,
		KnownScopes: knownScopes,
		Nick:        nick,
		AdminGlob:   adminGlob,
		exit:        make(chan int, 1),
		Now:         time.Now,
	}
}

// Run wires event handlers, starts the maintenance cron, and blocks until
// an admin exit/fail command is received or ctx is done. It returns the
// process exit code: 0 for graceful exit or context cancellation, 1 for an
// admin-initiated fail.
func (s *Supervisor) Run(ctx context.Context) int {
	s.Client.OnJoin(s.handleJoin)
	s.Client.OnMessage(s.handleMessage)
	s.Client.OnLoggedIn(s.handleLoggedIn)
	s.Client.OnModeChange(s.handleModeChange)
	s.Client.OnNickChange(s.handleNickChange)
	s.Client.OnNickError(s.handleNickError)
	s.startMaintenanceCron(ctx)

	var code int
	select {
	case code = <-s.exit:
	case <-ctx.Done():
		code = 0
	}

	s.shutdown()
	return code
}

func (s *Supervisor) startMaintenanceCron(ctx context.Context) {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(MaintenanceSchedule, func() {
		if err := s.Store.Maintain(ctx); err != nil {
			slog.Error("dedup store maintenance failed", slog.Any("error", err))
		}
	})
	if err != nil {
		slog.Error("failed to schedule maintenance job", slog.Any("error", err))
		return
	}
	s.cron.Start()
}

// handleJoin signals a scope's join-latch and seeds its idle-time clock the
// first time this connection's own nick joins it.
func (s *Supervisor) handleJoin(channel string) {
	state := s.Scopes.Get(channel)
	state.JoinLatch.Open()
	state.MarkInboundMessage(time.Now())
	slog.Info("joined channel", slog.String("scope", channel))
}

// handleLoggedIn captures the bot's full identity string once services
// login is confirmed. If the nick the server reports differs from the
// configured nick, it attempts to regain the configured one.
func (s *Supervisor) handleLoggedIn(identity string) {
	s.identityMu.Lock()
	s.identity = identity
	s.finalized = false
	s.identityMu.Unlock()

	nick := identity
	if i := strings.IndexByte(identity, '!'); i >= 0 {
		nick = identity[:i]
	}
	slog.Info("logged in", slog.String("identity", identity))

	if nick != s.Nick {
		s.attemptRegain(fmt.Sprintf("logged in as %q, want %q", nick, s.Nick))
	}
}

// handleModeChange finalizes and records the visible identity once a
// cloak-applied mode change on self is observed.
func (s *Supervisor) handleModeChange(mode string) {
	s.identityMu.Lock()
	s.finalized = true
	identity := s.identity
	s.identityMu.Unlock()
	slog.Info("identity finalized after mode change", slog.String("mode", mode), slog.String("identity", identity))
}

// handleNickChange updates the tracked identity's nick portion whenever
// the connection's own nick changes.
func (s *Supervisor) handleNickChange(newNick string) {
	s.identityMu.Lock()
	if i := strings.IndexByte(s.identity, '!'); i >= 0 {
		s.identity = newNick + s.identity[i:]
	} else {
		s.identity = newNick
	}
	s.identityMu.Unlock()
	slog.Info("nick changed", slog.String("nick", newNick))
}

// handleNickError reacts to a nick-in-use or NickServ regain failure with
// a rate-limited regain attempt; once attempts are exhausted within the
// window it signals a fatal exit.
func (s *Supervisor) handleNickError(reason string) {
	slog.Warn("nick error reported", slog.String("reason", reason))
	s.attemptRegain(reason)
}

// attemptRegain asks the chat client to reclaim the configured nick,
// subject to a sliding-window rate limit. Once the limit is exhausted it
// logs a KindNickLost error and signals a fatal exit (code 1).
func (s *Supervisor) attemptRegain(reason string) {
	if !s.allowRegainAttempt() {
		err := ircerr.New(ircerr.KindNickLost, "", "", fmt.Errorf("regain exhausted after %d attempts within %s: %s", NickRegainMaxAttempts, NickRegainWindow, reason))
		slog.Error("nick regain attempts exhausted, exiting", slog.Any("error", err))
		s.triggerExit(1)
		return
	}

	slog.Warn("attempting nick regain", slog.String("nick", s.Nick), slog.String("reason", reason))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Client.Nick(ctx, s.Nick); err != nil {
		slog.Error("nick regain request failed", slog.Any("error", err))
	}
}

// allowRegainAttempt reports whether another regain attempt is permitted
// under the NickRegainMaxAttempts-within-NickRegainWindow budget, and
// records this attempt if so.
func (s *Supervisor) allowRegainAttempt() bool {
	now := s.Now()
	cutoff := now.Add(-NickRegainWindow)

	s.regainMu.Lock()
	defer s.regainMu.Unlock()

	kept := s.regainAttempts[:0]
	for _, t := range s.regainAttempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.regainAttempts = kept

	if len(s.regainAttempts) >= NickRegainMaxAttempts {
		return false
	}
	s.regainAttempts = append(s.regainAttempts, now)
	return true
}

// handleMessage updates idle-time accounting for ordinary channel traffic,
// and dispatches admin commands or search queries for private or directed
// messages.
func (s *Supervisor) handleMessage(msg ircclient.Message) {
	if s.KnownScopes[msg.Target] {
		s.Scopes.Get(msg.Target).MarkInboundMessage(time.Now())
	}

	query, isDirected := stripDirectedPrefix(s.Nick, msg.Text)
	isPrivate := !s.KnownScopes[msg.Target]

	if !isPrivate && !isDirected {
		return
	}

	text := query
	if !isDirected {
		text = strings.TrimSpace(msg.Text)
	}

	hostmask := fmt.Sprintf("%s!%s@%s", msg.Nick, msg.Ident, msg.Host)
	matched, err := path.Match(s.AdminGlob, hostmask)
	if err != nil {
		slog.Error("invalid admin glob pattern", slog.String("pattern", s.AdminGlob), slog.Any("error", err))
		matched = false
	}

	if matched {
		s.dispatchAdminCommand(msg, text)
		return
	}

	if isPrivate {
		slog.Warn("ignoring private message from non-admin",
			slog.String("nick", msg.Nick), slog.String("ident", msg.Ident), slog.String("host", msg.Host))
		return
	}

	s.dispatchSearch(msg, text)
}

func stripDirectedPrefix(nick, text string) (rest string, ok bool) {
	trimmed := strings.TrimSpace(text)
	p := nick + ":"
	if strings.HasPrefix(trimmed, p) {
		return strings.TrimSpace(trimmed[len(p):]), true
	}
	return "", false
}

func (s *Supervisor) dispatchAdminCommand(msg ircclient.Message, text string) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "exit":
		s.triggerExit(0)
	case "fail":
		s.triggerExit(1)
	default:
		slog.Info("unrecognized admin command", slog.String("command", text))
	}
}

func (s *Supervisor) triggerExit(code int) {
	s.once.Do(func() {
		slog.Info("admin-initiated exit", slog.Int("code", code))
		s.exit <- code
	})
}

func (s *Supervisor) dispatchSearch(msg ircclient.Message, query string) {
	if query == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		results, err := s.Searcher.Search(ctx, query, SearchResultLimit)
		if err != nil {
			slog.Warn("search failed", slog.String("query", query), slog.Any("error", err))
			return
		}
		reply := msg.Target
		if !s.KnownScopes[msg.Target] {
			reply = msg.Nick
		}
		if len(results) == 0 {
			if err := s.Client.Msg(ctx, reply, fmt.Sprintf("no results for %q", query)); err != nil {
				slog.Warn("search reply failed", slog.Any("error", err))
			}
			return
		}
		for i, r := range results {
			if err := s.Client.Msg(ctx, reply, fmt.Sprintf("%d. %s — %s", i+1, r.Title, r.URL)); err != nil {
				slog.Warn("search reply failed", slog.Any("error", err))
				return
			}
		}
	}()
}

// shutdown acquires every scope's busy-lock (draining in-flight bundles),
// drains every publisher that supports it for up to two minutes,
// disconnects the chat client, and stops the maintenance cron.
func (s *Supervisor) shutdown() {
	slog.Info("starting graceful shutdown")

	for scopeName, lock := range s.BusyLocks {
		lock.Lock()
		slog.Debug("drained scope busy-lock", slog.String("scope", scopeName))
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	for _, p := range s.Publishers {
		if drainer, ok := p.(publish.Drainer); ok {
			if err := drainer.Drain(drainCtx); err != nil {
				slog.Error("publisher drain failed", slog.Any("error", err))
			}
		}
	}

	if s.cron != nil {
		s.cron.Stop()
	}

	if err := s.Client.Quit(drainCtx, ""); err != nil {
		slog.Error("client quit failed", slog.Any("error", err))
	}

	slog.Info("graceful shutdown complete")
}
