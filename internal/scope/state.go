// Package scope holds per-scope runtime state shared between the
// Supervisor (which updates it from inbound chat events), Feed Readers
// (which wait on it before their first poll), and Channel Posters (which
// consult it to compute idle time). Keeping this state in its own package
// avoids a dependency cycle between reader, poster, and supervisor.
package scope

import (
	"context"
	"sync"
	"time"

	"ircfeedbot/internal/syncx"
)

// State is one scope's (channel's) live state.
type State struct {
	Name string

	// JoinLatch opens the first time the supervisor observes this scope's
	// join event. Readers and posters block on it before their first cycle.
	JoinLatch *syncx.Latch

	mu                 sync.RWMutex
	lastInboundMsgTime time.Time
	topic              string
}

// NewState builds a State for scope name, with its join latch closed.
func NewState(name string) *State {
	return &State{Name: name, JoinLatch: syncx.NewLatch()}
}

// MarkInboundMessage records now as the last time a message was observed
// on this scope (from any sender, used for idle-time accounting).
func (s *State) MarkInboundMessage(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastInboundMsgTime = now
}

// IdleFor returns how long it has been since the last inbound message, as
// of now. Before any inbound message has been observed, it returns a
// duration large enough that any configured minIdle is already satisfied.
func (s *State) IdleFor(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastInboundMsgTime.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(s.lastInboundMsgTime)
}

// SetTopic records the scope's current topic.
func (s *State) SetTopic(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topic = topic
}

// Topic returns the scope's last known topic.
func (s *State) Topic() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topic
}

// Registry maps scope name to its State, created on first access.
type Registry struct {
	mu     sync.Mutex
	states map[string]*State
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{states: make(map[string]*State)}
}

// Get returns the State for name, creating it if this is the first
// reference.
func (r *Registry) Get(name string) *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.states[name]; ok {
		return s
	}
	s := NewState(name)
	r.states[name] = s
	return s
}

// WaitJoined blocks until both scope's and alertsScope's join latches are
// open, or ctx is done.
func (r *Registry) WaitJoined(ctx context.Context, scopeName, alertsScope string) error {
	if err := r.Get(scopeName).JoinLatch.Wait(ctx); err != nil {
		return err
	}
	if alertsScope == "" || alertsScope == scopeName {
		return nil
	}
	return r.Get(alertsScope).JoinLatch.Wait(ctx)
}
