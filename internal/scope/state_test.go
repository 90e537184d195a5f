package scope

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_IdleForBeforeAnyMessage(t *testing.T) {
	s := NewState("#general")
	assert.Greater(t, s.IdleFor(time.Now()), 24*time.Hour)
}

func TestState_IdleForAfterMarkInboundMessage(t *testing.T) {
	s := NewState("#general")
	now := time.Now()
	s.MarkInboundMessage(now)

	idle := s.IdleFor(now.Add(5 * time.Second))
	assert.InDelta(t, 5*time.Second, idle, float64(50*time.Millisecond))
}

func TestState_TopicRoundTrip(t *testing.T) {
	s := NewState("#general")
	assert.Equal(t, "", s.Topic())
	s.SetTopic("hello world")
	assert.Equal(t, "hello world", s.Topic())
}

func TestRegistry_GetCreatesOnFirstAccess(t *testing.T) {
	r := NewRegistry()
	a := r.Get("#general")
	b := r.Get("#general")
	assert.Same(t, a, b)
}

func TestRegistry_WaitJoined_BlocksUntilBothLatchesOpen(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	r.Get("#general").JoinLatch.Open()

	done := make(chan error, 1)
	go func() { done <- r.WaitJoined(ctx, "#general", "#alerts") }()

	select {
	case err := <-done:
		t.Fatalf("WaitJoined returned early: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	r.Get("#alerts").JoinLatch.Open()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitJoined did not return after both latches opened")
	}
}
