package publish

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	calls int
	err   error
}

func (r *recordingPublisher) Publish(_ context.Context, _ string, _ []PublishedEntry) error {
	r.calls++
	return r.err
}

func TestMulti_Publish_CallsEveryTarget(t *testing.T) {
	a := &recordingPublisher{}
	b := &recordingPublisher{}
	m := NewMulti(a, b)

	require.NoError(t, m.Publish(context.Background(), "news", []PublishedEntry{{Title: "t", URL: "https://example.com/a"}}))
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestMulti_Publish_JoinsErrorsButCallsAllTargets(t *testing.T) {
	a := &recordingPublisher{err: errors.New("boom a")}
	b := &recordingPublisher{err: errors.New("boom b")}
	m := NewMulti(a, b)

	err := m.Publish(context.Background(), "news", nil)
	require.Error(t, err)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Contains(t, err.Error(), "boom a")
	assert.Contains(t, err.Error(), "boom b")
}

func TestMulti_Drain_OnlyDrainsDrainers(t *testing.T) {
	buffered := NewBufferedPublisher(&flakyPublisher{})
	plain := &recordingPublisher{}
	m := NewMulti(buffered, plain)

	require.NoError(t, m.Drain(context.Background()))
}
