package dedup

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_IsNewFeed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	isNew, err := s.IsNewFeed(ctx, "news", "example-feed")
	require.NoError(t, err)
	assert.True(t, isNew, "a feed with no post records should be new")

	require.NoError(t, s.InsertPosted(ctx, "news", "example-feed", []string{"https://example.com/a"}))

	isNew, err = s.IsNewFeed(ctx, "news", "example-feed")
	require.NoError(t, err)
	assert.False(t, isNew)
}

func TestStore_UnpostedForFeed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	urls := []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	}
	require.NoError(t, s.InsertPosted(ctx, "news", "example-feed", urls[:1]))

	unposted, err := s.UnpostedForFeed(ctx, "news", "example-feed", urls)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/b", "https://example.com/c"}, unposted)
}

func TestStore_UnpostedForFeed_PreservesOrderAndDedupes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	urls := []string{
		"https://example.com/c",
		"https://example.com/a",
		"https://example.com/c",
		"https://example.com/b",
	}

	unposted, err := s.UnpostedForFeed(ctx, "news", "example-feed", urls)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/c",
		"https://example.com/a",
		"https://example.com/b",
	}, unposted)
}

func TestStore_UnpostedForScope_IsolatesByFeed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertPosted(ctx, "news", "feed-a", []string{"https://example.com/a"}))

	// Scope-level dedup sees the post regardless of which feed posted it.
	unposted, err := s.UnpostedForScope(ctx, "news", []string{"https://example.com/a", "https://example.com/b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/b"}, unposted)

	// Feed-level dedup under a different feed does not see feed-a's post.
	unposted, err = s.UnpostedForFeed(ctx, "news", "feed-b", []string{"https://example.com/a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/a"}, unposted)
}

func TestStore_UnpostedForFeed_BatchesAboveLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	urls := make([]string, 0, batchLimit+10)
	for i := 0; i < batchLimit+10; i++ {
		urls = append(urls, "https://example.com/"+strconv.Itoa(i))
	}
	require.NoError(t, s.InsertPosted(ctx, "news", "example-feed", urls[:batchLimit+5]))

	unposted, err := s.UnpostedForFeed(ctx, "news", "example-feed", urls)
	require.NoError(t, err)
	assert.Equal(t, 5, len(unposted))
}

func TestStore_InsertPosted_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	urls := []string{"https://example.com/a"}
	require.NoError(t, s.InsertPosted(ctx, "news", "example-feed", urls))
	require.NoError(t, s.InsertPosted(ctx, "news", "example-feed", urls))

	unposted, err := s.UnpostedForFeed(ctx, "news", "example-feed", urls)
	require.NoError(t, err)
	assert.Empty(t, unposted)
}

func TestStore_InsertPosted_EmptyIsNoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertPosted(ctx, "news", "example-feed", nil))
}

func TestStore_Maintain(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Maintain(context.Background()))
}
