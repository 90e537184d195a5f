package shorten

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoOp_Shorten_ReturnsURLsUnchanged(t *testing.T) {
	n := NewNoOp()
	urls := []string{"https://example.com/a", "https://example.com/b"}

	out, err := n.Shorten(context.Background(), urls)
	require.NoError(t, err)
	assert.Equal(t, urls, out)
}

func TestBitly_Shorten_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req bitlyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(bitlyResponse{Link: "https://bit.ly/abc123"})
	}))
	defer server.Close()

	b := NewBitly([]string{"token-a"})
	b.httpClient = server.Client()
	b.endpoint = server.URL

	out, err := b.Shorten(context.Background(), []string{"https://example.com/long"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "https://bit.ly/abc123", out[0])
}

func TestBitly_Shorten_RotatesTokens(t *testing.T) {
	b := NewBitly([]string{"a", "b", "c"})
	assert.Equal(t, "a", b.token())
	assert.Equal(t, "b", b.token())
	assert.Equal(t, "c", b.token())
	assert.Equal(t, "a", b.token())
}

func TestBitly_Shorten_FallsBackToLongURLOnFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	b := NewBitly([]string{"token-a"})
	b.httpClient = server.Client()
	b.endpoint = server.URL

	longURL := "https://example.com/long"
	out, err := b.Shorten(context.Background(), []string{longURL})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, longURL, out[0])
}
