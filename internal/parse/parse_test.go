package parse

import (
	"context"
	"testing"

	"ircfeedbot/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Dispatch_Syndication(t *testing.T) {
	r := NewRegistry()
	feed := &config.Feed{Parser: config.ParserSyndication}

	body := []byte(`<?xml version="1.0"?>
<rss version="2.0"><channel>
<item><title>Hello</title><link>https://example.com/a?x=1&amp;y=2</link><description>summary</description></item>
</channel></rss>`)

	entries, follow, err := r.Dispatch(context.Background(), body, feed)
	require.NoError(t, err)
	assert.Nil(t, follow)
	require.Len(t, entries, 1)
	assert.Equal(t, "Hello", entries[0].Title)
	assert.Equal(t, "https://example.com/a?x=1&y=2", entries[0].Link)
}

func TestRegistry_Dispatch_UnknownParser(t *testing.T) {
	r := NewRegistry()
	feed := &config.Feed{Parser: "bogus"}

	_, _, err := r.Dispatch(context.Background(), []byte(`{}`), feed)
	assert.Error(t, err)
}

func TestJSONPathParser_Entries(t *testing.T) {
	p := NewJSONPathParser()
	feed := &config.Feed{Select: "items"}

	body := []byte(`{"items":[{"title":"A","link":"https://example.com/a","category":["news","tech"]}]}`)

	entries, err := p.Entries(context.Background(), body, feed)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "A", entries[0].Title)
	assert.Equal(t, []string{"news", "tech"}, entries[0].Categories)
}

func TestHTMLSelectParser_Entries(t *testing.T) {
	p := NewHTMLSelectParser()
	feed := &config.Feed{Select: "div.item a"}

	body := []byte(`<html><body><div class="item"><a href="https://example.com/a">Title A</a></div></body></html>`)

	entries, err := p.Entries(context.Background(), body, feed)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Title A", entries[0].Title)
	assert.Equal(t, "https://example.com/a", entries[0].Link)
}

func TestTabularParser_Entries(t *testing.T) {
	p := NewTabularParser()
	feed := &config.Feed{Select: "0,1,2"}

	body := []byte("Title A,https://example.com/a,summary a\nTitle B,https://example.com/b,summary b\n")

	entries, err := p.Entries(context.Background(), body, feed)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Title A", entries[0].Title)
	assert.Equal(t, "summary b", entries[1].Summary)
}

func TestTabularParser_InvalidSelect(t *testing.T) {
	p := NewTabularParser()
	feed := &config.Feed{Select: "notanumber"}

	_, err := p.Entries(context.Background(), []byte("a,b\n"), feed)
	assert.Error(t, err)
}
