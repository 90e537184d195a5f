package pipeline

import (
	"context"
	"strings"
	"testing"

	"ircfeedbot/internal/config"
	"ircfeedbot/internal/entry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeline_Run_BlockListDropsMatches(t *testing.T) {
	p := New()
	feed := &config.Feed{
		Blacklist: map[config.ListType][]string{
			config.ListTitle: {"(?i)sponsored"},
		},
	}
	raw := []entry.RawEntry{
		{Title: "Sponsored post", Link: "https://example.com/a"},
		{Title: "Regular post", Link: "https://example.com/b"},
	}

	out, err := p.Run(context.Background(), "scope", "feed", feed, raw)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Regular post", out[0].Title)
}

func TestPipeline_Run_AllowListKeepsOnlyMatches(t *testing.T) {
	p := New()
	feed := &config.Feed{
		Whitelist: config.Whitelist{Title: []string{"(?i)golang"}},
	}
	raw := []entry.RawEntry{
		{Title: "Golang release notes", Link: "https://example.com/a"},
		{Title: "Something else", Link: "https://example.com/b"},
	}

	out, err := p.Run(context.Background(), "scope", "feed", feed, raw)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Golang release notes", out[0].Title)
	assert.NotEmpty(t, out[0].MatchedAllow)
}

func TestPipeline_Run_CanonicalizesURL(t *testing.T) {
	p := New()
	feed := &config.Feed{HTTPSUpgrade: true, StripWWW: true}
	raw := []entry.RawEntry{
		{Title: "A", Link: "http://www.example.com/a b"},
	}

	out, err := p.Run(context.Background(), "scope", "feed", feed, raw)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "https://example.com/a%20b", out[0].LongURL)
}

func TestPipeline_Run_Substitution(t *testing.T) {
	p := New()
	feed := &config.Feed{
		Sub: map[string]config.Sub{
			"title": {Pattern: `\s+`, Replacement: " "},
		},
	}
	raw := []entry.RawEntry{{Title: "too   many   spaces", Link: "https://example.com/a"}}

	out, err := p.Run(context.Background(), "scope", "feed", feed, raw)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "too many spaces", out[0].Title)
}

func TestPipeline_Run_FormatTemplate(t *testing.T) {
	p := New()
	feed := &config.Feed{
		Format: config.Format{Str: map[string]string{"title": "[{feed}] {title}"}},
	}
	raw := []entry.RawEntry{{Title: "Hello", Link: "https://example.com/a"}}

	out, err := p.Run(context.Background(), "scope", "myfeed", feed, raw)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "[myfeed] Hello", out[0].Title)
}

func TestPipeline_Run_FormatTemplateFailureLeavesTitleUnchanged(t *testing.T) {
	p := New()
	feed := &config.Feed{
		Format: config.Format{Str: map[string]string{"title": "{missing_field} {title}"}},
	}
	raw := []entry.RawEntry{{Title: "Hello", Link: "https://example.com/a"}}

	out, err := p.Run(context.Background(), "scope", "feed", feed, raw)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Hello", out[0].Title)
}

func TestPipeline_Run_StripsHTML(t *testing.T) {
	p := New()
	feed := &config.Feed{}
	raw := []entry.RawEntry{{Title: "Hello <b>World</b> &amp; Friends", Link: "https://example.com/a"}}

	out, err := p.Run(context.Background(), "scope", "feed", feed, raw)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Hello World & Friends", out[0].Title)
}

func TestPipeline_Run_NormalizesAllCapsTitle(t *testing.T) {
	p := New()
	feed := &config.Feed{}
	raw := []entry.RawEntry{{Title: "BREAKING NEWS TODAY", Link: "https://example.com/a"}}

	out, err := p.Run(context.Background(), "scope", "feed", feed, raw)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Breaking News Today", out[0].Title)
}

func TestPipeline_Run_StripsTrailingPeriodOfSingleSentence(t *testing.T) {
	p := New()
	feed := &config.Feed{}
	raw := []entry.RawEntry{{Title: "A single sentence.", Link: "https://example.com/a"}}

	out, err := p.Run(context.Background(), "scope", "feed", feed, raw)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "A single sentence", out[0].Title)
}

func TestPipeline_Run_DedupesByLongURL(t *testing.T) {
	p := New()
	feed := &config.Feed{}
	raw := []entry.RawEntry{
		{Title: "First", Link: "https://example.com/a"},
		{Title: "Second, same url", Link: "https://example.com/a"},
		{Title: "Third", Link: "https://example.com/b"},
	}

	out, err := p.Run(context.Background(), "scope", "feed", feed, raw)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "First", out[0].Title)
	assert.Equal(t, "Third", out[1].Title)
}

func TestPipeline_Run_InvalidSubstitutionReturnsError(t *testing.T) {
	p := New()
	feed := &config.Feed{
		Sub: map[string]config.Sub{"title": {Pattern: "(", Replacement: ""}},
	}
	raw := []entry.RawEntry{{Title: "x", Link: "https://example.com/a"}}

	_, err := p.Run(context.Background(), "scope", "feed", feed, raw)
	assert.Error(t, err)
}

func TestShortenToBytesWidth_NoTruncationNeeded(t *testing.T) {
	s := "short title"
	assert.Equal(t, s, ShortenToBytesWidth(s, 300))
}

func TestShortenToBytesWidth_BreaksOnWordBoundary(t *testing.T) {
	s := strings.Repeat("word ", 100)
	out := ShortenToBytesWidth(s, 50)
	assert.LessOrEqual(t, len(out), 50)
	assert.True(t, strings.HasSuffix(out, "…"))
	assert.False(t, strings.HasSuffix(strings.TrimSuffix(out, "…"), " "))
}

func TestShortenToBytesWidth_HandlesMultibyteRunes(t *testing.T) {
	s := strings.Repeat("日本語テスト ", 50)
	out := ShortenToBytesWidth(s, 30)
	assert.LessOrEqual(t, len(out), 30)
}
