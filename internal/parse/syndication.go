package parse

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"ircfeedbot/internal/config"
	"ircfeedbot/internal/entry"

	"github.com/mmcdole/gofeed"
)

// unescapedAmpersand matches an & together with the recognized XML entity
// that follows it, if any; a match of just "&" is a bare ampersand, the most
// common cause of malformed-XML parse failures in syndication feeds that
// interpolate raw query strings into link elements.
var unescapedAmpersand = regexp.MustCompile(`&(?:amp;|lt;|gt;|quot;|apos;|#\d+;|#x[0-9a-fA-F]+;)?`)

// SyndicationParser extracts entries from RSS/Atom documents. It takes no
// selector: the feed format itself defines the entry shape.
type SyndicationParser struct {
	parser *gofeed.Parser
}

// NewSyndicationParser builds a SyndicationParser.
func NewSyndicationParser() *SyndicationParser {
	return &SyndicationParser{parser: gofeed.NewParser()}
}

// sanitizeXML repairs the most common feed malformation before parsing:
// stray unescaped ampersands.
func sanitizeXML(body []byte) []byte {
	return unescapedAmpersand.ReplaceAllFunc(body, func(m []byte) []byte {
		if len(m) > 1 {
			return m
		}
		return []byte("&amp;")
	})
}

// Entries parses body as RSS/Atom, running a sanitize pass first.
func (p *SyndicationParser) Entries(ctx context.Context, body []byte, feed *config.Feed) ([]entry.RawEntry, error) {
	clean := sanitizeXML(body)

	parsed, err := p.parser.Parse(bytes.NewReader(clean))
	if err != nil {
		return nil, fmt.Errorf("parse syndication document: %w", err)
	}

	entries := make([]entry.RawEntry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		link := item.Link
		if link == "" && len(item.Links) > 0 {
			link = item.Links[0]
		}

		var categories []string
		for _, cat := range item.Categories {
			if trimmed := strings.TrimSpace(cat); trimmed != "" {
				categories = append(categories, trimmed)
			}
		}

		entries = append(entries, entry.RawEntry{
			Title:      item.Title,
			Link:       link,
			Summary:    item.Description,
			Categories: categories,
		})
	}
	return entries, nil
}

// FollowURLs is unsupported for syndication feeds; the format has no
// notion of a listing-page-to-item-page chain.
func (p *SyndicationParser) FollowURLs(ctx context.Context, body []byte, feed *config.Feed) ([]string, error) {
	return nil, nil
}

