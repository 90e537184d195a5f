package parse

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"strings"

	"ircfeedbot/internal/config"
	"ircfeedbot/internal/entry"

	"github.com/PuerkitoBio/goquery"
)

// HTMLSelectParser extracts entries from an HTML document. The feed's
// Select expression is a CSS selector matching one element per entry; no
// child selectors are looked up inside a match. Each matched element's own
// text, href (or its first descendant anchor's), title attribute and
// comma-separated data-category attribute supply the entry's fields, with
// entities decoded.
type HTMLSelectParser struct{}

// NewHTMLSelectParser builds an HTMLSelectParser.
func NewHTMLSelectParser() *HTMLSelectParser {
	return &HTMLSelectParser{}
}

// Entries runs feed.Select against the document, treating each match as
// one entry whose title is the element's own text, whose link is its own
// href (if it is or contains an anchor), and whose summary is its title
// attribute, if any.
func (p *HTMLSelectParser) Entries(ctx context.Context, body []byte, feed *config.Feed) ([]entry.RawEntry, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html document: %w", err)
	}

	var entries []entry.RawEntry
	doc.Find(feed.Select).Each(func(_ int, sel *goquery.Selection) {
		entries = append(entries, extractHTMLEntry(sel))
	})
	return entries, nil
}

// FollowURLs runs feed.Follow against the document, collecting the href
// of every matched anchor (or the first descendant anchor of a matched
// non-anchor element).
func (p *HTMLSelectParser) FollowURLs(ctx context.Context, body []byte, feed *config.Feed) ([]string, error) {
	if feed.Follow == "" {
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html document: %w", err)
	}

	var urls []string
	doc.Find(feed.Follow).Each(func(_ int, sel *goquery.Selection) {
		if href, ok := anchorHref(sel); ok {
			urls = append(urls, href)
		}
	})
	return urls, nil
}

func extractHTMLEntry(sel *goquery.Selection) entry.RawEntry {
	e := entry.RawEntry{
		Title: strings.TrimSpace(html.UnescapeString(sel.Text())),
	}
	if href, ok := anchorHref(sel); ok {
		e.Link = href
	}
	if summary, ok := sel.Attr("title"); ok {
		e.Summary = html.UnescapeString(summary)
	}
	if cats, ok := sel.Attr("data-category"); ok && cats != "" {
		for _, c := range strings.Split(cats, ",") {
			if trimmed := strings.TrimSpace(c); trimmed != "" {
				e.Categories = append(e.Categories, trimmed)
			}
		}
	}
	return e
}

func anchorHref(sel *goquery.Selection) (string, bool) {
	if href, ok := sel.Attr("href"); ok {
		return href, true
	}
	anchor := sel.Find("a").First()
	return anchor.Attr("href")
}
