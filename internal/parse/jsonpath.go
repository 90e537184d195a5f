package parse

import (
	"context"
	"fmt"

	"ircfeedbot/internal/config"
	"ircfeedbot/internal/entry"

	"github.com/tidwall/gjson"
)

// JSONPathParser extracts entries from a JSON document using the feed's
// Select expression as a gjson path returning an array of objects with
// title, link, optional summary, and optional category (scalar or list).
type JSONPathParser struct{}

// NewJSONPathParser builds a JSONPathParser.
func NewJSONPathParser() *JSONPathParser {
	return &JSONPathParser{}
}

// Entries evaluates feed.Select against body and maps each matched object
// into a RawEntry.
func (p *JSONPathParser) Entries(ctx context.Context, body []byte, feed *config.Feed) ([]entry.RawEntry, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid json document")
	}

	result := gjson.GetBytes(body, feed.Select)
	if !result.Exists() {
		return nil, nil
	}

	var entries []entry.RawEntry
	result.ForEach(func(_, item gjson.Result) bool {
		entries = append(entries, objectToRawEntry(item))
		return true
	})
	return entries, nil
}

// FollowURLs evaluates feed.Follow as a gjson path, expecting either a
// list of URL strings or a list of objects with a "link" field.
func (p *JSONPathParser) FollowURLs(ctx context.Context, body []byte, feed *config.Feed) ([]string, error) {
	if feed.Follow == "" {
		return nil, nil
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid json document")
	}

	result := gjson.GetBytes(body, feed.Follow)
	if !result.Exists() {
		return nil, nil
	}

	var urls []string
	result.ForEach(func(_, item gjson.Result) bool {
		if item.Type == gjson.String {
			urls = append(urls, item.String())
			return true
		}
		if link := item.Get("link"); link.Exists() {
			urls = append(urls, link.String())
		}
		return true
	})
	return urls, nil
}

func objectToRawEntry(item gjson.Result) entry.RawEntry {
	e := entry.RawEntry{
		Title:   item.Get("title").String(),
		Link:    item.Get("link").String(),
		Summary: item.Get("summary").String(),
	}

	category := item.Get("category")
	if category.IsArray() {
		category.ForEach(func(_, c gjson.Result) bool {
			e.Categories = append(e.Categories, c.String())
			return true
		})
	} else if category.Exists() && category.String() != "" {
		e.Categories = []string{category.String()}
	}

	return e
}
