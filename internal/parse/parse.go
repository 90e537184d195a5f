// Package parse normalizes heterogeneous source documents into RawEntry
// lists. Each variant owns its own selector grammar; the dispatcher only
// knows the Parser contract. Parsers run in-process: a panicking parser is
// recovered by the dispatcher rather than isolated in a subprocess, since
// every variant here is a pure-Go library with no native-library leak risk.
package parse

import (
	"context"
	"fmt"

	"ircfeedbot/internal/config"
	"ircfeedbot/internal/entry"
)

// Parser normalizes one document into entries, with an optional follow-URL
// extraction for feeds that chain a listing page into per-item fetches.
type Parser interface {
	// Entries extracts raw entries from body using the feed's Select
	// selector (grammar is parser-kind specific and opaque to callers).
	Entries(ctx context.Context, body []byte, feed *config.Feed) ([]entry.RawEntry, error)
	// FollowURLs extracts follow URLs using the feed's Follow selector.
	// Returns nil, nil when the feed declares no follow selector.
	FollowURLs(ctx context.Context, body []byte, feed *config.Feed) ([]string, error)
}

// Registry dispatches to a Parser by ParserKind.
type Registry struct {
	parsers map[config.ParserKind]Parser
}

// NewRegistry builds the registry with every built-in parser variant
// wired in.
func NewRegistry() *Registry {
	return &Registry{
		parsers: map[config.ParserKind]Parser{
			config.ParserSyndication: NewSyndicationParser(),
			config.ParserJSONPath:    NewJSONPathParser(),
			config.ParserHTMLSelect:  NewHTMLSelectParser(),
			config.ParserTabular:     NewTabularParser(),
		},
	}
}

// Dispatch parses body with the parser named by feed.Parser, recovering a
// panicking parser into an error so one crashed extraction rule never
// brings down the reader loop driving it.
func (r *Registry) Dispatch(ctx context.Context, body []byte, feed *config.Feed) (entries []entry.RawEntry, followURLs []string, err error) {
	p, ok := r.parsers[feed.Parser]
	if !ok {
		return nil, nil, fmt.Errorf("unknown parser kind %q", feed.Parser)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parser %q panicked: %v", feed.Parser, r)
		}
	}()

	entries, err = p.Entries(ctx, body, feed)
	if err != nil {
		return nil, nil, fmt.Errorf("parse entries: %w", err)
	}

	if feed.Follow == "" {
		return entries, nil, nil
	}

	followURLs, err = p.FollowURLs(ctx, body, feed)
	if err != nil {
		return nil, nil, fmt.Errorf("parse follow urls: %w", err)
	}
	return entries, followURLs, nil
}
