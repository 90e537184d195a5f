// Package pipeline transforms a feed's raw parser output into the final,
// filtered, formatted, order-deduplicated entry list a Channel Poster
// announces. Every stage preserves input order where it does not remove
// elements, since downstream announcement order is exactly post-pipeline
// order.
package pipeline

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"ircfeedbot/internal/config"
	"ircfeedbot/internal/entry"
)

// TitleMaxBytes bounds a title's UTF-8 encoded length after the truncation
// stage.
const TitleMaxBytes = 300

// Pipeline runs a feed's configured stages over a raw entry list.
type Pipeline struct {
	filters *filterCache
}

// New builds a Pipeline with its own compiled-pattern cache.
func New() *Pipeline {
	return &Pipeline{filters: newFilterCache()}
}

// Run applies every configured stage, in order, to raw and returns the
// final Entry list.
func (p *Pipeline) Run(ctx context.Context, scope, feedName string, feed *config.Feed, raw []entry.RawEntry) ([]entry.Entry, error) {
	entries := rawToEntries(raw, scope, feedName)

	entries = p.blockListFilter(scope, feedName, feed, entries)
	entries = p.allowListFilter(scope, feedName, feed, entries)
	entries = canonicalizeURLs(feed, entries)

	entries, err := applySubstitutions(feed, entries)
	if err != nil {
		return nil, fmt.Errorf("apply substitutions: %w", err)
	}

	entries = applyFormatTemplates(feed, entries)
	entries = stripHTML(entries)
	entries = normalizeTypography(entries)
	entries = truncateTitles(entries)
	entries = dedupeByLongURL(entries)

	return entries, nil
}

func rawToEntries(raw []entry.RawEntry, scope, feedName string) []entry.Entry {
	entries := make([]entry.Entry, 0, len(raw))
	for _, r := range raw {
		entries = append(entries, entry.Entry{
			Title:      r.Title,
			Summary:    r.Summary,
			LongURL:    r.Link,
			Categories: r.Categories,
			Feed:       feedName,
			Scope:      scope,
		})
	}
	return entries
}

// matchesAny reports whether any of title, url or a category matches any
// of patterns.
func matchesAny(patterns []*regexp.Regexp, e entry.Entry) (*regexp.Regexp, bool) {
	for _, re := range patterns {
		if re.MatchString(e.Title) || re.MatchString(e.LongURL) {
			return re, true
		}
		for _, cat := range e.Categories {
			if re.MatchString(cat) {
				return re, true
			}
		}
	}
	return nil, false
}

// blockListFilter drops entries matching any block-list pattern, across
// every configured list type.
func (p *Pipeline) blockListFilter(scope, feedName string, feed *config.Feed, entries []entry.Entry) []entry.Entry {
	if len(feed.Blacklist) == 0 {
		return entries
	}

	var patterns []*regexp.Regexp
	for listType, raw := range feed.Blacklist {
		compiled, err := p.filters.compile(scope, feedName, string(listType), raw)
		if err != nil {
			slog.Warn("skipping invalid block patterns", slog.String("scope", scope),
				slog.String("feed", feedName), slog.String("list_type", string(listType)), slog.Any("error", err))
		}
		patterns = append(patterns, compiled...)
	}
	if len(patterns) == 0 {
		return entries
	}

	out := make([]entry.Entry, 0, len(entries))
	for _, e := range entries {
		if _, blocked := matchesAny(patterns, e); !blocked {
			out = append(out, e)
		}
	}
	return out
}

// allowListFilter keeps only entries matching an allow pattern, recording
// the matched pattern on the entry for optional emphasis.
func (p *Pipeline) allowListFilter(scope, feedName string, feed *config.Feed, entries []entry.Entry) []entry.Entry {
	hasAny := len(feed.Whitelist.Title) > 0 || len(feed.Whitelist.URL) > 0 || len(feed.Whitelist.Category) > 0
	if !hasAny {
		return entries
	}

	titlePatterns, _ := p.filters.compile(scope, feedName, string(config.ListTitle), feed.Whitelist.Title)
	urlPatterns, _ := p.filters.compile(scope, feedName, string(config.ListURL), feed.Whitelist.URL)
	catPatterns, _ := p.filters.compile(scope, feedName, string(config.ListCategory), feed.Whitelist.Category)

	out := make([]entry.Entry, 0, len(entries))
	for _, e := range entries {
		if re, ok := matchesAny(titlePatterns, e); ok {
			e.MatchedAllow = re.String()
			out = append(out, e)
			continue
		}
		if re, ok := matchesAny(urlPatterns, e); ok {
			e.MatchedAllow = re.String()
			out = append(out, e)
			continue
		}
		if re, ok := matchesAny(catPatterns, e); ok {
			e.MatchedAllow = re.String()
			out = append(out, e)
		}
	}
	return out
}

// canonicalizeURLs applies https-upgrade, www-strip, space-escaping and
// trimming to each entry's LongURL.
func canonicalizeURLs(feed *config.Feed, entries []entry.Entry) []entry.Entry {
	for i := range entries {
		u := strings.TrimSpace(entries[i].LongURL)
		if feed.HTTPSUpgrade && strings.HasPrefix(u, "http://") {
			u = "https://" + strings.TrimPrefix(u, "http://")
		}
		if feed.StripWWW {
			u = stripWWWAfterScheme(u)
		}
		u = strings.ReplaceAll(u, " ", "%20")
		entries[i].LongURL = u
	}
	return entries
}

func stripWWWAfterScheme(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	parsed.Host = strings.TrimPrefix(parsed.Host, "www.")
	return parsed.String()
}

// applySubstitutions applies each configured regex replacement to the
// named attribute (title, url or summary).
func applySubstitutions(feed *config.Feed, entries []entry.Entry) ([]entry.Entry, error) {
	if len(feed.Sub) == 0 {
		return entries, nil
	}

	compiled := make(map[string]*regexp.Regexp, len(feed.Sub))
	repl := make(map[string]string, len(feed.Sub))
	for attr, sub := range feed.Sub {
		re, err := sub.Compiled()
		if err != nil {
			return nil, fmt.Errorf("substitution for %q: %w", attr, err)
		}
		compiled[attr] = re
		repl[attr] = sub.Replacement
	}

	for i := range entries {
		if re, ok := compiled["title"]; ok {
			entries[i].Title = re.ReplaceAllString(entries[i].Title, repl["title"])
		}
		if re, ok := compiled["url"]; ok {
			entries[i].LongURL = re.ReplaceAllString(entries[i].LongURL, repl["url"])
		}
		if re, ok := compiled["summary"]; ok {
			entries[i].Summary = re.ReplaceAllString(entries[i].Summary, repl["summary"])
		}
	}
	return entries, nil
}

// applyFormatTemplates builds a parameter map per entry and applies the
// title/url format templates. A failing format leaves the field unchanged
// and logs a warning, matching the teacher's tolerant format_map handling.
func applyFormatTemplates(feed *config.Feed, entries []entry.Entry) []entry.Entry {
	titleTemplate := feed.Format.Str["title"]
	urlTemplate := feed.Format.Str["url"]
	if titleTemplate == "" && urlTemplate == "" {
		return entries
	}

	for i := range entries {
		params := map[string]string{
			"title":   entries[i].Title,
			"url":     entries[i].LongURL,
			"summary": entries[i].Summary,
			"feed":    entries[i].Feed,
			"scope":   entries[i].Scope,
		}
		for attr, re := range feed.Format.Re {
			if compiled, err := regexp.Compile(re); err == nil {
				source := params[attr]
				if match := compiled.FindStringSubmatch(source); match != nil {
					for j, name := range compiled.SubexpNames() {
						if name != "" && j < len(match) {
							params[name] = match[j]
						}
					}
				}
			}
		}

		if titleTemplate != "" {
			if formatted, err := formatTemplate(titleTemplate, params); err != nil {
				slog.Warn("title format template failed, leaving unchanged", slog.Any("error", err))
			} else {
				entries[i].Title = formatted
			}
		}
		if urlTemplate != "" {
			if formatted, err := formatTemplate(urlTemplate, params); err != nil {
				slog.Warn("url format template failed, leaving unchanged", slog.Any("error", err))
			} else {
				entries[i].LongURL = formatted
			}
		}
	}
	return entries
}

var formatPlaceholder = regexp.MustCompile(`\{(\w+)\}`)

// formatTemplate substitutes {name} placeholders from params. An
// unresolvable placeholder is an error, matching Python's format_map
// raising KeyError on a missing key.
func formatTemplate(template string, params map[string]string) (string, error) {
	var missing string
	result := formatPlaceholder.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		v, ok := params[name]
		if !ok {
			missing = name
			return match
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("unresolved format placeholder %q", missing)
	}
	return result, nil
}

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

func stripHTML(entries []entry.Entry) []entry.Entry {
	for i := range entries {
		entries[i].Title = html.UnescapeString(htmlTagPattern.ReplaceAllString(entries[i].Title, ""))
		entries[i].Summary = html.UnescapeString(htmlTagPattern.ReplaceAllString(entries[i].Summary, ""))
	}
	return entries
}

var curlyQuotePair = regexp.MustCompile(`^\x{201C}(.*)\x{201D}$`)

// normalizeTypography strips a bounding curly-quote pair, lowercase-
// capitalizes an all-caps multi-word title, and strips a trailing period
// from a single-sentence title.
func normalizeTypography(entries []entry.Entry) []entry.Entry {
	for i := range entries {
		t := entries[i].Title

		if m := curlyQuotePair.FindStringSubmatch(t); m != nil && !strings.ContainsAny(m[1], "“”") {
			t = m[1]
		}

		if isAllCapsMultiWord(t) {
			t = capitalizeWords(t)
		}

		if isSingleSentence(t) {
			t = strings.TrimSuffix(t, ".")
		}

		entries[i].Title = t
	}
	return entries
}

func isAllCapsMultiWord(s string) bool {
	words := strings.Fields(s)
	if len(words) < 2 {
		return false
	}
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if unicode.IsLower(r) {
				return false
			}
		}
	}
	return hasLetter
}

func capitalizeWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

func isSingleSentence(s string) bool {
	trimmed := strings.TrimSuffix(s, ".")
	return strings.Count(trimmed, ".") == 0 && strings.HasSuffix(s, ".")
}

func truncateTitles(entries []entry.Entry) []entry.Entry {
	for i := range entries {
		entries[i].Title = ShortenToBytesWidth(entries[i].Title, TitleMaxBytes)
	}
	return entries
}

func dedupeByLongURL(entries []entry.Entry) []entry.Entry {
	seen := make(map[string]bool, len(entries))
	out := make([]entry.Entry, 0, len(entries))
	for _, e := range entries {
		if seen[e.LongURL] {
			continue
		}
		seen[e.LongURL] = true
		out = append(out, e)
	}
	return out
}
