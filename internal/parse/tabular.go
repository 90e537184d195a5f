package parse

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"ircfeedbot/internal/config"
	"ircfeedbot/internal/entry"
)

// TabularParser extracts entries from comma-separated rows (CSV); other
// delimiters such as tabs are not recognized.
// feed.Select names the column layout: either "title,link,summary" (a
// comma-separated list of column indices, in that field order) or, if
// empty, the default "0,1,2".
type TabularParser struct{}

// NewTabularParser builds a TabularParser.
func NewTabularParser() *TabularParser {
	return &TabularParser{}
}

type tabularColumns struct {
	title   int
	link    int
	summary int
}

func parseTabularSelect(sel string) (tabularColumns, error) {
	if sel == "" {
		return tabularColumns{title: 0, link: 1, summary: 2}, nil
	}

	parts := strings.Split(sel, ",")
	if len(parts) < 2 {
		return tabularColumns{}, fmt.Errorf("tabular select %q must name at least title,link columns", sel)
	}

	cols := make([]int, len(parts))
	for i, p := range parts {
		idx, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return tabularColumns{}, fmt.Errorf("tabular select column %q: %w", p, err)
		}
		cols[i] = idx
	}

	result := tabularColumns{title: cols[0], link: cols[1], summary: -1}
	if len(cols) > 2 {
		result.summary = cols[2]
	}
	return result, nil
}

// Entries reads body as CSV and maps the configured columns into entries.
func (p *TabularParser) Entries(ctx context.Context, body []byte, feed *config.Feed) ([]entry.RawEntry, error) {
	cols, err := parseTabularSelect(feed.Select)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(bytes.NewReader(body))
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read tabular document: %w", err)
	}

	var entries []entry.RawEntry
	for _, row := range rows {
		if cols.title >= len(row) || cols.link >= len(row) {
			continue
		}
		e := entry.RawEntry{
			Title: row[cols.title],
			Link:  row[cols.link],
		}
		if cols.summary >= 0 && cols.summary < len(row) {
			e.Summary = row[cols.summary]
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// FollowURLs is unsupported for tabular sources: a row source has no
// notion of a listing-to-item chain distinct from its own rows.
func (p *TabularParser) FollowURLs(ctx context.Context, body []byte, feed *config.Feed) ([]string, error) {
	return nil, nil
}
