// Package entry defines the raw and processed article shapes that flow
// through the parser dispatch, the entry pipeline, the dedup store and the
// channel poster.
package entry

// RawEntry is a parser's unprocessed output: whatever a syndication feed,
// a JSON document, an HTML page or a tabular source yielded before any
// filtering, substitution or formatting has run.
type RawEntry struct {
	Title      string
	Link       string
	Summary    string
	Categories []string
	// Data carries parser-specific extras (e.g. named capture groups from
	// an HTML-selector or json-path extraction) consumed by the format
	// template stage of the pipeline.
	Data map[string]string
}

// Entry is a RawEntry after the pipeline has run: URLs canonicalized,
// substitutions and format templates applied, HTML stripped, typography
// normalized and the title truncated. Equality and hashing for dedup
// purposes is over LongURL alone — a title that changes between polls
// (common with clickbait sources that edit headlines post-publish) must
// never defeat membership checks.
type Entry struct {
	Title   string
	Summary string

	LongURL  string
	ShortURL string

	Categories []string

	// MatchedAllow is the allow-list pattern that kept this entry, if the
	// feed configures an allow list. Posters may use it to emphasize the
	// matched span.
	MatchedAllow string

	Feed  string
	Scope string
}

// DisplayURL returns ShortURL when the feed's shorten option produced one,
// otherwise LongURL. The dedup key is always LongURL regardless of which
// URL is displayed — shortener outputs can change across token rotations.
func (e Entry) DisplayURL() string {
	if e.ShortURL != "" {
		return e.ShortURL
	}
	return e.LongURL
}

// Key returns the value the dedup store hashes for membership checks.
func (e Entry) Key() string {
	return e.LongURL
}

// Bundle is the unit of work a Feed Reader hands to a Channel Poster: one
// feed's pipeline output from a single poll cycle, plus the stats needed
// to decide whether to alert on an empty read.
type Bundle struct {
	Scope string
	Feed  string

	Entries []Entry

	// URLsFetched is the number of source/follow URLs fetched this cycle,
	// and ZeroEntryURLs counts how many of those yielded no raw entries —
	// used by the reader to gate the empty-feed alert.
	URLsFetched   int
	ZeroEntryURLs int
}
