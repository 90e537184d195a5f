// Package dedup provides the persistent membership store the engine
// consults before announcing an entry and records into after a successful
// post. Membership is keyed by (scope, feed, url) hashes rather than the
// raw strings: a prior string-keyed schema grew unboundedly and indexed
// slowly, where fixed-width integer keys halve index size and make
// equality probes branchless. Collision probability at the relevant scale
// is negligible; a collision's only consequence is one suppressed post.
package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"ircfeedbot/internal/resilience/circuitbreaker"
)

// batchLimit bounds the number of values bound into a single IN(...) query,
// compatible with typical embedded SQL parameter limits.
const batchLimit = 100

// Store is a SQLite-backed implementation of the dedup membership contract.
// Inserts are serialized through writeMu regardless of the engine's own
// concurrency support — SQLite tolerates one writer at a time far better
// than it tolerates contending ones.
type Store struct {
	db      *sql.DB
	reads   *circuitbreaker.DBCircuitBreaker
	hashes  *hashCache
	writeMu sync.Mutex
}

// Open opens (creating if absent) the dedup database at path and ensures
// its schema exists. WAL mode lets readers proceed while a write is in
// flight; busy_timeout absorbs the brief lock window of a competing
// process (e.g. an admin running a one-off maintenance query).
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open dedup database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	const schema = `
CREATE TABLE IF NOT EXISTS post (
	scope_hash INTEGER NOT NULL,
	feed_hash  INTEGER NOT NULL,
	url_hash   INTEGER NOT NULL,
	PRIMARY KEY (scope_hash, feed_hash, url_hash)
);
CREATE INDEX IF NOT EXISTS idx_post_scope_url ON post (scope_hash, url_hash);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create dedup schema: %w", err)
	}

	s := &Store{db: db, reads: circuitbreaker.NewDBCircuitBreaker(db), hashes: newHashCache()}

	if err := s.maintain(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("startup maintenance: %w", err)
	}

	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// maintain runs VACUUM and ANALYZE once, on open and on the Supervisor's
// daily maintenance schedule.
func (s *Store) maintain(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// Maintain exposes the vacuum/analyze pass for the supervisor's cron job.
func (s *Store) Maintain(ctx context.Context) error {
	return s.maintain(ctx)
}

// IsNewFeed reports whether no post record exists with the given (scope,
// feed) pair — i.e. this feed has never produced a successful post.
func (s *Store) IsNewFeed(ctx context.Context, scope, feed string) (bool, error) {
	scopeHash := s.hashes.hash(scope)
	feedHash := s.hashes.hash(feed)

	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM post WHERE scope_hash = ? AND feed_hash = ? LIMIT 1)",
		scopeHash, feedHash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query is-new-feed: %w", err)
	}
	return exists == 0, nil
}

// UnpostedForScope returns the subset of urls with no post record
// (scope, *, url). Input order is preserved and duplicates collapsed.
func (s *Store) UnpostedForScope(ctx context.Context, scope string, urls []string) ([]string, error) {
	scopeHash := s.hashes.hash(scope)
	return s.unposted(ctx, urls, func(urlHashes []int64) (string, []interface{}) {
		placeholders := placeholderList(len(urlHashes))
		args := make([]interface{}, 0, len(urlHashes)+1)
		args = append(args, scopeHash)
		for _, h := range urlHashes {
			args = append(args, h)
		}
		query := fmt.Sprintf(
			"SELECT url_hash FROM post WHERE scope_hash = ? AND url_hash IN (%s)", placeholders)
		return query, args
	})
}

// UnpostedForFeed is analogous to UnpostedForScope but keyed additionally by
// feed name.
func (s *Store) UnpostedForFeed(ctx context.Context, scope, feed string, urls []string) ([]string, error) {
	scopeHash := s.hashes.hash(scope)
	feedHash := s.hashes.hash(feed)
	return s.unposted(ctx, urls, func(urlHashes []int64) (string, []interface{}) {
		placeholders := placeholderList(len(urlHashes))
		args := make([]interface{}, 0, len(urlHashes)+2)
		args = append(args, scopeHash, feedHash)
		for _, h := range urlHashes {
			args = append(args, h)
		}
		query := fmt.Sprintf(
			"SELECT url_hash FROM post WHERE scope_hash = ? AND feed_hash = ? AND url_hash IN (%s)", placeholders)
		return query, args
	})
}

// unposted runs a batched membership query and returns the subset of the
// original urls (order-preserved, de-duplicated) absent from the result.
func (s *Store) unposted(ctx context.Context, urls []string, buildQuery func([]int64) (string, []interface{})) ([]string, error) {
	seen := make(map[string]bool, len(urls))
	dedupedURLs := make([]string, 0, len(urls))
	hashToURL := make(map[int64]string, len(urls))
	var allHashes []int64

	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true
		dedupedURLs = append(dedupedURLs, u)
		h := s.hashes.hash(u)
		hashToURL[h] = u
		allHashes = append(allHashes, h)
	}

	posted := make(map[int64]bool, len(allHashes))
	for start := 0; start < len(allHashes); start += batchLimit {
		end := start + batchLimit
		if end > len(allHashes) {
			end = len(allHashes)
		}
		chunk := allHashes[start:end]

		query, args := buildQuery(chunk)
		rows, err := s.reads.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("query unposted: %w", err)
		}
		for rows.Next() {
			var h int64
			if err := rows.Scan(&h); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan unposted row: %w", err)
			}
			posted[h] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("iterate unposted rows: %w", err)
		}
		rows.Close()
	}

	result := make([]string, 0, len(dedupedURLs))
	for _, u := range dedupedURLs {
		if !posted[s.hashes.hash(u)] {
			result = append(result, u)
		}
	}
	return result, nil
}

// InsertPosted records urls as posted under (scope, feed) in a single
// transaction, chunked to stay under batchLimit bound values per statement.
// A write failure aborts the whole batch: the bundle is considered
// un-posted and will be re-attempted on the next poll, which is the
// at-least-once posting behavior the engine tolerates.
func (s *Store) InsertPosted(ctx context.Context, scope, feed string, urls []string) error {
	if len(urls) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	scopeHash := s.hashes.hash(scope)
	feedHash := s.hashes.hash(feed)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert-posted transaction: %w", err)
	}
	defer tx.Rollback()

	for start := 0; start < len(urls); start += batchLimit {
		end := start + batchLimit
		if end > len(urls) {
			end = len(urls)
		}
		chunk := urls[start:end]

		var sb strings.Builder
		sb.WriteString("INSERT OR IGNORE INTO post (scope_hash, feed_hash, url_hash) VALUES ")
		args := make([]interface{}, 0, len(chunk)*3)
		for i, u := range chunk {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString("(?, ?, ?)")
			args = append(args, scopeHash, feedHash, s.hashes.hash(u))
		}

		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("insert posted batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert-posted transaction: %w", err)
	}
	return nil
}

func placeholderList(n int) string {
	if n == 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
