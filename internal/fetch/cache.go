package fetch

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Cache is a SQLite-backed disk cache of fetched URL bodies and ETags,
// keyed by the raw URL string. It reuses the same engine as the dedup
// store rather than introducing a second storage dependency for what is,
// at this scale, a small key/value table.
type Cache struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenCache opens (creating if absent) the fetch cache database at path.
func OpenCache(ctx context.Context, path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open fetch cache database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	const schema = `
CREATE TABLE IF NOT EXISTS url_cache (
	url        TEXT PRIMARY KEY,
	body       BLOB NOT NULL,
	etag       TEXT NOT NULL DEFAULT '',
	fetched_at INTEGER NOT NULL,
	netloc     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_url_cache_netloc ON url_cache (netloc);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create fetch cache schema: %w", err)
	}

	return &Cache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached Content for rawURL, if present.
func (c *Cache) Get(rawURL string) (Content, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var body []byte
	var etag string
	var fetchedAtUnix int64

	err := c.db.QueryRow(
		"SELECT body, etag, fetched_at FROM url_cache WHERE url = ?", rawURL,
	).Scan(&body, &etag, &fetchedAtUnix)
	if err != nil {
		return Content{}, false
	}

	return Content{
		Body:      body,
		ETag:      etag,
		FetchedAt: time.Unix(fetchedAtUnix, 0),
	}, true
}

// Put stores content for rawURL, overwriting any prior entry.
func (c *Cache) Put(rawURL string, content Content) {
	c.mu.Lock()
	defer c.mu.Unlock()

	netloc, _ := netlocOf(rawURL)

	_, err := c.db.Exec(
		`INSERT INTO url_cache (url, body, etag, fetched_at, netloc) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET body=excluded.body, etag=excluded.etag,
		   fetched_at=excluded.fetched_at, netloc=excluded.netloc`,
		rawURL, content.Body, content.ETag, content.FetchedAt.Unix(), netloc,
	)
	_ = err // a cache write failure degrades to a future full refetch, not a fatal error
}

// PurgeNetloc removes every cached entry for netloc, used when the ETag
// probe detects an origin reusing ETags across changed bodies.
func (c *Cache) PurgeNetloc(netloc string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, _ = c.db.Exec("DELETE FROM url_cache WHERE netloc = ?", netloc)
}
