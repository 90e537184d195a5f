package pipeline

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// filterCache memoizes compiled block/allow pattern sets keyed by
// (scope, feed, list type), since the same feed's patterns are recompiled
// every poll otherwise.
type filterCache struct {
	mu    sync.RWMutex
	cache map[string][]*regexp.Regexp
}

func newFilterCache() *filterCache {
	return &filterCache{cache: make(map[string][]*regexp.Regexp)}
}

func filterCacheKey(scope, feed, listType string, patterns []string) string {
	return scope + "\x00" + feed + "\x00" + listType + "\x00" + strings.Join(patterns, "\x00")
}

// compile returns the compiled pattern set for the given key, compiling
// and caching it on first use. A pattern that fails to compile is skipped
// with its error folded into the returned error, so one bad pattern in a
// feed's list does not prevent the rest from being applied.
func (c *filterCache) compile(scope, feed, listType string, patterns []string) ([]*regexp.Regexp, error) {
	if len(patterns) == 0 {
		return nil, nil
	}

	key := filterCacheKey(scope, feed, listType, patterns)

	c.mu.RLock()
	if compiled, ok := c.cache[key]; ok {
		c.mu.RUnlock()
		return compiled, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if compiled, ok := c.cache[key]; ok {
		return compiled, nil
	}

	var compiled []*regexp.Regexp
	var errs []string
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%q: %v", p, err))
			continue
		}
		compiled = append(compiled, re)
	}

	c.cache[key] = compiled

	if len(errs) > 0 {
		return compiled, fmt.Errorf("invalid patterns: %s", strings.Join(errs, "; "))
	}
	return compiled, nil
}
