// Package config decodes the engine's YAML configuration file into a typed,
// immutable tree and applies defaults⟶feed layering. It replaces the
// dynamically-typed nested config of the original implementation with an
// explicit set of option types.
package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// ListType names one block/allow pattern list. The name does not restrict
// the field: every list's patterns are matched against an entry's title,
// URL and categories alike.
type ListType string

const (
	ListTitle    ListType = "title"
	ListURL      ListType = "url"
	ListCategory ListType = "category"
)

// ParserKind selects the extractor variant a feed uses.
type ParserKind string

const (
	ParserSyndication ParserKind = "feedparser-default"
	ParserJSONPath    ParserKind = "jmespath"
	ParserHTMLSelect  ParserKind = "hext"
	ParserTabular     ParserKind = "pandas"
)

// NewFeedPolicy governs how many entries a never-before-seen feed announces
// on its first bundle.
type NewFeedPolicy string

const (
	NewFeedNone NewFeedPolicy = "none"
	NewFeedSome NewFeedPolicy = "some"
	NewFeedAll  NewFeedPolicy = "all"
)

// NewFeedSomeLimit is the cap used by NewFeedSome.
const NewFeedSomeLimit = 3

// DedupScope selects the key tuple used for membership checks.
type DedupScope string

const (
	DedupChannel DedupScope = "channel"
	DedupFeed    DedupScope = "feed"
)

// Sub is a single regex substitution rule applied to one entry attribute.
type Sub struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"repl"`
}

// Compiled compiles the substitution's pattern.
func (s Sub) Compiled() (*regexp.Regexp, error) {
	re, err := regexp.Compile(s.Pattern)
	if err != nil {
		return nil, fmt.Errorf("compile substitution pattern %q: %w", s.Pattern, err)
	}
	return re, nil
}

// Format holds per-attribute regex-capture and string-template settings.
type Format struct {
	Re  map[string]string `yaml:"re"`  // attribute -> capture regex with named groups
	Str map[string]string `yaml:"str"` // attribute -> format template e.g. "{title} ({source})"
}

// Style holds a feed's configured IRC mIRC-color emphasis. It is parsed
// from the feed's style map only: no pipeline stage or poster applies it to
// a title, and no `*stars*` wrap is added when it is absent.
type Style struct {
	Name    string `yaml:"name"`
	FG      string `yaml:"fg"`
	BG      string `yaml:"bg"`
	Bold    bool   `yaml:"bold"`
	Italics bool   `yaml:"italics"`
}

// Alerts gates which conditions page the alerts channel for a feed.
type Alerts struct {
	Read  bool `yaml:"read"`
	Empty bool `yaml:"empty"`
}

// Whitelist is the allow-list configuration for one feed.
type Whitelist struct {
	Explain  bool     `yaml:"explain"`
	Title    []string `yaml:"title"`
	URL      []string `yaml:"url"`
	Category []string `yaml:"category"`
}

// Message customizes which entry attributes are rendered and how.
type Message struct {
	Title   string `yaml:"title"`
	Summary string `yaml:"summary"`
}

// Feed is one named source configuration inside a scope.
type Feed struct {
	Name  string `yaml:"-"`
	Scope string `yaml:"-"`

	URL    []string `yaml:"url"`
	Period float64  `yaml:"period"` // hours

	Parser ParserKind `yaml:"parser"`
	Select string     `yaml:"select"`
	Follow string     `yaml:"follow"`

	Blacklist map[ListType][]string `yaml:"blacklist"`
	Whitelist Whitelist             `yaml:"whitelist"`

	Sub    map[string]Sub `yaml:"sub"` // attribute -> substitution
	Format Format         `yaml:"format"`

	HTTPSUpgrade bool `yaml:"https"`
	StripWWW     bool `yaml:"www"`
	Shorten      bool `yaml:"shorten"`

	NewFeedPolicy NewFeedPolicy `yaml:"new"`
	DedupScope    DedupScope    `yaml:"dedup"`
	Group         string        `yaml:"group"`

	Topic  map[string]string `yaml:"topic"` // key -> regex
	Alerts Alerts            `yaml:"alerts"`
	Style  map[string]Style  `yaml:"style"`

	Message Message `yaml:"message"`
}

// PublishConfig is one publish-target's opaque configuration (interpreted by
// the publisher implementation it names).
type PublishConfig struct {
	Kind   string            `yaml:"kind"`
	Params map[string]string `yaml:"params"`
}

// rawConfig mirrors the YAML document shape before defaults layering and
// Feed construction. Feeds are kept as raw nodes so defaults can be merged
// in before the final typed decode.
type rawConfig struct {
	Host       string `yaml:"host"`
	SSLPort    int    `yaml:"ssl_port"`
	Nick       string `yaml:"nick"`
	Mode       string `yaml:"mode"`
	SSLVerify  bool   `yaml:"ssl_verify"`
	AlertsChan string `yaml:"alerts_channel"`
	Admin      string `yaml:"admin"`
	Mirror     string `yaml:"mirror"`
	Once       bool   `yaml:"once"`
	Log        struct {
		IRC bool `yaml:"irc"`
	} `yaml:"log"`
	Defaults yaml.Node                         `yaml:"defaults"`
	Publish  map[string]PublishConfig          `yaml:"publish"`
	Feeds    map[string]map[string]yaml.Node   `yaml:"feeds"`
}

// Config is the fully decoded, defaults-applied, immutable configuration.
type Config struct {
	Host       string
	SSLPort    int
	Nick       string
	Mode       string
	SSLVerify  bool
	AlertsChan string
	Admin      string
	Mirror     string
	Once       bool
	LogIRC     bool

	Publish map[string]PublishConfig

	// Scopes maps scope name -> feed name -> Feed.
	Scopes map[string]map[string]*Feed
	// ScopeOrder and FeedOrder list scope and feed names sorted
	// alphabetically (not in the file's declaration order), since map
	// iteration order is not stable and readers/posters are spawned in this
	// order for deterministic startup logs.
	ScopeOrder []string
	FeedOrder  map[string][]string
}

// Load reads and decodes the YAML file at path, applying defaults⟶feed
// layering, and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes raw YAML bytes into a validated Config. Exposed separately
// from Load so tests can exercise defaults-layering without a filesystem.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	cfg := &Config{
		Host:       raw.Host,
		SSLPort:    raw.SSLPort,
		Nick:       raw.Nick,
		Mode:       raw.Mode,
		SSLVerify:  raw.SSLVerify,
		AlertsChan: raw.AlertsChan,
		Admin:      raw.Admin,
		Mirror:     raw.Mirror,
		Once:       raw.Once,
		LogIRC:     raw.Log.IRC,
		Publish:    raw.Publish,
		Scopes:     make(map[string]map[string]*Feed),
		FeedOrder:  make(map[string][]string),
	}

	for _, scope := range sortedKeys(raw.Feeds) {
		cfg.ScopeOrder = append(cfg.ScopeOrder, scope)
		cfg.Scopes[scope] = make(map[string]*Feed)
		for _, name := range sortedNodeKeys(raw.Feeds[scope]) {
			node := raw.Feeds[scope][name]
			merged, err := mergeDefaults(raw.Defaults, node)
			if err != nil {
				return nil, fmt.Errorf("feed %s/%s: merge defaults: %w", scope, name, err)
			}

			f := &Feed{}
			if err := merged.Decode(f); err != nil {
				return nil, fmt.Errorf("feed %s/%s: decode: %w", scope, name, err)
			}
			f.Name = name
			f.Scope = scope

			cfg.Scopes[scope][name] = f
			cfg.FeedOrder[scope] = append(cfg.FeedOrder[scope], name)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// mergeDefaults layers defaults under a feed's own YAML node: feed-declared
// keys win, default-only keys are inherited. Both nodes are expected to be
// mappings; an empty defaults node is a no-op.
func mergeDefaults(defaults, feed yaml.Node) (*yaml.Node, error) {
	if defaults.Kind != yaml.MappingNode {
		return &feed, nil
	}
	if feed.Kind == 0 {
		feed.Kind = yaml.MappingNode
	}

	merged := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	seen := make(map[string]bool)

	for i := 0; i+1 < len(feed.Content); i += 2 {
		merged.Content = append(merged.Content, feed.Content[i], feed.Content[i+1])
		seen[feed.Content[i].Value] = true
	}
	for i := 0; i+1 < len(defaults.Content); i += 2 {
		key := defaults.Content[i].Value
		if seen[key] {
			continue
		}
		merged.Content = append(merged.Content, defaults.Content[i], defaults.Content[i+1])
	}

	return merged, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedNodeKeys(m map[string]yaml.Node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
