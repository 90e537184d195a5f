package config

import (
	"fmt"

	pkgconfig "ircfeedbot/pkg/config"
)

const (
	// MinFeedPeriodHours is the floor EffectivePeriodHours clamps a feed's
	// configured period to. The Feed Reader does not use it: it clamps poll
	// periods to its own reader.PeriodFloor (12 minutes).
	MinFeedPeriodHours = 0.25
	// DefaultJitterFraction is applied to every feed's period unless a
	// future config revision exposes a per-feed override.
	DefaultJitterFraction = 0.05
)

// Validate checks structural invariants the YAML decode alone cannot
// enforce: required connection fields, and that every feed has a URL and,
// unless it uses the syndication parser, a non-empty select expression.
// Unlike the worker's fail-open env
// config, a malformed feed config fails the whole load — an admin should
// see the error before the bot ever connects, not have it silently papered
// over mid-run.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Nick == "" {
		return fmt.Errorf("nick is required")
	}
	if c.SSLPort <= 0 {
		return fmt.Errorf("ssl_port must be positive, got %d", c.SSLPort)
	}

	for scope, feeds := range c.Scopes {
		for name, f := range feeds {
			if err := f.validate(); err != nil {
				return fmt.Errorf("%s/%s: %w", scope, name, err)
			}
		}
	}
	return nil
}

func (f *Feed) validate() error {
	if len(f.URL) == 0 {
		return fmt.Errorf("url is required")
	}
	if f.Select == "" && f.Parser != ParserSyndication && f.Parser != "" {
		return fmt.Errorf("select is required for parser %q", f.Parser)
	}
	if f.Parser == "" {
		f.Parser = ParserSyndication
	}

	switch f.NewFeedPolicy {
	case "", NewFeedNone, NewFeedSome, NewFeedAll:
	default:
		return fmt.Errorf("invalid new-feed policy %q", f.NewFeedPolicy)
	}
	if f.NewFeedPolicy == "" {
		f.NewFeedPolicy = NewFeedSome
	}

	switch f.DedupScope {
	case "", DedupChannel, DedupFeed:
	default:
		return fmt.Errorf("invalid dedup scope %q", f.DedupScope)
	}
	if f.DedupScope == "" {
		f.DedupScope = DedupChannel
	}

	if f.Period < 0 {
		return fmt.Errorf("period must be non-negative, got %v", f.Period)
	}
	return nil
}

// EffectivePeriodHours returns the feed's configured period clamped to the
// floor; in dev mode the floor is a tenth of MinFeedPeriodHours.
func EffectivePeriodHours(f *Feed, devMode bool) float64 {
	floor := MinFeedPeriodHours
	if devMode {
		floor /= 10
	}
	if f.Period < floor {
		return floor
	}
	return f.Period
}

// EnvIsDev reports whether {PACKAGE}_ENV requests the relaxed dev floors,
// read the same fail-open way pkg/config's env helpers read every other
// environment-derived knob.
func EnvIsDev() bool {
	return pkgconfig.GetEnvString("IRCFEEDBOT_ENV", "prod") == "dev"
}
