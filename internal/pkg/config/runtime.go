package config

import (
	"fmt"
	"time"
)

// RuntimeConfig holds the process-level knobs that are read from the
// environment rather than the YAML feed config: health/metrics endpoints
// and the dedup-store maintenance schedule. Unlike Config.Validate's
// fail-closed posture for the feed tree, every field here fails open to a
// safe default with a logged warning, matching the worker's original
// LoadConfigFromEnv strategy.
type RuntimeConfig struct {
	HealthAddr      string
	MaintenanceCron string
	Timezone        string
	FetchTimeout    time.Duration
}

// DefaultRuntimeConfig returns the configuration used when no environment
// overrides are present.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		HealthAddr:      ":9091",
		MaintenanceCron: "0 3 * * *",
		Timezone:        "UTC",
		FetchTimeout:    90 * time.Second,
	}
}

// LoadRuntimeConfigFromEnv reads IRCFEEDBOT_HEALTH_ADDR, IRCFEEDBOT_MAINTENANCE_CRON,
// IRCFEEDBOT_TIMEZONE and IRCFEEDBOT_FETCH_TIMEOUT, falling back field-by-field
// to DefaultRuntimeConfig on any missing or invalid value. Warnings describe
// every fallback applied; the caller logs them.
func LoadRuntimeConfigFromEnv() (RuntimeConfig, []string) {
	def := DefaultRuntimeConfig()
	var warnings []string

	cfg := def
	cfg.HealthAddr = LoadEnvString("IRCFEEDBOT_HEALTH_ADDR", def.HealthAddr)

	cronResult := LoadEnvWithFallback("IRCFEEDBOT_MAINTENANCE_CRON", def.MaintenanceCron, ValidateCronSchedule)
	cfg.MaintenanceCron = cronResult.Value.(string)
	warnings = append(warnings, cronResult.Warnings...)

	tzResult := LoadEnvWithFallback("IRCFEEDBOT_TIMEZONE", def.Timezone, ValidateTimezone)
	cfg.Timezone = tzResult.Value.(string)
	warnings = append(warnings, tzResult.Warnings...)

	timeoutResult := LoadEnvDuration("IRCFEEDBOT_FETCH_TIMEOUT", def.FetchTimeout, ValidatePositiveDuration)
	cfg.FetchTimeout = timeoutResult.Value.(time.Duration)
	warnings = append(warnings, timeoutResult.Warnings...)

	return cfg, warnings
}

// Location loads the *time.Location named by Timezone; callers already
// validated it via ValidateTimezone, so an error here indicates the
// timezone database itself disappeared between validation and use.
func (c RuntimeConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
