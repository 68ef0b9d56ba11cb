// Package config provides environment-driven configuration for reqtrail.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Secret wraps a sensitive string to prevent accidental logging or marshalling.
type Secret string

// String implements fmt.Stringer, returning a redacted placeholder.
func (s Secret) String() string { return "[REDACTED]" }

// GoString implements fmt.GoStringer, returning a redacted placeholder.
func (s Secret) GoString() string { return "[REDACTED]" }

// MarshalText implements encoding.TextMarshaler, returning a redacted placeholder.
func (s Secret) MarshalText() ([]byte, error) { return []byte("[REDACTED]"), nil }

// Value returns the underlying secret string.
func (s Secret) Value() string { return string(s) }

// SweepStrategy selects the retention sweeper's deletion policy.
type SweepStrategy string

const (
	// SweepAgeWindow advances a sliding time window across the full
	// history, deleting in bounded primary-key batches.
	SweepAgeWindow SweepStrategy = "age-window"
	// SweepExclusionAware deletes everything past the cutoff except
	// rows touching a type's permanently retained fields.
	SweepExclusionAware SweepStrategy = "exclusion"
)

// Config holds all application configuration values.
type Config struct {
	DatabaseURL Secret
	Port        string
	ListenHost  string
	CORSOrigins []string
	LogLevel    string

	// LogRequest enables request-level logging of unsafe methods.
	LogRequest bool
	// LogObjectsInRequest gates mutation hooks while a request is in scope.
	LogObjectsInRequest bool
	// LogObjectsOutRequest gates mutation hooks with no request in scope
	// (background jobs); independent of LogRequest.
	LogObjectsOutRequest bool
	// DisabledModels lists "app" or "app.Type" identifiers excluded
	// from logging entirely.
	DisabledModels []string
	// PermanentLogFields maps "app.Type" keys to field names whose
	// change rows must never expire. Parsed from PERMANENT_LOG_FIELDS,
	// e.g. "billing.Invoice:number|total,crm.Contact:email".
	PermanentLogFields map[string][]string

	// FlushDays is the retention window for audit rows.
	FlushDays int
	// FlushStrategy picks the sweep policy for this deployment.
	FlushStrategy SweepStrategy
	// FlushWindowHours is the age-window strategy's window width.
	FlushWindowHours int
	// FlushBatchSize bounds rows deleted per transaction.
	FlushBatchSize int
	// ReindexWeekday is the low-traffic day for the post-sweep online
	// reindex pass.
	ReindexWeekday time.Weekday
}

// Defaults for the retention sweep.
const (
	DefaultFlushDays        = 14
	DefaultFlushWindowHours = 24
	DefaultFlushBatchSize   = 1000
)

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:          Secret(envOrDefault("DATABASE_URL", "")),
		Port:                 envOrDefault("PORT", "3040"),
		ListenHost:           envOrDefault("LISTEN_HOST", "127.0.0.1"),
		LogLevel:             envOrDefault("LOG_LEVEL", "info"),
		LogRequest:           envBool("LOG_REQUEST", true),
		LogObjectsInRequest:  envBool("LOG_OBJECTS_IN_REQUEST", true),
		LogObjectsOutRequest: envBool("LOG_OBJECTS_OUT_REQUEST", true),
		FlushStrategy:        SweepStrategy(envOrDefault("FLUSH_STRATEGY", string(SweepAgeWindow))),
	}

	days, err := envInt("FLUSH_DAYS", DefaultFlushDays)
	if err != nil || days < 1 {
		return nil, fmt.Errorf("FLUSH_DAYS must be a positive integer")
	}
	cfg.FlushDays = days

	hours, err := envInt("FLUSH_WINDOW_HOURS", DefaultFlushWindowHours)
	if err != nil || hours < 1 {
		return nil, fmt.Errorf("FLUSH_WINDOW_HOURS must be a positive integer")
	}
	cfg.FlushWindowHours = hours

	batch, err := envInt("FLUSH_BATCH_SIZE", DefaultFlushBatchSize)
	if err != nil || batch < 1 {
		return nil, fmt.Errorf("FLUSH_BATCH_SIZE must be a positive integer")
	}
	cfg.FlushBatchSize = batch

	weekday, err := parseWeekday(envOrDefault("REINDEX_WEEKDAY", "Sunday"))
	if err != nil {
		return nil, err
	}
	cfg.ReindexWeekday = weekday

	if disabled := envOrDefault("DISABLED_MODELS", ""); disabled != "" {
		for _, entry := range strings.Split(disabled, ",") {
			if entry = strings.TrimSpace(entry); entry != "" {
				cfg.DisabledModels = append(cfg.DisabledModels, entry)
			}
		}
	}

	if raw := envOrDefault("PERMANENT_LOG_FIELDS", ""); raw != "" {
		permanent, err := parsePermanentFields(raw)
		if err != nil {
			return nil, err
		}
		cfg.PermanentLogFields = permanent
	}

	origins := envOrDefault("CORS_ORIGINS", "http://localhost:3002")
	cfg.CORSOrigins = strings.Split(origins, ",")
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Addr returns the listen address in host:port format.
func (c *Config) Addr() string {
	return c.ListenHost + ":" + c.Port
}

func parsePermanentFields(raw string) (map[string][]string, error) {
	out := make(map[string][]string)

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		key, fields, ok := strings.Cut(entry, ":")
		if !ok || key == "" || fields == "" {
			return nil, fmt.Errorf("PERMANENT_LOG_FIELDS entry %q must be app.Type:field|field", entry)
		}

		for _, f := range strings.Split(fields, "|") {
			if f = strings.TrimSpace(f); f != "" {
				out[key] = append(out[key], f)
			}
		}
	}

	return out, nil
}

func parseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), s) {
			return d, nil
		}
	}

	return 0, fmt.Errorf("REINDEX_WEEKDAY must be a weekday name, got %q", s)
}

func envBool(key string, fallback bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}

func envInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}

	return strconv.Atoi(raw)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}
