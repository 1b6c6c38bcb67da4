// Package config loads giveq settings from giveq.yaml and GIVEQ_*
// environment variables via viper. Environment variables take precedence
// over the file; unset keys fall back to documented defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config carries every tunable read at startup.
type Config struct {
	// DatabaseURL is the Postgres connection string.
	DatabaseURL string

	// DefaultItemTTLDays is the expiry horizon applied to new items that
	// do not name one.
	DefaultItemTTLDays int
	// MaxItemTTLDays is the upper clamp on caller-supplied item TTLs.
	MaxItemTTLDays int

	// ClaimStaleness is how long an active-set claim may sit unresolved
	// before reclamation expires it and advances the queue.
	ClaimStaleness time.Duration
	// ReclamationInterval is the period between reclamation passes.
	ReclamationInterval time.Duration
	// ReclaimBatchSize caps rows touched per category per pass.
	ReclaimBatchSize int
	// ArchiveAgeDays is how long terminal items are kept before archiving.
	ArchiveAgeDays int

	// EnqueueRetryAttempts bounds position-conflict retries per enqueue.
	EnqueueRetryAttempts int
	// SearchPageLimitMax clamps search and list page sizes.
	SearchPageLimitMax int
}

// Defaults returns the documented default configuration.
func Defaults() Config {
	return Config{
		DefaultItemTTLDays:   14,
		MaxItemTTLDays:       90,
		ClaimStaleness:       48 * time.Hour,
		ReclamationInterval:  24 * time.Hour,
		ReclaimBatchSize:     500,
		ArchiveAgeDays:       90,
		EnqueueRetryAttempts: 3,
		SearchPageLimitMax:   100,
	}
}

// NewViper builds a viper instance bound to giveq.yaml and the GIVEQ_
// environment prefix, with defaults registered. Exposed separately from
// Load so the serve command can watch the same instance for file changes.
func NewViper(configDir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("giveq")
	v.SetConfigType("yaml")
	if configDir != "" {
		v.AddConfigPath(configDir)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/giveq")

	v.SetEnvPrefix("GIVEQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	def := Defaults()
	v.SetDefault("database-url", "")
	v.SetDefault("default-item-ttl-days", def.DefaultItemTTLDays)
	v.SetDefault("max-item-ttl-days", def.MaxItemTTLDays)
	v.SetDefault("claim-staleness-hours", int(def.ClaimStaleness.Hours()))
	v.SetDefault("reclamation-interval", def.ReclamationInterval.String())
	v.SetDefault("reclaim-batch-size", def.ReclaimBatchSize)
	v.SetDefault("archive-age-days", def.ArchiveAgeDays)
	v.SetDefault("enqueue-retry-attempts", def.EnqueueRetryAttempts)
	v.SetDefault("search-page-limit-max", def.SearchPageLimitMax)
	return v
}

// Load reads giveq.yaml (if present) and the environment into a Config.
// A missing config file is not an error; a malformed one is.
func Load(configDir string) (Config, *viper.Viper, error) {
	v := NewViper(configDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	cfg, err := FromViper(v)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, v, nil
}

// FromViper extracts and validates a Config from a viper instance.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		DatabaseURL:          v.GetString("database-url"),
		DefaultItemTTLDays:   v.GetInt("default-item-ttl-days"),
		MaxItemTTLDays:       v.GetInt("max-item-ttl-days"),
		ClaimStaleness:       time.Duration(v.GetInt("claim-staleness-hours")) * time.Hour,
		ReclaimBatchSize:     v.GetInt("reclaim-batch-size"),
		ArchiveAgeDays:       v.GetInt("archive-age-days"),
		EnqueueRetryAttempts: v.GetInt("enqueue-retry-attempts"),
		SearchPageLimitMax:   v.GetInt("search-page-limit-max"),
	}
	interval, err := time.ParseDuration(v.GetString("reclamation-interval"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid reclamation-interval: %w", err)
	}
	cfg.ReclamationInterval = interval
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.DefaultItemTTLDays <= 0 {
		return fmt.Errorf("default-item-ttl-days must be positive, got %d", c.DefaultItemTTLDays)
	}
	if c.MaxItemTTLDays < c.DefaultItemTTLDays {
		return fmt.Errorf("max-item-ttl-days (%d) must be >= default-item-ttl-days (%d)",
			c.MaxItemTTLDays, c.DefaultItemTTLDays)
	}
	if c.ClaimStaleness <= 0 {
		return fmt.Errorf("claim-staleness-hours must be positive")
	}
	if c.ReclamationInterval <= 0 {
		return fmt.Errorf("reclamation-interval must be positive")
	}
	if c.ReclaimBatchSize <= 0 {
		return fmt.Errorf("reclaim-batch-size must be positive, got %d", c.ReclaimBatchSize)
	}
	if c.EnqueueRetryAttempts <= 0 {
		return fmt.Errorf("enqueue-retry-attempts must be positive, got %d", c.EnqueueRetryAttempts)
	}
	if c.SearchPageLimitMax <= 0 {
		return fmt.Errorf("search-page-limit-max must be positive, got %d", c.SearchPageLimitMax)
	}
	return nil
}
