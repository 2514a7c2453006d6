package config

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "KICKRATE_"

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if KICKRATE_CONFIG is set
//  3. env (prefix KICKRATE_)
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// KICKRATE_MIN_RATINGS_PER_ITEM -> min_ratings_per_item. Underscores are kept
	// to match the flat koanf tags.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.MinRatingsPerItem < 1:
		return fmt.Errorf("%w: min_ratings_per_item must be at least 1, got %d", ErrInvalidConfig, c.MinRatingsPerItem)
	case !slices.Contains([]string{"file", "badger", "sqlite"}, strings.ToLower(c.StoreBackend)):
		return fmt.Errorf("%w: unknown store_backend %q", ErrInvalidConfig, c.StoreBackend)
	case c.CatalogSource != SourceLocal && c.CatalogSource != SourceGCS:
		return fmt.Errorf("%w: unknown catalog_source %q", ErrInvalidConfig, c.CatalogSource)
	case c.CatalogSource == SourceGCS && c.GCSBucket == "":
		return fmt.Errorf("%w: gcs_bucket is required for the gcs catalog", ErrInvalidConfig)
	case c.VideoPlaybackMode != PlaybackLoop && c.VideoPlaybackMode != PlaybackOnce:
		return fmt.Errorf("%w: unknown video_playback_mode %q", ErrInvalidConfig, c.VideoPlaybackMode)
	case c.PrefetchWorkers < 0 || c.PrefetchDepth < 0 || c.PrefetchQueueSize < 0:
		return fmt.Errorf("%w: prefetch settings must not be negative", ErrInvalidConfig)
	case c.SessionTTLMinutes < 0:
		return fmt.Errorf("%w: session_ttl_minutes must not be negative", ErrInvalidConfig)
	}
	return nil
}
