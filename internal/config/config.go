// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/bryan-buckman/channelsync/internal/content"
	"github.com/bryan-buckman/channelsync/internal/model"
	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
)

// Prefix is prepended to every environment variable name.
const Prefix = "CHANNELSYNC_"

// MinSyncInterval is the minimum allowed interval between channel refreshes.
const MinSyncInterval = 15 * time.Minute

// Config holds the service settings.
type Config struct {
	Addr              string        `env:"ADDR" envDefault:":8080"`
	DatabaseDSN       string        `env:"DATABASE_DSN" envDefault:"channelsync.db"`
	CatalogFile       string        `env:"CATALOG_FILE"`
	SyncInterval      time.Duration `env:"SYNC_INTERVAL" envDefault:"15m"`
	TickEvery         time.Duration `env:"TICK_EVERY" envDefault:"1m"`
	Workers           int           `env:"WORKERS"` // 0 picks a value for the database
	RefreshTimeout    time.Duration `env:"REFRESH_TIMEOUT" envDefault:"2m"`
	ActivationTimeout time.Duration `env:"ACTIVATION_TIMEOUT" envDefault:"30s"`
	EvictStale        bool          `env:"EVICT_STALE"`

	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT"`

	Source Source `envPrefix:"SOURCE_"`
}

// Source configures the remote content endpoint.
type Source struct {
	URL              string `env:"URL"`
	Format           string `env:"FORMAT" envDefault:"tmdb"`
	Category         string `env:"CATEGORY" envDefault:"Trending"`
	ImageBaseURL     string `env:"IMAGE_BASE_URL" envDefault:"https://image.tmdb.org/t/p/w200"`
	ConnectTimeoutMS int    `env:"CONNECT_TIMEOUT_MS" envDefault:"3000"`
	ReadTimeoutMS    int    `env:"READ_TIMEOUT_MS" envDefault:"10000"`
}

// Options converts the settings into content source options.
func (s Source) Options() content.Options {
	return content.Options{
		URL:            s.URL,
		Format:         s.Format,
		Category:       s.Category,
		ImageBaseURL:   s.ImageBaseURL,
		ConnectTimeout: time.Duration(s.ConnectTimeoutMS) * time.Millisecond,
		ReadTimeout:    time.Duration(s.ReadTimeoutMS) * time.Millisecond,
	}
}

// Load reads .env files (the default one when none are given, ignored if
// missing) and then parses the process environment.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil {
		// Only the implicit .env is optional.
		if len(files) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	}
	return Parse(nil)
}

// Parse builds a Config from environment, or from the process environment
// when environment is nil.
func Parse(environment map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{Prefix: Prefix, Environment: environment}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("%w: %w", model.ErrInvalidInput, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	// Enforce minimum.
	if c.SyncInterval < MinSyncInterval {
		c.SyncInterval = MinSyncInterval
	}
	switch {
	case c.Workers < 0:
		return fmt.Errorf("%w: workers must not be negative", model.ErrInvalidInput)
	case c.TickEvery <= 0:
		return fmt.Errorf("%w: tick interval must be positive", model.ErrInvalidInput)
	case c.RefreshTimeout <= 0 || c.ActivationTimeout <= 0:
		return fmt.Errorf("%w: timeouts must be positive", model.ErrInvalidInput)
	case c.Source.ConnectTimeoutMS <= 0 || c.Source.ReadTimeoutMS <= 0:
		return fmt.Errorf("%w: source timeouts must be positive", model.ErrInvalidInput)
	}
	return nil
}
