// Package config loads service configuration from defaults and
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/metaversi-world/spotifytrack/internal/corpus"
)

// Config is the full service configuration.
type Config struct {
	DatabaseURL string        `koanf:"database_url"`
	Spotify     SpotifyConfig `koanf:"spotify"`
	Server      ServerConfig  `koanf:"server"`
	Ingest      IngestConfig  `koanf:"ingest"`
	Corpus      CorpusConfig  `koanf:"corpus"`
	Logging     LoggingConfig `koanf:"logging"`
}

// SpotifyConfig holds the application credentials for the upstream API.
type SpotifyConfig struct {
	ClientID      string  `koanf:"client_id"`
	ClientSecret  string  `koanf:"client_secret"`
	RatePerSecond float64 `koanf:"rate_per_second"`
	RateBurst     int     `koanf:"rate_burst"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr          string        `koanf:"addr"`
	SearchTimeout time.Duration `koanf:"search_timeout"`
}

// IngestConfig tunes the background snapshot scheduler.
type IngestConfig struct {
	Interval        time.Duration `koanf:"interval"`
	PoolSize        int           `koanf:"pool_size"`
	Cooldown        time.Duration `koanf:"cooldown"`
	ProfileTTL      time.Duration `koanf:"profile_ttl"`
	MaxAuthFailures int           `koanf:"max_auth_failures"`
}

// CorpusConfig tunes the in-memory artist corpus.
type CorpusConfig struct {
	Dimension int `koanf:"dimension"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

func defaultConfig() *Config {
	return &Config{
		DatabaseURL: "postgres://localhost:5432/spotifytrack",
		Spotify: SpotifyConfig{
			RatePerSecond: 5,
			RateBurst:     10,
		},
		Server: ServerConfig{
			Addr:          "127.0.0.1:8000",
			SearchTimeout: 5 * time.Second,
		},
		Ingest: IngestConfig{
			Interval:        time.Hour,
			PoolSize:        4,
			Cooldown:        30 * time.Minute,
			ProfileTTL:      7 * 24 * time.Hour,
			MaxAuthFailures: 3,
		},
		Corpus: CorpusConfig{
			Dimension: corpus.DefaultDimension,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults overridden by environment
// variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	if c.Spotify.ClientID == "" || c.Spotify.ClientSecret == "" {
		return fmt.Errorf("SPOTIFY_ID and SPOTIFY_SECRET must be set")
	}
	if c.Corpus.Dimension <= 0 {
		return fmt.Errorf("corpus dimension must be positive, got %d", c.Corpus.Dimension)
	}
	if c.Ingest.Interval <= 0 {
		return fmt.Errorf("ingest interval must be positive, got %s", c.Ingest.Interval)
	}
	return nil
}

// envMappings names the recognized environment variables. Unlisted
// variables are ignored so ambient process environment does not leak
// into the config.
var envMappings = map[string]string{
	"database_url": "database_url",

	"spotify_id":              "spotify.client_id",
	"spotify_secret":          "spotify.client_secret",
	"spotify_rate_per_second": "spotify.rate_per_second",
	"spotify_rate_burst":      "spotify.rate_burst",

	"listen_addr":    "server.addr",
	"search_timeout": "server.search_timeout",

	"ingest_interval":          "ingest.interval",
	"ingest_pool_size":         "ingest.pool_size",
	"ingest_cooldown":          "ingest.cooldown",
	"ingest_profile_ttl":       "ingest.profile_ttl",
	"ingest_max_auth_failures": "ingest.max_auth_failures",

	"corpus_dimension": "corpus.dimension",

	"log_level":  "logging.level",
	"log_pretty": "logging.pretty",
}

func envTransform(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
