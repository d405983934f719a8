// Package config builds runtime configuration from the environment.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

// Config holds everything the clients and stores need at startup.
type Config struct {
	// TMDBAPIKey authenticates catalog lookups. Required.
	TMDBAPIKey string
	// GeminiAPIKey authenticates assistant calls. Optional; without it text
	// search degrades to direct term search and image search and chat are
	// unavailable.
	GeminiAPIKey string
	// DataDir is the root for persisted preferences, the response cache,
	// and logs.
	DataDir string
	// CacheTTLHours controls catalog response cache expiry.
	CacheTTLHours int
}

var ErrTMDBKeyRequired = errors.New("TMDB_API_KEY is required")

// Load reads configuration from the environment. The caller is expected to
// have loaded any .env file beforehand.
func Load() (*Config, error) {
	cfg := &Config{
		TMDBAPIKey:    strings.TrimSpace(os.Getenv("TMDB_API_KEY")),
		GeminiAPIKey:  strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		DataDir:       strings.TrimSpace(os.Getenv("CINESUGGEST_DATA_DIR")),
		CacheTTLHours: 24,
	}
	if cfg.TMDBAPIKey == "" {
		return nil, ErrTMDBKeyRequired
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if raw := os.Getenv("CINESUGGEST_CACHE_TTL_HOURS"); raw != "" {
		ttl, err := strconv.Atoi(raw)
		if err != nil || ttl <= 0 {
			return nil, errors.New("CINESUGGEST_CACHE_TTL_HOURS must be a positive integer")
		}
		cfg.CacheTTLHours = ttl
	}
	return cfg, nil
}
