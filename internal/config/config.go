// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// envPrefix is prepended to every variable name below.
const envPrefix = "GUARDPANEL_"

// minKDFIterations rejects configurations that would make the passkey
// trivially brute-forceable.
const minKDFIterations = 1000

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ManifestPath  string        `env:"MANIFEST_PATH" envDefault:"maFiles/manifest.json"`
	DBPath        string        `env:"DB_PATH" envDefault:"guardpanel.db"`
	ListenAddr    string        `env:"LISTEN_ADDR" envDefault:"127.0.0.1:8787"`
	TickInterval  time.Duration `env:"TICK_INTERVAL" envDefault:"1s"`
	AlignInterval time.Duration `env:"ALIGN_INTERVAL" envDefault:"5s"`
	HTTPTimeout   time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	KDFIterations int           `env:"KDF_ITERATIONS" envDefault:"50000"`
	LogLevel      slog.Level    `env:"LOG_LEVEL" envDefault:"INFO"`

	// Passkey unlocks an encrypted manifest at startup. When empty the
	// manifest stays locked until unlocked through the API.
	Passkey string `env:"PASSKEY"`

	SteamAPIURL       string `env:"STEAM_API_URL"`
	SteamCommunityURL string `env:"STEAM_COMMUNITY_URL"`

	ReleaseRepo string `env:"RELEASE_REPO" envDefault:"Jessecar96/SteamDesktopAuthenticator"`
	GitHubToken string `env:"GITHUB_TOKEN"`
}

// Load reads GUARDPANEL_* environment variables and returns a validated Config.
// Every variable is optional; see the struct tags for defaults.
func Load() (*Config, error) {
	cfg := Config{}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("%sTICK_INTERVAL must be positive, got %s", envPrefix, c.TickInterval))
	}
	if c.AlignInterval <= 0 {
		errs = append(errs, fmt.Errorf("%sALIGN_INTERVAL must be positive, got %s", envPrefix, c.AlignInterval))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%sHTTP_TIMEOUT must be positive, got %s", envPrefix, c.HTTPTimeout))
	}
	if c.KDFIterations < minKDFIterations {
		errs = append(errs, fmt.Errorf("%sKDF_ITERATIONS must be at least %d, got %d", envPrefix, minKDFIterations, c.KDFIterations))
	}
	if strings.TrimSpace(c.ManifestPath) == "" {
		errs = append(errs, fmt.Errorf("%sMANIFEST_PATH must not be empty", envPrefix))
	}
	if owner, repo, ok := strings.Cut(c.ReleaseRepo, "/"); !ok || owner == "" || repo == "" {
		errs = append(errs, fmt.Errorf("%sRELEASE_REPO must be owner/repo, got %q", envPrefix, c.ReleaseRepo))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
