// Package config resolves corgo's process-wide state: the cache root
// directory and its subdirectories (index/, cache/, src/), the registry
// URL, HTTP timeout, and fetch concurrency.
//
// golang-dep treats its GOPATH package cache as process-wide state
// initialized once per invocation; this package is that initialization
// point for corgo, built fresh per invocation rather than relying on
// package-level init().
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const defaultRegistryURL = "https://registry.example.invalid"

// Config is the resolved, process-wide configuration for one invocation.
type Config struct {
	// CacheRoot is <HOME>/.corgo by default (CORGO_HOME overrides it).
	CacheRoot string
	// RegistryURL is the default registry's base URL.
	RegistryURL string
	// FetchTimeout bounds each HTTP request.
	FetchTimeout time.Duration
	// FetchConcurrency bounds how many archive fetches run in parallel.
	FetchConcurrency int
	// Verbose toggles debug-level structured logging.
	Verbose bool
}

type fileConfig struct {
	Registry struct {
		URL string `toml:"url"`
	} `toml:"registry"`
	Net struct {
		TimeoutSeconds   int `toml:"timeout_seconds"`
		FetchConcurrency int `toml:"fetch_concurrency"`
	} `toml:"net"`
}

// IndexDir, ArchiveDir, and SrcDir lay out the cache root as
// "index/<registry-hash>/", "cache/<registry-hash>/", "src/<registry-hash>/",
// sharded per registry so multiple registries never collide in one cache
// root.
func (c Config) IndexDir(registryHash string) string {
	return filepath.Join(c.CacheRoot, "index", registryHash)
}

func (c Config) ArchiveDir(registryHash string) string {
	return filepath.Join(c.CacheRoot, "cache", registryHash)
}

func (c Config) SrcDir(registryHash string) string {
	return filepath.Join(c.CacheRoot, "src", registryHash)
}

// Load builds a Config from the environment and, if present,
// <CacheRoot>/config.toml, applying defaults for anything unset.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("determine home directory: %w", err)
	}

	cfg := Config{
		CacheRoot:        filepath.Join(home, ".corgo"),
		RegistryURL:      defaultRegistryURL,
		FetchTimeout:     30 * time.Second,
		FetchConcurrency: 8,
	}

	if root := os.Getenv("CORGO_HOME"); root != "" {
		cfg.CacheRoot = root
	}
	if url := os.Getenv("CORGO_REGISTRY_URL"); url != "" {
		cfg.RegistryURL = url
	}
	if os.Getenv("CORGO_LOG") == "debug" {
		cfg.Verbose = true
	}

	if err := os.MkdirAll(cfg.CacheRoot, 0o755); err != nil {
		return Config{}, fmt.Errorf("create cache root %s: %w", cfg.CacheRoot, err)
	}

	path := filepath.Join(cfg.CacheRoot, "config.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if fc.Registry.URL != "" {
		cfg.RegistryURL = fc.Registry.URL
	}
	if fc.Net.TimeoutSeconds > 0 {
		cfg.FetchTimeout = time.Duration(fc.Net.TimeoutSeconds) * time.Second
	}
	if fc.Net.FetchConcurrency > 0 {
		cfg.FetchConcurrency = fc.Net.FetchConcurrency
	}

	return cfg, nil
}
