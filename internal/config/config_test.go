package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/corgo-rs/corgo/internal/config"
)

func TestLoadDefaultsToHomeCorgoDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("CORGO_HOME", "")
	t.Setenv("CORGO_REGISTRY_URL", "")
	t.Setenv("CORGO_LOG", "")

	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CacheRoot != filepath.Join(home, ".corgo") {
		t.Errorf("CacheRoot = %q, want %q", cfg.CacheRoot, filepath.Join(home, ".corgo"))
	}
	if cfg.Verbose {
		t.Error("Verbose should default to false")
	}
}

func TestLoadHonorsEnvOverrides(t *testing.T) {
	home := t.TempDir()
	cacheRoot := filepath.Join(home, "custom-cache")
	t.Setenv("HOME", home)
	t.Setenv("CORGO_HOME", cacheRoot)
	t.Setenv("CORGO_REGISTRY_URL", "https://registry.internal.test")
	t.Setenv("CORGO_LOG", "debug")

	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CacheRoot != cacheRoot {
		t.Errorf("CacheRoot = %q, want %q", cfg.CacheRoot, cacheRoot)
	}
	if cfg.RegistryURL != "https://registry.internal.test" {
		t.Errorf("RegistryURL = %q", cfg.RegistryURL)
	}
	if !cfg.Verbose {
		t.Error("CORGO_LOG=debug should set Verbose")
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("CORGO_HOME", "")
	t.Setenv("CORGO_REGISTRY_URL", "")
	t.Setenv("CORGO_LOG", "")

	cacheRoot := filepath.Join(home, ".corgo")
	if err := os.MkdirAll(cacheRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	doc := "[registry]\nurl = \"https://from-file.test\"\n\n[net]\ntimeout_seconds = 5\nfetch_concurrency = 2\n"
	if err := os.WriteFile(filepath.Join(cacheRoot, "config.toml"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RegistryURL != "https://from-file.test" {
		t.Errorf("RegistryURL = %q, want the config.toml value", cfg.RegistryURL)
	}
	if cfg.FetchConcurrency != 2 {
		t.Errorf("FetchConcurrency = %d, want 2", cfg.FetchConcurrency)
	}
}
