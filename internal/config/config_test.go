package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Bind != "127.0.0.1:4200" {
		t.Errorf("Bind = %q, want default", cfg.Server.Bind)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Backend = %q, want sqlite", cfg.Storage.Backend)
	}
	if cfg.Jobs.MaxBatch != 10 {
		t.Errorf("MaxBatch = %d, want 10", cfg.Jobs.MaxBatch)
	}
	if cfg.Renderer.Concurrency != 1 {
		t.Errorf("Concurrency = %d, want 1", cfg.Renderer.Concurrency)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
[server]
bind = "0.0.0.0:9000"

[storage]
backend = "fs"
data_dir = "/tmp/fv"

[ledger]
base_url = "http://ledger.local"

[renderer]
base_url = "http://render.local"
concurrency = 2

[sync]
interval = 30
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Bind != "0.0.0.0:9000" {
		t.Errorf("Bind = %q", cfg.Server.Bind)
	}
	if cfg.Storage.Backend != "fs" || cfg.Storage.DataDir != "/tmp/fv" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Renderer.Concurrency != 2 {
		t.Errorf("Concurrency = %d, want 2", cfg.Renderer.Concurrency)
	}
	if cfg.SyncInterval().Minutes() != 30 {
		t.Errorf("SyncInterval = %v, want 30m", cfg.SyncInterval())
	}
	// Unset file values keep defaults.
	if cfg.Jobs.MaxBatch != 10 {
		t.Errorf("MaxBatch = %d, want default 10", cfg.Jobs.MaxBatch)
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := writeConfig(t, `
[ledger]
base_url = "http://from-file"
`)
	t.Setenv("FRAMEVAULT_LEDGER_URL", "http://from-env")
	t.Setenv("FRAMEVAULT_STORAGE_BACKEND", "memory")
	t.Setenv("FRAMEVAULT_MAX_BATCH", "5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Ledger.BaseURL != "http://from-env" {
		t.Errorf("BaseURL = %q, want env value", cfg.Ledger.BaseURL)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("Backend = %q, want memory", cfg.Storage.Backend)
	}
	if cfg.Jobs.MaxBatch != 5 {
		t.Errorf("MaxBatch = %d, want 5", cfg.Jobs.MaxBatch)
	}
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := writeConfig(t, "[server\nbind=")
	if _, err := Load(path); err == nil {
		t.Error("Load of malformed file: err = nil, want error")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := defaults()
		cfg.Ledger.BaseURL = "http://ledger.local"
		cfg.Renderer.BaseURL = "http://render.local"
		return cfg
	}

	if err := func() error { c := valid(); return c.Validate() }(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"missing data dir", func(c *Config) { c.Storage.DataDir = "" }, "data_dir"},
		{"missing ledger url", func(c *Config) { c.Ledger.BaseURL = "" }, "ledger.base_url"},
		{"missing renderer url", func(c *Config) { c.Renderer.BaseURL = "" }, "renderer.base_url"},
		{"zero batch", func(c *Config) { c.Jobs.MaxBatch = 0 }, "max_batch"},
		{"zero concurrency", func(c *Config) { c.Renderer.Concurrency = 0 }, "concurrency"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}

	// The memory backend needs no data dir.
	cfg := valid()
	cfg.Storage.Backend = "memory"
	cfg.Storage.DataDir = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("memory backend without data dir rejected: %v", err)
	}
}

func TestWriteSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	if err := WriteSample(path); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load of sample: %v", err)
	}
	if cfg.Jobs.MaxBatch != 10 {
		t.Errorf("sample MaxBatch = %d, want 10", cfg.Jobs.MaxBatch)
	}

	if err := WriteSample(path); err == nil {
		t.Error("second WriteSample: err = nil, want refusal to overwrite")
	}
}
