// Package config loads framevault configuration from a TOML file with
// FRAMEVAULT_* environment overrides on top.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

type Config struct {
	Server   Server   `toml:"server"`
	Log      Log      `toml:"log"`
	Storage  Storage  `toml:"storage"`
	Ledger   Ledger   `toml:"ledger"`
	Renderer Renderer `toml:"renderer"`
	Jobs     Jobs     `toml:"jobs"`
	Sync     Sync     `toml:"sync"`
}

type Server struct {
	Bind           string `toml:"bind"`
	APIToken       string `toml:"api_token"`
	RequestTimeout int    `toml:"request_timeout"` // seconds
}

type Log struct {
	Level string `toml:"level"`
}

type Storage struct {
	Backend string `toml:"backend"`
	DataDir string `toml:"data_dir"`
}

type Ledger struct {
	BaseURL string `toml:"base_url"`
	Timeout int    `toml:"timeout"` // seconds
}

type Renderer struct {
	BaseURL     string `toml:"base_url"`
	Timeout     int    `toml:"timeout"` // seconds
	Concurrency int    `toml:"concurrency"`
}

type Jobs struct {
	MaxBatch int `toml:"max_batch"`
}

type Sync struct {
	Interval int `toml:"interval"` // minutes, 0 disables
}

func defaults() Config {
	return Config{
		Server:   Server{Bind: "127.0.0.1:4200", RequestTimeout: 120},
		Log:      Log{Level: "info"},
		Storage:  Storage{Backend: "sqlite", DataDir: defaultDataDir()},
		Ledger:   Ledger{Timeout: 10},
		Renderer: Renderer{Timeout: 300, Concurrency: 1},
		Jobs:     Jobs{MaxBatch: 10},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".framevault"
	}
	return filepath.Join(home, ".local", "share", "framevault")
}

// DefaultPath returns the config file location used when --config is not
// given.
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "framevault", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".config", "framevault", "config.toml")
}

// Load reads the config file at path (a missing file just yields defaults),
// then applies environment overrides. Validation is the caller's job:
// commands differ in what they require.
func Load(path string) (Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString("FRAMEVAULT_BIND", &cfg.Server.Bind)
	setString("FRAMEVAULT_API_TOKEN", &cfg.Server.APIToken)
	setString("FRAMEVAULT_LOG_LEVEL", &cfg.Log.Level)
	setString("FRAMEVAULT_STORAGE_BACKEND", &cfg.Storage.Backend)
	setString("FRAMEVAULT_DATA_DIR", &cfg.Storage.DataDir)
	setString("FRAMEVAULT_LEDGER_URL", &cfg.Ledger.BaseURL)
	setString("FRAMEVAULT_RENDERER_URL", &cfg.Renderer.BaseURL)
	setInt("FRAMEVAULT_RENDER_CONCURRENCY", &cfg.Renderer.Concurrency)
	setInt("FRAMEVAULT_MAX_BATCH", &cfg.Jobs.MaxBatch)
	setInt("FRAMEVAULT_SYNC_INTERVAL", &cfg.Sync.Interval)
}

// Validate checks everything serve and sync need before any work starts.
// Misconfiguration must fail here, not on the first request.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite", "fs", "memory":
	default:
		return fmt.Errorf("storage.backend %q: must be sqlite, fs, or memory", c.Storage.Backend)
	}
	if c.Storage.Backend != "memory" && c.Storage.DataDir == "" {
		return errors.New("storage.data_dir is required for durable backends")
	}
	if c.Ledger.BaseURL == "" {
		return errors.New("ledger.base_url is required (set it in the config file or FRAMEVAULT_LEDGER_URL)")
	}
	if c.Renderer.BaseURL == "" {
		return errors.New("renderer.base_url is required (set it in the config file or FRAMEVAULT_RENDERER_URL)")
	}
	if c.Server.Bind == "" {
		return errors.New("server.bind must not be empty")
	}
	if c.Jobs.MaxBatch < 1 {
		return fmt.Errorf("jobs.max_batch %d: must be at least 1", c.Jobs.MaxBatch)
	}
	if c.Renderer.Concurrency < 1 {
		return fmt.Errorf("renderer.concurrency %d: must be at least 1", c.Renderer.Concurrency)
	}
	return nil
}

// RequestTimeout returns the HTTP request bound as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeout) * time.Second
}

// LedgerTimeout returns the per-call ledger bound as a duration.
func (c *Config) LedgerTimeout() time.Duration {
	return time.Duration(c.Ledger.Timeout) * time.Second
}

// RenderTimeout returns the per-render bound as a duration.
func (c *Config) RenderTimeout() time.Duration {
	return time.Duration(c.Renderer.Timeout) * time.Second
}

// SyncInterval returns the background pass interval; zero means disabled.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.Interval) * time.Minute
}

// WriteSample writes the annotated sample config to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}
