package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"sfm/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("SFM_REDIS_URL", "")
	t.Setenv("SFM_DATA_DIR", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "sfm", "data")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Database.Path != filepath.Join(tempHome, ".local", "share", "sfm", "state", "records.db") {
		t.Fatalf("unexpected database path: %q", cfg.Database.Path)
	}
	if cfg.Redis.URL != "redis://127.0.0.1:6379/0" {
		t.Fatalf("unexpected redis url: %q", cfg.Redis.URL)
	}
	if len(cfg.Redis.Channels) != 2 || cfg.Redis.Channels[0] != "harvest.status.*" || cfg.Redis.Channels[1] != "warc_created" {
		t.Fatalf("unexpected default channels: %v", cfg.Redis.Channels)
	}
	if cfg.Logging.Format != "console" || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("SFM_REDIS_URL", "")
	t.Setenv("SFM_DATA_DIR", "")
	configPath := filepath.Join(tempDir, "sfm.toml")

	type payload struct {
		Paths struct {
			DataDir string `toml:"data_dir"`
		} `toml:"paths"`
		Redis struct {
			Channels []string `toml:"channels"`
		} `toml:"redis"`
		Logging struct {
			Format string `toml:"format"`
			Level  string `toml:"level"`
		} `toml:"logging"`
	}
	custom := payload{}
	custom.Paths.DataDir = filepath.Join(tempDir, "data")
	custom.Redis.Channels = []string{" harvest.status.* ", "warc_created", "warc_created", ""}
	custom.Logging.Format = "JSON"
	custom.Logging.Level = " Debug "

	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected config at %q to exist, got %q exists=%v", configPath, resolved, exists)
	}
	if cfg.Paths.DataDir != filepath.Join(tempDir, "data") {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if len(cfg.Redis.Channels) != 2 {
		t.Fatalf("expected channels to be trimmed and deduplicated, got %v", cfg.Redis.Channels)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("expected normalized logging settings, got %+v", cfg.Logging)
	}
}

func TestEnvVarOverridesConfigFile(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "sfm.toml")
	contents := "[redis]\nurl = \"redis://file-host:6379/1\"\n[paths]\ndata_dir = \"" + filepath.ToSlash(filepath.Join(tempDir, "file-data")) + "\"\n"
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("SFM_REDIS_URL", "redis://env-host:6379/2")
	t.Setenv("SFM_DATA_DIR", filepath.Join(tempDir, "env-data"))

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Redis.URL != "redis://env-host:6379/2" {
		t.Errorf("expected redis url from env, got %q", cfg.Redis.URL)
	}
	if cfg.Paths.DataDir != filepath.Join(tempDir, "env-data") {
		t.Errorf("expected data dir from env, got %q", cfg.Paths.DataDir)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "warc_created") {
		t.Fatalf("sample config missing default channels: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if !strings.Contains(cfg.Paths.DataDir, "sfm") {
		t.Fatalf("expected data dir to contain sfm, got %q", cfg.Paths.DataDir)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"empty data dir", func(c *config.Config) { c.Paths.DataDir = "" }},
		{"empty database path", func(c *config.Config) { c.Database.Path = "" }},
		{"bad redis scheme", func(c *config.Config) { c.Redis.URL = "http://localhost:6379" }},
		{"no channels", func(c *config.Config) { c.Redis.Channels = nil }},
		{"zero reconnect delay", func(c *config.Config) { c.Consumer.ReconnectDelaySeconds = 0 }},
		{"max below initial", func(c *config.Config) {
			c.Consumer.ReconnectDelaySeconds = 10
			c.Consumer.MaxReconnectDelaySeconds = 5
		}},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }},
		{"bad log level", func(c *config.Config) { c.Logging.Level = "trace" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}
