package testsupport

import (
	"path/filepath"
	"testing"

	"sfm/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Database.Path = filepath.Join(base, "state", "records.db")
	cfgVal.Database.BusyTimeoutMS = 1000
	cfgVal.Redis.URL = "redis://127.0.0.1:0/0"
	cfgVal.Logging.Level = "debug"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithRedisURL points the test config at a specific Redis server.
func WithRedisURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Redis.URL = url
	}
}

// WithDatabase gives the test config its own database file name under the
// temp directory, for tests that need a second store.
func WithDatabase(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Database.Path = filepath.Join(b.baseDir, "state", name)
	}
}
