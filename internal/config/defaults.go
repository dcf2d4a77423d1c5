package config

const (
	defaultConfigPath               = "~/.config/sfm/config.toml"
	defaultDataDir                  = "~/.local/share/sfm/data"
	defaultStateDir                 = "~/.local/share/sfm/state"
	defaultDatabasePath             = "~/.local/share/sfm/state/records.db"
	defaultBusyTimeoutMS            = 5000
	defaultRedisURL                 = "redis://127.0.0.1:6379/0"
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
	defaultReconnectDelaySeconds    = 1
	defaultMaxReconnectDelaySeconds = 30
	harvestStatusChannelPattern     = "harvest.status.*"
	warcCreatedChannel              = "warc_created"
)

// DefaultChannels lists the bus channel patterns the consumer subscribes to.
func DefaultChannels() []string {
	return []string{harvestStatusChannelPattern, warcCreatedChannel}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:  defaultDataDir,
			StateDir: defaultStateDir,
		},
		Database: Database{
			Path:          defaultDatabasePath,
			BusyTimeoutMS: defaultBusyTimeoutMS,
		},
		Redis: Redis{
			URL:      defaultRedisURL,
			Channels: DefaultChannels(),
		},
		Consumer: Consumer{
			ReconnectDelaySeconds:    defaultReconnectDelaySeconds,
			MaxReconnectDelaySeconds: defaultMaxReconnectDelaySeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
