package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateRedis(); err != nil {
		return err
	}
	if err := c.validateConsumer(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database.path must be set")
	}
	if c.Database.BusyTimeoutMS < 0 {
		return errors.New("database.busy_timeout_ms must not be negative")
	}
	return nil
}

func (c *Config) validateRedis() error {
	parsed, err := url.Parse(c.Redis.URL)
	if err != nil {
		return fmt.Errorf("redis.url: %w", err)
	}
	switch parsed.Scheme {
	case "redis", "rediss", "unix":
	default:
		return fmt.Errorf("redis.url: unsupported scheme %q (expected redis, rediss, or unix)", parsed.Scheme)
	}
	if len(c.Redis.Channels) == 0 {
		return errors.New("redis.channels must include at least one channel")
	}
	return nil
}

func (c *Config) validateConsumer() error {
	if err := ensurePositiveMap(map[string]int{
		"consumer.reconnect_delay_seconds":     c.Consumer.ReconnectDelaySeconds,
		"consumer.max_reconnect_delay_seconds": c.Consumer.MaxReconnectDelaySeconds,
	}); err != nil {
		return err
	}
	if c.Consumer.MaxReconnectDelaySeconds < c.Consumer.ReconnectDelaySeconds {
		return errors.New("consumer.max_reconnect_delay_seconds must be >= consumer.reconnect_delay_seconds")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
