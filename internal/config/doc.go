// Package config loads, normalizes, and validates sfm configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// SFM_REDIS_URL. The Config type centralizes every knob the consumer and the
// snapshot commands need, so the data directory, record database, and message
// bus connection are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
