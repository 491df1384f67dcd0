// Package config loads, normalizes, and validates reelgrab configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// REELGRAB_WORKER_URL and REELGRAB_WORKER_TOKEN. The Config type centralizes
// every knob the session and CLI need, from worker timeouts to the push
// channel reconnect policy, so they can be discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
