// Package config loads, normalizes, and validates vidscribe configuration.
//
// Values come from repository defaults, then an optional TOML file
// (~/.config/vidscribe/config.toml or ./vidscribe.toml), then VIDSCRIBE_*
// environment overrides. Paths are expanded (including ~) before
// validation so the daemon and CLI always see absolute directories.
package config
