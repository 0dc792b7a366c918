// Package config provides 12-factor configuration for the warden service.
//
// Configuration is loaded from environment variables with sensible
// defaults, or from a TOML file when one is supplied on the command line.
// Invalid values never tear down a running service: callers fall back to
// Default().
package config
