// Package config handles YAML configuration loading for the statboard
// binaries, with ${VAR} environment variable substitution, defaults, and
// validation.
package config
