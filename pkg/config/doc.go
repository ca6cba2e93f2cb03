// Package config loads worker configuration from the environment with
// optional YAML file overrides.
package config
