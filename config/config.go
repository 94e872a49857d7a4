// Package config loads the worker configuration: environment variables, an
// optional .env file, and an optional feedeater.yaml overlay supplying
// defaults. The environment always wins.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config is the complete worker configuration.
type Config struct {
	// NATSURL is the bus endpoint. Required.
	NATSURL string `yaml:"natsUrl"`
	// InternalToken authenticates calls to the settings service. Required.
	InternalToken string `yaml:"internalToken"`
	// DatabaseURL is the Postgres DSN. Required.
	DatabaseURL string `yaml:"databaseUrl"`
	// APIBaseURL is the dashboard API serving internal settings.
	APIBaseURL string `yaml:"apiBaseUrl"`
	// ModulesDir is scanned one directory deep for module.json manifests.
	ModulesDir string `yaml:"modulesDir"`
	// EmbedDim is the embedding dimension used when the settings service
	// does not provide ollama_embed_dim.
	EmbedDim int `yaml:"embedDim"`
	// HTTPAddr serves /healthz, /readyz and /metrics.
	HTTPAddr string `yaml:"httpAddr"`
}

// Defaults returns a Config with every optional field set.
func Defaults() *Config {
	return &Config{
		APIBaseURL: "http://localhost:4000",
		ModulesDir: "/app/modules",
		EmbedDim:   4096,
		HTTPAddr:   ":9090",
	}
}

// Validate checks the fields that have no usable default.
func (c *Config) Validate() error {
	if c.NATSURL == "" {
		return fmt.Errorf("NATS_URL is required")
	}
	if c.InternalToken == "" {
		return fmt.Errorf("FEED_INTERNAL_TOKEN is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.EmbedDim <= 0 {
		return fmt.Errorf("embed dimension must be positive, got %d", c.EmbedDim)
	}
	return nil
}

func (c *Config) applyYAML(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse overlay: %w", err)
	}
	return nil
}
