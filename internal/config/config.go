// Package config loads the control-plane configuration: defaults, then
// an optional YAML file, then SJ_-prefixed environment overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sloppyjobs/jobulator/pipeline"
)

// Auth configures principal resolution.
type Auth struct {
	// IssuerURL is the external identity provider for human tokens.
	IssuerURL string `yaml:"issuer_url"`
	// LocalSecret switches human auth to local HS256 validation;
	// development and test mode only.
	LocalSecret string `yaml:"local_secret"`
}

// Config is the full server configuration.
type Config struct {
	Addr     string          `yaml:"addr"`
	DBPath   string          `yaml:"db_path"`
	Auth     Auth            `yaml:"auth"`
	Pipeline pipeline.Config `yaml:"pipeline"`
}

// Load reads the configuration. path may be empty.
func Load(path string) (Config, error) {
	cfg := Config{
		Addr:   ":8080",
		DBPath: "jobulator.db",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if v := os.Getenv("SJ_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("SJ_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SJ_AUTH_ISSUER_URL"); v != "" {
		cfg.Auth.IssuerURL = v
	}
	if v := os.Getenv("SJ_AUTH_LOCAL_SECRET"); v != "" {
		cfg.Auth.LocalSecret = v
	}
	cfg.Pipeline = cfg.Pipeline.FromEnv()

	return cfg, nil
}
