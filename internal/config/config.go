package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Agent provider names accepted in configuration.
const (
	ProviderScripted = "scripted"
	ProviderLLM      = "llm"
)

// Config holds service configuration
type Config struct {
	Port            string `yaml:"port"`
	DBPath          string `yaml:"db_path"`
	AgentProvider   string `yaml:"agent_provider"` // "scripted" or "llm"
	OpenRouterModel string `yaml:"openrouter_model"`
	JWTSecret       string `yaml:"jwt_secret"`
	RateLimitRPS    int    `yaml:"rate_limit_rps"`
}

// Default returns the configuration defaults
func Default() *Config {
	return &Config{
		Port:            "8080",
		DBPath:          "simulation.db",
		AgentProvider:   ProviderScripted,
		OpenRouterModel: "anthropic/claude-3.5-sonnet",
		RateLimitRPS:    100,
	}
}

// Load reads configuration from an optional YAML file and applies
// environment variable overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("AGENT_PROVIDER"); v != "" {
		cfg.AgentProvider = v
	}
	if v := os.Getenv("OPENROUTER_MODEL"); v != "" {
		cfg.OpenRouterModel = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}

	if cfg.AgentProvider != ProviderScripted && cfg.AgentProvider != ProviderLLM {
		return nil, fmt.Errorf("unknown agent provider: %s", cfg.AgentProvider)
	}

	return cfg, nil
}
