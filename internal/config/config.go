// Package config handles Peregrine configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/peregrine/config.yaml, /etc/peregrine/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "peregrine", "config.yaml"))
	}

	paths = append(paths, "/etc/peregrine/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Peregrine configuration.
type Config struct {
	Listen   ListenConfig  `yaml:"listen"`
	LLM      LLMConfig     `yaml:"llm"`
	Weather  WeatherConfig `yaml:"weather"`
	Places   PlacesConfig  `yaml:"places"`
	Agent    AgentConfig   `yaml:"agent"`
	DataDir  string        `yaml:"data_dir"`
	LogLevel string        `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address        string   `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"` // CORS origins for the frontend
	// ShareBaseURL is the public base URL embedded in session share
	// links (QR codes). Empty falls back to the request host.
	ShareBaseURL string `yaml:"share_base_url"`
}

// LLMConfig defines the completion endpoint settings.
// The endpoint must speak the OpenAI-compatible chat completions protocol.
type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// WeatherConfig defines the weather provider settings.
type WeatherConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// PlacesConfig defines the geocoding/places provider settings.
type PlacesConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// AgentConfig tunes the agent loop.
type AgentConfig struct {
	// MaxIterations bounds the THINKING/TOOL_DISPATCH alternation per turn.
	MaxIterations int `yaml:"max_iterations"`
	// RetryAttempts bounds attempts for network-calling tools (including the first call).
	RetryAttempts int `yaml:"retry_attempts"`
	// RetryDelay is the fixed inter-attempt delay.
	RetryDelay time.Duration `yaml:"retry_delay"`
	// ToolTimeout bounds a single upstream tool call.
	ToolTimeout time.Duration `yaml:"tool_timeout"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		},
		LLM: LLMConfig{
			BaseURL: "https://api.groq.com/openai",
			Model:   "llama-3.3-70b-versatile",
		},
		Weather: WeatherConfig{
			BaseURL: "https://api.openweathermap.org",
		},
		Places: PlacesConfig{
			BaseURL: "https://api.geoapify.com",
		},
		Agent: AgentConfig{
			MaxIterations: 10,
			RetryAttempts: 2,
			RetryDelay:    time.Second,
			ToolTimeout:   10 * time.Second,
		},
		DataDir: "data",
	}
}
