package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultAPIBaseURL is used when neither the file nor the environment names a backend.
	DefaultAPIBaseURL = "http://localhost:8000"
	// APIURLEnv overrides the backend base address.
	APIURLEnv = "API_URL"

	defaultHistoryLimit = 500
	defaultRedisChannel = "stackstatus:connectivity"
)

// Config represents configuration data for the status monitor.
type Config struct {
	APIBaseURL             string `yaml:"api_base_url"`
	RefreshIntervalSeconds int    `yaml:"refresh_interval_seconds"`
	RequestTimeoutSeconds  int    `yaml:"request_timeout_seconds"`
	DataDirectory          string `yaml:"data_directory"`
	HistoryLimit           int    `yaml:"history_limit"`
	Redis                  Redis  `yaml:"redis"`
}

// Redis configures the optional state-change relay.
type Redis struct {
	URL     string `yaml:"url"`
	Channel string `yaml:"channel"`
}

// DefaultConfig returns sensible defaults in case no configuration file is provided.
func DefaultConfig() Config {
	return Config{
		APIBaseURL:    DefaultAPIBaseURL,
		DataDirectory: filepath.Join(".dist", "data"),
		HistoryLimit:  defaultHistoryLimit,
		Redis: Redis{
			Channel: defaultRedisChannel,
		},
	}
}

// Load reads configuration from yaml file. Missing files fall back to defaults.
// The API_URL environment variable always wins over the file.
func Load(path string) (Config, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return Config{}, err
	}
	if override := strings.TrimSpace(os.Getenv(APIURLEnv)); override != "" {
		cfg.APIBaseURL = override
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.RefreshIntervalSeconds < 0 {
		cfg.RefreshIntervalSeconds = 0
	}
	if cfg.RequestTimeoutSeconds < 0 {
		cfg.RequestTimeoutSeconds = 0
	}
	if cfg.DataDirectory == "" {
		cfg.DataDirectory = DefaultConfig().DataDirectory
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = defaultRedisChannel
	}
	return cfg, nil
}

func (c Config) validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil {
		return fmt.Errorf("api_base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api_base_url %q must use http or https", c.APIBaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("api_base_url %q is missing a host", c.APIBaseURL)
	}
	return nil
}
