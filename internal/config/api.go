package config

import (
	"net"
	"os"
)

// API holds the demo backend settings, read from the environment.
type API struct {
	Host        string
	Port        string
	Environment string
}

// LoadAPI reads HOST, PORT and ENVIRONMENT, falling back to local defaults.
func LoadAPI() API {
	cfg := API{
		Host:        os.Getenv("HOST"),        // e.g. 0.0.0.0
		Port:        os.Getenv("PORT"),        // e.g. 8000
		Environment: os.Getenv("ENVIRONMENT"), // e.g. production
	}
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == "" {
		cfg.Port = "8000"
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	return cfg
}

// Addr is the listen address for the demo backend.
func (a API) Addr() string {
	return net.JoinHostPort(a.Host, a.Port)
}
