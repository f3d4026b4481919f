package config

import (
	"fmt"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
)

// Config is the node configuration. Values come from CGAMES_* environment
// variables, with command-line flags layered on top by the entrypoint.
type Config struct {
	Home       string `envconfig:"HOME" default:".cgames"`
	ListenAddr string `envconfig:"LISTEN_ADDR" default:"tcp://127.0.0.1:26658"`
	Transport  string `envconfig:"TRANSPORT" default:"socket"`
	ComputeDB  string `envconfig:"COMPUTE_DB"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("cgames", &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	if cfg.Transport != "socket" && cfg.Transport != "grpc" {
		return nil, fmt.Errorf("invalid transport %q (socket|grpc)", cfg.Transport)
	}
	if cfg.ComputeDB == "" {
		cfg.ComputeDB = filepath.Join(cfg.Home, "compute.db")
	}
	return &cfg, nil
}
