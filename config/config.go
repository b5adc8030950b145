// Package config loads the YAML configuration file the CLI entry point
// reads at startup: which I²C bus and card address to drive, where to
// write the block trace, and what port the debug server listens on.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Bus    BusConfig    `yaml:"bus"`
	Trace  TraceConfig  `yaml:"trace"`
	Server ServerConfig `yaml:"server"`
}

// BusConfig names the I²C bus and the card's address on it. ClockHz is the
// pre-activation clock; the card's own CIP response may override it once
// activation completes.
type BusConfig struct {
	Name         string `yaml:"name"`
	SlaveAddress uint16 `yaml:"slave_address"`
	ClockHz      int    `yaml:"clock_hz"`
}

// TraceConfig controls the rotating block-trace log.
type TraceConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// ServerConfig controls the debug HTTP/SSE server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// Load reads and parses path, applying defaults for anything the file
// leaves unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Bus: BusConfig{
			Name:    "",
			ClockHz: 400000,
		},
		Trace: TraceConfig{
			Path:          "/var/log/blocksec2go",
			RetentionDays: 30,
		},
		Server: ServerConfig{
			Port: 8090,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
