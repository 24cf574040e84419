// Package config loads and validates the YAML configuration for the
// zkapauthorizer binaries, following the same load/validate shape the
// teacher repository uses for its node configuration: one struct per
// concern, each with its own Validate() error, assembled into a single
// top-level Config decoded with strict (KnownFields) YAML parsing.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultSpentPassesCacheSize is the StorageServer.SpentPassesCacheSize
	// that LoadFile applies when the YAML leaves it unset. A Config built
	// in code gets no default: a zero value fails Validate.
	DefaultSpentPassesCacheSize = 4096
)

// Config is the top-level configuration for a zkapauthorizer binary.
type Config struct {
	Logger        Logger        `yaml:"Logger"`
	Store         Store         `yaml:"Store"`
	Pass          Pass          `yaml:"Pass"`
	StorageServer StorageServer `yaml:"StorageServer"`
	StorageClient StorageClient `yaml:"StorageClient"`
	Prometheus    BasicService  `yaml:"Prometheus"`
}

// Validate runs every section's Validate method, returning the first
// error encountered.
func (c Config) Validate() error {
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("Logger: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("Store: %w", err)
	}
	if err := c.Pass.Validate(); err != nil {
		return fmt.Errorf("Pass: %w", err)
	}
	if err := c.StorageServer.Validate(); err != nil {
		return fmt.Errorf("StorageServer: %w", err)
	}
	return nil
}

// Load reads and validates the configuration file at path. If
// relativePath is non-empty, relative filesystem paths embedded in the
// config (Store.Path, StorageServer.SpentPassesDBPath, Logger.LogPath)
// are resolved against it.
func Load(path string, relativePath ...string) (Config, error) {
	return LoadFile(path, relativePath...)
}

// LoadFile loads the config from the provided path.
func LoadFile(configPath string, relativePath ...string) (Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return Config{}, fmt.Errorf("unable to read config: %w", err)
	}

	cfg := Config{
		StorageServer: StorageServer{
			SpentPassesCacheSize: DefaultSpentPassesCacheSize,
		},
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	if len(relativePath) == 1 && relativePath[0] != "" {
		updateRelativePaths(relativePath[0], &cfg)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func updateRelativePaths(relativePath string, cfg *Config) {
	updatePath := func(path *string) {
		if *path != "" && !filepath.IsAbs(*path) {
			*path = filepath.Join(relativePath, *path)
		}
	}

	updatePath(&cfg.Logger.LogPath)
	updatePath(&cfg.Store.Path)
	updatePath(&cfg.StorageServer.SpentPassesDBPath)
}
