// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package config loads and persists the annal daemon configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigDir under the user home.
	DefaultConfigDir = ".annal"
	// DefaultConfigFile inside the config dir.
	DefaultConfigFile = "config.yaml"
	// DefaultPort for the MCP server.
	DefaultPort = 9200
)

// DefaultPath returns ~/.annal/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, DefaultConfigDir, DefaultConfigFile), nil
}

// Load reads configuration from the default path, falling back to defaults
// when no file exists yet.
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v, path)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return fromViper(v, path)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return fromViper(v, path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return fromViper(v, path)
}

func fromViper(v *viper.Viper, path string) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Projects == nil {
		cfg.Projects = map[string]ProjectConfig{}
	}
	cfg.path = path
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, path string) {
	v.SetDefault("data_dir", filepath.Join(filepath.Dir(path), "data"))
	v.SetDefault("port", DefaultPort)
	v.SetDefault("storage.backend", "chromem")

	// Uncalibrated defaults; see Thresholds.
	v.SetDefault("thresholds.dedup", 0.95)
	v.SetDefault("thresholds.soft_dedup", 0.80)
	v.SetDefault("thresholds.fuzzy_tag", 0.72)
	v.SetDefault("thresholds.dedup_candidates", 5)
}

func validate(cfg *Config) error {
	switch cfg.Storage.Backend {
	case "chromem", "sqlvec":
	default:
		return fmt.Errorf("storage.backend must be 'chromem' or 'sqlvec', got '%s'", cfg.Storage.Backend)
	}
	for name, proj := range cfg.Projects {
		if proj.Backend != "" && proj.Backend != "chromem" && proj.Backend != "sqlvec" {
			return fmt.Errorf("project %s: backend must be 'chromem' or 'sqlvec', got '%s'", name, proj.Backend)
		}
	}
	t := cfg.Thresholds
	if t.Dedup <= 0 || t.Dedup > 1 || t.SoftDedup <= 0 || t.SoftDedup > t.Dedup {
		return fmt.Errorf("thresholds: need 0 < soft_dedup <= dedup <= 1, got soft_dedup=%v dedup=%v", t.SoftDedup, t.Dedup)
	}
	return nil
}

// AddProject registers a project with default watch settings. It does not
// persist; callers follow up with Save outside any pool or store lock.
func (c *Config) AddProject(name string) {
	if c.Projects == nil {
		c.Projects = map[string]ProjectConfig{}
	}
	if _, ok := c.Projects[name]; ok {
		return
	}
	c.Projects[name] = ProjectConfig{
		WatchPatterns: append([]string(nil), DefaultWatchPatterns...),
		WatchExclude:  append([]string(nil), DefaultWatchExclude...),
		Watch:         true,
	}
}

// Save writes the configuration back to its file. Callers must not hold
// pool or store locks across this call: filesystem latency must never
// block concurrent readers.
func (c *Config) Save() error {
	if c.path == "" {
		return fmt.Errorf("config has no backing file")
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	raw, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return os.Rename(tmp, c.path)
}
