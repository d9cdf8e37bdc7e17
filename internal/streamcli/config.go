package streamcli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the CLI profile file.
type Config struct {
	CurrentProfile string             `yaml:"currentProfile"`
	Profiles       map[string]Profile `yaml:"profiles"`
}

// Profile holds per-environment defaults for the stream command.
type Profile struct {
	Name       string   `yaml:"name"`
	APIURL     string   `yaml:"apiUrl,omitempty"`
	EventTypes []string `yaml:"eventTypes,omitempty"`
	Sinks      []string `yaml:"sinks,omitempty"`
	Output     string   `yaml:"output,omitempty"`
}

func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Profiles: map[string]Profile{},
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	return cfg, nil
}

func SaveConfig(cfg *Config, path string) error {
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "./lookout-stream.yaml"
	}
	return filepath.Join(dir, "lookout-stream", "config.yaml")
}

func setProfile(cfg *Config, profile Profile, makeCurrent bool) {
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	cfg.Profiles[profile.Name] = profile
	if cfg.CurrentProfile == "" || makeCurrent {
		cfg.CurrentProfile = profile.Name
	}
}

func ensureProfileExists(cfg *Config, name string) error {
	if _, ok := cfg.Profiles[name]; !ok {
		return fmt.Errorf("profile %q not found", name)
	}
	return nil
}
