// Package config holds the settings shared by the command line tools.
// Values come from an optional YAML file and are then overridden by flags.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NeowayLabs/drmkit"
	"github.com/NeowayLabs/drmkit/pattern"
)

type Config struct {
	Device         string        `yaml:"device"`
	Verbose        bool          `yaml:"verbose"`
	OverrideMaster bool          `yaml:"override_master"`
	Hold           time.Duration `yaml:"hold"`
	Pattern        string        `yaml:"pattern"`
	PNG            string        `yaml:"png"`
	CrtcTimeout    time.Duration `yaml:"crtc_timeout"`
	Workers        int           `yaml:"discovery_workers"`
}

func Default() Config {
	return Config{
		Device:      drmkit.DefaultCard,
		Hold:        10 * time.Second,
		Pattern:     "gradient",
		CrtcTimeout: 5 * time.Second,
		Workers:     1,
	}
}

// Load reads path on top of the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Device == "" {
		return fmt.Errorf("device path is empty")
	}
	if c.Hold < 0 {
		return fmt.Errorf("negative hold duration %s", c.Hold)
	}
	if c.CrtcTimeout <= 0 {
		return fmt.Errorf("crtc timeout must be positive, got %s", c.CrtcTimeout)
	}
	if !pattern.Known(c.Pattern) {
		return fmt.Errorf("unknown pattern %q, want one of %v", c.Pattern, pattern.Names)
	}
	if c.Workers < 1 {
		return fmt.Errorf("discovery workers must be at least 1, got %d", c.Workers)
	}
	return nil
}
