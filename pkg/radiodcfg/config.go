// Package radiodcfg loads the YAML configuration a radiodctl-based
// application uses to point a radiod.Controller at a radiod instance,
// mirroring the teacher's top-level radiod: stanza and LoadConfig
// convention.
package radiodcfg

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cwsl/radiodctl/pkg/radiod"
)

// RadiodConfig names the multicast groups and outbound interface a
// Controller connects to, the same three fields the teacher's own
// RadiodConfig carries.
type RadiodConfig struct {
	StatusGroup string `yaml:"status_group"`
	DataGroup   string `yaml:"data_group"`
	Interface   string `yaml:"interface"`
}

// Config is the on-disk shape LoadConfig reads. Real applications embed
// RadiodConfig inside a larger document the way the teacher embeds it
// under the "radiod:" key; this package's Config is the minimal
// document a radiodctl-only program needs.
type Config struct {
	Radiod RadiodConfig `yaml:"radiod"`

	// MaxCommandsPerSec, StageTimeoutSeconds, MaxRetries and
	// RetryDelayMillis map directly onto radiod.Options, letting an
	// operator tune retry/backoff behavior without recompiling.
	MaxCommandsPerSec   int `yaml:"max_commands_per_sec"`
	StageTimeoutSeconds int `yaml:"stage_timeout_seconds"`
	MaxRetries          int `yaml:"max_retries"`
	RetryDelayMillis    int `yaml:"retry_delay_millis"`
}

// LoadConfig reads and parses filename, applying the same defaults a
// freshly zeroed radiod.Options would get.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Radiod.StatusGroup == "" {
		return nil, fmt.Errorf("radiod.status_group is required")
	}

	return &cfg, nil
}

// Options translates the loaded document into a radiod.Options, ready
// to pass to radiod.New.
func (c *Config) Options() radiod.Options {
	return radiod.Options{
		Interface:         c.Radiod.Interface,
		MaxCommandsPerSec: c.MaxCommandsPerSec,
		StageTimeout:      time.Duration(c.StageTimeoutSeconds) * time.Second,
		MaxRetries:        c.MaxRetries,
		RetryDelay:        time.Duration(c.RetryDelayMillis) * time.Millisecond,
	}
}
