// Package config loads the TOML configuration consumed by the CLI: which
// device files to probe and how the serial link is tuned.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DiscoverConfig is the top-level CLI configuration.
type DiscoverConfig struct {
	// DevicePaths lists candidate device files; empty selects the built-in
	// /dev/ttyACM0..9 default.
	DevicePaths []string `toml:"device_paths"`
	BaudRate    int      `toml:"baud_rate"`
	// ReadTimeoutMS bounds one command response.
	ReadTimeoutMS int `toml:"read_timeout_ms"`
	// PollTimeoutMS bounds one idle listener poll.
	PollTimeoutMS int    `toml:"poll_timeout_ms"`
	LogLevel      string `toml:"log_level"`
}

func Default() DiscoverConfig {
	return DiscoverConfig{
		BaudRate:      19200,
		ReadTimeoutMS: 1000,
		PollTimeoutMS: 100,
	}
}

// Load reads and validates a TOML config file, filling defaults for fields
// the file leaves out.
func Load(path string) (DiscoverConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return DiscoverConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return DiscoverConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return DiscoverConfig{}, err
	}
	return cfg, nil
}

func Validate(cfg DiscoverConfig) error {
	if cfg.BaudRate <= 0 {
		return fmt.Errorf("config baud_rate must be positive")
	}
	if cfg.ReadTimeoutMS <= 0 {
		return fmt.Errorf("config read_timeout_ms must be positive")
	}
	if cfg.PollTimeoutMS <= 0 {
		return fmt.Errorf("config poll_timeout_ms must be positive")
	}
	if cfg.PollTimeoutMS > cfg.ReadTimeoutMS {
		return fmt.Errorf("config poll_timeout_ms must not exceed read_timeout_ms")
	}
	for i, path := range cfg.DevicePaths {
		if strings.TrimSpace(path) == "" {
			return fmt.Errorf("config device_paths[%d] is empty", i)
		}
	}
	return nil
}

// ReadTimeout returns the response bound as a duration.
func (c DiscoverConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMS) * time.Millisecond
}

// PollTimeout returns the idle poll bound as a duration.
func (c DiscoverConfig) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutMS) * time.Millisecond
}
