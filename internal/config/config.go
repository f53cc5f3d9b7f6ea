// Package config loads the swimd daemon configuration from a TOML file,
// seeding every unset field from DefaultConfig so a partial file is valid.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// SwimSection carries the engine tunables. A blank or malformed duration
// falls back to the default the caller passes to ParseDuration; a zero
// SubgroupSize or PiggybackTxMax is passed through, and swim.New resolves it
// as it resolves any zero swim.Config field.
type SwimSection struct {
	Period         string `toml:"period"`
	PingTimeout    string `toml:"ping_timeout"`
	SuspectTimeout string `toml:"suspect_timeout"`
	SubgroupSize   int    `toml:"subgroup_size"`
	PiggybackTxMax int    `toml:"piggyback_tx_max"`
}

// TransportSection configures the reference UDP host.
type TransportSection struct {
	BindAddr string   `toml:"bind_addr"`
	Seeds    []string `toml:"seeds"`
}

// APISection configures the debug/admin HTTP surface.
type APISection struct {
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	EnableMetrics bool   `toml:"enable_metrics"`
}

// StoreSection configures the incarnation-persistence database.
type StoreSection struct {
	Path string `toml:"path"`
}

// Config is the top-level swimd configuration document.
type Config struct {
	Self      uint64           `toml:"self"`
	Swim      SwimSection      `toml:"swim"`
	Transport TransportSection `toml:"transport"`
	API       APISection       `toml:"api"`
	Store     StoreSection     `toml:"store"`
}

// DefaultConfig returns conservative defaults, matching the engine's own
// package-level constants wherever the two overlap.
func DefaultConfig() Config {
	return Config{
		Swim: SwimSection{
			Period:         "1s",
			PingTimeout:    "900ms",
			SuspectTimeout: "20s",
			SubgroupSize:   2,
			PiggybackTxMax: 50,
		},
		Transport: TransportSection{
			BindAddr: "0.0.0.0:7946",
		},
		API: APISection{
			Host:          "127.0.0.1",
			Port:          7947,
			EnableMetrics: true,
		},
		Store: StoreSection{
			Path: "swimd.db",
		},
	}
}

// Load reads and parses a TOML config file, seeding fields that are blank in
// the file from DefaultConfig so a partial config file is valid.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// ParseDuration parses one of the Swim section's string durations, falling
// back to def on an empty or malformed value.
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
