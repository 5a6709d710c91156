// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
// Package config loads the YAML configuration of the command line tools.
package config

import (
	"nvmesntl/pkg/sntl"
	"nvmesntl/pkg/transport/simulated"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Timeout is in seconds
	Timeout           int       `yaml:"timeout"`
	SenseLength       int       `yaml:"sense_length"`
	MaxOpenDevices    int       `yaml:"max_open_devices"`
	DenseSense        bool      `yaml:"dense_sense"`
	EnclosureOverride string    `yaml:"enclosure_override,omitempty"`
	LogLevel          string    `yaml:"log_level,omitempty"`
	Journal           string    `yaml:"journal,omitempty"`
	Simulated         Simulated `yaml:"simulated"`
}

// Simulated describes the device opened by "sim:" paths.
type Simulated struct {
	Model       string `yaml:"model,omitempty"`
	Serial      string `yaml:"serial,omitempty"`
	Firmware    string `yaml:"firmware,omitempty"`
	Namespaces  uint32 `yaml:"namespaces"`
	Blocks      uint64 `yaml:"blocks"`
	Lbads       byte   `yaml:"lbads"`
	Nvmsr       byte   `yaml:"nvmsr"`
	PowerStates byte   `yaml:"power_states"`
	WriteCache  bool   `yaml:"write_cache"`
	BackingFile string `yaml:"backing_file,omitempty"`
}

var defaultConfig = Config{
	Timeout:        60,
	SenseLength:    64,
	MaxOpenDevices: 64,
	LogLevel:       "warning",
	Simulated: Simulated{
		Namespaces:  1,
		Blocks:      simulated.DefaultBlocks,
		Lbads:       simulated.DefaultLbads,
		PowerStates: 4,
		WriteCache:  true,
	},
}

// Default returns the built-in configuration.
func Default() *Config {
	config := defaultConfig
	return &config
}

func candidatePaths() []string {
	var candidates []string
	if home := os.Getenv("XDG_CONFIG_HOME"); home != "" {
		candidates = append(candidates, filepath.Join(home, "nvmesntl", "config.yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "nvmesntl", "config.yaml"))
	}
	return append(candidates, "/etc/nvmesntl/config.yaml")
}

// Load reads path, or the first existing default location when path is
// empty. Missing keys keep their defaults; no file at all is not an
// error unless path was given explicitly.
func Load(path string) (*Config, error) {
	if path == "" {
		for _, candidate := range candidatePaths() {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	config := Default()
	if path == "" {
		return config, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if err := config.validate(); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return config, nil
}

func (config *Config) validate() error {
	if config.Timeout <= 0 {
		return errors.Errorf("timeout must be positive, got %d", config.Timeout)
	}
	if config.SenseLength < 0 || config.SenseLength > 252 {
		return errors.Errorf("sense_length %d outside 0..252", config.SenseLength)
	}
	if config.MaxOpenDevices <= 0 {
		return errors.Errorf("max_open_devices must be positive, got %d", config.MaxOpenDevices)
	}
	if _, err := config.Override(); err != nil {
		return err
	}
	return nil
}

func (config *Config) CommandTimeout() time.Duration {
	return time.Duration(config.Timeout) * time.Second
}

// Override parses enclosure_override; empty means none.
func (config *Config) Override() (sntl.EnclosureOverride, error) {
	if config.EnclosureOverride == "" {
		return sntl.OverrideNone, nil
	}
	return sntl.ParseEnclosureOverride(config.EnclosureOverride)
}

// SimulatedConfig converts the simulated block for the controller.
func (config *Config) SimulatedConfig() simulated.Config {
	return simulated.Config{
		Model:              config.Simulated.Model,
		Serial:             config.Simulated.Serial,
		Firmware:           config.Simulated.Firmware,
		Namespaces:         config.Simulated.Namespaces,
		Blocks:             config.Simulated.Blocks,
		Lbads:              config.Simulated.Lbads,
		SubsystemReport:    config.Simulated.Nvmsr,
		PowerStates:        config.Simulated.PowerStates,
		VolatileWriteCache: config.Simulated.WriteCache,
		BackingFile:        config.Simulated.BackingFile,
	}
}
