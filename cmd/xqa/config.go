package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/xqa/internal/xqa"
)

// Config represents the xqa configuration file (~/.config/xqa/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	Driver   string `yaml:"driver"`
	Device   *int64 `yaml:"device"`
	CubinDir string `yaml:"cubin_dir"`

	// Dispatcher tuning
	ForceXQA          *bool `yaml:"force_xqa"`
	NbCtaPerKVHead    *int  `yaml:"nb_cta_per_kv_head"`
	MaxNbCtaPerKVHead *int  `yaml:"max_nb_cta_per_kv_head"`
	MaxDevices        *int  `yaml:"max_devices"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "xqa", "config.yaml")
}

// LoadConfig reads the config file at path, or the default location when
// path is empty. A missing default file yields a zero Config.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = configPath()
	}
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyConfig applies config file defaults to the common flag variables
// when the corresponding flag was not explicitly set.
func applyConfig(c *cli.Command, cfg Config) {
	if cfg.Driver != "" && !c.IsSet("driver") {
		driverName = cfg.Driver
	}
	if cfg.Device != nil && !c.IsSet("device") {
		deviceID = *cfg.Device
	}
	if cfg.CubinDir != "" && !c.IsSet("cubin-dir") {
		cubinDir = cfg.CubinDir
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// dispatchOptions layers the environment over the config file.
func dispatchOptions(cfg Config) (xqa.Options, error) {
	opts := xqa.DefaultOptions()
	if cfg.ForceXQA != nil {
		opts.ForceXQA = *cfg.ForceXQA
	}
	if cfg.NbCtaPerKVHead != nil {
		opts.NbCtaPerKVHead = *cfg.NbCtaPerKVHead
	}
	if cfg.MaxNbCtaPerKVHead != nil {
		opts.MaxNbCtaPerKVHead = *cfg.MaxNbCtaPerKVHead
	}
	if cfg.MaxDevices != nil {
		opts.MaxDevices = *cfg.MaxDevices
	}
	return opts.ApplyEnv()
}
