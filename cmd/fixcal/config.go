package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the fixcal configuration file
// (~/.config/fixcal/config.yaml). Numeric fields are pointers so "not set"
// is distinguishable from zero values.
type Config struct {
	Device string `yaml:"device"`

	// Calibration defaults
	Iterations     *int64   `yaml:"iterations"`
	WeightBits     string   `yaml:"weight_bits"`
	ActivationBits string   `yaml:"activation_bits"`
	ScoreIndex     *int64   `yaml:"score_index"`
	AccuracyMargin *float64 `yaml:"accuracy_margin"`

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
	return filepath.Join(dir, "fixcal", "config.yaml")
}

// applyCalibrateConfig applies config file defaults to calibrate command
// variables when the corresponding CLI flag was not explicitly set.
func applyCalibrateConfig(c *cli.Command, cfg Config,
	iterations *int64, weightBits, activationBits *string,
	scoreIndex *int64, accuracyMargin *float64,
) {
	applyCommonConfig(c, cfg)
	if cfg.Iterations != nil && !c.IsSet("iterations") {
		*iterations = *cfg.Iterations
	}
	if cfg.WeightBits != "" && !c.IsSet("weight-bits") {
		*weightBits = cfg.WeightBits
	}
	if cfg.ActivationBits != "" && !c.IsSet("activation-bits") {
		*activationBits = cfg.ActivationBits
	}
	if cfg.ScoreIndex != nil && !c.IsSet("score-index") {
		*scoreIndex = *cfg.ScoreIndex
	}
	if cfg.AccuracyMargin != nil && !c.IsSet("accuracy-margin") {
		*accuracyMargin = *cfg.AccuracyMargin
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyCommonConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

func applyCommonConfig(c *cli.Command, cfg Config) {
	if cfg.Device != "" && !c.IsSet("device") {
		device = cfg.Device
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
