package main

import (
	"fmt"
	"os"

	"example.com/vrtgate/internal/common"
)

type rulesConfig struct {
	Repository string `yaml:"repository"`
	RulePack   string `yaml:"rulepack"`
	Path       string `yaml:"path"`
	Profile    string `yaml:"profile"`
}

type config struct {
	Logs              common.LogConfig `yaml:"logs"`
	Rules             rulesConfig      `yaml:"rules"`
	IncludeTimestamps *bool            `yaml:"includeTimestamps"`
	MetricsTextfile   string           `yaml:"metricsTextfile"`
	CapturePort       uint16           `yaml:"capturePort"`
	SpectrumWindow    string           `yaml:"spectrumWindow"`
}

func defaultConfig() config {
	return config{
		Rules:          rulesConfig{Profile: "vita49.2"},
		SpectrumWindow: "hann",
	}
}

// loadConfig reads the YAML file at path over the defaults. An empty path
// yields the defaults.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if err := common.DecodeYAMLFile(path, &cfg); err != nil {
		return cfg, err
	}
	resolve := common.PathResolver(path)
	cfg.Logs.Directory = resolve(cfg.Logs.Directory)
	cfg.Rules.Repository = resolve(cfg.Rules.Repository)
	cfg.Rules.Path = resolve(cfg.Rules.Path)
	cfg.MetricsTextfile = resolve(cfg.MetricsTextfile)
	if cfg.Rules.Profile == "" {
		cfg.Rules.Profile = "vita49.2"
	}
	if cfg.SpectrumWindow == "" {
		cfg.SpectrumWindow = "hann"
	}
	cfg.Logs.ApplyDefaults()
	return cfg, nil
}

// setupLogging adds a rotating log file when a log directory is configured.
func setupLogging(cfg config) error {
	if cfg.Logs.Directory == "" {
		return nil
	}
	_, err := common.OpenRotatingLog(cfg.Logs, "vrtctl.log", os.Stderr)
	return err
}

// mustSetup loads the configuration named by a --config flag and applies
// its logging settings.
func mustSetup(path string) config {
	cfg, err := loadConfig(path)
	if err != nil {
		fmt.Println("load config:", err)
		os.Exit(1)
	}
	if err := setupLogging(cfg); err != nil {
		fmt.Println("setup logging:", err)
		os.Exit(1)
	}
	return cfg
}
