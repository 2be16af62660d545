package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	envPrefix = "SENTINELD_"
)

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SENTINELD_GATE_PORT, SENTINELD_JUDGE_MODEL, ...)
//  2. YAML config file (~/.config/sentineld/config.yaml)
//  3. Hardcoded defaults
//
// The configPath parameter specifies the YAML file to load. If empty, the
// default path is used. A missing file is not an error; defaults apply.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "sentineld", "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate through the descriptor to avoid a
		// TOCTOU race between stat and read.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Environment variables use underscore separator and are uppercased.
	// SENTINELD_GATE_PORT -> gate.port, SENTINELD_JUDGE_BASE_URL -> judge.base_url
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		// section.field_name: split on the first underscore only, keep
		// the remaining underscores inside the field name.
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Gate.Host == "" {
		cfg.Gate.Host = "127.0.0.1"
	}
	if cfg.Gate.Port == 0 {
		cfg.Gate.Port = 18899
	}
	if cfg.Gate.MaxPortAttempts == 0 {
		cfg.Gate.MaxPortAttempts = 10
	}
	if cfg.Gate.AlertWindow == 0 {
		cfg.Gate.AlertWindow = 5 * time.Minute
	}

	if cfg.Judge.BaseURL == "" {
		cfg.Judge.BaseURL = "http://localhost:11434/v1"
	}
	if cfg.Judge.Model == "" {
		cfg.Judge.Model = "gpt-4o-mini"
	}
	if cfg.Judge.Timeout == 0 {
		cfg.Judge.Timeout = 15 * time.Second
	}
	if cfg.Judge.RequestsPerSecond == 0 {
		cfg.Judge.RequestsPerSecond = 5
	}

	if cfg.History.Path == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.History.Path = filepath.Join(home, ".config", "sentineld", "alert_history.json")
		}
	}
	if cfg.History.Capacity == 0 {
		cfg.History.Capacity = 100
	}

	if cfg.Scheduler.TimeoutMultiplier == 0 {
		cfg.Scheduler.TimeoutMultiplier = 2
	}

	if cfg.Bus.URL == "" {
		cfg.Bus.URL = "nats://localhost:4222"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if len(cfg.Logging.OutputPaths) == 0 {
		cfg.Logging.OutputPaths = []string{"stderr"}
	}
}
