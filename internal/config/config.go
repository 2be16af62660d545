// Package config provides configuration loading for sentineld.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/sentineld/internal/logging"
)

// Config is the top-level daemon configuration.
type Config struct {
	Gate      GateConfig      `koanf:"gate"`
	Judge     JudgeConfig     `koanf:"judge"`
	History   HistoryConfig   `koanf:"history"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Bus       BusConfig       `koanf:"bus"`
	Logging   logging.Config  `koanf:"logging"`

	// SupervisorsPath is the YAML file holding the supervisor hierarchy.
	SupervisorsPath string `koanf:"supervisors_path"`
}

// GateConfig configures the stop-gate HTTP server.
type GateConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// MaxPortAttempts bounds the auto-increment search when the
	// configured port is already bound.
	MaxPortAttempts int `koanf:"max_port_attempts"`

	// AlertWindow is how far back an alert still counts as pending.
	AlertWindow time.Duration `koanf:"alert_window"`
}

// JudgeConfig configures the LLM rule judge.
type JudgeConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  string `koanf:"api_key"`

	// Timeout is the nominal single-call timeout. The scheduler's
	// traversal deadline is derived from it.
	Timeout           time.Duration `koanf:"timeout"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
}

// HistoryConfig configures the persisted alert history.
type HistoryConfig struct {
	Path     string `koanf:"path"`
	Capacity int    `koanf:"capacity"`
}

// SchedulerConfig configures the analysis scheduler.
type SchedulerConfig struct {
	// TimeoutMultiplier scales the judge timeout into the per-traversal
	// deadline. The traversal races N concurrent judge calls, so the
	// deadline is roughly twice a single call.
	TimeoutMultiplier float64 `koanf:"timeout_multiplier"`
}

// BusConfig configures the optional NATS event bus.
type BusConfig struct {
	URL     string `koanf:"url"`
	Enabled bool   `koanf:"enabled"`
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Gate.Port < 1 || c.Gate.Port > 65535 {
		return fmt.Errorf("gate.port must be 1-65535, got %d", c.Gate.Port)
	}
	if c.Gate.MaxPortAttempts < 1 {
		return fmt.Errorf("gate.max_port_attempts must be positive, got %d", c.Gate.MaxPortAttempts)
	}
	if c.Gate.AlertWindow <= 0 {
		return fmt.Errorf("gate.alert_window must be positive, got %s", c.Gate.AlertWindow)
	}
	if c.Judge.Timeout <= 0 {
		return fmt.Errorf("judge.timeout must be positive, got %s", c.Judge.Timeout)
	}
	if c.History.Capacity < 1 {
		return fmt.Errorf("history.capacity must be positive, got %d", c.History.Capacity)
	}
	if c.Scheduler.TimeoutMultiplier < 1 {
		return fmt.Errorf("scheduler.timeout_multiplier must be >= 1, got %g", c.Scheduler.TimeoutMultiplier)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}
