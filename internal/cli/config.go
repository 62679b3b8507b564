package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/ChuLiYu/stress-lab/internal/controller"
	"github.com/ChuLiYu/stress-lab/internal/tasks"
	"gopkg.in/yaml.v3"
)

// Config represents the complete system configuration structure
// Maps config file fields through YAML tags
type Config struct {
	Scheduler struct {
		WorkerCount int `yaml:"worker_count"`
		BufferSize  int `yaml:"buffer_size"`
	} `yaml:"scheduler"`

	Monitor struct {
		UniqueName string        `yaml:"unique_name"`
		Interval   time.Duration `yaml:"interval"`
	} `yaml:"monitor"`

	Timer struct {
		DefaultMinutes int           `yaml:"default_minutes"`
		DefaultTitle   string        `yaml:"default_title"`
		Tick           time.Duration `yaml:"tick"`
	} `yaml:"timer"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Health struct {
		Enabled       bool          `yaml:"enabled"`
		Port          int           `yaml:"port"`
		ProbeInterval time.Duration `yaml:"probe_interval"`
	} `yaml:"health"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// DefaultConfig returns the configuration used when no file is present
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Scheduler.WorkerCount = 4
	cfg.Scheduler.BufferSize = 16
	cfg.Monitor.UniqueName = controller.DefaultMonitorName
	cfg.Monitor.Interval = controller.DefaultMonitorInterval
	cfg.Timer.DefaultMinutes = controller.DefaultDuration
	cfg.Timer.DefaultTitle = tasks.DefaultTimerTitle
	cfg.Timer.Tick = time.Second
	cfg.Metrics.Port = 9090
	cfg.Health.Port = 50051
	cfg.Health.ProbeInterval = time.Second
	cfg.Log.Level = "info"
	return cfg
}

// Validate rejects configurations the system cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Scheduler.WorkerCount <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.worker_count must be positive, got %d", c.Scheduler.WorkerCount))
	}
	if c.Scheduler.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.buffer_size must be positive, got %d", c.Scheduler.BufferSize))
	}
	if c.Monitor.UniqueName == "" {
		errs = append(errs, errors.New("monitor.unique_name is required"))
	}
	if c.Monitor.Interval <= 0 {
		errs = append(errs, fmt.Errorf("monitor.interval must be positive, got %s", c.Monitor.Interval))
	}
	if !slices.Contains(controller.DurationChoices, c.Timer.DefaultMinutes) {
		errs = append(errs, fmt.Errorf("timer.default_minutes must be one of %v, got %d", controller.DurationChoices, c.Timer.DefaultMinutes))
	}
	if c.Timer.Tick <= 0 {
		errs = append(errs, fmt.Errorf("timer.tick must be positive, got %s", c.Timer.Tick))
	}
	if c.Metrics.Enabled && !validPort(c.Metrics.Port) {
		errs = append(errs, fmt.Errorf("metrics.port out of range: %d", c.Metrics.Port))
	}
	if c.Health.Enabled && !validPort(c.Health.Port) {
		errs = append(errs, fmt.Errorf("health.port out of range: %d", c.Health.Port))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

// parseLevel maps debug|info|warn|error to a slog level
func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("log.level: unknown level %q", s)
	}
	return level, nil
}

// loadConfig reads path over the defaults. A missing file yields the defaults.
func loadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Config file not found, using defaults", "path", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
