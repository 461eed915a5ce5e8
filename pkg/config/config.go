// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mbeema/nethook/pkg/netevent"
)

// Config is the top-level configuration for the nethook daemon.
type Config struct {
	ServiceName string          `yaml:"service_name" env:"NETHOOK_SERVICE_NAME"`
	LogLevel    string          `yaml:"log_level" env:"NETHOOK_LOG_LEVEL"`
	Pipeline    PipelineConfig  `yaml:"pipeline"`
	Capture     CaptureConfig   `yaml:"capture"`
	Work        WorkConfig      `yaml:"work"`
	Exporters   ExportersConfig `yaml:"exporters"`
	Health      HealthConfig    `yaml:"health"`
}

// PipelineConfig configures the event sources feeding the hook point.
type PipelineConfig struct {
	Simulator SimulatorConfig `yaml:"simulator"`
}

// SimulatorConfig configures the synthetic traffic generator.
type SimulatorConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// CaptureConfig configures the built-in capture client and its ring.
type CaptureConfig struct {
	Enabled     bool   `yaml:"enabled"`
	CaptureType string `yaml:"capture_type"` // "all", "flow", "drop", "none"
	RingSize    int    `yaml:"ring_size"`
	ControlDir  string `yaml:"control_dir"`
	OnDemand    bool   `yaml:"on_demand"` // Start dormant; activate via the control file
}

// WorkConfig sizes the deferred work queue that runs detach drains.
type WorkConfig struct {
	Workers    int `yaml:"workers"`
	QueueDepth int `yaml:"queue_depth"`
}

type ExportersConfig struct {
	OTLP          OTLPConfig    `yaml:"otlp"`
	Stdout        StdoutConfig  `yaml:"stdout"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type OTLPConfig struct {
	Enabled  bool              `yaml:"enabled"`
	Endpoint string            `yaml:"endpoint"`
	Insecure bool              `yaml:"insecure"`
	Headers  map[string]string `yaml:"headers"`
}

type StdoutConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"` // "text" or "json"
}

// HealthConfig configures the health HTTP server.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port" env:"NETHOOK_HEALTH_PORT"` // e.g. ":8686"
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName: "nethook",
		LogLevel:    "info",
		Pipeline: PipelineConfig{
			Simulator: SimulatorConfig{
				Enabled:  true,
				Interval: time.Second,
			},
		},
		Capture: CaptureConfig{
			Enabled:     true,
			CaptureType: "all",
			RingSize:    4096,
			ControlDir:  "/var/run/nethook",
			OnDemand:    false,
		},
		Work: WorkConfig{
			Workers:    2,
			QueueDepth: 64,
		},
		Exporters: ExportersConfig{
			OTLP: OTLPConfig{
				Enabled:  false,
				Endpoint: "localhost:4317",
				Insecure: true,
			},
			Stdout: StdoutConfig{
				Enabled: true,
				Format:  "text",
			},
			BatchSize:     128,
			FlushInterval: 5 * time.Second,
		},
		Health: HealthConfig{
			Enabled: true,
			Port:    ":8686",
		},
	}
}

// LoadDir loads concern-specific YAML files from a directory and merges
// them into a single Config. Expected files:
//   - base.yaml    → service_name, log_level, work, health
//   - pipeline.yaml → pipeline
//   - capture.yaml → capture
//   - export.yaml  → exporters
//
// Missing files are silently ignored (defaults apply).
func LoadDir(dir string) (*Config, error) {
	cfg := DefaultConfig()

	if err := loadFileInto(filepath.Join(dir, "base.yaml"), cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load base.yaml: %w", err)
	}

	overlays := []string{"pipeline.yaml", "capture.yaml", "export.yaml"}
	for _, f := range overlays {
		if err := loadFileInto(filepath.Join(dir, f), cfg); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// loadFileInto reads a YAML file and unmarshals it into an existing Config,
// overwriting only the fields present in the file.
func loadFileInto(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// ApplyEnvOverrides reads NETHOOK_* environment variables and applies
// them to the config, overriding YAML values.
func (c *Config) ApplyEnvOverrides() {
	envOverrides := map[string]func(string){
		"NETHOOK_SERVICE_NAME":           func(v string) { c.ServiceName = v },
		"NETHOOK_LOG_LEVEL":              func(v string) { c.LogLevel = v },
		"NETHOOK_HEALTH_PORT":            func(v string) { c.Health.Port = v },
		"NETHOOK_CAPTURE_TYPE":           func(v string) { c.Capture.CaptureType = v },
		"NETHOOK_CAPTURE_CONTROL_DIR":    func(v string) { c.Capture.ControlDir = v },
		"NETHOOK_EXPORTERS_OTLP_ENDPOINT": func(v string) { c.Exporters.OTLP.Endpoint = v },
	}

	boolOverrides := map[string]*bool{
		"NETHOOK_SIMULATOR_ENABLED":       &c.Pipeline.Simulator.Enabled,
		"NETHOOK_CAPTURE_ENABLED":         &c.Capture.Enabled,
		"NETHOOK_HEALTH_ENABLED":          &c.Health.Enabled,
		"NETHOOK_EXPORTERS_OTLP_ENABLED":  &c.Exporters.OTLP.Enabled,
		"NETHOOK_EXPORTERS_STDOUT_ENABLED": &c.Exporters.Stdout.Enabled,
	}

	for envKey, setter := range envOverrides {
		if val := os.Getenv(envKey); val != "" {
			setter(val)
		}
	}

	for envKey, target := range boolOverrides {
		if val := os.Getenv(envKey); val != "" {
			*target = parseBool(val)
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Capture.Enabled {
		if _, err := netevent.ParseCaptureType(c.Capture.CaptureType); err != nil {
			return fmt.Errorf("capture.capture_type: %w", err)
		}
		if c.Capture.RingSize <= 0 {
			return fmt.Errorf("capture.ring_size must be positive")
		}
		if c.Capture.ControlDir == "" {
			return fmt.Errorf("capture.control_dir is required when capture is enabled")
		}
	}

	if c.Pipeline.Simulator.Enabled && c.Pipeline.Simulator.Interval < time.Millisecond {
		return fmt.Errorf("pipeline.simulator.interval must be at least 1ms")
	}

	if c.Work.Workers < 1 {
		return fmt.Errorf("work.workers must be at least 1")
	}

	if c.Exporters.OTLP.Enabled && c.Exporters.OTLP.Endpoint == "" {
		return fmt.Errorf("exporters.otlp.endpoint is required when OTLP is enabled")
	}
	if c.Exporters.Stdout.Enabled && c.Exporters.Stdout.Format != "text" && c.Exporters.Stdout.Format != "json" {
		return fmt.Errorf("exporters.stdout.format must be 'text' or 'json'")
	}
	if c.Exporters.BatchSize <= 0 {
		return fmt.Errorf("exporters.batch_size must be positive")
	}
	if c.Exporters.FlushInterval < 100*time.Millisecond {
		return fmt.Errorf("exporters.flush_interval must be at least 100ms")
	}

	return nil
}
