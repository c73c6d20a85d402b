// Package config provides configuration loading for the NoC build broker.
//
// Configuration is read from an optional YAML file and overridden by
// BROKER_* environment variables. See LoadWithFile for precedence rules.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"time"
)

// Config holds the complete broker configuration.
type Config struct {
	Tools     ToolsConfig     `koanf:"tools"`
	Logging   LoggingConfig   `koanf:"logging"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ToolsConfig names the external executables invoked for each stage.
// Bare names are resolved through PATH.
type ToolsConfig struct {
	// ProjectManager is optional; when empty the built-in project manager is used.
	ProjectManager string `koanf:"project_manager"`
	GraphGenerator string `koanf:"graph_generator"`
	Compiler       string `koanf:"compiler"`
	DatabaseWriter string `koanf:"database_writer"`
	// WorkDir is the working directory for tool processes (default: inherited).
	WorkDir string `koanf:"work_dir"`
}

// LoggingConfig holds the user-facing logging knobs.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"`
}

// MetricsConfig controls run metrics export.
type MetricsConfig struct {
	// Textfile is a node-exporter textfile path written after every run.
	Textfile string `koanf:"textfile"`
}

// PipelineConfig holds orchestrator settings.
type PipelineConfig struct {
	// LockTimeout is how long a run waits for another run on the same project.
	// Zero fails immediately.
	LockTimeout Duration `koanf:"lock_timeout"`
}

// TelemetryConfig controls OpenTelemetry tracing of pipeline runs.
// Tracing is off unless enabled.
type TelemetryConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Endpoint string `koanf:"endpoint"`
	// Protocol is "grpc" or "http/protobuf".
	Protocol        string   `koanf:"protocol"`
	Insecure        bool     `koanf:"insecure"`
	SamplingRate    float64  `koanf:"sampling_rate"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Default tool names, matching the executables shipped with the NoC toolchain.
const (
	DefaultGraphGenerator = "Graph_verilog_generator"
	DefaultCompiler       = "Quartus_compiler"
	DefaultDatabaseWriter = "Database_writer"
)

// Default returns a configuration populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration.
//
// Returns an error if:
//   - any pipeline tool is empty
//   - the log format is not json or console
//   - telemetry is enabled with an unknown protocol or a bad sampling rate
func (c *Config) Validate() error {
	if c.Tools.GraphGenerator == "" {
		return errors.New("tools.graph_generator is required")
	}
	if c.Tools.Compiler == "" {
		return errors.New("tools.compiler is required")
	}
	if c.Tools.DatabaseWriter == "" {
		return errors.New("tools.database_writer is required")
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Telemetry.Enabled {
		switch c.Telemetry.Protocol {
		case "grpc", "http/protobuf":
		default:
			return fmt.Errorf("telemetry.protocol must be 'grpc' or 'http/protobuf', got %q", c.Telemetry.Protocol)
		}
		if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
			return fmt.Errorf("telemetry.sampling_rate must be between 0 and 1, got %v", c.Telemetry.SamplingRate)
		}
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Tools.GraphGenerator == "" {
		cfg.Tools.GraphGenerator = toolName(DefaultGraphGenerator)
	}
	if cfg.Tools.Compiler == "" {
		cfg.Tools.Compiler = toolName(DefaultCompiler)
	}
	if cfg.Tools.DatabaseWriter == "" {
		cfg.Tools.DatabaseWriter = toolName(DefaultDatabaseWriter)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SamplingRate == 0 {
		cfg.Telemetry.SamplingRate = 1.0
	}
	if cfg.Telemetry.ShutdownTimeout == 0 {
		cfg.Telemetry.ShutdownTimeout = Duration(5 * time.Second)
	}
}

func toolName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}
