// Package config defines Agio's runtime Configuration and its YAML/env
// loading for the CLI front-end. The engine packages (run, tool, event)
// consume only the plain Go struct; disk I/O and hot-reload live here
// and in cmd/agio, never inside an engine package.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/agio-run/agio/pkg/tool"
)

// CheckpointStrategy selects when the Checkpoint & Fork component
// should snapshot a run automatically, on top of explicit manual calls.
type CheckpointStrategy string

const (
	CheckpointManual      CheckpointStrategy = "manual"
	CheckpointEveryStep   CheckpointStrategy = "every_step"
	CheckpointOnToolCall  CheckpointStrategy = "on_tool_call"
	CheckpointOnError     CheckpointStrategy = "on_error"
	CheckpointCustom      CheckpointStrategy = "custom"
)

// Config is the enumerated configuration surface (spec 6).
type Config struct {
	MaxSteps             int                `yaml:"max_steps"`
	ParallelToolCalls     bool               `yaml:"parallel_tool_calls"`
	MaxParallelToolCalls int                `yaml:"max_parallel_tool_calls"`
	TimeoutPerToolMS     int64              `yaml:"timeout_per_tool_ms"`
	TimeoutPerStepMS     int64              `yaml:"timeout_per_step_ms"`
	TimeoutPerRunMS      *int64             `yaml:"timeout_per_run_ms,omitempty"`
	Stream               bool               `yaml:"stream"`
	CheckpointStrategy   CheckpointStrategy `yaml:"checkpoint_strategy"`
	EventQueueSize       int                `yaml:"event_queue_size"`
	MaxRetries           int                `yaml:"max_retries"`
}

// Default returns the documented defaults (spec 6).
func Default() Config {
	return Config{
		MaxSteps:             30,
		ParallelToolCalls:    true,
		MaxParallelToolCalls: 8,
		TimeoutPerToolMS:     60000,
		TimeoutPerStepMS:     120000,
		TimeoutPerRunMS:      nil,
		Stream:               true,
		CheckpointStrategy:   CheckpointManual,
		EventQueueSize:       1024,
		MaxRetries:           0,
	}
}

// Validate rejects configuration values that would violate §5's
// resource-limit assumptions before a run ever starts.
func (c Config) Validate() error {
	if c.MaxSteps <= 0 {
		return fmt.Errorf("config: max_steps must be positive, got %d", c.MaxSteps)
	}
	if c.MaxParallelToolCalls <= 0 {
		return fmt.Errorf("config: max_parallel_tool_calls must be positive, got %d", c.MaxParallelToolCalls)
	}
	if c.EventQueueSize <= 0 {
		return fmt.Errorf("config: event_queue_size must be positive, got %d", c.EventQueueSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: max_retries must be non-negative, got %d", c.MaxRetries)
	}
	switch c.CheckpointStrategy {
	case CheckpointManual, CheckpointEveryStep, CheckpointOnToolCall, CheckpointOnError, CheckpointCustom:
	default:
		return fmt.Errorf("config: unknown checkpoint_strategy %q", c.CheckpointStrategy)
	}
	return nil
}

// TimeoutPerStep converts TimeoutPerStepMS to a time.Duration.
func (c Config) TimeoutPerStep() time.Duration {
	return time.Duration(c.TimeoutPerStepMS) * time.Millisecond
}

// TimeoutPerTool converts TimeoutPerToolMS to a time.Duration.
func (c Config) TimeoutPerTool() time.Duration {
	return time.Duration(c.TimeoutPerToolMS) * time.Millisecond
}

// TimeoutPerRun converts TimeoutPerRunMS to a time.Duration, returning 0
// (no limit) when unset.
func (c Config) TimeoutPerRun() time.Duration {
	if c.TimeoutPerRunMS == nil {
		return 0
	}
	return time.Duration(*c.TimeoutPerRunMS) * time.Millisecond
}

// Dispatch converts Config's tool-dispatch fields to a tool.DispatchConfig.
func (c Config) Dispatch() tool.DispatchConfig {
	return tool.DispatchConfig{
		ParallelToolCalls:    c.ParallelToolCalls,
		MaxParallelToolCalls: int64(c.MaxParallelToolCalls),
		TimeoutPerTool:       c.TimeoutPerTool(),
	}
}

// LoadYAML reads and parses a YAML configuration file, starting from
// Default() so an omitted field keeps its documented default.
func LoadYAML(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadEnvFiles loads .env.local then .env into the process environment,
// ignoring a missing file but propagating any other read error.
func LoadEnvFiles() error {
	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(name); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("config: load %s: %w", name, err)
		}
	}
	return nil
}

// ProviderAPIKey reads the conventional environment variable for a
// named LLM provider.
func ProviderAPIKey(provider string) string {
	switch provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	default:
		return ""
	}
}
