// Package config loads objectsentry's runtime configuration.
//
// The CLI surface (flags, defaults, exit codes) is the primary way the
// pipeline is configured; an optional TOML file can additionally be
// loaded to override the same fields, following the same load-or-default
// shape as the teacher's original config.Load.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds every tunable named in the pipeline's CLI surface.
type Config struct {
	Camera     CameraConfig     `toml:"camera"`
	Detection  DetectionConfig  `toml:"detection"`
	Processing ProcessingConfig `toml:"processing"`
	Streaming  StreamingConfig  `toml:"streaming"`
	Output     OutputConfig     `toml:"output"`
	Logging    LoggingConfig    `toml:"logging"`
}

// CameraConfig holds webcam capture settings.
type CameraConfig struct {
	DeviceID int `toml:"camera_id"`
	Width    int `toml:"frame_width"`
	Height   int `toml:"frame_height"`
}

// DetectionConfig holds detector-facing tunables.
type DetectionConfig struct {
	ModelPath     string   `toml:"model_path"`
	ModelType     string   `toml:"model_type"`
	ClassesPath   string   `toml:"classes_path"`
	MinConfidence float64  `toml:"min_confidence"`
	EnableGPU     bool     `toml:"enable_gpu"`
	ExtraClasses  []string `toml:"extra_classes"`
	MaxFPS        float64  `toml:"max_fps"`
	MinFPSWarning float64  `toml:"min_fps_warning"`
}

// ProcessingConfig holds Frame Processor and Orchestrator tunables.
type ProcessingConfig struct {
	Threads                  int     `toml:"processing_threads"`
	MaxQueueDepth             int     `toml:"max_queue_depth"`
	AnalysisRateLimit         float64 `toml:"analysis_rate_limit"`
	EnableBrightnessFilter    bool    `toml:"enable_brightness_filter"`
	StationaryTimeoutSeconds  int     `toml:"stationary_timeout_seconds"`
	EnableBurstMode           bool    `toml:"enable_burst_mode"`
	HeartbeatIntervalMinutes  int     `toml:"heartbeat_interval_minutes"`
	SummaryIntervalMinutes    int     `toml:"summary_interval_minutes"`
}

// StreamingConfig holds Stream Server tunables.
type StreamingConfig struct {
	Enabled bool `toml:"enable_streaming"`
	Port    int  `toml:"streaming_port"`

	// MetricsPort is where the supplemental Prometheus /metrics endpoint
	// is served, separate from the multipart-image stream port.
	MetricsPort int `toml:"metrics_port"`
}

// OutputConfig holds filesystem tunables.
type OutputConfig struct {
	Dir string `toml:"output_dir"`
}

// LoggingConfig holds log sink tunables.
type LoggingConfig struct {
	FilePath string `toml:"log_file"`
}

// Default returns the pipeline's default configuration.
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			DeviceID: 0,
			Width:    1280,
			Height:   720,
		},
		Detection: DetectionConfig{
			ModelType:     "yolo_v5_small",
			MinConfidence: 0.5,
			MaxFPS:        5.0,
			MinFPSWarning: 1.0,
		},
		Processing: ProcessingConfig{
			Threads:                  4,
			MaxQueueDepth:            10,
			AnalysisRateLimit:        5.0,
			EnableBrightnessFilter:   false,
			StationaryTimeoutSeconds: 300,
			EnableBurstMode:          true,
			HeartbeatIntervalMinutes: 10,
			SummaryIntervalMinutes:   60,
		},
		Streaming: StreamingConfig{
			Enabled:     true,
			Port:        8080,
			MetricsPort: 9090,
		},
		Output: OutputConfig{
			Dir: "detections",
		},
	}
}

// Load reads and parses an optional TOML configuration file, starting
// from Default(). A missing path (or empty path) returns the defaults
// unchanged, matching the teacher's Load behavior.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Camera.Width <= 0 {
		return fmt.Errorf("camera width must be positive, got %d", c.Camera.Width)
	}
	if c.Camera.Height <= 0 {
		return fmt.Errorf("camera height must be positive, got %d", c.Camera.Height)
	}
	if c.Processing.Threads < 1 || c.Processing.Threads > 16 {
		return fmt.Errorf("processing threads must be between 1 and 16, got %d", c.Processing.Threads)
	}
	if c.Processing.MaxQueueDepth <= 0 {
		return fmt.Errorf("max queue depth must be positive, got %d", c.Processing.MaxQueueDepth)
	}
	if c.Processing.AnalysisRateLimit <= 0 {
		return fmt.Errorf("analysis rate limit must be positive, got %f", c.Processing.AnalysisRateLimit)
	}
	if c.Streaming.Port <= 0 || c.Streaming.Port > 65535 {
		return fmt.Errorf("streaming port must be between 1 and 65535, got %d", c.Streaming.Port)
	}
	if c.Streaming.MetricsPort <= 0 || c.Streaming.MetricsPort > 65535 {
		return fmt.Errorf("metrics port must be between 1 and 65535, got %d", c.Streaming.MetricsPort)
	}
	if c.Streaming.MetricsPort == c.Streaming.Port {
		return fmt.Errorf("metrics port must differ from streaming port, got %d for both", c.Streaming.Port)
	}
	if c.Detection.MinConfidence < 0 || c.Detection.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be between 0 and 1, got %f", c.Detection.MinConfidence)
	}
	return nil
}
