package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds the application configuration.
type Config struct {
	Inference InferenceConfig `json:"inference"`
	Render    RenderConfig    `json:"render"`
	Batch     BatchConfig     `json:"batch"`
	Logging   LoggingConfig   `json:"logging"`
}

// InferenceConfig holds settings for the vision-model backend.
type InferenceConfig struct {
	Backend     string `json:"backend"` // ollama or llamacpp
	ServerURL   string `json:"server_url"`
	Model       string `json:"model"`
	SendFormat  string `json:"send_format"`   // jpg or png
	SendMaxDim  int    `json:"send_max_dim"`  // max long side sent to the model, 0=original
	SendQuality int    `json:"send_quality"`  // JPEG quality for the model image
}

// RenderConfig holds settings for annotated image output.
type RenderConfig struct {
	Format   string `json:"format"` // jpg, png or webp
	Quality  int    `json:"quality"`
	Lossless bool   `json:"lossless"`
	Numbered bool   `json:"numbered"`
}

// BatchConfig holds settings for batch runs.
type BatchConfig struct {
	OutputDir     string `json:"output_dir"`
	Workers       int    `json:"workers"`
	RetryAttempts int    `json:"retry_attempts"`
	RetryBackoffMS int   `json:"retry_backoff_ms"`
}

// LoggingConfig holds settings for structured logging.
type LoggingConfig struct {
	Level string `json:"level"`
	File  string `json:"file,omitempty"` // rotating log file, empty = stderr only
}

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		Inference: InferenceConfig{
			Backend:     "ollama",
			ServerURL:   "http://localhost:11434",
			Model:       "qwen2.5vl:latest",
			SendFormat:  "jpg",
			SendMaxDim:  1536,
			SendQuality: 85,
		},
		Render: RenderConfig{
			Format:   "jpg",
			Quality:  95,
			Numbered: true,
		},
		Batch: BatchConfig{
			OutputDir:      "results",
			Workers:        1,
			RetryAttempts:  2,
			RetryBackoffMS: 2000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromFile loads configuration from a JSON file.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// SaveToFile saves configuration to a JSON file.
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Inference.Backend != "ollama" && c.Inference.Backend != "llamacpp" {
		return fmt.Errorf("inference.backend must be ollama or llamacpp")
	}
	if c.Inference.SendQuality < 1 || c.Inference.SendQuality > 100 {
		return fmt.Errorf("inference.send_quality must be between 1 and 100")
	}
	if c.Inference.SendMaxDim < 0 {
		return fmt.Errorf("inference.send_max_dim must not be negative")
	}
	if c.Render.Quality < 1 || c.Render.Quality > 100 {
		return fmt.Errorf("render.quality must be between 1 and 100")
	}
	switch c.Render.Format {
	case "jpg", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("render.format must be jpg, png or webp")
	}
	if c.Batch.Workers < 1 {
		return fmt.Errorf("batch.workers must be positive")
	}
	if c.Batch.RetryAttempts < 0 {
		return fmt.Errorf("batch.retry_attempts must not be negative")
	}
	return nil
}

// GetConfigPath returns the default configuration file path.
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "drone-annotator", "config.json")
}
