package vision

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/thyrook/fenvision/internal/geometry"
)

// Backend names accepted by Config.Backend.
const (
	BackendNative = "native"
	BackendOpenCV = "opencv"
)

// DefaultOutputSize is the side of the canonical raster in pixels.
const DefaultOutputSize = 800

// Config holds normalization settings
type Config struct {
	OutputSize    int     `json:"output_size" yaml:"output_size"`       // Side of the canonical raster, multiple of 8
	Backend       string  `json:"backend" yaml:"backend"`               // "native" or "opencv"
	StrictCorners bool    `json:"strict_corners" yaml:"strict_corners"` // Reject non-clockwise or non-convex corners
	MaxCondition  float64 `json:"max_condition" yaml:"max_condition"`   // Upper bound on the transform condition number
}

// DefaultConfig returns default vision configuration
func DefaultConfig() *Config {
	return &Config{
		OutputSize:    DefaultOutputSize,
		Backend:       BackendNative,
		StrictCorners: true,
		MaxCondition:  geometry.DefaultMaxCondition,
	}
}

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// LoadConfig loads configuration from a JSON file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// SaveConfig saves configuration to a JSON file
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validateSize(c.OutputSize); err != nil {
		return err
	}

	switch c.Backend {
	case BackendNative, BackendOpenCV:
	default:
		return &ConfigError{Field: "backend", Value: c.Backend, Reason: "must be native or opencv"}
	}

	if c.MaxCondition <= 1 {
		return &ConfigError{Field: "max condition", Value: c.MaxCondition, Reason: "must be greater than 1"}
	}

	return nil
}

func validateSize(size int) error {
	if size < 8 || size > 8192 {
		return &ConfigError{Field: "output size", Value: size, Reason: "must be 8-8192"}
	}
	if size%8 != 0 {
		return &ConfigError{Field: "output size", Value: size, Reason: "must be a multiple of 8"}
	}
	return nil
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(
		"Vision Config:\n"+
			"  Output Size: %dx%d\n"+
			"  Square Size: %dpx\n"+
			"  Backend: %s\n"+
			"  Strict Corners: %v\n"+
			"  Max Condition: %.3g\n",
		c.OutputSize, c.OutputSize,
		c.OutputSize/8,
		c.Backend,
		c.StrictCorners,
		c.MaxCondition,
	)
}
