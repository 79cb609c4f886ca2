// Package config loads the optional JSON capture configuration. All fields
// are pointers so a partial file only overrides the values it names.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/laptrace/internal/units"
)

// CaptureConfig represents the root configuration for the capture service.
type CaptureConfig struct {
	// Capture params
	PollRateHz *int `json:"poll_rate_hz,omitempty"`

	// Storage and export paths
	DataDir   *string `json:"data_dir,omitempty"`
	ExportDir *string `json:"export_dir,omitempty"`

	// HTTP params
	Listen *string `json:"listen,omitempty"`

	// Display params
	DisplayUnits *string `json:"display_units,omitempty"`
}

// EmptyCaptureConfig returns a CaptureConfig with all fields set to nil.
func EmptyCaptureConfig() *CaptureConfig {
	return &CaptureConfig{}
}

// LoadCaptureConfig loads a CaptureConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadCaptureConfig(path string) (*CaptureConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyCaptureConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *CaptureConfig) Validate() error {
	if c.PollRateHz != nil {
		if *c.PollRateHz < 1 || *c.PollRateHz > 360 {
			return fmt.Errorf("poll_rate_hz must be between 1 and 360, got %d", *c.PollRateHz)
		}
	}

	if c.DisplayUnits != nil && !units.IsValid(*c.DisplayUnits) {
		return fmt.Errorf("display_units must be one of %s, got %q", units.ValidUnitsString(), *c.DisplayUnits)
	}

	return nil
}

// GetPollRateHz returns the poll_rate_hz value or the default.
func (c *CaptureConfig) GetPollRateHz() int {
	if c.PollRateHz == nil {
		return 60 // default
	}
	return *c.PollRateHz
}

// GetDataDir returns the data_dir value or the default.
func (c *CaptureConfig) GetDataDir() string {
	if c.DataDir == nil || *c.DataDir == "" {
		return filepath.Join("data", "sessions")
	}
	return *c.DataDir
}

// GetExportDir returns the export_dir value or the default.
func (c *CaptureConfig) GetExportDir() string {
	if c.ExportDir == nil || *c.ExportDir == "" {
		return "exports"
	}
	return *c.ExportDir
}

// GetListen returns the listen address or the default.
func (c *CaptureConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return ":8080"
	}
	return *c.Listen
}

// GetDisplayUnits returns the display_units value or the default.
func (c *CaptureConfig) GetDisplayUnits() string {
	if c.DisplayUnits == nil || *c.DisplayUnits == "" {
		return units.MPH
	}
	return *c.DisplayUnits
}
