package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEmptyCaptureConfigDefaults(t *testing.T) {
	cfg := EmptyCaptureConfig()

	if cfg.GetPollRateHz() != 60 {
		t.Errorf("GetPollRateHz() = %d, want 60", cfg.GetPollRateHz())
	}
	if cfg.GetDataDir() != filepath.Join("data", "sessions") {
		t.Errorf("GetDataDir() = %q, want data/sessions", cfg.GetDataDir())
	}
	if cfg.GetExportDir() != "exports" {
		t.Errorf("GetExportDir() = %q, want exports", cfg.GetExportDir())
	}
	if cfg.GetListen() != ":8080" {
		t.Errorf("GetListen() = %q, want :8080", cfg.GetListen())
	}
	if cfg.GetDisplayUnits() != "mph" {
		t.Errorf("GetDisplayUnits() = %q, want mph", cfg.GetDisplayUnits())
	}
}

func TestLoadCaptureConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "poll_rate_hz": 120,
  "data_dir": "/var/lib/laptrace/sessions",
  "export_dir": "/var/lib/laptrace/exports",
  "listen": ":9090",
  "display_units": "kph"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0o644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadCaptureConfig(configPath)
	if err != nil {
		t.Fatalf("LoadCaptureConfig failed: %v", err)
	}

	if cfg.GetPollRateHz() != 120 {
		t.Errorf("GetPollRateHz() = %d, want 120", cfg.GetPollRateHz())
	}
	if cfg.GetDataDir() != "/var/lib/laptrace/sessions" {
		t.Errorf("GetDataDir() = %q, want /var/lib/laptrace/sessions", cfg.GetDataDir())
	}
	if cfg.GetListen() != ":9090" {
		t.Errorf("GetListen() = %q, want :9090", cfg.GetListen())
	}
	if cfg.GetDisplayUnits() != "kph" {
		t.Errorf("GetDisplayUnits() = %q, want kph", cfg.GetDisplayUnits())
	}
}

func TestLoadCaptureConfigPartial(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "partial.json")

	// A partial config only overrides the fields it names.
	if err := os.WriteFile(configPath, []byte(`{"poll_rate_hz": 30}`), 0o644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadCaptureConfig(configPath)
	if err != nil {
		t.Fatalf("LoadCaptureConfig failed: %v", err)
	}
	if cfg.GetPollRateHz() != 30 {
		t.Errorf("GetPollRateHz() = %d, want 30", cfg.GetPollRateHz())
	}
	if cfg.GetListen() != ":8080" {
		t.Errorf("GetListen() = %q, want default :8080", cfg.GetListen())
	}
}

func TestLoadCaptureConfigRejectsBadValues(t *testing.T) {
	tmpDir := t.TempDir()

	cases := []struct {
		name string
		json string
	}{
		{"zero poll rate", `{"poll_rate_hz": 0}`},
		{"excessive poll rate", `{"poll_rate_hz": 1000}`},
		{"unknown units", `{"display_units": "furlongs"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			configPath := filepath.Join(tmpDir, "bad.json")
			if err := os.WriteFile(configPath, []byte(tc.json), 0o644); err != nil {
				t.Fatalf("Failed to write test config: %v", err)
			}
			if _, err := LoadCaptureConfig(configPath); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}

func TestLoadCaptureConfigRejectsNonJSONExtension(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	if _, err := LoadCaptureConfig(configPath); err == nil {
		t.Error("Expected extension error, got nil")
	}
}
