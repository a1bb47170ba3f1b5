package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatexport.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.App.Package != "com.whatsapp" {
		t.Errorf("Expected default package, got %q", cfg.App.Package)
	}
	if cfg.Scan.StepBudget != 120 || cfg.Scan.MaxBackPresses != 5 {
		t.Errorf("Unexpected scan defaults %+v", cfg.Scan)
	}
	if cfg.Batch.MaxConsecutiveVerifyFailure != 3 {
		t.Errorf("Expected 3 consecutive failures, got %d", cfg.Batch.MaxConsecutiveVerifyFailure)
	}
	if cfg.Timing.StepTimeout != 10*time.Second || cfg.Timing.GestureInterval != 0 {
		t.Errorf("Unexpected timing defaults %+v", cfg.Timing)
	}
	if cfg.App.DestinationLabels[0] != "Drive" {
		t.Errorf("Drive should be the primary destination, got %v", cfg.App.DestinationLabels)
	}
	if cfg.DataDir == "" {
		t.Error("DataDir should default to a directory")
	}
	if cfg.HistoryDBPath() != filepath.Join(cfg.DataDir, "history.db") {
		t.Errorf("Unexpected history path %s", cfg.HistoryDBPath())
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeConfig(t, `
device:
  serial: 192.168.1.100:5555
  wireless: true
app:
  destination_labels: ["Dropbox"]
  upload_labels: ["Add"]
timing:
  step_timeout: 4s
  gesture_interval: 250ms
scan:
  step_budget: 40
batch:
  keep_awake: true
  max_consecutive_verify_failures: 5
destination:
  dir: /mnt/drive/exports
  watch: true
log:
  level: debug
data_dir: /tmp/chatexport-test
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Device.Serial != "192.168.1.100:5555" || !cfg.Device.Wireless {
		t.Errorf("Unexpected device section %+v", cfg.Device)
	}
	if len(cfg.App.DestinationLabels) != 1 || cfg.App.DestinationLabels[0] != "Dropbox" {
		t.Errorf("Destination labels should be replaced, got %v", cfg.App.DestinationLabels)
	}
	if cfg.App.UploadButtonID == "" || cfg.App.Package != "com.whatsapp" {
		t.Error("Unset profile fields should keep their defaults")
	}
	if cfg.Timing.StepTimeout != 4*time.Second || cfg.Timing.GestureInterval != 250*time.Millisecond {
		t.Errorf("Durations not parsed: %+v", cfg.Timing)
	}
	if cfg.Timing.DriveTimeout != 20*time.Second {
		t.Errorf("Unset durations should default, got %v", cfg.Timing.DriveTimeout)
	}
	if cfg.Scan.StepBudget != 40 || cfg.Scan.ListStallLimit != 3 {
		t.Errorf("Unexpected scan section %+v", cfg.Scan)
	}
	if !cfg.Batch.KeepAwake || cfg.Batch.MaxConsecutiveVerifyFailure != 5 {
		t.Errorf("Unexpected batch section %+v", cfg.Batch)
	}
	if cfg.Destination.Dir != "/mnt/drive/exports" || !cfg.Destination.Watch {
		t.Errorf("Unexpected destination %+v", cfg.Destination)
	}
	if cfg.DataDir != "/tmp/chatexport-test" || cfg.Log.Level != "debug" {
		t.Errorf("Unexpected data dir or log level: %s %s", cfg.DataDir, cfg.Log.Level)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil || !strings.Contains(err.Error(), "read config") {
		t.Errorf("Expected a read error, got %v", err)
	}
	if _, err := LoadConfig(writeConfig(t, "scan: [not, a, map]")); err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Errorf("Expected a parse error, got %v", err)
	}
	if _, err := LoadConfig(writeConfig(t, "app:\n  upload_region_x: 1.5\n")); err == nil {
		t.Error("Expected an out-of-range region to be rejected")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"no package", func(c *Config) { c.App.Package = "" }, false},
		{"zero step budget", func(c *Config) { c.Scan.StepBudget = 0 }, false},
		{"zero step timeout", func(c *Config) { c.Timing.StepTimeout = 0 }, false},
		{"zero poll interval", func(c *Config) { c.Timing.PollInterval = 0 }, false},
		{"negative region", func(c *Config) { c.App.UploadRegionY = -0.1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			if err := c.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}
