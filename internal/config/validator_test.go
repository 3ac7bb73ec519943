package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test.field",
		Value:   123,
		Message: "must be greater than zero",
	}

	expected := "test.field: must be greater than zero (got: 123)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "test.field", Value: 123, Message: "is invalid"},
		}
		expected := "test.field: is invalid (got: 123)"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "field1") || !strings.Contains(result, "field2") {
			t.Errorf("Error() should mention both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	cfg := Default()
	errs := cfg.Validate()
	if len(errs) != 0 {
		t.Errorf("Default config should be valid, got errors: %v", errs)
	}
}

func TestConfig_Validate(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "id_ed25519")
	if err := os.WriteFile(keyFile, []byte("key"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:      "empty ready pattern",
			mutate:    func(c *Config) { c.Capture.ReadyPattern = "  " },
			wantField: "capture.ready_pattern",
		},
		{
			name:      "zero start timeout",
			mutate:    func(c *Config) { c.Capture.StartTimeout = 0 },
			wantField: "capture.start_timeout",
		},
		{
			name:      "start timeout too large",
			mutate:    func(c *Config) { c.Capture.StartTimeout = time.Hour },
			wantField: "capture.start_timeout",
		},
		{
			name:      "negative grace period",
			mutate:    func(c *Config) { c.Capture.StopGracePeriod = -time.Second },
			wantField: "capture.stop_grace_period",
		},
		{
			name:      "excluded port out of range",
			mutate:    func(c *Config) { c.Capture.ExcludedPort = 0 },
			wantField: "capture.excluded_port",
		},
		{
			name:      "empty windump binary",
			mutate:    func(c *Config) { c.Capture.WindumpBinary = "" },
			wantField: "capture.windump_binary",
		},
		{
			name:      "buffer too small",
			mutate:    func(c *Config) { c.Capture.OutputBufferSize = 10 },
			wantField: "capture.output_buffer_size",
		},
		{
			name:      "missing tracker file",
			mutate:    func(c *Config) { c.Tracker.ConfigFile = filepath.Join(dir, "missing.yaml") },
			wantField: "tracker.config_file",
		},
		{
			name:      "tracker file is directory",
			mutate:    func(c *Config) { c.Tracker.ConfigFile = dir },
			wantField: "tracker.config_file",
		},
		{
			name:      "download without log dir",
			mutate:    func(c *Config) { c.Artifacts.LogDir = "" },
			wantField: "artifacts.log_dir",
		},
		{
			name:      "store_in escapes log dir",
			mutate:    func(c *Config) { c.Artifacts.StoreIn = "../outside" },
			wantField: "artifacts.store_in",
		},
		{
			name:      "absolute store_in",
			mutate:    func(c *Config) { c.Artifacts.StoreIn = "/tmp/x" },
			wantField: "artifacts.store_in",
		},
		{
			name:      "ssh port out of range",
			mutate:    func(c *Config) { c.Transport.SSH.Port = 70000 },
			wantField: "transport.ssh.port",
		},
		{
			name:      "missing key file",
			mutate:    func(c *Config) { c.Transport.SSH.KeyFile = filepath.Join(dir, "nope") },
			wantField: "transport.ssh.key_file",
		},
		{
			name:      "invalid log level",
			mutate:    func(c *Config) { c.Logging.Level = "verbose" },
			wantField: "logging.level",
		},
		{
			name:      "zero log size",
			mutate:    func(c *Config) { c.Logging.MaxSizeMB = 0 },
			wantField: "logging.max_size_mb",
		},
		{
			name:      "negative backups",
			mutate:    func(c *Config) { c.Logging.MaxBackups = -1 },
			wantField: "logging.max_backups",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("Validate() returned %d errors, want 1: %v", len(errs), errs)
			}
			if errs[0].Field != tt.wantField {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.wantField)
			}
		})
	}

	t.Run("existing key file is accepted", func(t *testing.T) {
		cfg := Default()
		cfg.Transport.SSH.KeyFile = keyFile
		if errs := cfg.Validate(); len(errs) != 0 {
			t.Errorf("Validate() = %v, want no errors", errs)
		}
	})

	t.Run("level is case insensitive", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.Level = "DEBUG"
		if errs := cfg.Validate(); len(errs) != 0 {
			t.Errorf("Validate() = %v, want no errors", errs)
		}
	})

	t.Run("download disabled allows empty log dir", func(t *testing.T) {
		cfg := Default()
		cfg.Artifacts.Download = false
		cfg.Artifacts.LogDir = ""
		if errs := cfg.Validate(); len(errs) != 0 {
			t.Errorf("Validate() = %v, want no errors", errs)
		}
	})
}
