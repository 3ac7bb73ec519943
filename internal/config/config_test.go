package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	// Verify default capture config
	if cfg.Capture.ReadyPattern != "listening on" {
		t.Errorf("Capture.ReadyPattern = %q, want %q", cfg.Capture.ReadyPattern, "listening on")
	}
	if cfg.Capture.StartTimeout != 10*time.Second {
		t.Errorf("Capture.StartTimeout = %v, want 10s", cfg.Capture.StartTimeout)
	}
	if cfg.Capture.StopGracePeriod != 5*time.Second {
		t.Errorf("Capture.StopGracePeriod = %v, want 5s", cfg.Capture.StopGracePeriod)
	}
	if cfg.Capture.ExcludedPort != 22 {
		t.Errorf("Capture.ExcludedPort = %d, want 22", cfg.Capture.ExcludedPort)
	}
	if cfg.Capture.OutputBufferSize != 100000 {
		t.Errorf("Capture.OutputBufferSize = %d, want 100000", cfg.Capture.OutputBufferSize)
	}

	// Verify default artifact config
	if !cfg.Artifacts.Download {
		t.Error("Artifacts.Download should be true by default")
	}
	if cfg.Artifacts.LogDir != "logs" {
		t.Errorf("Artifacts.LogDir = %q, want %q", cfg.Artifacts.LogDir, "logs")
	}

	// Verify default transport config
	if cfg.Transport.SSH.Port != 22 {
		t.Errorf("Transport.SSH.Port = %d, want 22", cfg.Transport.SSH.Port)
	}
	if cfg.Transport.SSH.User != "root" {
		t.Errorf("Transport.SSH.User = %q, want %q", cfg.Transport.SSH.User, "root")
	}

	// Verify default logging config
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Logging.MaxSizeMB != 10 {
		t.Errorf("Logging.MaxSizeMB = %d, want 10", cfg.Logging.MaxSizeMB)
	}
}

func TestArtifactsConfig_ArtifactDir(t *testing.T) {
	tests := []struct {
		name    string
		logDir  string
		storeIn string
		want    string
	}{
		{"no subdirectory", "logs", "", "logs"},
		{"with subdirectory", "logs", "test_derp", filepath.Join("logs", "test_derp")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ArtifactsConfig{LogDir: tt.logDir, StoreIn: tt.storeIn}
			if got := c.ArtifactDir(); got != tt.want {
				t.Errorf("ArtifactDir() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		result := ConfigDir()
		expected := "/custom/config/nettrace"
		if result != expected {
			t.Errorf("ConfigDir() = %q, want %q", result, expected)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		result := ConfigDir()

		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, ".config", "nettrace")
		if result != expected {
			t.Errorf("ConfigDir() = %q, want %q", result, expected)
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	result := ConfigFile()
	expected := "/custom/config/nettrace/config.yaml"
	if result != expected {
		t.Errorf("ConfigFile() = %q, want %q", result, expected)
	}
}

func TestLoad_FromYAML(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	SetDefaults()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
capture:
  start_timeout: 3s
  stop_grace_period: 1500ms
  excluded_port: 2222
artifacts:
  store_in: derp
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Capture.StartTimeout != 3*time.Second {
		t.Errorf("StartTimeout = %v, want 3s", cfg.Capture.StartTimeout)
	}
	if cfg.Capture.StopGracePeriod != 1500*time.Millisecond {
		t.Errorf("StopGracePeriod = %v, want 1.5s", cfg.Capture.StopGracePeriod)
	}
	if cfg.Capture.ExcludedPort != 2222 {
		t.Errorf("ExcludedPort = %d, want 2222", cfg.Capture.ExcludedPort)
	}
	// Untouched keys keep their defaults
	if cfg.Capture.ReadyPattern != "listening on" {
		t.Errorf("ReadyPattern = %q, want default", cfg.Capture.ReadyPattern)
	}
	if cfg.Artifacts.StoreIn != "derp" {
		t.Errorf("StoreIn = %q, want %q", cfg.Artifacts.StoreIn, "derp")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoad_InvalidConfig(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	SetDefaults()

	viper.Set("capture.excluded_port", 70000)

	_, err := Load()
	if err == nil {
		t.Fatal("Load() expected validation error")
	}
	errs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("Load() error type = %T, want ValidationErrors", err)
	}
	if len(errs) != 1 || errs[0].Field != "capture.excluded_port" {
		t.Errorf("unexpected validation errors: %v", errs)
	}
}
