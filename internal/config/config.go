package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete nettrace configuration
type Config struct {
	Capture   CaptureConfig   `mapstructure:"capture"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Transport TransportConfig `mapstructure:"transport"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// CaptureConfig controls how capture sessions are launched and supervised
type CaptureConfig struct {
	// ReadyPattern is the output substring that marks the capture tool as ready (default: "listening on")
	ReadyPattern string `mapstructure:"ready_pattern"`
	// StartTimeout bounds the wait for ReadyPattern (default: 10s)
	StartTimeout time.Duration `mapstructure:"start_timeout"`
	// StopGracePeriod is how long Stop waits after interrupting before it kills (default: 5s)
	StopGracePeriod time.Duration `mapstructure:"stop_grace_period"`
	// ExcludedPort is filtered out of every capture so the control channel is not recorded (default: 22)
	ExcludedPort int `mapstructure:"excluded_port"`
	// WindumpBinary is the capture tool path on Windows targets
	WindumpBinary string `mapstructure:"windump_binary"`
	// OutputBufferSize is the per-stream ring buffer size in bytes (default: 100000)
	OutputBufferSize int `mapstructure:"output_buffer_size"`
}

// TrackerConfig points at the channel declarations used by the ledger
type TrackerConfig struct {
	// ConfigFile is a YAML file of channel declarations. Empty means the
	// topology presets for the connection tag are used.
	ConfigFile string `mapstructure:"config_file"`
}

// ArtifactsConfig controls where capture files end up
type ArtifactsConfig struct {
	// LogDir is the per-test log directory artifacts are copied into (default: "logs")
	LogDir string `mapstructure:"log_dir"`
	// Download controls whether remote capture files are copied locally (default: true)
	Download bool `mapstructure:"download"`
	// StoreIn is an optional subdirectory of LogDir
	StoreIn string `mapstructure:"store_in"`
}

// TransportConfig holds settings for remote targets
type TransportConfig struct {
	SSH SSHConfig `mapstructure:"ssh"`
}

// SSHConfig configures the SSH transport
type SSHConfig struct {
	User           string        `mapstructure:"user"`
	Port           int           `mapstructure:"port"`
	KeyFile        string        `mapstructure:"key_file"`
	KnownHosts     string        `mapstructure:"known_hosts"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// LoggingConfig controls structured logging
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is the directory the log file is written to. Empty logs to stderr.
	Dir string `mapstructure:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated files
	Compress bool `mapstructure:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			ReadyPattern:     "listening on",
			StartTimeout:     10 * time.Second,
			StopGracePeriod:  5 * time.Second,
			ExcludedPort:     22,
			WindumpBinary:    `C:\workspace\WinDump.exe`,
			OutputBufferSize: 100000,
		},
		Artifacts: ArtifactsConfig{
			LogDir:   "logs",
			Download: true,
		},
		Transport: TransportConfig{
			SSH: SSHConfig{
				User:           "root",
				Port:           22,
				ConnectTimeout: 10 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Capture defaults
	viper.SetDefault("capture.ready_pattern", defaults.Capture.ReadyPattern)
	viper.SetDefault("capture.start_timeout", defaults.Capture.StartTimeout)
	viper.SetDefault("capture.stop_grace_period", defaults.Capture.StopGracePeriod)
	viper.SetDefault("capture.excluded_port", defaults.Capture.ExcludedPort)
	viper.SetDefault("capture.windump_binary", defaults.Capture.WindumpBinary)
	viper.SetDefault("capture.output_buffer_size", defaults.Capture.OutputBufferSize)

	// Tracker defaults
	viper.SetDefault("tracker.config_file", defaults.Tracker.ConfigFile)

	// Artifact defaults
	viper.SetDefault("artifacts.log_dir", defaults.Artifacts.LogDir)
	viper.SetDefault("artifacts.download", defaults.Artifacts.Download)
	viper.SetDefault("artifacts.store_in", defaults.Artifacts.StoreIn)

	// Transport defaults
	viper.SetDefault("transport.ssh.user", defaults.Transport.SSH.User)
	viper.SetDefault("transport.ssh.port", defaults.Transport.SSH.Port)
	viper.SetDefault("transport.ssh.key_file", defaults.Transport.SSH.KeyFile)
	viper.SetDefault("transport.ssh.known_hosts", defaults.Transport.SSH.KnownHosts)
	viper.SetDefault("transport.ssh.connect_timeout", defaults.Transport.SSH.ConnectTimeout)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "nettrace")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nettrace"
	}
	return filepath.Join(home, ".config", "nettrace")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ArtifactDir returns the directory capture files are copied into.
func (c *ArtifactsConfig) ArtifactDir() string {
	if c.StoreIn == "" {
		return c.LogDir
	}
	return filepath.Join(c.LogDir, c.StoreIn)
}
