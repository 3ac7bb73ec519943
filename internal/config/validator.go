package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "capture.start_timeout")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

const (
	minOutputBufferSize = 1024
	maxOutputBufferSize = 64 * 1024 * 1024
	maxStartTimeout     = 5 * time.Minute
)

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateCapture()...)
	errors = append(errors, c.validateTracker()...)
	errors = append(errors, c.validateArtifacts()...)
	errors = append(errors, c.validateTransport()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateCapture validates the CaptureConfig
func (c *Config) validateCapture() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Capture.ReadyPattern) == "" {
		errors = append(errors, ValidationError{
			Field:   "capture.ready_pattern",
			Value:   c.Capture.ReadyPattern,
			Message: "must not be empty",
		})
	}

	if c.Capture.StartTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "capture.start_timeout",
			Value:   c.Capture.StartTimeout,
			Message: "must be positive",
		})
	} else if c.Capture.StartTimeout > maxStartTimeout {
		errors = append(errors, ValidationError{
			Field:   "capture.start_timeout",
			Value:   c.Capture.StartTimeout,
			Message: fmt.Sprintf("exceeds maximum of %s", maxStartTimeout),
		})
	}

	if c.Capture.StopGracePeriod < 0 {
		errors = append(errors, ValidationError{
			Field:   "capture.stop_grace_period",
			Value:   c.Capture.StopGracePeriod,
			Message: "must be non-negative",
		})
	}

	if !validPort(c.Capture.ExcludedPort) {
		errors = append(errors, ValidationError{
			Field:   "capture.excluded_port",
			Value:   c.Capture.ExcludedPort,
			Message: "must be between 1 and 65535",
		})
	}

	if strings.TrimSpace(c.Capture.WindumpBinary) == "" {
		errors = append(errors, ValidationError{
			Field:   "capture.windump_binary",
			Value:   c.Capture.WindumpBinary,
			Message: "must not be empty",
		})
	}

	if c.Capture.OutputBufferSize < minOutputBufferSize || c.Capture.OutputBufferSize > maxOutputBufferSize {
		errors = append(errors, ValidationError{
			Field:   "capture.output_buffer_size",
			Value:   c.Capture.OutputBufferSize,
			Message: fmt.Sprintf("must be between %d and %d", minOutputBufferSize, maxOutputBufferSize),
		})
	}

	return errors
}

// validateTracker validates the TrackerConfig
func (c *Config) validateTracker() []ValidationError {
	var errors []ValidationError

	if c.Tracker.ConfigFile != "" {
		if err := checkFile(c.Tracker.ConfigFile); err != "" {
			errors = append(errors, ValidationError{
				Field:   "tracker.config_file",
				Value:   c.Tracker.ConfigFile,
				Message: err,
			})
		}
	}

	return errors
}

// validateArtifacts validates the ArtifactsConfig
func (c *Config) validateArtifacts() []ValidationError {
	var errors []ValidationError

	if c.Artifacts.Download && strings.TrimSpace(c.Artifacts.LogDir) == "" {
		errors = append(errors, ValidationError{
			Field:   "artifacts.log_dir",
			Value:   c.Artifacts.LogDir,
			Message: "must be set when artifacts.download is enabled",
		})
	}

	if c.Artifacts.StoreIn != "" {
		if filepath.IsAbs(c.Artifacts.StoreIn) || slices.Contains(strings.Split(filepath.ToSlash(c.Artifacts.StoreIn), "/"), "..") {
			errors = append(errors, ValidationError{
				Field:   "artifacts.store_in",
				Value:   c.Artifacts.StoreIn,
				Message: "must be a relative path inside artifacts.log_dir",
			})
		}
	}

	return errors
}

// validateTransport validates the TransportConfig
func (c *Config) validateTransport() []ValidationError {
	var errors []ValidationError

	if !validPort(c.Transport.SSH.Port) {
		errors = append(errors, ValidationError{
			Field:   "transport.ssh.port",
			Value:   c.Transport.SSH.Port,
			Message: "must be between 1 and 65535",
		})
	}

	if c.Transport.SSH.ConnectTimeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "transport.ssh.connect_timeout",
			Value:   c.Transport.SSH.ConnectTimeout,
			Message: "must be non-negative",
		})
	}

	if c.Transport.SSH.KeyFile != "" {
		if err := checkFile(c.Transport.SSH.KeyFile); err != "" {
			errors = append(errors, ValidationError{
				Field:   "transport.ssh.key_file",
				Value:   c.Transport.SSH.KeyFile,
				Message: err,
			})
		}
	}

	if c.Transport.SSH.KnownHosts != "" {
		if err := checkFile(c.Transport.SSH.KnownHosts); err != "" {
			errors = append(errors, ValidationError{
				Field:   "transport.ssh.known_hosts",
				Value:   c.Transport.SSH.KnownHosts,
				Message: err,
			})
		}
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}

// checkFile returns a message describing why path is not a readable regular
// file, or "" when it is.
func checkFile(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "file does not exist"
		}
		return fmt.Sprintf("cannot access file: %v", err)
	}
	if info.IsDir() {
		return "must be a file, not a directory"
	}
	return ""
}
