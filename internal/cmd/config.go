package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/nettrace/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or create nettrace configuration",
	Long: `View or create nettrace configuration.

Without arguments, displays the current configuration.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/nettrace/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

var configInitForce bool

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing config file")

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		_, _ = fmt.Fprintf(out, "# config file: %s\n", viper.ConfigFileUsed())
	} else {
		_, _ = fmt.Fprintln(out, "# config file: (none - using defaults)")
	}

	_, _ = fmt.Fprintln(out, "capture:")
	_, _ = fmt.Fprintf(out, "  ready_pattern: %q\n", cfg.Capture.ReadyPattern)
	_, _ = fmt.Fprintf(out, "  start_timeout: %s\n", cfg.Capture.StartTimeout)
	_, _ = fmt.Fprintf(out, "  stop_grace_period: %s\n", cfg.Capture.StopGracePeriod)
	_, _ = fmt.Fprintf(out, "  excluded_port: %d\n", cfg.Capture.ExcludedPort)
	_, _ = fmt.Fprintf(out, "  windump_binary: %q\n", cfg.Capture.WindumpBinary)
	_, _ = fmt.Fprintf(out, "  output_buffer_size: %d\n", cfg.Capture.OutputBufferSize)

	_, _ = fmt.Fprintln(out, "tracker:")
	_, _ = fmt.Fprintf(out, "  config_file: %q\n", cfg.Tracker.ConfigFile)

	_, _ = fmt.Fprintln(out, "artifacts:")
	_, _ = fmt.Fprintf(out, "  log_dir: %q\n", cfg.Artifacts.LogDir)
	_, _ = fmt.Fprintf(out, "  download: %v\n", cfg.Artifacts.Download)
	_, _ = fmt.Fprintf(out, "  store_in: %q\n", cfg.Artifacts.StoreIn)

	_, _ = fmt.Fprintln(out, "transport:")
	_, _ = fmt.Fprintln(out, "  ssh:")
	_, _ = fmt.Fprintf(out, "    user: %q\n", cfg.Transport.SSH.User)
	_, _ = fmt.Fprintf(out, "    port: %d\n", cfg.Transport.SSH.Port)
	_, _ = fmt.Fprintf(out, "    key_file: %q\n", cfg.Transport.SSH.KeyFile)
	_, _ = fmt.Fprintf(out, "    known_hosts: %q\n", cfg.Transport.SSH.KnownHosts)
	_, _ = fmt.Fprintf(out, "    connect_timeout: %s\n", cfg.Transport.SSH.ConnectTimeout)

	_, _ = fmt.Fprintln(out, "logging:")
	_, _ = fmt.Fprintf(out, "  level: %s\n", cfg.Logging.Level)
	_, _ = fmt.Fprintf(out, "  dir: %q\n", cfg.Logging.Dir)
	_, _ = fmt.Fprintf(out, "  max_size_mb: %d\n", cfg.Logging.MaxSizeMB)
	_, _ = fmt.Fprintf(out, "  max_backups: %d\n", cfg.Logging.MaxBackups)
	_, _ = fmt.Fprintf(out, "  compress: %v\n", cfg.Logging.Compress)

	return nil
}

const defaultConfigContent = `# nettrace configuration

# Capture tool supervision
capture:
  # Output substring that marks the capture tool as ready
  ready_pattern: "listening on"
  # How long to wait for ready_pattern
  start_timeout: 10s
  # How long Stop waits after interrupting before it kills the tool
  stop_grace_period: 5s
  # Port filtered out of every capture (the SSH control channel)
  excluded_port: 22
  # Capture tool location on Windows peers
  windump_binary: 'C:\workspace\WinDump.exe'
  # Per-stream output buffer size in bytes (default: 100000 = 100KB)
  output_buffer_size: 100000

# Channel declarations
tracker:
  # YAML file of channels; empty uses the lab presets
  config_file: ""

# Capture file collection
artifacts:
  # Directory capture files are copied into
  log_dir: logs
  # Copy capture files from the peer before deleting them
  download: true
  # Optional subdirectory of log_dir
  store_in: ""

# Remote peers
transport:
  ssh:
    user: root
    port: 22
    key_file: ""
    # known_hosts file; empty disables host key verification
    known_hosts: ""
    connect_timeout: 10s

# Structured logging
logging:
  # debug, info, warn or error
  level: info
  # Directory for nettrace.log; empty logs to stderr
  dir: ""
  max_size_mb: 10
  max_backups: 3
  compress: false
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil && !configInitForce {
		return fmt.Errorf("config file already exists at %s\nUse --force to overwrite it", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		_, _ = fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		_, _ = fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	// Also show config search paths
	_, _ = fmt.Fprintln(out, "\nSearch paths:")
	_, _ = fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	_, _ = fmt.Fprintf(out, "  2. $HOME/.config/nettrace/config.yaml\n")
	_, _ = fmt.Fprintf(out, "  3. ./config.yaml (current directory)\n")
	_, _ = fmt.Fprintln(out, "\nEnvironment variables: NETTRACE_* (e.g., NETTRACE_CAPTURE_START_TIMEOUT)")

	return nil
}
