// Package artifact copies capture files off test peers and removes them
// from the peer afterwards.
package artifact

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/nettrace/internal/config"
	"github.com/Iron-Ham/nettrace/internal/connection"
	"github.com/Iron-Ham/nettrace/internal/errors"
	"github.com/Iron-Ham/nettrace/internal/event"
	"github.com/Iron-Ham/nettrace/internal/logging"
)

// Extension is appended to every collected capture file.
const Extension = ".pcap"

// Default capture file locations on each target OS.
const (
	LinuxPath   = "/dump.pcap"
	MacPath     = "/var/root/dump.pcap"
	WindowsPath = `C:\workspace\dump.pcap`
)

// DefaultRemotePath returns where the capture tool writes on os by default.
func DefaultRemotePath(os connection.TargetOS) string {
	switch os {
	case connection.Mac:
		return MacPath
	case connection.Windows:
		return WindowsPath
	default:
		return LinuxPath
	}
}

// RemoveCommand returns the argv that deletes path on os.
func RemoveCommand(os connection.TargetOS, path string) []string {
	if os == connection.Windows {
		return []string{"del", path}
	}
	return []string{"rm", "-f", path}
}

// UniquePath returns dir/name.pcap, or the first free dir/name-N.pcap with
// N counting from 2, so repeated collections for one peer never overwrite
// each other.
func UniquePath(fs afero.Fs, dir, name string) (string, error) {
	candidate := filepath.Join(dir, name+Extension)
	for n := 2; ; n++ {
		exists, err := afero.Exists(fs, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s-%d%s", name, n, Extension))
	}
}

// Result describes one collection attempt.
type Result struct {
	Connection string
	RemotePath string
	// LocalPath is empty when nothing was downloaded.
	LocalPath string
	Removed   bool
	// Err is an ArtifactError matching errors.ErrArtifactRetrieval, or nil.
	Err error
}

// Collector downloads capture files into a per-test log directory.
type Collector struct {
	// Fs is the local filesystem the connection downloads into.
	Fs afero.Fs
	// LogDir receives downloaded files.
	LogDir string
	// StoreIn is an optional subdirectory of LogDir.
	StoreIn string
	// Download disables copying when false; the remote file is still removed.
	Download bool
	// RemoveTimeout bounds the remote delete. Zero means no bound beyond ctx.
	RemoveTimeout time.Duration

	Logger *logging.Logger
	Bus    *event.Bus
}

// NewCollector builds a Collector from the artifacts config section.
func NewCollector(cfg config.ArtifactsConfig, fs afero.Fs, logger *logging.Logger, bus *event.Bus) *Collector {
	return &Collector{
		Fs:            fs,
		LogDir:        cfg.LogDir,
		StoreIn:       cfg.StoreIn,
		Download:      cfg.Download,
		RemoveTimeout: 30 * time.Second,
		Logger:        logger,
		Bus:           bus,
	}
}

// Dir returns the directory files are collected into.
func (c *Collector) Dir() string {
	artifacts := config.ArtifactsConfig{LogDir: c.LogDir, StoreIn: c.StoreIn}
	return artifacts.ArtifactDir()
}

// Collect downloads remotePath from conn, when downloads are enabled, and
// then deletes it from the peer. Failures are logged and reported in the
// Result; they are never returned to the caller as a panic or error.
func (c *Collector) Collect(ctx context.Context, conn connection.Connection, remotePath string) Result {
	logger := c.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.WithConnection(conn.TargetName())

	res := Result{Connection: conn.TargetName(), RemotePath: remotePath}
	var errs []error

	if c.Download {
		local, err := c.download(ctx, conn, remotePath)
		if err != nil {
			errs = append(errs, err)
			logFailure(logger, "capture download failed", remotePath, err)
		} else {
			res.LocalPath = local
			logger.Info("capture downloaded", "remote_path", remotePath, "local_path", local)
		}
	}

	if err := c.remove(ctx, conn, remotePath); err != nil {
		errs = append(errs, err)
		logFailure(logger, "capture removal failed", remotePath, err)
	} else {
		res.Removed = true
	}

	res.Err = errors.Join(errs...)
	if c.Bus != nil {
		c.Bus.Publish(event.NewArtifactCollectedEvent(res.Connection, res.RemotePath, res.LocalPath, res.Err))
	}
	return res
}

// logFailure logs err at the level its severity calls for.
func logFailure(logger *logging.Logger, msg, remotePath string, err error) {
	if errors.GetSeverity(err) >= errors.SeverityError {
		logger.Error(msg, "remote_path", remotePath, "error", err.Error())
		return
	}
	logger.Warn(msg, "remote_path", remotePath, "error", err.Error())
}

func (c *Collector) download(ctx context.Context, conn connection.Connection, remotePath string) (string, error) {
	dir := c.Dir()
	if err := c.Fs.MkdirAll(dir, 0o755); err != nil {
		return "", errors.NewArtifactError("failed to create log directory", err).
			WithRemotePath(remotePath).WithLocalPath(dir)
	}

	local, err := UniquePath(c.Fs, dir, conn.TargetName())
	if err != nil {
		return "", errors.NewArtifactError("failed to choose local path", err).
			WithRemotePath(remotePath).WithLocalPath(dir)
	}

	if err := conn.Download(ctx, remotePath, local); err != nil {
		return "", errors.NewArtifactError("download failed", err).
			WithRemotePath(remotePath).WithLocalPath(local)
	}
	return local, nil
}

func (c *Collector) remove(ctx context.Context, conn connection.Connection, remotePath string) error {
	if c.RemoveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.RemoveTimeout)
		defer cancel()
	}

	proc := conn.CreateProcess(RemoveCommand(conn.TargetOS(), remotePath))
	if _, err := connection.Execute(ctx, proc); err != nil {
		return errors.NewArtifactError("remote delete failed", err).WithRemotePath(remotePath)
	}
	return nil
}
