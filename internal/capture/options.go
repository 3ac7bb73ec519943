package capture

import (
	"time"

	"github.com/Iron-Ham/nettrace/internal/config"
	"github.com/Iron-Ham/nettrace/internal/event"
	"github.com/Iron-Ham/nettrace/internal/logging"
	"github.com/Iron-Ham/nettrace/internal/tracker"
)

// Defaults applied when a SessionOption does not override them.
const (
	DefaultReadyPattern    = "listening on"
	DefaultStartTimeout    = 10 * time.Second
	DefaultStopGracePeriod = 5 * time.Second
	DefaultBufferSize      = 100000
)

type sessionConfig struct {
	logger       *logging.Logger
	bus          *event.Bus
	tracker      *tracker.Config
	ledgerOpts   []tracker.LedgerOption
	readyPattern string
	startTimeout time.Duration
	grace        time.Duration
	bufferSize   int
	tool         ToolConfig
}

func defaultSessionConfig() sessionConfig {
	return sessionConfig{
		logger:       logging.NopLogger(),
		readyPattern: DefaultReadyPattern,
		startTimeout: DefaultStartTimeout,
		grace:        DefaultStopGracePeriod,
		bufferSize:   DefaultBufferSize,
		tool:         DefaultToolConfig(),
	}
}

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

// WithLogger sets the session's logger.
func WithLogger(logger *logging.Logger) SessionOption {
	return func(c *sessionConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBus publishes lifecycle events to bus. The attached ledger publishes
// to the same bus.
func WithBus(bus *event.Bus) SessionOption {
	return func(c *sessionConfig) {
		c.bus = bus
	}
}

// WithTracker attaches a ledger built from cfg. The capture tool is asked to
// print packets so the ledger can classify them as they arrive.
func WithTracker(cfg tracker.Config, opts ...tracker.LedgerOption) SessionOption {
	return func(c *sessionConfig) {
		c.tracker = &cfg
		c.ledgerOpts = append(c.ledgerOpts, opts...)
	}
}

// WithReadyPattern sets the output substring that marks the tool as ready.
func WithReadyPattern(pattern string) SessionOption {
	return func(c *sessionConfig) {
		c.readyPattern = pattern
	}
}

// WithStartTimeout bounds the wait for the ready pattern.
func WithStartTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) {
		c.startTimeout = d
	}
}

// WithStopGracePeriod sets how long Stop waits after interrupting before it
// kills the process.
func WithStopGracePeriod(d time.Duration) SessionOption {
	return func(c *sessionConfig) {
		c.grace = d
	}
}

// WithBufferSize sets the per-stream output buffer size in bytes.
func WithBufferSize(n int) SessionOption {
	return func(c *sessionConfig) {
		c.bufferSize = n
	}
}

// WithTool overrides the capture tool settings.
func WithTool(tool ToolConfig) SessionOption {
	return func(c *sessionConfig) {
		c.tool = tool
	}
}

// FromConfig applies the capture section of cfg.
func FromConfig(cfg *config.Config) SessionOption {
	return func(c *sessionConfig) {
		c.readyPattern = cfg.Capture.ReadyPattern
		c.startTimeout = cfg.Capture.StartTimeout
		c.grace = cfg.Capture.StopGracePeriod
		c.bufferSize = cfg.Capture.OutputBufferSize
		c.tool = ToolConfig{
			ExcludedPort:  cfg.Capture.ExcludedPort,
			WindumpBinary: cfg.Capture.WindumpBinary,
		}
	}
}
