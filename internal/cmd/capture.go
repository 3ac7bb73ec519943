package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/nettrace/internal/artifact"
	"github.com/Iron-Ham/nettrace/internal/capture"
	"github.com/Iron-Ham/nettrace/internal/connection"
	"github.com/Iron-Ham/nettrace/internal/errors"
	"github.com/Iron-Ham/nettrace/internal/event"
	"github.com/Iron-Ham/nettrace/internal/logging"
	"github.com/Iron-Ham/nettrace/internal/tracker"
)

// errLimitsViolated is returned when a report contains a channel outside
// its limits, so the process exits non-zero.
var errLimitsViolated = errors.New("connection limits violated")

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Run a capture on a test peer and check connection limits",
	Long: `Capture runs tcpdump (or windump) on a test peer until interrupted, until
--duration elapses, or until the --wait channels have been observed.

While it runs, every printed packet is classified into the declared channels.
On exit the per-channel report is printed and the capture file is copied into
the artifact directory and removed from the peer.

Examples:
  nettrace capture --tag DOCKER_CONE_CLIENT_1 --limit derp_1=1:1 --wait derp_1
  nettrace capture --target ssh://root@10.0.254.7 --tag MAC_VM --duration 30s`,
	Args: cobra.NoArgs,
	RunE: runCapture,
}

var (
	captureTarget      string
	captureTag         string
	captureTracker     trackerSource
	captureNoTrack     bool
	captureWait        []string
	captureWaitTimeout time.Duration
	captureDuration    time.Duration
	captureInterfaces  []string
	captureCount       int
	captureFlags       []string
	captureExprs       []string
	captureOutput      string
	captureStoreIn     string
	captureNoDownload  bool
	captureMetricsAddr string
	captureQuiet       bool
)

func init() {
	f := captureCmd.Flags()
	f.StringVar(&captureTarget, "target", "local", `where to capture: "local" or ssh://[user@]host[:port]`)
	f.StringVar(&captureTag, "tag", string(connection.TagLocal), "connection tag of the peer")
	captureTracker.register(f)
	f.BoolVar(&captureNoTrack, "no-track", false, "capture without classifying connections")
	f.StringSliceVar(&captureWait, "wait", nil, "channels whose first connection to wait for, repeatable")
	f.DurationVar(&captureWaitTimeout, "wait-timeout", 30*time.Second, "timeout for each --wait channel")
	f.DurationVar(&captureDuration, "duration", 0, "stop after this long (default: until interrupted)")
	f.StringSliceVarP(&captureInterfaces, "interface", "i", nil, "interfaces to capture on (default: all)")
	f.IntVar(&captureCount, "count", 0, "stop after this many packets")
	f.StringArrayVar(&captureFlags, "flag", nil, "extra capture tool flag, passed verbatim, repeatable")
	f.StringArrayVar(&captureExprs, "expr", nil, `extra filter expression, e.g. "and udp", repeatable`)
	f.StringVar(&captureOutput, "output", "", "capture file path on the peer (default: per-OS location)")
	f.StringVar(&captureStoreIn, "store-in", "", "subdirectory of the artifact directory to store the capture in")
	f.BoolVar(&captureNoDownload, "no-download", false, "delete the capture file on the peer without copying it")
	f.StringVar(&captureMetricsAddr, "metrics-addr", "", "serve channel metrics on this address while capturing")
	f.BoolVarP(&captureQuiet, "quiet", "q", false, "do not print live progress")

	rootCmd.AddCommand(captureCmd)
}

func runCapture(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	tag, err := connection.ParseTag(captureTag)
	if err != nil {
		return err
	}
	if captureNoTrack && len(captureWait) > 0 {
		return fmt.Errorf("--wait needs connection tracking, drop --no-track")
	}
	if cmd.Flags().Changed("store-in") {
		cfg.Artifacts.StoreIn = captureStoreIn
	}
	if captureNoDownload {
		cfg.Artifacts.Download = false
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	fs := afero.NewOsFs()
	bus := event.NewBus(logger)
	if !captureQuiet {
		id := bus.SubscribeAll(func(e event.Event) {
			if line := describeEvent(e); line != "" {
				_, _ = fmt.Fprintln(out, line)
			}
		})
		defer bus.Unsubscribe(id)
	}
	logger.Debug("event subscriptions", "patterns", bus.Patterns())

	sessionOpts := []capture.SessionOption{
		capture.FromConfig(cfg),
		capture.WithLogger(logger),
		capture.WithBus(bus),
	}
	if !captureNoTrack {
		tcfg, err := captureTracker.resolve(fs, tag, cfg.Tracker.ConfigFile)
		if err != nil {
			return err
		}
		sessionOpts = append(sessionOpts, capture.WithTracker(tcfg))
	}

	conn, closer, err := dialTarget(ctx, captureTarget, tag, cfg, fs, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	registry := prometheus.NewRegistry()
	if captureMetricsAddr != "" {
		shutdown, err := serveMetrics(captureMetricsAddr, registry, logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	opts := capture.GroupOptions{
		Options: capture.Options{
			Flags:       captureFlags,
			Expressions: captureExprs,
			Interfaces:  captureInterfaces,
			OutputFile:  captureOutput,
			Count:       captureCount,
		},
		SessionOptions: sessionOpts,
		Collector:      artifact.NewCollector(cfg.Artifacts, fs, logger, bus),
	}

	res, runErr := capture.RunGroup(ctx, []connection.Connection{conn}, opts, func(ctx context.Context, sessions []*capture.Session) error {
		for _, s := range sessions {
			if ledger := s.Ledger(); ledger != nil {
				registry.MustRegister(tracker.NewCollector(ledger, prometheus.Labels{"connection": s.Connection().TargetName()}))
			}
		}
		return awaitCapture(ctx, sessions[0])
	})

	st := stylesFor(out)
	violations := 0
	for _, s := range res.Sessions {
		if ledger := s.Ledger(); ledger != nil {
			title := fmt.Sprintf("%s (%s)", s.Connection().TargetName(), tag)
			violations += renderReport(out, title, ledger.Snapshot(), st)
		}
	}
	renderArtifacts(out, res.Artifacts, st)

	if runErr != nil {
		return runErr
	}
	if violations > 0 {
		return errLimitsViolated
	}
	return nil
}

// awaitCapture blocks until the --wait channels were seen, --duration
// elapsed, the capture exited or ctx was cancelled. An interrupt is the
// normal way to end an open-ended capture and is not an error.
func awaitCapture(ctx context.Context, s *capture.Session) error {
	for _, name := range captureWait {
		if err := s.WaitForEvent(ctx, name, captureWaitTimeout); err != nil {
			return err
		}
	}
	if len(captureWait) > 0 && captureDuration == 0 {
		return nil
	}

	var deadline <-chan time.Time
	if captureDuration > 0 {
		timer := time.NewTimer(captureDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-ctx.Done():
	case <-deadline:
	case <-s.Done():
		if captureCount > 0 {
			// The tool stops by itself after --count packets.
			return nil
		}
		return s.Err()
	}
	return nil
}

// serveMetrics exposes registry on addr until the returned func is called.
func serveMetrics(addr string, registry *prometheus.Registry, logger *logging.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err.Error())
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
