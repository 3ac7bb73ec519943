package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/nettrace/internal/connection"
	"github.com/Iron-Ham/nettrace/internal/errors"
	"github.com/Iron-Ham/nettrace/internal/follow"
	"github.com/Iron-Ham/nettrace/internal/tracker"
)

var classifyCmd = &cobra.Command{
	Use:   "classify FILE",
	Short: "Classify recorded traffic against the channel limits",
	Long: `Classify reads recorded traffic and prints the per-channel report.

FILE is either text output of tcpdump or conntrack, one packet or flow per
line, or a capture file written by tcpdump -w (pcap or pcapng). Files ending
in .pcap or .pcapng are read as captures; use --pcap to force it.

With --follow the text file is tailed as it grows until interrupted, until
--duration elapses, or until the --wait channels have been observed.`,
	Args: cobra.ExactArgs(1),
	RunE: runClassify,
}

var (
	classifyTag         string
	classifyTracker     trackerSource
	classifyPcap        bool
	classifyFollow      bool
	classifyLocalNets   []string
	classifyWait        []string
	classifyWaitTimeout time.Duration
	classifyDuration    time.Duration
)

func init() {
	f := classifyCmd.Flags()
	f.StringVar(&classifyTag, "tag", string(connection.TagLocal), "connection tag of the peer the traffic was recorded on")
	classifyTracker.register(f)
	f.BoolVar(&classifyPcap, "pcap", false, "read FILE as a pcap/pcapng capture")
	f.BoolVarP(&classifyFollow, "follow", "f", false, "keep reading FILE as it grows")
	f.StringSliceVar(&classifyLocalNets, "local-net", nil, "addresses or prefixes of the recording peer, used for direction")
	f.StringSliceVar(&classifyWait, "wait", nil, "with --follow, stop once these channels were observed")
	f.DurationVar(&classifyWaitTimeout, "wait-timeout", 30*time.Second, "timeout for each --wait channel")
	f.DurationVar(&classifyDuration, "duration", 0, "with --follow, stop after this long")

	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	path := args[0]
	pcap := classifyPcap || isCaptureFile(path)
	if pcap && classifyFollow {
		return fmt.Errorf("--follow reads text output, not capture files")
	}
	if len(classifyWait) > 0 && !classifyFollow {
		return fmt.Errorf("--wait only applies with --follow")
	}

	tag, err := connection.ParseTag(classifyTag)
	if err != nil {
		return err
	}
	localNets, err := parsePrefixes(classifyLocalNets)
	if err != nil {
		return err
	}
	tcfg, err := classifyTracker.resolve(afero.NewOsFs(), tag, cfg.Tracker.ConfigFile)
	if err != nil {
		return err
	}
	ledger, err := tracker.NewLedger(tcfg, tracker.WithLogger(logger), tracker.WithLocalNetworks(localNets...))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case pcap:
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		stats, err := tracker.ReplayPcap(f, ledger, localNets)
		if err != nil {
			return err
		}
		logger.Info("capture replayed", "path", path, "packets", stats.Packets, "records", stats.Records)

	case classifyFollow:
		tailer, err := follow.New(path, follow.WithLogger(logger))
		if err != nil {
			return err
		}
		if err := followLedger(ctx, tailer, ledger); err != nil {
			return err
		}

	default:
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		if err := classifyText(f, ledger); err != nil {
			return err
		}
	}

	ledger.Freeze()
	out := cmd.OutOrStdout()
	title := fmt.Sprintf("%s (%s)", filepath.Base(path), tag)
	if renderReport(out, title, ledger.Snapshot(), stylesFor(out)) > 0 {
		return errLimitsViolated
	}
	return nil
}

func isCaptureFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".pcap" || ext == ".pcapng"
}

func classifyText(r io.Reader, ledger *tracker.Ledger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		ledger.HandleLine(scanner.Text())
	}
	return scanner.Err()
}

// followLedger feeds the tailed file into ledger until the wait channels
// were seen, --duration elapsed, the file went away or ctx was cancelled.
func followLedger(ctx context.Context, tailer *follow.Tailer, ledger *tracker.Ledger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tailDone := make(chan error, 1)
	go func() {
		tailDone <- tailer.Run(ctx, ledger.HandleLine)
	}()

	waitDone := make(chan error, 1)
	go func() {
		waitDone <- awaitChannels(ctx, ledger)
	}()

	var err error
	select {
	case err = <-tailDone:
	case err = <-waitDone:
		cancel()
		<-tailDone
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// awaitChannels returns once every --wait channel was observed and
// --duration elapsed. Without either it blocks until ctx is done.
func awaitChannels(ctx context.Context, ledger *tracker.Ledger) error {
	for _, name := range classifyWait {
		if err := ledger.WaitForEvent(ctx, name, classifyWaitTimeout); err != nil {
			return err
		}
	}

	switch {
	case classifyDuration > 0:
		select {
		case <-ctx.Done():
		case <-time.After(classifyDuration):
		}
	case len(classifyWait) == 0:
		<-ctx.Done()
	}
	return nil
}
