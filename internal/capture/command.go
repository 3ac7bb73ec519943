package capture

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Iron-Ham/nettrace/internal/artifact"
	"github.com/Iron-Ham/nettrace/internal/connection"
	"github.com/Iron-Ham/nettrace/internal/errors"
)

// Default capture file locations on each target.
const (
	LinuxCaptureFile   = artifact.LinuxPath
	MacCaptureFile     = artifact.MacPath
	WindowsCaptureFile = artifact.WindowsPath
)

// DefaultCaptureFile returns where the capture tool writes on os when the
// caller does not choose a path.
func DefaultCaptureFile(os connection.TargetOS) (string, error) {
	switch os {
	case connection.Linux:
		return LinuxCaptureFile, nil
	case connection.Mac:
		return MacCaptureFile, nil
	case connection.Windows:
		return WindowsCaptureFile, nil
	default:
		return "", errors.NewCaptureError(fmt.Sprintf("target os %q not supported", os), errors.ErrConfiguration)
	}
}

// Options is the platform-neutral capture request.
type Options struct {
	// Flags are passed to the tool verbatim, after the generated flags.
	Flags []string
	// Expressions are filter expressions appended after the port exclusion.
	// The tool joins every trailing argument into one filter, so an
	// expression usually starts with a conjunction such as "and".
	Expressions []string
	// Interfaces to capture on. Empty captures on every interface.
	Interfaces []string
	// OutputFile on the target. Empty uses DefaultCaptureFile.
	OutputFile string
	// Count stops the capture after this many packets when positive.
	Count int
}

// ToolConfig holds the target-independent settings of the capture tool.
type ToolConfig struct {
	ExcludedPort  int
	WindumpBinary string
}

// DefaultToolConfig excludes SSH traffic and uses the stock windump location.
func DefaultToolConfig() ToolConfig {
	return ToolConfig{
		ExcludedPort:  22,
		WindumpBinary: `C:\workspace\WinDump.exe`,
	}
}

// Invocation is a fully resolved capture command.
type Invocation struct {
	Argv       []string
	OutputFile string
	// TermType is requested from the transport when non-empty.
	TermType string
	// Warnings describe parts of the request the target cannot honour.
	Warnings []string
}

// BuildCommand translates opts into the tool invocation for os. printPackets
// asks the tool to also print decoded packets to stdout while writing, which
// line-buffers output for a classifier.
func BuildCommand(os connection.TargetOS, opts Options, tool ToolConfig, printPackets bool) (Invocation, error) {
	var inv Invocation

	var binary string
	switch os {
	case connection.Linux, connection.Mac:
		binary = "tcpdump"
	case connection.Windows:
		if tool.WindumpBinary == "" {
			return inv, errors.NewCaptureError("windump binary not configured", errors.ErrConfiguration).
				WithTool("windump")
		}
		binary = tool.WindumpBinary
		if printPackets {
			return inv, errors.NewCaptureError("windump cannot print packets while writing a capture file", errors.ErrConfiguration).
				WithTool(binary)
		}
	default:
		return inv, errors.NewCaptureError(fmt.Sprintf("target os %q not supported", os), errors.ErrConfiguration)
	}

	if opts.Count < 0 {
		return inv, errors.NewCaptureError(fmt.Sprintf("negative packet count %d", opts.Count), errors.ErrConfiguration).
			WithTool(binary)
	}
	if tool.ExcludedPort < 1 || tool.ExcludedPort > 65535 {
		return inv, errors.NewCaptureError(fmt.Sprintf("excluded port %d out of range", tool.ExcludedPort), errors.ErrConfiguration).
			WithTool(binary)
	}

	output := opts.OutputFile
	if output == "" {
		output, _ = DefaultCaptureFile(os)
	}
	inv.OutputFile = output

	argv := []string{binary, "-n", "-w", output}

	switch {
	case len(opts.Interfaces) == 0 && os == connection.Windows:
		argv = append(argv, "-i", "1")
	case len(opts.Interfaces) == 0:
		argv = append(argv, "-i", "any")
	case os == connection.Windows:
		if len(opts.Interfaces) > 1 {
			inv.Warnings = append(inv.Warnings,
				fmt.Sprintf("windump supports one interface at a time, capturing on %s only", opts.Interfaces[0]))
		}
		argv = append(argv, "-i", opts.Interfaces[0])
	default:
		argv = append(argv, "-i", strings.Join(opts.Interfaces, ","))
	}

	if opts.Count > 0 {
		argv = append(argv, "-c", strconv.Itoa(opts.Count))
	}

	if printPackets {
		argv = append(argv, "-l", "--print")
	}

	argv = append(argv, opts.Flags...)

	port := strconv.Itoa(tool.ExcludedPort)
	if os == connection.Windows {
		argv = append(argv, "not port "+port)
	} else {
		argv = append(argv, "--immediate-mode", "port not "+port)
	}

	argv = append(argv, opts.Expressions...)

	// Without a terminal, tcpdump on macOS ignores SIGINT while writing a file.
	if os == connection.Mac {
		inv.TermType = "xterm"
	}

	inv.Argv = argv
	return inv, nil
}
