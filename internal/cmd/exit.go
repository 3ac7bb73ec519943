package cmd

import (
	"fmt"
	"io"

	"github.com/Iron-Ham/nettrace/internal/errors"
)

// Exit statuses of the nettrace binary.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitViolation = 2
	ExitTimeout   = 3
)

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, errLimitsViolated):
		return ExitViolation
	case errors.IsTimeout(err):
		return ExitTimeout
	default:
		return ExitFailure
	}
}

// ReportError prints err for a person at a terminal. Errors that are not
// meant for users are summarised and left to the log.
func ReportError(w io.Writer, err error) {
	if err == nil {
		return
	}

	label := "Error"
	if errors.GetSeverity(err) == errors.SeverityWarning {
		label = "Warning"
	}

	if errors.Is(err, errLimitsViolated) || errors.IsUserFacing(err) {
		_, _ = fmt.Fprintf(w, "%s: %v\n", label, err)
	} else {
		_, _ = fmt.Fprintf(w, "%s: %v (see the nettrace log for details)\n", label, err)
	}

	if errors.IsRetryable(err) {
		_, _ = fmt.Fprintln(w, "The failure looks transient; running the command again may succeed.")
	}
}
