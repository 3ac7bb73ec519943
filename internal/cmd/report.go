package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"

	"github.com/Iron-Ham/nettrace/internal/artifact"
	"github.com/Iron-Ham/nettrace/internal/event"
	"github.com/Iron-Ham/nettrace/internal/tracker"
)

// maxMatchesWidth caps the descriptor column; long address lists are cut.
const maxMatchesWidth = 48

var (
	okColor    = lipgloss.Color("#10B981")
	failColor  = lipgloss.Color("#F87171")
	mutedColor = lipgloss.Color("#9CA3AF")
)

// reportStyles is the set of styles used when printing a report. The zero
// value prints plain text.
type reportStyles struct {
	title  lipgloss.Style
	header lipgloss.Style
	ok     lipgloss.Style
	fail   lipgloss.Style
	muted  lipgloss.Style
}

func plainStyles() reportStyles {
	return reportStyles{}
}

func colorStyles() reportStyles {
	return reportStyles{
		title:  lipgloss.NewStyle().Bold(true),
		header: lipgloss.NewStyle().Bold(true).Underline(true),
		ok:     lipgloss.NewStyle().Foreground(okColor),
		fail:   lipgloss.NewStyle().Foreground(failColor).Bold(true),
		muted:  lipgloss.NewStyle().Foreground(mutedColor),
	}
}

// stylesFor picks colored output only when w is a terminal.
func stylesFor(w io.Writer) reportStyles {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return colorStyles()
	}
	return plainStyles()
}

// renderReport writes one table row per channel and returns the number of
// channels outside their limits.
func renderReport(w io.Writer, title string, states []tracker.ChannelState, st reportStyles) int {
	headers := []string{"CHANNEL", "MATCHES", "LIMITS", "COUNT", "STATUS"}
	rows := make([][]string, len(states))
	violations := 0
	for i, s := range states {
		status := "ok"
		if !s.Within() {
			status = "VIOLATION"
			violations++
		}
		rows[i] = []string{s.Name, truncate(s.Descriptor.String(), maxMatchesWidth), s.Limits.String(), strconv.Itoa(s.Count), status}
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	_, _ = fmt.Fprintln(w, st.title.Render(title))

	cells := make([]string, len(headers))
	for i, h := range headers {
		if i < len(headers)-1 {
			h = pad(h, widths[i])
		}
		cells[i] = st.header.Render(h)
	}
	_, _ = fmt.Fprintln(w, strings.Join(cells, "  "))

	for r, row := range rows {
		last := len(row) - 1
		for i, cell := range row[:last] {
			cells[i] = pad(cell, widths[i])
		}
		if states[r].Within() {
			cells[last] = st.ok.Render(row[last])
		} else {
			cells[last] = st.fail.Render(row[last])
		}
		_, _ = fmt.Fprintln(w, strings.Join(cells, "  "))

		for _, conn := range states[r].Connections {
			_, _ = fmt.Fprintln(w, st.muted.Render("    "+conn))
		}
	}

	if violations == 0 {
		_, _ = fmt.Fprintln(w, st.ok.Render("all channels within limits"))
	} else {
		_, _ = fmt.Fprintln(w, st.fail.Render(fmt.Sprintf("%d channel(s) out of limits", violations)))
	}
	return violations
}

func renderArtifacts(w io.Writer, results []artifact.Result, st reportStyles) {
	for _, r := range results {
		switch {
		case r.Err != nil:
			_, _ = fmt.Fprintf(w, "%s %s: %v\n", st.fail.Render("artifact"), r.Connection, r.Err)
		case r.LocalPath != "":
			_, _ = fmt.Fprintf(w, "%s %s: %s\n", st.ok.Render("artifact"), r.Connection, r.LocalPath)
		default:
			_, _ = fmt.Fprintf(w, "%s %s: removed %s\n", st.muted.Render("artifact"), r.Connection, r.RemotePath)
		}
	}
}

// describeEvent renders a bus event as one progress line, or "" for events
// not worth printing.
func describeEvent(e event.Event) string {
	switch ev := e.(type) {
	case event.CaptureStartedEvent:
		return fmt.Sprintf("capture started on %s: %s", ev.Connection, strings.Join(ev.Argv, " "))
	case event.CaptureDiedEvent:
		if ev.Err != nil {
			return fmt.Sprintf("capture on %s exited: %v", ev.Connection, ev.Err)
		}
		return fmt.Sprintf("capture on %s exited", ev.Connection)
	case event.CaptureStoppedEvent:
		if ev.Killed {
			return fmt.Sprintf("capture on %s killed", ev.Connection)
		}
		return fmt.Sprintf("capture on %s stopped", ev.Connection)
	case event.ConnectionObservedEvent:
		return fmt.Sprintf("%s: %s %s (count %d)", ev.Channel, ev.Protocol, ev.Peer, ev.Count)
	default:
		return ""
	}
}

func truncate(s string, width int) string {
	if ansi.StringWidth(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, "...")
}

func pad(s string, width int) string {
	if n := width - len(s); n > 0 {
		return s + strings.Repeat(" ", n)
	}
	return s
}
