package connection

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

type lineRecorder struct {
	mu     sync.Mutex
	stdout []string
	stderr []string
}

func (r *lineRecorder) handle(stream Stream, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stream == Stderr {
		r.stderr = append(r.stderr, line)
		return
	}
	r.stdout = append(r.stdout, line)
}

func TestLocalProcess_StreamsOutput(t *testing.T) {
	requireShell(t)

	conn := NewLocalConnection(TagLocal)
	p := conn.CreateProcess([]string{"sh", "-c", "echo one; echo two; echo oops 1>&2"})

	var rec lineRecorder
	require.NoError(t, p.Start(context.Background(), rec.handle))
	require.NoError(t, p.Wait())

	require.Equal(t, []string{"one", "two"}, rec.stdout)
	require.Equal(t, []string{"oops"}, rec.stderr)
}

func TestLocalProcess_ExitError(t *testing.T) {
	requireShell(t)

	p := NewLocalConnection(TagLocal).CreateProcess([]string{"sh", "-c", "exit 3"})
	require.NoError(t, p.Start(context.Background(), nil))

	err := p.Wait()
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "Wait() error = %v", err)
	require.Equal(t, 3, exitErr.ExitCode())
}

func TestLocalProcess_Lifecycle(t *testing.T) {
	requireShell(t)

	p := NewLocalConnection(TagLocal).CreateProcess([]string{"sh", "-c", "true"})

	require.Nil(t, p.Done())
	require.ErrorIs(t, p.Wait(), ErrNotRunning)
	require.ErrorIs(t, p.Interrupt(), ErrNotRunning)

	require.NoError(t, p.Start(context.Background(), nil))
	require.ErrorIs(t, p.Start(context.Background(), nil), ErrAlreadyRunning)
	require.NoError(t, p.Wait())
}

func TestLocalProcess_EmptyArgv(t *testing.T) {
	p := NewLocalConnection(TagLocal).CreateProcess(nil)
	require.ErrorIs(t, p.Start(context.Background(), nil), ErrEmptyCommand)
}

func TestLocalProcess_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewLocalConnection(TagLocal).CreateProcess([]string{"sh", "-c", "true"})
	require.ErrorIs(t, p.Start(ctx, nil), context.Canceled)
}

func TestLocalProcess_Interrupt(t *testing.T) {
	requireShell(t)

	p := NewLocalConnection(TagLocal).CreateProcess([]string{"sleep", "30"})
	require.NoError(t, p.Start(context.Background(), nil))
	require.NoError(t, p.Interrupt())

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		_ = p.Kill()
		t.Fatal("process did not exit after interrupt")
	}
	require.Error(t, p.Wait())

	// Signalling an exited process is not an error.
	require.NoError(t, p.Kill())
}

func TestLocalProcess_ArgvIsCopied(t *testing.T) {
	argv := []string{"echo", "hi"}
	p := NewLocalConnection(TagLocal).CreateProcess(argv)
	argv[0] = "changed"

	got := p.Argv()
	require.Equal(t, []string{"echo", "hi"}, got)
	got[1] = "mutated"
	require.Equal(t, "hi", p.Argv()[1])
}

func TestLocalProcess_TermType(t *testing.T) {
	requireShell(t)

	p := NewLocalConnection(TagLocal).CreateProcess(
		[]string{"sh", "-c", "echo $TERM"},
		WithTermType("xterm"),
	)

	var rec lineRecorder
	if err := p.Start(context.Background(), rec.handle); err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	require.NoError(t, p.Wait())
	require.True(t, slices.Contains(rec.stdout, "xterm"), "stdout = %q", rec.stdout)
}

func TestExecute(t *testing.T) {
	requireShell(t)

	p := NewLocalConnection(TagLocal).CreateProcess([]string{"sh", "-c", "echo out; echo err 1>&2"})
	res, err := Execute(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, "out\n", res.Stdout)
	require.Equal(t, "err\n", res.Stderr)
}

func TestExecute_ContextDeadline(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p := NewLocalConnection(TagLocal).CreateProcess([]string{"sleep", "30"})
	_, err := Execute(ctx, p)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalConnection_Download(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/dump.pcap", []byte("pcap-bytes"), 0o644))

	conn := NewLocalConnection(TagConeClient1, WithLocalFs(fs))
	require.NoError(t, conn.Download(context.Background(), "/dump.pcap", "/logs/cone-client-1.pcap"))

	data, err := afero.ReadFile(fs, "/logs/cone-client-1.pcap")
	require.NoError(t, err)
	require.Equal(t, "pcap-bytes", string(data))

	require.Error(t, conn.Download(context.Background(), "/missing.pcap", "/logs/x.pcap"))
}

func TestLocalConnection_DownloadFailureRemovesLocalFile(t *testing.T) {
	conn := NewLocalConnection(TagLocal, WithLocalFs(afero.NewOsFs()))
	local := filepath.Join(t.TempDir(), "local.pcap")

	// The source opens but cannot be read.
	require.Error(t, conn.Download(context.Background(), t.TempDir(), local))

	_, err := os.Stat(local)
	require.True(t, os.IsNotExist(err), "partial download left at %s", local)
}

func TestLocalConnection_Identity(t *testing.T) {
	conn := NewLocalConnection(TagMacVM)
	require.Equal(t, Mac, conn.TargetOS())
	require.Equal(t, "mac-vm", conn.TargetName())
}
