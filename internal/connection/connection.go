package connection

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

// Common errors returned by Process implementations.
var (
	// ErrAlreadyRunning is returned when Start is called on a process that was already started.
	ErrAlreadyRunning = errors.New("process already running")

	// ErrNotRunning is returned when an operation requires a started process.
	ErrNotRunning = errors.New("process not running")

	// ErrEmptyCommand is returned when a process is created without an argv.
	ErrEmptyCommand = errors.New("empty command")
)

// Stream identifies which output of a process a line came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

// String returns "stdout" or "stderr".
func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// OutputHandler receives process output one line at a time, without the
// trailing newline. It may be called from several goroutines.
type OutputHandler func(stream Stream, line string)

// Connection is the transport to a single test peer.
type Connection interface {
	// TargetOS is the peer's operating system.
	TargetOS() TargetOS

	// TargetName names the peer for artifact files.
	TargetName() string

	// CreateProcess prepares argv for execution on the peer. Nothing runs
	// until the returned Process is started.
	CreateProcess(argv []string, opts ...ProcessOption) Process

	// Download copies remotePath on the peer to localPath on this machine.
	Download(ctx context.Context, remotePath, localPath string) error
}

// Process is a command running on a peer.
//
// The typical lifecycle is:
//  1. conn.CreateProcess(argv)
//  2. Start(ctx, handler) launches it and begins streaming output
//  3. Interrupt() or Kill() to end it early
//  4. Wait() or <-Done() to observe the exit
type Process interface {
	// Start launches the process. ctx bounds the launch only; the process
	// keeps running after ctx is done.
	//
	// Returns ErrAlreadyRunning if Start was already called.
	Start(ctx context.Context, handler OutputHandler) error

	// Wait blocks until the process exits and all of its output has been
	// delivered, then returns the exit error.
	//
	// Returns ErrNotRunning if the process was never started.
	// Wait can be called concurrently from multiple goroutines.
	Wait() error

	// Done is closed once the process has exited and its output is drained.
	// It is nil before Start.
	Done() <-chan struct{}

	// Interrupt asks the process to terminate (SIGINT or equivalent).
	Interrupt() error

	// Kill terminates the process immediately.
	Kill() error

	// Argv returns the command line the process was created with.
	Argv() []string
}

// ProcessOption configures a process created by a Connection.
type ProcessOption func(*ProcessConfig)

// ProcessConfig holds per-process settings.
type ProcessConfig struct {
	// TermType requests a pseudo-terminal of the given type (e.g. "xterm").
	// Stdout and stderr are merged into Stdout when a terminal is used.
	TermType string

	// Env holds extra KEY=VALUE pairs.
	Env []string
}

// WithTermType requests a pseudo-terminal for the process.
func WithTermType(term string) ProcessOption {
	return func(c *ProcessConfig) {
		c.TermType = term
	}
}

// WithEnv adds environment variables to the process.
func WithEnv(env ...string) ProcessOption {
	return func(c *ProcessConfig) {
		c.Env = append(c.Env, env...)
	}
}

// NewProcessConfig applies opts to an empty ProcessConfig.
func NewProcessConfig(opts ...ProcessOption) ProcessConfig {
	var cfg ProcessConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Result is the collected output of a short-lived command.
type Result struct {
	Stdout string
	Stderr string
}

// Execute starts p, waits for it to exit and returns its collected output.
// If ctx is done first the process is killed and ctx.Err() is returned.
func Execute(ctx context.Context, p Process) (Result, error) {
	var (
		mu     sync.Mutex
		stdout strings.Builder
		stderr strings.Builder
	)

	handler := func(stream Stream, line string) {
		mu.Lock()
		defer mu.Unlock()
		if stream == Stderr {
			stderr.WriteString(line)
			stderr.WriteByte('\n')
			return
		}
		stdout.WriteString(line)
		stdout.WriteByte('\n')
	}

	if err := p.Start(ctx, handler); err != nil {
		return Result{}, err
	}

	select {
	case <-p.Done():
	case <-ctx.Done():
		_ = p.Kill()
		<-p.Done()
		return collect(&mu, &stdout, &stderr), ctx.Err()
	}

	return collect(&mu, &stdout, &stderr), p.Wait()
}

func collect(mu *sync.Mutex, stdout, stderr *strings.Builder) Result {
	mu.Lock()
	defer mu.Unlock()
	return Result{Stdout: stdout.String(), Stderr: stderr.String()}
}

// maxLineSize bounds a single output line.
const maxLineSize = 1024 * 1024

// scanLines reads r until EOF and hands each line to handler, stripping
// a trailing carriage return left by terminals.
func scanLines(r io.Reader, stream Stream, handler OutputHandler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSuffix(scanner.Bytes(), []byte{'\r'})
		if handler != nil {
			handler(stream, string(line))
		}
	}
	return scanner.Err()
}
