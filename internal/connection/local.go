package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"github.com/spf13/afero"

	"github.com/Iron-Ham/nettrace/internal/logging"
)

// LocalConnection runs processes on this machine.
type LocalConnection struct {
	tag    Tag
	fs     afero.Fs
	logger *logging.Logger
}

// LocalOption configures a LocalConnection.
type LocalOption func(*LocalConnection)

// WithLocalFs sets the filesystem Download copies through.
func WithLocalFs(fs afero.Fs) LocalOption {
	return func(c *LocalConnection) {
		c.fs = fs
	}
}

// WithLocalLogger sets the logger.
func WithLocalLogger(logger *logging.Logger) LocalOption {
	return func(c *LocalConnection) {
		c.logger = logger
	}
}

// NewLocalConnection creates a connection for a peer that is this machine.
func NewLocalConnection(tag Tag, opts ...LocalOption) *LocalConnection {
	c := &LocalConnection{
		tag:    tag,
		fs:     afero.NewOsFs(),
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithConnection(tag.TargetName())
	return c
}

// TargetOS returns the OS of the tag.
func (c *LocalConnection) TargetOS() TargetOS { return c.tag.TargetOS() }

// TargetName returns the tag's target name.
func (c *LocalConnection) TargetName() string { return c.tag.TargetName() }

// CreateProcess prepares argv to run locally.
func (c *LocalConnection) CreateProcess(argv []string, opts ...ProcessOption) Process {
	c.logger.Debug("creating process", "argv", argv)
	return &LocalProcess{
		argv: append([]string(nil), argv...),
		cfg:  NewProcessConfig(opts...),
	}
}

// Download copies a local file. Both paths are on this machine.
func (c *LocalConnection) Download(ctx context.Context, remotePath, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := c.fs.Open(remotePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", remotePath, err)
	}
	defer func() { _ = src.Close() }()

	dst, err := c.fs.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = c.fs.Remove(localPath)
		return fmt.Errorf("copy %s: %w", remotePath, err)
	}
	if err := dst.Close(); err != nil {
		_ = c.fs.Remove(localPath)
		return fmt.Errorf("close %s: %w", localPath, err)
	}
	return nil
}

// LocalProcess is a process started with os/exec.
type LocalProcess struct {
	argv []string
	cfg  ProcessConfig

	mu      sync.Mutex
	cmd     *exec.Cmd
	tty     *os.File
	done    chan struct{}
	waitErr error
}

// Argv returns the command line.
func (p *LocalProcess) Argv() []string {
	return append([]string(nil), p.argv...)
}

// Start launches the process and begins streaming its output.
func (p *LocalProcess) Start(ctx context.Context, handler OutputHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return ErrAlreadyRunning
	}
	if len(p.argv) == 0 {
		return ErrEmptyCommand
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := exec.Command(p.argv[0], p.argv[1:]...)
	cmd.Env = append(os.Environ(), p.cfg.Env...)

	var readers []func() error
	if p.cfg.TermType != "" {
		cmd.Env = append(cmd.Env, "TERM="+p.cfg.TermType)
		tty, err := pty.Start(cmd)
		if err != nil {
			return fmt.Errorf("failed to start %s under pty: %w", p.argv[0], err)
		}
		p.tty = tty
		readers = append(readers, func() error {
			return ignorePtyEOF(scanLines(tty, Stdout, handler))
		})
	} else {
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("failed to open stdout: %w", err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return fmt.Errorf("failed to open stderr: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("failed to start %s: %w", p.argv[0], err)
		}
		readers = append(readers,
			func() error { return scanLines(stdout, Stdout, handler) },
			func() error { return scanLines(stderr, Stderr, handler) },
		)
	}

	p.cmd = cmd
	p.done = make(chan struct{})
	go p.monitor(readers)

	return nil
}

// monitor drains the output readers, then reaps the process.
func (p *LocalProcess) monitor(readers []func() error) {
	var wg sync.WaitGroup
	for _, read := range readers {
		wg.Go(func() {
			_ = read()
		})
	}
	wg.Wait()

	err := p.cmd.Wait()
	if p.tty != nil {
		_ = p.tty.Close()
	}

	p.mu.Lock()
	p.waitErr = err
	p.mu.Unlock()
	close(p.done)
}

// Done is closed once the process has exited.
func (p *LocalProcess) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Wait blocks until the process exits and returns its exit error.
func (p *LocalProcess) Wait() error {
	done := p.Done()
	if done == nil {
		return ErrNotRunning
	}
	<-done

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Interrupt sends SIGINT.
func (p *LocalProcess) Interrupt() error {
	return p.signal(syscall.SIGINT)
}

// Kill terminates the process.
func (p *LocalProcess) Kill() error {
	return p.signal(os.Kill)
}

func (p *LocalProcess) signal(sig os.Signal) error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return ErrNotRunning
	}
	if err := cmd.Process.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return err
	}
	return nil
}

// ignorePtyEOF treats the EIO a pty master returns after the child exits as EOF.
func ignorePtyEOF(err error) error {
	if errors.Is(err, syscall.EIO) {
		return nil
	}
	return err
}
