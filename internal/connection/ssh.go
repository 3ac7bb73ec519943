package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/Iron-Ham/nettrace/internal/logging"
)

// SSHConfig describes how to reach a remote peer.
type SSHConfig struct {
	Host       string
	Port       int
	User       string
	KeyFile    string
	Password   string
	KnownHosts string // Empty disables host key verification
	Timeout    time.Duration
}

func (c SSHConfig) addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func (c SSHConfig) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if c.KeyFile != "" {
		pem, err := os.ReadFile(c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse key file %s: %w", c.KeyFile, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		auth = append(auth, ssh.Password(c.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("no ssh authentication method configured")
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if c.KnownHosts != "" {
		cb, err := knownhosts.New(c.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKey = cb
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         c.Timeout,
	}, nil
}

// SSHConnection runs processes on a remote peer over one SSH client.
type SSHConnection struct {
	tag    Tag
	client *ssh.Client
	fs     afero.Fs
	logger *logging.Logger
}

// SSHOption configures an SSHConnection.
type SSHOption func(*SSHConnection)

// WithSSHFs sets the local filesystem downloads are written to.
func WithSSHFs(fs afero.Fs) SSHOption {
	return func(c *SSHConnection) {
		c.fs = fs
	}
}

// WithSSHLogger sets the logger.
func WithSSHLogger(logger *logging.Logger) SSHOption {
	return func(c *SSHConnection) {
		c.logger = logger
	}
}

// DialSSH connects to cfg.Host and returns a connection for the peer tag.
func DialSSH(ctx context.Context, tag Tag, cfg SSHConfig, opts ...SSHOption) (*SSHConnection, error) {
	clientCfg, err := cfg.clientConfig()
	if err != nil {
		return nil, err
	}

	addr := cfg.addr()
	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	return NewSSHConnection(tag, ssh.NewClient(c, chans, reqs), opts...), nil
}

// NewSSHConnection wraps an established client.
func NewSSHConnection(tag Tag, client *ssh.Client, opts ...SSHOption) *SSHConnection {
	c := &SSHConnection{
		tag:    tag,
		client: client,
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
func (c *SSHConnection) TargetOS() TargetOS { return c.tag.TargetOS() }

// TargetName returns the tag's target name.
func (c *SSHConnection) TargetName() string { return c.tag.TargetName() }

// Close closes the underlying client.
func (c *SSHConnection) Close() error {
	return c.client.Close()
}

// CreateProcess prepares argv to run on the peer.
func (c *SSHConnection) CreateProcess(argv []string, opts ...ProcessOption) Process {
	c.logger.Debug("creating process", "argv", argv, "target_os", c.TargetOS())
	return &SSHProcess{
		client: c.client,
		os:     c.TargetOS(),
		argv:   append([]string(nil), argv...),
		cfg:    NewProcessConfig(opts...),
	}
}

// Download streams the remote file through cat (or type on Windows) into localPath.
func (c *SSHConnection) Download(ctx context.Context, remotePath, localPath string) error {
	session, err := c.client.NewSession()
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer func() { _ = session.Close() }()

	dst, err := c.fs.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}
	session.Stdout = dst

	reader := []string{"cat", remotePath}
	if c.TargetOS() == Windows {
		reader = []string{"type", remotePath}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- session.Run(JoinCommand(c.TargetOS(), reader))
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		_ = session.Close()
		<-errCh
		err = ctx.Err()
	}

	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = c.fs.Remove(localPath)
		return fmt.Errorf("download %s: %w", remotePath, err)
	}
	return nil
}

// SSHProcess is a command running in an SSH session.
type SSHProcess struct {
	client *ssh.Client
	os     TargetOS
	argv   []string
	cfg    ProcessConfig

	mu      sync.Mutex
	session *ssh.Session
	stdin   io.WriteCloser
	done    chan struct{}
	waitErr error
}

// Argv returns the command line.
func (p *SSHProcess) Argv() []string {
	return append([]string(nil), p.argv...)
}

// Start opens a session, runs the quoted command and streams its output.
func (p *SSHProcess) Start(ctx context.Context, handler OutputHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session != nil {
		return ErrAlreadyRunning
	}
	if len(p.argv) == 0 {
		return ErrEmptyCommand
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	session, err := p.client.NewSession()
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	for _, kv := range p.cfg.Env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			// Servers commonly refuse AcceptEnv; the command still runs.
			_ = session.Setenv(k, v)
		}
	}

	if p.cfg.TermType != "" {
		if err := session.RequestPty(p.cfg.TermType, 40, 200, ssh.TerminalModes{}); err != nil {
			_ = session.Close()
			return fmt.Errorf("request pty: %w", err)
		}
		stdin, err := session.StdinPipe()
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("open stdin: %w", err)
		}
		p.stdin = stdin
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		return fmt.Errorf("open stdout: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		_ = session.Close()
		return fmt.Errorf("open stderr: %w", err)
	}

	if err := session.Start(JoinCommand(p.os, p.argv)); err != nil {
		_ = session.Close()
		return fmt.Errorf("start %s: %w", p.argv[0], err)
	}

	p.session = session
	p.done = make(chan struct{})
	go p.monitor(stdout, stderr, handler)

	return nil
}

func (p *SSHProcess) monitor(stdout, stderr io.Reader, handler OutputHandler) {
	var wg sync.WaitGroup
	wg.Go(func() { _ = scanLines(stdout, Stdout, handler) })
	wg.Go(func() { _ = scanLines(stderr, Stderr, handler) })
	wg.Wait()

	err := p.session.Wait()
	_ = p.session.Close()

	p.mu.Lock()
	p.waitErr = err
	p.mu.Unlock()
	close(p.done)
}

// Done is closed once the remote command has exited.
func (p *SSHProcess) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Wait blocks until the remote command exits and returns its exit error.
func (p *SSHProcess) Wait() error {
	done := p.Done()
	if done == nil {
		return ErrNotRunning
	}
	<-done

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Interrupt sends SIGINT over the channel. Under a pty it also types ^C,
// which servers that ignore signal requests still honour.
func (p *SSHProcess) Interrupt() error {
	p.mu.Lock()
	session, stdin := p.session, p.stdin
	p.mu.Unlock()

	if session == nil {
		return ErrNotRunning
	}
	err := session.Signal(ssh.SIGINT)
	if stdin != nil {
		if _, werr := stdin.Write([]byte{0x03}); werr == nil {
			return nil
		}
	}
	return err
}

// Kill sends SIGKILL and closes the session.
func (p *SSHProcess) Kill() error {
	p.mu.Lock()
	session := p.session
	p.mu.Unlock()

	if session == nil {
		return ErrNotRunning
	}
	_ = session.Signal(ssh.SIGKILL)
	if err := session.Close(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
