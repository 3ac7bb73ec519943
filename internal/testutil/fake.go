package testutil

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/nettrace/internal/connection"
)

// Exit errors reported by FakeProcess.
var (
	ErrInterrupted = errors.New("fake process interrupted")
	ErrKilled      = errors.New("fake process killed")
)

// Behavior runs in its own goroutine once a FakeProcess starts. It drives the
// process by calling Emit and Exit.
type Behavior func(p *FakeProcess)

// EmitLines returns a Behavior that writes lines to stdout and keeps running.
func EmitLines(lines ...string) Behavior {
	return func(p *FakeProcess) {
		for _, line := range lines {
			p.Emit(connection.Stdout, line)
		}
	}
}

// ExitWith returns a Behavior that exits immediately with err.
func ExitWith(err error) Behavior {
	return func(p *FakeProcess) {
		p.Exit(err)
	}
}

// Then chains behaviors in order.
func Then(behaviors ...Behavior) Behavior {
	return func(p *FakeProcess) {
		for _, b := range behaviors {
			b(p)
		}
	}
}

// FakeConnection is an in-memory connection.Connection. Processes it creates
// do nothing unless a Behavior is registered for their command.
type FakeConnection struct {
	OS   connection.TargetOS
	Name string

	// Fs receives downloaded files. Defaults to an in-memory filesystem.
	Fs afero.Fs

	mu          sync.Mutex
	behaviors   map[string]Behavior
	remoteFiles map[string][]byte
	downloadErr error
	processes   []*FakeProcess
	downloads   []Download
}

// Download records one Download call.
type Download struct {
	RemotePath string
	LocalPath  string
	Err        error
}

// NewFakeConnection creates a fake connection for a peer.
func NewFakeConnection(os connection.TargetOS, name string) *FakeConnection {
	return &FakeConnection{
		OS:          os,
		Name:        name,
		Fs:          afero.NewMemMapFs(),
		behaviors:   make(map[string]Behavior),
		remoteFiles: make(map[string][]byte),
	}
}

// TargetOS returns the configured OS.
func (c *FakeConnection) TargetOS() connection.TargetOS { return c.OS }

// TargetName returns the configured name.
func (c *FakeConnection) TargetName() string { return c.Name }

// On registers the behavior for processes whose argv[0] is command.
func (c *FakeConnection) On(command string, b Behavior) *FakeConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.behaviors[command] = b
	return c
}

// PutRemoteFile places a file on the fake peer.
func (c *FakeConnection) PutRemoteFile(path string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteFiles[path] = append([]byte(nil), data...)
}

// RemoteFileExists reports whether path is still on the fake peer.
func (c *FakeConnection) RemoteFileExists(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.remoteFiles[path]
	return ok
}

// FailDownloads makes every subsequent Download return err.
func (c *FakeConnection) FailDownloads(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.downloadErr = err
}

// CreateProcess returns a FakeProcess. "rm" and "del" remove the named remote
// file and exit unless another behavior was registered.
func (c *FakeConnection) CreateProcess(argv []string, opts ...connection.ProcessOption) connection.Process {
	c.mu.Lock()
	defer c.mu.Unlock()

	var behavior Behavior
	if len(argv) > 0 {
		behavior = c.behaviors[argv[0]]
		if behavior == nil && (argv[0] == "rm" || argv[0] == "del") {
			behavior = c.removeBehavior
		}
	}

	p := &FakeProcess{
		argv:     append([]string(nil), argv...),
		config:   connection.NewProcessConfig(opts...),
		behavior: behavior,
	}
	c.processes = append(c.processes, p)
	return p
}

func (c *FakeConnection) removeBehavior(p *FakeProcess) {
	argv := p.Argv()
	c.mu.Lock()
	path := argv[len(argv)-1]
	delete(c.remoteFiles, path)
	c.mu.Unlock()
	p.Exit(nil)
}

// Processes returns every process created so far.
func (c *FakeConnection) Processes() []*FakeProcess {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.processes)
}

// Commands returns the argv of every process created so far, space-joined.
func (c *FakeConnection) Commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmds := make([]string, len(c.processes))
	for i, p := range c.processes {
		cmds[i] = strings.Join(p.argv, " ")
	}
	return cmds
}

// Downloads returns every Download call so far.
func (c *FakeConnection) Downloads() []Download {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.downloads)
}

// Download copies a fake remote file into Fs.
func (c *FakeConnection) Download(ctx context.Context, remotePath, localPath string) error {
	c.mu.Lock()
	data, ok := c.remoteFiles[remotePath]
	err := c.downloadErr
	c.mu.Unlock()

	if err == nil {
		err = ctx.Err()
	}
	if err == nil && !ok {
		err = fmt.Errorf("remote file %s does not exist", remotePath)
	}
	if err == nil {
		err = afero.WriteFile(c.Fs, localPath, data, 0o644)
	}

	c.mu.Lock()
	c.downloads = append(c.downloads, Download{RemotePath: remotePath, LocalPath: localPath, Err: err})
	c.mu.Unlock()
	return err
}

// FakeProcess is a scripted connection.Process.
type FakeProcess struct {
	argv     []string
	config   connection.ProcessConfig
	behavior Behavior

	mu              sync.Mutex
	ignoreInterrupt bool
	handler     connection.OutputHandler
	done        chan struct{}
	exitOnce    sync.Once
	exitErr     error
	interrupts  int
	killed      bool
	startedOnce bool
}

// Argv returns the command line.
func (p *FakeProcess) Argv() []string {
	return append([]string(nil), p.argv...)
}

// Config returns the options the process was created with.
func (p *FakeProcess) Config() connection.ProcessConfig {
	return p.config
}

// Start records the handler and runs the behavior.
func (p *FakeProcess) Start(ctx context.Context, handler connection.OutputHandler) error {
	p.mu.Lock()
	if p.startedOnce {
		p.mu.Unlock()
		return connection.ErrAlreadyRunning
	}
	if err := ctx.Err(); err != nil {
		p.mu.Unlock()
		return err
	}
	p.startedOnce = true
	p.handler = handler
	p.done = make(chan struct{})
	behavior := p.behavior
	p.mu.Unlock()

	if behavior != nil {
		go behavior(p)
	}
	return nil
}

// Started reports whether Start succeeded.
func (p *FakeProcess) Started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedOnce
}

// Emit delivers a line to the handler on the calling goroutine. Lines emitted
// after exit are dropped.
func (p *FakeProcess) Emit(stream connection.Stream, line string) {
	p.mu.Lock()
	handler, done := p.handler, p.done
	p.mu.Unlock()

	if handler == nil || done == nil {
		return
	}
	select {
	case <-done:
		return
	default:
	}
	handler(stream, line)
}

// Exit ends the process with err. Later calls are ignored.
func (p *FakeProcess) Exit(err error) {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return
	}

	p.exitOnce.Do(func() {
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		close(done)
	})
}

// Done is closed once Exit has been called.
func (p *FakeProcess) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Wait blocks until Exit and returns its error.
func (p *FakeProcess) Wait() error {
	done := p.Done()
	if done == nil {
		return connection.ErrNotRunning
	}
	<-done

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// IgnoreInterrupt keeps the process running after Interrupt, so only Kill
// ends it.
func (p *FakeProcess) IgnoreInterrupt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ignoreInterrupt = true
}

// Interrupt exits with ErrInterrupted unless IgnoreInterrupt was called.
func (p *FakeProcess) Interrupt() error {
	p.mu.Lock()
	if p.done == nil {
		p.mu.Unlock()
		return connection.ErrNotRunning
	}
	p.interrupts++
	ignore := p.ignoreInterrupt
	p.mu.Unlock()

	if !ignore {
		p.Exit(ErrInterrupted)
	}
	return nil
}

// Kill exits with ErrKilled.
func (p *FakeProcess) Kill() error {
	p.mu.Lock()
	if p.done == nil {
		p.mu.Unlock()
		return connection.ErrNotRunning
	}
	p.killed = true
	p.mu.Unlock()

	p.Exit(ErrKilled)
	return nil
}

// Interrupts returns how many times Interrupt was called.
func (p *FakeProcess) Interrupts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interrupts
}

// Killed reports whether Kill was called.
func (p *FakeProcess) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}
