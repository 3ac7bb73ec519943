package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/Iron-Ham/nettrace/internal/connection"
	"github.com/Iron-Ham/nettrace/internal/errors"
	"github.com/Iron-Ham/nettrace/internal/event"
	"github.com/Iron-Ham/nettrace/internal/logging"
	"github.com/Iron-Ham/nettrace/internal/notifier"
	"github.com/Iron-Ham/nettrace/internal/tracker"
)

// State is the lifecycle state of a Session.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
	StateDied     State = "died"
)

const (
	eventStart = "start"
	eventReady = "ready"
	eventFail  = "fail"
	eventDie   = "die"
	eventStop  = "stop"
)

// pumpBacklog bounds lines queued between the stream readers and the pump.
const pumpBacklog = 256

type outputLine struct {
	stream connection.Stream
	text   string
}

// Session supervises one capture process on one connection.
//
// Output from both streams is funnelled through a single pump goroutine that
// appends to the ring buffers, resolves notifier registrations and feeds the
// ledger, in the order the lines arrived.
type Session struct {
	id     string
	conn   connection.Connection
	inv    Invocation
	cfg    sessionConfig
	logger *logging.Logger
	state  *fsm.FSM

	notifier *notifier.Notifier
	stdout   *RingBuffer
	stderr   *RingBuffer

	// pending is built before launch so no early packet is missed, and is
	// only exposed through Ledger once the tool is ready.
	pending *tracker.Ledger

	lines    chan outputLine
	pumpDone chan struct{}

	mu       sync.Mutex
	proc     connection.Process
	ledger   *tracker.Ledger
	stopping bool
	err      error

	stopOnce sync.Once
	stopErr  error
}

// New prepares a capture session on conn. Nothing runs until Start. An
// unsupported platform or flag combination returns a CaptureError matching
// errors.ErrConfiguration.
func New(conn connection.Connection, opts Options, sessionOpts ...SessionOption) (*Session, error) {
	cfg := defaultSessionConfig()
	for _, opt := range sessionOpts {
		opt(&cfg)
	}

	if cfg.tracker != nil {
		if conn.TargetOS() == connection.Windows {
			return nil, errors.NewCaptureError("connection tracking is not supported on windows", errors.ErrConfiguration).
				WithConnection(conn.TargetName())
		}
		if err := cfg.tracker.Validate(); err != nil {
			return nil, errors.NewCaptureError("invalid tracker config", errors.Join(errors.ErrConfiguration, err)).
				WithConnection(conn.TargetName())
		}
	}
	if cfg.bufferSize <= 0 {
		return nil, errors.NewCaptureError(fmt.Sprintf("invalid buffer size %d", cfg.bufferSize), errors.ErrConfiguration)
	}

	inv, err := BuildCommand(conn.TargetOS(), opts, cfg.tool, cfg.tracker != nil)
	if err != nil {
		var captureErr *errors.CaptureError
		if errors.As(err, &captureErr) {
			captureErr.WithConnection(conn.TargetName())
		}
		return nil, err
	}

	id := uuid.NewString()
	s := &Session{
		id:       id,
		conn:     conn,
		inv:      inv,
		cfg:      cfg,
		logger:   cfg.logger.WithSession(id).WithConnection(conn.TargetName()),
		notifier: notifier.New(),
		stdout:   NewRingBuffer(cfg.bufferSize),
		stderr:   NewRingBuffer(cfg.bufferSize),
		lines:    make(chan outputLine, pumpBacklog),
		pumpDone: make(chan struct{}),
	}
	s.state = fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: eventStart, Src: []string{string(StateIdle)}, Dst: string(StateStarting)},
			{Name: eventReady, Src: []string{string(StateStarting)}, Dst: string(StateRunning)},
			{Name: eventFail, Src: []string{string(StateStarting)}, Dst: string(StateFailed)},
			{Name: eventDie, Src: []string{string(StateRunning)}, Dst: string(StateDied)},
			{Name: eventStop, Src: []string{string(StateRunning), string(StateDied)}, Dst: string(StateStopped)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.logger.Debug("capture state changed", "from", e.Src, "to", e.Dst)
			},
		},
	)

	for _, w := range inv.Warnings {
		s.logger.Warn("capture request adjusted", "warning", w)
	}
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Invocation returns the resolved capture command.
func (s *Session) Invocation() Invocation { return s.inv }

// Connection returns the connection the session captures on.
func (s *Session) Connection() connection.Connection { return s.conn }

// OutputFile is the capture file path on the target.
func (s *Session) OutputFile() string { return s.inv.OutputFile }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Current()) }

func (s *Session) transition(name string) {
	if err := s.state.Event(context.Background(), name); err != nil {
		s.logger.Debug("capture state transition skipped", "event", name, "state", s.state.Current(), "error", err)
	}
}

// Start launches the capture and blocks until the tool reports it is ready.
// If readiness does not arrive within the start timeout the process is
// stopped and a CaptureError matching errors.ErrStartupTimeout is returned.
// A session whose start failed exposes no ledger.
func (s *Session) Start(ctx context.Context) error {
	if !s.state.Can(eventStart) {
		return errors.NewCaptureError("cannot start", errors.ErrSessionAlreadyStarted).
			WithConnection(s.conn.TargetName())
	}
	s.transition(eventStart)

	if s.cfg.tracker != nil {
		opts := append([]tracker.LedgerOption{
			tracker.WithLogger(s.logger),
			tracker.WithBus(s.cfg.bus),
		}, s.cfg.ledgerOpts...)
		ledger, err := tracker.NewLedger(*s.cfg.tracker, opts...)
		if err != nil {
			close(s.pumpDone)
			s.transition(eventFail)
			return errors.NewCaptureError("invalid tracker config", errors.Join(errors.ErrConfiguration, err)).
				WithConnection(s.conn.TargetName())
		}
		s.pending = ledger
	}

	// Registered before launch so a fast tool cannot print it unseen.
	ready := s.notifier.Notify(s.cfg.readyPattern)

	var procOpts []connection.ProcessOption
	if s.inv.TermType != "" {
		procOpts = append(procOpts, connection.WithTermType(s.inv.TermType))
	}
	proc := s.conn.CreateProcess(s.inv.Argv, procOpts...)

	s.logger.Info("starting capture", "argv", s.inv.Argv, "output_file", s.inv.OutputFile)
	launched := time.Now()

	if err := proc.Start(ctx, s.deliver); err != nil {
		close(s.pumpDone)
		s.transition(eventFail)
		return errors.NewCaptureError("failed to launch capture tool", err).
			WithConnection(s.conn.TargetName()).WithTool(s.inv.Argv[0]).WithArgv(s.inv.Argv)
	}

	s.mu.Lock()
	s.proc = proc
	s.mu.Unlock()

	go s.pump(proc)

	timer := time.NewTimer(s.cfg.startTimeout)
	defer timer.Stop()

	select {
	case <-ready.Done():
		s.becameReady(proc, ready.FiredAt().Sub(launched))
		return nil

	case <-s.pumpDone:
		// The pump resolves the signal before it exits, so a tool that
		// printed the ready line and quit is seen here as ready.
		if ready.Fired() {
			s.becameReady(proc, ready.FiredAt().Sub(launched))
			return nil
		}
		s.transition(eventFail)
		err := errors.NewCaptureError("capture tool exited before becoming ready",
			errors.Join(errors.ErrCaptureProcessDied, proc.Wait())).
			WithConnection(s.conn.TargetName()).WithArgv(s.inv.Argv)
		s.logger.Error("capture failed to start", "error", err.Error(), "stderr", s.stderr.String())
		return err

	case <-timer.C:
		s.abort(proc)
		s.transition(eventFail)
		err := errors.NewCaptureError("capture tool not ready",
			errors.NewTimeoutError("waiting for "+fmt.Sprintf("%q", s.cfg.readyPattern), s.cfg.startTimeout).
				WithCause(errors.ErrStartupTimeout)).
			WithConnection(s.conn.TargetName()).WithArgv(s.inv.Argv).WithRetryable(true)
		s.logger.Error("capture failed to start", "error", err.Error(), "stderr", s.stderr.String())
		return err

	case <-ctx.Done():
		s.abort(proc)
		s.transition(eventFail)
		return ctx.Err()
	}
}

// becameReady exposes the ledger and moves the session to running.
func (s *Session) becameReady(proc connection.Process, startup time.Duration) {
	s.mu.Lock()
	s.ledger = s.pending
	s.mu.Unlock()
	s.transition(eventReady)
	s.logger.Info("capture ready", "startup", startup.String())
	s.publish(event.NewCaptureStartedEvent(s.id, s.conn.TargetName(), s.inv.Argv))
	// An exit seen by the pump before the transition was ignored there.
	// Later exits find the session running.
	select {
	case <-proc.Done():
		<-s.pumpDone
		s.exited(proc.Wait())
	default:
	}
}

// abort ends a process that never became ready.
func (s *Session) abort(proc connection.Process) {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	if _, err := s.terminate(proc); err != nil {
		s.logger.Warn("failed to stop capture", "error", err.Error())
	}
	<-s.pumpDone
}

// deliver is the process output handler. It blocks only while the pump
// backlog is full, and drops lines once the pump has exited.
func (s *Session) deliver(stream connection.Stream, line string) {
	select {
	case s.lines <- outputLine{stream: stream, text: line}:
	case <-s.pumpDone:
	}
}

func (s *Session) pump(proc connection.Process) {
	defer close(s.pumpDone)

	done := proc.Done()
	for {
		select {
		case l := <-s.lines:
			s.handle(l)
		case <-done:
			// Done closes only after every line was handed to deliver, so
			// whatever is queued now is the complete tail.
			for {
				select {
				case l := <-s.lines:
					s.handle(l)
				default:
					s.exited(proc.Wait())
					return
				}
			}
		}
	}
}

func (s *Session) handle(l outputLine) {
	text := ansi.Strip(l.text)
	if l.stream == connection.Stderr {
		s.stderr.WriteLine(text)
	} else {
		s.stdout.WriteLine(text)
	}
	s.notifier.HandleOutput(text)
	if s.pending != nil {
		s.pending.HandleLine(text)
	}
}

// exited runs on the pump once the process has exited.
func (s *Session) exited(exitErr error) {
	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()

	if stopping || s.State() != StateRunning {
		return
	}

	err := errors.NewCaptureError("capture process exited while active", errors.Join(errors.ErrCaptureProcessDied, exitErr)).
		WithConnection(s.conn.TargetName()).WithArgv(s.inv.Argv).
		WithSeverity(errors.SeverityCritical)

	s.mu.Lock()
	s.err = err
	s.mu.Unlock()

	s.transition(eventDie)
	s.logger.Error("capture process died", "error", err.Error(), "stderr", s.stderr.String())
	s.publish(event.NewCaptureDiedEvent(s.id, s.conn.TargetName(), err))
}

// Stop interrupts the capture, waits up to the grace period and then kills
// it. The ledger is frozen afterwards. Stop is idempotent and safe to call
// on a session that never started.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		s.stopErr = s.stop()
	})
	return s.stopErr
}

func (s *Session) stop() error {
	s.mu.Lock()
	proc := s.proc
	s.stopping = true
	s.mu.Unlock()

	if s.pending != nil {
		defer s.pending.Freeze()
	}
	if proc == nil {
		return nil
	}

	killed, err := s.terminate(proc)
	<-s.pumpDone

	if s.state.Can(eventStop) {
		s.transition(eventStop)
		s.logger.Info("capture stopped", "killed", killed, "stdout_bytes", s.stdout.Len(), "stderr_bytes", s.stderr.Len())
		if dropped := s.stdout.Dropped() + s.stderr.Dropped(); dropped > 0 {
			s.logger.Warn("capture output truncated", "dropped_bytes", dropped)
		}
		s.publish(event.NewCaptureStoppedEvent(s.id, s.conn.TargetName(), killed))
	}
	return err
}

// terminate interrupts proc and kills it if it outlives the grace period.
// It reports whether a kill was needed.
func (s *Session) terminate(proc connection.Process) (bool, error) {
	select {
	case <-proc.Done():
		return false, nil
	default:
	}

	if err := proc.Interrupt(); err != nil {
		s.logger.Warn("interrupt failed", "error", err.Error())
	}

	grace := time.NewTimer(s.cfg.grace)
	defer grace.Stop()
	select {
	case <-proc.Done():
		return false, nil
	case <-grace.C:
	}

	s.logger.Warn("capture ignored interrupt, killing", "grace_period", s.cfg.grace.String())
	if err := proc.Kill(); err != nil {
		s.logger.Warn("kill failed", "error", err.Error())
	}

	// Kill is not guaranteed to be observed on a remote target; give it
	// one more grace period.
	grace.Reset(s.cfg.grace)
	select {
	case <-proc.Done():
		return true, nil
	case <-grace.C:
		return true, errors.NewCaptureError("capture process did not exit after kill", nil).
			WithConnection(s.conn.TargetName()).WithArgv(s.inv.Argv)
	}
}

// Run starts the session, calls fn once the tool is ready and stops the
// session on every exit path, including a panic in fn. fn's error wins over
// a stop error.
func (s *Session) Run(ctx context.Context, fn func(ctx context.Context, s *Session) error) (err error) {
	if err := s.Start(ctx); err != nil {
		_ = s.Stop()
		return err
	}
	defer func() {
		if stopErr := s.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	}()
	return fn(ctx, s)
}

// Stdout returns the retained standard output.
func (s *Session) Stdout() string { return s.stdout.String() }

// Stderr returns the retained standard error.
func (s *Session) Stderr() string { return s.stderr.String() }

// Err returns a CaptureError matching errors.ErrCaptureProcessDied once the
// process has exited while the session was active, and nil otherwise.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Ledger returns the attached ledger, or nil when none is attached or the
// session has not become ready.
func (s *Session) Ledger() *tracker.Ledger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger
}

// WaitForEvent waits for the named channel's first connection. It returns
// early with the session's error if the capture process dies meanwhile.
func (s *Session) WaitForEvent(ctx context.Context, name string, timeout time.Duration) error {
	ledger := s.Ledger()
	if ledger == nil {
		return errors.NewTrackerError("no ledger attached", errors.ErrSessionNotStarted).WithChannel(name)
	}

	if ledger.Frozen() {
		return ledger.WaitForEvent(ctx, name, timeout)
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.pumpDone:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	err := ledger.WaitForEvent(waitCtx, name, timeout)
	if err != nil && ctx.Err() == nil && waitCtx.Err() != nil {
		// Cancelled by process exit. A late first match still counts.
		if n, _ := ledger.Count(name); n > 0 {
			return nil
		}
		if died := s.Err(); died != nil {
			return died
		}
		return errors.NewCaptureError("capture process exited", errors.ErrCaptureProcessDied).
			WithConnection(s.conn.TargetName())
	}
	return err
}

// Done is closed once the capture process has exited and its output has
// been drained. It never closes for a session that was not started.
func (s *Session) Done() <-chan struct{} {
	return s.pumpDone
}

// OutOfLimits returns the attached ledger's violations, or nil.
func (s *Session) OutOfLimits() []tracker.Violation {
	ledger := s.Ledger()
	if ledger == nil {
		return nil
	}
	return ledger.OutOfLimits()
}

func (s *Session) publish(e event.Event) {
	if s.cfg.bus != nil {
		s.cfg.bus.Publish(e)
	}
}
