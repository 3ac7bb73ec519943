// Package notifier resolves single-shot signals when a line of process output
// matches a registered pattern.
package notifier

import (
	"context"
	"strings"
	"sync"
	"time"
)

type matchKind int

const (
	matchSubstring matchKind = iota
	matchExact
)

type registration struct {
	pattern string
	kind    matchKind
	signal  *Signal
}

func (r *registration) matches(line string) bool {
	if r.kind == matchExact {
		return line == r.pattern
	}
	return strings.Contains(line, r.pattern)
}

// Notifier holds pending registrations and resolves them as output arrives.
// It is safe for concurrent use. HandleOutput never blocks on waiters.
type Notifier struct {
	mu      sync.Mutex
	pending []*registration
	now     func() time.Time
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithClock overrides the time source used to stamp resolved signals.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) {
		n.now = now
	}
}

// New creates an empty Notifier.
func New(opts ...Option) *Notifier {
	n := &Notifier{now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify registers interest in the next output line containing substr.
// Lines delivered before the call are not considered.
func (n *Notifier) Notify(substr string) *Signal {
	return n.register(substr, matchSubstring)
}

// NotifyExact registers interest in the next output line equal to key.
func (n *Notifier) NotifyExact(key string) *Signal {
	return n.register(key, matchExact)
}

func (n *Notifier) register(pattern string, kind matchKind) *Signal {
	sig := newSignal()

	n.mu.Lock()
	n.pending = append(n.pending, &registration{pattern: pattern, kind: kind, signal: sig})
	n.mu.Unlock()

	return sig
}

// HandleOutput scans every pending registration against line, resolves the
// ones that match and drops them. It returns the number of signals resolved.
func (n *Notifier) HandleOutput(line string) int {
	var fired []*Signal

	n.mu.Lock()
	kept := n.pending[:0]
	for _, r := range n.pending {
		if r.matches(line) {
			fired = append(fired, r.signal)
			continue
		}
		kept = append(kept, r)
	}
	// Clear the tail so dropped registrations can be collected.
	for i := len(kept); i < len(n.pending); i++ {
		n.pending[i] = nil
	}
	n.pending = kept
	n.mu.Unlock()

	if len(fired) == 0 {
		return 0
	}

	at := n.now()
	for _, sig := range fired {
		sig.resolve(at)
	}
	return len(fired)
}

// Cancel drops the registration behind sig without resolving it. It
// reports whether sig was still pending.
func (n *Notifier) Cancel(sig *Signal) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, r := range n.pending {
		if r.signal == sig {
			n.pending = append(n.pending[:i], n.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Pending returns the number of unresolved registrations.
func (n *Notifier) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}

// Signal is a single-shot completion handle. Once resolved it stays resolved.
type Signal struct {
	once    sync.Once
	done    chan struct{}
	firedAt time.Time
}

func newSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

func (s *Signal) resolve(at time.Time) {
	s.once.Do(func() {
		s.firedAt = at
		close(s.done)
	})
}

// Done returns a channel that is closed when the signal resolves.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Fired reports whether the signal has resolved.
func (s *Signal) Fired() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// FiredAt returns when the signal resolved, or the zero time if it has not.
func (s *Signal) FiredAt() time.Time {
	if !s.Fired() {
		return time.Time{}
	}
	return s.firedAt
}

// Wait blocks until the signal resolves or ctx is done.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
