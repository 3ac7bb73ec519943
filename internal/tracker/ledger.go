package tracker

import (
	"context"
	"fmt"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/Iron-Ham/nettrace/internal/errors"
	"github.com/Iron-Ham/nettrace/internal/event"
	"github.com/Iron-Ham/nettrace/internal/logging"
	"github.com/Iron-Ham/nettrace/internal/notifier"
)

// counter tracks one channel's distinct connections.
type counter struct {
	count     int
	firstSeen time.Time
	keys      map[ConnectionKey]struct{}
}

type channel struct {
	cfg     ChannelConfig
	matcher *Matcher
	counter counter
}

// Ledger counts distinct connections per channel for one capture session.
// It is safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	channels []*channel
	byName   map[string]*channel
	frozen   bool

	notifier  *notifier.Notifier
	bus       *event.Bus
	logger    *logging.Logger
	now       func() time.Time
	localNets []netip.Prefix
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithBus publishes first-seen and connection events to bus.
func WithBus(bus *event.Bus) LedgerOption {
	return func(l *Ledger) {
		l.bus = bus
	}
}

// WithLogger sets the ledger's logger.
func WithLogger(logger *logging.Logger) LedgerOption {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides the time source for records without a timestamp.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithLocalNetworks lets the ledger infer the direction of records whose
// source line did not state it.
func WithLocalNetworks(nets ...netip.Prefix) LedgerOption {
	return func(l *Ledger) {
		l.localNets = append(l.localNets, nets...)
	}
}

// NewLedger validates cfg and returns an empty ledger for it.
func NewLedger(cfg Config, opts ...LedgerOption) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Ledger{
		byName: make(map[string]*channel, len(cfg.Channels)),
		logger: logging.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.notifier = notifier.New(notifier.WithClock(l.now))

	for _, cc := range cfg.Channels {
		m, err := cc.Descriptor.Compile()
		if err != nil {
			return nil, errors.NewTrackerError("invalid descriptor", err).WithChannel(cc.Name)
		}
		ch := &channel{
			cfg:     cc,
			matcher: m,
			counter: counter{keys: make(map[ConnectionKey]struct{})},
		}
		l.channels = append(l.channels, ch)
		l.byName[cc.Name] = ch
	}
	return l, nil
}

type observation struct {
	channel string
	key     ConnectionKey
	count   int
	first   bool
	at      time.Time
}

// Observe classifies rec against every channel and counts each new
// connection key once. Records matching nothing are ignored. Observe does
// nothing once the ledger is frozen.
func (l *Ledger) Observe(rec Record) {
	rec = rec.Resolve(l.localNets)
	if rec.Time.IsZero() {
		rec.Time = l.now()
	}

	var hits []observation

	l.mu.Lock()
	if l.frozen {
		l.mu.Unlock()
		return
	}
	for _, ch := range l.channels {
		peer, ok := ch.matcher.Peer(rec)
		if !ok {
			continue
		}
		key := ConnectionKey{Protocol: rec.Protocol, Peer: peer}
		if _, dup := ch.counter.keys[key]; dup {
			continue
		}
		ch.counter.keys[key] = struct{}{}
		ch.counter.count++
		first := ch.counter.count == 1
		if first {
			ch.counter.firstSeen = rec.Time
		}
		hits = append(hits, observation{
			channel: ch.cfg.Name,
			key:     key,
			count:   ch.counter.count,
			first:   first,
			at:      rec.Time,
		})
	}
	l.mu.Unlock()

	for _, h := range hits {
		l.logger.Debug("connection observed",
			"channel", h.channel,
			"key", h.key.String(),
			"count", h.count,
			"direction", string(rec.Direction),
		)
		if h.first {
			l.notifier.HandleOutput(h.channel)
			l.publish(event.NewChannelFirstSeenEvent(h.channel, h.at))
		}
		l.publish(event.NewConnectionObservedEvent(h.channel, string(h.key.Protocol), h.key.Peer.String(), h.count))
	}
}

// HandleLine parses a capture output line and observes it. Lines that are
// not packet or flow records are ignored.
func (l *Ledger) HandleLine(line string) {
	if rec, ok := ParseLine(line); ok {
		l.Observe(rec)
	}
}

func (l *Ledger) publish(e event.Event) {
	if l.bus != nil {
		l.bus.Publish(e)
	}
}

// WaitForEvent blocks until the named channel has counted its first
// connection. A positive timeout bounds the wait; expiry of the timeout or
// of ctx's deadline returns a TimeoutError matching errors.ErrEventTimeout.
// Cancelling ctx returns ctx.Err(). Unknown names return a ValidationError matching
// errors.ErrUnknownChannel.
func (l *Ledger) WaitForEvent(ctx context.Context, name string, timeout time.Duration) error {
	l.mu.Lock()
	ch, ok := l.byName[name]
	if !ok {
		l.mu.Unlock()
		return errors.NewValidationError("unknown channel").WithField("channel").WithValue(name).
			WithCause(errors.ErrUnknownChannel)
	}
	if ch.counter.count > 0 {
		l.mu.Unlock()
		return nil
	}
	if l.frozen {
		l.mu.Unlock()
		return errors.NewTrackerError("channel never observed",
			errors.Join(errors.ErrSessionFrozen, errors.ErrEventTimeout)).WithChannel(name)
	}
	// Registered under the lock so a concurrent first match cannot slip
	// between the count check and the registration.
	sig := l.notifier.NotifyExact(name)
	l.mu.Unlock()

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := sig.Wait(waitCtx); err != nil {
		// A first match that raced the deadline has already been counted.
		if !l.notifier.Cancel(sig) {
			if n, _ := l.Count(name); n > 0 {
				return nil
			}
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		cause := errors.ErrEventTimeout
		if ctx.Err() != nil {
			cause = errors.Join(errors.ErrEventTimeout, ctx.Err())
		}
		return errors.NewTimeoutError(fmt.Sprintf("waiting for %s", name), timeout).WithCause(cause)
	}
	return nil
}

// Violation describes a channel whose count is outside its limits.
type Violation struct {
	Channel string
	Limits  Limits
	Count   int
}

// String renders the violation for reports.
func (v Violation) String() string {
	return fmt.Sprintf("%s: observed %d connection(s), expected %s", v.Channel, v.Count, v.Limits)
}

// OutOfLimits returns the channels whose counts are outside their limits,
// in declaration order, or nil when every channel is within limits.
func (l *Ledger) OutOfLimits() []Violation {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Violation
	for _, ch := range l.channels {
		if !ch.cfg.Limits.Contains(ch.counter.count) {
			out = append(out, Violation{
				Channel: ch.cfg.Name,
				Limits:  ch.cfg.Limits,
				Count:   ch.counter.count,
			})
		}
	}
	return out
}

// Count returns the number of distinct connections counted for name.
func (l *Ledger) Count(name string) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.byName[name]
	if !ok {
		return 0, false
	}
	return ch.counter.count, true
}

// ChannelState is a point-in-time view of one channel.
type ChannelState struct {
	Name        string
	Descriptor  Descriptor
	Limits      Limits
	Count       int
	FirstSeen   time.Time
	Connections []string
}

// Within reports whether the count is inside the limits.
func (s ChannelState) Within() bool {
	return s.Limits.Contains(s.Count)
}

// Snapshot returns every channel's state in declaration order.
func (l *Ledger) Snapshot() []ChannelState {
	l.mu.Lock()
	defer l.mu.Unlock()

	states := make([]ChannelState, 0, len(l.channels))
	for _, ch := range l.channels {
		conns := make([]string, 0, len(ch.counter.keys))
		for k := range ch.counter.keys {
			conns = append(conns, k.String())
		}
		slices.Sort(conns)
		states = append(states, ChannelState{
			Name:        ch.cfg.Name,
			Descriptor:  ch.cfg.Descriptor,
			Limits:      ch.cfg.Limits,
			Count:       ch.counter.count,
			FirstSeen:   ch.counter.firstSeen,
			Connections: conns,
		})
	}
	return states
}

// Names returns the channel names in declaration order.
func (l *Ledger) Names() []string {
	names := make([]string, len(l.channels))
	for i, ch := range l.channels {
		names[i] = ch.cfg.Name
	}
	return names
}

// Freeze stops all further counting. It is idempotent.
func (l *Ledger) Freeze() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frozen = true
}

// Frozen reports whether Freeze has been called.
func (l *Ledger) Frozen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frozen
}
