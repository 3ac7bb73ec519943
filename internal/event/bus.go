package event

import (
	"runtime/debug"
	"slices"
	"sync"

	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"github.com/Iron-Ham/nettrace/internal/logging"
)

// Handler is a function that handles an event.
type Handler func(Event)

// matchAll is the pattern SubscribeAll registers.
const matchAll = "**"

type subscription struct {
	id      string
	pattern string
	match   glob.Glob
	handler Handler
}

// Bus is a synchronous pub-sub event bus. Subscriptions name an event type
// or a dotted glob over event types, such as "capture.*".
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	logger *logging.Logger
}

// NewBus creates a new event bus. Handler panics are logged to logger; a nil
// logger discards them.
func NewBus(logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Bus{logger: logger}
}

// Subscribe registers handler for every event type matching pattern and
// returns an ID for Unsubscribe. '*' matches one dotted segment and "**"
// matches any type. A pattern that is not a valid glob matches only itself.
func (b *Bus) Subscribe(pattern string, handler Handler) string {
	g, err := glob.Compile(pattern, '.')
	if err != nil {
		b.logger.Warn("invalid event pattern, matching literally", "pattern", pattern, "error", err.Error())
		g = glob.MustCompile(glob.QuoteMeta(pattern), '.')
	}

	sub := subscription{
		id:      uuid.NewString(),
		pattern: pattern,
		match:   g,
		handler: handler,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)
	return sub.id
}

// SubscribeAll registers handler for every event.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe(matchAll, handler)
}

// Unsubscribe removes a subscription by ID and reports whether it existed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := slices.IndexFunc(b.subs, func(s subscription) bool { return s.id == id })
	if i < 0 {
		return false
	}
	b.subs = slices.Delete(b.subs, i, i+1)
	return true
}

// Publish calls every matching handler in subscription order on the calling
// goroutine. A panicking handler is logged and skipped.
func (b *Bus) Publish(event Event) {
	eventType := event.EventType()

	b.mu.RLock()
	var targets []Handler
	for _, s := range b.subs {
		if s.match.Match(eventType) {
			targets = append(targets, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range targets {
		b.safeCall(h, event)
	}
}

func (b *Bus) safeCall(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event_type", event.EventType(),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	handler(event)
}

// Patterns returns the registered patterns in subscription order.
func (b *Bus) Patterns() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, len(b.subs))
	for i, s := range b.subs {
		out[i] = s.pattern
	}
	return out
}
