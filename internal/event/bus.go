package event

import (
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"github.com/Iron-Ham/handoff/internal/logging"
)

// Handler is a function that handles an event.
type Handler func(Event)

// matchAll is the pattern used by SubscribeAll.
const matchAll = "*"

type subscription struct {
	id      string
	pattern string
	match   glob.Glob // nil for exact event types
	handler Handler
}

// Bus is a synchronous pub-sub event bus.
//
// Handlers subscribe either to one event type or to a pattern such as
// "task.*". Exact subscribers always run before pattern subscribers, each
// group in registration order, on the publisher's goroutine.
type Bus struct {
	mu       sync.RWMutex
	exact    map[string][]subscription
	patterns []subscription
	logger   *logging.Logger
}

// NewBus creates a new event bus. Handler panics are reported through
// logger; a nil logger discards them.
func NewBus(logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Bus{
		exact:  make(map[string][]subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for one event type and returns an id for
// Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	sub := subscription{id: uuid.NewString(), pattern: eventType, handler: handler}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.exact[eventType] = append(b.exact[eventType], sub)
	return sub.id
}

// SubscribeMatch registers a handler for every event type matching pattern.
// Segments are dot separated: "task.*" matches "task.escalated" but not
// "attempt.closed", and "**" matches everything.
func (b *Bus) SubscribeMatch(pattern string, handler Handler) (string, error) {
	if !strings.ContainsAny(pattern, "*?[{") {
		return b.Subscribe(pattern, handler), nil
	}
	g, err := glob.Compile(pattern, '.')
	if err != nil {
		return "", fmt.Errorf("invalid event pattern %q: %w", pattern, err)
	}
	sub := subscription{id: uuid.NewString(), pattern: pattern, match: g, handler: handler}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.patterns = append(b.patterns, sub)
	return sub.id, nil
}

// SubscribeAll registers a handler for every published event.
func (b *Bus) SubscribeAll(handler Handler) string {
	sub := subscription{id: uuid.NewString(), pattern: matchAll, handler: handler}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.patterns = append(b.patterns, sub)
	return sub.id
}

// Unsubscribe removes a subscription by id and reports whether it existed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	byID := func(s subscription) bool { return s.id == id }
	if i := slices.IndexFunc(b.patterns, byID); i >= 0 {
		b.patterns = slices.Delete(b.patterns, i, i+1)
		return true
	}
	for eventType, subs := range b.exact {
		if i := slices.IndexFunc(subs, byID); i >= 0 {
			subs = slices.Delete(subs, i, i+1)
			if len(subs) == 0 {
				delete(b.exact, eventType)
			} else {
				b.exact[eventType] = subs
			}
			return true
		}
	}
	return false
}

// Publish dispatches an event to every matching handler. A panicking
// handler is logged and skipped; delivery continues to the rest.
func (b *Bus) Publish(event Event) {
	eventType := event.EventType()

	b.mu.RLock()
	targets := slices.Clone(b.exact[eventType])
	for _, sub := range b.patterns {
		if sub.match == nil || sub.match.Match(eventType) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		b.safeCall(sub, event)
	}
}

func (b *Bus) safeCall(sub subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", event.EventType(),
				"subscription", sub.pattern,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	sub.handler(event)
}

// SubscriptionCount returns the number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := len(b.patterns)
	for _, subs := range b.exact {
		count += len(subs)
	}
	return count
}
