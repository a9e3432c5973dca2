package extension

import (
	"sync"
	"time"

	"github.com/lodgehost/lodge/internal/host"
)

// Event describes one committed lifecycle transition.
type Event struct {
	Slug string
	From State
	To   State
	At   time.Time
}

// EventHandler receives lifecycle events.
type EventHandler func(Event)

// eventBus fans lifecycle events out to subscribers. Handlers run
// synchronously on the emitting goroutine; a panicking handler is
// isolated so it cannot abort the transition that triggered it.
type eventBus struct {
	mu       sync.RWMutex
	handlers []EventHandler
	log      *host.Logger
}

func newEventBus(log *host.Logger) *eventBus {
	return &eventBus{log: log.WithComponent("events")}
}

func (b *eventBus) subscribe(h EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

func (b *eventBus) emit(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, event)
	}
}

func (b *eventBus) dispatch(h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panic for %s %s->%s: %v", event.Slug, event.From, event.To, r)
		}
	}()
	h(event)
}
