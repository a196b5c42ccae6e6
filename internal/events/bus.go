package events

import (
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultBufferSize is the default per-subscriber channel capacity.
const DefaultBufferSize = 100

const (
	SeverityInfo  = "INFO"
	SeverityWarn  = "WARN"
	SeverityError = "ERROR"
)

// Event is one session lifecycle notification.
type Event struct {
	Type       string
	Timestamp  time.Time
	EntityType string
	EntityID   string
	Payload    any
	Severity   string
}

// Handler consumes a published event.
type Handler func(Event)

// Bus defines event subscription and publish behavior.
type Bus interface {
	Subscribe(eventType string, handler Handler) (unsubscribe func())
	SubscribeAll(handler Handler) (unsubscribe func())
	Publish(event Event)
}

// Option customizes bus construction.
type Option func(*InMemoryBus)

// WithBufferSize configures per-subscriber channel capacity.
func WithBufferSize(size int) Option {
	return func(bus *InMemoryBus) {
		if size > 0 {
			bus.bufferSize = size
		}
	}
}

// WithLogger configures where dropped-event warnings go.
func WithLogger(logger *log.Logger) Option {
	return func(bus *InMemoryBus) {
		if logger != nil {
			bus.logger = logger
		}
	}
}

// InMemoryBus delivers events to subscribers over buffered channels. A slow
// subscriber loses events rather than blocking publishers.
type InMemoryBus struct {
	mu         sync.RWMutex
	bufferSize int
	logger     *log.Logger
	subs       map[uint64]*subscriber
	nextID     uint64
	closed     bool
}

type subscriber struct {
	id        uint64
	eventType string
	ch        chan Event
}

var _ Bus = (*InMemoryBus)(nil)

// New creates an in-memory event bus.
func New(options ...Option) *InMemoryBus {
	bus := &InMemoryBus{
		bufferSize: DefaultBufferSize,
		logger:     log.New(io.Discard),
		subs:       make(map[uint64]*subscriber),
	}
	for _, option := range options {
		option(bus)
	}
	return bus
}

// Subscribe registers a handler for one event type.
func (b *InMemoryBus) Subscribe(eventType string, handler Handler) func() {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" || handler == nil {
		return func() {}
	}
	return b.add(eventType, handler)
}

// SubscribeAll registers a handler that receives every published event.
func (b *InMemoryBus) SubscribeAll(handler Handler) func() {
	if handler == nil {
		return func() {}
	}
	return b.add("", handler)
}

func (b *InMemoryBus) add(eventType string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	b.nextID++
	sub := &subscriber{id: b.nextID, eventType: eventType, ch: make(chan Event, b.bufferSize)}
	b.subs[sub.id] = sub
	go func() {
		for event := range sub.ch {
			handler(event)
		}
	}()
	return func() { b.remove(sub.id) }
}

func (b *InMemoryBus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Publish delivers an event without blocking. Events published after Close
// are discarded.
func (b *InMemoryBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
	eventType := strings.TrimSpace(event.Type)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.eventType != "" && sub.eventType != eventType {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn("events: dropping event",
				"subscriber", sub.id,
				"type", event.Type,
				"entity_type", event.EntityType,
				"entity_id", event.EntityID,
			)
		}
	}
}

// Close stops every subscriber after it drains its buffered events.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
