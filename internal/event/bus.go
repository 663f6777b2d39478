package event

import (
	"log/slog"
	"sync"
	"time"
)

// Type identifies a category of event.
type Type string

// Known event types.
const (
	CatalogSynced      Type = "catalog.synced"
	MatchSuggested     Type = "match.suggested"
	MatchAutoConfirmed Type = "match.auto_confirmed"
	MatchConfirmed     Type = "match.confirmed"
	MatchRejected      Type = "match.rejected"
	DiscoveryCompleted Type = "discovery.completed"
	LinkClicked        Type = "link.clicked"
)

// AllTypes returns every known event type, for webhook subscription UIs.
func AllTypes() []Type {
	return []Type{
		CatalogSynced,
		MatchSuggested,
		MatchAutoConfirmed,
		MatchConfirmed,
		MatchRejected,
		DiscoveryCompleted,
		LinkClicked,
	}
}

// Event represents something that happened in the system.
type Event struct {
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Handler is a function that processes an event.
type Handler func(Event)

const defaultBufferSize = 256

// Bus fans events out to subscribed handlers. Publishers never block;
// delivery happens on the goroutine running Start, and a panicking handler
// does not take down its siblings.
type Bus struct {
	events   chan Event
	quit     chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger

	mu       sync.RWMutex
	handlers map[Type][]Handler
}

// NewBus creates a new event bus with the given buffer size.
func NewBus(logger *slog.Logger, bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	return &Bus{
		events:   make(chan Event, bufSize),
		quit:     make(chan struct{}),
		logger:   logger,
		handlers: make(map[Type][]Handler),
	}
}

// Subscribe registers a handler for the given event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	b.handlers[t] = append(b.handlers[t], h)
	b.mu.Unlock()
}

// Publish enqueues an event without blocking. When the buffer is full the
// event is dropped and a warning logged.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	select {
	case b.events <- e:
	default:
		b.logger.Warn("event buffer full, dropping", "type", string(e.Type))
	}
}

// Start delivers queued events until Stop is called, then drains whatever is
// left in the buffer before returning. Run it in a goroutine.
func (b *Bus) Start() {
	for {
		select {
		case e := <-b.events:
			b.deliver(e)
		case <-b.quit:
			b.drain()
			return
		}
	}
}

// Stop signals Start to finish. Safe to call more than once.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.quit) })
}

func (b *Bus) drain() {
	for {
		select {
		case e := <-b.events:
			b.deliver(e)
		default:
			return
		}
	}
}

func (b *Bus) deliver(e Event) {
	b.mu.RLock()
	hs := make([]Handler, len(b.handlers[e.Type]))
	copy(hs, b.handlers[e.Type])
	b.mu.RUnlock()

	for _, h := range hs {
		b.invoke(h, e)
	}
}

func (b *Bus) invoke(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "type", string(e.Type), "panic", r)
		}
	}()
	h(e)
}
