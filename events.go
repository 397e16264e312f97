package sitecache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmgilman/go/sitecache/logging"
)

// EventType identifies a cache lifecycle event.
type EventType string

// Lifecycle events.
const (
	EventItemAdded      EventType = "ITEM_ADDED"
	EventItemRemoved    EventType = "ITEM_REMOVED"
	EventItemUpdated    EventType = "ITEM_UPDATED"
	EventCacheCleared   EventType = "CACHE_CLEARED"
	EventError          EventType = "ERROR"
	EventNetworkChanged EventType = "NETWORK_CHANGED"
)

// Event describes something that happened to the cache.
type Event struct {
	ID   uuid.UUID `json:"id"`
	Type EventType `json:"type"`
	// Key and Hash identify the affected entry, when there is one.
	Key  string    `json:"key,omitempty"`
	Hash string    `json:"hash,omitempty"`
	Time time.Time `json:"time"`
	// Err is set on EventError.
	Err error `json:"-"`
	// Online is the network state at emission time.
	Online bool `json:"online"`
}

// ErrorMessage returns Err as text, or the empty string.
func (e Event) ErrorMessage() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// Listener receives events synchronously on the goroutine that caused them.
type Listener func(Event)

// ListenerID identifies a registered listener.
type ListenerID uint64

type registeredListener struct {
	id ListenerID
	fn Listener
}

// emitter fans events out to listeners in registration order. A panicking
// listener is recovered and logged; the remaining listeners still run.
type emitter struct {
	mu        sync.RWMutex
	next      ListenerID
	listeners []registeredListener
	logger    *logging.Logger
}

func (e *emitter) add(fn Listener) ListenerID {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.next++
	e.listeners = append(e.listeners, registeredListener{id: e.next, fn: fn})
	return e.next
}

func (e *emitter) remove(id ListenerID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, l := range e.listeners {
		if l.id == id {
			e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (e *emitter) emit(ctx context.Context, ev Event) {
	e.mu.RLock()
	listeners := make([]registeredListener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.RUnlock()

	for _, l := range listeners {
		e.call(ctx, l, ev)
	}
}

func (e *emitter) call(ctx context.Context, l registeredListener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(ctx, "event listener panicked",
				"listener", uint64(l.id),
				"event", string(ev.Type),
				"panic", fmt.Sprint(r),
			)
		}
	}()
	l.fn(ev)
}

// AddEventListener registers fn for every cache event.
func (m *Manager) AddEventListener(fn Listener) ListenerID {
	if fn == nil {
		return 0
	}
	return m.events.add(fn)
}

// RemoveEventListener unregisters a listener. It reports whether id was
// registered.
func (m *Manager) RemoveEventListener(id ListenerID) bool {
	return m.events.remove(id)
}

func (m *Manager) emit(ctx context.Context, typ EventType, key, hash string, err error) {
	m.events.emit(ctx, Event{
		ID:     uuid.New(),
		Type:   typ,
		Key:    key,
		Hash:   hash,
		Time:   m.clock.Now(),
		Err:    err,
		Online: m.IsOnline(),
	})
}
