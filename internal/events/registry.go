package events

import (
	"fmt"
	"sync"

	"github.com/quizhive/quizhive-rooms/internal/obslog"
	"go.uber.org/zap"
)

// Handler receives one event payload. Handlers must not block; the
// registry calls them synchronously on the emitting goroutine.
type Handler func(payload any)

// Registry fans state-change notifications out to registered listeners.
// Registration and teardown are idempotent; Off with an unknown handle is
// a no-op.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Type]map[string]Handler
	seq      int
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Type]map[string]Handler)}
}

// On registers a handler and returns a handle usable with Off.
func (r *Registry) On(t Type, h Handler) string {
	if h == nil {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	id := fmt.Sprintf("h-%d", r.seq)
	m, ok := r.handlers[t]
	if !ok {
		m = make(map[string]Handler)
		r.handlers[t] = m
	}
	m[id] = h
	return id
}

// Off removes a previously registered handler by its handle. Handles
// are unique across event types, so the type is not needed here.
func (r *Registry) Off(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.handlers {
		if _, ok := m[id]; ok {
			delete(m, id)
			return
		}
	}
}

// Emit delivers payload to every handler for t. A panicking handler is
// contained and logged so one bad listener cannot take down the engine.
func (r *Registry) Emit(t Type, payload any) {
	r.mu.RLock()
	hs := make([]Handler, 0, len(r.handlers[t]))
	for _, h := range r.handlers[t] {
		hs = append(hs, h)
	}
	r.mu.RUnlock()

	for _, h := range hs {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					obslog.L().Error("event_handler_panic",
						zap.String("event", string(t)),
						zap.Any("panic", rec),
					)
				}
			}()
			h(payload)
		}()
	}
}

// EmitError is the error-channel shortcut: every surfaced failure also
// lands here so the UI need not handle each call site.
func (r *Registry) EmitError(op string, err error) {
	if err == nil {
		return
	}
	r.Emit(Error, ErrorPayload{Op: op, Err: err})
}

// Reset drops all handlers, mainly for room teardown.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[Type]map[string]Handler)
}
