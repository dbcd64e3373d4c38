package ws

import (
	"fmt"
	"log/slog"
)

// Handler processes one inbound event type. A handler error is logged and
// dropped; a malformed payload must never crash the stream.
type Handler func(*Packet) error

// Router dispatches inbound packets to typed handlers.
type Router struct {
	logger   *slog.Logger
	handlers map[string]Handler
	// onDrop observes packets that were dropped because no handler exists
	// or the handler failed. Used for metrics.
	onDrop func(eventType string)
}

func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

func (r *Router) On(eventType string, h Handler) {
	if _, ok := r.handlers[eventType]; ok {
		panic(fmt.Sprintf("handler(%s): already exists", eventType))
	}
	r.handlers[eventType] = h
}

// OnDrop registers an observer for dropped packets.
func (r *Router) OnDrop(fn func(eventType string)) {
	r.onDrop = fn
}

func (r *Router) Dispatch(packet *Packet) {
	h, ok := r.handlers[packet.Type]
	if !ok {
		r.logger.Error(fmt.Sprintf("handler for %s not found", packet.Type))
		r.drop(packet.Type)
		return
	}
	func() {
		defer func() {
			if _r := recover(); _r != nil {
				r.logger.Error(fmt.Sprintf("handler(%s): panic: %v", packet.Type, _r))
				r.drop(packet.Type)
			}
		}()
		if err := h(packet); err != nil {
			r.logger.Error(fmt.Sprintf("handler(%s): %v", packet.Type, err))
			r.drop(packet.Type)
		}
	}()
}

func (r *Router) drop(eventType string) {
	if r.onDrop != nil {
		r.onDrop(eventType)
	}
}
