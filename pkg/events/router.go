package events

import (
	"context"
	"fmt"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/kafka"
)

// Router dispatches decoded payloads to typed handlers. It plugs into
// kafka.Consumer through Handle.
type Router struct {
	handlers map[Type]func(ctx context.Context, p Payload, ev *Envelope) error
}

func NewRouter() *Router {
	return &Router{handlers: make(map[Type]func(context.Context, Payload, *Envelope) error)}
}

// On registers fn for the variant T. A later registration for the same
// variant replaces the earlier one.
func On[T Payload](r *Router, fn func(ctx context.Context, p T, ev *Envelope) error) {
	var zero T
	r.handlers[zero.EventType()] = func(ctx context.Context, p Payload, ev *Envelope) error {
		return fn(ctx, p.(T), ev)
	}
}

// Handle decodes ev and calls the registered handler. Undecodable envelopes
// and variants with no handler are poison.
func (r *Router) Handle(ctx context.Context, ev *Envelope) error {
	p, err := Decode(ev)
	if err != nil {
		return kafka.Poison(err)
	}
	h, ok := r.handlers[p.EventType()]
	if !ok {
		return kafka.Poison(fmt.Errorf("%w: no handler for %s", ErrMalformed, p.EventType()))
	}
	return h(ctx, p, ev)
}
