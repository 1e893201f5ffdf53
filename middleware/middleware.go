// Package middleware provides interceptors for the purchase pipeline.
package middleware

import (
	"github.com/hedeqiang/tally/event"
)

// Handler processes a purchase and returns a (possibly modified) purchase.
// Returning nil signals that the purchase should be dropped.
type Handler func(p event.Purchase) *event.Purchase

// Middleware wraps a Handler, adding cross-cutting behavior (logging, metrics, etc.).
type Middleware interface {
	// Wrap returns a new Handler that decorates the given inner handler.
	Wrap(next Handler) Handler
}

// Chain composes multiple middlewares into a single Handler, applying them
// in the order provided (first middleware is outermost).
func Chain(handler Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		handler = mws[i].Wrap(handler)
	}
	return handler
}

// Pass is the terminal handler that keeps every purchase.
func Pass(p event.Purchase) *event.Purchase {
	return &p
}

// Apply runs each purchase through the chain and returns those kept, in
// input order.
func Apply(purchases []event.Purchase, mws ...Middleware) []event.Purchase {
	h := Chain(Pass, mws...)
	out := make([]event.Purchase, 0, len(purchases))
	for _, p := range purchases {
		if kept := h(p); kept != nil {
			out = append(out, *kept)
		}
	}
	return out
}
