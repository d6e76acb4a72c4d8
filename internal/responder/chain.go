package responder

import (
	"context"
)

// Group holds an ordered list of middleware. Insertion order is invocation
// order: the first middleware added is outermost, observing the request
// first and the final response last.
//
// Add is a setup-phase operation; compositions built by Then snapshot the
// list at build time, so appending later never retroactively affects chains
// that endpoints have already captured.
type Group struct {
	middlewares []Middleware
}

// NewGroup creates a middleware group seeded with the given middleware.
func NewGroup(mws ...Middleware) *Group {
	g := &Group{}
	g.middlewares = append(g.middlewares, mws...)
	return g
}

// Add appends a middleware to the group. Only chains built after the call
// observe it.
func (g *Group) Add(m Middleware) {
	g.middlewares = append(g.middlewares, m)
}

// Len returns the number of middleware currently in the group.
func (g *Group) Len() int {
	return len(g.middlewares)
}

// Then composes the group's middleware with a terminal responder into one
// responder, wrapping right-to-left so that each middleware's downstream
// continuation is the composition built so far. The returned responder is
// immutable.
func (g *Group) Then(terminal Responder) Responder {
	if terminal == nil {
		panic("responder: Then called with nil terminal responder")
	}
	r := terminal
	for i := len(g.middlewares) - 1; i >= 0; i-- {
		m := g.middlewares[i]
		next := r
		r = ResponderFunc(func(ctx context.Context, req *Request) (*Response, error) {
			return m.Respond(ctx, req, next)
		})
	}
	return r
}
