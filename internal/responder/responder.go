// Package responder defines the responder capability shared by terminal
// route handlers and middleware-wrapped chains, the ordered middleware
// composition that turns both into a single callable unit, and the per-path
// verb table the route matcher dispatches into.
package responder

import (
	"context"
	"net/http"
)

// Request is the parsed form of one request a responder processes.
type Request struct {
	Method    string
	Path      string // path component of the :path pseudo-header
	Authority string
	Header    http.Header
	Body      []byte
}

// Response is what a responder produces.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Responder turns a request plus a context into a response or an error. The
// error, if any, is propagated up through the chain unchanged; mapping it to
// a response is the topmost caller's concern. Implementations performing
// long-running work must honor ctx cancellation so a dead connection does
// not keep holding resources.
type Responder interface {
	Respond(ctx context.Context, req *Request) (*Response, error)
}

// ResponderFunc adapts a plain function to the Responder interface.
type ResponderFunc func(ctx context.Context, req *Request) (*Response, error)

func (f ResponderFunc) Respond(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Middleware is a responder-shaped unit that wraps a downstream
// continuation. It decides whether, when, and with what (possibly modified)
// request to invoke next, and may transform the result or short-circuit
// without calling next at all.
type Middleware interface {
	Respond(ctx context.Context, req *Request, next Responder) (*Response, error)
}

// MiddlewareFunc adapts a plain function to the Middleware interface.
type MiddlewareFunc func(ctx context.Context, req *Request, next Responder) (*Response, error)

func (f MiddlewareFunc) Respond(ctx context.Context, req *Request, next Responder) (*Response, error) {
	return f(ctx, req, next)
}
