// Package router implements the route matching structure that selects the
// endpoint verb table for a request path. Registration is a setup-phase
// operation; after Finalize the router is immutable and safely shared by
// every connection.
package router

import (
	"fmt"
	"sort"
	"strings"

	"example.com/conduit/internal/responder"
)

// Router maps request paths to endpoint verb tables. An exact match takes
// precedence over a prefix match; among prefix matches the longest (most
// specific) pattern wins.
type Router struct {
	exactRoutes  map[string]*responder.Endpoints
	prefixRoutes []*responder.Endpoints // sorted by pattern length, longest first
	finalized    bool
}

// New creates an empty Router.
func New() *Router {
	return &Router{
		exactRoutes: make(map[string]*responder.Endpoints),
	}
}

// Endpoints returns the verb table for an exact-match path, creating it on
// first use.
func (r *Router) Endpoints(path string) *responder.Endpoints {
	if e, ok := r.exactRoutes[path]; ok {
		return e
	}
	e := responder.NewEndpoints(path)
	r.exactRoutes[path] = e
	return e
}

// PrefixEndpoints returns the verb table for a prefix-match pattern,
// creating it on first use.
func (r *Router) PrefixEndpoints(pattern string) *responder.Endpoints {
	for _, e := range r.prefixRoutes {
		if e.Path() == pattern {
			return e
		}
	}
	e := responder.NewEndpoints(pattern)
	r.prefixRoutes = append(r.prefixRoutes, e)
	return e
}

// Handle binds a composed responder to (path, verb) as an exact match. A
// duplicate (path, verb) registration is a setup-time fault.
func (r *Router) Handle(path, verb string, rsp responder.Responder) error {
	if r.finalized {
		return fmt.Errorf("router: cannot register %s %s after finalization", verb, path)
	}
	return r.Endpoints(path).Add(verb, rsp)
}

// Finalize sorts the prefix routes (longest pattern first) and synthesizes
// HEAD responders from GET where HEAD was not explicitly registered. It
// must be called before the first connection is accepted.
func (r *Router) Finalize() {
	sort.SliceStable(r.prefixRoutes, func(i, j int) bool {
		return len(r.prefixRoutes[i].Path()) > len(r.prefixRoutes[j].Path())
	})
	for _, e := range r.exactRoutes {
		e.AutoHEAD()
	}
	for _, e := range r.prefixRoutes {
		e.AutoHEAD()
	}
	r.finalized = true
}

// Route selects the endpoint table for a request path. A miss is the normal
// 404 signal, not an error.
func (r *Router) Route(path string) (*responder.Endpoints, bool) {
	if e, ok := r.exactRoutes[path]; ok {
		return e, true
	}
	for _, e := range r.prefixRoutes {
		if strings.HasPrefix(path, e.Path()) {
			return e, true
		}
	}
	return nil, false
}
