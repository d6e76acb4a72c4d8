package responder

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Endpoints is the per-route-path table binding one composed responder to
// each HTTP verb. Registration happens during setup; once serving starts
// the table is treated as immutable, read-only shared state.
type Endpoints struct {
	path       string
	responders map[string]Responder
}

// NewEndpoints creates an empty verb table for one route path.
func NewEndpoints(path string) *Endpoints {
	return &Endpoints{
		path:       path,
		responders: make(map[string]Responder),
	}
}

// Path returns the route path this table is bound to.
func (e *Endpoints) Path() string {
	return e.path
}

// Add binds a responder to a verb. Registering the same verb twice is a
// setup-time programming error and returns a non-nil error immediately.
func (e *Endpoints) Add(verb string, r Responder) error {
	if r == nil {
		return fmt.Errorf("endpoint %s: responder for %s cannot be nil", e.path, verb)
	}
	verb = strings.ToUpper(verb)
	if _, exists := e.responders[verb]; exists {
		return fmt.Errorf("endpoint %s: verb %s already has a responder", e.path, verb)
	}
	e.responders[verb] = r
	return nil
}

// Lookup returns the responder bound to a verb. Absence is the normal
// 404/405 signal for the caller, not an error.
func (e *Endpoints) Lookup(verb string) (Responder, bool) {
	r, ok := e.responders[strings.ToUpper(verb)]
	return r, ok
}

// Verbs returns the sorted list of verbs with a bound responder, suitable
// for an Allow header.
func (e *Endpoints) Verbs() []string {
	verbs := make([]string, 0, len(e.responders))
	for v := range e.responders {
		verbs = append(verbs, v)
	}
	sort.Strings(verbs)
	return verbs
}

// AutoHEAD installs a synthetic HEAD responder derived from the registered
// GET responder: it invokes GET and returns the response with the body
// stripped, status and headers preserved. An explicitly registered HEAD is
// never overwritten, and if GET is absent HEAD silently stays absent.
func (e *Endpoints) AutoHEAD() {
	if _, hasHead := e.responders[http.MethodHead]; hasHead {
		return
	}
	get, hasGet := e.responders[http.MethodGet]
	if !hasGet {
		return
	}
	e.responders[http.MethodHead] = ResponderFunc(func(ctx context.Context, req *Request) (*Response, error) {
		resp, err := get.Respond(ctx, req)
		if err != nil {
			return nil, err
		}
		stripped := *resp
		stripped.Body = nil
		return &stripped, nil
	})
}
