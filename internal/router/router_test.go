package router

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/conduit/internal/responder"
)

func named(name string) responder.Responder {
	return responder.ResponderFunc(func(ctx context.Context, req *responder.Request) (*responder.Response, error) {
		h := make(http.Header)
		h.Set("x-route", name)
		return &responder.Response{Status: http.StatusOK, Header: h}, nil
	})
}

func routeName(t *testing.T, r *Router, path, verb string) string {
	t.Helper()
	e, ok := r.Route(path)
	require.True(t, ok, "no route for %s", path)
	rsp, ok := e.Lookup(verb)
	require.True(t, ok, "no responder for %s %s", verb, path)
	resp, err := rsp.Respond(context.Background(), &responder.Request{Method: verb, Path: path})
	require.NoError(t, err)
	return resp.Header.Get("x-route")
}

func TestExactMatchTakesPrecedenceOverPrefix(t *testing.T) {
	r := New()
	require.NoError(t, r.Handle("/static/index.html", http.MethodGet, named("exact")))
	require.NoError(t, r.PrefixEndpoints("/static/").Add(http.MethodGet, named("prefix")))
	r.Finalize()

	assert.Equal(t, "exact", routeName(t, r, "/static/index.html", http.MethodGet))
	assert.Equal(t, "prefix", routeName(t, r, "/static/other.css", http.MethodGet))
}

func TestLongestPrefixWins(t *testing.T) {
	r := New()
	require.NoError(t, r.PrefixEndpoints("/api/").Add(http.MethodGet, named("api")))
	require.NoError(t, r.PrefixEndpoints("/api/v2/").Add(http.MethodGet, named("apiv2")))
	r.Finalize()

	assert.Equal(t, "apiv2", routeName(t, r, "/api/v2/users", http.MethodGet))
	assert.Equal(t, "api", routeName(t, r, "/api/v1/users", http.MethodGet))
}

func TestPrefixMatchesItself(t *testing.T) {
	r := New()
	require.NoError(t, r.PrefixEndpoints("/static/").Add(http.MethodGet, named("prefix")))
	r.Finalize()

	assert.Equal(t, "prefix", routeName(t, r, "/static/", http.MethodGet))
}

func TestNoRouteMatched(t *testing.T) {
	r := New()
	require.NoError(t, r.Handle("/only", http.MethodGet, named("only")))
	r.Finalize()

	_, ok := r.Route("/other")
	assert.False(t, ok)
}

func TestDuplicateRegistrationFails(t *testing.T) {
	r := New()
	require.NoError(t, r.Handle("/dup", http.MethodGet, named("first")))
	assert.Error(t, r.Handle("/dup", http.MethodGet, named("second")))
	// A different verb on the same path is fine.
	assert.NoError(t, r.Handle("/dup", http.MethodPost, named("post")))
}

func TestRegistrationAfterFinalizeFails(t *testing.T) {
	r := New()
	r.Finalize()
	assert.Error(t, r.Handle("/late", http.MethodGet, named("late")))
}

func TestFinalizeSynthesizesHEAD(t *testing.T) {
	r := New()
	require.NoError(t, r.Handle("/page", http.MethodGet, named("page")))
	require.NoError(t, r.PrefixEndpoints("/assets/").Add(http.MethodGet, named("assets")))
	r.Finalize()

	e, ok := r.Route("/page")
	require.True(t, ok)
	_, ok = e.Lookup(http.MethodHead)
	assert.True(t, ok)

	e, ok = r.Route("/assets/app.js")
	require.True(t, ok)
	_, ok = e.Lookup(http.MethodHead)
	assert.True(t, ok)
}
