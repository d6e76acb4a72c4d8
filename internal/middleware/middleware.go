// Package middleware provides the stock cross-cutting responder middleware:
// access logging, panic recovery, bearer-token authentication and error
// mapping. Each is an ordinary responder.Middleware and composes through a
// responder.Group like any caller-supplied unit.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"example.com/conduit/internal/logger"
	"example.com/conduit/internal/responder"
)

// AccessLog logs one structured entry per request after the downstream
// responder returns: method, path, status (or error) and duration.
func AccessLog(lg *logger.Logger) responder.Middleware {
	return responder.MiddlewareFunc(func(ctx context.Context, req *responder.Request, next responder.Responder) (*responder.Response, error) {
		start := time.Now()
		resp, err := next.Respond(ctx, req)
		fields := logger.LogFields{
			"method":      req.Method,
			"path":        req.Path,
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if err != nil {
			fields["error"] = err.Error()
			lg.Warn("request failed", fields)
			return resp, err
		}
		fields["status"] = resp.Status
		lg.Info("request served", fields)
		return resp, nil
	})
}

// Recover converts a downstream panic into an error so a failed request
// still produces a terminal response boundary and the connection's
// in-flight accounting stays balanced.
func Recover(lg *logger.Logger) responder.Middleware {
	return responder.MiddlewareFunc(func(ctx context.Context, req *responder.Request, next responder.Responder) (resp *responder.Response, err error) {
		defer func() {
			if r := recover(); r != nil {
				lg.Error("panic in responder", logger.LogFields{
					"method": req.Method,
					"path":   req.Path,
					"panic":  fmt.Sprintf("%v", r),
				})
				resp = nil
				err = fmt.Errorf("panic while responding to %s %s: %v", req.Method, req.Path, r)
			}
		}()
		return next.Respond(ctx, req)
	})
}

// BearerAuth short-circuits with 401 unless the request carries the
// expected bearer token, never invoking the downstream continuation for
// unauthenticated requests.
func BearerAuth(token string) responder.Middleware {
	const prefix = "Bearer "
	return responder.MiddlewareFunc(func(ctx context.Context, req *responder.Request, next responder.Responder) (*responder.Response, error) {
		got := req.Header.Get("Authorization")
		// Scheme is case-insensitive, the token itself is not.
		if len(got) <= len(prefix) || !strings.EqualFold(got[:len(prefix)], prefix) || got[len(prefix):] != token {
			resp := ErrorResponse(http.StatusUnauthorized, "missing or invalid bearer token")
			resp.Header.Set("www-authenticate", "Bearer")
			return resp, nil
		}
		return next.Respond(ctx, req)
	})
}

// ErrorMapper maps any error the downstream chain raises into a JSON error
// response. It is meant to sit outermost so request-level errors never
// escape the chain without a response.
func ErrorMapper(lg *logger.Logger) responder.Middleware {
	return responder.MiddlewareFunc(func(ctx context.Context, req *responder.Request, next responder.Responder) (*responder.Response, error) {
		resp, err := next.Respond(ctx, req)
		if err == nil {
			return resp, nil
		}
		lg.Error("mapping responder error to response", logger.LogFields{
			"method": req.Method,
			"path":   req.Path,
			"error":  err.Error(),
		})
		return mapError(err), nil
	})
}
