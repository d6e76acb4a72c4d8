package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"example.com/conduit/internal/responder"
)

// StatusError is an error carrying the HTTP status it should be mapped to.
// Handlers and middleware may return it to control the mapped response;
// any other error maps to 500.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Code, http.StatusText(e.Code), e.Message)
}

// NewStatusError builds a StatusError for the given status code.
func NewStatusError(code int, message string) *StatusError {
	return &StatusError{Code: code, Message: message}
}

// errorDetail is the inner structure of a JSON error response body.
type errorDetail struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
}

// errorResponseJSON is the full JSON error response body.
type errorResponseJSON struct {
	Error errorDetail `json:"error"`
}

// ErrorResponse builds a JSON error response for a status code.
func ErrorResponse(code int, detail string) *responder.Response {
	body, err := json.Marshal(errorResponseJSON{Error: errorDetail{
		StatusCode: code,
		Message:    http.StatusText(code),
		Detail:     detail,
	}})
	if err != nil {
		body = []byte(`{"error":{"status_code":500,"message":"Internal Server Error"}}`)
		code = http.StatusInternalServerError
	}
	h := make(http.Header)
	h.Set("content-type", "application/json; charset=utf-8")
	return &responder.Response{Status: code, Header: h, Body: body}
}

// mapError converts a handler error into its JSON error response.
func mapError(err error) *responder.Response {
	var se *StatusError
	if errors.As(err, &se) {
		return ErrorResponse(se.Code, se.Message)
	}
	return ErrorResponse(http.StatusInternalServerError, "")
}
