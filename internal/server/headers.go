package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/net/http2/hpack"

	"example.com/conduit/internal/responder"
)

// requestFromHead builds a responder.Request from a decoded request head
// plus the collected body. Pseudo-headers follow the HTTP/2 convention:
// :method and :path are required, :authority is optional.
func requestFromHead(headers []hpack.HeaderField, body []byte) (*responder.Request, error) {
	req := &responder.Request{
		Header: make(http.Header),
		Body:   body,
	}
	for _, hf := range headers {
		switch hf.Name {
		case ":method":
			req.Method = hf.Value
		case ":path":
			// Routing uses the path component only; the query stays with
			// the codec's raw form.
			path, _, _ := strings.Cut(hf.Value, "?")
			req.Path = path
		case ":authority":
			req.Authority = hf.Value
		case ":scheme":
			// Not carried on the request.
		default:
			req.Header.Add(hf.Name, hf.Value)
		}
	}
	if req.Method == "" {
		return nil, fmt.Errorf("request head missing :method")
	}
	if req.Path == "" {
		return nil, fmt.Errorf("request head missing :path")
	}
	return req, nil
}

// responseHeadFields converts a response's status and headers into the
// header fields of a response head event. Header names are lowercased and a
// content-length field reflecting the buffered body is always present.
func responseHeadFields(resp *responder.Response) []hpack.HeaderField {
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	fields := []hpack.HeaderField{
		{Name: ":status", Value: strconv.Itoa(status)},
	}
	for name, values := range resp.Header {
		lower := strings.ToLower(name)
		if lower == "content-length" {
			continue
		}
		for _, v := range values {
			fields = append(fields, hpack.HeaderField{Name: lower, Value: v})
		}
	}
	fields = append(fields, hpack.HeaderField{Name: "content-length", Value: strconv.Itoa(len(resp.Body))})
	return fields
}
