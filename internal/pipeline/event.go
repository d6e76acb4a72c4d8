// Package pipeline implements the per-connection request pipeline stages,
// most importantly the connection lifecycle controller that tracks in-flight
// request/response pairs and drives graceful (quiescing) shutdown and idle
// timeout policy for a single connection.
package pipeline

import (
	"golang.org/x/net/http2/hpack"
)

// EventKind discriminates the typed request/response part events the wire
// codec produces and consumes.
type EventKind int

const (
	// KindRequestHead marks the arrival of a request's header block.
	KindRequestHead EventKind = iota
	// KindRequestChunk carries a piece of a request body.
	KindRequestChunk
	// KindRequestEnd is the terminal boundary of a request.
	KindRequestEnd
	// KindResponseHead marks the start of a response.
	KindResponseHead
	// KindResponseChunk carries a piece of a response body.
	KindResponseChunk
	// KindResponseEnd is the terminal boundary of a response.
	KindResponseEnd
)

func (k EventKind) String() string {
	switch k {
	case KindRequestHead:
		return "RequestHead"
	case KindRequestChunk:
		return "RequestChunk"
	case KindRequestEnd:
		return "RequestEnd"
	case KindResponseHead:
		return "ResponseHead"
	case KindResponseChunk:
		return "ResponseChunk"
	case KindResponseEnd:
		return "ResponseEnd"
	default:
		return "Unknown"
	}
}

// Event is one request or response part moving through a connection's
// pipeline. Head events carry the decoded header block, chunk events carry
// body bytes. Pipeline stages forward events unchanged; only the codec
// creates or consumes their content.
type Event struct {
	Kind    EventKind
	Headers []hpack.HeaderField // head events only
	Data    []byte              // chunk events only
}

// RequestHead builds a request head event.
func RequestHead(headers []hpack.HeaderField) Event {
	return Event{Kind: KindRequestHead, Headers: headers}
}

// RequestChunk builds a request body chunk event.
func RequestChunk(data []byte) Event {
	return Event{Kind: KindRequestChunk, Data: data}
}

// RequestEnd builds a request terminal boundary event.
func RequestEnd() Event {
	return Event{Kind: KindRequestEnd}
}

// ResponseHead builds a response head event.
func ResponseHead(headers []hpack.HeaderField) Event {
	return Event{Kind: KindResponseHead, Headers: headers}
}

// ResponseChunk builds a response body chunk event.
func ResponseChunk(data []byte) Event {
	return Event{Kind: KindResponseChunk, Data: data}
}

// ResponseEnd builds a response terminal boundary event.
func ResponseEnd() Event {
	return Event{Kind: KindResponseEnd}
}

// Conn is the narrow view of the owning connection the lifecycle controller
// needs. Closing an already-closed connection must be a safe no-op.
type Conn interface {
	Close() error
	RemoteAddr() string
}
