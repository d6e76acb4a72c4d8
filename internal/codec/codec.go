// Package codec defines the wire codec boundary of the pipeline: parsing
// inbound bytes into typed request part events and serializing response part
// events back out. The pipeline consumes codecs only through the Codec
// interface; a minimal HTTP/1.1 implementation is provided for the demo
// binary and tests.
package codec

import (
	"io"

	"example.com/conduit/internal/pipeline"
)

// Codec produces the inbound typed event stream for one connection and
// consumes the outbound one. ReadEvent blocks until an event is available
// and returns io.EOF (or the underlying transport error) when the peer goes
// away. Implementations are used by a single goroutine.
type Codec interface {
	ReadEvent() (pipeline.Event, error)
	WriteEvent(pipeline.Event) error
}

// Factory builds a codec for one accepted connection.
type Factory func(rw io.ReadWriter) Codec
