package codec

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/net/http2/hpack"

	"example.com/conduit/internal/pipeline"
)

const readChunkSize = 8 * 1024

// HTTP1 is a minimal HTTP/1.1 codec: request line plus headers become a
// request head event, a Content-Length body is delivered as chunk events,
// and the request terminal boundary follows the last body byte. Response
// events are serialized back as an HTTP/1.1 response. Chunked transfer
// encoding is not supported.
type HTTP1 struct {
	br *bufio.Reader
	bw *bufio.Writer

	bodyRemaining int64
	endPending    bool
}

// NewHTTP1 creates an HTTP/1.1 codec over rw.
func NewHTTP1(rw io.ReadWriter) *HTTP1 {
	return &HTTP1{
		br: bufio.NewReader(rw),
		bw: bufio.NewWriter(rw),
	}
}

// ReadEvent returns the next inbound request part event.
func (c *HTTP1) ReadEvent() (pipeline.Event, error) {
	if c.endPending {
		c.endPending = false
		return pipeline.RequestEnd(), nil
	}
	if c.bodyRemaining > 0 {
		n := c.bodyRemaining
		if n > readChunkSize {
			n = readChunkSize
		}
		buf := make([]byte, n)
		read, err := io.ReadFull(c.br, buf)
		if err != nil {
			return pipeline.Event{}, err
		}
		c.bodyRemaining -= int64(read)
		if c.bodyRemaining == 0 {
			c.endPending = true
		}
		return pipeline.RequestChunk(buf[:read]), nil
	}
	return c.readHead()
}

func (c *HTTP1) readHead() (pipeline.Event, error) {
	line, err := c.readLine()
	if err != nil {
		return pipeline.Event{}, err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "HTTP/1.") {
		return pipeline.Event{}, fmt.Errorf("malformed request line %q", line)
	}
	method, uri := parts[0], parts[1]

	headers := []hpack.HeaderField{
		{Name: ":method", Value: method},
		{Name: ":path", Value: uri},
		{Name: ":scheme", Value: "http"},
	}

	var contentLength int64
	for {
		line, err := c.readLine()
		if err != nil {
			return pipeline.Event{}, err
		}
		if line == "" {
			break
		}
		i := strings.IndexByte(line, ':')
		if i <= 0 {
			return pipeline.Event{}, fmt.Errorf("malformed header line %q", line)
		}
		name := strings.ToLower(strings.TrimSpace(line[:i]))
		value := strings.TrimSpace(line[i+1:])
		switch name {
		case "host":
			headers = append(headers, hpack.HeaderField{Name: ":authority", Value: value})
		case "transfer-encoding":
			return pipeline.Event{}, fmt.Errorf("transfer-encoding %q not supported", value)
		case "content-length":
			contentLength, err = strconv.ParseInt(value, 10, 64)
			if err != nil || contentLength < 0 {
				return pipeline.Event{}, fmt.Errorf("invalid content-length %q", value)
			}
			headers = append(headers, hpack.HeaderField{Name: name, Value: value})
		default:
			headers = append(headers, hpack.HeaderField{Name: name, Value: value})
		}
	}

	if contentLength > 0 {
		c.bodyRemaining = contentLength
	} else {
		c.endPending = true
	}
	return pipeline.RequestHead(headers), nil
}

func (c *HTTP1) readLine() (string, error) {
	line, err := c.br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// WriteEvent serializes one outbound response part event.
func (c *HTTP1) WriteEvent(ev pipeline.Event) error {
	switch ev.Kind {
	case pipeline.KindResponseHead:
		status := http.StatusOK
		for _, hf := range ev.Headers {
			if hf.Name == ":status" {
				if s, err := strconv.Atoi(hf.Value); err == nil {
					status = s
				}
			}
		}
		if _, err := fmt.Fprintf(c.bw, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status)); err != nil {
			return err
		}
		for _, hf := range ev.Headers {
			if strings.HasPrefix(hf.Name, ":") {
				continue
			}
			if _, err := fmt.Fprintf(c.bw, "%s: %s\r\n", hf.Name, hf.Value); err != nil {
				return err
			}
		}
		_, err := fmt.Fprint(c.bw, "\r\n")
		return err
	case pipeline.KindResponseChunk:
		_, err := c.bw.Write(ev.Data)
		return err
	case pipeline.KindResponseEnd:
		return c.bw.Flush()
	default:
		return fmt.Errorf("codec cannot write inbound event %s", ev.Kind)
	}
}
