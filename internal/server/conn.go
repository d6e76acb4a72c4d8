package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/net/http2/hpack"
	"k8s.io/utils/clock"

	"example.com/conduit/internal/codec"
	"example.com/conduit/internal/logger"
	"example.com/conduit/internal/middleware"
	"example.com/conduit/internal/pipeline"
	"example.com/conduit/internal/responder"
)

// conn runs one connection's pipeline: a single goroutine reads typed
// events from the codec, feeds the lifecycle controller, assembles requests
// and dispatches them through the matched endpoint's composed chain. That
// goroutine is the connection's execution context; operations for one
// connection are strictly ordered.
type conn struct {
	srv   *Server
	nc    net.Conn
	codec codec.Codec
	ctrl  *pipeline.Controller
	log   *logger.Logger

	ctx       context.Context
	cancelCtx context.CancelFunc
	closeOnce sync.Once

	// Guards the idle timer against its own firing goroutine.
	idleMu    sync.Mutex
	idleTimer clock.Timer

	// Request assembly state, touched only by the serve goroutine.
	reqHeaders []hpack.HeaderField
	reqBody    []byte
}

func newConn(s *Server, nc net.Conn) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		srv:       s,
		nc:        nc,
		codec:     s.newCodec(nc),
		log:       s.log,
		ctx:       ctx,
		cancelCtx: cancel,
	}
	c.ctrl = pipeline.NewController(c, s.log, s.clk, s.cfg.Server.QuiesceTimeoutDuration)
	return c
}

// Close implements pipeline.Conn. It cancels the connection's context so
// in-flight handlers stop promptly, then closes the transport. Repeated
// calls are no-ops.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancelCtx()
		err = c.nc.Close()
	})
	return err
}

// RemoteAddr implements pipeline.Conn.
func (c *conn) RemoteAddr() string {
	return c.nc.RemoteAddr().String()
}

func (c *conn) serve() {
	defer func() {
		c.stopIdleTimer()
		c.ctrl.Remove()
		c.srv.removeConn(c)
	}()

	c.armIdleTimer()

	for {
		ev, err := c.codec.ReadEvent()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && c.ctx.Err() == nil {
				c.log.Debug("connection read failed", logger.LogFields{
					"remote_addr": c.RemoteAddr(),
					"error":       err.Error(),
				})
			}
			return
		}
		c.resetIdleTimer()

		ev = c.ctrl.OnInbound(ev)
		switch ev.Kind {
		case pipeline.KindRequestHead:
			c.reqHeaders = ev.Headers
			c.reqBody = nil
		case pipeline.KindRequestChunk:
			c.reqBody = append(c.reqBody, ev.Data...)
		case pipeline.KindRequestEnd:
			if err := c.dispatch(); err != nil {
				c.log.Debug("connection write failed", logger.LogFields{
					"remote_addr": c.RemoteAddr(),
					"error":       err.Error(),
				})
				return
			}
		}
	}
}

// dispatch resolves the assembled request through the router and endpoint
// table, invokes the composed responder chain, and writes the response
// events back through the lifecycle controller. Every path, including
// handler failure, emits a terminal response boundary so the in-flight
// counters stay balanced.
func (c *conn) dispatch() error {
	headers, body := c.reqHeaders, c.reqBody
	c.reqHeaders, c.reqBody = nil, nil

	req, err := requestFromHead(headers, body)
	if err != nil {
		c.log.Warn("malformed request head", logger.LogFields{
			"remote_addr": c.RemoteAddr(),
			"error":       err.Error(),
		})
		return c.writeResponse(middleware.ErrorResponse(http.StatusBadRequest, "malformed request"))
	}

	endpoints, ok := c.srv.router.Route(req.Path)
	if !ok {
		return c.writeResponse(middleware.ErrorResponse(http.StatusNotFound, ""))
	}
	rsp, ok := endpoints.Lookup(req.Method)
	if !ok {
		resp := middleware.ErrorResponse(http.StatusMethodNotAllowed, "")
		resp.Header.Set("allow", strings.Join(endpoints.Verbs(), ", "))
		return c.writeResponse(resp)
	}

	resp, err := rsp.Respond(c.ctx, req)
	if err != nil {
		// Topmost error mapping: a chain without an ErrorMapper still must
		// produce a response.
		c.log.Error("responder chain failed", logger.LogFields{
			"remote_addr": c.RemoteAddr(),
			"method":      req.Method,
			"path":        req.Path,
			"error":       err.Error(),
		})
		resp = middleware.ErrorResponse(http.StatusInternalServerError, "")
	}
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	return c.writeResponse(resp)
}

// writeResponse turns a response into head/chunk/end events and writes them
// through the lifecycle controller so the response-terminal boundary is
// observed after it is flushed.
func (c *conn) writeResponse(resp *responder.Response) error {
	if err := c.ctrl.OnOutbound(pipeline.ResponseHead(responseHeadFields(resp)), c.codec.WriteEvent); err != nil {
		return err
	}
	if len(resp.Body) > 0 {
		if err := c.ctrl.OnOutbound(pipeline.ResponseChunk(resp.Body), c.codec.WriteEvent); err != nil {
			return err
		}
	}
	return c.ctrl.OnOutbound(pipeline.ResponseEnd(), c.codec.WriteEvent)
}

func (c *conn) armIdleTimer() {
	d := c.srv.cfg.Server.IdleReadTimeoutDuration
	if d <= 0 {
		return
	}
	c.idleMu.Lock()
	defer c.idleMu.Unlock()
	c.idleTimer = c.srv.clk.AfterFunc(d, c.idleExpired)
}

// idleExpired delivers the idle signal to the controller and re-arms the
// timer, so the signal keeps firing while the connection stays open.
func (c *conn) idleExpired() {
	c.ctrl.IdleTimeout()
	if c.ctrl.Closed() {
		return
	}
	c.idleMu.Lock()
	defer c.idleMu.Unlock()
	if c.idleTimer != nil {
		c.idleTimer.Reset(c.srv.cfg.Server.IdleReadTimeoutDuration)
	}
}

func (c *conn) resetIdleTimer() {
	c.idleMu.Lock()
	defer c.idleMu.Unlock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer.Reset(c.srv.cfg.Server.IdleReadTimeoutDuration)
	}
}

func (c *conn) stopIdleTimer() {
	c.idleMu.Lock()
	defer c.idleMu.Unlock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}
