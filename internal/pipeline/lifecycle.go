package pipeline

import (
	"sync"
	"time"

	"k8s.io/utils/clock"

	"example.com/conduit/internal/logger"
)

// Controller is the per-connection lifecycle state machine. It observes
// inbound request boundaries and outbound response boundaries, forwarding
// every event unchanged, and reacts to three external signals: quiesce
// requested, idle read timeout fired, and stage removal.
//
// A request is in progress from the first byte of its head until its
// response is fully written; it is additionally being read until its own
// terminal boundary arrives, so requestsBeingRead <= requestsInProgress
// holds after every event.
//
// Event observation happens on the connection's single serving goroutine;
// the external signals (Quiesce, IdleTimeout) and the quiesce-timeout
// callback may arrive from other goroutines, so the mutex serializes every
// entry point. State is never shared across connections.
type Controller struct {
	log            *logger.Logger
	clk            clock.WithDelayedExecution
	conn           Conn
	quiesceTimeout time.Duration // 0 = wait indefinitely for in-flight work

	mu                        sync.Mutex
	requestsBeingRead         int
	requestsInProgress        int
	closeAfterResponseWritten bool
	quiesceTimer              clock.Timer
	closed                    bool
}

// NewController creates a lifecycle controller for one connection.
// quiesceTimeout bounds how long a quiescing connection waits for in-flight
// work to drain; zero means wait indefinitely.
func NewController(conn Conn, lg *logger.Logger, clk clock.WithDelayedExecution, quiesceTimeout time.Duration) *Controller {
	return &Controller{
		log:            lg,
		clk:            clk,
		conn:           conn,
		quiesceTimeout: quiesceTimeout,
	}
}

// OnInbound observes one inbound event and returns it unchanged for the next
// stage. Request heads and terminal boundaries update the in-flight
// counters; all other events pass through untouched.
func (c *Controller) OnInbound(ev Event) Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case KindRequestHead:
		c.requestsInProgress++
		c.requestsBeingRead++
	case KindRequestEnd:
		if c.requestsBeingRead > 0 {
			c.requestsBeingRead--
		}
	}
	return ev
}

// OnOutbound forwards ev through write first and then performs response
// bookkeeping. The write-before-bookkeeping order guarantees a response
// terminal boundary is flushed before any close it triggers is initiated.
func (c *Controller) OnOutbound(ev Event, write func(Event) error) error {
	err := write(ev)

	if ev.Kind != KindResponseEnd {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.requestsInProgress > 0 {
		c.requestsInProgress--
	}
	// Requests that arrived during the quiesce window extend the drain: the
	// close happens once no work remains.
	if c.closeAfterResponseWritten && c.requestsInProgress == 0 {
		c.closeAfterResponseWritten = false
		c.cancelQuiesceTimerLocked()
		c.closeLocked()
	}
	return err
}

// Quiesce reacts to the externally signalled begin-quiescing event. With no
// requests in progress the connection closes immediately; otherwise the
// close is deferred until the outstanding responses are written, bounded by
// the configured quiesce timeout. Repeated signals are idempotent.
func (c *Controller) Quiesce() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.closeAfterResponseWritten {
		return
	}
	if c.requestsInProgress == 0 {
		c.closeLocked()
		return
	}

	c.closeAfterResponseWritten = true
	if c.quiesceTimeout > 0 {
		c.quiesceTimer = c.clk.AfterFunc(c.quiesceTimeout, c.quiesceExpired)
	}
}

// quiesceExpired runs when the bounded quiesce timeout elapses before the
// outstanding work drained.
func (c *Controller) quiesceExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.log.Warn("quiesce timeout elapsed with requests still in flight, closing connection", logger.LogFields{
		"remote_addr":          c.conn.RemoteAddr(),
		"requests_in_progress": c.requestsInProgress,
		"timeout":              c.quiesceTimeout.String(),
	})
	c.quiesceTimer = nil
	c.closeAfterResponseWritten = false
	c.closeLocked()
}

// IdleTimeout reacts to the idle-read-timeout collaborator firing. The
// connection closes only when no request head is mid-read or no request is
// in progress at all; it stays open while a request body is still streaming
// in.
func (c *Controller) IdleTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if c.requestsBeingRead == 0 || c.requestsInProgress == 0 {
		c.closeLocked()
	}
}

// Remove is called when the stage is torn down (the connection's serving
// loop is exiting). A pending quiesce timer is cancelled; if the connection
// is somehow still open it is closed.
func (c *Controller) Remove() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelQuiesceTimerLocked()
	if c.closed {
		return
	}
	if c.closeAfterResponseWritten {
		c.log.Warn("connection removed before quiescing completed", logger.LogFields{
			"remote_addr":          c.conn.RemoteAddr(),
			"requests_in_progress": c.requestsInProgress,
		})
		c.closeAfterResponseWritten = false
	}
	c.closeLocked()
}

// Quiescing reports whether a quiesce has been requested and the close is
// still pending on outstanding work.
func (c *Controller) Quiescing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeAfterResponseWritten
}

// Closed reports whether the controller has closed its connection.
func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// InFlight returns the current (requestsBeingRead, requestsInProgress)
// counters.
func (c *Controller) InFlight() (beingRead, inProgress int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestsBeingRead, c.requestsInProgress
}

// cancelQuiesceTimerLocked stops and clears a pending quiesce timer.
// Stopping an already-fired timer is a benign no-op.
func (c *Controller) cancelQuiesceTimerLocked() {
	if c.quiesceTimer != nil {
		c.quiesceTimer.Stop()
		c.quiesceTimer = nil
	}
}

// closeLocked closes the underlying connection. Close failures are
// swallowed: the controller is best-effort cleanup, not an error path.
func (c *Controller) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	if err := c.conn.Close(); err != nil {
		c.log.Debug("error closing connection", logger.LogFields{
			"remote_addr": c.conn.RemoteAddr(),
			"error":       err.Error(),
		})
	}
}
