package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"example.com/conduit/internal/logger"
)

// fakeConn records close calls for the controller under test.
type fakeConn struct {
	mu       sync.Mutex
	closes   int
	closeErr error
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return f.closeErr
}

func (f *fakeConn) RemoteAddr() string { return "192.0.2.1:4242" }

func (f *fakeConn) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func newTestController(t *testing.T, quiesceTimeout time.Duration) (*Controller, *fakeConn, *clocktesting.FakeClock) {
	t.Helper()
	fc := &fakeConn{}
	clk := clocktesting.NewFakeClock(time.Now())
	ctrl := NewController(fc, logger.NewTestLogger(nil), clk, quiesceTimeout)
	return ctrl, fc, clk
}

func discardWrite(Event) error { return nil }

func TestCountersTrackRequestBoundaries(t *testing.T) {
	ctrl, _, _ := newTestController(t, 0)

	ctrl.OnInbound(RequestHead(nil))
	beingRead, inProgress := ctrl.InFlight()
	assert.Equal(t, 1, beingRead)
	assert.Equal(t, 1, inProgress)

	ctrl.OnInbound(RequestChunk([]byte("body")))
	beingRead, inProgress = ctrl.InFlight()
	assert.Equal(t, 1, beingRead)
	assert.Equal(t, 1, inProgress)

	ctrl.OnInbound(RequestEnd())
	beingRead, inProgress = ctrl.InFlight()
	assert.Equal(t, 0, beingRead)
	assert.Equal(t, 1, inProgress)

	require.NoError(t, ctrl.OnOutbound(ResponseHead(nil), discardWrite))
	require.NoError(t, ctrl.OnOutbound(ResponseEnd(), discardWrite))
	beingRead, inProgress = ctrl.InFlight()
	assert.Equal(t, 0, beingRead)
	assert.Equal(t, 0, inProgress)
}

func TestCountersNeverGoNegative(t *testing.T) {
	ctrl, _, _ := newTestController(t, 0)

	// Event sequences the codec should never produce must still not drive
	// the counters below zero.
	ctrl.OnInbound(RequestEnd())
	require.NoError(t, ctrl.OnOutbound(ResponseEnd(), discardWrite))

	beingRead, inProgress := ctrl.InFlight()
	assert.Equal(t, 0, beingRead)
	assert.Equal(t, 0, inProgress)
}

func TestCounterInvariantAcrossPipelinedRequests(t *testing.T) {
	ctrl, _, _ := newTestController(t, 0)

	check := func() {
		beingRead, inProgress := ctrl.InFlight()
		assert.GreaterOrEqual(t, beingRead, 0)
		assert.GreaterOrEqual(t, inProgress, 0)
		assert.LessOrEqual(t, beingRead, inProgress)
	}

	// Two pipelined requests: the second head arrives before the first
	// response is written.
	ctrl.OnInbound(RequestHead(nil))
	check()
	ctrl.OnInbound(RequestEnd())
	check()
	ctrl.OnInbound(RequestHead(nil))
	check()
	require.NoError(t, ctrl.OnOutbound(ResponseEnd(), discardWrite))
	check()
	ctrl.OnInbound(RequestEnd())
	check()
	require.NoError(t, ctrl.OnOutbound(ResponseEnd(), discardWrite))
	check()

	beingRead, inProgress := ctrl.InFlight()
	assert.Equal(t, 0, beingRead)
	assert.Equal(t, 0, inProgress)
}

func TestInboundEventsForwardedUnchanged(t *testing.T) {
	ctrl, _, _ := newTestController(t, 0)

	in := RequestChunk([]byte("payload"))
	out := ctrl.OnInbound(in)
	assert.Equal(t, in, out)
}

func TestQuiesceWithNoRequestsClosesImmediately(t *testing.T) {
	ctrl, fc, clk := newTestController(t, 10*time.Millisecond)

	ctrl.Quiesce()
	assert.True(t, ctrl.Closed())
	assert.Equal(t, 1, fc.closeCount())
	// No timer was armed.
	assert.False(t, clk.HasWaiters())
}

func TestQuiesceWithoutTimeoutWaitsForResponse(t *testing.T) {
	ctrl, fc, clk := newTestController(t, 0)

	ctrl.OnInbound(RequestHead(nil))
	ctrl.OnInbound(RequestEnd())

	ctrl.Quiesce()
	assert.True(t, ctrl.Quiescing())
	assert.False(t, ctrl.Closed())
	assert.False(t, clk.HasWaiters())

	// The connection stays open until the response terminal boundary is
	// written, and the write happens before the close.
	var wroteBeforeClose bool
	err := ctrl.OnOutbound(ResponseEnd(), func(Event) error {
		wroteBeforeClose = fc.closeCount() == 0
		return nil
	})
	require.NoError(t, err)
	assert.True(t, wroteBeforeClose)
	assert.True(t, ctrl.Closed())
	assert.Equal(t, 1, fc.closeCount())
}

func TestQuiesceTimeoutClosesConnection(t *testing.T) {
	ctrl, fc, clk := newTestController(t, 10*time.Millisecond)

	ctrl.OnInbound(RequestHead(nil))
	ctrl.Quiesce()
	require.True(t, clk.HasWaiters())
	assert.False(t, ctrl.Closed())

	clk.Step(10 * time.Millisecond)
	assert.True(t, ctrl.Closed())
	assert.Equal(t, 1, fc.closeCount())
}

func TestResponseBeforeQuiesceTimeoutCancelsTimer(t *testing.T) {
	ctrl, fc, clk := newTestController(t, 10*time.Millisecond)

	ctrl.OnInbound(RequestHead(nil))
	ctrl.OnInbound(RequestEnd())
	ctrl.Quiesce()
	require.True(t, clk.HasWaiters())

	require.NoError(t, ctrl.OnOutbound(ResponseEnd(), discardWrite))
	assert.True(t, ctrl.Closed())
	assert.Equal(t, 1, fc.closeCount())

	// Advancing virtual time past the timeout must cause no further state
	// change: the timer was cancelled.
	clk.Step(20 * time.Millisecond)
	assert.Equal(t, 1, fc.closeCount())
}

func TestRepeatedQuiesceIsIdempotent(t *testing.T) {
	ctrl, fc, clk := newTestController(t, 10*time.Millisecond)

	ctrl.OnInbound(RequestHead(nil))
	ctrl.Quiesce()
	ctrl.Quiesce()
	ctrl.Quiesce()

	clk.Step(10 * time.Millisecond)
	assert.Equal(t, 1, fc.closeCount())

	// Quiesce after close is also a no-op.
	ctrl.Quiesce()
	assert.Equal(t, 1, fc.closeCount())
}

func TestIdleTimeoutWhileRequestBeingReadDoesNotClose(t *testing.T) {
	ctrl, fc, _ := newTestController(t, 0)

	// Head arrived, terminal boundary has not: the request is still being
	// streamed in.
	ctrl.OnInbound(RequestHead(nil))
	ctrl.IdleTimeout()
	assert.False(t, ctrl.Closed())
	assert.Equal(t, 0, fc.closeCount())
}

func TestIdleTimeoutBetweenRequestsCloses(t *testing.T) {
	ctrl, fc, _ := newTestController(t, 0)

	ctrl.IdleTimeout()
	assert.True(t, ctrl.Closed())
	assert.Equal(t, 1, fc.closeCount())
}

func TestIdleTimeoutAfterRequestFullyReadCloses(t *testing.T) {
	ctrl, _, _ := newTestController(t, 0)

	ctrl.OnInbound(RequestHead(nil))
	ctrl.OnInbound(RequestEnd())
	// Body fully arrived, nothing is mid-read on the wire.
	ctrl.IdleTimeout()
	assert.True(t, ctrl.Closed())
}

func TestIdleTimeoutAfterCloseIsNoOp(t *testing.T) {
	ctrl, fc, _ := newTestController(t, 0)

	ctrl.IdleTimeout()
	ctrl.IdleTimeout()
	assert.Equal(t, 1, fc.closeCount())
}

func TestRemoveCancelsPendingTimerAndCloses(t *testing.T) {
	ctrl, fc, clk := newTestController(t, 10*time.Millisecond)

	ctrl.OnInbound(RequestHead(nil))
	ctrl.Quiesce()
	require.True(t, clk.HasWaiters())

	ctrl.Remove()
	assert.True(t, ctrl.Closed())
	assert.Equal(t, 1, fc.closeCount())

	clk.Step(20 * time.Millisecond)
	assert.Equal(t, 1, fc.closeCount())
}

func TestRemoveOnOpenConnectionCloses(t *testing.T) {
	ctrl, fc, _ := newTestController(t, 0)

	ctrl.Remove()
	assert.True(t, ctrl.Closed())
	assert.Equal(t, 1, fc.closeCount())

	// Removal twice is harmless.
	ctrl.Remove()
	assert.Equal(t, 1, fc.closeCount())
}

func TestCloseErrorIsSwallowed(t *testing.T) {
	fc := &fakeConn{closeErr: assert.AnError}
	clk := clocktesting.NewFakeClock(time.Now())
	ctrl := NewController(fc, logger.NewTestLogger(nil), clk, 0)

	ctrl.Quiesce()
	assert.True(t, ctrl.Closed())
	assert.Equal(t, 1, fc.closeCount())
}

func TestWriteErrorStillBalancesCounters(t *testing.T) {
	ctrl, _, _ := newTestController(t, 0)

	ctrl.OnInbound(RequestHead(nil))
	ctrl.OnInbound(RequestEnd())

	err := ctrl.OnOutbound(ResponseEnd(), func(Event) error { return assert.AnError })
	assert.Error(t, err)
	_, inProgress := ctrl.InFlight()
	assert.Equal(t, 0, inProgress)
}

func TestNewRequestDuringQuiesceExtendsDrain(t *testing.T) {
	ctrl, fc, _ := newTestController(t, 0)

	ctrl.OnInbound(RequestHead(nil))
	ctrl.OnInbound(RequestEnd())
	ctrl.Quiesce()

	// A pipelined request that arrives during the quiesce window is
	// accepted and counted; the close waits for the whole drain.
	ctrl.OnInbound(RequestHead(nil))
	ctrl.OnInbound(RequestEnd())

	require.NoError(t, ctrl.OnOutbound(ResponseEnd(), discardWrite))
	assert.False(t, ctrl.Closed())

	require.NoError(t, ctrl.OnOutbound(ResponseEnd(), discardWrite))
	assert.True(t, ctrl.Closed())
	assert.Equal(t, 1, fc.closeCount())
}
