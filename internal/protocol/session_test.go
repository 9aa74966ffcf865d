package protocol

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pts-server/pts-server-pro/internal/models"
)

// fakeConn is an in-memory Conn that records every frame written to it.
type fakeConn struct {
	mu       sync.Mutex
	frames   [][]byte
	controls []int
	writeErr error
	closed   bool
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.frames = append(c.frames, buf)
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.controls = append(c.controls, messageType)
	return nil
}

func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) sentFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *fakeConn) sentControls() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.controls))
	copy(out, c.controls)
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// lastResponse decodes the most recent frame written to the conn.
func lastResponse(t *testing.T, c *fakeConn) models.Response {
	t.Helper()
	frames := c.sentFrames()
	require.NotEmpty(t, frames)

	var resp models.Response
	require.NoError(t, json.Unmarshal(frames[len(frames)-1], &resp))
	return resp
}

func newTestSession(conn Conn) *Session {
	return NewSession(conn, "0027003A", "2024-01-01T00:00:00", "cfg-1", "10.0.0.5:40000", SessionOptions{
		MaxPacketID:  65535,
		WriteTimeout: time.Second,
	})
}

func TestSessionSend(t *testing.T) {
	conn := &fakeConn{}
	s := newTestSession(conn)

	require.NoError(t, s.Send(models.NewConfirmation(7, "PumpTransaction")))

	resp := lastResponse(t, conn)
	assert.Equal(t, models.ResponseTypeConfirmation, resp.Type)
	assert.Equal(t, 7, resp.PacketID)
	assert.True(t, resp.Success)
	assert.Equal(t, "PumpTransaction", resp.RequestType)
	assert.Equal(t, int64(1), s.Snapshot().OutboundMessages)
}

func TestSessionSendAfterClose(t *testing.T) {
	conn := &fakeConn{}
	s := newTestSession(conn)

	s.Close("test")

	err := s.Send(models.NewConfirmation(1, "Status"))
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Empty(t, conn.sentFrames())
}

func TestSessionCloseIdempotent(t *testing.T) {
	conn := &fakeConn{}
	s := newTestSession(conn)

	s.Close("first reason")
	s.Close("second reason")

	assert.True(t, conn.isClosed())
	assert.Equal(t, "first reason", s.CloseReason())

	select {
	case <-s.Closed():
	default:
		t.Fatal("closed channel not closed")
	}
}

func TestNextPacketIDWrapsSkippingZero(t *testing.T) {
	conn := &fakeConn{}
	s := NewSession(conn, "A", "", "", "", SessionOptions{MaxPacketID: 3})

	assert.Equal(t, 1, s.NextPacketID())
	assert.Equal(t, 2, s.NextPacketID())
	assert.Equal(t, 3, s.NextPacketID())
	// Wraps back to 1; 0 is reserved for uncorrelated responses.
	assert.Equal(t, 1, s.NextPacketID())
}

func TestSessionProbeLifecycle(t *testing.T) {
	conn := &fakeConn{}
	s := newTestSession(conn)

	assert.Equal(t, models.LivenessAlive, s.Liveness())

	require.True(t, s.markProbePending())
	assert.Equal(t, models.LivenessPendingProbe, s.Liveness())
	// A second probe cannot be issued while one is outstanding.
	assert.False(t, s.markProbePending())

	require.NoError(t, s.SendProbe())
	assert.Equal(t, []int{websocket.PingMessage}, conn.sentControls())

	s.HandleProbeReply()
	assert.Equal(t, models.LivenessAlive, s.Liveness())

	// markDead only fires from PENDING_PROBE.
	assert.False(t, s.markDead())
	require.True(t, s.markProbePending())
	require.True(t, s.markDead())
	assert.Equal(t, models.LivenessDead, s.Liveness())

	// A late pong cannot revive a dead session.
	s.HandleProbeReply()
	assert.Equal(t, models.LivenessDead, s.Liveness())
}

func TestSessionSnapshot(t *testing.T) {
	conn := &fakeConn{}
	s := newTestSession(conn)

	s.Touch()
	s.Touch()
	s.CountValidationFailure()

	snap := s.Snapshot()
	assert.Equal(t, "0027003A", snap.PtsID)
	assert.Equal(t, "2024-01-01T00:00:00", snap.FirmwareVersion)
	assert.Equal(t, "cfg-1", snap.ConfigIdentifier)
	assert.Equal(t, int64(2), snap.InboundMessages)
	assert.Equal(t, int64(1), snap.ValidationFailures)
	assert.Equal(t, models.LivenessAlive, snap.Liveness)
}
