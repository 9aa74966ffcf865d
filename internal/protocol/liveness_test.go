package protocol

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pts-server/pts-server-pro/internal/models"
)

func TestLivenessTickProbesThenKills(t *testing.T) {
	conn := &fakeConn{}
	s := newTestSession(conn)

	var deaths int32
	tracker := NewLivenessTracker(s, time.Minute, func(*Session) {
		atomic.AddInt32(&deaths, 1)
	})

	// First tick: probe goes out, session is pending.
	require.False(t, tracker.tick())
	assert.Equal(t, models.LivenessPendingProbe, s.Liveness())
	assert.Len(t, conn.sentControls(), 1)

	// Second tick with no reply: dead, terminal, onDead fired once.
	require.True(t, tracker.tick())
	assert.Equal(t, models.LivenessDead, s.Liveness())
	assert.Equal(t, int32(1), atomic.LoadInt32(&deaths))
}

func TestLivenessReplyRevives(t *testing.T) {
	conn := &fakeConn{}
	s := newTestSession(conn)

	var deaths int32
	tracker := NewLivenessTracker(s, time.Minute, func(*Session) {
		atomic.AddInt32(&deaths, 1)
	})

	require.False(t, tracker.tick())
	s.HandleProbeReply()
	assert.Equal(t, models.LivenessAlive, s.Liveness())

	// The next tick starts a fresh probe cycle instead of killing.
	require.False(t, tracker.tick())
	assert.Equal(t, models.LivenessPendingProbe, s.Liveness())
	assert.Equal(t, int32(0), atomic.LoadInt32(&deaths))
}

func TestLivenessRunStopsOnSessionClose(t *testing.T) {
	s := newTestSession(&fakeConn{})
	tracker := NewLivenessTracker(s, 5*time.Millisecond, nil)

	done := make(chan struct{})
	go func() {
		tracker.Run(context.Background())
		close(done)
	}()

	s.Close("test")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tracker did not stop after session close")
	}
}

func TestLivenessRunStopsOnContextCancel(t *testing.T) {
	s := newTestSession(&fakeConn{})
	tracker := NewLivenessTracker(s, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tracker.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tracker did not stop after context cancel")
	}
}

func TestLivenessRunDeclaresDead(t *testing.T) {
	s := newTestSession(&fakeConn{})

	dead := make(chan *Session, 1)
	tracker := NewLivenessTracker(s, 5*time.Millisecond, func(sess *Session) {
		dead <- sess
	})

	go tracker.Run(context.Background())

	select {
	case sess := <-dead:
		assert.Same(t, s, sess)
		assert.Equal(t, models.LivenessDead, s.Liveness())
	case <-time.After(time.Second):
		t.Fatal("session never declared dead")
	}
}
