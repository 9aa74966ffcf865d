package protocol

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pts-server/pts-server-pro/internal/models"
)

// LivenessTracker drives one session's heartbeat state machine:
//
//	ALIVE -> PENDING_PROBE   on every tick, emitting a ping probe
//	PENDING_PROBE -> ALIVE   when a pong arrives (Session.HandleProbeReply)
//	PENDING_PROBE -> DEAD    when the next tick fires with no reply
//
// DEAD is terminal: the tracker invokes onDead once and returns.
// The tracker shares nothing with the dispatcher beyond the session's
// atomic liveness field, so probing never blocks message handling.
type LivenessTracker struct {
	session  *Session
	interval time.Duration
	onDead   func(*Session)
}

// NewLivenessTracker creates a tracker for one session.
func NewLivenessTracker(s *Session, interval time.Duration, onDead func(*Session)) *LivenessTracker {
	return &LivenessTracker{
		session:  s,
		interval: interval,
		onDead:   onDead,
	}
}

// Run ticks until the session dies, closes, or the context is
// cancelled. Call in its own goroutine.
func (t *LivenessTracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.session.Closed():
			return
		case <-ticker.C:
			if t.tick() {
				return
			}
		}
	}
}

// tick advances the state machine once; returns true when terminal.
func (t *LivenessTracker) tick() bool {
	if t.session.markProbePending() {
		// Probe sends are best-effort; a failed write just leaves the
		// probe unanswered and the next tick declares the session dead.
		if err := t.session.SendProbe(); err != nil {
			log.Debug().Err(err).Str("pts_id", t.session.PtsID()).Msg("Liveness probe write failed")
		}
		return false
	}

	if t.session.markDead() {
		log.Warn().
			Str("pts_id", t.session.PtsID()).
			Dur("interval", t.interval).
			Msg("Controller missed liveness probe, declaring dead")
		if t.onDead != nil {
			t.onDead(t.session)
		}
		return true
	}

	// A reply raced the tick and revived the session, or another path
	// already declared it dead; only the latter is terminal.
	return t.session.Liveness() == models.LivenessDead
}
