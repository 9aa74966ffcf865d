package protocol

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pts-server/pts-server-pro/internal/models"
)

// Conn is the subset of the websocket connection a session owns.
// *websocket.Conn satisfies it; tests substitute an in-memory fake.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// SessionOptions configures a new session.
type SessionOptions struct {
	// MaxPacketID bounds the server-originated packet id allocator.
	MaxPacketID int
	// WriteTimeout bounds a single outbound frame write.
	WriteTimeout time.Duration
}

// Session binds one controller identity to its single active
// connection. The websocket read loop and the liveness tracker are the
// only writers of session state; both go through atomic fields or the
// write mutex, so no additional locking is needed by callers.
type Session struct {
	ptsID            string
	firmwareVersion  string
	configIdentifier string
	remoteAddr       string
	connectedAt      time.Time

	conn         Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration

	lastInbound        atomic.Int64 // unix nanos
	inboundCount       atomic.Int64
	outboundCount      atomic.Int64
	validationFailures atomic.Int64
	liveness           atomic.Int32

	packetMu     sync.Mutex
	nextPacketID int
	maxPacketID  int

	closeOnce   sync.Once
	closed      chan struct{}
	closeReason atomic.Value // string
}

// NewSession creates a session for an accepted controller connection.
func NewSession(conn Conn, ptsID, firmwareVersion, configIdentifier, remoteAddr string, opts SessionOptions) *Session {
	if opts.MaxPacketID <= 0 {
		opts.MaxPacketID = 65535
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}

	now := time.Now()
	s := &Session{
		ptsID:            ptsID,
		firmwareVersion:  firmwareVersion,
		configIdentifier: configIdentifier,
		remoteAddr:       remoteAddr,
		connectedAt:      now,
		conn:             conn,
		writeTimeout:     opts.WriteTimeout,
		maxPacketID:      opts.MaxPacketID,
		closed:           make(chan struct{}),
	}
	s.lastInbound.Store(now.UnixNano())
	s.liveness.Store(int32(models.LivenessAlive))
	return s
}

// PtsID returns the controller identity
func (s *Session) PtsID() string {
	return s.ptsID
}

// ConnectedAt returns the connection time
func (s *Session) ConnectedAt() time.Time {
	return s.connectedAt
}

// Touch records an inbound protocol message.
func (s *Session) Touch() {
	s.lastInbound.Store(time.Now().UnixNano())
	s.inboundCount.Add(1)
}

// CountValidationFailure bumps the per-session validation failure counter.
func (s *Session) CountValidationFailure() {
	s.validationFailures.Add(1)
}

// Send serializes and writes a response frame. Writes are serialized
// across the dispatcher, the liveness tracker and the command injector.
func (s *Session) Send(resp models.Response) error {
	return s.SendJSON(resp)
}

// SendJSON writes an arbitrary outbound value as a text frame.
func (s *Session) SendJSON(v interface{}) error {
	data, err := Encode(v)
	if err != nil {
		// Programming defect, not a protocol condition.
		log.Error().Err(err).Str("pts_id", s.ptsID).Msg("Failed to encode outbound frame")
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}

	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}

	s.outboundCount.Add(1)
	return nil
}

// SendProbe emits a liveness ping control frame. Best-effort: the
// probe deadline keeps a stalled transport from blocking the tracker.
func (s *Session) SendProbe() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout))
}

// HandleProbeReply consumes a pong from the controller, reviving a
// pending probe. Replies arriving while already alive only refresh the
// inbound timestamp.
func (s *Session) HandleProbeReply() {
	s.lastInbound.Store(time.Now().UnixNano())
	s.liveness.CompareAndSwap(int32(models.LivenessPendingProbe), int32(models.LivenessAlive))
}

// Liveness returns the current liveness state
func (s *Session) Liveness() models.LivenessState {
	return models.LivenessState(s.liveness.Load())
}

// markProbePending moves ALIVE -> PENDING_PROBE. Returns false when the
// session was not alive (a probe is already outstanding, or it is dead).
func (s *Session) markProbePending() bool {
	return s.liveness.CompareAndSwap(int32(models.LivenessAlive), int32(models.LivenessPendingProbe))
}

// markDead moves PENDING_PROBE -> DEAD. Returns false when a reply
// raced the tick and revived the session.
func (s *Session) markDead() bool {
	return s.liveness.CompareAndSwap(int32(models.LivenessPendingProbe), int32(models.LivenessDead))
}

// NextPacketID allocates a server-originated packet id. Ids wrap within
// [1, maxPacketID]; 0 is reserved for uncorrelated responses and is
// never produced.
func (s *Session) NextPacketID() int {
	s.packetMu.Lock()
	defer s.packetMu.Unlock()

	s.nextPacketID++
	if s.nextPacketID > s.maxPacketID {
		s.nextPacketID = 1
	}
	return s.nextPacketID
}

// Close shuts the connection down with a close frame carrying the
// given reason. Safe to call from the read loop, the registry and the
// liveness tracker; only the first caller wins.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.closeReason.Store(reason)
		close(s.closed)

		deadline := time.Now().Add(time.Second)
		payload := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		if err := s.conn.WriteControl(websocket.CloseMessage, payload, deadline); err != nil {
			log.Debug().Err(err).Str("pts_id", s.ptsID).Msg("Close frame write failed")
		}
		s.conn.Close()
	})
}

// Closed reports session termination; the channel is closed once.
func (s *Session) Closed() <-chan struct{} {
	return s.closed
}

// CloseReason returns the reason passed to the winning Close call.
func (s *Session) CloseReason() string {
	if r, ok := s.closeReason.Load().(string); ok {
		return r
	}
	return ""
}

// Snapshot returns a read-only copy for the administrative surface.
func (s *Session) Snapshot() models.SessionSnapshot {
	return models.SessionSnapshot{
		PtsID:              s.ptsID,
		FirmwareVersion:    s.firmwareVersion,
		ConfigIdentifier:   s.configIdentifier,
		RemoteAddr:         s.remoteAddr,
		ConnectedAt:        s.connectedAt,
		LastInboundAt:      time.Unix(0, s.lastInbound.Load()),
		InboundMessages:    s.inboundCount.Load(),
		OutboundMessages:   s.outboundCount.Load(),
		ValidationFailures: s.validationFailures.Load(),
		Liveness:           s.Liveness(),
	}
}

// Stats returns the disconnect statistics for event logging.
func (s *Session) Stats() models.Variables {
	return models.Variables{
		"firmwareVersion":    s.firmwareVersion,
		"configIdentifier":   s.configIdentifier,
		"durationSeconds":    time.Since(s.connectedAt).Seconds(),
		"inboundMessages":    s.inboundCount.Load(),
		"outboundMessages":   s.outboundCount.Load(),
		"validationFailures": s.validationFailures.Load(),
	}
}
