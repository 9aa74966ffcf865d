// Package server hosts the controller-facing WebSocket endpoint.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pts-server/pts-server-pro/internal/config"
	"github.com/pts-server/pts-server-pro/internal/metrics"
	"github.com/pts-server/pts-server-pro/internal/models"
	"github.com/pts-server/pts-server-pro/internal/protocol"
)

// Handshake headers supplied by PTS controllers.
const (
	HeaderPtsID            = "X-Pts-Id"
	HeaderFirmwareVersion  = "X-Pts-Firmware-Version-Datetime"
	HeaderConfigIdentifier = "X-Pts-Configuration-Identifier"
)

// WSServer accepts persistent controller connections and runs one
// read loop plus one liveness tracker per session.
type WSServer struct {
	cfg        *config.Config
	registry   *protocol.Registry
	dispatcher *protocol.Dispatcher
	sink       protocol.EventSink
	metrics    *metrics.Metrics

	upgrader   websocket.Upgrader
	httpServer *http.Server

	// baseCtx parents every session's liveness tracker and dispatch
	// context; cancelling it on shutdown stops them all.
	baseCtx context.Context
}

// NewWSServer creates the WebSocket server.
func NewWSServer(cfg *config.Config, registry *protocol.Registry, dispatcher *protocol.Dispatcher, sink protocol.EventSink, m *metrics.Metrics) *WSServer {
	s := &WSServer{
		cfg:        cfg,
		registry:   registry,
		dispatcher: dispatcher,
		sink:       sink,
		metrics:    m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Controllers send no Origin header; this is not a browser
			// endpoint.
			CheckOrigin: func(r *http.Request) bool { return true },
			// Compression negotiation confuses some PTS firmware.
			EnableCompression: false,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.WebSocket.Path, s.handleConnection)

	s.httpServer = &http.Server{
		Addr:        cfg.WebSocketAddr(),
		Handler:     mux,
		ReadTimeout: 0, // persistent connections
		IdleTimeout: 0,
	}

	return s
}

// Start serves until the context is cancelled.
func (s *WSServer) Start(ctx context.Context) error {
	s.baseCtx = ctx

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("addr", s.httpServer.Addr).
		Str("path", s.cfg.WebSocket.Path).
		Msg("PTS WebSocket server listening")

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// handleConnection upgrades the request and runs the session to
// completion.
func (s *WSServer) handleConnection(w http.ResponseWriter, r *http.Request) {
	ptsID := r.Header.Get(HeaderPtsID)
	firmwareVersion := r.Header.Get(HeaderFirmwareVersion)
	configIdentifier := r.Header.Get(HeaderConfigIdentifier)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}
	conn.SetReadLimit(s.cfg.WebSocket.MaxPayload)

	// Identity policy runs before any Session exists.
	if ptsID == "" {
		log.Warn().Str("remote", r.RemoteAddr).Msg("Connection rejected: missing PTS ID header")
		s.rejectPolicy(conn, "Missing PTS ID")
		return
	}
	if len(ptsID) > models.MaxPtsIDLength {
		log.Warn().Str("remote", r.RemoteAddr).Str("pts_id", ptsID).Msg("Connection rejected: PTS ID too long")
		s.rejectPolicy(conn, "Invalid PTS ID")
		return
	}

	sess := protocol.NewSession(conn, ptsID, firmwareVersion, configIdentifier, r.RemoteAddr, protocol.SessionOptions{
		MaxPacketID:  s.cfg.PTS.MaxPacketID,
		WriteTimeout: s.cfg.PTS.WriteTimeout,
	})

	conn.SetPongHandler(func(string) error {
		sess.HandleProbeReply()
		return nil
	})

	if superseded := s.registry.Register(sess); superseded != nil {
		s.metrics.IncSuperseded()
		s.record(superseded.PtsID(), models.EventTypeSuperseded, models.EventLevelInfo,
			"Session replaced by new connection", superseded.Stats())
		s.settleSession(superseded)
	}
	s.metrics.SessionOpened()

	log.Info().
		Str("pts_id", ptsID).
		Str("firmware", firmwareVersion).
		Str("config_id", configIdentifier).
		Str("remote", r.RemoteAddr).
		Msg("PTS controller connected")

	s.record(ptsID, models.EventTypeConnection, models.EventLevelInfo,
		"Controller connected", models.Variables{
			"firmwareVersion":  firmwareVersion,
			"configIdentifier": configIdentifier,
			"remoteAddr":       r.RemoteAddr,
		})

	if err := sess.Send(models.NewWelcome()); err != nil {
		log.Warn().Err(err).Str("pts_id", ptsID).Msg("Welcome write failed")
	}

	tracker := protocol.NewLivenessTracker(sess, s.cfg.PTS.HeartbeatInterval, s.onLivenessDead)
	go tracker.Run(s.baseCtx)

	s.readLoop(sess, conn)
}

// rejectPolicy closes an upgraded connection with a policy-violation
// close code. No session was created, so nothing to deregister.
func (s *WSServer) rejectPolicy(conn *websocket.Conn, reason string) {
	payload := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	conn.WriteControl(websocket.CloseMessage, payload, time.Now().Add(time.Second))
	conn.Close()
}

// readLoop pumps inbound frames through the dispatcher until the
// transport ends. Dispatch runs inline, which serializes handling and
// responses per session.
func (s *WSServer) readLoop(sess *protocol.Session, conn *websocket.Conn) {
	defer s.teardown(sess, "Connection closed")

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			s.observeReadError(sess, err)
			return
		}

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		s.dispatcher.Dispatch(s.baseCtx, sess, data)
	}
}

// observeReadError logs and records why the read loop ended. Transport
// anomalies (resets, framing violations) are observability events, not
// reasons to treat the disconnect differently.
func (s *WSServer) observeReadError(sess *protocol.Session, err error) {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		log.Info().Str("pts_id", sess.PtsID()).Msg("Controller closed connection")
		return
	}

	select {
	case <-sess.Closed():
		// Read failed because we closed the channel ourselves
		// (supersession, liveness timeout or administrative close).
		return
	default:
	}

	// Some PTS firmware sets reserved framing bits or resets abruptly;
	// both are common and harmless to everyone else.
	eventType := models.EventTypeWebSocketError
	if websocket.IsCloseError(err,
		websocket.CloseProtocolError,
		websocket.CloseUnsupportedData,
		websocket.CloseMessageTooBig) {
		eventType = models.EventTypeProtocolViolation
	}

	log.Warn().Err(err).Str("pts_id", sess.PtsID()).Msg("WebSocket read error")
	s.record(sess.PtsID(), eventType, models.EventLevelWarning,
		"WebSocket read error", models.Variables{
			"error": err.Error(),
		})
}

// onLivenessDead is the liveness tracker's kill path: the only
// core-internal condition that unilaterally closes a session.
func (s *WSServer) onLivenessDead(sess *protocol.Session) {
	s.metrics.IncLivenessTimeout()
	s.record(sess.PtsID(), models.EventTypeLivenessTimeout, models.EventLevelWarning,
		"Controller missed liveness probe", sess.Stats())
	s.teardown(sess, "Liveness timeout")
}

// teardown closes the session and, if this caller is the one that
// deregistered it, emits the disconnect event exactly once. The other
// close paths see Unregister refuse and do nothing further.
func (s *WSServer) teardown(sess *protocol.Session, reason string) {
	sess.Close(reason)

	if !s.registry.Unregister(sess) {
		return
	}

	stats := sess.Stats()
	stats["closeReason"] = sess.CloseReason()

	log.Info().
		Str("pts_id", sess.PtsID()).
		Dur("duration", time.Since(sess.ConnectedAt())).
		Str("reason", sess.CloseReason()).
		Msg("PTS controller disconnected")

	s.record(sess.PtsID(), models.EventTypeDisconnection, models.EventLevelInfo,
		"Controller disconnected", stats)

	s.settleSession(sess)
}

// settleSession closes out the per-session accounting: the active
// gauge decrement and the short-connection check. It runs exactly once
// per session, on whichever path removed the session from the registry
// (teardown's Unregister or the supersede branch in Register).
func (s *WSServer) settleSession(sess *protocol.Session) {
	s.metrics.SessionClosed()

	duration := time.Since(sess.ConnectedAt())
	if duration < s.cfg.PTS.ShortConnectionThreshold {
		s.record(sess.PtsID(), models.EventTypeShortConnection, models.EventLevelWarning,
			"Anomalously short connection", models.Variables{
				"durationSeconds": duration.Seconds(),
				"closeReason":     sess.CloseReason(),
			})
	}
}

func (s *WSServer) record(ptsID string, eventType models.EventType, level models.EventLevel, description string, details models.Variables) {
	if s.sink == nil {
		return
	}
	s.sink.Record(&models.EventLog{
		PtsID:       ptsID,
		Type:        eventType,
		Level:       level,
		Description: description,
		Details:     details,
	})
}
