package protocol

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/pts-server/pts-server-pro/internal/models"
)

var (
	// ErrSessionClosed is returned when sending on a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrDeviceNotFound is returned when no session exists for a controller.
	ErrDeviceNotFound = errors.New("controller not connected")
)

// CloseReasonReplaced is the close reason sent to a superseded connection.
const CloseReasonReplaced = "Replaced by new connection"

// Registry maps controller identities to their single active session.
// All mutations are serialized under one lock; that lock is the whole
// at-most-one-session-per-identity guarantee.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Register installs the session as the active one for its identity.
// When an entry already exists its channel is closed before the new
// entry becomes visible, so at no instant do two writers share an
// identity. The superseded session, if any, is returned for event
// logging; it is already closed.
func (r *Registry) Register(s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.sessions[s.ptsID]
	if old != nil {
		log.Info().Str("pts_id", s.ptsID).Msg("Controller already connected, closing old connection")
		old.Close(CloseReasonReplaced)
	}

	r.sessions[s.ptsID] = s
	return old
}

// Unregister removes the session only if it is still the registered
// one. A stale disconnect racing a newer connection is a no-op, which
// is what makes the three close paths safe to run concurrently.
func (r *Registry) Unregister(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[s.ptsID] != s {
		return false
	}

	delete(r.sessions, s.ptsID)
	return true
}

// Lookup returns the active session for a controller, or nil.
func (r *Registry) Lookup(ptsID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[ptsID]
}

// List returns read-only snapshots of every active session.
func (r *Registry) List() []models.SessionSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshots := make([]models.SessionSnapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshots = append(snapshots, s.Snapshot())
	}
	return snapshots
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
