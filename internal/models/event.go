package models

import (
	"time"

	"github.com/google/uuid"
)

// EventLog represents an event log entry
type EventLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	PtsID string `json:"ptsId" db:"pts_id"`

	Type        EventType  `json:"type" db:"type"`
	Level       EventLevel `json:"level" db:"level"`
	Description string     `json:"description" db:"description"`

	Details Variables `json:"details,omitempty" db:"details"`
}

// EventType represents event types. Successful upload events reuse the
// wire message type name so log queries line up with the protocol.
type EventType string

const (
	// Session lifecycle events
	EventTypeConnection      EventType = "CONNECTION"
	EventTypeDisconnection   EventType = "DISCONNECTION"
	EventTypeSuperseded      EventType = "SUPERSEDED"
	EventTypeLivenessTimeout EventType = "LIVENESS_TIMEOUT"
	EventTypeShortConnection EventType = "SHORT_CONNECTION"

	// Protocol events
	EventTypeMalformedFrame    EventType = "MALFORMED_FRAME"
	EventTypeValidationFailed  EventType = "VALIDATION_FAILED"
	EventTypeUnknownType       EventType = "UNKNOWN_TYPE"
	EventTypeProtocolViolation EventType = "PROTOCOL_VIOLATION"
	EventTypeWebSocketError    EventType = "WEBSOCKET_ERROR"

	// Outbound events
	EventTypeCommandSent EventType = "COMMAND_SENT"
	EventTypeTagBalance  EventType = "TAG_BALANCE"
	EventTypePing        EventType = "PING"
)

// EventLevel represents event severity levels
type EventLevel string

const (
	EventLevelDebug   EventLevel = "DEBUG"
	EventLevelInfo    EventLevel = "INFO"
	EventLevelWarning EventLevel = "WARNING"
	EventLevelError   EventLevel = "ERROR"
)
