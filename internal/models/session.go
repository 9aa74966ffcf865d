package models

import (
	"fmt"
	"time"
)

// LivenessState is the heartbeat state of a connected controller.
type LivenessState int32

const (
	LivenessAlive LivenessState = iota
	LivenessPendingProbe
	LivenessDead
)

// String implements fmt.Stringer
func (s LivenessState) String() string {
	switch s {
	case LivenessAlive:
		return "ALIVE"
	case LivenessPendingProbe:
		return "PENDING_PROBE"
	case LivenessDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON renders the state name rather than the ordinal.
func (s LivenessState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses the state name.
func (s *LivenessState) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"ALIVE"`:
		*s = LivenessAlive
	case `"PENDING_PROBE"`:
		*s = LivenessPendingProbe
	case `"DEAD"`:
		*s = LivenessDead
	default:
		return fmt.Errorf("unknown liveness state %s", data)
	}
	return nil
}

// SessionSnapshot is a read-only copy of a live session for the
// administrative surface. It carries no connection handle.
type SessionSnapshot struct {
	PtsID              string        `json:"ptsId"`
	FirmwareVersion    string        `json:"firmwareVersion"`
	ConfigIdentifier   string        `json:"configIdentifier"`
	RemoteAddr         string        `json:"remoteAddr"`
	ConnectedAt        time.Time     `json:"connectedAt"`
	LastInboundAt      time.Time     `json:"lastInboundAt"`
	InboundMessages    int64         `json:"inboundMessages"`
	OutboundMessages   int64         `json:"outboundMessages"`
	ValidationFailures int64         `json:"validationFailures"`
	Liveness           LivenessState `json:"liveness"`
}
