package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pts-server/pts-server-pro/internal/models"
)

// FrameError reports an inbound frame that could not be decoded into a
// protocol message. It is never fatal for the session: the dispatcher
// answers it with a generic Error response carrying packetId 0.
type FrameError struct {
	Reason string
	Cause  error
}

// Error implements the error interface
func (e *FrameError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("frame error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("frame error: %s", e.Reason)
}

// Unwrap returns the underlying cause
func (e *FrameError) Unwrap() error {
	return e.Cause
}

// Decode converts a raw inbound frame into a Message. Controllers send
// the same JSON document over both text and binary frames; binary
// frames occasionally arrive NUL-padded, so the payload is trimmed
// before parsing.
func Decode(raw []byte) (models.Message, error) {
	var msg models.Message

	data := bytes.TrimRight(bytes.TrimSpace(raw), "\x00")
	if len(data) == 0 {
		return msg, &FrameError{Reason: "empty frame"}
	}

	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, &FrameError{Reason: "invalid JSON", Cause: err}
	}

	if msg.Type == "" {
		return msg, &FrameError{Reason: "missing type field"}
	}

	if msg.PacketID < 0 {
		return msg, &FrameError{Reason: "negative packetId"}
	}

	return msg, nil
}

// Encode converts an outbound value into a wire frame. A marshal
// failure here is a programming defect (all response types are plain
// JSON-serializable structs), not a runtime condition to recover from.
func Encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return data, nil
}
