package models

import (
	"encoding/json"
	"time"
)

// Request types sent by PTS controllers.
const (
	MessageTypeUploadPumpTransaction = "UploadPumpTransaction"
	MessageTypeUploadTankMeasurement = "UploadTankMeasurement"
	MessageTypeUploadInTankDelivery  = "UploadInTankDelivery"
	MessageTypeUploadGpsRecord       = "UploadGpsRecord"
	MessageTypeUploadAlertRecord     = "UploadAlertRecord"
	MessageTypeUploadStatus          = "UploadStatus"
	MessageTypeUploadConfiguration   = "UploadConfiguration"
	MessageTypeRequestTagBalance     = "RequestTagBalance"
	MessageTypePing                  = "Ping"
)

// Response types sent back to PTS controllers.
const (
	ResponseTypeWelcome      = "Welcome"
	ResponseTypeConfirmation = "Confirmation"
	ResponseTypeError        = "Error"
	ResponseTypePong         = "Pong"
	ResponseTypeTagBalance   = "TagBalanceResponse"
)

// MaxPtsIDLength is the longest accepted controller identifier
// (24 hexadecimal digits per the PTS documentation).
const MaxPtsIDLength = 24

// Message is an inbound wire frame from a controller.
// PacketID 0 is reserved for frames that carry no correlation id.
type Message struct {
	Type     string          `json:"type"`
	PacketID int             `json:"packetId"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Response is an outbound wire frame to a controller. The same shape
// covers confirmations, errors, pongs, the welcome greeting and
// server-originated commands.
type Response struct {
	Type        string      `json:"type"`
	PacketID    int         `json:"packetId"`
	Success     bool        `json:"success"`
	RequestType string      `json:"requestType,omitempty"`
	Data        interface{} `json:"data,omitempty"`
	Error       string      `json:"error,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Command is a server-originated request to a controller, sent on
// behalf of the administrative surface.
type Command struct {
	Type      string    `json:"type"`
	PacketID  int       `json:"packetId"`
	Data      Variables `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewWelcome builds the greeting sent right after a session registers.
func NewWelcome() Response {
	return Response{
		Type:      ResponseTypeWelcome,
		PacketID:  0,
		Success:   true,
		Data:      Variables{"message": "PTS Controller connected successfully"},
		Timestamp: time.Now().UTC(),
	}
}

// NewConfirmation builds the generic success reply for an upload request.
func NewConfirmation(packetID int, requestType string) Response {
	return Response{
		Type:        ResponseTypeConfirmation,
		PacketID:    packetID,
		Success:     true,
		RequestType: requestType,
		Timestamp:   time.Now().UTC(),
	}
}

// NewError builds an error reply. packetID may be 0 when the triggering
// frame could not be decoded.
func NewError(packetID int, message string) Response {
	return Response{
		Type:      ResponseTypeError,
		PacketID:  packetID,
		Success:   false,
		Error:     message,
		Timestamp: time.Now().UTC(),
	}
}
