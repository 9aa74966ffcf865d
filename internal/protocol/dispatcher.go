package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pts-server/pts-server-pro/internal/metrics"
	"github.com/pts-server/pts-server-pro/internal/models"
)

// EventSink receives every protocol event. Calls must not block: the
// production sink buffers and persists asynchronously, and the
// dispatcher never waits on it before answering a request.
type EventSink interface {
	Record(event *models.EventLog)
}

// BalanceSource resolves payment tag balances for RequestTagBalance.
type BalanceSource interface {
	Resolve(ctx context.Context, tagID string) (*models.TagBalance, error)
}

// handlerEntry pairs a shape validator with the handler for one
// request type. Adding a request type is a table edit.
type handlerEntry struct {
	validate func(models.Variables) error
	handle   func(ctx context.Context, s *Session, msg models.Message, data models.Variables)
}

// Dispatcher routes decoded messages to their handlers. Dispatch is
// called serially per session by the websocket read loop, which is
// what gives each session its response ordering guarantee.
type Dispatcher struct {
	sink           EventSink
	balances       BalanceSource
	metrics        *metrics.Metrics
	balanceTimeout time.Duration

	table map[string]handlerEntry
}

// NewDispatcher builds the dispatch table over the closed set of
// recognized request types.
func NewDispatcher(sink EventSink, balances BalanceSource, m *metrics.Metrics) *Dispatcher {
	d := &Dispatcher{
		sink:           sink,
		balances:       balances,
		metrics:        m,
		balanceTimeout: 2 * time.Second,
	}

	d.table = map[string]handlerEntry{
		models.MessageTypeUploadPumpTransaction: d.uploadEntry(validatePumpTransaction, func() interface{} { return &models.PumpTransaction{} }),
		models.MessageTypeUploadTankMeasurement: d.uploadEntry(validateTankMeasurement, func() interface{} { return &models.TankMeasurement{} }),
		models.MessageTypeUploadInTankDelivery:  d.uploadEntry(validateInTankDelivery, func() interface{} { return &models.InTankDelivery{} }),
		models.MessageTypeUploadGpsRecord:       d.uploadEntry(validateGpsRecord, func() interface{} { return &models.GpsRecord{} }),
		models.MessageTypeUploadAlertRecord:     d.uploadEntry(validateAlertRecord, func() interface{} { return &models.AlertRecord{} }),
		models.MessageTypeUploadStatus:          d.uploadEntry(validateStatus, func() interface{} { return &models.StatusRecord{} }),
		models.MessageTypeUploadConfiguration:   d.uploadEntry(validateConfiguration, func() interface{} { return &models.ConfigurationRecord{} }),
		models.MessageTypeRequestTagBalance:     {validate: validateTagBalanceRequest, handle: d.handleTagBalance},
		models.MessageTypePing:                  {handle: d.handlePing},
	}

	return d
}

// Dispatch classifies one inbound frame and runs its handler. Every
// error path is local: a reply is sent, an event is recorded, and the
// session stays open.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, raw []byte) {
	s.Touch()

	msg, err := Decode(raw)
	if err != nil {
		log.Warn().Err(err).Str("pts_id", s.PtsID()).Int("size", len(raw)).Msg("Undecodable frame")
		d.metrics.IncMalformedFrame()
		d.record(s, models.EventTypeMalformedFrame, models.EventLevelWarning,
			"Undecodable frame received", models.Variables{
				"error": err.Error(),
				"size":  len(raw),
			})
		d.reply(s, models.NewError(0, "Invalid message format"))
		return
	}

	d.metrics.IncMessageReceived(msg.Type)

	entry, ok := d.table[msg.Type]
	if !ok {
		log.Warn().Str("pts_id", s.PtsID()).Str("type", msg.Type).Msg("Unknown message type")
		d.record(s, models.EventTypeUnknownType, models.EventLevelWarning,
			fmt.Sprintf("Unknown message type %q", msg.Type), models.Variables{
				"type":     msg.Type,
				"packetId": msg.PacketID,
			})
		d.reply(s, models.NewError(msg.PacketID, "Unknown message type"))
		return
	}

	data, err := decodeData(msg.Data)
	if err == nil && entry.validate != nil {
		err = entry.validate(data)
	}
	if err != nil {
		d.rejectValidation(s, msg, err)
		return
	}

	entry.handle(ctx, s, msg, data)
}

// decodeData parses the request payload into a generic object for
// validation. Absent payloads stay nil; validators that require data
// report that themselves.
func decodeData(raw json.RawMessage) (models.Variables, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var data models.Variables
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("data must be an object")
	}
	return data, nil
}

// uploadEntry builds the common upload handler: validated payload in,
// normalized domain record to the sink, confirmation out.
func (d *Dispatcher) uploadEntry(validate func(models.Variables) error, newRecord func() interface{}) handlerEntry {
	return handlerEntry{
		validate: validate,
		handle: func(ctx context.Context, s *Session, msg models.Message, data models.Variables) {
			record := newRecord()
			if err := json.Unmarshal(msg.Data, record); err != nil {
				d.rejectValidation(s, msg, err)
				return
			}

			requestType := strings.TrimPrefix(msg.Type, "Upload")

			// The sink call is fire-and-forget: the confirmation must
			// not wait on persistence.
			d.record(s, models.EventType(msg.Type), models.EventLevelInfo,
				fmt.Sprintf("%s received", requestType), models.Variables{
					"packetId": msg.PacketID,
					"record":   record,
				})

			d.reply(s, models.NewConfirmation(msg.PacketID, requestType))
		},
	}
}

// handlePing answers the application-level heartbeat.
func (d *Dispatcher) handlePing(_ context.Context, s *Session, msg models.Message, _ models.Variables) {
	log.Debug().Str("pts_id", s.PtsID()).Int("packet_id", msg.PacketID).Msg("Ping")

	d.record(s, models.EventTypePing, models.EventLevelDebug, "Ping received", models.Variables{
		"packetId": msg.PacketID,
	})

	d.reply(s, models.Response{
		Type:      models.ResponseTypePong,
		PacketID:  msg.PacketID,
		Success:   true,
		Data:      models.Variables{"serverTime": time.Now().UTC()},
		Timestamp: time.Now().UTC(),
	})
}

// handleTagBalance resolves a payment tag balance. The lookup runs
// under its own short timeout so a slow cache or store cannot stall
// the session's dispatch loop for long.
func (d *Dispatcher) handleTagBalance(ctx context.Context, s *Session, msg models.Message, data models.Variables) {
	tagID, _ := data["tagId"].(string)

	if d.balances == nil {
		log.Warn().Str("pts_id", s.PtsID()).Str("tag_id", tagID).Msg("No tag balance source configured")
		d.reply(s, models.NewError(msg.PacketID, "Tag balance unavailable"))
		return
	}

	lookupCtx, cancel := context.WithTimeout(ctx, d.balanceTimeout)
	defer cancel()

	bal, err := d.balances.Resolve(lookupCtx, tagID)
	if err != nil {
		log.Error().Err(err).Str("pts_id", s.PtsID()).Str("tag_id", tagID).Msg("Tag balance lookup failed")
		d.record(s, models.EventTypeTagBalance, models.EventLevelWarning,
			"Tag balance lookup failed", models.Variables{
				"packetId": msg.PacketID,
				"tagId":    tagID,
				"error":    err.Error(),
			})
		d.reply(s, models.NewError(msg.PacketID, "Tag balance unavailable"))
		return
	}

	d.record(s, models.EventTypeTagBalance, models.EventLevelInfo,
		"Tag balance resolved", models.Variables{
			"packetId": msg.PacketID,
			"tagId":    tagID,
			"balance":  bal.Balance,
			"isValid":  bal.IsValid,
		})

	d.reply(s, models.Response{
		Type:      models.ResponseTypeTagBalance,
		PacketID:  msg.PacketID,
		Success:   true,
		Data:      bal,
		Timestamp: time.Now().UTC(),
	})
}

// rejectValidation answers a contract-violating payload. The payload
// is never forwarded as a successful upload event.
func (d *Dispatcher) rejectValidation(s *Session, msg models.Message, cause error) {
	s.CountValidationFailure()
	d.metrics.IncValidationFailure(msg.Type)

	log.Warn().
		Err(cause).
		Str("pts_id", s.PtsID()).
		Str("type", msg.Type).
		Int("packet_id", msg.PacketID).
		Msg("Payload validation failed")

	d.record(s, models.EventTypeValidationFailed, models.EventLevelWarning,
		fmt.Sprintf("Invalid %s data", msg.Type), models.Variables{
			"type":     msg.Type,
			"packetId": msg.PacketID,
			"error":    cause.Error(),
		})

	d.reply(s, models.NewError(msg.PacketID, fmt.Sprintf("Invalid %s data: %v", msg.Type, cause)))
}

// reply writes a response frame; write failures are observability
// events, never fatal to dispatch.
func (d *Dispatcher) reply(s *Session, resp models.Response) {
	if err := s.Send(resp); err != nil {
		log.Debug().Err(err).Str("pts_id", s.PtsID()).Str("type", resp.Type).Msg("Response write failed")
		return
	}
	d.metrics.IncResponseSent(resp.Type)
}

// record forwards an event to the sink with the session's identity.
func (d *Dispatcher) record(s *Session, eventType models.EventType, level models.EventLevel, description string, details models.Variables) {
	if d.sink == nil {
		return
	}
	d.sink.Record(&models.EventLog{
		PtsID:       s.PtsID(),
		Type:        eventType,
		Level:       level,
		Description: description,
		Details:     details,
	})
}
