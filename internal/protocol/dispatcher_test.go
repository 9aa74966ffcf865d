package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pts-server/pts-server-pro/internal/models"
)

// recordingSink captures events synchronously for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []*models.EventLog
}

func (r *recordingSink) Record(event *models.EventLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) byType(eventType models.EventType) []*models.EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.EventLog
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// stubBalances returns a fixed balance or error.
type stubBalances struct {
	balance *models.TagBalance
	err     error
}

func (s *stubBalances) Resolve(ctx context.Context, tagID string) (*models.TagBalance, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.balance, nil
}

func newTestDispatcher(sink EventSink, balances BalanceSource) *Dispatcher {
	return NewDispatcher(sink, balances, nil)
}

func TestDispatchUploadConfirmation(t *testing.T) {
	sink := &recordingSink{}
	d := newTestDispatcher(sink, nil)
	conn := &fakeConn{}
	s := newTestSession(conn)

	raw := []byte(`{"type":"UploadPumpTransaction","packetId":42,"data":{` +
		`"pumpId":"1","nozzleId":"2","fuelType":"DIESEL","volume":42.7,"amount":61.5,"tagId":"TAG-1"}}`)
	d.Dispatch(context.Background(), s, raw)

	resp := lastResponse(t, conn)
	assert.Equal(t, models.ResponseTypeConfirmation, resp.Type)
	assert.Equal(t, 42, resp.PacketID)
	assert.True(t, resp.Success)
	assert.Equal(t, "PumpTransaction", resp.RequestType)

	events := sink.byType(models.EventType("UploadPumpTransaction"))
	require.Len(t, events, 1)
	assert.Equal(t, s.PtsID(), events[0].PtsID)
	assert.Equal(t, models.EventLevelInfo, events[0].Level)
}

func TestDispatchMalformedFrame(t *testing.T) {
	sink := &recordingSink{}
	d := newTestDispatcher(sink, nil)
	conn := &fakeConn{}
	s := newTestSession(conn)

	d.Dispatch(context.Background(), s, []byte("{broken"))

	resp := lastResponse(t, conn)
	assert.Equal(t, models.ResponseTypeError, resp.Type)
	// Undecodable frames carry no usable correlation id.
	assert.Equal(t, 0, resp.PacketID)
	assert.False(t, resp.Success)
	assert.Equal(t, "Invalid message format", resp.Error)

	require.Len(t, sink.byType(models.EventTypeMalformedFrame), 1)
}

func TestDispatchUnknownType(t *testing.T) {
	sink := &recordingSink{}
	d := newTestDispatcher(sink, nil)
	conn := &fakeConn{}
	s := newTestSession(conn)

	d.Dispatch(context.Background(), s, []byte(`{"type":"FormatFileSystem","packetId":7}`))

	resp := lastResponse(t, conn)
	assert.Equal(t, models.ResponseTypeError, resp.Type)
	// The packet id survives so the controller can correlate the error.
	assert.Equal(t, 7, resp.PacketID)
	assert.Equal(t, "Unknown message type", resp.Error)

	require.Len(t, sink.byType(models.EventTypeUnknownType), 1)
}

func TestDispatchValidationFailure(t *testing.T) {
	sink := &recordingSink{}
	d := newTestDispatcher(sink, nil)
	conn := &fakeConn{}
	s := newTestSession(conn)

	// volume is a string, which the shape validator rejects.
	raw := []byte(`{"type":"UploadPumpTransaction","packetId":9,"data":{` +
		`"pumpId":"1","nozzleId":"2","fuelType":"DIESEL","volume":"oops","amount":61.5}}`)
	d.Dispatch(context.Background(), s, raw)

	resp := lastResponse(t, conn)
	assert.Equal(t, models.ResponseTypeError, resp.Type)
	assert.Equal(t, 9, resp.PacketID)
	assert.Contains(t, resp.Error, "Invalid UploadPumpTransaction data")

	// The rejected payload must never surface as a successful upload.
	assert.Empty(t, sink.byType(models.EventType("UploadPumpTransaction")))
	require.Len(t, sink.byType(models.EventTypeValidationFailed), 1)
	assert.Equal(t, int64(1), s.Snapshot().ValidationFailures)
}

func TestDispatchPing(t *testing.T) {
	sink := &recordingSink{}
	d := newTestDispatcher(sink, nil)
	conn := &fakeConn{}
	s := newTestSession(conn)

	d.Dispatch(context.Background(), s, []byte(`{"type":"Ping","packetId":3}`))

	resp := lastResponse(t, conn)
	assert.Equal(t, models.ResponseTypePong, resp.Type)
	assert.Equal(t, 3, resp.PacketID)
	assert.True(t, resp.Success)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, data, "serverTime")
}

func TestDispatchTagBalance(t *testing.T) {
	sink := &recordingSink{}
	balances := &stubBalances{balance: &models.TagBalance{
		TagID:    "TAG-1",
		Balance:  150.0,
		IsValid:  true,
		CardType: "FLEET",
	}}
	d := newTestDispatcher(sink, balances)
	conn := &fakeConn{}
	s := newTestSession(conn)

	d.Dispatch(context.Background(), s, []byte(`{"type":"RequestTagBalance","packetId":5,"data":{"tagId":"TAG-1"}}`))

	resp := lastResponse(t, conn)
	assert.Equal(t, models.ResponseTypeTagBalance, resp.Type)
	assert.Equal(t, 5, resp.PacketID)
	assert.True(t, resp.Success)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "TAG-1", data["tagId"])
	assert.Equal(t, 150.0, data["balance"])
	assert.Equal(t, true, data["isValid"])
}

func TestDispatchTagBalanceLookupFailure(t *testing.T) {
	sink := &recordingSink{}
	balances := &stubBalances{err: errors.New("store down")}
	d := newTestDispatcher(sink, balances)
	conn := &fakeConn{}
	s := newTestSession(conn)

	d.Dispatch(context.Background(), s, []byte(`{"type":"RequestTagBalance","packetId":5,"data":{"tagId":"TAG-1"}}`))

	resp := lastResponse(t, conn)
	assert.Equal(t, models.ResponseTypeError, resp.Type)
	assert.Equal(t, 5, resp.PacketID)
	assert.Equal(t, "Tag balance unavailable", resp.Error)
}

func TestDispatchTagBalanceNoSource(t *testing.T) {
	sink := &recordingSink{}
	d := newTestDispatcher(sink, nil)
	conn := &fakeConn{}
	s := newTestSession(conn)

	d.Dispatch(context.Background(), s, []byte(`{"type":"RequestTagBalance","packetId":5,"data":{"tagId":"TAG-1"}}`))

	resp := lastResponse(t, conn)
	assert.Equal(t, models.ResponseTypeError, resp.Type)
	assert.Equal(t, 5, resp.PacketID)
	assert.Equal(t, "Tag balance unavailable", resp.Error)
}

func TestDispatchResponseOrdering(t *testing.T) {
	sink := &recordingSink{}
	d := newTestDispatcher(sink, nil)
	conn := &fakeConn{}
	s := newTestSession(conn)

	// Dispatch runs serially per session; replies come back in request
	// order with matching packet ids.
	d.Dispatch(context.Background(), s, []byte(`{"type":"Ping","packetId":1}`))
	d.Dispatch(context.Background(), s, []byte(`{"type":"Ping","packetId":2}`))
	d.Dispatch(context.Background(), s, []byte(`{"type":"Ping","packetId":3}`))

	frames := conn.sentFrames()
	require.Len(t, frames, 3)
	for i, frame := range frames {
		var resp models.Response
		require.NoError(t, json.Unmarshal(frame, &resp))
		assert.Equal(t, i+1, resp.PacketID)
	}
}
