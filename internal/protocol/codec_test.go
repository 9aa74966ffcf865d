package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeValidFrame(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"Ping","packetId":42,"data":{}}`))
	require.NoError(t, err)
	assert.Equal(t, "Ping", msg.Type)
	assert.Equal(t, 42, msg.PacketID)
}

func TestDecodeTrimsPadding(t *testing.T) {
	raw := append([]byte("  {\"type\":\"Ping\",\"packetId\":1}\n"), 0x00, 0x00)
	msg, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "Ping", msg.Type)
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"whitespace only", "   \n"},
		{"invalid json", "{not json"},
		{"missing type", `{"packetId":1}`},
		{"negative packet id", `{"type":"Ping","packetId":-1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			require.Error(t, err)

			var fe *FrameError
			assert.ErrorAs(t, err, &fe)
		})
	}
}

func TestDecodeZeroPacketID(t *testing.T) {
	// 0 is reserved but legal on the wire for uncorrelated frames.
	msg, err := Decode([]byte(`{"type":"Ping"}`))
	require.NoError(t, err)
	assert.Equal(t, 0, msg.PacketID)
}
