package apl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeParseRequestRoundTrip(t *testing.T) {
	raw := EncodeRequest(WriteRequest, 3, 42, 512, 2000, 6, 0x1000, 0x200)
	require.Len(t, raw, headerLen+requestTailLen)

	pkt, err := ParsePacket(raw)
	require.NoError(t, err)
	assert.Equal(t, WriteRequest, pkt.Type)
	assert.Equal(t, uint8(3), pkt.SessionID)
	assert.Equal(t, uint16(42), pkt.BlockNumber)
	assert.Equal(t, uint16(512), pkt.BlockSize)
	assert.Equal(t, uint16(2000), pkt.Timeout)
	assert.Equal(t, uint8(6), pkt.Command)
	assert.Equal(t, uint32(0x1000), pkt.Offset)
	assert.Equal(t, uint32(0x200), pkt.Length)
}

func TestEncodeParseDataRoundTrip(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	raw := EncodeData(1, 7, payload)

	pkt, err := ParsePacket(raw)
	require.NoError(t, err)
	assert.Equal(t, Data, pkt.Type)
	assert.Equal(t, uint16(7), pkt.BlockNumber)
	assert.Equal(t, payload, pkt.Data)
}

func TestEncodeParseAckRoundTrip(t *testing.T) {
	raw := EncodeAck(2, 9)
	pkt, err := ParsePacket(raw)
	require.NoError(t, err)
	assert.Equal(t, Ack, pkt.Type)
	assert.Equal(t, uint8(2), pkt.SessionID)
	assert.Equal(t, uint16(9), pkt.BlockNumber)
}

func TestEncodeParseErrorRoundTrip(t *testing.T) {
	raw := EncodeError(0, 3, 0x02, "crc mismatch")
	pkt, err := ParsePacket(raw)
	require.NoError(t, err)
	assert.Equal(t, Error, pkt.Type)
	assert.Equal(t, uint8(0x02), pkt.ErrorCode)
	assert.Equal(t, "crc mismatch", pkt.ErrorMessage)
}

func TestParsePacketInvalidType(t *testing.T) {
	raw := []byte{0xFF, 0x00, 0x00} // type bits 0b111 is out of range
	_, err := ParsePacket(raw)
	require.Error(t, err)

	var invalid *ErrInvalidPacket
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, uint8(0xFF), invalid.TypeByte)
}

func TestParsePacketTooShort(t *testing.T) {
	_, err := ParsePacket([]byte{0x00})
	assert.Error(t, err)
}

func TestSessionIDMasking(t *testing.T) {
	// session ids only occupy the low 5 bits; out-of-range values are
	// silently truncated rather than corrupting the type bits.
	raw := EncodeAck(0xFF, 0)
	pkt, err := ParsePacket(raw)
	require.NoError(t, err)
	assert.Equal(t, Ack, pkt.Type)
	assert.Equal(t, uint8(0x1F), pkt.SessionID)
}
