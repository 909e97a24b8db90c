package dfu

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildInfoBlockV2 assembles a raw InfoBlockV2 buffer field-by-field, the
// same way ParseInfoBlockV2 disassembles one, so encode/decode stay in lock
// step without hand-counted byte offsets.
func buildInfoBlockV2(t *testing.T, version uint8, maxBlockSize uint16, id, rev uint16, uid [16]byte, mm DeviceMemoryMap) []byte {
	t.Helper()
	buf := make([]byte, InfoBlockV2Size)
	off := 0

	buf[off] = version
	off++
	binary.LittleEndian.PutUint16(buf[off:], maxBlockSize)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], id)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], rev)
	off += 2
	copy(buf[off:], uid[:])
	off += 16
	off += 18 // reserved

	binary.LittleEndian.PutUint32(buf[off:], mm.MetaAddr)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], mm.MetaSize)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], mm.FirmwareAddr)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], mm.FirmwareSize)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], mm.FlashAddr)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], mm.FlashSize)
	off += 4
	binary.LittleEndian.PutUint16(buf[off:], mm.FlashWriteBlockSize)
	off += 2
	for _, r := range mm.Regions {
		binary.LittleEndian.PutUint32(buf[off:], r.Count)
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], r.Size)
		off += 4
	}
	require.Equal(t, InfoBlockV2Size, off)
	return buf
}

// TestParseInfoBlockV2S2 is the S2 end-to-end scenario: a parsed info block
// with the literal field values given in the scenario.
func TestParseInfoBlockV2S2(t *testing.T) {
	var uid [16]byte
	for i := range uid {
		uid[i] = byte(i)
	}
	mm := DeviceMemoryMap{
		FirmwareAddr: 0x08000000,
		FirmwareSize: 0x00010000,
	}
	raw := buildInfoBlockV2(t, 0x30, 0x0200, 0xABCD, 0x0001, uid, mm)

	info, err := ParseInfoBlockV2(raw)
	require.NoError(t, err)

	assert.Equal(t, uint8(0x30), info.Version)
	assert.Equal(t, uint16(0x0200), info.MaxBlockSize)
	assert.Equal(t, uint16(0xABCD), info.Device.ID)
	assert.Equal(t, uint16(0x0001), info.Device.Rev)
	assert.Equal(t, uid, info.Device.UID)
	assert.Equal(t, uint32(0x08000000), info.MemMap.FirmwareAddr)
	assert.Equal(t, uint32(0x00010000), info.MemMap.FirmwareSize)
}

func TestParseInfoBlockV2TooShort(t *testing.T) {
	_, err := ParseInfoBlockV2(make([]byte, InfoBlockV2Size-1))
	assert.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindProtocol, kind)
}
