package lpl

import "github.com/sigurn/crc16"

// ccittFalseTable is the CRC-16/CCITT-FALSE table (poly 0x1021, init 0xFFFF,
// no reflection, no final XOR). sigurn/crc16 ships the exact parameter set
// this wire format needs under that name.
var ccittFalseTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// crc16CCITTFalse computes the frame checksum used by LPL, over payload
// bytes only (the CRC field itself is never included).
func crc16CCITTFalse(payload []byte) uint16 {
	return crc16.Checksum(payload, ccittFalseTable)
}
