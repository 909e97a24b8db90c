// Package apl implements the Application Protocol Layer: block-numbered
// reliable request/response and data delivery on top of an LPL codec.
package apl

import (
	"encoding/binary"
	"fmt"
)

// PacketType is the 3-bit type field carried in an APL packet header.
type PacketType uint8

const (
	None PacketType = iota
	ReadRequest
	WriteRequest
	Data
	Ack
	Error
)

func (t PacketType) String() string {
	switch t {
	case None:
		return "None"
	case ReadRequest:
		return "ReadRequest"
	case WriteRequest:
		return "WriteRequest"
	case Data:
		return "Data"
	case Ack:
		return "Ack"
	case Error:
		return "Error"
	default:
		return fmt.Sprintf("PacketType(%d)", uint8(t))
	}
}

const (
	typeShift = 5
	typeMask  = 0x07
	idMask    = 0x1F

	// requestTailLen is the fixed tail length of a Request packet:
	// u16 block_size | u16 timeout_ms | u8 command | u32 offset | u32 length.
	requestTailLen = 2 + 2 + 1 + 4 + 4
	headerLen      = 1 + 2 // type/id byte + u16 block number
)

// Packet is a decoded APL packet: header (type + session id) plus the
// common block number field and a type-specific tail.
type Packet struct {
	Type        PacketType
	SessionID   uint8 // 5 low bits of the header byte
	BlockNumber uint16

	// Request fields, valid when Type is ReadRequest or WriteRequest.
	BlockSize uint16
	Timeout   uint16
	Command   uint8
	Offset    uint32
	Length    uint32

	// Data carries the opaque payload of a Data packet.
	Data []byte

	// Error fields, valid when Type is Error.
	ErrorCode    uint8
	ErrorMessage string
}

func header(t PacketType, sessionID uint8) byte {
	return byte(t)<<typeShift | (sessionID & idMask)
}

// EncodeRequest serializes a Request packet (ReadRequest or WriteRequest).
func EncodeRequest(t PacketType, sessionID uint8, blockNumber, blockSize, timeoutMs uint16, command uint8, offset, length uint32) []byte {
	buf := make([]byte, headerLen+requestTailLen)
	buf[0] = header(t, sessionID)
	binary.LittleEndian.PutUint16(buf[1:3], blockNumber)
	binary.LittleEndian.PutUint16(buf[3:5], blockSize)
	binary.LittleEndian.PutUint16(buf[5:7], timeoutMs)
	buf[7] = command
	binary.LittleEndian.PutUint32(buf[8:12], offset)
	binary.LittleEndian.PutUint32(buf[12:16], length)
	return buf
}

// EncodeAck serializes an Ack packet for the given block number.
func EncodeAck(sessionID uint8, blockNumber uint16) []byte {
	buf := make([]byte, headerLen)
	buf[0] = header(Ack, sessionID)
	binary.LittleEndian.PutUint16(buf[1:3], blockNumber)
	return buf
}

// EncodeData serializes a Data packet carrying payload.
func EncodeData(sessionID uint8, blockNumber uint16, payload []byte) []byte {
	buf := make([]byte, headerLen+len(payload))
	buf[0] = header(Data, sessionID)
	binary.LittleEndian.PutUint16(buf[1:3], blockNumber)
	copy(buf[headerLen:], payload)
	return buf
}

// EncodeError serializes an Error packet.
func EncodeError(sessionID uint8, blockNumber uint16, code uint8, message string) []byte {
	buf := make([]byte, headerLen+1+len(message))
	buf[0] = header(Error, sessionID)
	binary.LittleEndian.PutUint16(buf[1:3], blockNumber)
	buf[headerLen] = code
	copy(buf[headerLen+1:], message)
	return buf
}

// ErrInvalidPacket wraps the unrecognized type byte for InvalidPacket
// errors (§7's InvalidPacket(type_byte)).
type ErrInvalidPacket struct {
	TypeByte uint8
}

func (e *ErrInvalidPacket) Error() string {
	return fmt.Sprintf("apl: invalid packet type %d", e.TypeByte)
}

// ParsePacket decodes the bytes of an LPL-delivered payload into a Packet.
func ParsePacket(raw []byte) (Packet, error) {
	if len(raw) < headerLen {
		return Packet{}, fmt.Errorf("apl: packet too short: %d bytes", len(raw))
	}

	typeBits := (raw[0] >> typeShift) & typeMask
	if typeBits > uint8(Error) {
		return Packet{}, &ErrInvalidPacket{TypeByte: raw[0]}
	}

	pkt := Packet{
		Type:        PacketType(typeBits),
		SessionID:   raw[0] & idMask,
		BlockNumber: binary.LittleEndian.Uint16(raw[1:3]),
	}
	tail := raw[headerLen:]

	switch pkt.Type {
	case ReadRequest, WriteRequest:
		if len(tail) < requestTailLen {
			return Packet{}, fmt.Errorf("apl: request packet too short: %d bytes", len(raw))
		}
		pkt.BlockSize = binary.LittleEndian.Uint16(tail[0:2])
		pkt.Timeout = binary.LittleEndian.Uint16(tail[2:4])
		pkt.Command = tail[4]
		pkt.Offset = binary.LittleEndian.Uint32(tail[5:9])
		pkt.Length = binary.LittleEndian.Uint32(tail[9:13])
	case Data:
		pkt.Data = append([]byte(nil), tail...)
	case Ack:
		// no tail
	case Error:
		if len(tail) < 1 {
			return Packet{}, fmt.Errorf("apl: error packet too short: %d bytes", len(raw))
		}
		pkt.ErrorCode = tail[0]
		pkt.ErrorMessage = string(tail[1:])
	case None:
		// no tail
	}
	return pkt, nil
}
