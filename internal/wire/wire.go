// Package wire defines the kdb frame format shared by the on-target agent
// and the host tooling.
//
// Every frame, in either direction, is encoded as:
//
//	byte 0: 0xA0            sync byte 1
//	byte 1: 0x1E            sync byte 2
//	byte 2: opcode
//	byte 3: payload length N (0..32)
//	bytes 4..4+N-1: payload
//
// Multi-byte integers embedded in payloads are big-endian regardless of the
// host architecture: addresses are 4 bytes, source lines 2 bytes, both built
// by explicit shift and mask so the wire image never depends on native byte
// order.
package wire

import "fmt"

// Sync1 and Sync2 mark the start of every frame, in that order. A Sync1 not
// immediately followed by Sync2 is not a frame start.
const (
	Sync1 = 0xA0
	Sync2 = 0x1E
)

const (
	// HeaderSize is the fixed number of bytes before the payload.
	HeaderSize = 4

	// MaxPayload is the scratch-buffer capacity shared by both directions.
	// A frame header declaring a larger length is a protocol violation.
	MaxPayload = 32

	// MaxText is the longest PRINT text: MaxPayload minus the two line
	// bytes and one kind byte. Longer text is truncated, never rejected.
	MaxText = MaxPayload - 3

	// MaxCaptures is the capture-table capacity per session.
	MaxCaptures = 32
)

// Opcode identifies one protocol operation. The numbering is fixed by the
// protocol and must not be reordered.
type Opcode uint8

const (
	OpReturn Opcode = iota
	OpReadMem
	OpWriteMem
	OpReadCap
	OpWriteCap
	OpReadPin
	OpWritePin
	OpInit
	OpDebugger
	OpCapture
	OpReadMemRes
	OpReadCapRes
	OpReadPinRes
	OpPrint
)

var opNames = [...]string{
	"RETURN", "READ_MEM", "WRITE_MEM", "READ_CAP", "WRITE_CAP",
	"READ_PIN", "WRITE_PIN", "INIT", "DEBUGGER", "CAPTURE",
	"READ_MEM_RES", "READ_CAP_RES", "READ_PIN_RES", "PRINT",
}

func (op Opcode) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("OP(%d)", uint8(op))
}

// Frame is one decoded protocol message.
type Frame struct {
	Op      Opcode
	Payload []byte
}

// ErrPayloadTooLarge reports a payload or declared length beyond MaxPayload.
var ErrPayloadTooLarge = fmt.Errorf("wire: payload exceeds %d bytes", MaxPayload)

// ErrShortFrame reports a byte slice too small to hold a complete frame.
var ErrShortFrame = fmt.Errorf("wire: short frame")

// ErrBadSync reports a frame image that does not start with the sync sequence.
var ErrBadSync = fmt.Errorf("wire: bad sync sequence")

// Encode returns the full wire image of f.
func (f Frame) Encode() ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	b := make([]byte, 0, HeaderSize+len(f.Payload))
	b = append(b, Sync1, Sync2, byte(f.Op), byte(len(f.Payload)))
	b = append(b, f.Payload...)
	return b, nil
}

// Decode parses one frame from the start of b and returns it together with
// the number of bytes consumed. The returned payload aliases b.
func Decode(b []byte) (Frame, int, error) {
	if len(b) < HeaderSize {
		return Frame{}, 0, ErrShortFrame
	}
	if b[0] != Sync1 || b[1] != Sync2 {
		return Frame{}, 0, ErrBadSync
	}
	n := int(b[3])
	if n > MaxPayload {
		return Frame{}, 0, ErrPayloadTooLarge
	}
	if len(b) < HeaderSize+n {
		return Frame{}, 0, ErrShortFrame
	}
	return Frame{Op: Opcode(b[2]), Payload: b[HeaderSize : HeaderSize+n]}, HeaderSize + n, nil
}

// PutAddr writes a 4-byte big-endian address into b[0:4].
func PutAddr(b []byte, addr uint32) {
	b[0] = byte(addr >> 24)
	b[1] = byte(addr >> 16)
	b[2] = byte(addr >> 8)
	b[3] = byte(addr)
}

// Addr reads a 4-byte big-endian address from b[0:4].
func Addr(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// PutLine writes a 2-byte big-endian source line into b[0:2].
func PutLine(b []byte, line uint16) {
	b[0] = byte(line >> 8)
	b[1] = byte(line)
}

// Line reads a 2-byte big-endian source line from b[0:2].
func Line(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}
