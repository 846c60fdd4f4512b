// Package transport assembles raw bytes from an underlying stream into
// length-delimited kdb frames and writes frames back out.
//
// The reader consumes the stream byte at a time, scanning for the two-byte
// sync sequence. A lone sync1 byte not immediately followed by sync2 is
// silently discarded and scanning resumes; there is no checksum and no
// resynchronization beyond that. The medium is assumed to be a lossless,
// privately owned point-to-point byte pipe.
package transport

import (
	"errors"
	"time"

	"github.com/kpc-debug/kdb/internal/wire"
)

// ErrBudgetExhausted is returned by ReadFrame when the poll budget reaches
// zero before a complete frame header has been consumed. It is the
// cooperative timeout used by the session-initialization handshake.
var ErrBudgetExhausted = errors.New("transport: poll budget exhausted")

// ErrLengthOverflow is returned for a frame header declaring a payload
// longer than the scratch buffer. The declared bytes are left unconsumed;
// the caller decides whether to keep scanning.
var ErrLengthOverflow = errors.New("transport: declared payload exceeds scratch buffer")

// ByteStream is the byte source/sink the debug session owns. It mirrors the
// serial-peripheral contract of the original target: a readiness check, a
// blocking byte read and a byte write. Flush pushes any buffered output to
// the wire after a complete frame has been written.
type ByteStream interface {
	Available() bool
	ReadByte() (byte, error)
	WriteByte(b byte) error
	Flush() error
}

// DefaultPollInterval is how long the reader sleeps between availability
// polls when the stream is idle. The MCU original spins; on a hosted target
// a short sleep keeps the poll loop from burning a core.
const DefaultPollInterval = time.Millisecond

// Transport owns the single scratch buffer shared by outgoing payload
// construction and incoming payload decoding. There is exactly one in-flight
// frame at a time; the buffer is never aliased across operations.
type Transport struct {
	stream       ByteStream
	scratch      [wire.MaxPayload]byte
	PollInterval time.Duration
}

// New returns a Transport over stream.
func New(stream ByteStream) *Transport {
	return &Transport{stream: stream, PollInterval: DefaultPollInterval}
}

// Scratch returns the shared payload buffer. Callers build outgoing payloads
// in place here before WriteFrame, and read incoming payloads from here
// after ReadFrame.
func (t *Transport) Scratch() []byte { return t.scratch[:] }

// ReadFrame blocks until a complete frame has been consumed, filling the
// scratch buffer with its payload and returning the opcode and payload
// length.
//
// budget, when non-nil, is a shared countdown of poll iterations: each pass
// of the sync scan decrements it, and ReadFrame returns ErrBudgetExhausted
// once it reaches zero. A nil budget polls forever. The budget covers only
// the sync scan; once a sync sequence has been seen the header and payload
// are read to completion regardless (the original fills them unbudgeted).
func (t *Transport) ReadFrame(budget *int) (wire.Opcode, int, error) {
	armed := false
	for {
		if budget != nil {
			if *budget <= 0 {
				return 0, 0, ErrBudgetExhausted
			}
			*budget--
		}
		if !t.stream.Available() {
			time.Sleep(t.PollInterval)
			continue
		}
		b, err := t.stream.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		if armed && b == wire.Sync2 {
			return t.readHeader()
		}
		armed = b == wire.Sync1
	}
}

// readHeader consumes opcode, length and payload after a sync sequence.
func (t *Transport) readHeader() (wire.Opcode, int, error) {
	op, err := t.readByte()
	if err != nil {
		return 0, 0, err
	}
	n, err := t.readByte()
	if err != nil {
		return 0, 0, err
	}
	if int(n) > wire.MaxPayload {
		return wire.Opcode(op), 0, ErrLengthOverflow
	}
	if err := t.fill(t.scratch[:n]); err != nil {
		return 0, 0, err
	}
	return wire.Opcode(op), int(n), nil
}

// readByte blocks until one byte is available.
func (t *Transport) readByte() (byte, error) {
	for !t.stream.Available() {
		time.Sleep(t.PollInterval)
	}
	return t.stream.ReadByte()
}

// fill blocks until buf has been filled from the stream.
func (t *Transport) fill(buf []byte) error {
	for i := range buf {
		b, err := t.readByte()
		if err != nil {
			return err
		}
		buf[i] = b
	}
	return nil
}

// WriteFrame writes the frame image for op and the first n scratch-buffer
// bytes, unconditionally: no acknowledgement, no backpressure.
func (t *Transport) WriteFrame(op wire.Opcode, n int) error {
	if n < 0 || n > wire.MaxPayload {
		return wire.ErrPayloadTooLarge
	}
	img, err := wire.Frame{Op: op, Payload: t.scratch[:n]}.Encode()
	if err != nil {
		return err
	}
	for _, b := range img {
		if err := t.stream.WriteByte(b); err != nil {
			return err
		}
	}
	return t.stream.Flush()
}
