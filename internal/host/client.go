// Package host implements the host side of the kdb protocol: the command
// surface a debugger front end drives, and decoding of the announcement
// frames the target emits on its own.
//
// A Client is single-threaded like its peer: commands and Next are called
// from one goroutine at a time, and the transport's scratch buffer backs
// exactly one in-flight frame.
package host

import (
	"errors"
	"fmt"

	"github.com/kpc-debug/kdb/internal/transport"
	"github.com/kpc-debug/kdb/internal/wire"
)

// ErrTimeout is returned when the target does not answer a command within
// the response budget.
var ErrTimeout = errors.New("host: timed out waiting for response")

// DefaultResponseBudget is how many poll iterations a command waits for its
// response frame.
const DefaultResponseBudget = 2000

// EventKind classifies an announcement from the target.
type EventKind int

const (
	// EventInit announces a session entry point: the target is parked in
	// its init handshake and ready for a host.
	EventInit EventKind = iota
	// EventDebugger announces a breakpoint hit.
	EventDebugger
	// EventCapture announces a newly registered capture slot.
	EventCapture
	// EventPrint announces debug text output.
	EventPrint
)

// Event is one decoded announcement.
type Event struct {
	Kind EventKind
	Line uint16

	// Capture fields.
	Addr  uint32
	Size  uint8
	Index uint8

	// Print fields.
	Text    string
	Newline bool
}

// Client drives one debug session over a byte stream.
type Client struct {
	tr *transport.Transport

	// OnEvent, when set, receives announcements that arrive interleaved
	// with a command's response (a late INIT heartbeat, an error print).
	OnEvent func(Event)

	// ResponseBudget bounds the wait for a command response, in poll
	// iterations of the underlying transport.
	ResponseBudget int
}

// NewClient returns a client over stream.
func NewClient(stream transport.ByteStream) *Client {
	return &Client{
		tr:             transport.New(stream),
		ResponseBudget: DefaultResponseBudget,
	}
}

// Continue sends RETURN, releasing the target from its wait loop. The
// target sends no acknowledgement.
func (c *Client) Continue() error {
	return c.tr.WriteFrame(wire.OpReturn, 0)
}

// ReadMemory reads size bytes from a raw target address.
func (c *Client) ReadMemory(addr uint32, size uint8) ([]byte, error) {
	if int(size) > wire.MaxPayload {
		return nil, fmt.Errorf("host: read of %d bytes exceeds frame capacity", size)
	}
	buf := c.tr.Scratch()
	wire.PutAddr(buf, addr)
	buf[4] = size
	if err := c.tr.WriteFrame(wire.OpReadMem, 5); err != nil {
		return nil, err
	}
	p, err := c.await(wire.OpReadMemRes)
	if err != nil {
		return nil, err
	}
	if len(p) != int(size) {
		return nil, fmt.Errorf("host: READ_MEM answered %d bytes, want %d", len(p), size)
	}
	return p, nil
}

// WriteMemory writes data to a raw target address. No response frame.
func (c *Client) WriteMemory(addr uint32, data []byte) error {
	if 5+len(data) > wire.MaxPayload {
		return fmt.Errorf("host: write of %d bytes exceeds frame capacity", len(data))
	}
	buf := c.tr.Scratch()
	wire.PutAddr(buf, addr)
	buf[4] = byte(len(data))
	copy(buf[5:], data)
	return c.tr.WriteFrame(wire.OpWriteMem, 5+len(data))
}

// ReadCapture reads the live bytes of a registered capture slot.
func (c *Client) ReadCapture(index uint8) ([]byte, error) {
	c.tr.Scratch()[0] = index
	if err := c.tr.WriteFrame(wire.OpReadCap, 1); err != nil {
		return nil, err
	}
	return c.await(wire.OpReadCapRes)
}

// WriteCapture overwrites a registered capture slot. No response frame.
func (c *Client) WriteCapture(index uint8, data []byte) error {
	if 1+len(data) > wire.MaxPayload {
		return fmt.Errorf("host: write of %d bytes exceeds frame capacity", len(data))
	}
	buf := c.tr.Scratch()
	buf[0] = index
	copy(buf[1:], data)
	return c.tr.WriteFrame(wire.OpWriteCap, 1+len(data))
}

// ReadPin reads a digital pin.
func (c *Client) ReadPin(p uint8) (uint8, error) {
	c.tr.Scratch()[0] = p
	if err := c.tr.WriteFrame(wire.OpReadPin, 1); err != nil {
		return 0, err
	}
	res, err := c.await(wire.OpReadPinRes)
	if err != nil {
		return 0, err
	}
	if len(res) != 1 {
		return 0, fmt.Errorf("host: READ_PIN answered %d bytes", len(res))
	}
	return res[0], nil
}

// WritePin writes a digital pin. No response frame.
func (c *Client) WritePin(p uint8, value uint8) error {
	buf := c.tr.Scratch()
	buf[0] = p
	buf[1] = value
	return c.tr.WriteFrame(wire.OpWritePin, 2)
}

// Next blocks for the next announcement from the target, up to budget poll
// iterations (budget <= 0 waits unboundedly). Response frames without a
// pending command are stale and skipped.
func (c *Client) Next(budget int) (Event, error) {
	var bp *int
	if budget > 0 {
		bp = &budget
	}
	for {
		op, n, err := c.tr.ReadFrame(bp)
		switch {
		case errors.Is(err, transport.ErrBudgetExhausted):
			return Event{}, ErrTimeout
		case errors.Is(err, transport.ErrLengthOverflow):
			continue
		case err != nil:
			return Event{}, err
		}
		if ev, ok := decodeEvent(op, c.tr.Scratch()[:n]); ok {
			return ev, nil
		}
	}
}

// await reads frames until the wanted response arrives, handing
// announcements to OnEvent along the way.
func (c *Client) await(want wire.Opcode) ([]byte, error) {
	budget := c.ResponseBudget
	for {
		op, n, err := c.tr.ReadFrame(&budget)
		switch {
		case errors.Is(err, transport.ErrBudgetExhausted):
			return nil, ErrTimeout
		case errors.Is(err, transport.ErrLengthOverflow):
			continue
		case err != nil:
			return nil, err
		}
		if op == want {
			return append([]byte(nil), c.tr.Scratch()[:n]...), nil
		}
		if ev, ok := decodeEvent(op, c.tr.Scratch()[:n]); ok && c.OnEvent != nil {
			c.OnEvent(ev)
		}
	}
}

// decodeEvent turns an announcement frame into an Event. Frames that are
// not announcements (or are too short to be one) report ok = false.
func decodeEvent(op wire.Opcode, p []byte) (Event, bool) {
	switch op {
	case wire.OpInit:
		if len(p) < 2 {
			return Event{}, false
		}
		return Event{Kind: EventInit, Line: wire.Line(p)}, true
	case wire.OpDebugger:
		if len(p) < 2 {
			return Event{}, false
		}
		return Event{Kind: EventDebugger, Line: wire.Line(p)}, true
	case wire.OpCapture:
		if len(p) < 8 {
			return Event{}, false
		}
		return Event{
			Kind:  EventCapture,
			Line:  wire.Line(p),
			Addr:  wire.Addr(p[2:]),
			Size:  p[6],
			Index: p[7],
		}, true
	case wire.OpPrint:
		if len(p) < 3 {
			return Event{}, false
		}
		return Event{
			Kind:    EventPrint,
			Line:    wire.Line(p),
			Newline: p[2] == 1,
			Text:    string(p[3:]),
		}, true
	}
	return Event{}, false
}
