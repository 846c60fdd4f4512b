// Package agent implements the on-target side of the kdb protocol: the
// operation dispatcher and the blocking session loop that gives the target
// its "paused at a breakpoint" behavior.
//
// A Session is single-threaded by contract. Every method is called from the
// firmware's one execution context, dispatch is only reachable from the one
// poll loop, and the transport's scratch buffer is therefore never aliased
// across operations. Anything that adds concurrency around a Session must
// add its own synchronization to preserve that single-writer rule.
package agent

import (
	"errors"
	"fmt"
	"time"

	"github.com/kpc-debug/kdb/internal/capture"
	"github.com/kpc-debug/kdb/internal/mem"
	"github.com/kpc-debug/kdb/internal/pin"
	"github.com/kpc-debug/kdb/internal/transport"
	"github.com/kpc-debug/kdb/internal/wire"
)

// Defaults for the init handshake: how many poll iterations one
// announce-and-wait cycle lasts, and how long to sleep before the next
// announcement.
const (
	DefaultInitPollBudget    = 200
	DefaultInitRetryInterval = 100 * time.Millisecond
)

// Config assembles a Session's collaborators.
type Config struct {
	Stream transport.ByteStream
	Memory mem.Accessor
	Pins   pin.Driver

	// PollInterval overrides the transport's idle-poll sleep.
	PollInterval time.Duration
	// InitPollBudget and InitRetryInterval tune the init heartbeat.
	InitPollBudget    int
	InitRetryInterval time.Duration
}

// Session is the process-wide debug session state: one scratch buffer, one
// capture table, one running flag. Construct it once at startup and pass it
// where needed; tests may hold several independent sessions.
type Session struct {
	tr     *transport.Transport
	memory mem.Accessor
	pins   pin.Driver
	caps   capture.Registry

	running    bool
	unknownOps uint64

	initBudget    int
	retryInterval time.Duration
}

// New returns an idle session over cfg.Stream.
func New(cfg Config) *Session {
	tr := transport.New(cfg.Stream)
	if cfg.PollInterval > 0 {
		tr.PollInterval = cfg.PollInterval
	}
	s := &Session{
		tr:            tr,
		memory:        cfg.Memory,
		pins:          cfg.Pins,
		initBudget:    cfg.InitPollBudget,
		retryInterval: cfg.InitRetryInterval,
	}
	if s.initBudget <= 0 {
		s.initBudget = DefaultInitPollBudget
	}
	if s.retryInterval <= 0 {
		s.retryInterval = DefaultInitRetryInterval
	}
	return s
}

// Running reports whether the session loop should keep polling for frames.
func (s *Session) Running() bool { return s.running }

// UnknownOps counts inbound frames whose opcode matched no operation. The
// protocol ignores them silently; the counter exists so a stricter caller
// can observe the skew.
func (s *Session) UnknownOps() uint64 { return s.unknownOps }

// CaptureCount returns the number of live capture slots.
func (s *Session) CaptureCount() int { return s.caps.Len() }

// Init begins a new debug session at the given firmware source line. It
// resets the capture table and then heartbeats: announce an INIT frame,
// wait one poll budget for traffic, sleep the retry interval, announce
// again. A host attaching late still discovers the parked target. Init
// blocks until a RETURN operation arrives or the stream fails.
func (s *Session) Init(line uint16) error {
	s.caps.Reset()
	s.running = true
	for s.running {
		if err := s.announce(wire.OpInit, line); err != nil {
			s.running = false
			return err
		}
		budget := s.initBudget
		err := s.wait(&budget)
		if errors.Is(err, transport.ErrBudgetExhausted) {
			time.Sleep(s.retryInterval)
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Debugger announces a breakpoint hit at the given source line and parks
// the firmware in the session loop until RETURN.
func (s *Session) Debugger(line uint16) error {
	s.running = true
	if err := s.announce(wire.OpDebugger, line); err != nil {
		s.running = false
		return err
	}
	return s.wait(nil)
}

// Capture registers a memory region for later remote access and announces
// the new slot to the host. size must not exceed wire.MaxPayload (32),
// since READ_CAP answers the whole slot in one frame; oversized regions
// are rejected with capture.ErrSlotTooLarge and never announced. The 33rd
// registration in one session is rejected with capture.ErrCapacity. Either
// rejection is also reported to the host.
func (s *Session) Capture(line uint16, addr uint32, size uint8) (uint8, error) {
	idx, err := s.caps.Register(addr, size)
	if err != nil {
		s.reportError(fmt.Sprintf("capture at line %d: %v", line, err))
		return 0, err
	}
	buf := s.tr.Scratch()
	wire.PutLine(buf, line)
	wire.PutAddr(buf[2:], addr)
	buf[6] = size
	buf[7] = idx
	if err := s.tr.WriteFrame(wire.OpCapture, 8); err != nil {
		return idx, err
	}
	return idx, nil
}

// announce emits a 2-byte line-number frame.
func (s *Session) announce(op wire.Opcode, line uint16) error {
	wire.PutLine(s.tr.Scratch(), line)
	return s.tr.WriteFrame(op, 2)
}

// wait runs the poll loop until RETURN clears running, the shared budget
// runs out, or the stream fails. A nil budget waits unboundedly.
func (s *Session) wait(budget *int) error {
	for s.running {
		op, n, err := s.tr.ReadFrame(budget)
		switch {
		case err == nil:
			if err := s.dispatch(op, n); err != nil {
				s.running = false
				return err
			}
		case errors.Is(err, transport.ErrBudgetExhausted):
			return err
		case errors.Is(err, transport.ErrLengthOverflow):
			// Reject the frame, keep the session alive.
			if err := s.reportError("frame length exceeds buffer"); err != nil {
				s.running = false
				return err
			}
		default:
			s.running = false
			return err
		}
	}
	return nil
}

// dispatch executes one decoded operation against memory, pins or the
// capture table. Protocol-level violations are reported to the host and the
// loop continues; only stream failures propagate.
func (s *Session) dispatch(op wire.Opcode, n int) error {
	buf := s.tr.Scratch()
	switch op {
	case wire.OpReturn:
		s.running = false

	case wire.OpReadMem:
		if n < 5 {
			return s.reportError("short READ_MEM")
		}
		addr := wire.Addr(buf)
		size := int(buf[4])
		if size > wire.MaxPayload {
			return s.reportError("READ_MEM size exceeds buffer")
		}
		if err := s.memory.ReadAt(addr, buf[:size]); err != nil {
			return s.reportError("READ_MEM: " + err.Error())
		}
		return s.tr.WriteFrame(wire.OpReadMemRes, size)

	case wire.OpWriteMem:
		if n < 5 {
			return s.reportError("short WRITE_MEM")
		}
		addr := wire.Addr(buf)
		size := int(buf[4])
		if 5+size > n {
			return s.reportError("WRITE_MEM data shorter than declared size")
		}
		if err := s.memory.WriteAt(addr, buf[5:5+size]); err != nil {
			return s.reportError("WRITE_MEM: " + err.Error())
		}

	case wire.OpReadPin:
		if n < 1 {
			return s.reportError("short READ_PIN")
		}
		v, err := s.pins.Read(buf[0])
		if err != nil {
			return s.reportError("READ_PIN: " + err.Error())
		}
		buf[0] = v
		return s.tr.WriteFrame(wire.OpReadPinRes, 1)

	case wire.OpWritePin:
		if n < 2 {
			return s.reportError("short WRITE_PIN")
		}
		if err := s.pins.Write(buf[0], buf[1]); err != nil {
			return s.reportError("WRITE_PIN: " + err.Error())
		}

	case wire.OpReadCap:
		if n < 1 {
			return s.reportError("short READ_CAP")
		}
		slot, err := s.caps.Get(buf[0])
		if err != nil {
			return s.reportError(fmt.Sprintf("READ_CAP %d: no such slot", buf[0]))
		}
		if err := s.memory.ReadAt(slot.Addr, buf[:slot.Size]); err != nil {
			return s.reportError("READ_CAP: " + err.Error())
		}
		return s.tr.WriteFrame(wire.OpReadCapRes, int(slot.Size))

	case wire.OpWriteCap:
		if n < 1 {
			return s.reportError("short WRITE_CAP")
		}
		slot, err := s.caps.Get(buf[0])
		if err != nil {
			return s.reportError(fmt.Sprintf("WRITE_CAP %d: no such slot", buf[0]))
		}
		data := buf[1:n]
		if len(data) > int(slot.Size) {
			return s.reportError(fmt.Sprintf("WRITE_CAP %d: data exceeds slot size", buf[0]))
		}
		if err := s.memory.WriteAt(slot.Addr, data); err != nil {
			return s.reportError("WRITE_CAP: " + err.Error())
		}

	default:
		// Tolerate forward/backward protocol skew: no response, no error.
		s.unknownOps++
	}
	return nil
}

// reportError announces a protocol-level error to the host. The protocol
// has no error channel of its own, so errors ride the PRINT opcode with
// line 0.
func (s *Session) reportError(msg string) error {
	return s.emitPrint(0, kindPrintln, "kdb: "+msg)
}
