package host

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/kpc-debug/kdb/internal/agent"
	"github.com/kpc-debug/kdb/internal/mem"
	"github.com/kpc-debug/kdb/internal/pin"
	"github.com/kpc-debug/kdb/internal/transport"
	"github.com/kpc-debug/kdb/internal/wire"
)

// target is a simulated parked firmware on the far end of a pipe.
type target struct {
	s    *agent.Session
	mem  *mem.Sparse
	pins *pin.Sim
	done chan error
}

// startTarget parks a session at a breakpoint and returns a client attached
// to it.
func startTarget(t *testing.T, setup func(*target)) (*Client, *target) {
	t.Helper()
	near, far := net.Pipe()
	t.Cleanup(func() {
		near.Close()
		far.Close()
	})

	tg := &target{
		mem:  mem.NewSparse(),
		pins: pin.NewSim(),
		done: make(chan error, 1),
	}
	tg.s = agent.New(agent.Config{
		Stream:       transport.NewIOStream(near),
		Memory:       tg.mem,
		Pins:         tg.pins,
		PollInterval: 50 * time.Microsecond,
	})

	// The client end must exist before setup runs: capture registration
	// announces over the pipe and would otherwise block with no reader.
	c := NewClient(transport.NewIOStream(far))
	if setup != nil {
		setup(tg)
	}
	go func() { tg.done <- tg.s.Debugger(42) }()

	// Consume announcements (capture registrations and the breakpoint
	// itself) before issuing commands.
	for {
		ev, err := c.Next(100000)
		if err != nil {
			t.Fatal(err)
		}
		if ev.Kind == EventDebugger {
			if ev.Line != 42 {
				t.Fatalf("breakpoint announcement %+v", ev)
			}
			break
		}
	}
	return c, tg
}

func release(t *testing.T, c *Client, tg *target) {
	t.Helper()
	if err := c.Continue(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-tg.done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("target did not resume after Continue")
	}
}

func TestClientMemory(t *testing.T) {
	c, tg := startTarget(t, func(tg *target) {
		tg.mem.Seed(0x2000_0040, []byte{0x01, 0x02, 0x03, 0x04})
	})

	got, err := c.ReadMemory(0x2000_0040, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Fatalf("ReadMemory = %x", got)
	}

	if err := c.WriteMemory(0x2000_0040, []byte{0xAA, 0xBB}); err != nil {
		t.Fatal(err)
	}
	got, err = c.ReadMemory(0x2000_0040, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0xAA, 0xBB, 0x03, 0x04}) {
		t.Fatalf("after WriteMemory = %x", got)
	}

	release(t, c, tg)
}

func TestClientPins(t *testing.T) {
	c, tg := startTarget(t, nil)

	if err := c.WritePin(13, 1); err != nil {
		t.Fatal(err)
	}
	v, err := c.ReadPin(13)
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 {
		t.Fatalf("pin 13 = %d", v)
	}

	release(t, c, tg)
}

func TestClientCaptures(t *testing.T) {
	var capErr error
	c, tg := startTarget(t, func(tg *target) {
		tg.mem.Seed(0x1000, []byte{9, 8, 7, 6})
		_, capErr = tg.s.Capture(12, 0x1000, 4)
	})
	if capErr != nil {
		t.Fatal(capErr)
	}

	got, err := c.ReadCapture(0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{9, 8, 7, 6}) {
		t.Fatalf("ReadCapture = %x", got)
	}

	if err := c.WriteCapture(0, []byte{1, 1, 2, 2}); err != nil {
		t.Fatal(err)
	}
	got, err = c.ReadCapture(0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{1, 1, 2, 2}) {
		t.Fatalf("after WriteCapture = %x", got)
	}

	release(t, c, tg)
}

func TestClientCaptureAnnouncement(t *testing.T) {
	near, far := net.Pipe()
	t.Cleanup(func() {
		near.Close()
		far.Close()
	})
	s := agent.New(agent.Config{
		Stream:       transport.NewIOStream(near),
		Memory:       mem.NewSparse(),
		Pins:         pin.NewSim(),
		PollInterval: 50 * time.Microsecond,
	})
	c := NewClient(transport.NewIOStream(far))

	go func() {
		_, _ = s.Capture(30, 0x2000_0000, 8)
	}()

	ev, err := c.Next(100000)
	if err != nil {
		t.Fatal(err)
	}
	want := Event{Kind: EventCapture, Line: 30, Addr: 0x2000_0000, Size: 8, Index: 0}
	if ev != want {
		t.Fatalf("event %+v, want %+v", ev, want)
	}
}

func TestClientErrorPrintDuringAwait(t *testing.T) {
	c, tg := startTarget(t, nil)

	// Reading an unregistered slot gets an error print announcement, not
	// a response; the command times out and the announcement lands in
	// OnEvent.
	var events []Event
	c.OnEvent = func(ev Event) { events = append(events, ev) }
	c.ResponseBudget = 300

	_, err := c.ReadCapture(9)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if len(events) != 1 || events[0].Kind != EventPrint {
		t.Fatalf("events %+v", events)
	}
	if !strings.Contains(events[0].Text, "no such slot") {
		t.Fatalf("error print %q", events[0].Text)
	}

	release(t, c, tg)
}

func TestClientTimeout(t *testing.T) {
	near, far := net.Pipe()
	t.Cleanup(func() {
		near.Close()
		far.Close()
	})
	// A peer that swallows everything and never answers.
	go func() { _, _ = io.Copy(io.Discard, near) }()

	c := NewClient(transport.NewIOStream(far))
	c.ResponseBudget = 200

	if _, err := c.ReadMemory(0x100, 4); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestClientRejectsOversizedRequests(t *testing.T) {
	near, far := net.Pipe()
	t.Cleanup(func() {
		near.Close()
		far.Close()
	})
	c := NewClient(transport.NewIOStream(far))

	if _, err := c.ReadMemory(0, wire.MaxPayload+1); err == nil {
		t.Fatal("oversized ReadMemory accepted")
	}
	if err := c.WriteMemory(0, make([]byte, wire.MaxPayload)); err == nil {
		t.Fatal("oversized WriteMemory accepted")
	}
	if err := c.WriteCapture(0, make([]byte, wire.MaxPayload)); err == nil {
		t.Fatal("oversized WriteCapture accepted")
	}
}

func TestDecodeEvent(t *testing.T) {
	cases := []struct {
		op   wire.Opcode
		p    []byte
		want Event
		ok   bool
	}{
		{wire.OpInit, []byte{0, 42}, Event{Kind: EventInit, Line: 42}, true},
		{wire.OpDebugger, []byte{1, 0}, Event{Kind: EventDebugger, Line: 256}, true},
		{wire.OpPrint, []byte{0, 9, 1, 'h', 'i'}, Event{Kind: EventPrint, Line: 9, Newline: true, Text: "hi"}, true},
		{wire.OpPrint, []byte{0, 9, 0}, Event{Kind: EventPrint, Line: 9}, true},
		{wire.OpReadMemRes, []byte{1, 2}, Event{}, false},
		{wire.OpInit, []byte{1}, Event{}, false},
		{wire.OpCapture, []byte{0, 1, 2}, Event{}, false},
	}
	for _, tc := range cases {
		ev, ok := decodeEvent(tc.op, tc.p)
		if ok != tc.ok || ev != tc.want {
			t.Errorf("decodeEvent(%v, %x) = %+v, %v", tc.op, tc.p, ev, ok)
		}
	}
}
