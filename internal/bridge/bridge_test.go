package bridge

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/kpc-debug/kdb/internal/agent"
	"github.com/kpc-debug/kdb/internal/host"
	"github.com/kpc-debug/kdb/internal/mem"
	"github.com/kpc-debug/kdb/internal/pin"
	"github.com/kpc-debug/kdb/internal/transport"
	"github.com/kpc-debug/kdb/internal/wire"
)

// startBridgedTarget runs a simulated target behind a fresh bridge.
func startBridgedTarget(t *testing.T) *Bridge {
	t.Helper()

	targetEnd, bridgeEnd := net.Pipe()
	m := mem.NewSparse()
	m.Seed(0x2000_0010, []byte{0xCA, 0xFE})
	s := agent.New(agent.Config{
		Stream:       transport.NewIOStream(targetEnd),
		Memory:       m,
		Pins:         pin.NewSim(),
		PollInterval: 50 * time.Microsecond,
	})
	go s.Debugger(42)

	br := New(bridgeEnd, nil)

	t.Cleanup(func() {
		targetEnd.Close()
		bridgeEnd.Close()
	})
	return br
}

func attach(t *testing.T, conn io.ReadWriteCloser) *host.Client {
	t.Helper()
	c := host.NewClient(transport.NewIOStream(conn))
	c.ResponseBudget = 500_000
	return c
}

func TestBridgeTCPSplice(t *testing.T) {
	br := startBridgedTarget(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go br.ServeTCP(context.Background(), ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	c := attach(t, conn)

	if err := c.WritePin(13, 1); err != nil {
		t.Fatalf("write pin through bridge: %v", err)
	}
	got, err := c.ReadPin(13)
	if err != nil {
		t.Fatalf("read pin through bridge: %v", err)
	}
	if got != 1 {
		t.Fatalf("pin = %d, want 1", got)
	}

	data, err := c.ReadMemory(0x2000_0010, 2)
	if err != nil {
		t.Fatalf("read memory through bridge: %v", err)
	}
	if data[0] != 0xCA || data[1] != 0xFE {
		t.Fatalf("memory = %x, want cafe", data)
	}
}

func TestBridgeSingleSession(t *testing.T) {
	br := startBridgedTarget(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go br.ServeTCP(context.Background(), ln)

	first, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	second, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	second.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := second.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("second session read = %v, want EOF", err)
	}
	second.Close()

	// Once the first host detaches the slot frees up again.
	first.Close()
	deadline := time.Now().Add(5 * time.Second)
	for {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			t.Fatal(err)
		}
		c := attach(t, conn)
		if _, err := c.ReadPin(13); err == nil {
			conn.Close()
			return
		}
		conn.Close()
		if time.Now().After(deadline) {
			t.Fatal("bridge never freed the session slot")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBridgeQUICSplice(t *testing.T) {
	br := startBridgedTarget(t)

	tlsConf, err := GenerateTLSConfig()
	if err != nil {
		t.Fatal(err)
	}
	pc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	go br.ServeQUIC(context.Background(), pc, tlsConf)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stream, err := DialQUIC(ctx, pc.LocalAddr().String(), true)
	if err != nil {
		t.Fatalf("dial quic: %v", err)
	}
	defer stream.Close()
	c := attach(t, stream)

	if err := c.WritePin(7, 1); err != nil {
		t.Fatalf("write pin through quic: %v", err)
	}
	got, err := c.ReadPin(7)
	if err != nil {
		t.Fatalf("read pin through quic: %v", err)
	}
	if got != 1 {
		t.Fatalf("pin = %d, want 1", got)
	}
}

func TestTracerReassemblesFrames(t *testing.T) {
	var got []wire.Frame
	tr := &tracer{emit: func(f wire.Frame) {
		f.Payload = append([]byte(nil), f.Payload...)
		got = append(got, f)
	}}

	first, err := wire.Frame{Op: wire.OpReadPin, Payload: []byte{13}}.Encode()
	if err != nil {
		t.Fatal(err)
	}
	second, err := wire.Frame{Op: wire.OpReturn}.Encode()
	if err != nil {
		t.Fatal(err)
	}

	// Leading garbage, including a lone sync byte, then two frames,
	// delivered one byte at a time the way a slow serial link would.
	stream := append([]byte{0x00, wire.Sync1, 0x7F}, first...)
	stream = append(stream, second...)
	for _, b := range stream {
		tr.observe([]byte{b})
	}

	if len(got) != 2 {
		t.Fatalf("traced %d frames, want 2", len(got))
	}
	if got[0].Op != wire.OpReadPin || !bytes.Equal(got[0].Payload, []byte{13}) {
		t.Fatalf("first frame %v % x", got[0].Op, got[0].Payload)
	}
	if got[1].Op != wire.OpReturn || len(got[1].Payload) != 0 {
		t.Fatalf("second frame %v % x", got[1].Op, got[1].Payload)
	}

	// A nil tracer (debug logging off) swallows bytes without decoding.
	var off *tracer
	off.observe(stream)
}

func TestGenerateTLSConfig(t *testing.T) {
	conf, err := GenerateTLSConfig()
	if err != nil {
		t.Fatal(err)
	}
	if len(conf.Certificates) != 1 {
		t.Fatalf("certificates = %d, want 1", len(conf.Certificates))
	}
	if len(conf.NextProtos) != 1 || conf.NextProtos[0] != Proto {
		t.Fatalf("next protos = %v, want [%s]", conf.NextProtos, Proto)
	}
}
