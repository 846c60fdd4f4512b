// Package bridge exposes a target's byte pipe to remote debug hosts.
//
// The target side is a single serial-like pipe, so only one host session
// may be active at a time; further connections are refused until the
// active one ends. Bytes the target emits while no host is attached are
// dropped, exactly as they would be on an unattended serial line. The
// init handshake repeats its announcement, so a host that attaches late
// still catches it.
package bridge

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/kpc-debug/kdb/internal/cli"
)

// Proto is the ALPN protocol name used by the QUIC listener.
const Proto = "kdb-bridge"

// Bridge relays bytes between a target pipe and one remote host at a time.
type Bridge struct {
	pipe io.ReadWriter
	log  *cli.Logger

	mu   sync.Mutex
	conn io.Writer // active session, nil when none

	pumpOnce sync.Once

	// Debug-level frame tracing, one tracer per direction; nil when
	// debug logging is off.
	fromTarget *tracer
	fromHost   *tracer
}

// New creates a bridge for the given target pipe.
func New(pipe io.ReadWriter, log *cli.Logger) *Bridge {
	if log == nil {
		log = cli.NewLogger(false, false)
	}
	return &Bridge{
		pipe:       pipe,
		log:        log,
		fromTarget: newTracer(log, "target>"),
		fromHost:   newTracer(log, "host>"),
	}
}

// ServeTCP accepts plain TCP sessions on ln until ctx is cancelled.
func (b *Bridge) ServeTCP(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	b.pumpOnce.Do(func() { go b.pumpTarget() })

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go b.serve(conn)
	}
}

// ServeQUIC accepts QUIC sessions on the given UDP socket until ctx is
// cancelled. Each session carries the debug byte stream on its first
// client-opened stream.
func (b *Bridge) ServeQUIC(ctx context.Context, pc net.PacketConn, tlsConf *tls.Config) error {
	ln, err := quic.Listen(pc, tlsConf, &quic.Config{MaxIdleTimeout: 30 * time.Second})
	if err != nil {
		return err
	}
	defer ln.Close()
	b.pumpOnce.Do(func() { go b.pumpTarget() })

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			b.log.Warn("bridge: no stream from %s: %v", conn.RemoteAddr(), err)
			continue
		}
		go b.serve(stream)
	}
}

// DialQUIC connects to a bridge's QUIC listener and returns the debug
// byte stream. The bridge presents a self-signed certificate, so
// insecure skips verification unless the operator has provisioned a
// real one.
func DialQUIC(ctx context.Context, addr string, insecure bool) (io.ReadWriteCloser, error) {
	conf := &tls.Config{
		InsecureSkipVerify: insecure,
		NextProtos:         []string{Proto},
	}
	conn, err := quic.DialAddr(ctx, addr, conf, nil)
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	// QUIC streams materialize on the peer only once data flows, so
	// nudge the bridge into accepting the session. A stray 0x00 is
	// noise to the frame scanner on the far side.
	if _, err := stream.Write([]byte{0}); err != nil {
		return nil, err
	}
	return stream, nil
}

// pumpTarget forwards target bytes to whichever session is active.
func (b *Bridge) pumpTarget() {
	buf := make([]byte, 512)
	for {
		n, err := b.pipe.Read(buf)
		if n > 0 {
			b.fromTarget.observe(buf[:n])
			b.mu.Lock()
			w := b.conn
			b.mu.Unlock()
			if w != nil {
				w.Write(buf[:n])
			}
		}
		if err != nil {
			b.log.Error("bridge: target pipe closed: %v", err)
			return
		}
	}
}

func (b *Bridge) serve(conn io.ReadWriteCloser) {
	b.mu.Lock()
	if b.conn != nil {
		b.mu.Unlock()
		b.log.Warn("bridge: refusing session, another host is attached")
		conn.Close()
		return
	}
	b.conn = conn
	b.mu.Unlock()

	b.log.Info("bridge: host attached")
	var from io.Reader = conn
	if b.fromHost != nil {
		from = io.TeeReader(conn, b.fromHost)
	}
	io.Copy(b.pipe, from)
	b.log.Info("bridge: host detached")

	b.mu.Lock()
	b.conn = nil
	b.mu.Unlock()
	conn.Close()
}
