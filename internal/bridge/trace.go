package bridge

import (
	"errors"

	"github.com/kpc-debug/kdb/internal/cli"
	"github.com/kpc-debug/kdb/internal/wire"
)

// tracer decodes the frames riding a relayed byte stream for debug
// logging, resynchronizing the same way the endpoints do: a prefix that
// is not a valid frame start is dropped one byte at a time. A nil tracer
// is a no-op, so callers only pay when debug logging is on.
type tracer struct {
	dir  string
	buf  []byte
	emit func(wire.Frame)
}

func newTracer(log *cli.Logger, dir string) *tracer {
	if !log.DebugMode {
		return nil
	}
	return &tracer{
		dir: dir,
		emit: func(f wire.Frame) {
			log.Debug("%s %v % x", dir, f.Op, f.Payload)
		},
	}
}

func (t *tracer) observe(p []byte) {
	if t == nil {
		return
	}
	t.buf = append(t.buf, p...)
	for len(t.buf) > 0 {
		f, n, err := wire.Decode(t.buf)
		switch {
		case err == nil:
			t.emit(f)
			t.buf = t.buf[n:]
		case errors.Is(err, wire.ErrShortFrame):
			// Wait for the rest of the frame.
			return
		default:
			t.buf = t.buf[1:]
		}
	}
}

// Write lets a tracer sit behind an io.TeeReader on the relay path.
func (t *tracer) Write(p []byte) (int, error) {
	t.observe(p)
	return len(p), nil
}
