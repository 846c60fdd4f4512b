package transport

import (
	"bufio"
	"io"
	"sync"
	"sync/atomic"
)

// IOStream adapts any io.ReadWriter (a TCP connection, a serial port, one
// end of a net.Pipe) to the ByteStream contract. A pump goroutine moves
// bytes from the reader into a buffered channel so Available can answer
// without blocking.
type IOStream struct {
	w      *bufio.Writer
	wmu    sync.Mutex
	ch     chan byte
	closed atomic.Bool
	errMu  sync.Mutex
	err    error
}

// NewIOStream starts the pump goroutine and returns the adapter. The pump
// runs until the underlying reader fails or reaches EOF.
func NewIOStream(rw io.ReadWriter) *IOStream {
	s := &IOStream{
		w:  bufio.NewWriter(rw),
		ch: make(chan byte, 4*pumpBufSize),
	}
	go s.pump(rw)
	return s
}

// pumpBufSize sizes the pump buffers; a few max-size frames.
const pumpBufSize = 64

func (s *IOStream) pump(r io.Reader) {
	buf := make([]byte, pumpBufSize)
	for {
		n, err := r.Read(buf)
		for i := 0; i < n; i++ {
			s.ch <- buf[i]
		}
		if err != nil {
			s.errMu.Lock()
			s.err = err
			s.errMu.Unlock()
			s.closed.Store(true)
			close(s.ch)
			return
		}
	}
}

// Available reports whether ReadByte would return without blocking. A closed
// stream counts as available so callers observe the error instead of
// polling forever.
func (s *IOStream) Available() bool {
	return len(s.ch) > 0 || s.closed.Load()
}

// ReadByte returns the next byte, blocking until one arrives or the stream
// fails.
func (s *IOStream) ReadByte() (byte, error) {
	b, ok := <-s.ch
	if !ok {
		return 0, s.readErr()
	}
	return b, nil
}

func (s *IOStream) readErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err != nil {
		return s.err
	}
	return io.EOF
}

// WriteByte buffers one output byte.
func (s *IOStream) WriteByte(b byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.w.WriteByte(b)
}

// Flush pushes buffered output to the underlying writer.
func (s *IOStream) Flush() error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.w.Flush()
}
