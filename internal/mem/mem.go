// Package mem is the memory access boundary of the debug protocol.
//
// The protocol lets the host read and write arbitrary, firmware-chosen
// numeric addresses. That capability is inherently unsafe; everything that
// dereferences a raw address lives behind the Accessor interface, and the
// one implementation that touches live process memory is confined to raw.go.
package mem

import "sync"

// Accessor reads and writes memory by numeric address. Addresses are the
// 4-byte values carried on the wire.
type Accessor interface {
	ReadAt(addr uint32, buf []byte) error
	WriteAt(addr uint32, data []byte) error
}

// Sparse is a map-backed address space for simulated targets and tests.
// Unwritten addresses read as zero.
type Sparse struct {
	mu    sync.Mutex
	cells map[uint32]byte
}

// NewSparse returns an empty address space.
func NewSparse() *Sparse {
	return &Sparse{cells: make(map[uint32]byte)}
}

// ReadAt fills buf from addr onward.
func (s *Sparse) ReadAt(addr uint32, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range buf {
		buf[i] = s.cells[addr+uint32(i)]
	}
	return nil
}

// WriteAt stores data at addr onward.
func (s *Sparse) WriteAt(addr uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range data {
		s.cells[addr+uint32(i)] = b
	}
	return nil
}

// Seed is WriteAt for test and simulator setup; it reads as intent at call
// sites that populate memory before a session starts.
func (s *Sparse) Seed(addr uint32, data []byte) {
	_ = s.WriteAt(addr, data)
}
