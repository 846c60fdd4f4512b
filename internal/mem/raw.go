package mem

import "unsafe"

// Raw dereferences live process addresses. It is the debugging backdoor the
// protocol exists for: there is no validation, and an address outside valid
// memory faults the process. Intended for 32-bit targets where the whole
// address space fits the protocol's 4-byte addresses; on wider hosts use
// AddrOf to register objects whose addresses happen to fit, or a Sparse
// space instead.
//
// This file is the only importer of unsafe in the repository.
type Raw struct{}

// ReadAt copies len(buf) bytes from addr into buf.
func (Raw) ReadAt(addr uint32, buf []byte) error {
	src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), len(buf))
	copy(buf, src)
	return nil
}

// WriteAt copies data to addr.
func (Raw) WriteAt(addr uint32, data []byte) error {
	dst := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), len(data))
	copy(dst, data)
	return nil
}

// AddrOf returns the protocol address of p, truncated to the 4 bytes the
// wire format carries. The caller keeps p alive for the session; the
// protocol holds only the numeric address.
func AddrOf(p unsafe.Pointer) uint32 {
	return uint32(uintptr(p))
}
