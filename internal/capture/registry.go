// Package capture holds the fixed-capacity table of memory regions the
// firmware has registered for remote access.
package capture

import (
	"errors"

	"github.com/kpc-debug/kdb/internal/wire"
)

// ErrCapacity is returned when registering beyond wire.MaxCaptures slots.
var ErrCapacity = errors.New("capture: table full")

// ErrSlotTooLarge is returned when a slot's size exceeds wire.MaxPayload.
// READ_CAP answers with a single frame, so a larger slot could never be
// read back.
var ErrSlotTooLarge = errors.New("capture: slot size exceeds frame payload capacity")

// ErrOutOfRange is returned for a slot index that was never registered in
// the current session.
var ErrOutOfRange = errors.New("capture: no such slot")

// Slot is one registered (address, size) pair. The address points at live
// firmware memory; the registry holds a non-owning reference.
type Slot struct {
	Addr uint32
	Size uint8
}

// Registry is the ordered set of capture slots for one debug session.
// Slots are assigned sequential indices and are never removed individually;
// the whole table is reset when a new session begins. The zero value is an
// empty registry ready for use.
type Registry struct {
	slots [wire.MaxCaptures]Slot
	count int
}

// Register appends a new slot and returns its index. Slots larger than
// one frame payload are rejected.
func (r *Registry) Register(addr uint32, size uint8) (uint8, error) {
	if int(size) > wire.MaxPayload {
		return 0, ErrSlotTooLarge
	}
	if r.count >= len(r.slots) {
		return 0, ErrCapacity
	}
	idx := uint8(r.count)
	r.slots[r.count] = Slot{Addr: addr, Size: size}
	r.count++
	return idx, nil
}

// Get returns the slot at index.
func (r *Registry) Get(index uint8) (Slot, error) {
	if int(index) >= r.count {
		return Slot{}, ErrOutOfRange
	}
	return r.slots[index], nil
}

// Len returns the number of registered slots.
func (r *Registry) Len() int { return r.count }

// Reset empties the table. Called once at the start of a new debug session.
func (r *Registry) Reset() {
	r.count = 0
}
