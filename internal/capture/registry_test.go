package capture

import (
	"errors"
	"testing"

	"github.com/kpc-debug/kdb/internal/wire"
)

func TestSequentialIndices(t *testing.T) {
	var r Registry
	for i := 0; i < wire.MaxCaptures; i++ {
		idx, err := r.Register(uint32(0x1000+i*4), 4)
		if err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
		if int(idx) != i {
			t.Fatalf("register %d returned index %d", i, idx)
		}
	}
	if r.Len() != wire.MaxCaptures {
		t.Fatalf("Len = %d", r.Len())
	}

	// The 33rd registration is rejected, not an out-of-bounds write.
	if _, err := r.Register(0x2000, 1); !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
}

func TestSlotSizeLimit(t *testing.T) {
	var r Registry
	if _, err := r.Register(0x1000, wire.MaxPayload+1); !errors.Is(err, ErrSlotTooLarge) {
		t.Fatalf("expected ErrSlotTooLarge, got %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("rejected registration changed Len to %d", r.Len())
	}
	// The full payload width is still allowed.
	if _, err := r.Register(0x1000, wire.MaxPayload); err != nil {
		t.Fatalf("register max-size slot: %v", err)
	}
}

func TestGet(t *testing.T) {
	var r Registry
	if _, err := r.Get(0); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("empty registry Get: %v", err)
	}

	idx, err := r.Register(0xDEAD, 8)
	if err != nil {
		t.Fatal(err)
	}
	slot, err := r.Get(idx)
	if err != nil {
		t.Fatal(err)
	}
	if slot.Addr != 0xDEAD || slot.Size != 8 {
		t.Fatalf("slot = %+v", slot)
	}

	if _, err := r.Get(1); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("unregistered index Get: %v", err)
	}
}

func TestReset(t *testing.T) {
	var r Registry
	if _, err := r.Register(0x100, 2); err != nil {
		t.Fatal(err)
	}
	r.Reset()
	if r.Len() != 0 {
		t.Fatalf("Len after Reset = %d", r.Len())
	}
	if _, err := r.Get(0); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Get after Reset: %v", err)
	}
	// Indices restart from zero in the new session.
	idx, err := r.Register(0x200, 1)
	if err != nil || idx != 0 {
		t.Fatalf("register after Reset: idx=%d err=%v", idx, err)
	}
}
