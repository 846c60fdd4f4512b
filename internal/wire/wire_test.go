package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := []Frame{
		{Op: OpReturn, Payload: nil},
		{Op: OpReadPin, Payload: []byte{13}},
		{Op: OpReadMem, Payload: []byte{0x20, 0x00, 0x00, 0x40, 4}},
		{Op: OpPrint, Payload: append([]byte{0, 42, 1}, bytes.Repeat([]byte{'x'}, MaxText)...)},
	}
	for _, f := range cases {
		img, err := f.Encode()
		if err != nil {
			t.Fatalf("%v: encode: %v", f.Op, err)
		}
		got, n, err := Decode(img)
		if err != nil {
			t.Fatalf("%v: decode: %v", f.Op, err)
		}
		if n != len(img) {
			t.Fatalf("%v: consumed %d of %d bytes", f.Op, n, len(img))
		}
		if got.Op != f.Op || !bytes.Equal(got.Payload, f.Payload) {
			t.Fatalf("%v: round trip mismatch: %+v", f.Op, got)
		}
	}
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	f := Frame{Op: OpPrint, Payload: make([]byte, MaxPayload+1)}
	if _, err := f.Encode(); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestDecodeRejectsDeclaredOverflow(t *testing.T) {
	// Header declares 33 payload bytes; that is a protocol violation even
	// if the bytes are present.
	img := append([]byte{Sync1, Sync2, byte(OpWriteMem), MaxPayload + 1}, make([]byte, MaxPayload+1)...)
	if _, _, err := Decode(img); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestDecodeRejectsBadSync(t *testing.T) {
	if _, _, err := Decode([]byte{Sync1, 0x00, 0, 0}); !errors.Is(err, ErrBadSync) {
		t.Fatalf("expected ErrBadSync, got %v", err)
	}
	if _, _, err := Decode([]byte{Sync1, Sync2, 0}); !errors.Is(err, ErrShortFrame) {
		t.Fatalf("expected ErrShortFrame, got %v", err)
	}
}

func TestAddrBigEndian(t *testing.T) {
	var b [4]byte
	PutAddr(b[:], 0x01020304)
	if !bytes.Equal(b[:], []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Fatalf("address bytes %x", b)
	}
	if got := Addr(b[:]); got != 0x01020304 {
		t.Fatalf("Addr = %#x", got)
	}
}

func TestLineBigEndian(t *testing.T) {
	var b [2]byte
	PutLine(b[:], 0xBEEF)
	if b[0] != 0xBE || b[1] != 0xEF {
		t.Fatalf("line bytes %x", b)
	}
	if got := Line(b[:]); got != 0xBEEF {
		t.Fatalf("Line = %#x", got)
	}
}

func TestOpcodeString(t *testing.T) {
	if OpReadMem.String() != "READ_MEM" {
		t.Fatalf("OpReadMem = %q", OpReadMem.String())
	}
	if Opcode(200).String() != "OP(200)" {
		t.Fatalf("unknown opcode = %q", Opcode(200).String())
	}
}
