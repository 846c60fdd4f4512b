package pin

import "testing"

func TestSimReadWrite(t *testing.T) {
	s := NewSim()

	v, err := s.Read(13)
	if err != nil || v != Low {
		t.Fatalf("initial read: v=%d err=%v", v, err)
	}

	if err := s.Write(13, High); err != nil {
		t.Fatal(err)
	}
	v, err = s.Read(13)
	if err != nil || v != High {
		t.Fatalf("after write: v=%d err=%v", v, err)
	}
}

func TestSimClampsNonzero(t *testing.T) {
	s := NewSim()
	if err := s.Write(2, 0xFF); err != nil {
		t.Fatal(err)
	}
	v, err := s.Read(2)
	if err != nil || v != High {
		t.Fatalf("v=%d err=%v", v, err)
	}
}

func TestSimRejectsUnknownPin(t *testing.T) {
	s := NewSim()
	if _, err := s.Read(200); err == nil {
		t.Fatal("expected error reading pin 200")
	}
	if err := s.Write(200, High); err == nil {
		t.Fatal("expected error writing pin 200")
	}
}
