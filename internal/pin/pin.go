// Package pin abstracts the digital pin primitives the dispatcher drives.
package pin

import (
	"fmt"
	"sync"
)

// Levels a digital pin can hold on the wire.
const (
	Low  = 0
	High = 1
)

// Driver reads and writes digital pin state by small integer identifier,
// supplied by the target's hardware abstraction layer.
type Driver interface {
	Read(p uint8) (uint8, error)
	Write(p uint8, value uint8) error
}

// simPins is how many pins the simulated driver exposes.
const simPins = 64

// Sim is an in-memory pin bank for simulated targets and tests. Writes are
// clamped to Low/High the way digitalWrite treats any nonzero value as high.
type Sim struct {
	mu     sync.Mutex
	levels [simPins]uint8
}

// NewSim returns a bank with all pins low.
func NewSim() *Sim { return &Sim{} }

// Read returns the level of pin p.
func (s *Sim) Read(p uint8) (uint8, error) {
	if int(p) >= simPins {
		return 0, fmt.Errorf("pin: no pin %d", p)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[p], nil
}

// Write sets the level of pin p.
func (s *Sim) Write(p uint8, value uint8) error {
	if int(p) >= simPins {
		return fmt.Errorf("pin: no pin %d", p)
	}
	if value != Low {
		value = High
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels[p] = value
	return nil
}
