// Package serialport opens and configures the tty device that carries a
// debug session. The port is raw 8N1: the protocol is binary and any line
// discipline would corrupt it.
package serialport

import "os"

// DefaultBaud matches the stock firmware configuration.
const DefaultBaud = 9600

// Port is an open serial device.
type Port struct {
	f *os.File
}

// Open opens device at the given baud rate and puts it in raw mode.
func Open(device string, baud int) (*Port, error) {
	return open(device, baud)
}

// Read reads from the device.
func (p *Port) Read(b []byte) (int, error) { return p.f.Read(b) }

// Write writes to the device.
func (p *Port) Write(b []byte) (int, error) { return p.f.Write(b) }

// Close closes the device.
func (p *Port) Close() error { return p.f.Close() }
