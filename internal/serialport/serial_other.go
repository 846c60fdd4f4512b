//go:build !linux && !darwin

package serialport

import "fmt"

func open(device string, baud int) (*Port, error) {
	return nil, fmt.Errorf("serialport: %s: serial devices are not supported on this platform", device)
}
