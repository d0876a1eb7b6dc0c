package korad

import (
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// DefaultBaud is the only rate the KA-series talks.
const DefaultBaud = 9600

// portReadSlice is the per-read timeout on the serial port. The session's
// own deadline loop governs the total wait, so individual reads stay short.
const portReadSlice = 20 * time.Millisecond

// Open opens the supply's serial port (8N1).
func Open(port string, baud int) (Transport, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	p, err := serial.OpenPort(&serial.Config{
		Name:        port,
		Baud:        baud,
		ReadTimeout: portReadSlice,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", port, err)
	}
	return p, nil
}

// Dial opens the serial port, drains any stale receive bytes and identifies
// the device, so the returned session carries model-derived limits. The
// session owns the port.
func Dial(port string, baud int, cfg SessionConfig) (*Session, error) {
	t, err := Open(port, baud)
	if err != nil {
		return nil, err
	}
	s := NewSession(t, cfg)
	s.mu.Lock()
	s.drain()
	s.mu.Unlock()
	if _, err := s.Identify(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("identify device on %s: %w", port, err)
	}
	return s, nil
}
