package korad

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"
)

// Transport carries bytes to and from the supply. Reads are expected to
// return quickly with whatever is available; zero-byte reads and io.EOF are
// treated as "no data yet" (serial ports with a read timeout behave this way).
type Transport interface {
	io.ReadWriteCloser
}

// SessionConfig tunes a Session. Zero values pick the defaults.
type SessionConfig struct {
	Timeout time.Duration // per-command response deadline, default 100ms
	Retries int           // extra attempts after a timeout, default 2
	Limits  DeviceLimits  // zero = DefaultLimits until Identify learns better
}

const (
	defaultTimeout = 100 * time.Millisecond
	defaultRetries = 2

	// pollGap paces the read loop when the transport returns no data, so a
	// non-blocking transport does not spin the CPU for the whole deadline.
	pollGap = 2 * time.Millisecond
)

// Session owns the transport exclusively and executes one command/response
// round trip at a time. The protocol is half-duplex and stateful, so a
// response always belongs to the immediately preceding request; the mutex
// serializes concurrent callers onto that discipline.
type Session struct {
	mu sync.Mutex

	port      Transport
	timeout   time.Duration
	retries   int
	limits    DeviceLimits
	ownLimits bool // true once limits came from config or Identify
	identity  *Identity
	closed    bool

	now func() time.Time
}

// NewSession wraps an open transport. The caller hands over ownership; the
// transport is closed by Session.Close.
func NewSession(t Transport, cfg SessionConfig) *Session {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retries < 1 {
		cfg.Retries = defaultRetries
	}
	s := &Session{
		port:    t,
		timeout: cfg.Timeout,
		retries: cfg.Retries,
		limits:  cfg.Limits,
		now:     time.Now,
	}
	if s.limits == (DeviceLimits{}) {
		s.limits = DefaultLimits
	} else {
		s.ownLimits = true
	}
	return s
}

// Limits returns the limits every setpoint is validated against.
func (s *Session) Limits() DeviceLimits {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limits
}

// Close releases the transport. Further calls fail with ErrSessionClosed.
// Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.port.Close()
}

// Execute runs one command/response round trip and returns the raw response
// bytes (nil for commands without a reply).
func (s *Session) Execute(cmd Command) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.execute(cmd)
}

// execute is Execute without the lock, for composite operations.
func (s *Session) execute(cmd Command) ([]byte, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	wire, err := Encode(cmd, s.limits)
	if err != nil {
		return nil, err // out of range: rejected before any I/O
	}

	attempts := s.retries + 1
	for attempt := 1; ; attempt++ {
		if _, err := s.port.Write(wire); err != nil {
			return nil, fmt.Errorf("write %s: %w", cmd, err)
		}
		resp, err := s.readResponse(cmd)
		var timeout *TimeoutError
		if errors.As(err, &timeout) {
			if attempt < attempts {
				continue
			}
			timeout.Attempts = attempt
			return nil, err
		}
		return resp, err
	}
}

// readResponse accumulates bytes until the expected width is reached or the
// deadline passes. Variable-width responses (*IDN?) return whatever arrived
// by the deadline and time out only when nothing arrived at all.
func (s *Session) readResponse(cmd Command) ([]byte, error) {
	want := cmd.responseWidth()
	if want == respNone {
		return nil, nil
	}

	deadline := s.now().Add(s.timeout)
	buf := make([]byte, 0, 64)
	chunk := make([]byte, 64)
	for {
		n, err := s.port.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if want > 0 && len(buf) >= want {
			// Anything past the expected width means the stream is out of
			// step; hand it all to the decoder, which will reject it.
			return buf, nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read %s: %w", cmd, err)
		}
		if !s.now().Before(deadline) {
			break
		}
		if n == 0 {
			time.Sleep(pollGap)
		}
	}
	if want == respVariable && len(buf) > 0 {
		return buf, nil
	}
	return nil, &TimeoutError{Command: cmd.String()}
}

// drain discards any stale bytes sitting in the receive buffer, so a reply
// left over from a previous process cannot pair with the first command.
func (s *Session) drain() {
	deadline := s.now().Add(s.timeout)
	chunk := make([]byte, 64)
	for s.now().Before(deadline) {
		n, err := s.port.Read(chunk)
		if n == 0 || err != nil {
			return
		}
	}
}

// SetVoltage programs the voltage setpoint.
func (s *Session) SetVoltage(volts float64) error {
	_, err := s.Execute(SetVoltage(volts))
	return err
}

// SetCurrent programs the current limit setpoint.
func (s *Session) SetCurrent(amps float64) error {
	_, err := s.Execute(SetCurrent(amps))
	return err
}

// EnableOutput turns the output on.
func (s *Session) EnableOutput() error {
	_, err := s.Execute(EnableOutput())
	return err
}

// DisableOutput turns the output off.
func (s *Session) DisableOutput() error {
	_, err := s.Execute(DisableOutput())
	return err
}

// SetOVP switches overvoltage protection.
func (s *Session) SetOVP(on bool) error {
	_, err := s.Execute(SetOVP(on))
	return err
}

// SetOCP switches overcurrent protection.
func (s *Session) SetOCP(on bool) error {
	_, err := s.Execute(SetOCP(on))
	return err
}

// SaveMemory stores the current setpoints in slot n (1..5).
func (s *Session) SaveMemory(n int) error {
	_, err := s.Execute(SaveMemory(n))
	return err
}

// RecallMemory loads the setpoints from slot n (1..5).
func (s *Session) RecallMemory(n int) error {
	_, err := s.Execute(RecallMemory(n))
	return err
}

// OutputVoltage reads the measured output voltage.
func (s *Session) OutputVoltage() (float64, error) {
	return s.measure(QueryVoltage())
}

// OutputCurrent reads the measured output current.
func (s *Session) OutputCurrent() (float64, error) {
	return s.measure(QueryCurrent())
}

// SetpointVoltage reads back the programmed voltage setpoint.
func (s *Session) SetpointVoltage() (float64, error) {
	return s.measure(QuerySetVoltage())
}

// SetpointCurrent reads back the programmed current setpoint.
func (s *Session) SetpointCurrent() (float64, error) {
	return s.measure(QuerySetCurrent())
}

func (s *Session) measure(cmd Command) (float64, error) {
	resp, err := s.Execute(cmd)
	if err != nil {
		return 0, err
	}
	return DecodeMeasurement(resp)
}

// Status reads and decodes the status byte.
func (s *Session) Status() (Status, error) {
	resp, err := s.Execute(QueryStatus())
	if err != nil {
		return Status{}, err
	}
	return DecodeStatus(resp)
}

// Reading takes one composite snapshot: status byte plus measured voltage and
// current. The three round trips run back to back under one lock so another
// caller cannot interleave.
func (s *Session) Reading() (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.execute(QueryStatus())
	if err != nil {
		return Reading{}, err
	}
	status, err := DecodeStatus(resp)
	if err != nil {
		return Reading{}, err
	}
	volts, err := s.measureLocked(QueryVoltage())
	if err != nil {
		return Reading{}, err
	}
	amps, err := s.measureLocked(QueryCurrent())
	if err != nil {
		return Reading{}, err
	}
	return Reading{
		Voltage:       volts,
		Current:       amps,
		OutputEnabled: status.OutputOn,
		CapturedAt:    s.now(),
	}, nil
}

func (s *Session) measureLocked(cmd Command) (float64, error) {
	resp, err := s.execute(cmd)
	if err != nil {
		return 0, err
	}
	return DecodeMeasurement(resp)
}

// Identify queries *IDN? and caches the parsed identity. When the session
// was built without explicit limits, the model-derived limits take effect
// for all later setpoint validation.
func (s *Session) Identify() (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity != nil {
		return *s.identity, nil
	}
	resp, err := s.execute(QueryModel())
	if err != nil {
		return Identity{}, err
	}
	id, err := ParseIdentity(string(resp))
	if err != nil {
		return Identity{}, err
	}
	s.identity = &id
	if !s.ownLimits {
		if limits, ok := id.Limits(); ok {
			s.limits = limits
			s.ownLimits = true
		}
	}
	return id, nil
}

// SlewVoltage ramps the voltage setpoint from its current value to target in
// steps evenly spread over duration.
func (s *Session) SlewVoltage(ctx context.Context, target float64, steps int, duration time.Duration) error {
	return s.slew(ctx, s.SetpointVoltage, s.SetVoltage, target, steps, duration)
}

// SlewCurrent ramps the current setpoint from its current value to target in
// steps evenly spread over duration.
func (s *Session) SlewCurrent(ctx context.Context, target float64, steps int, duration time.Duration) error {
	return s.slew(ctx, s.SetpointCurrent, s.SetCurrent, target, steps, duration)
}

func (s *Session) slew(
	ctx context.Context,
	read func() (float64, error),
	write func(float64) error,
	target float64,
	steps int,
	duration time.Duration,
) error {
	if steps < 1 {
		return fmt.Errorf("slew: steps must be >= 1, got %d", steps)
	}
	start, err := read()
	if err != nil {
		return err
	}

	incr := (target - start) / float64(steps)
	stepGap := duration / time.Duration(steps)
	v := start
	for i := 0; i < steps-1; i++ {
		v += incr
		v = math.Round(v*1000) / 1000
		if err := write(v); err != nil {
			return err
		}
		select {
		case <-time.After(stepGap):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return write(target)
}
