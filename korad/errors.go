package korad

import (
	"errors"
	"fmt"
)

// ErrSessionClosed is returned by every call made after Session.Close.
var ErrSessionClosed = errors.New("korad: session closed")

// OutOfRangeError reports a setpoint outside the device limits. It is
// returned before any I/O happens.
type OutOfRangeError struct {
	What     string // "voltage", "current", "memory slot"
	Value    float64
	Min, Max float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("korad: %s %g out of range [%g, %g]", e.What, e.Value, e.Min, e.Max)
}

// ProtocolError reports a malformed response. It is fatal for the command
// that produced it: retrying a framing error risks desynchronizing the
// half-duplex stream.
type ProtocolError struct {
	Reason   string // "bad length", "non-numeric", "unrecognized identity"
	Response []byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("korad: protocol error: %s (response %q)", e.Reason, e.Response)
}

// TimeoutError reports that the device produced no response within the
// configured timeout, after all retries were exhausted.
type TimeoutError struct {
	Command  string
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("korad: no response to %s after %d attempt(s)", e.Command, e.Attempts)
}

// ChargeFaultError reports that the charge controller entered the Fault
// state. Cause is the triggering condition; DisableErr is set when the
// best-effort output disable also failed (it is attempted exactly once).
type ChargeFaultError struct {
	Cause      error
	DisableErr error
}

func (e *ChargeFaultError) Error() string {
	if e.DisableErr != nil {
		return fmt.Sprintf("korad: charge fault: %v (output disable also failed: %v)", e.Cause, e.DisableErr)
	}
	return fmt.Sprintf("korad: charge fault: %v", e.Cause)
}

func (e *ChargeFaultError) Unwrap() error { return e.Cause }
