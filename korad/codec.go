// Package korad speaks the ASCII serial protocol of Korad KA-series bench
// power supplies and provides a CC/CV battery charge controller on top of it.
//
// Protocol reference: https://sigrok.org/wiki/Korad_KAxxxxP_series#Protocol
package korad

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// DeviceLimits are the rated setpoint ceilings of a supply. Every setpoint
// command is validated against them before any bytes hit the wire.
type DeviceLimits struct {
	MaxVoltage float64
	MaxCurrent float64
}

// DefaultLimits are the rated limits of the KA3005P.
var DefaultLimits = DeviceLimits{MaxVoltage: 30.0, MaxCurrent: 5.0}

// Reading is one measurement snapshot taken from the supply.
type Reading struct {
	Voltage       float64
	Current       float64
	OutputEnabled bool
	CapturedAt    time.Time
}

// Power returns the measured output power in watts.
func (r Reading) Power() float64 {
	return r.Voltage * r.Current
}

type commandKind int

const (
	cmdSetVoltage commandKind = iota
	cmdSetCurrent
	cmdQueryVoltage
	cmdQueryCurrent
	cmdQuerySetVoltage
	cmdQuerySetCurrent
	cmdEnableOutput
	cmdDisableOutput
	cmdSetOVP
	cmdSetOCP
	cmdSaveMemory
	cmdRecallMemory
	cmdQueryStatus
	cmdQueryModel
)

// Response framing per command. Setpoint and switch commands get no reply,
// measurements are a fixed 5-byte field, STATUS? is a single byte and *IDN?
// is a variable-length string with no terminator.
const (
	respNone     = -1
	respVariable = 0
	respStatus   = 1
)

// measurementWidth is the fixed width of a %05.2f measurement field.
const measurementWidth = 5

// Command is a single protocol operation. Build one with the constructor
// functions below; the zero value is not a valid command.
type Command struct {
	kind  commandKind
	value float64
	slot  int
}

// SetVoltage sets the channel 1 voltage setpoint.
func SetVoltage(volts float64) Command {
	return Command{kind: cmdSetVoltage, value: volts}
}

// SetCurrent sets the channel 1 current limit setpoint.
func SetCurrent(amps float64) Command {
	return Command{kind: cmdSetCurrent, value: amps}
}

// QueryVoltage reads the measured output voltage.
func QueryVoltage() Command { return Command{kind: cmdQueryVoltage} }

// QueryCurrent reads the measured output current.
func QueryCurrent() Command { return Command{kind: cmdQueryCurrent} }

// QuerySetVoltage reads back the programmed voltage setpoint.
func QuerySetVoltage() Command { return Command{kind: cmdQuerySetVoltage} }

// QuerySetCurrent reads back the programmed current setpoint.
func QuerySetCurrent() Command { return Command{kind: cmdQuerySetCurrent} }

// EnableOutput turns the output on.
func EnableOutput() Command { return Command{kind: cmdEnableOutput} }

// DisableOutput turns the output off.
func DisableOutput() Command { return Command{kind: cmdDisableOutput} }

// SetOVP switches overvoltage protection on or off.
func SetOVP(on bool) Command { return Command{kind: cmdSetOVP, slot: boolToSlot(on)} }

// SetOCP switches overcurrent protection on or off.
func SetOCP(on bool) Command { return Command{kind: cmdSetOCP, slot: boolToSlot(on)} }

// SaveMemory stores the current setpoints in memory slot n (1..5).
func SaveMemory(n int) Command { return Command{kind: cmdSaveMemory, slot: n} }

// RecallMemory loads the setpoints stored in memory slot n (1..5).
func RecallMemory(n int) Command { return Command{kind: cmdRecallMemory, slot: n} }

// QueryStatus reads the status byte.
func QueryStatus() Command { return Command{kind: cmdQueryStatus} }

// QueryModel reads the identity string.
func QueryModel() Command { return Command{kind: cmdQueryModel} }

func boolToSlot(on bool) int {
	if on {
		return 1
	}
	return 0
}

// String returns the wire form without the terminator, for logs and errors.
func (c Command) String() string {
	switch c.kind {
	case cmdSetVoltage:
		return fmt.Sprintf("VSET1:%05.2f", c.value)
	case cmdSetCurrent:
		return fmt.Sprintf("ISET1:%05.2f", c.value)
	case cmdQueryVoltage:
		return "VOUT1?"
	case cmdQueryCurrent:
		return "IOUT1?"
	case cmdQuerySetVoltage:
		return "VSET1?"
	case cmdQuerySetCurrent:
		return "ISET1?"
	case cmdEnableOutput:
		return "OUT1"
	case cmdDisableOutput:
		return "OUT0"
	case cmdSetOVP:
		return fmt.Sprintf("OVP%d", c.slot)
	case cmdSetOCP:
		return fmt.Sprintf("OCP%d", c.slot)
	case cmdSaveMemory:
		return fmt.Sprintf("SAV%d", c.slot)
	case cmdRecallMemory:
		return fmt.Sprintf("RCL%d", c.slot)
	case cmdQueryStatus:
		return "STATUS?"
	case cmdQueryModel:
		return "*IDN?"
	}
	return "INVALID"
}

// responseWidth returns the expected response size: respNone for commands
// without a reply, respVariable for *IDN?, otherwise a fixed byte count.
func (c Command) responseWidth() int {
	switch c.kind {
	case cmdQueryVoltage, cmdQueryCurrent, cmdQuerySetVoltage, cmdQuerySetCurrent:
		return measurementWidth
	case cmdQueryStatus:
		return respStatus
	case cmdQueryModel:
		return respVariable
	}
	return respNone
}

// validate checks numeric payloads against the device limits.
func (c Command) validate(limits DeviceLimits) error {
	switch c.kind {
	case cmdSetVoltage:
		if c.value < 0 || c.value > limits.MaxVoltage {
			return &OutOfRangeError{What: "voltage", Value: c.value, Max: limits.MaxVoltage}
		}
	case cmdSetCurrent:
		if c.value < 0 || c.value > limits.MaxCurrent {
			return &OutOfRangeError{What: "current", Value: c.value, Max: limits.MaxCurrent}
		}
	case cmdSaveMemory, cmdRecallMemory:
		if c.slot < 1 || c.slot > 5 {
			return &OutOfRangeError{What: "memory slot", Value: float64(c.slot), Min: 1, Max: 5}
		}
	}
	return nil
}

// Encode renders a command to wire bytes, newline terminated. Setpoints that
// violate limits fail with OutOfRangeError before anything is emitted, which
// also guarantees the fixed-width numeric fields never overflow.
func Encode(c Command, limits DeviceLimits) ([]byte, error) {
	if err := c.validate(limits); err != nil {
		return nil, err
	}
	return []byte(c.String() + "\n"), nil
}

// DecodeMeasurement parses a fixed-width %05.2f measurement field such as
// "03.30". It never touches I/O or the clock.
func DecodeMeasurement(resp []byte) (float64, error) {
	if len(resp) != measurementWidth {
		return 0, &ProtocolError{Reason: "bad length", Response: resp}
	}
	for i, b := range resp {
		if i == 2 {
			if b != '.' {
				return 0, &ProtocolError{Reason: "non-numeric", Response: resp}
			}
			continue
		}
		if b < '0' || b > '9' {
			return 0, &ProtocolError{Reason: "non-numeric", Response: resp}
		}
	}
	v, err := strconv.ParseFloat(string(resp), 64)
	if err != nil {
		return 0, &ProtocolError{Reason: "non-numeric", Response: resp}
	}
	return v, nil
}

// Status is the decoded STATUS? byte.
type Status struct {
	Ch1CV    bool // channel 1 in constant-voltage regulation (false = CC)
	Ch2CV    bool
	Tracking string // "independent", "series" or "parallel"
	Beep     bool
	Lock     bool
	OutputOn bool
}

// Mode returns "CV" or "CC" for channel 1.
func (s Status) Mode() string {
	if s.Ch1CV {
		return "CV"
	}
	return "CC"
}

// DecodeStatus parses the single status byte returned by STATUS?.
func DecodeStatus(resp []byte) (Status, error) {
	if len(resp) != respStatus {
		return Status{}, &ProtocolError{Reason: "bad length", Response: resp}
	}
	b := resp[0]
	tracking := "independent"
	switch (b >> 2) & 0x3 {
	case 0:
	case 0x3:
		tracking = "parallel"
	default:
		tracking = "series"
	}
	return Status{
		Ch1CV:    b&0x01 != 0,
		Ch2CV:    b&0x02 != 0,
		Tracking: tracking,
		Beep:     b&0x10 != 0,
		Lock:     b&0x20 != 0,
		OutputOn: b&0x40 != 0,
	}, nil
}

// Identity is the parsed *IDN? response.
type Identity struct {
	Model    string // e.g. "KA3005P"
	Firmware string
	Serial   string
}

var identityRe = regexp.MustCompile(`KORAD KA(\d+)P V(\d+\.?\d*) SN:(\d+)`)

// ParseIdentity parses an identity string like
// "KORAD KA3005P V2.0 SN:12345678".
func ParseIdentity(raw string) (Identity, error) {
	m := identityRe.FindStringSubmatch(raw)
	if m == nil {
		return Identity{}, &ProtocolError{Reason: "unrecognized identity", Response: []byte(raw)}
	}
	return Identity{Model: "KA" + m[1] + "P", Firmware: m[2], Serial: m[3]}, nil
}

var modelRe = regexp.MustCompile(`^KA(\d{2})(\d{2})P$`)

// Limits derives the rated limits from the model digits: KA3005P is a
// 30 V / 5 A unit, KA6003P is 60 V / 3 A. Reports false for model strings
// it cannot interpret.
func (id Identity) Limits() (DeviceLimits, bool) {
	m := modelRe.FindStringSubmatch(id.Model)
	if m == nil {
		return DeviceLimits{}, false
	}
	volts, _ := strconv.Atoi(m[1])
	amps, _ := strconv.Atoi(m[2])
	if volts == 0 || amps == 0 {
		return DeviceLimits{}, false
	}
	return DeviceLimits{MaxVoltage: float64(volts), MaxCurrent: float64(amps)}, true
}
