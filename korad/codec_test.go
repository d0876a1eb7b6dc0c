package korad

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWireForms(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		wire string
	}{
		{"set voltage pads to width", SetVoltage(3.3), "VSET1:03.30\n"},
		{"set voltage full width", SetVoltage(12.34), "VSET1:12.34\n"},
		{"set current", SetCurrent(1.25), "ISET1:01.25\n"},
		{"set current zero", SetCurrent(0), "ISET1:00.00\n"},
		{"query voltage", QueryVoltage(), "VOUT1?\n"},
		{"query current", QueryCurrent(), "IOUT1?\n"},
		{"query voltage setpoint", QuerySetVoltage(), "VSET1?\n"},
		{"query current setpoint", QuerySetCurrent(), "ISET1?\n"},
		{"enable output", EnableOutput(), "OUT1\n"},
		{"disable output", DisableOutput(), "OUT0\n"},
		{"ovp on", SetOVP(true), "OVP1\n"},
		{"ovp off", SetOVP(false), "OVP0\n"},
		{"ocp on", SetOCP(true), "OCP1\n"},
		{"save memory", SaveMemory(3), "SAV3\n"},
		{"recall memory", RecallMemory(5), "RCL5\n"},
		{"query status", QueryStatus(), "STATUS?\n"},
		{"query model", QueryModel(), "*IDN?\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire, err := Encode(tt.cmd, DefaultLimits)
			require.NoError(t, err)
			assert.Equal(t, tt.wire, string(wire))
		})
	}
}

func TestEncodeRejectsOutOfRange(t *testing.T) {
	limits := DeviceLimits{MaxVoltage: 30, MaxCurrent: 5}

	tests := []struct {
		name string
		cmd  Command
	}{
		{"voltage above max", SetVoltage(30.01)},
		{"voltage negative", SetVoltage(-0.01)},
		{"current above max", SetCurrent(5.5)},
		{"current negative", SetCurrent(-1)},
		{"memory slot zero", SaveMemory(0)},
		{"memory slot six", RecallMemory(6)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire, err := Encode(tt.cmd, limits)
			assert.Nil(t, wire)
			var oor *OutOfRangeError
			assert.ErrorAs(t, err, &oor)
		})
	}
}

func TestEncodeAcceptsBoundaryValues(t *testing.T) {
	limits := DeviceLimits{MaxVoltage: 30, MaxCurrent: 5}

	for _, cmd := range []Command{SetVoltage(0), SetVoltage(30), SetCurrent(0), SetCurrent(5)} {
		_, err := Encode(cmd, limits)
		assert.NoError(t, err, "%s should be in range", cmd)
	}
}

func TestDecodeMeasurementRoundTrip(t *testing.T) {
	// Every representable value at 0.01 resolution survives the wire format.
	for cents := 0; cents <= 3000; cents++ {
		v := float64(cents) / 100
		wire := fmt.Sprintf("%05.2f", v)
		got, err := DecodeMeasurement([]byte(wire))
		require.NoError(t, err, "wire %q", wire)
		assert.InDelta(t, v, got, 0.005, "wire %q", wire)
	}
}

func TestDecodeMeasurementMalformed(t *testing.T) {
	tests := []struct {
		name   string
		resp   string
		reason string
	}{
		{"empty", "", "bad length"},
		{"too short", "3.30", "bad length"},
		{"too long", "03.300", "bad length"},
		{"letters", "ab.cd", "non-numeric"},
		{"negative sign", "-3.30", "non-numeric"},
		{"misplaced dot", "033.0", "non-numeric"},
		{"no dot", "03330", "non-numeric"},
		{"embedded space", "0 .30", "non-numeric"},
		{"trailing newline", "03.3\n", "non-numeric"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMeasurement([]byte(tt.resp))
			var perr *ProtocolError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.reason, perr.Reason)
		})
	}
}

func TestDecodeStatus(t *testing.T) {
	tests := []struct {
		name string
		b    byte
		want Status
	}{
		{
			"all clear is CC independent",
			0x00,
			Status{Tracking: "independent"},
		},
		{
			"output on in CV",
			0x41,
			Status{Ch1CV: true, Tracking: "independent", OutputOn: true},
		},
		{
			"parallel tracking with beep",
			0x1C,
			Status{Tracking: "parallel", Beep: true},
		},
		{
			"series tracking locked",
			0x24,
			Status{Tracking: "series", Lock: true},
		},
		{
			"both channels CV",
			0x03,
			Status{Ch1CV: true, Ch2CV: true, Tracking: "independent"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeStatus([]byte{tt.b})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeStatusBadLength(t *testing.T) {
	for _, resp := range [][]byte{nil, {}, {0x41, 0x00}} {
		_, err := DecodeStatus(resp)
		var perr *ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "bad length", perr.Reason)
	}
}

func TestStatusMode(t *testing.T) {
	assert.Equal(t, "CC", Status{}.Mode())
	assert.Equal(t, "CV", Status{Ch1CV: true}.Mode())
}

func TestParseIdentity(t *testing.T) {
	id, err := ParseIdentity("KORAD KA3005P V2.0 SN:12345678")
	require.NoError(t, err)
	assert.Equal(t, Identity{Model: "KA3005P", Firmware: "2.0", Serial: "12345678"}, id)

	limits, ok := id.Limits()
	require.True(t, ok)
	assert.Equal(t, DeviceLimits{MaxVoltage: 30, MaxCurrent: 5}, limits)
}

func TestParseIdentityOtherModel(t *testing.T) {
	id, err := ParseIdentity("KORAD KA6003P V5.1 SN:001")
	require.NoError(t, err)
	assert.Equal(t, "KA6003P", id.Model)

	limits, ok := id.Limits()
	require.True(t, ok)
	assert.Equal(t, DeviceLimits{MaxVoltage: 60, MaxCurrent: 3}, limits)
}

func TestParseIdentityUnrecognized(t *testing.T) {
	for _, raw := range []string{"", "garbage", "TENMA 72-2540 V2.0"} {
		_, err := ParseIdentity(raw)
		var perr *ProtocolError
		assert.ErrorAs(t, err, &perr, "raw %q", raw)
	}
}

func TestReadingPower(t *testing.T) {
	r := Reading{Voltage: 12.0, Current: 1.5}
	assert.InDelta(t, 18.0, r.Power(), 1e-9)
}
