package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSetpointArg(t *testing.T) {
	v, err := parseSetpointArg([]string{"4.175"}, "volts")
	require.NoError(t, err)
	assert.InDelta(t, 4.175, v, 1e-9)

	for _, args := range [][]string{{}, {"abc"}, {"1", "2"}} {
		_, err := parseSetpointArg(args, "volts")
		assert.Error(t, err, "args %v", args)
	}
}

func TestParseOnOffArg(t *testing.T) {
	on, err := parseOnOffArg([]string{"on"}, "ovp")
	require.NoError(t, err)
	assert.True(t, on)

	on, err = parseOnOffArg([]string{"off"}, "ovp")
	require.NoError(t, err)
	assert.False(t, on)

	for _, args := range [][]string{{}, {"maybe"}, {"on", "off"}} {
		_, err := parseOnOffArg(args, "ovp")
		assert.Error(t, err, "args %v", args)
	}
}

func TestParseSlotArg(t *testing.T) {
	n, err := parseSlotArg([]string{"3"}, "save")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, args := range [][]string{{}, {"x"}} {
		_, err := parseSlotArg(args, "save")
		assert.Error(t, err, "args %v", args)
	}
}
