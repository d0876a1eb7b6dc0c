package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSlew(t *testing.T) {
	steps, duration, err := parseSlew("")
	require.NoError(t, err)
	assert.Equal(t, 0, steps, "empty spec means no slew")
	assert.Equal(t, time.Duration(0), duration)

	steps, duration, err = parseSlew("20,5")
	require.NoError(t, err)
	assert.Equal(t, 20, steps)
	assert.Equal(t, 5*time.Second, duration)

	steps, duration, err = parseSlew("4,0.5")
	require.NoError(t, err)
	assert.Equal(t, 4, steps)
	assert.Equal(t, 500*time.Millisecond, duration)

	for _, spec := range []string{"20", "0,5", "-1,5", "x,5", "5,x", "5,-1"} {
		_, _, err := parseSlew(spec)
		assert.Error(t, err, "spec %q", spec)
	}
}
