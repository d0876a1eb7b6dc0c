package korad

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves a scripted sequence of readings and errors.
type fakeSource struct {
	readings []Reading
	errs     []error
	calls    int
}

func (f *fakeSource) Reading() (Reading, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return Reading{}, f.errs[i]
	}
	if i < len(f.readings) {
		return f.readings[i], nil
	}
	return Reading{}, errors.New("fakeSource: script exhausted")
}

// testTicks returns a tick channel that fires immediately, n times.
func testTicks(n int) <-chan time.Time {
	ch := make(chan time.Time, n)
	for i := 0; i < n; i++ {
		ch <- time.Time{}
	}
	return ch
}

func TestSamplerForwardsUntilSinkDone(t *testing.T) {
	source := &fakeSource{readings: []Reading{
		{Voltage: 4.0, Current: 1.25},
		{Voltage: 4.1, Current: 1.20},
		{Voltage: 4.175, Current: 1.10},
	}}
	sampler := &Sampler{Source: source, Ticks: testTicks(3)}

	var seen []Reading
	err := sampler.Run(context.Background(), func(r Reading) (bool, error) {
		seen = append(seen, r)
		return len(seen) == 3, nil
	})

	require.NoError(t, err)
	assert.Equal(t, source.readings, seen)
	assert.Equal(t, 3, source.calls, "no extra poll after the sink reports done")
}

func TestSamplerPropagatesSourceError(t *testing.T) {
	cause := &TimeoutError{Command: "STATUS?", Attempts: 3}
	source := &fakeSource{
		readings: []Reading{{Voltage: 4.0}},
		errs:     []error{nil, cause},
	}
	sampler := &Sampler{Source: source, Ticks: testTicks(2)}

	samples := 0
	err := sampler.Run(context.Background(), func(Reading) (bool, error) {
		samples++
		return false, nil
	})

	assert.ErrorIs(t, err, cause, "session errors surface, never swallowed")
	assert.Equal(t, 1, samples)
}

func TestSamplerPropagatesSinkError(t *testing.T) {
	source := &fakeSource{readings: []Reading{{Voltage: 4.0}}}
	sampler := &Sampler{Source: source, Ticks: testTicks(1)}

	cause := errors.New("sink rejected reading")
	err := sampler.Run(context.Background(), func(Reading) (bool, error) {
		return false, cause
	})

	assert.ErrorIs(t, err, cause)
}

func TestSamplerStopsOnCancel(t *testing.T) {
	source := &fakeSource{readings: []Reading{{Voltage: 4.0}}}
	// No ticks ever fire; cancellation must release the wait.
	sampler := &Sampler{Source: source, Ticks: make(chan time.Time)}

	ctx, cancel := context.WithCancel(context.Background())
	err := sampler.Run(ctx, func(Reading) (bool, error) {
		cancel() // cancelled mid-iteration, observed at the next checkpoint
		return false, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, source.calls, "cancellation is checked between iterations")
}
