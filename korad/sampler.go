package korad

import (
	"context"
	"time"
)

// ReadingSource produces one reading per call. *Session satisfies this.
type ReadingSource interface {
	Reading() (Reading, error)
}

// Sink consumes a reading. Returning done stops the sampler cleanly; an
// error stops it and propagates to the caller.
type Sink func(Reading) (done bool, err error)

// DefaultSampleInterval is how often the sampler polls when not configured.
const DefaultSampleInterval = time.Second

// Sampler polls a source at a fixed interval and forwards each reading to a
// sink. It applies no retry policy of its own: the session already retries
// per call, and anything it still reports is surfaced to the caller rather
// than swallowed.
type Sampler struct {
	Source   ReadingSource
	Interval time.Duration    // default DefaultSampleInterval
	Ticks    <-chan time.Time // test hook; nil means a real ticker at Interval
}

// Run samples until the sink reports done, an error occurs, or ctx is
// cancelled. Cancellation is cooperative: it is observed between iterations
// and never interrupts an in-flight round trip. The first sample is taken
// immediately.
func (s *Sampler) Run(ctx context.Context, sink Sink) error {
	ticks := s.Ticks
	if ticks == nil {
		interval := s.Interval
		if interval <= 0 {
			interval = DefaultSampleInterval
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for {
		r, err := s.Source.Reading()
		if err != nil {
			return err
		}
		done, err := sink(r)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticks:
		}
	}
}
