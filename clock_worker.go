package main

import (
	"context"
	"errors"
	"log"
	"time"

	"koradctl/korad"
)

// runClock turns the front panel into a clock: the voltage display shows
// HH.MM and the current display shows 0.SS. Output stays disabled the whole
// time, this is purely cosmetic.
func runClock(ctx context.Context, cfg Config) error {
	session, err := cfg.Connect()
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.DisableOutput(); err != nil {
		return err
	}
	log.Println("Showing the time. Ctrl+C to stop.")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		if err := showTime(session, time.Now()); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func showTime(session *korad.Session, now time.Time) error {
	volts := float64(now.Hour()) + float64(now.Minute())/100
	amps := float64(now.Second()) / 100
	if err := session.SetVoltage(volts); err != nil {
		return err
	}
	return session.SetCurrent(amps)
}
