package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"koradctl/korad"
)

// runCharge runs the autonomous CC/CV charge routine. Any fault leaves the
// output disabled and exits non-zero with the triggering cause.
func runCharge(ctx context.Context, cancel context.CancelFunc, cfg Config, args []string) error {
	fs := flag.NewFlagSet("charge", flag.ExitOnError)
	capacity := fs.Float64("capacity", 0, "battery capacity in Ah (required)")
	volts := fs.Float64("volts", 4.175, "CC/CV transition voltage")
	rate := fs.Float64("rate", 0.5, "max charge rate in C")
	cutoff := fs.Float64("cutoff", 0.02, "completion cutoff in C")
	maxTime := fs.Float64("max-time", 4, "maximum charge time in hours")
	debounce := fs.Int("debounce", 3, "consecutive low-current samples before completion")
	interval := fs.Duration("interval", time.Minute, "how often to check the charge")
	logFile := fs.String("log", "", "CSV file to log samples to")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *capacity <= 0 {
		return fmt.Errorf("charge needs -capacity (Ah)")
	}

	session, err := cfg.Connect()
	if err != nil {
		return err
	}
	defer session.Close()

	id, err := session.Identify()
	if err != nil {
		return err
	}

	plan := korad.ChargePlan{
		CapacityAh:    *capacity,
		TargetVoltage: *volts,
		ChargeRate:    *rate,
		CutoffRatio:   *cutoff,
		Debounce:      *debounce,
		MaxDuration:   time.Duration(*maxTime * float64(time.Hour)),
	}
	ctrl := korad.NewChargeController(session, plan, session.Limits())
	plan = ctrl.Plan()

	// Output stays off until the plan has been shown and the grace delay has
	// passed, so a wrongly wired battery can still be pulled.
	if err := session.DisableOutput(); err != nil {
		return err
	}

	log.Println("Plan:")
	log.Printf("     CC: charge at %.2f A until %.2f V\n", plan.ChargeCurrent(), plan.TargetVoltage)
	log.Printf("     CV: continue until current below %.2f A\n", plan.CutoffCurrent())
	log.Printf("                        or %s elapsed\n", plan.MaxDuration)

	var logger *csvLogger
	if *logFile != "" {
		log.Printf("     Logging to %s\n", *logFile)
		logger, err = newCSVLogger(*logFile)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := logger.Close(); cerr != nil {
				log.Printf("Closing CSV log: %v\n", cerr)
			}
		}()
	}

	sender := startTelemetry(ctx, cancel, cfg)
	deviceID := supplyDeviceID(id)
	if sender != nil {
		if err := sender.CreateChargerEntities(id); err != nil {
			log.Printf("MQTT discovery failed: %v\n", err)
		}
	}

	log.Println("Starting in 5s")
	select {
	case <-time.After(5 * time.Second):
	case <-ctx.Done():
		return fmt.Errorf("charge aborted before start")
	}
	log.Println("Starting.")

	if err := ctrl.Start(); err != nil {
		return err
	}

	sampler := &korad.Sampler{Source: session, Interval: *interval}
	runErr := sampler.Run(ctx, func(r korad.Reading) (bool, error) {
		phase, uerr := ctrl.Update(r)
		log.Printf("    %s %s %.3f V, %.3f A\n",
			r.CapturedAt.Format("2006-01-02T15:04:05"), phase, r.Voltage, r.Current)
		if logger != nil {
			if lerr := logger.Log(r, phase.String()); lerr != nil {
				log.Printf("CSV log failed: %v\n", lerr)
			}
		}
		if sender != nil {
			if perr := sender.PublishSample(deviceID, r, phase.String()); perr != nil {
				log.Printf("Telemetry publish failed: %v\n", perr)
			}
		}
		if uerr != nil {
			return false, uerr
		}
		return phase.Terminal(), nil
	})

	switch {
	case runErr == nil:
		log.Println("Charging complete.")
		return nil

	case errors.Is(runErr, context.Canceled):
		// User interrupt: best-effort disable, then exit non-zero.
		if derr := session.DisableOutput(); derr != nil {
			log.Printf("Failed to disable output: %v\n", derr)
		}
		return fmt.Errorf("charge interrupted, output disabled")

	default:
		var fault *korad.ChargeFaultError
		if errors.As(runErr, &fault) {
			// The controller already disabled the output on its way to Fault.
			return runErr
		}
		// Sampler round trip failed: fault the controller so the output is
		// disabled exactly once, and surface the wrapped cause.
		if ferr := ctrl.Fail(runErr); ferr != nil {
			return ferr
		}
		return runErr
	}
}
