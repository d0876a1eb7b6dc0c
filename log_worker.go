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

// runLog samples the supply at a fixed rate and appends each reading to a
// CSV file, the plain data-logger mode.
func runLog(ctx context.Context, cfg Config, args []string) error {
	defaultName := fmt.Sprintf("korad_data_%s.csv", time.Now().Format("20060102T150405"))

	fs := flag.NewFlagSet("log", flag.ExitOnError)
	rate := fs.Float64("rate", 1, "sample rate in Hz")
	duration := fs.Float64("duration", 300, "how long to run in seconds")
	output := fs.String("o", defaultName, "name of file to write")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *rate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %g", *rate)
	}

	session, err := cfg.Connect()
	if err != nil {
		return err
	}
	defer session.Close()

	logger, err := newCSVLogger(*output)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := logger.Close(); cerr != nil {
			log.Printf("Closing CSV log: %v\n", cerr)
		}
	}()

	log.Printf("Opened file: %s\n", *output)
	log.Printf("Sampling at %.2f Hz for %g seconds\n", *rate, *duration)

	end := time.Now().Add(time.Duration(*duration * float64(time.Second)))
	sampler := &korad.Sampler{
		Source:   session,
		Interval: time.Duration(float64(time.Second) / *rate),
	}
	err = sampler.Run(ctx, func(r korad.Reading) (bool, error) {
		if lerr := logger.Log(r, ""); lerr != nil {
			return false, lerr
		}
		return !time.Now().Before(end), nil
	})
	if errors.Is(err, context.Canceled) {
		log.Println("Stopped.")
		return nil
	}
	if err != nil {
		return err
	}
	log.Println("Done")
	return nil
}
