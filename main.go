package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
)

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: koradctl <command> [options]

Commands:
  status [-json]                         read and print the supply status
  set [-v VOLTS] [-i AMPS] [-slew N,SEC] program setpoints, optionally ramped
  on | off                               enable / disable the output
  ovp on|off                             overvoltage protection
  ocp on|off                             overcurrent protection
  save N | recall N                      store / load setpoint memory (1..5)
  charge -capacity AH [options]          run a CC/CV battery charge
  log [-rate HZ] [-duration SEC] [-o F]  sample to a CSV file
  clock                                  display the time of day on the panel
  shell                                  interactive control shell

Connection comes from the environment (or .env): KORAD_PORT, KORAD_BAUD,
KORAD_TIMEOUT_MS, KORAD_RETRIES, KORAD_SAMPLE_INTERVAL_S. Set MQTT_BROKER
(plus MQTT_USERNAME / MQTT_PASSWORD) to publish charge telemetry.`)
}

func main() {
	log.SetFlags(0)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	command := os.Args[1]
	args := os.Args[2:]

	if command == "help" || command == "-h" || command == "--help" {
		usage()
		return
	}

	cfg := LoadConfig()

	// Cancellation is cooperative throughout: SIGINT/SIGTERM cancel the
	// context and each loop winds down after its current round trip.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("\nInterrupted, shutting down...")
		cancel()
	}()

	var err error
	switch command {
	case "status":
		err = runStatus(cfg, args)
	case "set":
		err = runSet(ctx, cfg, args)
	case "on":
		err = runOutput(cfg, true)
	case "off":
		err = runOutput(cfg, false)
	case "ovp":
		err = runProtection(cfg, command, args)
	case "ocp":
		err = runProtection(cfg, command, args)
	case "save", "recall":
		err = runMemory(cfg, command, args)
	case "charge":
		err = runCharge(ctx, cancel, cfg, args)
	case "log":
		err = runLog(ctx, cfg, args)
	case "clock":
		err = runClock(ctx, cfg)
	case "shell":
		err = runShell(ctx, cancel, cfg)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatalf("koradctl %s: %v", command, err)
	}
}

// runOutput switches the output on or off.
func runOutput(cfg Config, on bool) error {
	session, err := cfg.Connect()
	if err != nil {
		return err
	}
	defer session.Close()

	if on {
		return session.EnableOutput()
	}
	return session.DisableOutput()
}

// runProtection switches OVP or OCP.
func runProtection(cfg Config, kind string, args []string) error {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return fmt.Errorf("usage: koradctl %s on|off", kind)
	}
	session, err := cfg.Connect()
	if err != nil {
		return err
	}
	defer session.Close()

	on := args[0] == "on"
	if kind == "ovp" {
		return session.SetOVP(on)
	}
	return session.SetOCP(on)
}

// runMemory stores or recalls a setpoint memory slot.
func runMemory(cfg Config, kind string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: koradctl %s N  (N in 1..5)", kind)
	}
	slot, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("usage: koradctl %s N  (N in 1..5)", kind)
	}
	session, err := cfg.Connect()
	if err != nil {
		return err
	}
	defer session.Close()

	if kind == "save" {
		return session.SaveMemory(slot)
	}
	return session.RecallMemory(slot)
}
