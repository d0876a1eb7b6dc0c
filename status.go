package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"koradctl/korad"
)

// statusSnapshot is everything the status command reports.
type statusSnapshot struct {
	Model     string    `json:"model"`
	Firmware  string    `json:"firmware"`
	Serial    string    `json:"serial"`
	SetVolts  float64   `json:"set_volts"`
	SetAmps   float64   `json:"set_amps"`
	OutVolts  float64   `json:"out_volts"`
	OutAmps   float64   `json:"out_amps"`
	OutWatts  float64   `json:"out_watts"`
	Mode      string    `json:"mode"`
	Tracking  string    `json:"tracking"`
	OutputOn  bool      `json:"output_on"`
	Beep      bool      `json:"beep"`
	Lock      bool      `json:"lock"`
	Timestamp time.Time `json:"timestamp"`
}

func collectStatus(session *korad.Session) (statusSnapshot, error) {
	id, err := session.Identify()
	if err != nil {
		return statusSnapshot{}, err
	}
	status, err := session.Status()
	if err != nil {
		return statusSnapshot{}, err
	}
	setVolts, err := session.SetpointVoltage()
	if err != nil {
		return statusSnapshot{}, err
	}
	setAmps, err := session.SetpointCurrent()
	if err != nil {
		return statusSnapshot{}, err
	}
	outVolts, err := session.OutputVoltage()
	if err != nil {
		return statusSnapshot{}, err
	}
	outAmps, err := session.OutputCurrent()
	if err != nil {
		return statusSnapshot{}, err
	}

	return statusSnapshot{
		Model:     id.Model,
		Firmware:  id.Firmware,
		Serial:    id.Serial,
		SetVolts:  setVolts,
		SetAmps:   setAmps,
		OutVolts:  outVolts,
		OutAmps:   outAmps,
		OutWatts:  outVolts * outAmps,
		Mode:      status.Mode(),
		Tracking:  status.Tracking,
		OutputOn:  status.OutputOn,
		Beep:      status.Beep,
		Lock:      status.Lock,
		Timestamp: time.Now(),
	}, nil
}

func (s statusSnapshot) Print() {
	onoff := "OFF"
	if s.OutputOn {
		onoff = "ON"
	}
	fmt.Printf("Hardware : Model %s / FW Ver %s / Serial# %s\n", s.Model, s.Firmware, s.Serial)
	fmt.Printf("Set      : %.2f V, %.3f A\n", s.SetVolts, s.SetAmps)
	fmt.Printf("Meas     : %.2f V, %.3f A, %.2f W\n", s.OutVolts, s.OutAmps, s.OutWatts)
	fmt.Printf("Status   : Output %s, Mode %s\n", onoff, s.Mode)
}

// runStatus reads and prints the full device status.
func runStatus(cfg Config, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "print status as a JSON blob")
	if err := fs.Parse(args); err != nil {
		return err
	}

	session, err := cfg.Connect()
	if err != nil {
		return err
	}
	defer session.Close()

	snapshot, err := collectStatus(session)
	if err != nil {
		return err
	}
	if *asJSON {
		blob, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(blob))
		return nil
	}
	snapshot.Print()
	return nil
}

// runSet programs setpoints, optionally ramping to them.
func runSet(ctx context.Context, cfg Config, args []string) error {
	fs := flag.NewFlagSet("set", flag.ExitOnError)
	volts := fs.Float64("v", -1, "output voltage setpoint")
	amps := fs.Float64("i", -1, "output current limit setpoint")
	slew := fs.String("slew", "", "ramp as COUNT,SECONDS instead of stepping")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *volts < 0 && *amps < 0 {
		return fmt.Errorf("nothing to set: pass -v and/or -i")
	}

	steps, duration, err := parseSlew(*slew)
	if err != nil {
		return err
	}

	session, err := cfg.Connect()
	if err != nil {
		return err
	}
	defer session.Close()

	if *volts >= 0 {
		if steps > 0 {
			err = session.SlewVoltage(ctx, *volts, steps, duration)
		} else {
			err = session.SetVoltage(*volts)
		}
		if err != nil {
			return err
		}
	}
	if *amps >= 0 {
		if steps > 0 {
			err = session.SlewCurrent(ctx, *amps, steps, duration)
		} else {
			err = session.SetCurrent(*amps)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// parseSlew parses "COUNT,SECONDS"; empty means no slew.
func parseSlew(spec string) (steps int, duration time.Duration, err error) {
	if spec == "" {
		return 0, 0, nil
	}
	parts := strings.SplitN(spec, ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("slew wants COUNT,SECONDS, got %q", spec)
	}
	steps, err = strconv.Atoi(parts[0])
	if err != nil || steps < 1 {
		return 0, 0, fmt.Errorf("slew count must be a positive integer, got %q", parts[0])
	}
	seconds, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || seconds < 0 {
		return 0, 0, fmt.Errorf("slew seconds must be a non-negative number, got %q", parts[1])
	}
	return steps, time.Duration(seconds * float64(time.Second)), nil
}
