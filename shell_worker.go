package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"koradctl/korad"
)

// readlineWriter wraps log output to work with readline
type readlineWriter struct {
	rl *readline.Instance
}

func (w *readlineWriter) Write(p []byte) (n int, err error) {
	if w.rl != nil {
		w.rl.Clean()
	}
	n, err = os.Stderr.Write(p)
	if w.rl != nil {
		w.rl.Refresh()
	}
	return n, err
}

// Global readline writer for log output
var rlWriter = &readlineWriter{}

// shellState holds the live session and the optional watch loop.
type shellState struct {
	session     *korad.Session
	cfg         Config
	rl          *readline.Instance
	watchCancel context.CancelFunc
}

// print outputs a line, handling the readline prompt properly
func (s *shellState) print(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if s.rl != nil {
		// Clean prompt, print, refresh prompt
		s.rl.Clean()
		fmt.Println(line)
		s.rl.Refresh()
	} else {
		fmt.Println(line)
	}
}

// startWatch begins printing one status row per interval until unwatch.
func (s *shellState) startWatch(ctx context.Context, interval time.Duration) {
	if s.watchCancel != nil {
		log.Println("Already watching (use 'unwatch' first)")
		return
	}
	watchCtx, cancel := context.WithCancel(ctx)
	s.watchCancel = cancel

	sampler := &korad.Sampler{Source: s.session, Interval: interval}
	go func() {
		err := sampler.Run(watchCtx, func(r korad.Reading) (bool, error) {
			onoff := "off"
			if r.OutputEnabled {
				onoff = "on"
			}
			s.print("%s  %6.3f V  %6.3f A  %6.2f W  output %s",
				r.CapturedAt.Format("15:04:05"), r.Voltage, r.Current, r.Power(), onoff)
			return false, nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Watch stopped: %v", err)
		}
	}()
	log.Printf("Watching every %s (use 'unwatch' to stop)", interval)
}

func (s *shellState) stopWatch() {
	if s.watchCancel == nil {
		log.Println("Not watching")
		return
	}
	s.watchCancel()
	s.watchCancel = nil
	log.Println("Watch stopped")
}

// parseSetpointArg parses the numeric argument of volts/curr.
func parseSetpointArg(args []string, what string) (float64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("usage: %s <value>", what)
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, fmt.Errorf("%s wants a number, got %q", what, args[0])
	}
	return v, nil
}

// parseOnOffArg parses the on/off argument of ovp/ocp.
func parseOnOffArg(args []string, what string) (bool, error) {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return false, fmt.Errorf("usage: %s on|off", what)
	}
	return args[0] == "on", nil
}

// parseSlotArg parses the memory slot argument of save/recall.
func parseSlotArg(args []string, what string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("usage: %s <1..5>", what)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("%s wants a slot number, got %q", what, args[0])
	}
	return n, nil
}

// handleShellCommand processes one shell command line
func handleShellCommand(ctx context.Context, cancel context.CancelFunc, state *shellState, cmd string) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}

	fail := func(err error) {
		if err != nil {
			log.Printf("Error: %v", err)
		}
	}

	switch parts[0] {
	case "status":
		snapshot, err := collectStatus(state.session)
		if err != nil {
			fail(err)
			return
		}
		snapshot.Print()

	case "volts":
		v, err := parseSetpointArg(parts[1:], "volts")
		if err != nil {
			fail(err)
			return
		}
		fail(state.session.SetVoltage(v))

	case "curr":
		v, err := parseSetpointArg(parts[1:], "curr")
		if err != nil {
			fail(err)
			return
		}
		fail(state.session.SetCurrent(v))

	case "on":
		fail(state.session.EnableOutput())

	case "off":
		fail(state.session.DisableOutput())

	case "ovp":
		on, err := parseOnOffArg(parts[1:], "ovp")
		if err != nil {
			fail(err)
			return
		}
		fail(state.session.SetOVP(on))

	case "ocp":
		on, err := parseOnOffArg(parts[1:], "ocp")
		if err != nil {
			fail(err)
			return
		}
		fail(state.session.SetOCP(on))

	case "save":
		n, err := parseSlotArg(parts[1:], "save")
		if err != nil {
			fail(err)
			return
		}
		fail(state.session.SaveMemory(n))

	case "recall":
		n, err := parseSlotArg(parts[1:], "recall")
		if err != nil {
			fail(err)
			return
		}
		fail(state.session.RecallMemory(n))

	case "watch":
		interval := state.cfg.SampleInterval
		if len(parts) > 1 {
			seconds, err := strconv.ParseFloat(parts[1], 64)
			if err != nil || seconds <= 0 {
				fail(fmt.Errorf("watch wants an interval in seconds, got %q", parts[1]))
				return
			}
			interval = time.Duration(seconds * float64(time.Second))
		}
		state.startWatch(ctx, interval)

	case "unwatch":
		state.stopWatch()

	case "help":
		fmt.Println("Commands:")
		fmt.Println("  status             - read and print the full status")
		fmt.Println("  volts <V>          - set the voltage setpoint")
		fmt.Println("  curr <A>           - set the current limit")
		fmt.Println("  on / off           - enable / disable the output")
		fmt.Println("  ovp on|off         - overvoltage protection")
		fmt.Println("  ocp on|off         - overcurrent protection")
		fmt.Println("  save <1..5>        - store setpoints in a memory slot")
		fmt.Println("  recall <1..5>      - load setpoints from a memory slot")
		fmt.Println("  watch [seconds]    - print a status row per interval")
		fmt.Println("  unwatch            - stop watching")
		fmt.Println("  quit               - leave the shell")

	case "quit", "exit":
		cancel()

	default:
		log.Printf("Unknown command: %s (try 'help')", parts[0])
	}
}

// readlineLoop runs the readline loop, sending commands to the channel
func readlineLoop(
	ctx context.Context,
	cancel context.CancelFunc,
	rl *readline.Instance,
	commandChan chan<- string,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			cancel() // Ctrl+C pressed, shutdown the shell
			return
		}
		if err != nil {
			cancel()
			return // EOF or other error
		}
		line = strings.TrimSpace(line)
		if line != "" {
			commandChan <- line
		}
	}
}

// getHistoryFilePath returns the path for shell history file
func getHistoryFilePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "" // No history if we can't find home
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	koradctlCache := filepath.Join(cacheDir, "koradctl")
	// Create directory if it doesn't exist
	_ = os.MkdirAll(koradctlCache, 0750)
	return filepath.Join(koradctlCache, "shell_history")
}

// runShell provides interactive control of the supply
func runShell(ctx context.Context, cancel context.CancelFunc, cfg Config) error {
	session, err := cfg.Connect()
	if err != nil {
		return err
	}
	defer session.Close()

	// Create readline instance with prompt and persistent history
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "korad> ",
		HistoryFile: getHistoryFilePath(),
	})
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	defer func() {
		_ = rl.Close()
		rlWriter.rl = nil // Clear readline reference on exit
	}()

	// Redirect log output through readline-aware writer
	rlWriter.rl = rl
	log.SetOutput(rlWriter)

	id, err := session.Identify()
	if err != nil {
		return err
	}
	log.Printf("Connected to %s (FW %s, SN %s). Type 'help' for commands.",
		id.Model, id.Firmware, id.Serial)

	commandChan := make(chan string, 10)
	state := &shellState{session: session, cfg: cfg, rl: rl}

	go readlineLoop(ctx, cancel, rl, commandChan)

	for {
		select {
		case cmd := <-commandChan:
			handleShellCommand(ctx, cancel, state, cmd)
		case <-ctx.Done():
			state.stopWatchQuiet()
			return nil
		}
	}
}

// stopWatchQuiet cancels a running watch without logging.
func (s *shellState) stopWatchQuiet() {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
}
