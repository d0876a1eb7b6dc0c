package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"koradctl/korad"
)

// csvLogger appends one row per sample to a CSV file. It is a plain logging
// collaborator: it never influences the charge state machine.
type csvLogger struct {
	file   *os.File
	writer *csv.Writer
}

var csvHeader = []string{"time", "voltage", "current", "power", "output", "phase"}

// newCSVLogger creates (truncating) the output file and writes the header.
func newCSVLogger(path string) (*csvLogger, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	l := &csvLogger{file: file, writer: csv.NewWriter(file)}
	if err := l.writer.Write(csvHeader); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("write log header: %w", err)
	}
	l.writer.Flush()
	return l, l.writer.Error()
}

// Log appends one sample row and flushes it, so a crash mid-charge keeps
// everything logged so far.
func (l *csvLogger) Log(r korad.Reading, phase string) error {
	if phase == "" {
		phase = "-"
	}
	output := "off"
	if r.OutputEnabled {
		output = "on"
	}
	row := []string{
		r.CapturedAt.Format(time.RFC3339),
		fmt.Sprintf("%.3f", r.Voltage),
		fmt.Sprintf("%.3f", r.Current),
		fmt.Sprintf("%.3f", r.Power()),
		output,
		phase,
	}
	if err := l.writer.Write(row); err != nil {
		return err
	}
	l.writer.Flush()
	return l.writer.Error()
}

func (l *csvLogger) Close() error {
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}
