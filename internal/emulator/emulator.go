// Package emulator boots images under QEMU and classifies how the guest
// ended: by the status it wrote to the debug-exit device, or by never
// signalling before the deadline.
package emulator

import (
	"fmt"
	"io"
	"time"

	"kiln/internal/bootimage"
	"kiln/internal/exitcode"
)

const (
	// DefaultBinary is the emulator used when Config.Binary is empty.
	DefaultBinary = "qemu-system-x86_64"
	// DefaultTimeout bounds a single guest run.
	DefaultTimeout = 300 * time.Second
	// tailSize is how much serial output Result keeps.
	tailSize = 4096
)

// Config describes how to launch the emulator.
type Config struct {
	Binary    string
	Machine   string
	Memory    string
	ExtraArgs []string
	// Env is appended to the current environment.
	Env     []string
	Timeout time.Duration
	// Serial receives the guest's serial output as it arrives.
	Serial io.Writer
}

// Result is the classified end of a run.
type Result struct {
	Outcome exitcode.Outcome
	// Status is the emulator's exit status; -1 when it was killed.
	Status int
	// Code is the value the guest wrote, valid when Decoded is set.
	Code    exitcode.Code
	Decoded bool
	Elapsed time.Duration
	// SerialTail is the end of the serial output with escape codes removed.
	SerialTail string
	// StderrTail is the end of the emulator's own diagnostics.
	StderrTail string
}

// String renders r the way the CLI prints it.
func (r Result) String() string {
	switch {
	case r.Outcome == exitcode.Hung:
		return fmt.Sprintf("%s (no exit after %s)", r.Outcome, r.Elapsed.Round(time.Millisecond))
	case r.Decoded:
		return fmt.Sprintf("%s (status %d, code %s)", r.Outcome, r.Status, r.Code)
	}
	return fmt.Sprintf("%s (status %d, not a guest signal)", r.Outcome, r.Status)
}

func (c Config) withDefaults() Config {
	if c.Binary == "" {
		c.Binary = DefaultBinary
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Args returns the emulator arguments that boot img with the debug-exit
// device attached.
func (c Config) Args(img bootimage.Image) []string {
	args := []string{
		"-device", fmt.Sprintf("isa-debug-exit,iobase=%#x,iosize=0x%02x", exitcode.Port, exitcode.IOSize),
		"-serial", "stdio",
		"-display", "none",
		"-no-reboot",
	}
	if c.Machine != "" {
		args = append(args, "-machine", c.Machine)
	}
	if c.Memory != "" {
		args = append(args, "-m", c.Memory)
	}
	switch img.Format {
	case bootimage.FormatKernel:
		args = append(args, "-kernel", img.Path)
	default:
		args = append(args, "-drive", "format=raw,file="+img.Path)
	}
	return append(args, c.ExtraArgs...)
}

// LaunchError reports that the emulator could not be started at all. It says
// nothing about the guest and is never a Fail or Hung outcome.
type LaunchError struct {
	Binary string
	Err    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch emulator %s: %v", e.Binary, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}
