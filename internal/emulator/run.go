package emulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/charmbracelet/x/ansi"

	"kiln/internal/bootimage"
	"kiln/internal/exitcode"
	"kiln/internal/trace"
)

// waitDelay bounds how long Wait blocks on output pipes after the process
// group was killed.
const waitDelay = 5 * time.Second

// Run boots img and waits until the emulator exits or the timeout passes.
// On timeout the whole process group is killed and the result is Hung; a
// deadline on ctx that expires first counts the same. Cancelling ctx aborts
// the run and returns context.Canceled.
func (c Config) Run(ctx context.Context, img bootimage.Image) (Result, error) {
	c = c.withDefaults()
	if _, err := os.Stat(img.Path); err != nil {
		return Result{}, fmt.Errorf("boot image: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	span := trace.Begin(trace.FromContext(ctx), trace.ScopeCommand, filepath.Base(c.Binary), trace.CurrentSpan(ctx))

	// #nosec G204 -- emulator binary and arguments come from the test configuration
	cmd := exec.CommandContext(runCtx, c.Binary, c.Args(img)...)
	cmd.Env = append(os.Environ(), c.Env...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = waitDelay

	serial := newTail(tailSize)
	stderr := newTail(tailSize)
	if c.Serial != nil {
		cmd.Stdout = io.MultiWriter(c.Serial, serial)
	} else {
		cmd.Stdout = serial
	}
	cmd.Stderr = stderr

	started := time.Now()
	if err := cmd.Start(); err != nil {
		span.End("launch failed")
		return Result{}, &LaunchError{Binary: c.Binary, Err: err}
	}
	waitErr := cmd.Wait()
	elapsed := time.Since(started)

	res := Result{
		Elapsed:    elapsed,
		SerialTail: ansi.Strip(serial.String()),
		StderrTail: ansi.Strip(stderr.String()),
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		span.End("cancelled")
		return res, ctx.Err()
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		res.Status = 0
	case errors.As(waitErr, &exitErr):
		res.Status = exitErr.ExitCode()
	case errors.Is(waitErr, exec.ErrWaitDelay) && cmd.ProcessState != nil:
		res.Status = cmd.ProcessState.ExitCode()
	default:
		res.Status = -1
	}

	// A status that arrived before the kill still counts.
	if res.Status < 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.Outcome = exitcode.Hung
		span.End(res.Outcome.String())
		return res, nil
	}
	if res.Status < 0 {
		if exitErr == nil {
			span.End("wait failed")
			return res, &LaunchError{Binary: c.Binary, Err: waitErr}
		}
		// Killed by a signal nobody sent on purpose: the guest never signalled.
		res.Outcome = exitcode.Fail
		span.End(res.Outcome.String())
		return res, nil
	}
	res.Outcome, res.Code, res.Decoded = exitcode.Classify(res.Status)
	span.WithExtra("status", fmt.Sprint(res.Status)).End(res.Outcome.String())
	return res, nil
}
