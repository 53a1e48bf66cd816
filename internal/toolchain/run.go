package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"kiln/internal/diag"
	"kiln/internal/trace"
)

// Command is a single tool invocation.
type Command struct {
	Stage      Stage
	Descriptor string
	Name       string
	Args       []string
	Dir        string
}

// Run executes cmd and converts a failure into a *BuildError carrying the
// parsed diagnostics. Stdout of the tool is discarded; stderr is captured.
func (tc *Toolchain) Run(ctx context.Context, cmd Command) error {
	if tc.PrintCommands && tc.Stdout != nil {
		if _, err := fmt.Fprintf(tc.Stdout, "%s %s\n", cmd.Name, strings.Join(cmd.Args, " ")); err != nil {
			return fmt.Errorf("failed to print command: %w", err)
		}
	}

	tool := filepath.Base(cmd.Name)
	span := trace.Begin(trace.FromContext(ctx), trace.ScopeCommand, tool, trace.CurrentSpan(ctx))
	// #nosec G204 -- tools come from Detect and arguments from the build configuration
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	var stderr bytes.Buffer
	c.Stderr = &stderr
	err := c.Run()
	if err == nil {
		span.End("ok")
		return nil
	}
	span.End("failed")

	argv := append([]string{cmd.Name}, cmd.Args...)
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return &BuildError{Stage: cmd.Stage, Descriptor: cmd.Descriptor, Command: argv, Diagnostics: diag.NewBag(0), Err: err}
	}
	bag := diag.Parse(tool, stderr.Bytes())
	bag.Dedup()
	return &BuildError{
		Stage:       cmd.Stage,
		Descriptor:  cmd.Descriptor,
		Command:     argv,
		Diagnostics: bag,
		Stderr:      stderr.String(),
		Err:         err,
	}
}

// Compile runs the C compiler on src producing obj.
func (tc *Toolchain) Compile(ctx context.Context, stage Stage, descriptor string, flags []string, src, obj string) error {
	args := make([]string, 0, len(flags)+4)
	args = append(args, "-c")
	args = append(args, flags...)
	args = append(args, src, "-o", obj)
	return tc.Run(ctx, Command{Stage: stage, Descriptor: descriptor, Name: tc.CC, Args: args})
}

// Archive bundles objs into a static library at lib.
func (tc *Toolchain) Archive(ctx context.Context, stage Stage, descriptor, lib string, objs []string) error {
	args := append([]string{"rcs", lib}, objs...)
	return tc.Run(ctx, Command{Stage: stage, Descriptor: descriptor, Name: tc.Archiver, Args: args})
}
