package main

import (
	"errors"

	"kiln/internal/emulator"
	"kiln/internal/exitcode"
	"kiln/internal/target"
	"kiln/internal/toolchain"
)

// Process exit codes.
const (
	exitPass   = 0
	exitFail   = 1
	exitHung   = 2
	exitConfig = 3
)

// exitError carries an explicit exit code. A nil err means the command has
// already reported the problem.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func configError(err error) error {
	return &exitError{code: exitConfig, err: err}
}

// outcomeError maps a guest outcome to an exit code without a message.
func outcomeError(o exitcode.Outcome) error {
	switch o {
	case exitcode.Pass:
		return nil
	case exitcode.Hung:
		return &exitError{code: exitHung}
	default:
		return &exitError{code: exitFail}
	}
}

// exitCode chooses the process exit code for err. Launch and configuration
// problems use exitConfig so they cannot be mistaken for a failing guest.
func exitCode(err error) int {
	if err == nil {
		return exitPass
	}
	var (
		explicit  *exitError
		launchErr *emulator.LaunchError
		cfgErr    *target.ConfigurationError
		missing   *toolchain.MissingToolError
	)
	switch {
	case errors.As(err, &explicit):
		return explicit.code
	case errors.As(err, &launchErr), errors.As(err, &cfgErr), errors.As(err, &missing):
		return exitConfig
	}
	return exitFail
}
