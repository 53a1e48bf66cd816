package guest

import (
	"kiln/internal/exitcode"
)

// Error describes an unrecoverable kernel error.
type Error struct {
	// Module names the subsystem that raised the error.
	Module string
	// Message describes the error.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

var errRuntimePanic = &Error{Module: "rt", Message: "unknown cause"}

// Panic reports the supplied error (if not nil) and signals Failed to the
// host as its last action. Calls to Panic never return on real hardware.
func Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	if err != nil {
		report("[" + err.Module + "] unrecoverable error: " + err.Message)
	}
	report("*** kernel panic: system halted ***")

	Exit(exitcode.Failed)
}
