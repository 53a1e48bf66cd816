// Package guest runs inside the booted kernel and reports the outcome of a
// test run to the host by writing to the isa-debug-exit device.
//
// The device halts the virtual machine on the first write, so the package
// treats it as a one-shot channel: Exit writes at most once per boot and
// every path out of a test run, including the panic handler, ends in Exit.
//
// Kernels written in Go import this package. C kernels include kiln.h, which
// every freestanding primitive archive implements with the same semantics.
package guest

import (
	"kiln/internal/exitcode"
)

var (
	// portWriteDwordFn and cpuHaltFn are mocked by tests.
	portWriteDwordFn = portWriteDword
	cpuHaltFn        = halt

	signaled bool

	// Report receives progress and panic messages, typically a serial
	// console writer. Messages are dropped when it is nil.
	Report func(msg string)
)

// Exit writes code to the debug-exit port and halts the CPU. Only the first
// call performs the write; later calls just halt.
func Exit(code exitcode.Code) {
	if !signaled {
		signaled = true
		portWriteDwordFn(exitcode.Port, uint32(code))
	}

	// The device stops the machine synchronously; halt in case it has not.
	cpuHaltFn()
}

// Signaled reports whether a result code has already been written.
func Signaled() bool {
	return signaled
}

func report(msg string) {
	if Report != nil {
		Report(msg)
	}
}
