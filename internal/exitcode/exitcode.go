// Package exitcode defines the result codes a guest kernel writes to the
// isa-debug-exit device and the mapping QEMU applies before they reach the host.
package exitcode

import (
	"fmt"

	"fortio.org/safecast"
)

const (
	// Port is the I/O port the debug-exit device listens on.
	Port uint16 = 0xF4
	// IOSize is the access width of the device in bytes.
	IOSize = 0x04
)

// Code is a value written by the guest to Port.
type Code uint32

const (
	// Success reports that every guest test passed.
	Success Code = 0x10
	// Failed reports a failed assertion or a kernel panic.
	Failed Code = 0x11
)

func (c Code) String() string {
	switch c {
	case Success:
		return "success"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("code(%#x)", uint32(c))
	}
}

// Encode returns the emulator process exit status produced by writing c.
func Encode(c Code) int {
	return int(c)<<1 | 1
}

// Decode recovers the written code from an emulator exit status.
// ok is false when the status cannot have come from the device: the low bit
// is clear or the value does not fit the 32-bit register.
func Decode(status int) (code Code, ok bool) {
	if status&1 == 0 {
		return 0, false
	}
	v, err := safecast.Conv[uint32]((status - 1) >> 1)
	if err != nil {
		return 0, false
	}
	return Code(v), true
}

// Outcome is the host-side classification of a guest run.
type Outcome uint8

const (
	// Pass means the guest wrote Success.
	Pass Outcome = iota + 1
	// Fail means the guest wrote anything else or the emulator exited on its own.
	Fail
	// Hung means no exit was observed before the deadline.
	Hung
)

func (o Outcome) String() string {
	switch o {
	case Pass:
		return "PASS"
	case Fail:
		return "FAIL"
	case Hung:
		return "HUNG"
	default:
		return "UNKNOWN"
	}
}

// ParseOutcome converts "pass", "fail" or "hung" (any case) to an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	switch s {
	case "pass", "PASS", "Pass":
		return Pass, nil
	case "fail", "FAIL", "Fail":
		return Fail, nil
	case "hung", "HUNG", "Hung":
		return Hung, nil
	default:
		return 0, fmt.Errorf("invalid outcome %q (expected pass|fail|hung)", s)
	}
}

// Classify maps an emulator exit status to Pass or Fail. Only a status that
// decodes to Success passes; unexpected values are failures.
func Classify(status int) (Outcome, Code, bool) {
	code, ok := Decode(status)
	if ok && code == Success {
		return Pass, code, true
	}
	return Fail, code, ok
}
