package guest

import (
	"strconv"

	"kiln/internal/exitcode"
)

// Test is a single in-kernel test case.
type Test struct {
	Name string
	Fn   func()
}

// RunTests runs tests in order and signals Success once all of them have
// returned. A failing test calls Fail, which never returns on real hardware.
func RunTests(tests ...Test) {
	report("running " + strconv.Itoa(len(tests)) + " tests")
	for _, t := range tests {
		report(t.Name + "...")
		t.Fn()
		if signaled {
			return
		}
		report("[ok]")
	}

	Exit(exitcode.Success)
}

// Fail aborts the test run with msg.
func Fail(msg string) {
	Panic(&Error{Module: "test", Message: msg})
}

// Assert calls Fail with msg when cond is false.
func Assert(cond bool, msg string) {
	if !cond {
		Fail(msg)
	}
}
