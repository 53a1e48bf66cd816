package target

import (
	"fmt"
	"slices"
	"strings"
)

// ConfigurationError reports a descriptor that cannot be built. It is fatal
// for the build configuration and never retried.
type ConfigurationError struct {
	Descriptor string
	Field      string
	Value      string
	Reason     string
}

func (e *ConfigurationError) Error() string {
	name := e.Descriptor
	if name == "" {
		name = "<unnamed>"
	}
	if e.Value == "" {
		return fmt.Sprintf("target %q: %s: %s", name, e.Field, e.Reason)
	}
	return fmt.Sprintf("target %q: %s %q: %s", name, e.Field, e.Value, e.Reason)
}

// Validate checks d for contradictions. It has no side effects.
func (d Descriptor) Validate() error {
	n := d.Normalize()
	fail := func(field, value, reason string) error {
		return &ConfigurationError{Descriptor: n.Name, Field: field, Value: value, Reason: reason}
	}

	if strings.TrimSpace(n.Name) == "" {
		return fail("name", "", "must not be empty")
	}
	info, ok := arches[n.Arch]
	if !ok {
		return fail("arch", n.Arch, "unsupported architecture (expected x86_64, i686, aarch64 or riscv64)")
	}
	if n.PointerWidth != info.pointerWidth {
		return fail("pointer_width", fmt.Sprint(n.PointerWidth), fmt.Sprintf("%s uses %d-bit pointers", n.Arch, info.pointerWidth))
	}
	if n.LLVMTarget == "" {
		return fail("llvm_target", "", "must not be empty")
	}
	if !strings.HasPrefix(n.LLVMTarget, n.Arch+"-") {
		return fail("llvm_target", n.LLVMTarget, fmt.Sprintf("does not match arch %s", n.Arch))
	}
	for _, f := range n.Features {
		if f[0] != '+' && f[0] != '-' {
			return fail("features", f, "must start with + or -")
		}
	}
	for _, feature := range n.DisabledFeatures {
		if !slices.Contains(knownFeatures, feature) {
			return fail("disabled_features", feature, "unknown hardware feature (expected simd, redzone or fpu)")
		}
	}
	for _, p := range n.Primitives {
		if !slices.Contains(KnownPrimitives, p) {
			return fail("primitives", string(p), "unknown runtime primitive")
		}
	}

	hasUnwind := slices.Contains(n.Primitives, PrimUnwind)
	switch n.Panic {
	case PanicAbort:
		if hasUnwind {
			return fail("primitives", string(PrimUnwind), "abort panic policy must not require unwinding support")
		}
	case PanicUnwind:
		if !hasUnwind {
			return fail("panic", string(n.Panic), "unwind panic policy requires the unwind primitive")
		}
	case "":
		return fail("panic", "", "must be abort or unwind")
	default:
		return fail("panic", string(n.Panic), "must be abort or unwind")
	}
	return nil
}
