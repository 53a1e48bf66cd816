// Package target describes freestanding compilation targets.
//
// A Descriptor is a plain value: it is loaded once per build configuration,
// validated, and then consumed by the runtime primitive builder and the
// kernel compiler. Normalize returns the canonical copy those stages work on.
package target

import (
	"debug/elf"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// PanicStrategy selects how fatal errors are handled.
type PanicStrategy string

const (
	// PanicAbort terminates immediately without unwinding.
	PanicAbort PanicStrategy = "abort"
	// PanicUnwind unwinds stack frames during error propagation.
	PanicUnwind PanicStrategy = "unwind"
)

// Primitive names a runtime primitive the target supplies itself.
type Primitive string

const (
	// PrimBlockCopy provides memcpy and memmove.
	PrimBlockCopy Primitive = "block-copy"
	// PrimBlockSet provides memset.
	PrimBlockSet Primitive = "block-set"
	// PrimBlockCompare provides memcmp and bcmp.
	PrimBlockCompare Primitive = "block-compare"
	// PrimIntArith provides 128-bit division helpers.
	PrimIntArith Primitive = "int-arith"
	// PrimUnwind provides the personality routine and _Unwind_Resume.
	PrimUnwind Primitive = "unwind"
)

// KnownPrimitives lists every primitive the builder has sources for.
var KnownPrimitives = []Primitive{PrimBlockCompare, PrimBlockCopy, PrimBlockSet, PrimIntArith, PrimUnwind}

// DefaultPrimitives is used when a descriptor does not list any.
var DefaultPrimitives = []Primitive{PrimBlockCompare, PrimBlockCopy, PrimBlockSet, PrimIntArith}

// Hardware features that may be disabled until the kernel initializes them.
const (
	FeatureSIMD    = "simd"
	FeatureRedZone = "redzone"
	FeatureFPU     = "fpu"
)

var knownFeatures = []string{FeatureFPU, FeatureRedZone, FeatureSIMD}

// Descriptor is the declarative description of a compilation target.
type Descriptor struct {
	Name             string        `toml:"name" msgpack:"name"`
	Arch             string        `toml:"arch" msgpack:"arch"`
	PointerWidth     int           `toml:"pointer_width" msgpack:"pointer_width"`
	LLVMTarget       string        `toml:"llvm_target" msgpack:"llvm_target"`
	Features         []string      `toml:"features" msgpack:"features"`
	DisabledFeatures []string      `toml:"disabled_features" msgpack:"disabled_features"`
	Panic            PanicStrategy `toml:"panic" msgpack:"panic"`
	Primitives       []Primitive   `toml:"primitives" msgpack:"primitives"`
	Linker           string        `toml:"linker" msgpack:"linker"`
	CodeModel        string        `toml:"code_model" msgpack:"code_model"`
}

type archInfo struct {
	pointerWidth int
	machine      elf.Machine
	class        elf.Class
	emulator     string
}

var arches = map[string]archInfo{
	"x86_64":  {64, elf.EM_X86_64, elf.ELFCLASS64, "qemu-system-x86_64"},
	"i686":    {32, elf.EM_386, elf.ELFCLASS32, "qemu-system-i386"},
	"aarch64": {64, elf.EM_AARCH64, elf.ELFCLASS64, "qemu-system-aarch64"},
	"riscv64": {64, elf.EM_RISCV, elf.ELFCLASS64, "qemu-system-riscv64"},
}

var hostedOS = map[string]bool{
	"linux":   true,
	"darwin":  true,
	"macos":   true,
	"ios":     true,
	"windows": true,
	"freebsd": true,
	"netbsd":  true,
	"openbsd": true,
}

// Normalize returns a deep copy of d with defaults applied, the name in NFC,
// set-valued lists sorted and duplicates removed. Features keep their order
// since later LLVM feature flags override earlier ones; a repeated feature
// keeps only its last position.
func (d Descriptor) Normalize() Descriptor {
	out := d
	// Names derived from file names arrive decomposed on some filesystems.
	out.Name = norm.NFC.String(strings.TrimSpace(d.Name))
	out.Arch = strings.TrimSpace(d.Arch)
	out.LLVMTarget = strings.TrimSpace(d.LLVMTarget)
	out.Panic = PanicStrategy(strings.ToLower(strings.TrimSpace(string(d.Panic))))
	if out.PointerWidth == 0 {
		if info, ok := arches[out.Arch]; ok {
			out.PointerWidth = info.pointerWidth
		}
	}
	if out.Linker == "" {
		out.Linker = "ld.lld"
	}
	if out.CodeModel == "" && out.Arch == "x86_64" {
		out.CodeModel = "kernel"
	}

	out.Features = nil
	seen := make(map[string]struct{}, len(d.Features))
	for _, f := range slices.Backward(d.Features) {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out.Features = append(out.Features, f)
	}
	slices.Reverse(out.Features)

	out.DisabledFeatures = sortedSet(d.DisabledFeatures)

	prims := d.Primitives
	if prims == nil {
		prims = DefaultPrimitives
	}
	names := make([]string, len(prims))
	for i, p := range prims {
		names[i] = string(p)
	}
	out.Primitives = []Primitive{}
	for _, n := range sortedSet(names) {
		out.Primitives = append(out.Primitives, Primitive(n))
	}
	return out
}

func sortedSet(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// HasPrimitive reports whether d supplies p itself.
func (d Descriptor) HasPrimitive(p Primitive) bool {
	return slices.Contains(d.Normalize().Primitives, p)
}

// Disables reports whether feature is listed as disabled.
func (d Descriptor) Disables(feature string) bool {
	return slices.Contains(sortedSet(d.DisabledFeatures), feature)
}

// Hosted reports whether the triple names an operating system with its own
// runtime, in which case no primitives need rebuilding.
func (d Descriptor) Hosted() bool {
	parts := strings.Split(d.LLVMTarget, "-")
	if len(parts) < 3 {
		return false
	}
	osName := parts[2]
	for name := range hostedOS {
		if strings.HasPrefix(osName, name) {
			return true
		}
	}
	return false
}

// ELF returns the expected machine and class of binaries built for d.
func (d Descriptor) ELF() (elf.Machine, elf.Class, bool) {
	info, ok := arches[d.Arch]
	return info.machine, info.class, ok
}

// Emulator returns the QEMU system emulator matching d's architecture.
func (d Descriptor) Emulator() string {
	if info, ok := arches[d.Arch]; ok {
		return info.emulator
	}
	return ""
}

// CFlags returns the clang flags that compile freestanding code for d.
func (d Descriptor) CFlags() []string {
	n := d.Normalize()
	flags := []string{
		"--target=" + n.LLVMTarget,
		"-ffreestanding",
		"-fno-builtin",
		"-nostdlib",
		"-nostdinc",
		"-fno-stack-protector",
		"-fno-pic",
	}
	for _, f := range n.Features {
		flags = append(flags, "-Xclang", "-target-feature", "-Xclang", f)
	}
	for _, feature := range knownFeatures {
		if n.Disables(feature) {
			flags = append(flags, disabledFeatureFlags(n.Arch, feature)...)
		}
	}
	switch n.Panic {
	case PanicAbort:
		flags = append(flags, "-fno-exceptions", "-fno-unwind-tables", "-fno-asynchronous-unwind-tables")
	case PanicUnwind:
		flags = append(flags, "-funwind-tables")
	}
	if n.CodeModel != "" {
		flags = append(flags, "-mcmodel="+n.CodeModel)
	}
	return flags
}

func disabledFeatureFlags(arch, feature string) []string {
	switch arch {
	case "x86_64", "i686":
		switch feature {
		case FeatureSIMD:
			return []string{"-mno-mmx", "-mno-sse", "-mno-sse2", "-mno-avx"}
		case FeatureRedZone:
			return []string{"-mno-red-zone"}
		case FeatureFPU:
			return []string{"-msoft-float"}
		}
	case "aarch64":
		switch feature {
		case FeatureSIMD, FeatureFPU:
			return []string{"-mgeneral-regs-only"}
		}
	case "riscv64":
		if feature == FeatureFPU {
			return []string{"-mabi=lp64"}
		}
	}
	return nil
}
