package kernel

import (
	"debug/elf"
	"fmt"

	"kiln/internal/diag"
	"kiln/internal/target"
	"kiln/internal/toolchain"
)

// Verify checks that path is an executable ELF for d that defines entry, and
// returns the entry symbol's address. Failures are link-stage BuildErrors.
func Verify(path string, d target.Descriptor, entry string) (uint64, error) {
	fail := func(code diag.Code, format string, args ...any) error {
		bag := diag.NewBag(1)
		bag.Add(diag.Diagnostic{
			Severity: diag.SevError,
			Code:     code,
			Tool:     "kiln",
			Message:  fmt.Sprintf(format, args...),
			Primary:  diag.Position{File: path},
		})
		return &toolchain.BuildError{Stage: toolchain.StageLink, Descriptor: d.Name, Diagnostics: bag}
	}

	f, err := elf.Open(path)
	if err != nil {
		return 0, fail(diag.ImageNotExecutable, "not an ELF file: %v", err)
	}
	defer func() {
		_ = f.Close()
	}()

	machine, class, ok := d.ELF()
	if !ok {
		return 0, fail(diag.ImageWrongMachine, "unknown architecture %q", d.Arch)
	}
	if f.Machine != machine || f.Class != class {
		return 0, fail(diag.ImageWrongMachine, "built for %s/%s, target %s expects %s/%s", f.Machine, f.Class, d.Name, machine, class)
	}
	if f.Type != elf.ET_EXEC {
		return 0, fail(diag.ImageNotExecutable, "ELF type is %s, expected %s", f.Type, elf.ET_EXEC)
	}

	syms, err := f.Symbols()
	if err != nil {
		return 0, fail(diag.LinkUndefinedSymbol, "entry symbol %s not found: %v", entry, err)
	}
	for _, s := range syms {
		if s.Name == entry && s.Section != elf.SHN_UNDEF {
			return s.Value, nil
		}
	}
	return 0, fail(diag.LinkUndefinedSymbol, "entry symbol %s is not defined", entry)
}
