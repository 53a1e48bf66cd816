// Package toolchain locates and drives the external tools a kernel build
// needs: a cross-capable clang, ld.lld and an archiver.
package toolchain

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
)

const installHint = "install with: sudo apt-get update && sudo apt-get install -y clang llvm lld"

// Toolchain holds resolved tool paths.
type Toolchain struct {
	CC       string
	Linker   string
	Archiver string
	// LinkerPinned means Linker came from an override and wins over the
	// linker a descriptor names.
	LinkerPinned bool

	// PrintCommands echoes every command to Stdout before running it.
	PrintCommands bool
	Stdout        io.Writer
}

// Options overrides tool names. Empty fields fall back to the environment
// (KILN_CC, KILN_LD, KILN_AR) and then to the defaults.
type Options struct {
	CC       string
	Linker   string
	Archiver string
}

// Detect resolves every tool on PATH.
func Detect(opts Options) (*Toolchain, error) {
	cc, err := lookup(pick(opts.CC, os.Getenv("KILN_CC")), "clang")
	if err != nil {
		return nil, err
	}
	ldName := pick(opts.Linker, os.Getenv("KILN_LD"))
	ld, err := lookup(ldName, "ld.lld")
	if err != nil {
		return nil, err
	}
	ar, err := lookup(pick(opts.Archiver, os.Getenv("KILN_AR")), "llvm-ar", "ar")
	if err != nil {
		return nil, err
	}
	return &Toolchain{CC: cc, Linker: ld, Archiver: ar, LinkerPinned: ldName != "", Stdout: os.Stdout}, nil
}

// LinkerFor resolves the linker a descriptor asks for. An empty name, a
// pinned linker or a name matching the detected one returns tc.Linker.
func (tc *Toolchain) LinkerFor(name string) (string, error) {
	if name == "" || tc.LinkerPinned || name == tc.Linker || name == filepath.Base(tc.Linker) {
		return tc.Linker, nil
	}
	return lookup(name)
}

func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func lookup(explicit string, defaults ...string) (string, error) {
	candidates := defaults
	if explicit != "" {
		candidates = []string{explicit}
	}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", &MissingToolError{Tool: candidates[0]}
}

// MissingToolError reports a tool that is not installed.
type MissingToolError struct {
	Tool string
}

func (e *MissingToolError) Error() string {
	return fmt.Sprintf("%s not found; %s", e.Tool, installHint)
}
