package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"kiln/internal/project"
)

var initCmd = &cobra.Command{
	Use:   "init [path|name]",
	Short: "Initialize a new kernel project",
	Long: `Initialize a new kernel project by creating a manifest (kiln.toml), a
multiboot entry stub, a C kernel that reports its test verdict through
kiln.h and a linker script. Faults end in kiln_panic, which reports
failure to the debug-exit device. If [path|name] is omitted,
initializes the current directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

// scaffold lists the files init writes, relative to the project root.
var scaffold = []struct {
	path string
	body func(name string) string
}{
	{project.ManifestName, defaultManifest},
	{"src/boot.S", func(string) string { return defaultBootS }},
	{"src/main.c", func(string) string { return defaultMainC }},
	{"linker.ld", func(string) string { return defaultLinkerScript }},
}

// runInit resolves the project directory, refuses to overwrite an existing
// manifest and writes every scaffold file that does not exist yet.
func runInit(cmd *cobra.Command, args []string) error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	dir := wd
	if len(args) > 0 && args[0] != "." {
		dir = args[0]
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(wd, dir)
		}
	}

	if st, err := os.Stat(dir); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if err = os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory %q: %w", dir, err)
		}
	} else if !st.IsDir() {
		return fmt.Errorf("%q is not a directory", dir)
	}

	name := strings.TrimSpace(filepath.Base(dir))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "kernel"
	}

	manifestPath := filepath.Join(dir, project.ManifestName)
	if _, err := os.Stat(manifestPath); err == nil {
		return fmt.Errorf("project already initialized: %s exists", manifestPath)
	}

	out := cmd.OutOrStdout()
	rel := dir
	if r, err := filepath.Rel(wd, dir); err == nil {
		rel = r
	}
	fmt.Fprintf(out, "Initialized kiln project in %s\n", rel)
	for _, file := range scaffold {
		path := filepath.Join(dir, filepath.FromSlash(file.path))
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(out, "  - %s (existing)\n", file.path)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(file.body(name)), 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.path, err)
		}
		fmt.Fprintf(out, "  - %s\n", file.path)
	}
	return nil
}

// defaultManifest targets i686 so that QEMU can boot the kernel directly
// through its multiboot loader.
func defaultManifest(name string) string {
	return fmt.Sprintf(`[package]
name = %q

[target]
descriptor = "i686-kiln"

[kernel]
sources = ["src/boot.S", "src/main.c"]
linker_script = "linker.ld"
entry = "_start"
test_cflags = ["-DKILN_TEST"]

[boot]
stub = []

[test]
timeout = "60s"
qemu = "qemu-system-i386"
`, name)
}

const defaultBootS = `.set MB_MAGIC, 0x1BADB002
.set MB_FLAGS, 0x3

.section .multiboot
.align 4
.long MB_MAGIC
.long MB_FLAGS
.long -(MB_MAGIC + MB_FLAGS)

.section .bss
.align 16
stack_bottom:
.skip 16384
stack_top:

.section .text
.global _start
_start:
	mov $stack_top, %esp
	call kmain
	push $kmain_returned
	call kernel_fault
1:	cli
	hlt
	jmp 1b

.section .rodata
kmain_returned:
.asciz "kmain returned"
`

const defaultMainC = `#include "kiln.h"

/* kernel_fault is the last stop for anything the kernel cannot handle. */
void kernel_fault(const char *why)
{
	kiln_panic(why);
}

#ifdef KILN_TEST
static void run_tests(void)
{
	kiln_assert(1 + 1 == 2);
}
#endif

void kmain(void)
{
#ifdef KILN_TEST
	run_tests();
	kiln_exit(KILN_SUCCESS);
#endif
	for (;;)
		__asm__ volatile("hlt");
}
`

const defaultLinkerScript = `ENTRY(_start)

SECTIONS
{
	. = 1M;

	.text : ALIGN(4K)
	{
		KEEP(*(.multiboot))
		*(.text*)
	}
	.rodata : ALIGN(4K) { *(.rodata*) }
	.data : ALIGN(4K) { *(.data*) }
	.bss : ALIGN(4K)
	{
		*(COMMON)
		*(.bss*)
	}
}
`
