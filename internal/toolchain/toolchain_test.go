package toolchain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"kiln/internal/diag"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	path := filepath.Join(dir, name)
	// #nosec G306 -- test script must be executable
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o700); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunParsesDiagnostics(t *testing.T) {
	dir := t.TempDir()
	cc := writeScript(t, dir, "clang", `echo "main.c:4:2: error: unknown type name 'u8'" >&2
echo "main.c:4:2: error: unknown type name 'u8'" >&2
exit 1
`)
	tc := &Toolchain{CC: cc}
	err := tc.Compile(context.Background(), StageCompile, "x86_64-kiln", []string{"-O2"}, "main.c", "main.o")
	var buildErr *BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("expected BuildError; got %v", err)
	}
	if buildErr.Stage != StageCompile || buildErr.Descriptor != "x86_64-kiln" {
		t.Fatalf("unexpected error context %+v", buildErr)
	}
	if buildErr.Diagnostics.Len() != 1 {
		t.Fatalf("expected deduplicated diagnostics; got %d", buildErr.Diagnostics.Len())
	}
	first, _ := buildErr.Diagnostics.First()
	if first.Code != diag.CCError || first.Primary.Line != 4 {
		t.Fatalf("unexpected diagnostic %+v", first)
	}
	if !strings.Contains(err.Error(), "compile failed for target x86_64-kiln: main.c:4:2") {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if got := strings.Join(buildErr.Command, " "); got != cc+" -c -O2 main.c -o main.o" {
		t.Fatalf("unexpected command %q", got)
	}
}

func TestRunFallsBackToRawStderr(t *testing.T) {
	dir := t.TempDir()
	ar := writeScript(t, dir, "ar", "echo 'something odd happened' >&2\nexit 2\n")
	tc := &Toolchain{Archiver: ar}
	err := tc.Archive(context.Background(), StagePrimitives, "", "lib.a", []string{"a.o"})
	if err == nil || !strings.Contains(err.Error(), "primitives failed: something odd happened") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestRunMissingBinary(t *testing.T) {
	tc := &Toolchain{CC: filepath.Join(t.TempDir(), "no-such-clang")}
	err := tc.Compile(context.Background(), StageCompile, "", nil, "a.c", "a.o")
	var buildErr *BuildError
	if !errors.As(err, &buildErr) || buildErr.Err == nil {
		t.Fatalf("expected BuildError wrapping the exec failure; got %v", err)
	}
}

func TestRunPrintsCommands(t *testing.T) {
	dir := t.TempDir()
	cc := writeScript(t, dir, "clang", "exit 0\n")
	var out strings.Builder
	tc := &Toolchain{CC: cc, PrintCommands: true, Stdout: &out}
	if err := tc.Compile(context.Background(), StageCompile, "", nil, "a.c", "a.o"); err != nil {
		t.Fatal(err)
	}
	if out.String() != cc+" -c a.c -o a.o\n" {
		t.Fatalf("unexpected echo %q", out.String())
	}
}

func TestDetectMissing(t *testing.T) {
	_, err := Detect(Options{CC: "kiln-no-such-compiler"})
	var missing *MissingToolError
	if !errors.As(err, &missing) || missing.Tool != "kiln-no-such-compiler" {
		t.Fatalf("expected MissingToolError; got %v", err)
	}
}

func TestLinkerFor(t *testing.T) {
	tc := &Toolchain{Linker: "/usr/bin/ld.lld"}
	for _, name := range []string{"", "ld.lld", "/usr/bin/ld.lld"} {
		got, err := tc.LinkerFor(name)
		if err != nil || got != tc.Linker {
			t.Errorf("LinkerFor(%q) = %q, %v; want the detected linker", name, got, err)
		}
	}

	_, err := tc.LinkerFor("kiln-no-such-linker")
	var missing *MissingToolError
	if !errors.As(err, &missing) || missing.Tool != "kiln-no-such-linker" {
		t.Fatalf("expected MissingToolError for the descriptor linker; got %v", err)
	}

	tc.LinkerPinned = true
	if got, err := tc.LinkerFor("kiln-no-such-linker"); err != nil || got != tc.Linker {
		t.Fatalf("a pinned linker must win; got %q, %v", got, err)
	}
}

func TestDoctor(t *testing.T) {
	prevLook, prevVersion := lookPath, versionOutput
	t.Cleanup(func() { lookPath, versionOutput = prevLook, prevVersion })

	lookPath = func(name string) (string, error) {
		switch name {
		case "clang", "ld.lld", "ar", "qemu-system-x86_64":
			return "/usr/bin/" + name, nil
		}
		return "", errors.New("not found")
	}
	versionOutput = func(_ context.Context, path string) (string, error) {
		switch filepath.Base(path) {
		case "clang":
			return "Ubuntu clang version 18.1.3 (1ubuntu1)\nTarget: x86_64-pc-linux-gnu\n", nil
		case "ld.lld":
			return "Ubuntu LLD 12.0.1 (compatible with GNU linkers)\n", nil
		case "qemu-system-x86_64":
			return "QEMU emulator version 8.2.2 (Debian 1:8.2.2+ds-0ubuntu1)\n", nil
		}
		return "GNU ar (GNU Binutils) 2.42\n", nil
	}

	checks := Doctor(context.Background(), Requirements)
	byTool := make(map[string]Check, len(checks))
	for _, c := range checks {
		byTool[c.Tool] = c
	}
	if c := byTool["clang"]; !c.OK || c.Version != "18.1.3" {
		t.Errorf("clang: %+v", c)
	}
	if c := byTool["ld.lld"]; c.OK || c.Version != "12.0.1" || !strings.Contains(c.Problem, "older than") {
		t.Errorf("ld.lld 12 should be rejected: %+v", c)
	}
	if c := byTool["llvm-ar"]; !c.OK || c.Path != "/usr/bin/ar" {
		t.Errorf("llvm-ar should fall back to ar: %+v", c)
	}
	if c := byTool["qemu-system-x86_64"]; !c.OK || c.Version != "8.2.2" {
		t.Errorf("qemu: %+v", c)
	}
	if c := byTool["qemu-system-i386"]; c.OK || !c.Optional {
		t.Errorf("qemu-system-i386: %+v", c)
	}
	if Healthy(checks) {
		t.Fatal("expected unhealthy toolchain")
	}
}

func TestDoctorOldVersion(t *testing.T) {
	prevLook, prevVersion := lookPath, versionOutput
	t.Cleanup(func() { lookPath, versionOutput = prevLook, prevVersion })
	lookPath = func(name string) (string, error) { return "/opt/" + name, nil }
	versionOutput = func(context.Context, string) (string, error) {
		return "clang version 11.0", nil
	}
	c := Doctor(context.Background(), []Requirement{{Tool: "clang", MinVersion: "14.0.0"}})[0]
	if c.OK || !strings.Contains(c.Problem, "older than 14.0.0") {
		t.Fatalf("unexpected %+v", c)
	}
}
