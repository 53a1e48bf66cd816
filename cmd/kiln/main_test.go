package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kiln/internal/emulator"
	"kiln/internal/exitcode"
	"kiln/internal/project"
	"kiln/internal/target"
	"kiln/internal/toolchain"
	runtimeembed "kiln/runtime"
)

func TestExitCode(t *testing.T) {
	specs := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitPass},
		{"fail", outcomeError(exitcode.Fail), exitFail},
		{"hung", outcomeError(exitcode.Hung), exitHung},
		{"launch", fmt.Errorf("boot: %w", &emulator.LaunchError{Binary: "qemu", Err: os.ErrNotExist}), exitConfig},
		{"descriptor", &target.ConfigurationError{Field: "panic"}, exitConfig},
		{"missing tool", &toolchain.MissingToolError{Tool: "clang"}, exitConfig},
		{"build", &toolchain.BuildError{Stage: toolchain.StageCompile}, exitFail},
		{"explicit", configError(errors.New("bad flag")), exitConfig},
		{"other", errors.New("boom"), exitFail},
	}
	for _, spec := range specs {
		if got := exitCode(spec.err); got != spec.want {
			t.Errorf("%s: exitCode = %d; want %d", spec.name, got, spec.want)
		}
	}
	if outcomeError(exitcode.Pass) != nil {
		t.Fatal("pass must not produce an error")
	}
}

func TestWorse(t *testing.T) {
	if worse(exitcode.Pass, exitcode.Fail) != exitcode.Fail {
		t.Fatal("fail should beat pass")
	}
	if worse(exitcode.Hung, exitcode.Fail) != exitcode.Hung {
		t.Fatal("hung should beat fail")
	}
	if worse(exitcode.Pass, exitcode.Pass) != exitcode.Pass {
		t.Fatal("pass stays pass")
	}
}

func TestInitScaffoldLoads(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "hello-os")
	var out bytes.Buffer
	initCmd.SetOut(&out)
	if err := runInit(initCmd, []string{dir}); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, file := range scaffold {
		if _, err := os.Stat(filepath.Join(dir, file.path)); err != nil {
			t.Errorf("missing %s: %v", file.path, err)
		}
	}

	manifest, ok, err := project.LoadManifest(dir)
	if err != nil || !ok {
		t.Fatalf("LoadManifest: ok=%t err=%v", ok, err)
	}
	if manifest.Config.Package.Name != "hello-os" {
		t.Fatalf("package name = %q", manifest.Config.Package.Name)
	}
	for _, ref := range manifest.Config.TargetRefs() {
		d, err := target.Resolve(ref, manifest.Root)
		if err != nil {
			t.Fatalf("Resolve(%s): %v", ref, err)
		}
		if err := d.Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}
	}

	if err := runInit(initCmd, []string{dir}); err == nil {
		t.Fatal("expected second init to fail")
	}
}

func TestBootStubHasMultibootMagic(t *testing.T) {
	if !strings.Contains(defaultBootS, "0x1BADB002") {
		t.Fatal("boot stub lacks the multiboot magic")
	}
	if !strings.Contains(defaultMainC, "kiln_exit(KILN_SUCCESS)") {
		t.Fatal("kernel template does not report success in test builds")
	}
}

func TestScaffoldFaultPathSignalsFailure(t *testing.T) {
	if !strings.Contains(defaultMainC, `#include "kiln.h"`) {
		t.Fatal("kernel template must include the guest protocol header")
	}
	fault := defaultMainC[strings.Index(defaultMainC, "void kernel_fault("):]
	fault = fault[:strings.Index(fault, "\n}\n")]
	if !strings.Contains(fault, "kiln_panic(why);") {
		t.Fatalf("kernel_fault must end in kiln_panic; got %q", fault)
	}
	if !strings.Contains(defaultBootS, "call kernel_fault") {
		t.Fatal("boot stub must route a returning kmain to kernel_fault")
	}

	header, err := fs.ReadFile(runtimeembed.NativeRuntimeFS(), runtimeembed.GuestHeader)
	if err != nil {
		t.Fatal(err)
	}
	if want := fmt.Sprintf("KILN_FAILED = %#x", uint32(exitcode.Failed)); !strings.Contains(string(header), want) {
		t.Fatalf("kiln.h does not define %q", want)
	}
}

func TestUseProgressView(t *testing.T) {
	specs := []struct {
		name     string
		settings buildSettings
		quiet    bool
		tty      bool
		exp      bool
	}{
		{"auto on a terminal", buildSettings{ui: progressAuto}, false, true, true},
		{"auto when piped", buildSettings{ui: progressAuto}, false, false, false},
		{"forced on when piped", buildSettings{ui: progressOn}, false, false, true},
		{"off", buildSettings{ui: progressOff}, false, true, false},
		{"quiet", buildSettings{ui: progressOn}, true, true, false},
		{"print commands", buildSettings{ui: progressAuto, printCommands: true}, false, true, false},
	}
	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			if got := useProgressView(spec.settings, spec.quiet, spec.tty); got != spec.exp {
				t.Fatalf("useProgressView = %t; want %t", got, spec.exp)
			}
		})
	}
}

func TestParseProgressMode(t *testing.T) {
	if mode, err := parseProgressMode(" ON ", false); err != nil || mode != progressOn {
		t.Fatalf("unexpected %q, %v", mode, err)
	}
	if mode, err := parseProgressMode("", true); err != nil || mode != progressAuto {
		t.Fatalf("empty value should mean auto; got %q, %v", mode, err)
	}
	if _, err := parseProgressMode("on", true); err == nil {
		t.Fatal("expected --ui=on with --print-commands to be rejected")
	}
	if _, err := parseProgressMode("fancy", false); err == nil {
		t.Fatal("expected an invalid mode to be rejected")
	}
}

func TestVersionJSON(t *testing.T) {
	var out bytes.Buffer
	if err := renderVersionJSON(&out, collectVersionInfo()); err != nil {
		t.Fatal(err)
	}
	var payload versionPayload
	if err := json.Unmarshal(out.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json %q: %v", out.String(), err)
	}
	if payload.Tool != "kiln" || payload.Version == "" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestTargetHashIsStable(t *testing.T) {
	var first, second bytes.Buffer
	targetHashCmd.SetOut(&first)
	if err := targetHashCmd.RunE(targetHashCmd, []string{target.BuiltinName}); err != nil {
		t.Fatal(err)
	}
	targetHashCmd.SetOut(&second)
	if err := targetHashCmd.RunE(targetHashCmd, []string{target.BuiltinName}); err != nil {
		t.Fatal(err)
	}
	if first.String() != second.String() || !strings.HasSuffix(strings.TrimSpace(first.String()), target.BuiltinName) {
		t.Fatalf("unstable hash output %q vs %q", first.String(), second.String())
	}
}

func TestTargetValidateReportsBadDescriptor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("arch = \"x86_64\"\nllvm_target = \"x86_64-unknown-none\"\npanic = \"unwind\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	var stdout, stderr bytes.Buffer
	targetValidateCmd.SetOut(&stdout)
	targetValidateCmd.SetErr(&stderr)
	err := targetValidateCmd.RunE(targetValidateCmd, []string{target.BuiltinName, path})
	if exitCode(err) != exitConfig {
		t.Fatalf("expected config exit; got %v", err)
	}
	if !strings.Contains(stdout.String(), target.BuiltinName+": ok") {
		t.Fatalf("expected builtin to validate; got %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "panic") {
		t.Fatalf("expected panic field in error; got %q", stderr.String())
	}
}

func TestFormatPathForOutput(t *testing.T) {
	if got := formatPathForOutput("/work", "/work/target/x/debug/k.img"); got != "target/x/debug/k.img" {
		t.Fatalf("got %q", got)
	}
	if got := formatPathForOutput("/work", "/elsewhere/k.img"); got != "/elsewhere/k.img" {
		t.Fatalf("got %q", got)
	}
}
