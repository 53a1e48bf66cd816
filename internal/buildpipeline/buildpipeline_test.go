package buildpipeline

import (
	"context"
	"debug/elf"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"kiln/internal/bootimage"
	"kiln/internal/emulator"
	"kiln/internal/exitcode"
	"kiln/internal/kernel"
	"kiln/internal/runtimeprim"
	"kiln/internal/target"
	"kiln/internal/toolchain"
)

const outputWriter = `out=""
while [ $# -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift ;;
    rcs) out="$2"; shift ;;
  esac
  shift
done
`

// testELF returns the running test binary, which is a static ELF executable
// defining main.main on linux/amd64.
func testELF(t *testing.T) string {
	t.Helper()
	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		t.Skip("needs a linux/amd64 ELF executable")
	}
	exe, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	f, err := elf.Open(exe)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if f.Type != elf.ET_EXEC {
		t.Skip("test binary is position independent")
	}
	return exe
}

func script(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	// #nosec G306 -- test script must be executable
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o700); err != nil {
		t.Fatal(err)
	}
	return p
}

// fakeToolchain compiles by touching outputs and links by copying the test
// binary. Sources whose name contains "broken" fail to compile.
func fakeToolchain(t *testing.T) *toolchain.Toolchain {
	t.Helper()
	exe := testELF(t)
	dir := t.TempDir()
	cc := `case "$*" in
  *broken*) echo "broken.c:3:1: error: expected ';'" >&2; exit 1 ;;
esac
` + outputWriter + `echo obj > "$out"
`
	return &toolchain.Toolchain{
		CC:       script(t, dir, "clang", cc),
		Archiver: script(t, dir, "ar", outputWriter+`echo archive > "$out"`+"\n"),
		Linker:   script(t, dir, "ld.lld", outputWriter+`cp "`+exe+`" "$out"`+"\n"),
	}
}

func descriptor(t *testing.T, name string) target.Descriptor {
	t.Helper()
	d, ok := target.Builtin(target.BuiltinName)
	if !ok {
		t.Fatal("missing builtin descriptor")
	}
	d.Name = name
	return d
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) has(target string, stage Stage, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.ContainsFunc(r.events, func(ev Event) bool {
		return ev.Target == target && ev.Stage == stage && ev.Status == status
	})
}

func request(t *testing.T, tc *toolchain.Toolchain, d target.Descriptor, root string, sources ...string) *BuildRequest {
	t.Helper()
	cache, err := runtimeprim.OpenCache(filepath.Join(root, "cache"))
	if err != nil {
		t.Fatal(err)
	}
	src := t.TempDir()
	var paths []string
	for _, name := range sources {
		p := filepath.Join(src, name)
		if err := os.WriteFile(p, []byte("void _start(void) {}\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	return &BuildRequest{
		Descriptor: d,
		Kernel:     kernel.Request{Name: "kernel", Sources: paths, Entry: "main.main"},
		OutputRoot: root,
		Toolchain:  tc,
		Cache:      cache,
		Stub:       bootimage.CommandStub{Argv: []string{"cp", "{kernel}", "{out}"}},
		Jobs:       2,
	}
}

func TestBuildProducesImage(t *testing.T) {
	tc := fakeToolchain(t)
	root := t.TempDir()
	rec := &recorder{}
	req := request(t, tc, descriptor(t, "x86_64-kiln"), root, "main.c", "vga.c")
	req.Profile = ProfileRelease
	req.Progress = rec

	res, err := Build(context.Background(), req)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	wantDir := filepath.Join(root, "target", "x86_64-kiln", "release")
	if res.OutputDir != wantDir {
		t.Fatalf("expected output dir %s; got %s", wantDir, res.OutputDir)
	}
	if res.Image == nil || res.Image.Format != bootimage.FormatDisk {
		t.Fatalf("expected a disk image; got %+v", res.Image)
	}
	if filepath.Dir(res.Image.Path) != wantDir {
		t.Fatalf("image outside output dir: %s", res.Image.Path)
	}
	if _, err := os.Stat(filepath.Join(wantDir, "obj")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected object dir removed; got %v", err)
	}
	for _, stage := range []Stage{StageTarget, StagePrimitives, StageLink, StageImage} {
		if !rec.has("x86_64-kiln", stage, StatusDone) {
			t.Errorf("missing done event for %s", stage)
		}
	}
	if !res.Timings.Has(StageCompile) || !res.Timings.Has(StageImage) {
		t.Fatal("expected compile and image timings")
	}
}

func TestBuildKeepsObjects(t *testing.T) {
	tc := fakeToolchain(t)
	req := request(t, tc, descriptor(t, "x86_64-kiln"), t.TempDir(), "main.c")
	req.KeepTmp = true
	res, err := Build(context.Background(), req)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := os.Stat(filepath.Join(res.OutputDir, "obj")); err != nil {
		t.Fatalf("expected object dir kept: %v", err)
	}
}

func TestBuildStopsAtCompileFailure(t *testing.T) {
	tc := fakeToolchain(t)
	rec := &recorder{}
	req := request(t, tc, descriptor(t, "x86_64-kiln"), t.TempDir(), "main.c", "broken.c")
	req.Progress = rec

	res, err := Build(context.Background(), req)
	var buildErr *toolchain.BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("expected BuildError; got %v", err)
	}
	if buildErr.Stage != StageCompile {
		t.Fatalf("expected compile stage; got %s", buildErr.Stage)
	}
	if res.Kernel != nil || res.Image != nil {
		t.Fatal("no artefact should be produced after a compile failure")
	}
	if !rec.has("x86_64-kiln", StageCompile, StatusError) {
		t.Fatal("expected compile error event")
	}
	if rec.has("x86_64-kiln", StageImage, StatusWorking) {
		t.Fatal("image stage must not start")
	}
}

func TestBuildRejectsInvalidDescriptor(t *testing.T) {
	tc := fakeToolchain(t)
	d := descriptor(t, "x86_64-kiln")
	d.Panic = target.PanicUnwind
	rec := &recorder{}
	req := request(t, tc, d, t.TempDir(), "main.c")
	req.Progress = rec

	_, err := Build(context.Background(), req)
	var cfgErr *target.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError; got %v", err)
	}
	if !rec.has("x86_64-kiln", StageTarget, StatusError) {
		t.Fatal("expected target error event")
	}
}

func TestBuildAllIsolatesTargets(t *testing.T) {
	tc := fakeToolchain(t)
	root := t.TempDir()
	good := request(t, tc, descriptor(t, "x86_64-kiln"), root, "main.c")
	alt := request(t, tc, descriptor(t, "x86_64-alt"), root, "main.c")
	bad := request(t, tc, descriptor(t, "x86_64-bad"), root, "broken.c")

	results, err := BuildAll(context.Background(), []*BuildRequest{good, bad, alt}, 2)
	if err == nil {
		t.Fatal("expected the broken target to fail")
	}
	if !strings.Contains(err.Error(), "x86_64-bad") {
		t.Fatalf("error should name the failing target: %v", err)
	}
	if results[0].Image == nil || results[2].Image == nil {
		t.Fatal("healthy targets should still produce images")
	}
	if results[0].OutputDir == results[2].OutputDir {
		t.Fatal("targets must not share an output dir")
	}
	if results[1].Image != nil {
		t.Fatal("broken target must not produce an image")
	}
}

func TestBuildAllRejectsDuplicates(t *testing.T) {
	tc := fakeToolchain(t)
	root := t.TempDir()
	a := request(t, tc, descriptor(t, "x86_64-kiln"), root, "main.c")
	b := request(t, tc, descriptor(t, "x86_64-kiln"), root, "main.c")
	if _, err := BuildAll(context.Background(), []*BuildRequest{a, b}, 2); err == nil {
		t.Fatal("expected duplicate targets to be rejected")
	}
}

func TestBuildAllRejectsEquivalentDuplicates(t *testing.T) {
	tc := fakeToolchain(t)
	root := t.TempDir()
	a := request(t, tc, descriptor(t, "x86_64-kiln"), root, "main.c")
	b := request(t, tc, descriptor(t, " x86_64-kiln "), root, "main.c")
	b.Profile = ProfileDebug
	if _, err := BuildAll(context.Background(), []*BuildRequest{a, b}, 2); err == nil || !strings.Contains(err.Error(), "listed twice") {
		t.Fatalf("expected the default and explicit debug profile to collide; got %v", err)
	}

	c := request(t, tc, descriptor(t, "x86_64-kiln"), root, "main.c")
	c.Profile = ProfileRelease
	if _, err := BuildAll(context.Background(), []*BuildRequest{a, c}, 2); err != nil {
		t.Fatalf("debug and release of one target are distinct builds: %v", err)
	}
}

func TestBuildFailureRemovesStaleArtefacts(t *testing.T) {
	tc := fakeToolchain(t)
	root := t.TempDir()
	res, err := Build(context.Background(), request(t, tc, descriptor(t, "x86_64-kiln"), root, "main.c"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	kernelPath, imagePath := res.Kernel.Path, res.Image.Path

	if _, err := Build(context.Background(), request(t, tc, descriptor(t, "x86_64-kiln"), root, "broken.c")); err == nil {
		t.Fatal("expected the broken rebuild to fail")
	}
	for _, p := range []string{kernelPath, imagePath} {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s from the previous build survived a failed rebuild", filepath.Base(p))
		}
	}
}

func TestTestRunsImage(t *testing.T) {
	tc := fakeToolchain(t)
	dir := t.TempDir()
	success := exitcode.Encode(exitcode.Success)
	emu := emulator.Config{
		Binary:  script(t, dir, "qemu", "exit "+strconv.Itoa(success)+"\n"),
		Timeout: 10 * time.Second,
	}
	rec := &recorder{}
	req := request(t, tc, descriptor(t, "x86_64-kiln"), t.TempDir(), "main.c")
	req.Progress = rec

	res, err := Test(context.Background(), req, emu)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if res.Run.Outcome != exitcode.Pass {
		t.Fatalf("expected pass; got %s", res.Run)
	}
	if !rec.has("x86_64-kiln", StageRun, StatusDone) {
		t.Fatal("expected run done event")
	}
	if !res.Build.Timings.Has(StageRun) {
		t.Fatal("expected run timing")
	}
}

func TestOutputDirDefaultsToDebug(t *testing.T) {
	got := OutputDir("/work", "x86_64-kiln", "")
	if got != filepath.Join("/work", "target", "x86_64-kiln", "debug") {
		t.Fatalf("OutputDir = %s", got)
	}
}

func TestProfileFlags(t *testing.T) {
	if !slices.Contains(ProfileRelease.CFlags(), "-O2") {
		t.Fatal("release should optimize")
	}
	if !slices.Contains(ProfileDebug.CFlags(), "-g") {
		t.Fatal("debug should keep debug info")
	}
}
