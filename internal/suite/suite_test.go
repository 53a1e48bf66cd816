package suite

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fatih/color"

	"kiln/internal/bootimage"
	"kiln/internal/emulator"
	"kiln/internal/exitcode"
)

const document = `
name: blog-os
timeout: 45s
parallel: 3
memory: 64M
args: ["-smp", "1"]
cases:
  - name: basic_boot
    image: basic_boot.img
    format: kernel
    serial_contains: ["[ok]"]
  - name: should_panic
    image: should_panic.img
    expect: fail
  - name: stack_overflow
    image: stack_overflow.img
    expect: FAIL
    timeout: 5s
    args: ["-d", "int"]
  - name: heap
    image: heap.img
    skip: true
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(document))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Name != "blog-os" || s.Parallel != 3 || s.Timeout.Duration() != 45*time.Second {
		t.Fatalf("unexpected suite %+v", s)
	}
	if len(s.Cases) != 4 {
		t.Fatalf("expected 4 cases; got %d", len(s.Cases))
	}
	if s.Cases[0].Expect.Outcome() != exitcode.Pass {
		t.Fatal("missing expectation defaults to pass")
	}
	if s.Cases[2].Expect.Outcome() != exitcode.Fail || s.Cases[2].Timeout.Duration() != 5*time.Second {
		t.Fatalf("unexpected case %+v", s.Cases[2])
	}
}

func TestParseErrors(t *testing.T) {
	specs := map[string]string{
		"no cases":      "name: x\n",
		"missing name":  "cases:\n  - image: a.img\n",
		"missing image": "cases:\n  - name: a\n",
		"duplicate":     "cases:\n  - {name: a, image: a.img}\n  - {name: a, image: b.img}\n",
		"bad outcome":   "cases:\n  - {name: a, image: a.img, expect: maybe}\n",
		"bad duration":  "timeout: soon\ncases:\n  - {name: a, image: a.img}\n",
		"bad format":    "cases:\n  - {name: a, image: a.img, format: iso}\n",
	}
	for name, doc := range specs {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadResolvesRelativeImages(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "suite.yaml")
	if err := os.WriteFile(path, []byte(document), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	var (
		mu   sync.Mutex
		seen []string
	)
	r := &Runner{Launch: func(_ context.Context, _ emulator.Config, img bootimage.Image) (emulator.Result, error) {
		mu.Lock()
		seen = append(seen, img.Path)
		mu.Unlock()
		return emulator.Result{Outcome: exitcode.Pass, SerialTail: "[ok]"}, nil
	}}
	if _, err := r.Run(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if !slices.Contains(seen, filepath.Join(dir, "basic_boot.img")) {
		t.Fatalf("expected image paths relative to the suite file; got %v", seen)
	}
}

func TestRun(t *testing.T) {
	s, err := Parse([]byte(document))
	if err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	r := &Runner{
		Base: emulator.Config{Binary: "qemu-test", ExtraArgs: []string{"-nodefaults"}},
		Launch: func(_ context.Context, cfg emulator.Config, img bootimage.Image) (emulator.Result, error) {
			calls.Add(1)
			switch filepath.Base(img.Path) {
			case "basic_boot.img":
				if img.Format != bootimage.FormatKernel || cfg.Memory != "64M" || cfg.Binary != "qemu-test" {
					t.Errorf("unexpected launch %+v %+v", cfg, img)
				}
				return emulator.Result{Outcome: exitcode.Pass, Status: 0x21, Code: exitcode.Success, Decoded: true, SerialTail: "[ok]"}, nil
			case "should_panic.img":
				// Wrong outcome: the guest passed although it should panic.
				return emulator.Result{Outcome: exitcode.Pass, Status: 0x21}, nil
			case "stack_overflow.img":
				if cfg.Timeout != 5*time.Second {
					t.Errorf("case timeout not applied: %s", cfg.Timeout)
				}
				want := []string{"-nodefaults", "-smp", "1", "-d", "int"}
				if !slices.Equal(cfg.ExtraArgs, want) {
					t.Errorf("got args %v; want %v", cfg.ExtraArgs, want)
				}
				return emulator.Result{}, &emulator.LaunchError{Binary: "qemu-test", Err: errors.New("boom")}
			}
			t.Errorf("unexpected image %s", img.Path)
			return emulator.Result{}, nil
		},
	}

	res, err := r.Run(context.Background(), s)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected the skipped case not to run; got %d launches", calls.Load())
	}
	if res.Passed != 1 || res.Failed != 2 || res.Skipped != 1 || res.OK() {
		t.Fatalf("unexpected summary %+v", res)
	}
	if !strings.Contains(res.Cases[1].Reason, "expected FAIL, got PASS") {
		t.Fatalf("unexpected reason %q", res.Cases[1].Reason)
	}
	var launchErr *emulator.LaunchError
	if !errors.As(res.Cases[2].Err, &launchErr) {
		t.Fatalf("expected launch error to be kept; got %v", res.Cases[2].Err)
	}

	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
	var buf bytes.Buffer
	if err := WriteReport(&buf, res); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"basic_boot      PASS", "should_panic    PASS", "MISMATCH", "heap            skip", "1 matched, 2 mismatched, 1 skipped"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestRunSerialExpectation(t *testing.T) {
	s, err := Parse([]byte("cases:\n  - {name: a, image: a.img, serial_contains: [\"hello\"]}\n"))
	if err != nil {
		t.Fatal(err)
	}
	r := &Runner{Launch: func(context.Context, emulator.Config, bootimage.Image) (emulator.Result, error) {
		return emulator.Result{Outcome: exitcode.Pass, SerialTail: "bye"}, nil
	}}
	res, err := r.Run(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK() || !strings.Contains(res.Cases[0].Reason, `"hello"`) {
		t.Fatalf("unexpected result %+v", res.Cases[0])
	}
}

func TestRunCancelled(t *testing.T) {
	s, err := Parse([]byte("cases:\n  - {name: a, image: a.img}\n  - {name: b, image: b.img}\n"))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{Launch: func(context.Context, emulator.Config, bootimage.Image) (emulator.Result, error) {
		cancel()
		return emulator.Result{Outcome: exitcode.Pass}, nil
	}}
	if _, err := r.Run(ctx, s); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation; got %v", err)
	}
}

func TestProgressBar(t *testing.T) {
	s, err := Parse([]byte("name: bar\ncases:\n  - {name: a, image: a.img}\n"))
	if err != nil {
		t.Fatal(err)
	}
	var progress bytes.Buffer
	r := &Runner{
		Progress: &progress,
		Launch: func(context.Context, emulator.Config, bootimage.Image) (emulator.Result, error) {
			return emulator.Result{Outcome: exitcode.Pass}, nil
		},
	}
	if _, err := r.Run(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if progress.Len() == 0 {
		t.Fatal("expected progress output")
	}
}
