package bootimage

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"kiln/internal/diag"
	"kiln/internal/kernel"
	"kiln/internal/toolchain"
)

// multibootKernel writes a flat kernel with a multiboot header at offset.
func multibootKernel(t *testing.T, offset int, flags uint32) string {
	t.Helper()
	data := make([]byte, offset+64)
	binary.LittleEndian.PutUint32(data[offset:], multibootMagic)
	binary.LittleEndian.PutUint32(data[offset+4:], flags)
	binary.LittleEndian.PutUint32(data[offset+8:], -(multibootMagic + flags))
	path := filepath.Join(t.TempDir(), "kernel.bin")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFindMultiboot(t *testing.T) {
	data := make([]byte, 64)
	if _, ok := FindMultiboot(data); ok {
		t.Fatal("zeroed data has no header")
	}
	binary.LittleEndian.PutUint32(data[16:], multibootMagic)
	binary.LittleEndian.PutUint32(data[20:], 3)
	binary.LittleEndian.PutUint32(data[24:], 0xdeadbeef)
	if _, ok := FindMultiboot(data); ok {
		t.Fatal("bad checksum must be rejected")
	}
	sum := multibootMagic + uint32(3)
	binary.LittleEndian.PutUint32(data[24:], -sum)
	flags, ok := FindMultiboot(data)
	if !ok || flags != 3 {
		t.Fatalf("expected header with flags 3; got %d %t", flags, ok)
	}
	if _, ok := FindMultiboot(data[2:]); ok {
		t.Fatal("header must be 4-byte aligned")
	}
}

func TestAssembleDirect(t *testing.T) {
	path := multibootKernel(t, 4096, 0x3)
	a := &Assembler{}
	img, err := a.Assemble(context.Background(), &kernel.Binary{Path: path, Descriptor: "x86_64-kiln"})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if img.Format != FormatKernel || img.Path != filepath.Join(filepath.Dir(path), "kernel.img") {
		t.Fatalf("unexpected image %+v", img)
	}
	if img.Digest.IsZero() || img.Kernel != path {
		t.Fatalf("unexpected image %+v", img)
	}
}

func TestAssembleDirectHeaderTooLate(t *testing.T) {
	path := multibootKernel(t, multibootSearch, 0x3)
	_, err := (&Assembler{Stub: DirectStub{}}).Assemble(context.Background(), &kernel.Binary{Path: path, Descriptor: "x86_64-kiln"})
	var buildErr *toolchain.BuildError
	if !errors.As(err, &buildErr) || buildErr.Stage != toolchain.StageImage {
		t.Fatalf("expected image BuildError; got %v", err)
	}
	if d, _ := buildErr.Diagnostics.First(); d.Code != diag.ImageMissingHeader {
		t.Fatalf("unexpected diagnostic %+v", d)
	}
	if buildErr.Descriptor != "x86_64-kiln" {
		t.Fatalf("expected descriptor in error; got %q", buildErr.Descriptor)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(path), "kernel.img")); !os.IsNotExist(err) {
		t.Fatal("no image should be left behind")
	}
}

func TestAssembleCommand(t *testing.T) {
	if _, err := exec.LookPath("cp"); err != nil {
		t.Skip("cp not available")
	}
	path := multibootKernel(t, 0, 0)
	a := &Assembler{Stub: CommandStub{Argv: []string{"cp", "{kernel}", "{out}"}}}
	img, err := a.Assemble(context.Background(), &kernel.Binary{Path: path})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if img.Format != FormatDisk {
		t.Fatalf("expected disk format; got %s", img.Format)
	}
}

func TestAssembleCommandWithoutOutput(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true not available")
	}
	path := multibootKernel(t, 0, 0)
	_, err := (&Assembler{Stub: CommandStub{Argv: []string{"true"}}}).Assemble(context.Background(), &kernel.Binary{Path: path})
	var buildErr *toolchain.BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("expected BuildError; got %v", err)
	}
	var stubErr *StubError
	if !errors.As(err, &stubErr) {
		t.Fatalf("expected the StubError to be wrapped; got %v", err)
	}
}

func TestCommandStubExpand(t *testing.T) {
	s := CommandStub{Argv: []string{"bootstub", "--kernel={kernel}", "-o", "{out}"}}
	got := s.Expand("/k/kernel", "/k/kernel.img")
	want := []string{"bootstub", "--kernel=/k/kernel", "-o", "/k/kernel.img"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v; want %v", got, want)
		}
	}
}

func TestParseAndGuessFormat(t *testing.T) {
	if f, err := ParseFormat("raw"); err != nil || f != FormatDisk {
		t.Fatalf("ParseFormat(raw) = %s, %v", f, err)
	}
	if _, err := ParseFormat("iso"); err == nil {
		t.Fatal("expected error")
	}
	elfPath := filepath.Join(t.TempDir(), "kernel")
	if err := os.WriteFile(elfPath, []byte("\x7fELF\x02\x01\x01"), 0o600); err != nil {
		t.Fatal(err)
	}
	if f := GuessFormat(elfPath); f != FormatKernel {
		t.Fatalf("ELF file should be a kernel; got %s", f)
	}
	if f := GuessFormat(multibootKernel(t, 0, 0)); f != FormatDisk {
		t.Fatalf("flat binary should be a disk; got %s", f)
	}
}
