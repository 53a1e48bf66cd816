// Package bootimage turns a linked kernel into something an emulator can
// boot. The result is opaque to the rest of kiln: only its path, format and
// digest matter.
package bootimage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"kiln/internal/diag"
	"kiln/internal/kernel"
	"kiln/internal/project"
	"kiln/internal/toolchain"
	"kiln/internal/trace"
)

// Format tells the emulator how to attach an image.
type Format string

const (
	// FormatKernel images are loaded directly by the emulator (-kernel).
	FormatKernel Format = "kernel"
	// FormatDisk images are attached as a raw drive.
	FormatDisk Format = "disk"
)

// ParseFormat converts a string to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "kernel", "elf", "multiboot":
		return FormatKernel, nil
	case "disk", "raw", "img":
		return FormatDisk, nil
	}
	return "", fmt.Errorf("invalid image format %q (expected kernel or disk)", s)
}

// GuessFormat picks a format from an image path: ELF files are kernels,
// everything else is a disk.
func GuessFormat(path string) Format {
	// #nosec G304 -- path is provided by the user
	f, err := os.Open(path)
	if err != nil {
		return FormatDisk
	}
	defer func() {
		_ = f.Close()
	}()
	magic := make([]byte, 4)
	if _, err := f.Read(magic); err == nil && string(magic) == "\x7fELF" {
		return FormatKernel
	}
	return FormatDisk
}

// Image is an assembled boot image.
type Image struct {
	Path   string
	Format Format
	Digest project.Digest
	Kernel string
}

// Stub combines a kernel with whatever boot code the emulator needs.
type Stub interface {
	Assemble(ctx context.Context, kernelPath, outPath string) (Format, error)
}

// Assembler produces images next to their kernels.
type Assembler struct {
	Stub Stub
}

// ImagePath returns where Assemble writes the image for kernelPath.
func ImagePath(kernelPath string) string {
	return strings.TrimSuffix(kernelPath, filepath.Ext(kernelPath)) + ".img"
}

// Assemble writes <kernel>.img and records its digest. On failure no image
// is left behind.
func (a *Assembler) Assemble(ctx context.Context, bin *kernel.Binary) (*Image, error) {
	if bin == nil {
		return nil, errors.New("assemble: no kernel")
	}
	stub := a.Stub
	if stub == nil {
		stub = DirectStub{}
	}

	ctx, span := trace.Start(ctx, trace.ScopeStage, "image")
	out := ImagePath(bin.Path)
	_ = os.Remove(out)

	format, err := stub.Assemble(ctx, bin.Path, out)
	if err != nil {
		_ = os.Remove(out)
		span.End("failed")
		return nil, asBuildError(err, bin.Descriptor)
	}
	digest, err := project.FileDigest(out)
	if err != nil {
		_ = os.Remove(out)
		span.End("failed")
		return nil, asBuildError(err, bin.Descriptor)
	}
	span.WithExtra("format", string(format)).End("ok")
	return &Image{Path: out, Format: format, Digest: digest, Kernel: bin.Path}, nil
}

// asBuildError wraps stub failures as image-stage BuildErrors.
func asBuildError(err error, descriptor string) error {
	var buildErr *toolchain.BuildError
	if errors.As(err, &buildErr) {
		buildErr.Stage = toolchain.StageImage
		if buildErr.Descriptor == "" {
			buildErr.Descriptor = descriptor
		}
		return buildErr
	}
	code := diag.ImageError
	var stubErr *StubError
	if errors.As(err, &stubErr) {
		code = stubErr.Code
	}
	bag := diag.NewBag(1)
	bag.Add(diag.Diagnostic{Severity: diag.SevError, Code: code, Tool: "kiln", Message: err.Error()})
	return &toolchain.BuildError{Stage: toolchain.StageImage, Descriptor: descriptor, Diagnostics: bag, Err: err}
}

// StubError reports a kernel the stub cannot turn into an image.
type StubError struct {
	Code   diag.Code
	Path   string
	Reason string
}

func (e *StubError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}
