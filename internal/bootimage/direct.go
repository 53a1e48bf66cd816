package bootimage

import (
	"context"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"kiln/internal/diag"
)

const (
	multibootMagic    uint32 = 0x1BADB002
	multibootSearch          = 8192
	multibootAOutFlag uint32 = 1 << 16
)

// DirectStub boots the kernel itself through the emulator's multiboot
// loader. The kernel must carry a multiboot header in its first 8 KiB; a
// 64-bit ELF must also provide the header's address fields since the loader
// only understands 32-bit ELF files.
type DirectStub struct{}

// Assemble checks the header and copies the kernel to outPath.
func (DirectStub) Assemble(_ context.Context, kernelPath, outPath string) (Format, error) {
	data, err := readHead(kernelPath, multibootSearch)
	if err != nil {
		return "", err
	}
	flags, ok := FindMultiboot(data)
	if !ok {
		return "", &StubError{Code: diag.ImageMissingHeader, Path: kernelPath, Reason: "no multiboot header in the first 8 KiB"}
	}
	if is64BitELF(kernelPath) && flags&multibootAOutFlag == 0 {
		return "", &StubError{Code: diag.ImageMissingHeader, Path: kernelPath, Reason: "64-bit kernel needs multiboot address fields (flag bit 16)"}
	}
	if err := copyFile(kernelPath, outPath); err != nil {
		return "", err
	}
	return FormatKernel, nil
}

// FindMultiboot scans data for a valid multiboot v1 header and returns its flags.
func FindMultiboot(data []byte) (uint32, bool) {
	limit := min(len(data), multibootSearch)
	for off := 0; off+12 <= limit; off += 4 {
		magic := binary.LittleEndian.Uint32(data[off:])
		if magic != multibootMagic {
			continue
		}
		flags := binary.LittleEndian.Uint32(data[off+4:])
		checksum := binary.LittleEndian.Uint32(data[off+8:])
		if magic+flags+checksum == 0 {
			return flags, true
		}
	}
	return 0, false
}

func readHead(path string, n int) ([]byte, error) {
	// #nosec G304 -- kernel path comes from the build pipeline
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read kernel: %w", err)
	}
	return buf[:read], nil
}

func is64BitELF(path string) bool {
	f, err := elf.Open(path)
	if err != nil {
		return false
	}
	defer func() {
		_ = f.Close()
	}()
	return f.Class == elf.ELFCLASS64
}

func copyFile(src, dst string) (err error) {
	// #nosec G304 -- paths come from the build pipeline
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
	}()
	_, err = io.Copy(out, in)
	return err
}
