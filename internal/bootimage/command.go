package bootimage

import (
	"context"
	"os"
	"strings"

	"kiln/internal/diag"
	"kiln/internal/toolchain"
)

// CommandStub runs an external boot-stub tool. Argv may reference the kernel
// and the output path through the {kernel} and {out} placeholders; the tool
// must write a non-empty raw disk image.
type CommandStub struct {
	Argv   []string
	Dir    string
	Runner *toolchain.Toolchain
}

// Expand substitutes the placeholders in Argv.
func (s CommandStub) Expand(kernelPath, outPath string) []string {
	r := strings.NewReplacer("{kernel}", kernelPath, "{out}", outPath)
	argv := make([]string, len(s.Argv))
	for i, arg := range s.Argv {
		argv[i] = r.Replace(arg)
	}
	return argv
}

func (s CommandStub) Assemble(ctx context.Context, kernelPath, outPath string) (Format, error) {
	if len(s.Argv) == 0 {
		return "", &StubError{Code: diag.ImageStubUnavailable, Path: kernelPath, Reason: "boot stub command is empty"}
	}
	argv := s.Expand(kernelPath, outPath)
	runner := s.Runner
	if runner == nil {
		runner = &toolchain.Toolchain{}
	}
	err := runner.Run(ctx, toolchain.Command{
		Stage: toolchain.StageImage,
		Name:  argv[0],
		Args:  argv[1:],
		Dir:   s.Dir,
	})
	if err != nil {
		return "", err
	}
	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		return "", &StubError{Code: diag.ImageError, Path: outPath, Reason: "boot stub did not produce an image"}
	}
	return FormatDisk, nil
}
