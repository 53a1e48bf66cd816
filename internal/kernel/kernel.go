// Package kernel compiles and links a freestanding kernel against a runtime
// primitive set.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"kiln/internal/project"
	"kiln/internal/runtimeprim"
	"kiln/internal/target"
	"kiln/internal/toolchain"
	"kiln/internal/trace"
)

// Request describes one kernel build.
type Request struct {
	Name         string
	Sources      []string
	LinkerScript string
	Entry        string
	OutDir       string
	IncludeDirs  []string
	ExtraCFlags  []string
	ExtraLDFlags []string
}

// OutputPath returns where Compile links the kernel for r.
func (r Request) OutputPath() string {
	name := r.Name
	if name == "" {
		name = "kernel"
	}
	return filepath.Join(r.OutDir, name)
}

// Binary is a linked kernel executable.
type Binary struct {
	Path       string
	Name       string
	Descriptor string
	Entry      string
	EntryAddr  uint64
	Digest     project.Digest
}

// Compiler builds kernels with an external toolchain.
type Compiler struct {
	Toolchain *toolchain.Toolchain
	// Jobs bounds parallel compiles; zero means GOMAXPROCS.
	Jobs int
}

var sourceExts = []string{".c", ".S", ".s"}

// Compile builds req for d and links it against prims. Nothing is left at the
// output path when any step fails.
func (c *Compiler) Compile(ctx context.Context, req Request, d target.Descriptor, prims *runtimeprim.Set) (*Binary, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	n := d.Normalize()
	if prims == nil || prims.Hosted || n.Hosted() {
		return nil, &target.ConfigurationError{
			Descriptor: n.Name,
			Field:      "llvm_target",
			Value:      n.LLVMTarget,
			Reason:     "kernels must be built for a freestanding target",
		}
	}
	if c.Toolchain == nil {
		return nil, fmt.Errorf("kernel %s: no toolchain configured", req.Name)
	}
	if len(req.Sources) == 0 {
		return nil, fmt.Errorf("kernel %s: no sources", req.Name)
	}
	for _, src := range req.Sources {
		if !slices.Contains(sourceExts, filepath.Ext(src)) {
			return nil, fmt.Errorf("kernel %s: unsupported source %s (expected .c, .S or .s)", req.Name, src)
		}
	}
	if req.Entry == "" {
		req.Entry = "_start"
	}
	if req.Name == "" {
		req.Name = "kernel"
	}

	linker, err := c.Toolchain.LinkerFor(n.Linker)
	if err != nil {
		return nil, err
	}

	// A kernel from an earlier build must not outlive a failed one.
	out := req.OutputPath()
	if err := os.Remove(out); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove stale kernel: %w", err)
	}

	objDir := filepath.Join(req.OutDir, "obj")
	if err := os.MkdirAll(objDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create object dir: %w", err)
	}

	ctx, span := trace.Start(ctx, trace.ScopeStage, "compile")
	objs, err := c.compileAll(ctx, req, n, prims, objDir)
	if err != nil {
		span.End("failed")
		return nil, err
	}
	span.WithExtra("objects", fmt.Sprint(len(objs))).End("ok")

	ctx, span = trace.Start(ctx, trace.ScopeStage, "link")
	bin, err := c.link(ctx, req, n, prims, linker, objs, out)
	if err != nil {
		span.End("failed")
		return nil, err
	}
	span.End("ok")
	return bin, nil
}

func (c *Compiler) compileAll(ctx context.Context, req Request, n target.Descriptor, prims *runtimeprim.Set, objDir string) ([]string, error) {
	flags := slices.Clone(n.CFlags())
	flags = append(flags, "-Wall", "-std=gnu11")
	for _, dir := range req.IncludeDirs {
		flags = append(flags, "-I", dir)
	}
	if prims.IncludeDir != "" {
		flags = append(flags, "-I", prims.IncludeDir)
	}
	flags = append(flags, req.ExtraCFlags...)

	objs := make([]string, len(req.Sources))
	g, gctx := errgroup.WithContext(ctx)
	jobs := c.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(jobs)
	for i, src := range req.Sources {
		objs[i] = filepath.Join(objDir, objectName(src))
		g.Go(func() error {
			return c.Toolchain.Compile(gctx, toolchain.StageCompile, n.Name, flags, src, objs[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return objs, nil
}

// objectName flattens a source path so that same-named files in different
// directories do not collide.
func objectName(src string) string {
	clean := filepath.ToSlash(filepath.Clean(src))
	clean = strings.ReplaceAll(clean, "../", "up_")
	clean = strings.TrimPrefix(clean, "/")
	return strings.ReplaceAll(clean, "/", "_") + ".o"
}

func (c *Compiler) link(ctx context.Context, req Request, n target.Descriptor, prims *runtimeprim.Set, linker string, objs []string, out string) (*Binary, error) {
	partial := out + ".partial"
	_ = os.Remove(partial)

	args := []string{"-nostdlib", "-static", "--gc-sections", "-e", req.Entry}
	if req.LinkerScript != "" {
		args = append(args, "-T", req.LinkerScript)
	}
	args = append(args, req.ExtraLDFlags...)
	args = append(args, "-o", partial)
	args = append(args, objs...)
	args = append(args, prims.Archive)

	cmd := toolchain.Command{Stage: toolchain.StageLink, Descriptor: n.Name, Name: linker, Args: args}
	if err := c.Toolchain.Run(ctx, cmd); err != nil {
		_ = os.Remove(partial)
		return nil, err
	}

	addr, err := Verify(partial, n, req.Entry)
	if err != nil {
		_ = os.Remove(partial)
		var buildErr *toolchain.BuildError
		if errors.As(err, &buildErr) {
			buildErr.Command = append([]string{linker}, args...)
		}
		return nil, err
	}
	if err := os.Rename(partial, out); err != nil {
		_ = os.Remove(partial)
		return nil, fmt.Errorf("failed to move kernel into place: %w", err)
	}
	digest, err := project.FileDigest(out)
	if err != nil {
		return nil, err
	}
	return &Binary{
		Path:       out,
		Name:       req.Name,
		Descriptor: n.Name,
		Entry:      req.Entry,
		EntryAddr:  addr,
		Digest:     digest,
	}, nil
}
