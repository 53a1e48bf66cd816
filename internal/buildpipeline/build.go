// Package buildpipeline orchestrates a kernel build: descriptor validation,
// runtime primitives, compile and link, boot image. It reports progress
// through a ProgressSink and can build several targets in parallel.
package buildpipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"kiln/internal/bootimage"
	"kiln/internal/kernel"
	"kiln/internal/runtimeprim"
	"kiln/internal/target"
	"kiln/internal/toolchain"
	"kiln/internal/trace"
)

// BuildRequest configures one kernel build for one descriptor.
type BuildRequest struct {
	Descriptor target.Descriptor
	Kernel     kernel.Request
	OutputRoot string
	Profile    Profile
	Toolchain  *toolchain.Toolchain
	Cache      *runtimeprim.Cache
	Stub       bootimage.Stub
	Jobs       int
	KeepTmp    bool
	Progress   ProgressSink
}

// BuildResult captures build artefacts and timings.
type BuildResult struct {
	Target     string
	OutputDir  string
	Primitives *runtimeprim.Set
	Kernel     *kernel.Binary
	Image      *bootimage.Image
	Timings    Timings
}

// OutputDir returns target/<descriptor>/<profile> under root.
func OutputDir(root, descriptor string, profile Profile) string {
	if profile == "" {
		profile = ProfileDebug
	}
	return filepath.Join(root, "target", descriptor, string(profile))
}

// Build runs every stage for req. Stages run in order; the first failure
// stops the build and no later artefact is produced.
func Build(ctx context.Context, req *BuildRequest) (BuildResult, error) {
	var result BuildResult
	if req == nil {
		return result, fmt.Errorf("missing build request")
	}
	reqCopy := *req
	req = &reqCopy
	if req.Profile == "" {
		req.Profile = ProfileDebug
	}
	if req.OutputRoot == "" {
		cwd, err := os.Getwd()
		if err != nil {
			cwd = "."
		}
		req.OutputRoot = cwd
	}

	name := req.Descriptor.Name
	result.Target = name
	ctx, span := trace.Start(ctx, trace.ScopeDriver, "build")
	span.WithExtra("target", name).WithExtra("profile", string(req.Profile))
	defer span.End("")

	run := func(stage Stage, fn func(context.Context) error) error {
		start := time.Now()
		emit(req.Progress, name, stage, StatusWorking, nil, 0)
		err := fn(ctx)
		elapsed := time.Since(start)
		result.Timings.Set(stage, elapsed)
		if err != nil {
			emit(req.Progress, name, stage, StatusError, err, elapsed)
			trace.Error(trace.FromContext(ctx), trace.ScopeStage, string(stage), err, span.ID())
			return err
		}
		emit(req.Progress, name, stage, StatusDone, nil, elapsed)
		return nil
	}

	emit(req.Progress, name, StageTarget, StatusQueued, nil, 0)

	if err := run(StageTarget, func(context.Context) error { return req.Descriptor.Validate() }); err != nil {
		return result, err
	}
	desc := req.Descriptor.Normalize()

	result.OutputDir = OutputDir(req.OutputRoot, desc.Name, req.Profile)
	if err := os.MkdirAll(result.OutputDir, 0o750); err != nil {
		return result, fmt.Errorf("failed to create output dir: %w", err)
	}

	err := run(StagePrimitives, func(ctx context.Context) error {
		b := &runtimeprim.Builder{Toolchain: req.Toolchain, Cache: req.Cache, Jobs: req.Jobs}
		set, err := b.Build(ctx, desc)
		result.Primitives = set
		return err
	})
	if err != nil {
		return result, err
	}

	// Compile and link share one call; the kernel package reports which of
	// the two failed through the BuildError stage.
	kreq := req.Kernel
	kreq.OutDir = result.OutputDir
	kreq.ExtraCFlags = append(slices.Clone(req.Profile.CFlags()), kreq.ExtraCFlags...)
	if err := os.Remove(bootimage.ImagePath(kreq.OutputPath())); err != nil && !errors.Is(err, os.ErrNotExist) {
		return result, fmt.Errorf("failed to remove stale image: %w", err)
	}
	compileStart := time.Now()
	emit(req.Progress, name, StageCompile, StatusWorking, nil, 0)
	compiler := &kernel.Compiler{Toolchain: req.Toolchain, Jobs: req.Jobs}
	bin, err := compiler.Compile(ctx, kreq, desc, result.Primitives)
	if err != nil {
		stage := StageCompile
		var buildErr *toolchain.BuildError
		if errors.As(err, &buildErr) && buildErr.Stage == StageLink {
			stage = StageLink
		}
		result.Timings.Set(stage, time.Since(compileStart))
		emit(req.Progress, name, stage, StatusError, err, time.Since(compileStart))
		return result, err
	}
	result.Kernel = bin
	result.Timings.Set(StageCompile, time.Since(compileStart))
	emit(req.Progress, name, StageLink, StatusDone, nil, time.Since(compileStart))
	if !req.KeepTmp {
		if err := os.RemoveAll(filepath.Join(result.OutputDir, "obj")); err != nil {
			return result, fmt.Errorf("failed to clean object dir: %w", err)
		}
	}

	err = run(StageImage, func(ctx context.Context) error {
		a := &bootimage.Assembler{Stub: req.Stub}
		img, err := a.Assemble(ctx, bin)
		result.Image = img
		return err
	})
	if err != nil {
		return result, err
	}

	return result, nil
}

// BuildAll builds every request in parallel, at most parallel at a time,
// each in its own output directory. Results keep the order of reqs. All
// builds run to completion; the returned error joins every failure.
func BuildAll(ctx context.Context, reqs []*BuildRequest, parallel int) ([]BuildResult, error) {
	seen := make(map[string]bool, len(reqs))
	for _, req := range reqs {
		if req == nil {
			return nil, fmt.Errorf("missing build request")
		}
		name := req.Descriptor.Normalize().Name
		profile := req.Profile
		if profile == "" {
			profile = ProfileDebug
		}
		key := name + "/" + string(profile)
		if seen[key] {
			return nil, fmt.Errorf("target %s (%s) listed twice", name, profile)
		}
		seen[key] = true
	}

	results := make([]BuildResult, len(reqs))
	errs := make([]error, len(reqs))
	var g errgroup.Group
	g.SetLimit(max(parallel, 1))
	for i, req := range reqs {
		g.Go(func() error {
			results[i], errs[i] = Build(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}
