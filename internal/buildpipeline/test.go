package buildpipeline

import (
	"context"
	"time"

	"kiln/internal/emulator"
	"kiln/internal/trace"
)

// TestResult is a build followed by a boot.
type TestResult struct {
	Build BuildResult
	Run   emulator.Result
}

// Test builds req and boots the image with emu. A build failure is returned
// as is; the run's outcome is in TestResult.Run.
func Test(ctx context.Context, req *BuildRequest, emu emulator.Config) (TestResult, error) {
	var res TestResult
	build, err := Build(ctx, req)
	res.Build = build
	if err != nil {
		return res, err
	}

	ctx, span := trace.Start(ctx, trace.ScopeStage, "run")
	defer span.End("")

	start := time.Now()
	emit(req.Progress, build.Target, StageRun, StatusWorking, nil, 0)
	out, err := emu.Run(ctx, *build.Image)
	res.Run = out
	res.Build.Timings.Set(StageRun, time.Since(start))
	if err != nil {
		emit(req.Progress, build.Target, StageRun, StatusError, err, time.Since(start))
		return res, err
	}
	span.WithExtra("outcome", out.Outcome.String())
	emit(req.Progress, build.Target, StageRun, StatusDone, nil, time.Since(start))
	return res, nil
}
