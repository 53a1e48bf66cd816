package buildpipeline

import (
	"time"

	"kiln/internal/toolchain"
)

// Stage describes a high-level pipeline phase.
type Stage = toolchain.Stage

const (
	// StageTarget loads and validates the descriptor.
	StageTarget Stage = "target"
	// StagePrimitives builds or fetches the runtime primitive set.
	StagePrimitives = toolchain.StagePrimitives
	// StageCompile compiles kernel sources.
	StageCompile = toolchain.StageCompile
	// StageLink links and verifies the kernel.
	StageLink = toolchain.StageLink
	// StageImage assembles the boot image.
	StageImage = toolchain.StageImage
	// StageRun boots the image.
	StageRun Stage = "run"
)

// Stages lists the build stages in pipeline order.
var Stages = []Stage{StageTarget, StagePrimitives, StageCompile, StageLink, StageImage}

// Status captures progress state within a stage.
type Status string

const (
	// StatusQueued indicates the task is waiting to start.
	StatusQueued Status = "queued"
	// StatusWorking indicates the task is currently working.
	StatusWorking Status = "working"
	// StatusDone indicates the task is done.
	StatusDone Status = "done"
	// StatusError indicates the task encountered an error.
	StatusError Status = "error"
)

// Event reports progress for a target (or for the overall pipeline when
// Target is empty).
type Event struct {
	Target  string
	Stage   Stage
	Status  Status
	Err     error
	Elapsed time.Duration
}

// ProgressSink consumes progress events.
type ProgressSink interface {
	OnEvent(Event)
}

// Profile selects optimization settings.
type Profile string

const (
	// ProfileDebug keeps debug info and light optimization.
	ProfileDebug Profile = "debug"
	// ProfileRelease optimizes for speed.
	ProfileRelease Profile = "release"
)

// CFlags returns the compiler flags for p.
func (p Profile) CFlags() []string {
	if p == ProfileRelease {
		return []string{"-O2", "-DNDEBUG"}
	}
	return []string{"-Og", "-g"}
}

// Timings holds stage durations.
type Timings struct {
	stages map[Stage]time.Duration
}

func (t *Timings) ensure() {
	if t.stages == nil {
		t.stages = make(map[Stage]time.Duration)
	}
}

// Set stores a duration for the given stage.
func (t *Timings) Set(stage Stage, dur time.Duration) {
	if t == nil {
		return
	}
	t.ensure()
	t.stages[stage] = dur
}

// Has reports whether a duration for stage is recorded.
func (t Timings) Has(stage Stage) bool {
	if t.stages == nil {
		return false
	}
	_, ok := t.stages[stage]
	return ok
}

// Duration returns the recorded duration for stage.
func (t Timings) Duration(stage Stage) time.Duration {
	if t.stages == nil {
		return 0
	}
	return t.stages[stage]
}

// Sum returns the sum of durations across the provided stages.
func (t Timings) Sum(stages ...Stage) time.Duration {
	if t.stages == nil {
		return 0
	}
	var total time.Duration
	for _, stage := range stages {
		total += t.stages[stage]
	}
	return total
}
