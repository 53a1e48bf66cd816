// Package trace provides structured tracing for kiln.
//
// Tracing follows a build or test run through its stages and the external
// commands they spawn, which helps diagnose slow toolchain steps and guests
// that never signal.
//
// # Usage
//
// Enable tracing via command-line flags:
//
//	kiln build --trace=- --trace-level=detail
//
// # Levels
//
//   - LevelOff: No tracing
//   - LevelError: Only failures
//   - LevelPhase: Driver and pipeline stage boundaries
//   - LevelDetail: Individual toolchain and emulator commands
//   - LevelDebug: Everything
//
// # Scopes
//
//   - ScopeDriver: Top-level CLI operations
//   - ScopeStage: Pipeline stages (primitives, compile, link, image, run)
//   - ScopeCommand: Spawned processes (clang, ld.lld, qemu)
//
// # Context Propagation
//
// Tracers travel with the request context:
//
//	ctx = trace.WithTracer(ctx, tracer)
//	span := trace.Begin(trace.FromContext(ctx), trace.ScopeStage, "primitives", 0)
//	defer span.End("")
package trace
