package suite

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"kiln/internal/bootimage"
	"kiln/internal/emulator"
	"kiln/internal/exitcode"
)

// LaunchFunc boots one image. The default is emulator.Config.Run.
type LaunchFunc func(ctx context.Context, cfg emulator.Config, img bootimage.Image) (emulator.Result, error)

// Runner executes suites.
type Runner struct {
	// Base is merged under every case's settings.
	Base emulator.Config
	// Parallel overrides the suite's parallelism when positive.
	Parallel int
	// Progress receives a progress bar; nil disables it.
	Progress io.Writer
	Launch   LaunchFunc
}

// CaseResult is the verdict for one case.
type CaseResult struct {
	Name     string
	Expected exitcode.Outcome
	Result   emulator.Result
	Err      error
	Skipped  bool
	Matched  bool
	// Reason explains a mismatch.
	Reason string
}

// Results summarizes a suite run.
type Results struct {
	Suite    string
	Cases    []CaseResult
	Passed   int
	Failed   int
	Skipped  int
	Duration time.Duration
}

// OK reports whether every case that ran met its expectation.
func (r *Results) OK() bool {
	return r.Failed == 0
}

// Run executes every case. Case failures are recorded in Results; the error
// return is reserved for cancellation.
func (r *Runner) Run(ctx context.Context, s *Suite) (*Results, error) {
	start := time.Now()
	launch := r.Launch
	if launch == nil {
		launch = func(ctx context.Context, cfg emulator.Config, img bootimage.Image) (emulator.Result, error) {
			return cfg.Run(ctx, img)
		}
	}
	parallel := s.Parallel
	if r.Parallel > 0 {
		parallel = r.Parallel
	}

	var bar *progressbar.ProgressBar
	if r.Progress != nil {
		bar = progressbar.NewOptions(len(s.Cases),
			progressbar.OptionSetWriter(r.Progress),
			progressbar.OptionSetDescription(s.Name),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	results := make([]CaseResult, len(s.Cases))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallel, 1))
	for i, c := range s.Cases {
		g.Go(func() error {
			res := r.runCase(gctx, s, c, launch)
			results[i] = res
			if bar != nil {
				mu.Lock()
				bar.Describe(c.Name)
				_ = bar.Add(1)
				mu.Unlock()
			}
			return gctx.Err()
		})
	}
	_ = g.Wait()
	if bar != nil {
		_ = bar.Finish()
	}

	out := &Results{Suite: s.Name, Cases: results, Duration: time.Since(start)}
	for _, c := range results {
		switch {
		case c.Skipped:
			out.Skipped++
		case c.Matched:
			out.Passed++
		default:
			out.Failed++
		}
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func (r *Runner) runCase(ctx context.Context, s *Suite, c Case, launch LaunchFunc) CaseResult {
	res := CaseResult{Name: c.Name, Expected: c.Expect.Outcome()}
	if c.Skip {
		res.Skipped = true
		return res
	}
	if err := ctx.Err(); err != nil {
		res.Err = err
		res.Reason = "cancelled"
		return res
	}

	path := c.Image
	if !filepath.IsAbs(path) && s.Dir != "" {
		path = filepath.Join(s.Dir, path)
	}
	format := bootimage.GuessFormat(path)
	if c.Format != "" {
		format, _ = bootimage.ParseFormat(c.Format)
	}

	cfg := r.Base
	if s.QEMU != "" {
		cfg.Binary = s.QEMU
	}
	if s.Memory != "" {
		cfg.Memory = s.Memory
	}
	if d := s.Timeout.Duration(); d > 0 {
		cfg.Timeout = d
	}
	if d := c.Timeout.Duration(); d > 0 {
		cfg.Timeout = d
	}
	cfg.ExtraArgs = append(append(append([]string(nil), cfg.ExtraArgs...), s.Args...), c.Args...)
	// Parallel cases must not interleave on a shared writer.
	cfg.Serial = nil

	out, err := launch(ctx, cfg, bootimage.Image{Path: path, Format: format})
	res.Result = out
	if err != nil {
		res.Err = err
		res.Reason = err.Error()
		return res
	}
	if out.Outcome != res.Expected {
		res.Reason = fmt.Sprintf("expected %s, got %s", res.Expected, out)
		return res
	}
	for _, want := range c.SerialContains {
		if !strings.Contains(out.SerialTail, want) {
			res.Reason = fmt.Sprintf("serial output does not contain %q", want)
			return res
		}
	}
	res.Matched = true
	return res
}
