package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"kiln/internal/buildpipeline"
	"kiln/internal/emulator"
	"kiln/internal/exitcode"
	"kiln/internal/project"
)

var testCmd = &cobra.Command{
	Use:   "test [flags] [-- qemu args]",
	Short: "Build the test kernel and boot it",
	Long: `Build the kernel with the manifest's test cflags for every target, boot
each image and report the guest verdicts. The exit code follows kiln run:
the worst outcome across targets wins.`,
	RunE: testExecution,
}

func init() {
	// No progress view: it would interleave with serial output.
	addBuildFlags(testCmd, false)
	addEmulatorFlags(testCmd)
}

func testExecution(cmd *cobra.Command, args []string) error {
	settings, err := readBuildSettings(cmd)
	if err != nil {
		return err
	}
	manifest, err := requireManifest()
	if err != nil {
		return err
	}
	reqs, err := buildRequests(manifest, settings, true)
	if err != nil {
		return err
	}
	_, extra := splitArgsAtDash(cmd, args)
	base := manifestEmulator(manifest.Config.Test)
	base.ExtraArgs = append(base.ExtraArgs, manifest.Config.Test.TestArgs...)

	worst := exitcode.Pass
	out := cmd.OutOrStdout()
	for _, req := range reqs {
		cfg, err := emulatorConfig(cmd, base, extra)
		if err != nil {
			return err
		}
		if cfg.Binary == "" {
			cfg.Binary = req.Descriptor.Emulator()
		}
		res, err := buildpipeline.Test(cmd.Context(), req, cfg)
		if timingsFlag(cmd) {
			printStageTimings(out, res.Build.Target, res.Build.Timings)
		}
		if err != nil {
			var launchErr *emulator.LaunchError
			if errors.As(err, &launchErr) {
				return err
			}
			reportBuildError(cmd.ErrOrStderr(), err)
			return &exitError{code: exitCode(err)}
		}
		printResult(out, req.Descriptor.Name, res.Run, false)
		worst = worse(worst, res.Run.Outcome)
	}
	if len(reqs) > 1 && !quietFlag(cmd) {
		fmt.Fprintf(out, "overall: %s\n", worst)
	}
	return outcomeError(worst)
}

// worse ranks Hung above Fail above Pass.
func worse(a, b exitcode.Outcome) exitcode.Outcome {
	rank := func(o exitcode.Outcome) int {
		switch o {
		case exitcode.Pass:
			return 0
		case exitcode.Fail:
			return 1
		default:
			return 2
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

func manifestEmulator(cfg project.TestConfig) emulator.Config {
	return emulator.Config{
		Binary:    cfg.QEMU,
		Memory:    cfg.Memory,
		ExtraArgs: append([]string(nil), cfg.RunArgs...),
		Timeout:   cfg.Timeout.Duration(),
	}
}
