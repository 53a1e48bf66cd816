package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"kiln/internal/bootimage"
	"kiln/internal/emulator"
	"kiln/internal/exitcode"
	"kiln/internal/suite"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] <image> [-- qemu args]",
	Short: "Boot an image and report the guest's verdict",
	Long: `Boot a kernel or disk image under QEMU with the debug-exit device attached.
Exits 0 when the guest reports success, 1 on failure, 2 when it never
signals before the timeout and 3 when QEMU cannot be launched.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExecution,
}

func init() {
	addEmulatorFlags(runCmd)
	runCmd.Flags().String("format", "", "image format (kernel|disk; default: detect)")
}

func addEmulatorFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("timeout", 0, "wall-clock limit for the guest (default 300s)")
	cmd.Flags().String("qemu", "", "emulator binary")
	cmd.Flags().String("memory", "", "guest memory (qemu -m)")
	cmd.Flags().Bool("serial", false, "stream the guest's serial output")
}

// emulatorConfig merges flags over base.
func emulatorConfig(cmd *cobra.Command, base emulator.Config, extra []string) (emulator.Config, error) {
	cfg := base
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return cfg, err
	}
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	qemu, err := cmd.Flags().GetString("qemu")
	if err != nil {
		return cfg, err
	}
	if qemu != "" {
		cfg.Binary = qemu
	}
	memory, err := cmd.Flags().GetString("memory")
	if err != nil {
		return cfg, err
	}
	if memory != "" {
		cfg.Memory = memory
	}
	serial, err := cmd.Flags().GetBool("serial")
	if err != nil {
		return cfg, err
	}
	if serial {
		cfg.Serial = cmd.OutOrStdout()
	}
	cfg.ExtraArgs = append(append([]string(nil), cfg.ExtraArgs...), extra...)
	return cfg, nil
}

func runExecution(cmd *cobra.Command, args []string) error {
	imageArgs, extra := splitArgsAtDash(cmd, args)
	if len(imageArgs) != 1 {
		return configError(fmt.Errorf("expected exactly one image, got %d", len(imageArgs)))
	}
	path := imageArgs[0]
	if _, err := os.Stat(path); err != nil {
		return configError(fmt.Errorf("image: %w", err))
	}

	formatValue, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	format := bootimage.GuessFormat(path)
	if formatValue != "" {
		if format, err = bootimage.ParseFormat(formatValue); err != nil {
			return configError(err)
		}
	}

	cfg, err := emulatorConfig(cmd, emulator.Config{}, extra)
	if err != nil {
		return err
	}
	res, err := cfg.Run(cmd.Context(), bootimage.Image{Path: path, Format: format})
	if err != nil {
		return err
	}
	printResult(cmd.OutOrStdout(), path, res, timingsFlag(cmd))
	return outcomeError(res.Outcome)
}

// printResult writes the verdict line and, for anything but a pass, the
// tail of the guest's output.
func printResult(w io.Writer, name string, res emulator.Result, timings bool) {
	label := suite.OutcomeColor(res.Outcome).Sprint(res.Outcome.String())
	fmt.Fprintf(w, "%s %s: %s\n", label, name, res)
	if timings {
		fmt.Fprintf(w, "ran %.1f ms\n", toMillis(res.Elapsed))
	}
	if res.Outcome == exitcode.Pass {
		return
	}
	if res.SerialTail != "" {
		fmt.Fprintf(w, "--- serial (last %d bytes) ---\n%s\n", len(res.SerialTail), res.SerialTail)
	}
	if res.StderrTail != "" {
		fmt.Fprintf(w, "--- qemu stderr ---\n%s\n", res.StderrTail)
	}
}

// splitArgsAtDash separates positional args from those after "--".
func splitArgsAtDash(cmd *cobra.Command, args []string) ([]string, []string) {
	dash := cmd.ArgsLenAtDash()
	if dash < 0 {
		return args, nil
	}
	return args[:dash], args[dash:]
}
