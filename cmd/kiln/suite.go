package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"kiln/internal/emulator"
	"kiln/internal/suite"
)

var suiteCmd = &cobra.Command{
	Use:   "suite [flags] <suite.yaml>",
	Short: "Run a suite of images against expected outcomes",
	Args:  cobra.ExactArgs(1),
	RunE:  suiteExecution,
}

func init() {
	addEmulatorFlags(suiteCmd)
	suiteCmd.Flags().Int("parallel", 0, "cases run at the same time (default from the suite)")
}

func suiteExecution(cmd *cobra.Command, args []string) error {
	s, err := suite.Load(args[0])
	if err != nil {
		return configError(err)
	}
	parallel, err := cmd.Flags().GetInt("parallel")
	if err != nil {
		return err
	}
	base, err := emulatorConfig(cmd, emulator.Config{}, nil)
	if err != nil {
		return err
	}

	var progress io.Writer
	if !quietFlag(cmd) && isTerminal(os.Stderr) {
		progress = cmd.ErrOrStderr()
	}
	runner := &suite.Runner{Base: base, Parallel: parallel, Progress: progress}
	results, err := runner.Run(cmd.Context(), s)
	if err != nil {
		return err
	}
	if err := suite.WriteReport(cmd.OutOrStdout(), results); err != nil {
		return err
	}
	if !results.OK() {
		return &exitError{code: exitFail}
	}
	return nil
}
