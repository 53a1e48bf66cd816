package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"kiln/internal/toolchain"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the toolchain and emulator are installed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		checks := toolchain.Doctor(cmd.Context(), toolchain.Requirements)
		out := cmd.OutOrStdout()
		for _, c := range checks {
			var mark string
			switch {
			case c.OK:
				mark = color.GreenString("ok  ")
			case c.Optional:
				mark = color.YellowString("warn")
			default:
				mark = color.RedString("fail")
			}
			detail := c.Path
			if c.Version != "" {
				detail = fmt.Sprintf("%s (%s)", c.Path, c.Version)
			}
			if c.Problem != "" {
				detail = c.Problem
			}
			fmt.Fprintf(out, "%s %-20s %s\n", mark, c.Tool, detail)
		}
		if !toolchain.Healthy(checks) {
			return &exitError{code: exitConfig}
		}
		return nil
	},
}
