package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"kiln/internal/runtimeprim"
	"kiln/internal/target"
)

var targetCmd = &cobra.Command{
	Use:   "target",
	Short: "Inspect target descriptors",
}

var targetShowCmd = &cobra.Command{
	Use:   "show <path|name>",
	Short: "Print the normalized descriptor as TOML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDescriptor(args[0])
		if err != nil {
			return err
		}
		enc := toml.NewEncoder(cmd.OutOrStdout())
		enc.Indent = ""
		return enc.Encode(d)
	},
}

var targetValidateCmd = &cobra.Command{
	Use:   "validate <path|name>...",
	Short: "Check descriptors for contradictions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var failed int
		for _, ref := range args {
			d, err := resolveDescriptor(ref)
			if err == nil {
				err = d.Validate()
			}
			if err != nil {
				failed++
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", ref, err)
				continue
			}
			if !quietFlag(cmd) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (primitives: %s)\n", d.Name, strings.Join(runtimeprim.RequiredPrimitives(d), ", "))
			}
		}
		if failed > 0 {
			return &exitError{code: exitConfig}
		}
		return nil
	},
}

var targetHashCmd = &cobra.Command{
	Use:   "hash <path|name>",
	Short: "Print the descriptor digest used as the primitive cache key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDescriptor(args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", d.Digest().Hex(), d.Name)
		return err
	},
}

var targetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List builtin descriptors",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		for _, name := range target.BuiltinNames() {
			d, _ := target.Builtin(name)
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%-14s %s\n", name, d.LLVMTarget); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	targetCmd.AddCommand(targetShowCmd, targetValidateCmd, targetHashCmd, targetListCmd)
}

// resolveDescriptor accepts a builtin name or a path relative to the
// working directory.
func resolveDescriptor(ref string) (target.Descriptor, error) {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	d, err := target.Resolve(ref, cwd)
	if err != nil {
		return target.Descriptor{}, configError(err)
	}
	return d, nil
}
