package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"kiln/internal/buildpipeline"
	"kiln/internal/diag"
	"kiln/internal/toolchain"
)

var buildCmd = &cobra.Command{
	Use:   "build [flags]",
	Short: "Build the kernel and its boot image",
	Long: `Build the kernel described by kiln.toml for every configured target
descriptor. Artefacts land in target/<descriptor>/<profile>.`,
	Args: cobra.NoArgs,
	RunE: buildExecution,
}

func init() {
	addBuildFlags(buildCmd, true)
}

func buildExecution(cmd *cobra.Command, _ []string) error {
	settings, err := readBuildSettings(cmd)
	if err != nil {
		return err
	}
	manifest, err := requireManifest()
	if err != nil {
		return err
	}
	reqs, err := buildRequests(manifest, settings, false)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var results []buildpipeline.BuildResult
	if useProgressView(settings, quietFlag(cmd), isTerminal(os.Stdout)) {
		results, err = runBuildsWithUI(cmd.Context(), "kiln build", reqs, settings.parallel)
	} else {
		results, err = buildpipeline.BuildAll(cmd.Context(), reqs, settings.parallel)
	}

	for _, res := range results {
		if timingsFlag(cmd) {
			printStageTimings(out, res.Target, res.Timings)
		}
		if res.Image == nil {
			continue
		}
		if quietFlag(cmd) {
			continue
		}
		if _, printErr := fmt.Fprintf(out, "built %s -> %s\n", res.Target, formatPathForOutput(manifest.Root, res.Image.Path)); printErr != nil {
			return printErr
		}
	}
	if err != nil {
		reportBuildError(cmd.ErrOrStderr(), err)
		return &exitError{code: exitCode(err)}
	}
	return nil
}

// reportBuildError prints err followed by the parsed toolchain diagnostics
// of every failed target.
func reportBuildError(w io.Writer, err error) {
	fmt.Fprintln(w, err)
	bag := diag.NewBag(diag.DefaultLimit)
	for _, buildErr := range buildErrors(err) {
		bag.Merge(buildErr.Diagnostics)
	}
	if bag.Len() > 0 {
		_ = diag.Pretty(w, bag)
	}
}

func buildErrors(err error) []*toolchain.BuildError {
	var out []*toolchain.BuildError
	var walk func(error)
	walk = func(err error) {
		switch e := err.(type) {
		case nil:
		case *toolchain.BuildError:
			out = append(out, e)
		case interface{ Unwrap() []error }:
			for _, inner := range e.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(e.Unwrap())
		}
	}
	walk(err)
	return out
}

func formatPathForOutput(root, path string) string {
	if root == "" || path == "" {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	if strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}
