package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean [path]",
	Short: "Remove build artefacts (target directory)",
	Long: `Remove the target directory holding kernels and boot images. With --cache
the shared runtime primitive cache is dropped as well.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().Bool("cache", false, "also drop the runtime primitive cache")
	cleanCmd.Flags().String("cache-dir", "", "runtime primitive cache (default $XDG_CACHE_HOME/kiln)")
}

func runClean(cmd *cobra.Command, args []string) error {
	baseDir := "."
	if len(args) > 0 && args[0] != "" {
		baseDir = args[0]
	}
	baseDir, err := resolveCleanBase(baseDir)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	targetDir := filepath.Join(baseDir, "target")
	info, err := os.Stat(targetDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		_, _ = fmt.Fprintf(out, "target directory not found\n")
	case err != nil:
		return fmt.Errorf("failed to stat %q: %w", targetDir, err)
	case !info.IsDir():
		return fmt.Errorf("%q is not a directory", targetDir)
	default:
		if err := os.RemoveAll(targetDir); err != nil {
			return fmt.Errorf("failed to remove %q: %w", targetDir, err)
		}
		_, _ = fmt.Fprintf(out, "removed %s\n", formatPathForOutput(baseDir, targetDir))
	}

	dropCache, err := cmd.Flags().GetBool("cache")
	if err != nil || !dropCache {
		return err
	}
	cacheDir, err := cmd.Flags().GetString("cache-dir")
	if err != nil {
		return err
	}
	cache, err := openCache(cacheDir)
	if err != nil {
		return err
	}
	if err := cache.Drop(); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "dropped primitive cache %s\n", cache.Dir())
	return nil
}

func resolveCleanBase(base string) (string, error) {
	info, err := os.Stat(base)
	if err != nil {
		return "", fmt.Errorf("failed to stat %q: %w", base, err)
	}
	if !info.IsDir() {
		base = filepath.Dir(base)
	}
	manifest, ok, err := loadProjectManifest(base)
	if err != nil {
		return "", err
	}
	if ok {
		return manifest.Root, nil
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return base, nil
	}
	return abs, nil
}
