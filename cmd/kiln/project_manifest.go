package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kiln/internal/bootimage"
	"kiln/internal/buildpipeline"
	"kiln/internal/kernel"
	"kiln/internal/project"
	"kiln/internal/runtimeprim"
	"kiln/internal/target"
	"kiln/internal/toolchain"
)

const noManifestMessage = "no kiln.toml found in this directory or any parent (run `kiln init` to create one)"

func loadProjectManifest(dir string) (*project.Manifest, bool, error) {
	manifest, ok, err := project.LoadManifest(dir)
	if err != nil {
		return nil, ok, configError(err)
	}
	return manifest, ok, nil
}

func requireManifest() (*project.Manifest, error) {
	manifest, ok, err := loadProjectManifest(".")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, configError(errors.New(noManifestMessage))
	}
	return manifest, nil
}

// buildSettings holds the flags shared by build and test.
type buildSettings struct {
	targets       []string
	release       bool
	keepTmp       bool
	printCommands bool
	jobs          int
	parallel      int
	cacheDir      string
	ui            progressMode
}

func addBuildFlags(cmd *cobra.Command, withUI bool) {
	cmd.Flags().StringSlice("target", nil, "descriptor path or builtin name (repeatable; default from kiln.toml)")
	cmd.Flags().Bool("release", false, "optimize for release")
	cmd.Flags().Bool("keep-tmp", false, "keep object files next to the kernel")
	cmd.Flags().Bool("print-commands", false, "print toolchain commands")
	cmd.Flags().Int("jobs", 0, "parallel compiles per target (0 = number of CPUs)")
	cmd.Flags().Int("parallel", 1, "targets built at the same time")
	cmd.Flags().String("cache-dir", "", "runtime primitive cache (default $XDG_CACHE_HOME/kiln)")
	if withUI {
		cmd.Flags().String("ui", "auto", "user interface (auto|on|off)")
	}
}

func readBuildSettings(cmd *cobra.Command) (buildSettings, error) {
	var (
		s   buildSettings
		err error
	)
	if s.targets, err = cmd.Flags().GetStringSlice("target"); err != nil {
		return s, err
	}
	if s.release, err = cmd.Flags().GetBool("release"); err != nil {
		return s, err
	}
	if s.keepTmp, err = cmd.Flags().GetBool("keep-tmp"); err != nil {
		return s, err
	}
	if s.printCommands, err = cmd.Flags().GetBool("print-commands"); err != nil {
		return s, err
	}
	if s.jobs, err = cmd.Flags().GetInt("jobs"); err != nil {
		return s, err
	}
	if s.parallel, err = cmd.Flags().GetInt("parallel"); err != nil {
		return s, err
	}
	if s.cacheDir, err = cmd.Flags().GetString("cache-dir"); err != nil {
		return s, err
	}
	s.ui = progressOff
	if cmd.Flags().Lookup("ui") == nil {
		return s, nil
	}
	uiValue, err := cmd.Flags().GetString("ui")
	if err != nil {
		return s, err
	}
	if s.ui, err = parseProgressMode(uiValue, s.printCommands); err != nil {
		return s, configError(err)
	}
	return s, nil
}

func openCache(dir string) (*runtimeprim.Cache, error) {
	if dir == "" {
		dir = os.Getenv("KILN_CACHE_DIR")
	}
	if dir == "" {
		var err error
		dir, err = runtimeprim.DefaultCacheDir("kiln")
		if err != nil {
			return nil, fmt.Errorf("failed to locate cache dir: %w", err)
		}
	}
	return runtimeprim.OpenCache(dir)
}

// buildRequests turns the manifest and flags into one request per target.
// Test builds add the test cflags and use a separate kernel name so they do
// not overwrite the regular artefact.
func buildRequests(manifest *project.Manifest, s buildSettings, forTest bool) ([]*buildpipeline.BuildRequest, error) {
	refs := s.targets
	if len(refs) == 0 {
		refs = manifest.Config.TargetRefs()
	}
	descriptors := make([]target.Descriptor, 0, len(refs))
	for _, ref := range refs {
		d, err := target.Resolve(ref, manifest.Root)
		if err != nil {
			return nil, configError(err)
		}
		descriptors = append(descriptors, d)
	}

	tc, err := toolchain.Detect(toolchain.Options{})
	if err != nil {
		return nil, err
	}
	tc.PrintCommands = s.printCommands

	cache, err := openCache(s.cacheDir)
	if err != nil {
		return nil, err
	}

	profile := buildpipeline.ProfileDebug
	if s.release {
		profile = buildpipeline.ProfileRelease
	}

	kcfg := manifest.Config.Kernel
	kreq := kernel.Request{
		Name:         manifest.Config.Package.Name,
		Sources:      manifest.Sources(),
		LinkerScript: manifest.Resolve(kcfg.LinkerScript),
		Entry:        kcfg.Entry,
		IncludeDirs:  []string{manifest.Root},
		ExtraCFlags:  append([]string(nil), kcfg.CFlags...),
	}
	if forTest {
		kreq.Name += "-test"
		kreq.ExtraCFlags = append(kreq.ExtraCFlags, kcfg.TestCFlags...)
	}

	var stub bootimage.Stub
	if len(manifest.Config.Boot.Stub) > 0 {
		stub = bootimage.CommandStub{Argv: manifest.Config.Boot.Stub, Dir: manifest.Root, Runner: tc}
	}

	reqs := make([]*buildpipeline.BuildRequest, 0, len(descriptors))
	for _, d := range descriptors {
		reqs = append(reqs, &buildpipeline.BuildRequest{
			Descriptor: d,
			Kernel:     kreq,
			OutputRoot: manifest.Root,
			Profile:    profile,
			Toolchain:  tc,
			Cache:      cache,
			Stub:       stub,
			Jobs:       s.jobs,
			KeepTmp:    s.keepTmp,
		})
	}
	return reqs, nil
}
