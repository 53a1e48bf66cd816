package toolchain

import (
	"context"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// Requirement is a tool kiln needs, with the oldest supported version.
type Requirement struct {
	Tool       string
	Alternates []string
	MinVersion string
	// Optional tools produce a warning instead of a failure.
	Optional bool
}

// Requirements lists the tools checked by Doctor.
var Requirements = []Requirement{
	{Tool: "clang", MinVersion: "14.0.0"},
	{Tool: "ld.lld", MinVersion: "14.0.0"},
	{Tool: "llvm-ar", Alternates: []string{"ar"}},
	{Tool: "qemu-system-x86_64", MinVersion: "6.0.0"},
	{Tool: "qemu-system-i386", MinVersion: "6.0.0", Optional: true},
}

// Check is the outcome of probing one Requirement.
type Check struct {
	Requirement
	Path    string
	Version string
	OK      bool
	Problem string
}

var versionRe = regexp.MustCompile(`(?i)(?:version|LLD)\s+v?(\d+\.\d+(?:\.\d+)?)`)

// versionOutput runs "<path> --version". Replaced in tests.
var versionOutput = func(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	// #nosec G204 -- path comes from exec.LookPath
	out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	return string(out), err
}

var lookPath = exec.LookPath

// Doctor probes every requirement.
func Doctor(ctx context.Context, reqs []Requirement) []Check {
	checks := make([]Check, 0, len(reqs))
	for _, req := range reqs {
		checks = append(checks, probe(ctx, req))
	}
	return checks
}

// Healthy reports whether no mandatory requirement failed.
func Healthy(checks []Check) bool {
	for _, c := range checks {
		if !c.OK && !c.Optional {
			return false
		}
	}
	return true
}

func probe(ctx context.Context, req Requirement) Check {
	check := Check{Requirement: req}
	for _, name := range append([]string{req.Tool}, req.Alternates...) {
		if path, err := lookPath(name); err == nil {
			check.Path = path
			break
		}
	}
	if check.Path == "" {
		check.Problem = "not found on PATH"
		return check
	}

	out, err := versionOutput(ctx, check.Path)
	if m := versionRe.FindStringSubmatch(out); m != nil {
		check.Version = m[1]
	}
	if req.MinVersion == "" {
		check.OK = true
		return check
	}
	if check.Version == "" {
		check.Problem = "cannot determine version"
		if err != nil {
			check.Problem += ": " + err.Error()
		}
		return check
	}
	if semver.Compare(canonical(check.Version), canonical(req.MinVersion)) < 0 {
		check.Problem = "version " + check.Version + " is older than " + req.MinVersion
		return check
	}
	check.OK = true
	return check
}

func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.Canonical(v)
}
