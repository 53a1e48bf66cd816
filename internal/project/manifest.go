package project

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultTestTimeout bounds a guest test run when the manifest sets none.
const DefaultTestTimeout = 300 * time.Second

// Manifest is a loaded kiln.toml.
type Manifest struct {
	Path   string
	Root   string
	Config Config
}

// Config mirrors the kiln.toml layout.
type Config struct {
	Package PackageConfig `toml:"package"`
	Target  TargetConfig  `toml:"target"`
	Kernel  KernelConfig  `toml:"kernel"`
	Boot    BootConfig    `toml:"boot"`
	Test    TestConfig    `toml:"test"`
}

// PackageConfig names the kernel.
type PackageConfig struct {
	Name string `toml:"name"`
}

// TargetConfig selects the target descriptors. Each entry is a descriptor
// file relative to the manifest or a built-in descriptor name.
type TargetConfig struct {
	Descriptor  string   `toml:"descriptor"`
	Descriptors []string `toml:"descriptors"`
}

// KernelConfig lists the kernel's own sources.
type KernelConfig struct {
	Sources      []string `toml:"sources"`
	LinkerScript string   `toml:"linker_script"`
	Entry        string   `toml:"entry"`
	CFlags       []string `toml:"cflags"`
	TestCFlags   []string `toml:"test_cflags"`
}

// BootConfig configures the boot-stub collaborator. An empty Stub boots the
// kernel directly.
type BootConfig struct {
	Stub []string `toml:"stub"`
}

// TestConfig configures the emulator used by run and test.
type TestConfig struct {
	Timeout  Duration `toml:"timeout"`
	QEMU     string   `toml:"qemu"`
	Memory   string   `toml:"memory"`
	RunArgs  []string `toml:"run_args"`
	TestArgs []string `toml:"test_args"`
}

// Duration decodes Go duration strings such as "300s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// LoadManifest finds and loads kiln.toml starting at startDir.
func LoadManifest(startDir string) (*Manifest, bool, error) {
	manifestPath, ok, err := FindManifest(startDir)
	if err != nil || !ok {
		return nil, ok, err
	}
	cfg, err := LoadConfig(manifestPath)
	if err != nil {
		return nil, true, err
	}
	return &Manifest{
		Path:   manifestPath,
		Root:   filepath.Dir(manifestPath),
		Config: cfg,
	}, true, nil
}

// LoadConfig decodes and validates the manifest at path.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}
	if !meta.IsDefined("package", "name") || strings.TrimSpace(cfg.Package.Name) == "" {
		return Config{}, fmt.Errorf("%s: missing [package].name", path)
	}
	if !meta.IsDefined("target") {
		return Config{}, fmt.Errorf("%s: missing [target]", path)
	}
	if cfg.Target.Descriptor == "" && len(cfg.Target.Descriptors) == 0 {
		return Config{}, fmt.Errorf("%s: missing [target].descriptor", path)
	}
	if !meta.IsDefined("kernel", "sources") || len(cfg.Kernel.Sources) == 0 {
		return Config{}, fmt.Errorf("%s: missing [kernel].sources", path)
	}
	if cfg.Kernel.Entry == "" {
		cfg.Kernel.Entry = "_start"
	}
	if cfg.Test.Timeout == 0 {
		cfg.Test.Timeout = Duration(DefaultTestTimeout)
	}
	return cfg, nil
}

// TargetRefs returns the configured descriptor references in declaration order.
func (c Config) TargetRefs() []string {
	refs := make([]string, 0, 1+len(c.Target.Descriptors))
	if c.Target.Descriptor != "" {
		refs = append(refs, c.Target.Descriptor)
	}
	refs = append(refs, c.Target.Descriptors...)
	return refs
}

// Resolve returns rel joined to the manifest root unless it is absolute.
func (m *Manifest) Resolve(rel string) string {
	if rel == "" || filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(m.Root, filepath.FromSlash(rel))
}

// Sources returns the kernel sources as absolute paths.
func (m *Manifest) Sources() []string {
	out := make([]string, 0, len(m.Config.Kernel.Sources))
	for _, src := range m.Config.Kernel.Sources {
		out = append(out, m.Resolve(src))
	}
	return out
}
