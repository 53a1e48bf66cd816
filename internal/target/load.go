package target

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// BuiltinName is the name of the default x86_64 kernel target.
const BuiltinName = "x86_64-kiln"

var builtins = map[string]Descriptor{
	BuiltinName: {
		Name:             BuiltinName,
		Arch:             "x86_64",
		PointerWidth:     64,
		LLVMTarget:       "x86_64-unknown-none",
		Features:         []string{"-mmx", "-sse", "+soft-float"},
		DisabledFeatures: []string{FeatureSIMD, FeatureRedZone},
		Panic:            PanicAbort,
	},
	"i686-kiln": {
		Name:             "i686-kiln",
		Arch:             "i686",
		PointerWidth:     32,
		LLVMTarget:       "i686-unknown-none",
		Features:         []string{"-mmx", "-sse", "+soft-float"},
		DisabledFeatures: []string{FeatureSIMD},
		Panic:            PanicAbort,
	},
}

// Builtin returns the built-in descriptor called name.
func Builtin(name string) (Descriptor, bool) {
	d, ok := builtins[name]
	if !ok {
		return Descriptor{}, false
	}
	return d.Normalize(), true
}

// BuiltinNames returns the names of all built-in descriptors.
func BuiltinNames() []string {
	return []string{BuiltinName, "i686-kiln"}
}

// Resolve loads ref as a built-in name or as a descriptor file relative to baseDir.
func Resolve(ref, baseDir string) (Descriptor, error) {
	if d, ok := Builtin(ref); ok {
		return d, nil
	}
	path := ref
	if !filepath.IsAbs(path) && baseDir != "" {
		path = filepath.Join(baseDir, filepath.FromSlash(ref))
	}
	return Load(path)
}

// Load reads a descriptor document. TOML files use kiln's own layout; JSON
// files use the rust-style target specification layout.
func Load(path string) (Descriptor, error) {
	var (
		d   Descriptor
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		d, err = loadTOML(path)
	case ".json":
		d, err = loadJSON(path)
	default:
		return Descriptor{}, fmt.Errorf("%s: unsupported descriptor format (expected .toml or .json)", path)
	}
	if err != nil {
		return Descriptor{}, err
	}
	if d.Name == "" {
		d.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return d.Normalize(), nil
}

func loadTOML(path string) (Descriptor, error) {
	var d Descriptor
	meta, err := toml.DecodeFile(path, &d)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Descriptor{}, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}
	return d, nil
}

type jsonTarget struct {
	LLVMTarget     string          `json:"llvm-target"`
	Arch           string          `json:"arch"`
	PointerWidth   json.RawMessage `json:"target-pointer-width"`
	OS             string          `json:"os"`
	Features       string          `json:"features"`
	DisableRedzone bool            `json:"disable-redzone"`
	PanicStrategy  string          `json:"panic-strategy"`
	Linker         string          `json:"linker"`
	CodeModel      string          `json:"code-model"`
	Primitives     []Primitive     `json:"kiln-primitives"`
}

func loadJSON(path string) (Descriptor, error) {
	// #nosec G304 -- descriptor path comes from build configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("failed to read descriptor: %w", err)
	}
	var jt jsonTarget
	if err := json.Unmarshal(data, &jt); err != nil {
		return Descriptor{}, fmt.Errorf("%s: failed to parse JSON: %w", path, err)
	}

	d := Descriptor{
		Arch:       jt.Arch,
		LLVMTarget: jt.LLVMTarget,
		Linker:     jt.Linker,
		CodeModel:  jt.CodeModel,
		Panic:      PanicStrategy(jt.PanicStrategy),
		Primitives: jt.Primitives,
	}
	// rustc defaults to unwinding when the field is absent.
	if d.Panic == "" {
		d.Panic = PanicUnwind
	}
	if len(jt.PointerWidth) > 0 {
		raw := strings.Trim(string(jt.PointerWidth), `"`)
		width, err := strconv.Atoi(raw)
		if err != nil {
			return Descriptor{}, fmt.Errorf("%s: invalid target-pointer-width %s", path, jt.PointerWidth)
		}
		d.PointerWidth = width
	}
	for _, f := range strings.Split(jt.Features, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		d.Features = append(d.Features, f)
		if f == "-sse" || f == "-neon" {
			d.DisabledFeatures = append(d.DisabledFeatures, FeatureSIMD)
		}
	}
	if jt.DisableRedzone {
		d.DisabledFeatures = append(d.DisabledFeatures, FeatureRedZone)
	}
	return d, nil
}
