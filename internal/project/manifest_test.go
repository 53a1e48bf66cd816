package project

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeManifest(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ManifestName)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestLoadManifestWalksUp(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `
[package]
name = "blog-os"

[target]
descriptor = "x86_64-kiln"

[kernel]
sources = ["src/boot.S", "src/main.c"]
linker_script = "linker.ld"

[test]
timeout = "45s"
test_args = ["-m", "64M"]
`)
	nested := filepath.Join(root, "src", "arch")
	if err := os.MkdirAll(nested, 0o750); err != nil {
		t.Fatal(err)
	}

	m, ok, err := LoadManifest(nested)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if !ok {
		t.Fatal("expected manifest to be found")
	}
	if m.Root != root {
		t.Fatalf("Root = %q; want %q", m.Root, root)
	}
	if m.Config.Kernel.Entry != "_start" {
		t.Fatalf("expected default entry _start; got %q", m.Config.Kernel.Entry)
	}
	if got := m.Config.Test.Timeout.Duration(); got != 45*time.Second {
		t.Fatalf("Timeout = %v; want 45s", got)
	}
	srcs := m.Sources()
	if len(srcs) != 2 || srcs[1] != filepath.Join(root, "src", "main.c") {
		t.Fatalf("unexpected sources %v", srcs)
	}
	if refs := m.Config.TargetRefs(); len(refs) != 1 || refs[0] != "x86_64-kiln" {
		t.Fatalf("unexpected target refs %v", refs)
	}
}

func TestLoadConfigDefaultsTimeout(t *testing.T) {
	path := writeManifest(t, t.TempDir(), `
[package]
name = "k"
[target]
descriptors = ["a.toml", "b.json"]
[kernel]
sources = ["main.c"]
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Test.Timeout.Duration() != DefaultTestTimeout {
		t.Fatalf("expected default timeout; got %v", cfg.Test.Timeout.Duration())
	}
	if refs := cfg.TargetRefs(); len(refs) != 2 {
		t.Fatalf("unexpected target refs %v", refs)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	specs := []struct {
		name    string
		content string
		exp     string
	}{
		{"missing name", "[package]\n[target]\ndescriptor=\"x\"\n[kernel]\nsources=[\"a.c\"]\n", "missing [package].name"},
		{"missing target", "[package]\nname=\"k\"\n[kernel]\nsources=[\"a.c\"]\n", "missing [target]"},
		{"missing sources", "[package]\nname=\"k\"\n[target]\ndescriptor=\"x\"\n", "missing [kernel].sources"},
		{"unknown key", "[package]\nname=\"k\"\nversion=\"1\"\n[target]\ndescriptor=\"x\"\n[kernel]\nsources=[\"a.c\"]\n", "unknown key"},
		{"bad duration", "[package]\nname=\"k\"\n[target]\ndescriptor=\"x\"\n[kernel]\nsources=[\"a.c\"]\n[test]\ntimeout=\"soon\"\n", "invalid duration"},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			path := writeManifest(t, t.TempDir(), spec.content)
			_, err := LoadConfig(path)
			if err == nil || !strings.Contains(err.Error(), spec.exp) {
				t.Fatalf("expected error containing %q; got %v", spec.exp, err)
			}
		})
	}
}

func TestFindManifestMissing(t *testing.T) {
	_, ok, err := FindManifest(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Skip("a kiln.toml exists above the temp dir")
	}
}

func TestCombineIsOrderSensitive(t *testing.T) {
	a := BytesDigest([]byte("a"))
	b := BytesDigest([]byte("b"))
	var base Digest
	if Combine(base, a, b) == Combine(base, b, a) {
		t.Fatal("expected dependency order to change the digest")
	}
	if Combine(base, a, b) != Combine(base, a, b) {
		t.Fatal("expected Combine to be deterministic")
	}
}
