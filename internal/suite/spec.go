// Package suite runs a YAML-described set of boot images and compares each
// outcome with the one the case expects.
package suite

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"kiln/internal/bootimage"
	"kiln/internal/exitcode"
)

// Suite is the top-level document of a suite file.
type Suite struct {
	Name     string   `yaml:"name"`
	Timeout  Duration `yaml:"timeout"`
	Parallel int      `yaml:"parallel"`
	QEMU     string   `yaml:"qemu"`
	Memory   string   `yaml:"memory"`
	Args     []string `yaml:"args"`
	Cases    []Case   `yaml:"cases"`

	// Dir resolves relative image paths.
	Dir string `yaml:"-"`
}

// Case is a single image run.
type Case struct {
	Name           string   `yaml:"name"`
	Image          string   `yaml:"image"`
	Format         string   `yaml:"format"`
	Expect         Expect   `yaml:"expect"`
	Timeout        Duration `yaml:"timeout"`
	Args           []string `yaml:"args"`
	SerialContains []string `yaml:"serial_contains"`
	Skip           bool     `yaml:"skip"`
}

// Expect wraps exitcode.Outcome for YAML unmarshaling. Empty means pass.
type Expect exitcode.Outcome

// UnmarshalYAML implements yaml.Unmarshaler for Expect.
func (e *Expect) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*e = Expect(exitcode.Pass)
		return nil
	}
	o, err := exitcode.ParseOutcome(strings.ToLower(s))
	if err != nil {
		return err
	}
	*e = Expect(o)
	return nil
}

// Outcome returns the expected outcome.
func (e Expect) Outcome() exitcode.Outcome {
	if e == 0 {
		return exitcode.Pass
	}
	return exitcode.Outcome(e)
}

// Duration wraps time.Duration for YAML unmarshaling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
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

// Load reads a suite file.
func Load(path string) (*Suite, error) {
	// #nosec G304 -- suite path is provided by the user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading suite file: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Dir = filepath.Dir(path)
	return s, nil
}

// Parse decodes and validates a suite document.
func Parse(data []byte) (*Suite, error) {
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing suite file: %w", err)
	}
	if len(s.Cases) == 0 {
		return nil, fmt.Errorf("suite %q has no cases", s.Name)
	}
	seen := make(map[string]bool, len(s.Cases))
	for i, c := range s.Cases {
		if c.Name == "" {
			return nil, fmt.Errorf("case %d: missing name", i+1)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("case %q: duplicate name", c.Name)
		}
		seen[c.Name] = true
		if c.Image == "" {
			return nil, fmt.Errorf("case %q: missing image", c.Name)
		}
		if c.Format != "" {
			if _, err := bootimage.ParseFormat(c.Format); err != nil {
				return nil, fmt.Errorf("case %q: %w", c.Name, err)
			}
		}
	}
	if s.Parallel <= 0 {
		s.Parallel = 1
	}
	return &s, nil
}
