package toolchain

import (
	"fmt"
	"strings"

	"kiln/internal/diag"
)

// Stage names the build step that invoked a tool.
type Stage string

const (
	StagePrimitives Stage = "primitives"
	StageCompile    Stage = "compile"
	StageLink       Stage = "link"
	StageImage      Stage = "image"
)

// BuildError reports a failed build step. Diagnostics holds whatever could be
// parsed from the tool's stderr; Stderr keeps the raw text.
type BuildError struct {
	Stage       Stage
	Descriptor  string
	Command     []string
	Diagnostics *diag.Bag
	Stderr      string
	Err         error
}

func (e *BuildError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s failed", e.Stage)
	if e.Descriptor != "" {
		fmt.Fprintf(&sb, " for target %s", e.Descriptor)
	}
	switch {
	case e.Diagnostics.Len() > 0:
		first, _ := e.Diagnostics.First()
		sb.WriteString(": ")
		sb.WriteString(first.String())
		if more := e.Diagnostics.Len() - 1; more > 0 {
			fmt.Fprintf(&sb, " (and %d more)", more)
		}
	case e.Stderr != "":
		sb.WriteString(": ")
		sb.WriteString(firstLine(e.Stderr))
	case e.Err != nil:
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
