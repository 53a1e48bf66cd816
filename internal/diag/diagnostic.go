package diag

import "fmt"

// Position locates a diagnostic in a source file. Zero Line means the tool
// did not report one.
type Position struct {
	File string
	Line int
	Col  int
}

func (p Position) String() string {
	switch {
	case p.File == "":
		return ""
	case p.Line == 0:
		return p.File
	case p.Col == 0:
		return fmt.Sprintf("%s:%d", p.File, p.Line)
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Col)
}

type Note struct {
	Pos Position
	Msg string
}

type Diagnostic struct {
	Severity Severity
	Code     Code
	Tool     string
	Message  string
	Primary  Position
	Notes    []Note
}

// String renders d on a single line.
func (d Diagnostic) String() string {
	loc := d.Primary.String()
	if loc == "" {
		loc = d.Tool
	}
	if loc == "" {
		return fmt.Sprintf("%s %s: %s", d.Severity, d.Code, d.Message)
	}
	return fmt.Sprintf("%s: %s %s: %s", loc, d.Severity, d.Code, d.Message)
}
