package diag

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// FormatShort renders diagnostics one per line in a stable order.
// Notes are indented below their diagnostic when includeNotes is set.
func FormatShort(b *Bag, includeNotes bool) string {
	if b.Len() == 0 {
		return ""
	}
	sorted := &Bag{items: append([]Diagnostic(nil), b.items...), max: b.max}
	sorted.Sort()

	var sb strings.Builder
	for _, d := range sorted.items {
		sb.WriteString(d.String())
		sb.WriteByte('\n')
		if !includeNotes {
			continue
		}
		for _, n := range d.Notes {
			sb.WriteString("  note: ")
			if loc := n.Pos.String(); loc != "" && !strings.Contains(n.Msg, loc) {
				sb.WriteString(loc)
				sb.WriteString(": ")
			}
			sb.WriteString(n.Msg)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// Pretty writes diagnostics with severity colouring. Colour follows
// color.NoColor, so callers decide via the global --color flag.
func Pretty(w io.Writer, b *Bag) error {
	errc := color.New(color.FgRed, color.Bold)
	warnc := color.New(color.FgYellow, color.Bold)
	infoc := color.New(color.FgCyan)
	dim := color.New(color.Faint)

	for _, d := range b.Items() {
		var sev *color.Color
		switch d.Severity {
		case SevError:
			sev = errc
		case SevWarning:
			sev = warnc
		default:
			sev = infoc
		}
		loc := d.Primary.String()
		if loc == "" {
			loc = d.Tool
		}
		if _, err := fmt.Fprintf(w, "%s %s %s\n", sev.Sprintf("%s[%s]", strings.ToLower(d.Severity.String()), d.Code.ID()), loc, d.Message); err != nil {
			return err
		}
		for _, n := range d.Notes {
			if _, err := fmt.Fprintf(w, "  %s %s\n", dim.Sprint("note:"), n.Msg); err != nil {
				return err
			}
		}
	}
	return nil
}
