package suite

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"kiln/internal/exitcode"
)

// OutcomeColor returns the colour used for an outcome label.
func OutcomeColor(o exitcode.Outcome) *color.Color {
	switch o {
	case exitcode.Pass:
		return color.New(color.FgGreen, color.Bold)
	case exitcode.Fail:
		return color.New(color.FgRed, color.Bold)
	case exitcode.Hung:
		return color.New(color.FgYellow, color.Bold)
	}
	return color.New(color.FgMagenta)
}

// WriteReport prints one line per case followed by a summary.
func WriteReport(w io.Writer, r *Results) error {
	width := 0
	for _, c := range r.Cases {
		width = max(width, runewidth.StringWidth(c.Name))
	}

	ok := color.New(color.FgGreen).Sprint("ok")
	bad := color.New(color.FgRed, color.Bold).Sprint("MISMATCH")
	skip := color.New(color.Faint).Sprint("skip")

	for _, c := range r.Cases {
		name := runewidth.FillRight(c.Name, width)
		var line string
		switch {
		case c.Skipped:
			line = fmt.Sprintf("  %s  %s", name, skip)
		case c.Err != nil:
			line = fmt.Sprintf("  %s  %s  %s", name, bad, c.Reason)
		default:
			label := OutcomeColor(c.Result.Outcome).Sprint(c.Result.Outcome)
			verdict := ok
			if !c.Matched {
				verdict = bad + "  " + c.Reason
			}
			line = fmt.Sprintf("  %s  %s  %6s  %s", name, label, c.Result.Elapsed.Round(time.Millisecond), verdict)
		}
		if _, err := fmt.Fprintln(w, strings.TrimRight(line, " ")); err != nil {
			return err
		}
	}

	summary := fmt.Sprintf("%s: %d matched, %d mismatched, %d skipped in %s",
		r.Suite, r.Passed, r.Failed, r.Skipped, r.Duration.Round(time.Millisecond))
	if r.OK() {
		summary = color.New(color.FgGreen).Sprint(summary)
	} else {
		summary = color.New(color.FgRed).Sprint(summary)
	}
	_, err := fmt.Fprintln(w, summary)
	return err
}
