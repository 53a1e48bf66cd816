package diag

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
	"strings"
)

var (
	// main.c:12:5: error: message
	locatedRe = regexp.MustCompile(`^(.+?):(\d+):(?:(\d+):)?\s*(fatal error|error|warning|note|remark):\s*(.*)$`)
	// ld.lld: error: message, clang: warning: message
	toolRe = regexp.MustCompile(`^([\w.+-]+):\s*(fatal error|error|warning|note):\s*(.*)$`)
	// main.c:(.text+0x1a): undefined reference to `memcpy'
	gnuUndefRe = regexp.MustCompile("^(.+?):\\(([^)]*)\\): undefined reference to [`'](.+)'$")
	// >>> referenced by main.c:10
	refRe = regexp.MustCompile(`^>>>\s+(?:referenced by|defined at)\s+(.+?)(?::(\d+))?(?:\s+\(.*\))?$`)
)

// Parse extracts diagnostics from the stderr of tool. Lines that are not
// diagnostics (source excerpts, carets, summaries) are ignored, except that
// ">>>" lines become notes of the preceding diagnostic.
func Parse(tool string, stderr []byte) *Bag {
	bag := NewBag(DefaultLimit)
	var last *Diagnostic
	flush := func() {
		if last != nil {
			bag.Add(*last)
			last = nil
		}
	}

	sc := bufio.NewScanner(bytes.NewReader(stderr))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if strings.HasPrefix(trimmed, ">>>") {
			if last == nil {
				continue
			}
			if m := refRe.FindStringSubmatch(trimmed); m != nil {
				pos := Position{File: m[1]}
				pos.Line, _ = strconv.Atoi(m[2])
				last.Notes = append(last.Notes, Note{Pos: pos, Msg: strings.TrimSpace(strings.TrimPrefix(trimmed, ">>>"))})
			} else {
				last.Notes = append(last.Notes, Note{Msg: strings.TrimSpace(strings.TrimPrefix(trimmed, ">>>"))})
			}
			continue
		}

		if m := locatedRe.FindStringSubmatch(line); m != nil {
			sev, _ := parseSeverity(m[4])
			pos := Position{File: m[1]}
			pos.Line, _ = strconv.Atoi(m[2])
			pos.Col, _ = strconv.Atoi(m[3])
			if sev == SevInfo && last != nil {
				last.Notes = append(last.Notes, Note{Pos: pos, Msg: m[5]})
				continue
			}
			flush()
			last = &Diagnostic{Severity: sev, Code: classify(tool, sev, m[5]), Tool: tool, Message: m[5], Primary: pos}
			continue
		}

		if m := gnuUndefRe.FindStringSubmatch(line); m != nil {
			flush()
			msg := "undefined symbol: " + m[3]
			last = &Diagnostic{Severity: SevError, Code: LinkUndefinedSymbol, Tool: tool, Message: msg, Primary: Position{File: m[1]}}
			continue
		}

		if m := toolRe.FindStringSubmatch(line); m != nil {
			sev, _ := parseSeverity(m[2])
			if sev == SevInfo && last != nil {
				last.Notes = append(last.Notes, Note{Msg: m[3]})
				continue
			}
			flush()
			last = &Diagnostic{Severity: sev, Code: classify(m[1], sev, m[3]), Tool: m[1], Message: m[3]}
		}
	}
	flush()
	return bag
}

func classify(tool string, sev Severity, msg string) Code {
	linker := strings.Contains(tool, "ld")
	archiver := strings.HasSuffix(tool, "ar")
	switch {
	case strings.HasPrefix(msg, "undefined symbol") || strings.Contains(msg, "undefined reference"):
		return LinkUndefinedSymbol
	case strings.HasPrefix(msg, "duplicate symbol"):
		return LinkDuplicateSymbol
	case strings.Contains(msg, "linker script"):
		return LinkMissingScript
	case strings.Contains(msg, "file not found"):
		return CCMissingHeader
	case strings.Contains(msg, "implicit declaration of function"):
		return CCImplicitDeclaration
	case archiver:
		return ArchiveError
	case linker:
		switch sev {
		case SevError:
			return LinkError
		case SevWarning:
			return LinkWarning
		}
		return LinkInfo
	}
	switch sev {
	case SevError:
		return CCError
	case SevWarning:
		return CCWarning
	}
	return CCInfo
}
