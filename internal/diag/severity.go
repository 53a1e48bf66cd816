package diag

// Severity defines the importance of a diagnostic.
type Severity uint8

const (
	// SevInfo is for informational diagnostics.
	SevInfo Severity = iota
	// SevWarning is for warning diagnostics.
	SevWarning
	SevError
)

func (s Severity) String() string {
	switch s {
	case SevInfo:
		return "INFO"
	case SevWarning:
		return "WARNING"
	case SevError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// parseSeverity maps the severity word used by clang and lld.
func parseSeverity(word string) (Severity, bool) {
	switch word {
	case "error", "fatal error":
		return SevError, true
	case "warning":
		return SevWarning, true
	case "note", "remark":
		return SevInfo, true
	}
	return SevInfo, false
}
