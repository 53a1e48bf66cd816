//go:build amd64

package guest

// portWriteDword writes a uint32 value to the requested I/O port.
func portWriteDword(port uint16, val uint32)

// halt disables interrupts and stops instruction execution. It never returns.
func halt()
