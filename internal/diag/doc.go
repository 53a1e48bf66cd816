// Package diag models the findings reported by the external toolchain.
//
// Kiln never compiles anything itself: clang, the linker and the archiver do.
// Their stderr is parsed into Diagnostic records so that a failed build can
// point at the offending file and line and so that the CLI can render them
// consistently regardless of which tool produced them.
//
// # Data model
//
//   - Severity: Info, Warning or Error. Tool "note:" lines become Info.
//   - Code: compact numeric identifier with a stable string form (KLN1001).
//   - Position: file, line and column when the tool reported them.
//   - Notes: follow-up lines the tool attached to the previous diagnostic,
//     such as ld.lld's ">>> referenced by" lines.
//
// Bag collects diagnostics with a limit. Formatting lives in format.go and
// never depends on the terminal.
package diag
