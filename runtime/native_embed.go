// Package runtimeembed embeds the C sources of the runtime primitives that
// freestanding targets must supply themselves, along with the guest side of
// the test signalling protocol.
package runtimeembed

import (
	"embed"
	"io/fs"
)

//go:embed native/*.c native/*.h
var nativeRuntimeFS embed.FS

// NativeRuntimeFS exposes the embedded primitive sources rooted at "native".
func NativeRuntimeFS() fs.FS {
	return nativeRuntimeFS
}

// PrimitiveSource maps a primitive name to its source file under native/.
var PrimitiveSource = map[string]string{
	"block-copy":    "native/block_copy.c",
	"block-set":     "native/block_set.c",
	"block-compare": "native/block_compare.c",
	"int-arith":     "native/int_arith.c",
	"unwind":        "native/unwind.c",
}

const (
	// GuestSource implements the guest side of the debug-exit protocol. It
	// is compiled into every freestanding primitive archive.
	GuestSource = "native/kiln_guest.c"
	// GuestHeader is the header kernels include to reach GuestSource.
	GuestHeader = "native/kiln.h"
)
