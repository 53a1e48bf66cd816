package target

import (
	"github.com/vmihailenco/msgpack/v5"

	"kiln/internal/project"
)

// digestSchema is bumped whenever the encoded layout changes so that cached
// artefacts from older layouts are not reused.
const digestSchema uint16 = 2

type digestPayload struct {
	Schema     uint16
	Descriptor Descriptor
}

// Digest returns the cache key of d. Descriptors that differ in any field
// after normalization have different digests.
func (d Descriptor) Digest() project.Digest {
	data, err := msgpack.Marshal(digestPayload{Schema: digestSchema, Descriptor: d.Normalize()})
	if err != nil {
		// The payload only holds strings, ints and slices of them.
		panic(err)
	}
	return project.BytesDigest(data)
}
