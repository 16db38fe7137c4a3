package upload

import (
	"fmt"
	"strings"
)

// ChunkPrefix is the Input-store prefix holding every chunk blob of one
// upload epoch's hash.
func ChunkPrefix(uploadHexUpper, hash string) string {
	return fmt.Sprintf("%s/%s", uploadHexUpper, strings.ToUpper(hash))
}

// ChunkKey is the Input-store key of a single chunk blob. Offsets are
// zero-padded so a lexical sort of the keys yields numerical order.
func ChunkKey(uploadHexUpper, hash string, offset int64) string {
	return fmt.Sprintf("%s/%08d.data", ChunkPrefix(uploadHexUpper, hash), offset)
}

// AssembledKey is the Input-store key of the reassembled archive.
func AssembledKey(versionHexUpper string) string {
	return versionHexUpper + ".zip"
}
