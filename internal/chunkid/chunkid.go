// Package chunkid provides deterministic chunk IDs derived from chunk identity.
package chunkid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const prefix = "chunk:"

// ChunkID returns a stable ID for a chunk of a source file. The same file
// path, ordinal and text always yield the same ID, so re-ingesting identical
// content produces identical IDs and previously computed embeddings stay valid.
func ChunkID(sourceFile string, ordinal int, text string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00", sourceFile, ordinal)
	h.Write([]byte(text))
	return prefix + hex.EncodeToString(h.Sum(nil))
}
