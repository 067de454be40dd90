// Package contenthash defines the opaque content identifier shared by
// every LLS component (spec.md §3, "ContentHash").
package contenthash

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// Size is the fixed width of a ContentHash in bytes. spec.md leaves the
// concrete digest algorithm to the (out of scope) content store; LLS only
// needs a fixed-width, comparable, orderable identifier.
const Size = 32

// ShortSize is the width of the derived ShortHash prefix used for ordering
// and compact set membership (spec.md §3).
const ShortSize = 8

// Hash is an opaque fixed-width content identifier.
type Hash [Size]byte

// Short returns the ShortHash prefix of h, used for ordered enumeration
// and reconciliation diffing (spec.md §4.5).
func (h Hash) Short() ShortHash {
	var s ShortHash
	copy(s[:], h[:ShortSize])
	return s
}

// String renders h as lowercase hex, for logging.
func (h Hash) String() string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, 2*Size)
	for i, b := range h {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0x0f]
	}
	return string(buf)
}

// ParseHex parses the hex representation produced by Hash.String.
func ParseHex(s string) (Hash, error) {
	var h Hash
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(decoded) != Size {
		return h, fmt.Errorf("content hash %q has %d bytes, expected %d", s, len(decoded), Size)
	}
	copy(h[:], decoded)
	return h, nil
}

// ShortHash is a prefix of a Hash, used wherever a compact, orderable key
// is needed in place of the full identifier.
type ShortHash [ShortSize]byte

// Less reports whether s sorts before other, used to keep ordered
// enumerations (contentdb) and the reconciliation co-walk (pkg/lls) in
// ascending ShortHash order.
func (s ShortHash) Less(other ShortHash) bool {
	return bytes.Compare(s[:], other[:]) < 0
}

// Compare returns -1, 0 or 1 as s is less than, equal to, or greater than
// other, matching the cmp.Compare convention. The reconciliation co-walk
// (pkg/lls) uses it to compare its two sorted inputs.
func (s ShortHash) Compare(other ShortHash) int {
	return bytes.Compare(s[:], other[:])
}
