// Package checksum computes content digests of source documents and exports.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Tree digests a path → sum table. The result does not depend on map
// order, so equal source trees give equal digests.
func Tree(sums map[string]string) string {
	paths := make([]string, 0, len(sums))
	for p := range sums {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	h := sha256.New()
	for _, p := range paths {
		h.Write([]byte(p))
		h.Write([]byte{0})
		h.Write([]byte(sums[p]))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Changed lists the paths added, removed or modified between prev and
// next, sorted.
func Changed(prev, next map[string]string) []string {
	var out []string
	for p, s := range next {
		if old, ok := prev[p]; !ok || old != s {
			out = append(out, p)
		}
	}
	for p := range prev {
		if _, ok := next[p]; !ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
