package store

import (
	"crypto/sha256"
	"fmt"
	"sort"
)

// ContentHash is the change-detection key for a file's text.
func ContentHash(text string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(text)))
}

// ScriptsHash computes a deterministic hash over a set of named scripts.
// Names are sorted so map iteration order does not matter.
func ScriptsHash(scripts map[string]string) string {
	names := make([]string, 0, len(scripts))
	for name := range scripts {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		fmt.Fprintf(h, "script:%s\n", name)
		h.Write([]byte(scripts[name]))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
