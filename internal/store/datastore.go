package store

import "github.com/jward/pinpoint/internal/pin"

// Writer is the write surface used while merging files. Both Store (direct
// SQLite) and BatchedStore (in-memory buffering for parallel loading)
// implement it.
type Writer interface {
	// ReplaceFile swaps the stored version of f.Path for f and its pins and
	// returns the assigned file ID.
	ReplaceFile(f *File, pins []*pin.Pin) (int64, error)

	// FileByPath returns the stored file for path, or nil.
	FileByPath(path string) (*File, error)
}

// Compile-time check: *Store satisfies Writer.
var _ Writer = (*Store)(nil)
