package store

import (
	"sync"

	"github.com/jward/pinpoint/internal/pin"
)

// PendingFile is a file and its pins buffered for a later commit.
type PendingFile struct {
	File File
	Pins []*pin.Pin
}

// BatchedStore buffers file replacements in memory using fake (negative)
// file IDs. It implements Writer so directory loading can parse in parallel
// and commit once.
//
// Thread safety: the mutex protects fake ID allocation and slice appends.
// FileByPath passes through to the underlying Store, which is safe for
// concurrent reads.
type BatchedStore struct {
	store *Store
	mu    sync.Mutex

	Files []PendingFile

	nextFakeID int64 // starts at -1, decrements
}

// Compile-time check: *BatchedStore satisfies Writer.
var _ Writer = (*BatchedStore)(nil)

// NewBatchedStore creates a BatchedStore backed by s for read queries.
func NewBatchedStore(s *Store) *BatchedStore {
	return &BatchedStore{
		store:      s,
		nextFakeID: -1,
	}
}

func (b *BatchedStore) allocFakeID() int64 {
	id := b.nextFakeID
	b.nextFakeID--
	return id
}

// ReplaceFile buffers f and its pins. The returned ID is fake until
// CommitBatch runs.
func (b *BatchedStore) ReplaceFile(f *File, pins []*pin.Pin) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	f.ID = fakeID
	b.Files = append(b.Files, PendingFile{File: *f, Pins: pins})
	return fakeID, nil
}

// FileByPath returns the most recently buffered file for path, falling back
// to the committed row.
func (b *BatchedStore) FileByPath(path string) (*File, error) {
	b.mu.Lock()
	for i := len(b.Files) - 1; i >= 0; i-- {
		if b.Files[i].File.Path == path {
			f := b.Files[i].File
			b.mu.Unlock()
			return &f, nil
		}
	}
	b.mu.Unlock()
	return b.store.FileByPath(path)
}

// Len is the number of buffered files.
func (b *BatchedStore) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Files)
}
