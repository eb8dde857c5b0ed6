package store

import (
	"github.com/cockroachdb/errors"
)

// CommitBatch writes all buffered files from a BatchedStore into SQLite
// within a single transaction. Each fake file ID is remapped to the real
// row ID, and the returned map holds fake → real for callers that kept the
// fake IDs.
//
// A path buffered more than once keeps only its last version.
func (s *Store) CommitBatch(batch *BatchedStore) (map[int64]int64, error) {
	batch.mu.Lock()
	pending := batch.Files
	batch.Files = nil
	batch.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "commit batch: begin")
	}
	defer tx.Rollback()

	last := make(map[string]int, len(pending))
	for i, pf := range pending {
		last[pf.File.Path] = i
	}

	fakeToReal := make(map[int64]int64, len(pending))
	for i, pf := range pending {
		if last[pf.File.Path] != i {
			continue
		}
		f := pf.File
		fakeID := f.ID
		realID, err := replaceFileTx(tx, &f, pf.Pins)
		if err != nil {
			return nil, errors.Wrapf(err, "commit batch: file %q", f.Path)
		}
		fakeToReal[fakeID] = realID
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit batch: commit")
	}
	return fakeToReal, nil
}
