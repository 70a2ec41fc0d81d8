package adapter

import (
	"os"
	"path/filepath"
	"sync/atomic"
)

// Close stops the handle's work queue, closes all four namespace engines,
// and removes the handle from the open-stores registry (spec.md §4.5). A
// second Close on an already-closed handle is a no-op.
func (db *DB) Close() error {
	if !atomic.CompareAndSwapInt32(&db.closed, 0, 1) {
		return nil
	}
	db.queue.Stop()
	registryDelete(db.path)

	var firstErr error
	for _, eng := range []struct {
		name string
		eng  interface{ Close() error }
	}{
		{"document-store", db.docStore},
		{"by-sequence", db.seqStore},
		{"attach-store", db.attachMeta},
		{"attach-binary-store", db.attachBlob},
	} {
		if err := eng.eng.Close(); err != nil && firstErr == nil {
			firstErr = wrapEngine("close "+eng.name, err)
		}
	}
	return firstErr
}

// Destroy closes db (if not already closed) and removes its on-disk
// directory entirely (spec.md §4.5). Destroying a database whose directory
// does not exist returns a NotFoundError, per the resolved §9 open
// question (a dedicated type rather than MissingDocError's doc-shaped
// Reason field).
func Destroy(name string, opts Options) error {
	path := filepath.Join(opts.Dir, name)

	if db, ok := registryGet(path); ok {
		_ = db.Close()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return NotFoundError{Name: name}
	} else if err != nil {
		return wrapEngine("stat database directory", err)
	}

	if err := os.RemoveAll(path); err != nil {
		return wrapEngine("remove database directory", err)
	}
	return nil
}

// RemoveDocRevisions deletes the SeqStore bodies of docID's named revs
// (spec.md §4.5's removeDocRevisions primitive, used by compaction to
// reclaim storage for revisions no longer reachable by replication). It
// looks each rev up in the document's rev_map to find its SeqStore slot and
// deletes that slot only — the revision tree, metadata and attachment refs
// are untouched, so a rev's entry in `_revisions`/`_conflicts` still exists
// even once its body is gone.
func (db *DB) RemoveDocRevisions(docID string, revs []string) error {
	return db.queue.Submit(func() error {
		meta, err := db.loadMetadata(docID)
		if err != nil {
			return err
		}
		for _, rev := range revs {
			seq, ok := meta.RevMap[rev]
			if !ok {
				continue
			}
			if err := db.seqStore.Delete(encodeUint64(seq)); err != nil {
				return wrapEngine("delete by-sequence", err)
			}
		}
		return nil
	})
}
