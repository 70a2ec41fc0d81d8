package adapter

import (
	"encoding/json"

	"github.com/theupdateframework/ldb/docparse"
	"github.com/theupdateframework/ldb/kv"
	"github.com/theupdateframework/ldb/revtree"
)

// defaultRevsLimit bounds how many ancestor generations Merge retains per branch,
// mirroring CouchDB's _revs_limit default.
const defaultRevsLimit = 1000

// BulkDocsOptions controls BulkDocs (spec.md §4.3).
type BulkDocsOptions struct {
	// NewEdits defaults to true: docs carry bare `_rev` edits. false means
	// docs carry full `_revisions` histories (a replicated write).
	NewEdits *bool
	// WasDelete defaults to true: an insert (no existing DocStore entry)
	// whose very first revision already carries `_deleted: true` is
	// rejected as MISSING_DOC, since deleting a document that never
	// existed is meaningless (spec.md §4.3 Phase 3 "deleted-on-create").
	WasDelete *bool
}

func (o BulkDocsOptions) newEdits() bool {
	if o.NewEdits == nil {
		return true
	}
	return *o.NewEdits
}

func (o BulkDocsOptions) wasDelete() bool {
	if o.WasDelete == nil {
		return true
	}
	return *o.WasDelete
}

// DocResult is BulkDocs' per-document outcome.
type DocResult struct {
	ID    string
	Rev   string
	Error error // a RevConflictError, MissingDocError, or docparse.ParseError
}

// BulkDocs runs the write pipeline of spec.md §4.3 Phases 1-5 against raw,
// one JSON document body per element. All work for this call runs on the
// handle's single-writer workQueue, so concurrent BulkDocs callers never
// interleave their phases.
func (db *DB) BulkDocs(raw [][]byte, opts BulkDocsOptions) ([]DocResult, error) {
	var results []DocResult
	err := db.queue.Submit(func() error {
		var err error
		results, err = db.bulkDocsLocked(raw, opts)
		return err
	})
	return results, err
}

func (db *DB) bulkDocsLocked(raw [][]byte, opts BulkDocsOptions) ([]DocResult, error) {
	newEdits := opts.newEdits()

	// Phase 1: parse every document up front; abort the whole batch on the
	// first malformed one (spec.md §4.3 Phase 1).
	parsed := make([]*docparse.Doc, len(raw))
	for i, body := range raw {
		doc, err := docparse.Parse(body, newEdits)
		if err != nil {
			return nil, err
		}
		parsed[i] = doc
	}

	results := make([]DocResult, len(parsed))

	// Phase 2: group same-document edits within this batch and apply each
	// docId's edits in submission order, so a later write for a given id
	// in the batch always sees the prior one's merge outcome. docOrder preserves each docId's first-appearance position
	// so the batch is processed deterministically rather than in Go's
	// randomized map iteration order.
	byID := map[string][]int{}
	var docOrder []string
	for i, doc := range parsed {
		if _, ok := byID[doc.Metadata.ID]; !ok {
			docOrder = append(docOrder, doc.Metadata.ID)
		}
		byID[doc.Metadata.ID] = append(byID[doc.Metadata.ID], i)
	}

	for _, docID := range docOrder {
		indices := byID[docID]
		meta, existed, err := db.loadOrNewMetadata(docID)
		if err != nil {
			return nil, err
		}
		for _, idx := range indices {
			doc := parsed[idx]

			if !existed && opts.wasDelete() && doc.Metadata.Deleted {
				results[idx] = DocResult{ID: docID, Error: WithReason(MissingDocError{DocID: docID}, "deleted on create")}
				continue
			}

			rev, conflicted, err := db.mergeAndWrite(meta, doc, newEdits, existed)
			if err != nil {
				results[idx] = DocResult{ID: docID, Error: err}
				continue
			}
			if conflicted {
				results[idx] = DocResult{ID: docID, Error: RevConflictError{DocID: docID, Rev: doc.Metadata.Rev()}}
				continue
			}
			existed = true
			results[idx] = DocResult{ID: docID, Rev: rev}
		}
	}

	return results, nil
}

// loadOrNewMetadata fetches docId's current metadata record, or a fresh
// empty one if this is the first write for docId (spec.md §4.3 Phase 1
// "Ensure metadata.rev_map exists").
func (db *DB) loadOrNewMetadata(docID string) (*metadata, bool, error) {
	raw, err := db.docStore.Get([]byte(docID))
	if err == kv.ErrNotFound {
		return &metadata{ID: docID, RevTree: revtree.NewTree(), RevMap: map[string]uint64{}}, false, nil
	}
	if err != nil {
		return nil, false, wrapEngine("get document-store", err)
	}
	var meta metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, false, wrapEngine("decode document-store record", err)
	}
	if meta.RevMap == nil {
		meta.RevMap = map[string]uint64{}
	}
	return &meta, true, nil
}

// mergeAndWrite grafts doc onto meta's revision tree, and — unless the
// outcome is a rejected conflict — persists the new revision's body and
// attachments, allocates its sequence, and updates the counters, per
// spec.md §4.3 Phases 3-5. The returned bool reports whether the merge was
// rejected as a conflict, per Phase 3's two-clause rule: a conflict is
// declared when either both sides are deleted, or new_edits is true, the
// prior winning revision is not deleted, and the merge outcome isn't a
// plain fast-forward (revtree.NewLeaf) — which also makes a resubmission
// of an already-known revision (revtree.InternalNode) a conflict, not a
// silent no-op rewrite.
func (db *DB) mergeAndWrite(meta *metadata, doc *docparse.Doc, newEdits, existed bool) (string, bool, error) {
	mergedTree, conflict := revtree.Merge(meta.RevTree, doc.Metadata.Path, defaultRevsLimit)

	wasDeleted := meta.Deleted
	bothDeleted := wasDeleted && doc.Metadata.Deleted
	if bothDeleted || (newEdits && !wasDeleted && conflict != revtree.NewLeaf) {
		// Rejected: leave meta untouched (spec.md §4.3 Phase 3).
		return "", true, nil
	}

	meta.RevTree = revtree.Prune(mergedTree, defaultRevsLimit)
	rev := doc.Metadata.Rev()

	body, err := db.writeDoc(meta, doc, rev)
	if err != nil {
		return "", false, err
	}

	_, winDeleted, _ := meta.winningRev()
	meta.Deleted = winDeleted

	if err := db.persistMetadata(meta); err != nil {
		return "", false, err
	}

	// doc_count counts inserts: +1 when a docId with no prior DocStore
	// entry is written with a live winning revision. It is never
	// decremented on delete, and reviving a deleted document does not
	// increment it again (spec.md §9 open question, resolved in
	// SPEC_FULL.md as "count of inserts").
	if !existed && !winDeleted {
		db.incrDocCount()
	}

	if err := db.persistSeqSentinel(meta.Seq); err != nil {
		return "", false, err
	}

	// Publish only once both SeqStore and DocStore have committed (spec.md
	// §4.3 Phase 6, §5), and only for non-local documents (spec.md §3).
	if !docparse.IsLocalID(meta.ID) {
		stamped := body.ShallowCopy()
		stamped[bodyID] = meta.ID
		stamped[bodyRev] = rev
		db.emitter.Publish(ChangeEvent{
			ID:      meta.ID,
			Seq:     meta.Seq,
			Changes: revtree.CollectLeaves(meta.RevTree),
			Doc:     stamped,
		})
	}

	return rev, false, nil
}

func (db *DB) persistMetadata(meta *metadata) error {
	if err := db.docStore.Put([]byte(meta.ID), marshalJSON(meta)); err != nil {
		return wrapEngine("put document-store", err)
	}
	return nil
}

func (db *DB) incrDocCount() {
	n := db.DocCount() + 1
	db.setDocCount(n)
}
