package adapter

import (
	"encoding/json"

	"github.com/theupdateframework/ldb/docparse"
	"github.com/theupdateframework/ldb/kv"
	"github.com/theupdateframework/ldb/revtree"
)

// GetOptions controls Get/GetAttachment.
type GetOptions struct {
	// Rev requests a specific revision rather than the current winner.
	Rev string
	// Revs includes the full _revisions history in the returned Body.
	Revs bool
	// Conflicts includes a _conflicts array of the losing leaf revisions.
	Conflicts bool
	// Attachments inlines attachment bodies as base64 `data` rather than
	// leaving them as stubs.
	Attachments bool
}

// Get fetches one document (spec.md §4.2 "Get"). Absent docId, or a
// winning-but-deleted revision with no explicit Rev requested, is reported
// as a MissingDocError.
func (db *DB) Get(docID string, opts GetOptions) (Body, error) {
	meta, err := db.loadMetadata(docID)
	if err != nil {
		return nil, err
	}

	rev := opts.Rev
	var deleted bool
	if rev == "" {
		var ok bool
		rev, deleted, ok = meta.winningRev()
		if !ok {
			return nil, MissingDocError{DocID: docID}
		}
		if deleted {
			return nil, WithReason(MissingDocError{DocID: docID}, "deleted")
		}
	} else {
		if e, ok := meta.RevTree.Entries[rev]; ok {
			deleted = e.Deleted
		} else {
			return nil, WithReason(MissingDocError{DocID: docID}, "missing rev")
		}
	}

	seq, ok := meta.RevMap[rev]
	if !ok {
		return nil, WithReason(MissingDocError{DocID: docID}, "missing rev body")
	}

	body, err := db.loadBody(seq)
	if err != nil {
		return nil, err
	}

	body[bodyID] = docID
	body[bodyRev] = rev
	if deleted {
		body[bodyDeleted] = true
	}
	if opts.Revs {
		body["_revisions"] = revisionsOf(meta.RevTree, rev)
	}
	if opts.Conflicts {
		if conflicts := conflictRevs(meta.RevTree, rev); len(conflicts) > 0 {
			body[bodyConflicts] = conflicts
		}
	}
	if opts.Attachments {
		if err := db.inlineAttachments(body); err != nil {
			return nil, err
		}
	}
	return body, nil
}

// GetAttachment fetches one named attachment's raw bytes at the document's
// current winning revision (or opts.Rev), per spec.md §4.2.
func (db *DB) GetAttachment(docID, name string, opts GetOptions) ([]byte, string, error) {
	meta, err := db.loadMetadata(docID)
	if err != nil {
		return nil, "", err
	}
	rev := opts.Rev
	if rev == "" {
		var ok bool
		rev, _, ok = meta.winningRev()
		if !ok {
			return nil, "", MissingDocError{DocID: docID}
		}
	}
	seq, ok := meta.RevMap[rev]
	if !ok {
		return nil, "", WithReason(MissingDocError{DocID: docID}, "missing rev body")
	}
	body, err := db.loadBody(seq)
	if err != nil {
		return nil, "", err
	}
	stub, err := attachmentStub(body, name)
	if err != nil {
		return nil, "", err
	}
	data, err := db.loadBlob(stub.Digest)
	if err != nil {
		return nil, "", err
	}
	return data, stub.ContentType, nil
}

// GetRevisionTree returns docID's full revision tree, for replication and
// for the `_revs_limit`-style tooling built on Prune.
func (db *DB) GetRevisionTree(docID string) (revtree.Tree, error) {
	meta, err := db.loadMetadata(docID)
	if err != nil {
		return revtree.Tree{}, err
	}
	return meta.RevTree, nil
}

// AllDocsOptions controls AllDocs pagination and body inclusion.
type AllDocsOptions struct {
	StartKey    string
	EndKey      string
	Limit       int
	Skip        int
	IncludeDocs bool
	Descending  bool
	// Keys, when non-empty, returns exactly these document ids in the
	// given order (reversed when Descending) instead of range-scanning
	// DocStore (spec.md §4.2 "AllDocs by explicit keys"). StartKey/EndKey/
	// Skip are ignored in this mode. A deleted doc is reported with
	// Deleted set and no Doc; a missing key is reported with Error set to
	// a MissingDocError.
	Keys []string
	// Conflicts includes each row's losing leaf revisions.
	Conflicts bool
}

// Row is one AllDocs result: a document's id, winning rev, and (optionally)
// its current body.
type Row struct {
	ID        string
	Rev       string
	Doc       Body
	Deleted   bool
	Conflicts []string
	// Error is set instead of the above when Keys names an id with no
	// DocStore entry at all.
	Error error
}

// AllDocs enumerates every non-local, non-deleted document's winning
// revision in docId order (spec.md §4.2 "AllDocs"), skipping `_local/`
// documents per spec.md §3.
func (db *DB) AllDocs(opts AllDocsOptions) ([]Row, error) {
	if len(opts.Keys) > 0 {
		return db.allDocsByKeys(opts)
	}

	// An empty StartKey/EndKey must reach the engine as nil (unbounded):
	// []byte("") is a non-nil empty bound that excludes every key.
	rangeOpts := kv.RangeOptions{Reverse: opts.Descending}
	if opts.StartKey != "" {
		rangeOpts.StartKey = []byte(opts.StartKey)
	}
	if opts.EndKey != "" {
		rangeOpts.EndKey = []byte(opts.EndKey)
	}
	it, err := db.docStore.RangeScan(rangeOpts)
	if err != nil {
		return nil, wrapEngine("range scan document-store", err)
	}
	defer it.Close()

	var rows []Row
	skipped := 0
	for it.Next() {
		pair := it.Pair()
		docID := string(pair.Key)
		if docparse.IsLocalID(docID) {
			continue
		}
		var meta metadata
		if err := json.Unmarshal(pair.Value, &meta); err != nil {
			return nil, wrapEngine("decode document-store record", err)
		}
		rev, deleted, ok := meta.winningRev()
		if !ok || deleted {
			continue
		}
		if skipped < opts.Skip {
			skipped++
			continue
		}
		row := Row{ID: docID, Rev: rev}
		if opts.Conflicts {
			row.Conflicts = conflictRevs(meta.RevTree, rev)
		}
		if opts.IncludeDocs {
			seq := meta.RevMap[rev]
			body, err := db.loadBody(seq)
			if err != nil {
				return nil, err
			}
			body[bodyID] = docID
			body[bodyRev] = rev
			row.Doc = body
		}
		rows = append(rows, row)
		if opts.Limit > 0 && len(rows) >= opts.Limit {
			break
		}
	}
	if err := it.Err(); err != nil {
		return nil, wrapEngine("iterate document-store", err)
	}
	return rows, nil
}

// allDocsByKeys implements AllDocs' explicit-keys mode (spec.md §4.2): one
// row per requested id, in request order (reversed when Descending),
// regardless of whether that id's winning revision is deleted, missing, or
// live.
func (db *DB) allDocsByKeys(opts AllDocsOptions) ([]Row, error) {
	keys := opts.Keys
	if opts.Descending {
		reversed := make([]string, len(keys))
		for i, k := range keys {
			reversed[len(keys)-1-i] = k
		}
		keys = reversed
	}

	rows := make([]Row, 0, len(keys))
	for _, docID := range keys {
		meta, err := db.loadMetadata(docID)
		if err != nil {
			if _, ok := err.(MissingDocError); ok {
				rows = append(rows, Row{ID: docID, Error: MissingDocError{DocID: docID}})
				continue
			}
			return nil, err
		}
		rev, deleted, ok := meta.winningRev()
		if !ok {
			rows = append(rows, Row{ID: docID, Error: MissingDocError{DocID: docID}})
			continue
		}

		row := Row{ID: docID, Rev: rev, Deleted: deleted}
		if opts.Conflicts {
			row.Conflicts = conflictRevs(meta.RevTree, rev)
		}
		if deleted {
			// value.deleted:true, doc:null — no body to load.
			rows = append(rows, row)
			continue
		}
		if opts.IncludeDocs {
			seq := meta.RevMap[rev]
			body, err := db.loadBody(seq)
			if err != nil {
				return nil, err
			}
			body[bodyID] = docID
			body[bodyRev] = rev
			row.Doc = body
		}
		rows = append(rows, row)
	}
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	return rows, nil
}

func (db *DB) loadMetadata(docID string) (*metadata, error) {
	raw, err := db.docStore.Get([]byte(docID))
	if err == kv.ErrNotFound {
		return nil, MissingDocError{DocID: docID}
	}
	if err != nil {
		return nil, wrapEngine("get document-store", err)
	}
	var meta metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, wrapEngine("decode document-store record", err)
	}
	return &meta, nil
}

func (db *DB) loadBody(seq uint64) (Body, error) {
	raw, err := db.seqStore.Get(encodeUint64(seq))
	if err == kv.ErrNotFound {
		return nil, wrapEngine("get by-sequence", err)
	}
	if err != nil {
		return nil, wrapEngine("get by-sequence", err)
	}
	var body Body
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, wrapEngine("decode by-sequence record", err)
	}
	return body, nil
}

func (db *DB) loadBlob(digest string) ([]byte, error) {
	raw, err := db.attachBlob.Get([]byte(digest))
	if err == kv.ErrNotFound {
		// An empty attachment never gets an AttachBlob entry (spec.md §4.3
		// Phase 5 "no-migration-of-legacy-refs" rule's sibling: zero-length
		// digests are synthesized, not stored).
		return nil, nil
	}
	if err != nil {
		return nil, wrapEngine("get attach-binary-store", err)
	}
	return raw, nil
}

func attachmentStub(body Body, name string) (AttachmentStub, error) {
	raw, ok := body[bodyAttachments]
	if !ok {
		return AttachmentStub{}, MissingDocError{Reason: "no attachments"}
	}
	atts, ok := raw.(map[string]interface{})
	if !ok {
		return AttachmentStub{}, MissingDocError{Reason: "malformed _attachments"}
	}
	entry, ok := atts[name]
	if !ok {
		return AttachmentStub{}, MissingDocError{Reason: "no such attachment: " + name}
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return AttachmentStub{}, err
	}
	var stub AttachmentStub
	if err := json.Unmarshal(b, &stub); err != nil {
		return AttachmentStub{}, err
	}
	return stub, nil
}

func (db *DB) inlineAttachments(body Body) error {
	raw, ok := body[bodyAttachments]
	if !ok {
		return nil
	}
	atts, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	for name, entry := range atts {
		b, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		var stub AttachmentStub
		if err := json.Unmarshal(b, &stub); err != nil {
			return err
		}
		data, err := db.loadBlob(stub.Digest)
		if err != nil {
			return err
		}
		stub.Stub = false
		stub.Data = base64Encode(data)
		atts[name] = stub
	}
	body[bodyAttachments] = atts
	return nil
}

func revisionsOf(tree revtree.Tree, rev string) map[string]interface{} {
	var ids []string
	gen, _, _ := revtree.ParseRev(rev)
	cur := rev
	for {
		e, ok := tree.Entries[cur]
		if !ok {
			break
		}
		ids = append(ids, e.Hash)
		if e.Parent == "" {
			break
		}
		cur = e.Parent
	}
	return map[string]interface{}{"start": gen, "ids": ids}
}

func conflictRevs(tree revtree.Tree, winner string) []string {
	var out []string
	for _, leaf := range revtree.CollectConflicts(tree) {
		if leaf.Rev != winner {
			out = append(out, leaf.Rev)
		}
	}
	return out
}
