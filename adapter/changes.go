package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/theupdateframework/ldb/docparse"
	"github.com/theupdateframework/ldb/kv"
	"github.com/theupdateframework/ldb/revtree"
)

// Filter narrows a change feed to a subset of documents, compiled from a
// design-doc filter definition by the adapter/filter package (spec.md §4.4
// "Filtered feeds", §9's sandboxing open question).
type Filter func(doc Body, query map[string]string) bool

// ChangesOptions controls Changes (spec.md §4.4).
type ChangesOptions struct {
	// Since is the exclusive lower bound; 0 replays the whole log. A
	// value of -1 (spec.md §9, resolved) means "only changes from now
	// on" — equivalent to Since set to the current update_seq.
	Since       int64
	Limit       int
	IncludeDocs bool
	Filter      Filter
	// FilterName designates a design-document filter as "ddoc/name"
	// (spec.md §4.4 "Filtered feeds"): resolved against
	// "_design/<ddoc>"'s `filters.<name>` predicate string and compiled
	// via adapter/filter each time Changes runs. Ignored when Filter
	// is already set directly.
	FilterName string
	Query      map[string]string
	// Continuous, when true, keeps Changes running until ctx is done,
	// emitting ChangeEvent values published after the one-shot replay
	// completes (spec.md §4.4 "Continuous changes").
	Continuous bool
	// Descending reverses the one-shot replay to most-recent-first. Has
	// no effect once Changes falls through to following live events.
	Descending bool
}

// Change is one entry of the change feed: a document's current winning
// revision set at the moment its most recent update committed.
type Change struct {
	ID      string
	Seq     uint64
	Changes []revtree.Leaf
	Deleted bool
	Doc     Body
}

// Changes replays the sequence log from opts.Since (spec.md §4.4 "One-shot
// changes"), de-duplicating so only a document's most recent entry after
// Since is reported — the same docId can occupy many SeqStore slots
// across its history, but only the slot matching its current winning
// revision's seq is live. When opts.Continuous is set, it keeps delivering
// further changes on out until ctx is cancelled.
func (db *DB) Changes(ctx context.Context, opts ChangesOptions, out chan<- Change) error {
	since := opts.Since
	if since < 0 {
		since = int64(db.UpdateSeq())
	}

	filterFn := opts.Filter
	if filterFn == nil && opts.FilterName != "" {
		var err error
		filterFn, err = db.resolveFilter(opts.FilterName)
		if err != nil {
			return err
		}
	}

	emitted := 0
	it, err := db.seqStore.RangeScan(kv.RangeOptions{StartKey: encodeUint64(uint64(since) + 1)})
	if err != nil {
		return wrapEngine("range scan by-sequence", err)
	}
	// Walk every SeqStore slot since Since, keeping only the ones whose
	// docId's current winning revision maps back to exactly this seq —
	// discarding superseded revisions of the same document.
	var pending []Change
	for it.Next() {
		pair := it.Pair()
		if len(pair.Key) != 8 {
			// Not a seq slot: the `_local_last_update_seq`/`_local_doc_count`
			// sentinel keys live in this same namespace and sort after every
			// 8-byte numeric seq key.
			continue
		}
		seq := decodeUint64(pair.Key)
		var body Body
		if err := json.Unmarshal(pair.Value, &body); err != nil {
			it.Close()
			return wrapEngine("decode by-sequence record", err)
		}
		docID, _ := body[bodyID].(string)
		if docID == "" || docparse.IsLocalID(docID) {
			continue
		}
		meta, err := db.loadMetadata(docID)
		if err != nil {
			it.Close()
			return err
		}
		winRev, deleted, ok := meta.winningRev()
		if !ok || meta.RevMap[winRev] != seq {
			continue // superseded: a later revision of this doc already won
		}
		change := Change{ID: docID, Seq: seq, Changes: revtree.CollectLeaves(meta.RevTree), Deleted: deleted}
		if opts.IncludeDocs || filterFn != nil {
			winBody, err := db.loadBody(seq)
			if err != nil {
				it.Close()
				return err
			}
			winBody[bodyID] = docID
			winBody[bodyRev] = winRev
			if filterFn != nil && !filterFn(winBody, opts.Query) {
				continue
			}
			if opts.IncludeDocs {
				change.Doc = winBody
			}
		}
		pending = append(pending, change)
	}
	iterErr := it.Err()
	it.Close()
	if iterErr != nil {
		return wrapEngine("iterate by-sequence", iterErr)
	}

	if opts.Descending {
		for i, j := 0, len(pending)-1; i < j; i, j = i+1, j-1 {
			pending[i], pending[j] = pending[j], pending[i]
		}
	}

	for _, change := range pending {
		select {
		case out <- change:
		case <-ctx.Done():
			return ctx.Err()
		}
		emitted++
		if opts.Limit > 0 && emitted >= opts.Limit {
			if !opts.Continuous {
				return nil
			}
			break
		}
	}

	if !opts.Continuous {
		return nil
	}
	return db.followChanges(ctx, opts, filterFn, out)
}

// followChanges subscribes to db's emitter and forwards live ChangeEvents
// as Changes until ctx is cancelled (spec.md §4.4 "Continuous changes").
func (db *DB) followChanges(ctx context.Context, opts ChangesOptions, filterFn Filter, out chan<- Change) error {
	id, ch := db.emitter.Subscribe()
	defer db.emitter.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if docparse.IsLocalID(ev.ID) {
				continue
			}
			change := Change{ID: ev.ID, Seq: ev.Seq, Changes: ev.Changes}
			if len(ev.Changes) > 0 {
				change.Deleted = ev.Changes[0].Deleted
			}
			if opts.IncludeDocs {
				change.Doc = ev.Doc
			}
			if filterFn != nil && !filterFn(ev.Doc, opts.Query) {
				continue
			}
			select {
			case out <- change:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// resolveFilter fetches "_design/<ddoc>" and compiles its
// `filters.<filter>` predicate string via adapter/filter (spec.md §4.4
// "Filtered feeds"). name must be shaped "ddoc/filter".
func (db *DB) resolveFilter(name string) (Filter, error) {
	parts := strings.SplitN(name, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("adapter: malformed filter name %q, want \"ddoc/filter\"", name)
	}
	ddoc, filterKey := parts[0], parts[1]

	doc, err := db.Get("_design/"+ddoc, GetOptions{})
	if err != nil {
		return nil, err
	}
	filters, ok := doc["filters"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("adapter: design document %q has no filters", ddoc)
	}
	expr, ok := filters[filterKey].(string)
	if !ok {
		return nil, fmt.Errorf("adapter: design document %q has no filter %q", ddoc, filterKey)
	}
	return CompileFilter(expr)
}
