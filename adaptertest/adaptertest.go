// Package adaptertest is an engine-parametric conformance suite: Run
// exercises adapter.DB handles backed by whichever kv.Engine the caller
// wires in, against spec.md §8's invariants and scenarios. kv/leveldb,
// kv/sqlkv and kv/memkv each get a thin _test.go in their own package
// that calls Run with their own factory, so every engine is checked
// against the same behavioral contract.
package adaptertest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/theupdateframework/ldb/adapter"
	"github.com/theupdateframework/ldb/kv"
)

// Run runs every conformance check as a subtest, each against its own
// fresh database (with a fixed per-check name) under dir, backed by
// newEngine. Set persistent
// to false for engines that don't survive a Close/Open cycle (memkv, used
// only for fast in-process testing) to skip the reopen check.
func Run(t *testing.T, dir string, newEngine kv.Factory, persistent bool) {
	t.Helper()
	t.Run("InsertAndGet", func(t *testing.T) { testInsertAndGet(t, dir, newEngine) })
	t.Run("UpdateRequiresCurrentRev", func(t *testing.T) { testUpdateRequiresCurrentRev(t, dir, newEngine) })
	t.Run("ConflictOnStaleRev", func(t *testing.T) { testConflictOnStaleRev(t, dir, newEngine) })
	t.Run("DeleteLeavesTombstone", func(t *testing.T) { testDeleteLeavesTombstone(t, dir, newEngine) })
	t.Run("AllDocsExcludesLocalAndDeleted", func(t *testing.T) { testAllDocsExcludesLocalAndDeleted(t, dir, newEngine) })
	t.Run("AttachmentRoundTrip", func(t *testing.T) { testAttachmentRoundTrip(t, dir, newEngine) })
	t.Run("ChangesOneShotDedup", func(t *testing.T) { testChangesOneShotDedup(t, dir, newEngine) })
	t.Run("ChangesContinuousLivesAfterWrite", func(t *testing.T) { testChangesContinuousLivesAfterWrite(t, dir, newEngine) })
	if persistent {
		t.Run("ReopenPreservesCounters", func(t *testing.T) { testReopenPreservesCounters(t, dir, newEngine) })
	}
}

func open(t *testing.T, name, dir string, newEngine kv.Factory) *adapter.DB {
	t.Helper()
	db, err := adapter.Open(name, adapter.Options{Dir: dir, NewEngine: newEngine})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func putJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func testInsertAndGet(t *testing.T, dir string, newEngine kv.Factory) {
	db := open(t, "insert-and-get", dir, newEngine)

	results, err := db.BulkDocs([][]byte{putJSON(t, map[string]interface{}{
		"_id": "doc1", "hello": "world",
	})}, adapter.BulkDocsOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Error)
	require.Equal(t, "doc1", results[0].ID)

	body, err := db.Get("doc1", adapter.GetOptions{})
	require.NoError(t, err)
	require.Equal(t, "world", body["hello"])
	require.Equal(t, results[0].Rev, body["_rev"])
}

func testUpdateRequiresCurrentRev(t *testing.T, dir string, newEngine kv.Factory) {
	db := open(t, "update-requires-current-rev", dir, newEngine)

	first, err := db.BulkDocs([][]byte{putJSON(t, map[string]interface{}{"_id": "doc1", "n": 1})}, adapter.BulkDocsOptions{})
	require.NoError(t, err)
	rev1 := first[0].Rev

	second, err := db.BulkDocs([][]byte{putJSON(t, map[string]interface{}{"_id": "doc1", "_rev": rev1, "n": 2})}, adapter.BulkDocsOptions{})
	require.NoError(t, err)
	require.NoError(t, second[0].Error)

	body, err := db.Get("doc1", adapter.GetOptions{})
	require.NoError(t, err)
	require.EqualValues(t, 2, body["n"])
}

func testConflictOnStaleRev(t *testing.T, dir string, newEngine kv.Factory) {
	db := open(t, "conflict-on-stale-rev", dir, newEngine)

	first, err := db.BulkDocs([][]byte{putJSON(t, map[string]interface{}{"_id": "doc1", "n": 1})}, adapter.BulkDocsOptions{})
	require.NoError(t, err)
	rev1 := first[0].Rev

	_, err = db.BulkDocs([][]byte{putJSON(t, map[string]interface{}{"_id": "doc1", "_rev": rev1, "n": 2})}, adapter.BulkDocsOptions{})
	require.NoError(t, err)

	stale, err := db.BulkDocs([][]byte{putJSON(t, map[string]interface{}{"_id": "doc1", "_rev": rev1, "n": 3})}, adapter.BulkDocsOptions{})
	require.NoError(t, err)
	require.Error(t, stale[0].Error)
	require.IsType(t, adapter.RevConflictError{}, stale[0].Error)
}

func testDeleteLeavesTombstone(t *testing.T, dir string, newEngine kv.Factory) {
	db := open(t, "delete-leaves-tombstone", dir, newEngine)

	first, err := db.BulkDocs([][]byte{putJSON(t, map[string]interface{}{"_id": "doc1"})}, adapter.BulkDocsOptions{})
	require.NoError(t, err)
	rev1 := first[0].Rev

	_, err = db.BulkDocs([][]byte{putJSON(t, map[string]interface{}{"_id": "doc1", "_rev": rev1, "_deleted": true})}, adapter.BulkDocsOptions{})
	require.NoError(t, err)

	_, err = db.Get("doc1", adapter.GetOptions{})
	require.Error(t, err)
	require.IsType(t, adapter.MissingDocError{}, err)
}

func testAllDocsExcludesLocalAndDeleted(t *testing.T, dir string, newEngine kv.Factory) {
	db := open(t, "alldocs-excludes-local-and-deleted", dir, newEngine)

	results, err := db.BulkDocs([][]byte{
		putJSON(t, map[string]interface{}{"_id": "doc1"}),
		putJSON(t, map[string]interface{}{"_id": "doc2"}),
		putJSON(t, map[string]interface{}{"_id": "_local/config"}),
		putJSON(t, map[string]interface{}{"_id": "doc3"}),
	}, adapter.BulkDocsOptions{})
	require.NoError(t, err)
	_, err = db.BulkDocs([][]byte{putJSON(t, map[string]interface{}{"_id": "doc3", "_rev": results[3].Rev, "_deleted": true})}, adapter.BulkDocsOptions{})
	require.NoError(t, err)

	rows, err := db.AllDocs(adapter.AllDocsOptions{})
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, r := range rows {
		ids[r.ID] = true
	}
	require.True(t, ids["doc1"])
	require.True(t, ids["doc2"])
	require.False(t, ids["_local/config"])
	require.False(t, ids["doc3"])
}

func testAttachmentRoundTrip(t *testing.T, dir string, newEngine kv.Factory) {
	db := open(t, "attachment-round-trip", dir, newEngine)

	_, err := db.BulkDocs([][]byte{putJSON(t, map[string]interface{}{
		"_id": "doc1",
		"_attachments": map[string]interface{}{
			"note.txt": map[string]interface{}{
				"content_type": "text/plain",
				"data":         "aGVsbG8=", // base64("hello")
			},
		},
	})}, adapter.BulkDocsOptions{})
	require.NoError(t, err)

	data, contentType, err := db.GetAttachment("doc1", "note.txt", adapter.GetOptions{})
	require.NoError(t, err)
	require.Equal(t, "text/plain", contentType)
	require.NotEmpty(t, data)
}

func testChangesOneShotDedup(t *testing.T, dir string, newEngine kv.Factory) {
	db := open(t, "changes-one-shot-dedup", dir, newEngine)

	first, err := db.BulkDocs([][]byte{putJSON(t, map[string]interface{}{"_id": "doc1"})}, adapter.BulkDocsOptions{})
	require.NoError(t, err)
	rev1 := first[0].Rev
	_, err = db.BulkDocs([][]byte{putJSON(t, map[string]interface{}{"_id": "doc1", "_rev": rev1, "n": 2})}, adapter.BulkDocsOptions{})
	require.NoError(t, err)

	out := make(chan adapter.Change, 16)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = db.Changes(ctx, adapter.ChangesOptions{Since: 0}, out)
	require.NoError(t, err)
	close(out)

	count := 0
	for range out {
		count++
	}
	require.Equal(t, 1, count, "doc1 should appear exactly once despite two revisions")
}

func testChangesContinuousLivesAfterWrite(t *testing.T, dir string, newEngine kv.Factory) {
	db := open(t, "changes-continuous-lives-after-write", dir, newEngine)

	out := make(chan adapter.Change, 16)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- db.Changes(ctx, adapter.ChangesOptions{Since: -1, Continuous: true}, out)
	}()

	time.Sleep(50 * time.Millisecond)
	_, err := db.BulkDocs([][]byte{putJSON(t, map[string]interface{}{"_id": "doc1"})}, adapter.BulkDocsOptions{})
	require.NoError(t, err)

	select {
	case change := <-out:
		require.Equal(t, "doc1", change.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("continuous changes did not deliver the live write")
	}
	cancel()
	<-errCh
}

func testReopenPreservesCounters(t *testing.T, dir string, newEngine kv.Factory) {
	name := "reopen-preserves-counters"
	db := open(t, name, dir, newEngine)

	_, err := db.BulkDocs([][]byte{
		putJSON(t, map[string]interface{}{"_id": "doc1"}),
		putJSON(t, map[string]interface{}{"_id": "doc2"}),
	}, adapter.BulkDocsOptions{})
	require.NoError(t, err)
	wantSeq := db.UpdateSeq()
	wantCount := db.DocCount()
	require.NoError(t, db.Close())

	reopened, err := adapter.Open(name, adapter.Options{Dir: dir, NewEngine: newEngine})
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, wantSeq, reopened.UpdateSeq())
	require.Equal(t, wantCount, reopened.DocCount())
}
