package adapter

import "sync/atomic"

// nextSeq allocates and returns the next update_seq value. Only ever called
// from inside queue.Submit, so the increment itself needs no atomicity —
// atomic.AddUint64 is used anyway so DB.UpdateSeq's concurrent readers
// never observe a torn value.
func (db *DB) nextSeq() uint64 {
	return atomic.AddUint64(&db.updateSeq, 1)
}

func (db *DB) setDocCount(n uint64) {
	atomic.StoreUint64(&db.docCount, n)
}

// persistSeqSentinel writes the `_local_last_update_seq` and
// `_local_doc_count` sentinel keys (spec.md §4.1/§6) so a later Open can
// bootstrap the counters without rescanning SeqStore.
func (db *DB) persistSeqSentinel(seq uint64) error {
	ops := []struct {
		key []byte
		val []byte
	}{
		{[]byte(sentinelSeq), encodeUint64(seq)},
		{[]byte(sentinelCount), encodeUint64(db.DocCount())},
	}
	for _, op := range ops {
		if err := db.seqStore.Put(op.key, op.val); err != nil {
			return wrapEngine("put sequence sentinel", err)
		}
	}
	return nil
}
