package adapter

import (
	"encoding/binary"
	"path/filepath"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/theupdateframework/ldb/kv"
	"github.com/theupdateframework/ldb/kv/leveldb"
)

// Namespace directory names, per spec.md §6 "Persisted layout".
const (
	dirDocStore    = "document-store"
	dirSeqStore    = "by-sequence"
	dirAttachMeta  = "attach-store"
	dirAttachBlob  = "attach-binary-store"
	sentinelSeq    = "_local_last_update_seq"
	sentinelCount  = "_local_doc_count"
)

// AdapterNames are the names the outer facade resolves to this adapter
// (spec.md §6): both resolve to the same implementation.
var AdapterNames = []string{"ldb", "leveldb"}

// Options configures Open.
type Options struct {
	// Dir is the parent directory under which "<Dir>/<name>/..." is
	// created. Defaults to the current directory.
	Dir string
	// NewEngine opens one namespace's kv.Engine; defaults to
	// kv/leveldb.Open. Swap in kv/memkv.Open, or a kv.Factory closure over
	// kv/sqlkv.Open (which also takes a dialect, DSN and table name), to
	// back the adapter with a different engine.
	NewEngine kv.Factory
	// CreateIfMissing defaults to true, per spec.md §4.1.
	CreateIfMissing *bool
	// EngineType labels DB.Type()'s return value; defaults to "leveldb".
	// Set this to match whatever NewEngine actually wires in (e.g.
	// "sqlkv", "memkv").
	EngineType string
	Log        *logrus.Entry
}

func (o Options) createIfMissing() bool {
	if o.CreateIfMissing == nil {
		return true
	}
	return *o.CreateIfMissing
}

// DB is one open database handle: the four namespaces plus the counters
// and machinery spec.md §2/§5 describe. Shaped after server/storage's
// CouchDB/SQLStorage structs — a small set of fields wrapping engine
// handles — generalized to the adapter's four-namespace model.
type DB struct {
	name string
	path string
	log  *logrus.Entry

	engineType string

	docStore   kv.Engine
	seqStore   kv.Engine
	attachMeta kv.Engine
	attachBlob kv.Engine

	updateSeq uint64 // atomic; mutated only inside queue.Submit
	docCount  uint64 // atomic; mutated only inside queue.Submit

	emitter *emitter
	queue   *workQueue

	closed int32 // atomic
}

// Open resolves name under opts.Dir, opens (creating if missing) the four
// namespaces, and bootstraps the doc_count/update_seq counters from
// SeqStore's sentinel keys. A second Open of the same path returns the
// cached handle from the process-wide registry verbatim (spec.md §5
// "Shared resource: the open-stores registry").
func Open(name string, opts Options) (*DB, error) {
	dir := opts.Dir
	path := filepath.Join(dir, name)

	if db, ok := registryGet(path); ok {
		return db, nil
	}

	factory := opts.NewEngine
	if factory == nil {
		factory = defaultEngineFactory
	}
	engineOpts := kv.Options{CreateIfMissing: opts.createIfMissing()}

	log := opts.Log
	if log == nil {
		log = logrus.WithField("database", name)
	}

	docStore, err := factory(filepath.Join(path, dirDocStore), engineOptsWith(engineOpts, kv.JSON))
	if err != nil {
		return nil, wrapEngine("open document-store", err)
	}
	seqStore, err := factory(filepath.Join(path, dirSeqStore), engineOptsWith(engineOpts, kv.JSON))
	if err != nil {
		docStore.Close()
		return nil, wrapEngine("open by-sequence", err)
	}
	attachMeta, err := factory(filepath.Join(path, dirAttachMeta), engineOptsWith(engineOpts, kv.JSON))
	if err != nil {
		docStore.Close()
		seqStore.Close()
		return nil, wrapEngine("open attach-store", err)
	}
	attachBlob, err := factory(filepath.Join(path, dirAttachBlob), engineOptsWith(engineOpts, kv.Binary))
	if err != nil {
		docStore.Close()
		seqStore.Close()
		attachMeta.Close()
		return nil, wrapEngine("open attach-binary-store", err)
	}

	engineType := opts.EngineType
	if engineType == "" {
		engineType = "leveldb"
	}

	db := &DB{
		name:       name,
		path:       path,
		log:        log,
		engineType: engineType,
		docStore:   docStore,
		seqStore:   seqStore,
		attachMeta: attachMeta,
		attachBlob: attachBlob,
		emitter:    emitterFor(name),
		queue:      newWorkQueue(),
	}

	if err := db.bootstrapCounters(); err != nil {
		docStore.Close()
		seqStore.Close()
		attachMeta.Close()
		attachBlob.Close()
		return nil, err
	}

	// Only report readiness — and register the handle — once every
	// namespace is open and counters are loaded (spec.md §4.1 "Failure").
	registryPut(path, db)
	return db, nil
}

func engineOptsWith(base kv.Options, enc kv.ValueEncoding) kv.Options {
	base.Encoding = enc
	return base
}

func defaultEngineFactory(dir string, opts kv.Options) (kv.Engine, error) {
	return leveldb.Open(dir, opts)
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeUint64(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (db *DB) bootstrapCounters() error {
	seq, err := db.seqStore.Get([]byte(sentinelSeq))
	if err != nil && err != kv.ErrNotFound {
		return wrapEngine("read update_seq sentinel", err)
	}
	if err == nil {
		atomic.StoreUint64(&db.updateSeq, decodeUint64(seq))
	}

	count, err := db.seqStore.Get([]byte(sentinelCount))
	if err != nil && err != kv.ErrNotFound {
		return wrapEngine("read doc_count sentinel", err)
	}
	if err == nil {
		atomic.StoreUint64(&db.docCount, decodeUint64(count))
	}
	return nil
}

// Type returns the adapter type name, per spec.md §6.
func (db *DB) Type() string { return db.engineType }

// ID returns the database name, per spec.md §6.
func (db *DB) ID() string { return db.name }

// UpdateSeq returns the current update_seq counter.
func (db *DB) UpdateSeq() uint64 { return atomic.LoadUint64(&db.updateSeq) }

// DocCount returns the current doc_count counter (count of inserts; see
// DESIGN.md for the §9 open-question resolution — deletions do not
// decrement it).
func (db *DB) DocCount() uint64 { return atomic.LoadUint64(&db.docCount) }
