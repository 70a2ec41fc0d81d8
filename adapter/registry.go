package adapter

import "sync"

// Two process-wide registries, per spec.md §5/§9: opened stores keyed by
// absolute directory path (so a reopen of the same path returns the cached
// handle verbatim), and change emitters keyed by database name (longer-
// lived than any one handle — "for process lifetime").
var (
	storesMu sync.Mutex
	stores   = map[string]*DB{}

	emittersMu sync.Mutex
	emitters   = map[string]*emitter{}
)

func registryGet(path string) (*DB, bool) {
	storesMu.Lock()
	defer storesMu.Unlock()
	db, ok := stores[path]
	return db, ok
}

func registryPut(path string, db *DB) {
	storesMu.Lock()
	defer storesMu.Unlock()
	stores[path] = db
}

func registryDelete(path string) {
	storesMu.Lock()
	defer storesMu.Unlock()
	delete(stores, path)
}

func emitterFor(name string) *emitter {
	emittersMu.Lock()
	defer emittersMu.Unlock()
	e, ok := emitters[name]
	if !ok {
		e = newEmitter()
		emitters[name] = e
	}
	return e
}
