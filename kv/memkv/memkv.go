// Package memkv is an in-memory kv.Engine, grounded on
// server/storage/memory.go's MemStorage: a mutex-guarded map, "really just
// designed for dev and testing... very inefficient in many scenarios."
// Used by adaptertest to run the conformance suite without touching disk.
package memkv

import (
	"bytes"
	"sort"
	"sync"

	"github.com/theupdateframework/ldb/kv"
)

type engine struct {
	mu   sync.Mutex
	data map[string][]byte
}

// Open returns a fresh in-memory engine; dir and opts are accepted only to
// satisfy kv.Factory and are otherwise ignored.
func Open(_ string, _ kv.Options) (kv.Engine, error) {
	return &engine{data: make(map[string][]byte)}, nil
}

func (e *engine) Get(key []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.data[string(key)]
	if !ok {
		return nil, kv.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (e *engine) Put(key, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (e *engine) Delete(key []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.data, string(key))
	return nil
}

func (e *engine) Batch(ops []kv.WriteOp) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, op := range ops {
		if op.Value == nil {
			delete(e.data, string(op.Key))
			continue
		}
		e.data[string(op.Key)] = append([]byte(nil), op.Value...)
	}
	return nil
}

func (e *engine) RangeScan(opts kv.RangeOptions) (kv.Iterator, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var pairs []kv.Pair
	for k, v := range e.data {
		kb := []byte(k)
		if opts.StartKey != nil && bytes.Compare(kb, opts.StartKey) < 0 {
			continue
		}
		if opts.EndKey != nil && bytes.Compare(kb, opts.EndKey) >= 0 {
			continue
		}
		pairs = append(pairs, kv.Pair{Key: kb, Value: append([]byte(nil), v...)})
	}
	sort.Slice(pairs, func(i, j int) bool { return bytes.Compare(pairs[i].Key, pairs[j].Key) < 0 })
	if opts.Reverse {
		for i, j := 0, len(pairs)-1; i < j; i, j = i+1, j-1 {
			pairs[i], pairs[j] = pairs[j], pairs[i]
		}
	}
	if opts.Limit > 0 && len(pairs) > opts.Limit {
		pairs = pairs[:opts.Limit]
	}
	return &iterator{pairs: pairs, idx: -1}, nil
}

func (e *engine) Close() error { return nil }

type iterator struct {
	pairs []kv.Pair
	idx   int
}

func (i *iterator) Next() bool {
	i.idx++
	return i.idx < len(i.pairs)
}
func (i *iterator) Pair() kv.Pair { return i.pairs[i.idx] }
func (i *iterator) Err() error    { return nil }
func (i *iterator) Close() error  { return nil }
