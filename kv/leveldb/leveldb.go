// Package leveldb adapts github.com/syndtr/goleveldb into a kv.Engine. This
// is the adapter's default embedded engine, grounded on the goleveldb DB
// API (Get/Put/Delete/Write(Batch)/NewIterator/Close) used throughout the
// wider Go ecosystem (syncthing, FactomProject) for exactly this kind of
// ordered local store.
package leveldb

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/theupdateframework/ldb/kv"
)

type engine struct {
	db *leveldb.DB
}

// Open opens a goleveldb store at dir, creating it if missing only when
// opts.CreateIfMissing is set.
func Open(dir string, opts kv.Options) (kv.Engine, error) {
	ldbOpts := &opt.Options{
		ErrorIfMissing: !opts.CreateIfMissing,
	}
	db, err := leveldb.OpenFile(dir, ldbOpts)
	if err != nil {
		return nil, errors.Wrapf(err, "leveldb: open %s", dir)
	}
	return &engine{db: db}, nil
}

func (e *engine) Get(key []byte) ([]byte, error) {
	v, err := e.db.Get(key, nil)
	if err == ldberrors.ErrNotFound {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "leveldb: get")
	}
	return v, nil
}

func (e *engine) Put(key, value []byte) error {
	if err := e.db.Put(key, value, nil); err != nil {
		return errors.Wrap(err, "leveldb: put")
	}
	return nil
}

func (e *engine) Delete(key []byte) error {
	if err := e.db.Delete(key, nil); err != nil {
		return errors.Wrap(err, "leveldb: delete")
	}
	return nil
}

func (e *engine) Batch(ops []kv.WriteOp) error {
	batch := new(leveldb.Batch)
	for _, op := range ops {
		if op.Value == nil {
			batch.Delete(op.Key)
		} else {
			batch.Put(op.Key, op.Value)
		}
	}
	if err := e.db.Write(batch, nil); err != nil {
		return errors.Wrap(err, "leveldb: batch write")
	}
	return nil
}

func (e *engine) RangeScan(opts kv.RangeOptions) (kv.Iterator, error) {
	rng := &util.Range{Start: opts.StartKey, Limit: opts.EndKey}
	it := e.db.NewIterator(rng, nil)
	return &iterator{it: it, opts: opts}, nil
}

func (e *engine) Close() error {
	return e.db.Close()
}

type iterator struct {
	it      iteratorLike
	opts    kv.RangeOptions
	started bool
	emitted int
	cur     kv.Pair
}

// iteratorLike narrows goleveldb's iterator.Iterator to what we consume,
// so this file only needs the one import alias above.
type iteratorLike interface {
	Next() bool
	Prev() bool
	Last() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

func (i *iterator) Next() bool {
	if i.opts.Limit > 0 && i.emitted >= i.opts.Limit {
		return false
	}
	var ok bool
	if i.opts.Reverse {
		if !i.started {
			ok = i.it.Last()
		} else {
			ok = i.it.Prev()
		}
	} else {
		ok = i.it.Next()
	}
	i.started = true
	if !ok {
		return false
	}
	// copy out: goleveldb reuses the backing array across iterations.
	key := append([]byte(nil), i.it.Key()...)
	val := append([]byte(nil), i.it.Value()...)
	i.cur = kv.Pair{Key: key, Value: val}
	i.emitted++
	return true
}

func (i *iterator) Pair() kv.Pair { return i.cur }
func (i *iterator) Err() error    { return i.it.Error() }
func (i *iterator) Close() error  { i.it.Release(); return nil }
