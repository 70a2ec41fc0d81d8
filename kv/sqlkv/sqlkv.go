// Package sqlkv adapts github.com/jinzhu/gorm into a kv.Engine, for
// operators who would rather back a namespace with a relational engine
// they already run than an embedded one. It is grounded directly on
// server/storage/sqldb.go's SQLStorage/gorm.Open pattern: one physical
// table per namespace, dialect picked by the same gorm.Open(dialect, args)
// call, the same go-sql-driver/mysql / lib/pq / mattn/go-sqlite3 drivers.
//
// The table is a plain key-value table (key BLOB PRIMARY KEY, value BLOB)
// — SQL is used only as a KV backend here, never as a document query
// surface, so it does not reintroduce spec.md's "SQL" Non-goal.
package sqlkv

import (
	"bytes"
	"sort"

	"github.com/jinzhu/gorm"
	// Register the SQL drivers the teacher carried, so callers can Open
	// any of "sqlite3", "mysql" or "postgres" without an extra import.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/theupdateframework/ldb/kv"
)

// row is the one physical model backing every namespace; TableName is set
// per Engine instance at Open time so the four namespaces don't collide in
// a shared database.
type row struct {
	Key   []byte `gorm:"primary_key;type:varbinary(1024)"`
	Value []byte `gorm:"type:longblob"`
}

type engine struct {
	db    *gorm.DB
	table string
}

// Dialect names the gorm dialect to use; see jinzhu/gorm's dialect
// constants ("sqlite3", "mysql", "postgres").
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
)

// Open opens (or creates) a gorm-backed engine. dsn is passed through as
// the data source name for dialect — for SQLite this is a filesystem path, for
// MySQL/Postgres a connection string; table names the physical table,
// letting one database connection back all four adapter namespaces each
// in its own table.
func Open(dialect Dialect, dsn, table string, opts kv.Options) (kv.Engine, error) {
	db, err := gorm.Open(string(dialect), dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "sqlkv: open %s", dialect)
	}
	t := db.Table(table)
	if opts.CreateIfMissing && !t.HasTable(table) {
		create := t
		if dialect == MySQL {
			// Table options are MySQL syntax; SQLite rejects them.
			create = t.Set("gorm:table_options", "ENGINE=InnoDB DEFAULT CHARSET=utf8")
		}
		if err := create.CreateTable(&row{}).Error; err != nil {
			return nil, errors.Wrapf(err, "sqlkv: create table %s", table)
		}
	}
	return &engine{db: db, table: table}, nil
}

func (e *engine) tx() *gorm.DB { return e.db.Table(e.table) }

func (e *engine) Get(key []byte) ([]byte, error) {
	var r row
	err := e.tx().Where("\"key\" = ?", key).First(&r).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "sqlkv: get")
	}
	return r.Value, nil
}

func (e *engine) Put(key, value []byte) error {
	r := row{Key: key, Value: value}
	existing := e.tx().Where("\"key\" = ?", key).First(&row{})
	if gorm.IsRecordNotFoundError(existing.Error) {
		return errors.Wrap(e.tx().Create(&r).Error, "sqlkv: put (insert)")
	}
	if existing.Error != nil {
		return errors.Wrap(existing.Error, "sqlkv: put (lookup)")
	}
	return errors.Wrap(e.tx().Where("\"key\" = ?", key).Save(&r).Error, "sqlkv: put (update)")
}

func (e *engine) Delete(key []byte) error {
	return errors.Wrap(e.tx().Where("\"key\" = ?", key).Delete(&row{}).Error, "sqlkv: delete")
}

func (e *engine) Batch(ops []kv.WriteOp) error {
	tx := e.db.Begin()
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "sqlkv: batch begin")
	}
	for _, op := range ops {
		t := tx.Table(e.table)
		if op.Value == nil {
			if err := t.Where("\"key\" = ?", op.Key).Delete(&row{}).Error; err != nil {
				tx.Rollback()
				return errors.Wrap(err, "sqlkv: batch delete")
			}
			continue
		}
		r := row{Key: op.Key, Value: op.Value}
		existing := t.Where("\"key\" = ?", op.Key).First(&row{})
		var err error
		if gorm.IsRecordNotFoundError(existing.Error) {
			err = t.Create(&r).Error
		} else if existing.Error == nil {
			err = t.Where("\"key\" = ?", op.Key).Save(&r).Error
		} else {
			err = existing.Error
		}
		if err != nil {
			tx.Rollback()
			return errors.Wrap(err, "sqlkv: batch write")
		}
	}
	return errors.Wrap(tx.Commit().Error, "sqlkv: batch commit")
}

func (e *engine) RangeScan(opts kv.RangeOptions) (kv.Iterator, error) {
	q := e.tx()
	if opts.StartKey != nil {
		q = q.Where("\"key\" >= ?", opts.StartKey)
	}
	if opts.EndKey != nil {
		q = q.Where("\"key\" < ?", opts.EndKey)
	}
	var rows []row
	if err := q.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "sqlkv: range scan")
	}
	sort.Slice(rows, func(i, j int) bool { return bytes.Compare(rows[i].Key, rows[j].Key) < 0 })
	if opts.Reverse {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	return &iterator{rows: rows, idx: -1}, nil
}

func (e *engine) Close() error {
	return e.db.Close()
}

type iterator struct {
	rows []row
	idx  int
}

func (i *iterator) Next() bool {
	i.idx++
	return i.idx < len(i.rows)
}

func (i *iterator) Pair() kv.Pair {
	r := i.rows[i.idx]
	return kv.Pair{Key: r.Key, Value: r.Value}
}

func (i *iterator) Err() error   { return nil }
func (i *iterator) Close() error { return nil }
