package leveldb_test

import (
	"testing"

	"github.com/theupdateframework/ldb/adaptertest"
	"github.com/theupdateframework/ldb/kv/leveldb"
)

func TestConformance(t *testing.T) {
	adaptertest.Run(t, t.TempDir(), leveldb.Open, true)
}
