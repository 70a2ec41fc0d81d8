package sqlkv_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/theupdateframework/ldb/adaptertest"
	"github.com/theupdateframework/ldb/kv"
	"github.com/theupdateframework/ldb/kv/sqlkv"
)

func TestConformance(t *testing.T) {
	factory := func(dir string, opts kv.Options) (kv.Engine, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		return sqlkv.Open(sqlkv.SQLite, filepath.Join(dir, "data.db"), "kv", opts)
	}
	adaptertest.Run(t, t.TempDir(), factory, true)
}
