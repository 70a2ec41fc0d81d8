package memkv_test

import (
	"testing"

	"github.com/theupdateframework/ldb/adaptertest"
	"github.com/theupdateframework/ldb/kv/memkv"
)

func TestConformance(t *testing.T) {
	// memkv ignores dir/opts and never persists across Open calls, so the
	// reopen-preserves-counters check is skipped (see adaptertest.Run).
	adaptertest.Run(t, t.TempDir(), memkv.Open, false)
}
