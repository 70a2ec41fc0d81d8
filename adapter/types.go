// Package adapter implements the local persistent adapter: a per-database
// handle over four kv.Engine namespaces (DocStore, SeqStore, AttachMeta,
// AttachBlob), grounded throughout on server/storage's MetaStore triad
// (CouchDB/SQLStorage/MemStorage) — same shape (a small struct holding
// engine handles plus a name), generalized from "one TUF role's versions"
// to "one document's revision tree."
package adapter

import (
	"encoding/base64"
	"encoding/json"

	"github.com/theupdateframework/ldb/revtree"
)

// Body is a document's user JSON, loosely typed the way sync_gateway's
// db.Body is (map[string]interface{}) rather than a fixed struct, since the
// adapter never interprets user fields beyond the handful of reserved
// ones.
type Body map[string]interface{}

const (
	bodyID          = "_id"
	bodyRev         = "_rev"
	bodyDeleted     = "_deleted"
	bodyAttachments = "_attachments"
	bodyConflicts   = "_conflicts"
)

// ShallowCopy returns a shallow copy of b (same idiom as sync_gateway's
// Body.ShallowCopy: cheap, safe for the common "stamp one reserved field
// before handing the body to a caller" use).
func (b Body) ShallowCopy() Body {
	if b == nil {
		return nil
	}
	out := make(Body, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// AttachmentStub is one entry of a document body's _attachments map, as
// spec.md §3 defines it.
type AttachmentStub struct {
	ContentType string `json:"content_type"`
	Digest      string `json:"digest"`
	Length      int64  `json:"length"`
	Stub        bool   `json:"stub"`
	Data        string `json:"data,omitempty"` // only present when expanded inline
}

// metadata is the persisted DocStore record (spec.md §3 "Document
// metadata"). json field names match spec.md §3/§6 verbatim since they are
// part of the on-disk contract, not just an internal convenience.
type metadata struct {
	ID      string            `json:"id"`
	RevTree revtree.Tree      `json:"rev_tree"`
	RevMap  map[string]uint64 `json:"rev_map"`
	Seq     uint64            `json:"seq"`
	Deleted bool              `json:"deleted"`
}

func (m *metadata) winningRev() (rev string, deleted bool, ok bool) {
	return revtree.WinningRev(m.RevTree)
}

// attachMetaRecord is the persisted AttachMeta record (spec.md §3/§4.3
// Phase 5): a reference-counting set, keyed "<docId>@<rev>".
type attachMetaRecord struct {
	Refs map[string]bool `json:"refs"`
}

// base64Encode renders attachment bytes the way spec.md §3's inline
// `_attachments[name].data` field expects.
func base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// marshal/unmarshal helpers centralize the JSON encoding every namespace
// value (other than AttachBlob, which is raw bytes) uses.
func marshalJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Every value passed here is adapter-internal and JSON-safe by
		// construction (no channels/funcs); a marshal failure would be a
		// programming error, not a runtime condition to recover from.
		panic(err)
	}
	return b
}
