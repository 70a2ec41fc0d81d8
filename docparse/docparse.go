// Package docparse implements the document-parsing/validation boundary
// spec.md §1 names as an external collaborator: parseDoc(raw, newEdits),
// isDeleted, isLocalId. It knows nothing about storage, sequences or
// attachments beyond recognizing the _attachments stub shape; the adapter
// package owns everything else.
package docparse

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/theupdateframework/ldb/revtree"
)

// LocalPrefix marks documents excluded from allDocs and the change feed
// (spec.md §3 "Local documents").
const LocalPrefix = "_local/"

// IsLocalID reports whether id names a local document.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalPrefix)
}

// Metadata is the parsed document-control envelope: everything bulkDocs
// needs about identity and revision ancestry, independent of the user
// body. RevMap is populated lazily by the adapter (spec.md Phase 1:
// "Ensure metadata.rev_map exists").
type Metadata struct {
	ID      string
	Path    revtree.Path
	RevMap  map[string]uint64
	Deleted bool
}

// Rev is the revision this parse produced (the path's own leaf).
func (m Metadata) Rev() string { return m.Path.Leaf() }

// Attachment is one entry of a parsed document's _attachments map.
type Attachment struct {
	ContentType string
	Digest      string
	Length      int64
	Stub        bool
	// Data holds the raw bytes decoded from a non-stub attachment's base64
	// `data` field; empty for stubs.
	Data []byte
}

// Doc is a parsed document: its control Metadata plus the remaining user
// fields (Extra) and any attachments.
type Doc struct {
	Metadata    Metadata
	Extra       map[string]json.RawMessage
	Attachments map[string]Attachment
}

type rawDoc struct {
	ID          string                     `json:"_id"`
	Rev         string                     `json:"_rev"`
	Deleted     bool                       `json:"_deleted"`
	Revisions   *rawRevisions              `json:"_revisions"`
	Attachments map[string]rawAttachment   `json:"_attachments"`
	Extra       map[string]json.RawMessage `json:"-"`
}

type rawRevisions struct {
	Start int      `json:"start"`
	IDs   []string `json:"ids"`
}

type rawAttachment struct {
	ContentType string `json:"content_type"`
	Digest      string `json:"digest"`
	Length      int64  `json:"length"`
	Stub        bool   `json:"stub"`
	Data        string `json:"data"`
}

// ParseError is returned by Parse on malformed input; spec.md §4.3 Phase 1
// aborts the whole bulkDocs batch with the first such error.
type ParseError struct {
	DocID string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("docparse: %s: %s", e.DocID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse validates raw JSON into a Doc. When newEdits is true, a document
// with no `_rev` is treated as a brand new, generation-1 insert and a
// fresh random hash is minted for its (still unrevised) leaf; one with a
// `_rev` becomes a two-node path: a freshly minted leaf one generation
// past that rev, with that rev as its parent.
// When newEdits is false, raw must carry `_revisions` describing its full
// ancestor chain (a replicated write), and that chain becomes the Path
// verbatim.
func Parse(raw []byte, newEdits bool) (*Doc, error) {
	var rd rawDoc
	if err := json.Unmarshal(raw, &rd); err != nil {
		return nil, &ParseError{Err: err}
	}
	if err := json.Unmarshal(raw, &rd.Extra); err != nil {
		return nil, &ParseError{DocID: rd.ID, Err: err}
	}
	for _, key := range []string{"_id", "_rev", "_deleted", "_revisions", "_attachments"} {
		delete(rd.Extra, key)
	}
	if rd.ID == "" {
		return nil, &ParseError{Err: fmt.Errorf("missing _id")}
	}

	var path revtree.Path
	switch {
	case !newEdits:
		if rd.Revisions == nil || len(rd.Revisions.IDs) == 0 {
			return nil, &ParseError{DocID: rd.ID, Err: fmt.Errorf("new_edits=false requires _revisions")}
		}
		nodes := make([]revtree.PathNode, len(rd.Revisions.IDs))
		for i, h := range rd.Revisions.IDs {
			nodes[i] = revtree.PathNode{Hash: h, Deleted: i == 0 && rd.Deleted}
		}
		path = revtree.Path{Start: rd.Revisions.Start, IDs: nodes}
	case rd.Rev == "":
		path = revtree.Path{Start: 1, IDs: []revtree.PathNode{{Hash: randomHash(), Deleted: rd.Deleted}}}
	default:
		gen, hash, err := revtree.ParseRev(rd.Rev)
		if err != nil {
			return nil, &ParseError{DocID: rd.ID, Err: err}
		}
		path = revtree.Path{
			Start: gen + 1,
			IDs: []revtree.PathNode{
				{Hash: randomHash(), Deleted: rd.Deleted},
				{Hash: hash},
			},
		}
	}

	doc := &Doc{
		Metadata: Metadata{
			ID:      rd.ID,
			Path:    path,
			RevMap:  map[string]uint64{},
			Deleted: rd.Deleted,
		},
		Extra: rd.Extra,
	}
	if len(rd.Attachments) > 0 {
		doc.Attachments = make(map[string]Attachment, len(rd.Attachments))
		for name, a := range rd.Attachments {
			var data []byte
			if !a.Stub && a.Data != "" {
				decoded, err := base64.StdEncoding.DecodeString(a.Data)
				if err != nil {
					return nil, &ParseError{DocID: rd.ID, Err: fmt.Errorf("attachment %s: %w", name, err)}
				}
				data = decoded
			}
			doc.Attachments[name] = Attachment{
				ContentType: a.ContentType,
				Digest:      a.Digest,
				Length:      a.Length,
				Stub:        a.Stub,
				Data:        data,
			}
		}
	}
	return doc, nil
}

// IsDeleted reports whether doc's own leaf (not necessarily the tree's
// winner) is flagged deleted.
func IsDeleted(doc *Doc) bool {
	return doc.Metadata.Deleted
}

func randomHash() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
