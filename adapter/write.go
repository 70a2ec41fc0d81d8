package adapter

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"

	"github.com/theupdateframework/ldb/docparse"
	"github.com/theupdateframework/ldb/kv"
)

// writeDoc persists one accepted revision's body and attachments and
// allocates its sequence (spec.md §4.3 Phases 4-5), returning the stored
// body. It mutates meta in place (RevMap, Seq) but does not itself persist
// meta, and does not publish a change event — the caller does both for
// this one revision as soon as writeDoc returns.
func (db *DB) writeDoc(meta *metadata, doc *docparse.Doc, rev string) (Body, error) {
	body := Body{}
	for k, raw := range doc.Extra {
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, wrapEngine("decode document body field "+k, err)
		}
		body[k] = v
	}
	body[bodyID] = meta.ID
	if doc.Metadata.Deleted {
		body[bodyDeleted] = true
	}

	if len(doc.Attachments) > 0 {
		stubs := make(map[string]AttachmentStub, len(doc.Attachments))
		for name, att := range doc.Attachments {
			stub, err := db.saveAttachment(meta.ID, rev, name, att)
			if err != nil {
				return nil, err
			}
			stubs[name] = stub
		}
		body[bodyAttachments] = stubs
	}

	seq := db.nextSeq()
	if err := db.seqStore.Put(encodeUint64(seq), marshalJSON(body)); err != nil {
		return nil, wrapEngine("put by-sequence", err)
	}

	meta.RevMap[rev] = seq
	meta.Seq = seq

	return body, nil
}

// saveAttachment computes att's content digest (spec.md §3
// "content_addressed by MD5"), writes its raw bytes to AttachBlob if not
// already present, and records (docId, rev) in the digest's reference set
// in AttachMeta. A stub attachment (Stub==true) carries no Data and writes
// no blob; it must name a digest (a stub with an empty digest is rejected
// as a missing reference), and (docId, rev) is added to that digest's
// reference set whether or not AttachMeta already has a record for it.
func (db *DB) saveAttachment(docID, rev, name string, att docparse.Attachment) (AttachmentStub, error) {
	if att.Stub {
		if att.Digest == "" {
			return AttachmentStub{}, WithReason(MissingDocError{DocID: docID}, "stub attachment "+name+" missing digest")
		}
		if err := db.addAttachmentRef(att.Digest, docID, rev); err != nil {
			return AttachmentStub{}, err
		}
		return AttachmentStub{ContentType: att.ContentType, Digest: att.Digest, Length: att.Length, Stub: true}, nil
	}

	digest := digestOf(att.Data)
	if len(att.Data) > 0 {
		existing, err := db.attachBlob.Get([]byte(digest))
		if err != nil && !isNotFound(err) {
			return AttachmentStub{}, wrapEngine("get attach-binary-store", err)
		}
		if existing == nil {
			if err := db.attachBlob.Put([]byte(digest), att.Data); err != nil {
				return AttachmentStub{}, wrapEngine("put attach-binary-store", err)
			}
		}
	}
	if err := db.addAttachmentRef(digest, docID, rev); err != nil {
		return AttachmentStub{}, err
	}

	return AttachmentStub{
		ContentType: att.ContentType,
		Digest:      digest,
		Length:      int64(len(att.Data)),
		Stub:        true,
	}, nil
}

func digestOf(data []byte) string {
	sum := md5.Sum(data)
	return "md5-" + hex.EncodeToString(sum[:])
}

// addAttachmentRef adds "<docID>@<rev>" to digest's reference set in
// AttachMeta (spec.md §4.3 Phase 5): if an existing entry has a refs map,
// the reference is added to it; if the existing entry lacks refs entirely
// (a legacy shape), it is left untouched rather than migrated; if no prior
// entry exists at all, one is created with this reference as its only
// member.
func (db *DB) addAttachmentRef(digest, docID, rev string) error {
	key := []byte(digest)
	raw, err := db.attachMeta.Get(key)
	if err != nil && !isNotFound(err) {
		return wrapEngine("get attach-store", err)
	}

	var rec attachMetaRecord
	hadRecord := err == nil
	if hadRecord {
		if jerr := json.Unmarshal(raw, &rec); jerr != nil {
			return wrapEngine("decode attach-store record", jerr)
		}
		if rec.Refs == nil {
			return nil
		}
	} else {
		rec.Refs = map[string]bool{}
	}

	rec.Refs[docID+"@"+rev] = true
	if err := db.attachMeta.Put(key, marshalJSON(rec)); err != nil {
		return wrapEngine("put attach-store", err)
	}
	return nil
}

func isNotFound(err error) bool {
	return err == kv.ErrNotFound
}
