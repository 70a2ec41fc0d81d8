package docparse

import (
	"testing"
)

func TestIsLocalID(t *testing.T) {
	if !IsLocalID("_local/config") {
		t.Errorf("expected _local/config to be local")
	}
	if IsLocalID("config") {
		t.Errorf("expected config to not be local")
	}
}

func TestParseNewEditsWithoutRevMintsGenerationOne(t *testing.T) {
	doc, err := Parse([]byte(`{"_id":"doc1","hello":"world"}`), true)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Metadata.ID != "doc1" {
		t.Fatalf("ID = %q, want doc1", doc.Metadata.ID)
	}
	if doc.Metadata.Path.Start != 1 {
		t.Fatalf("Start = %d, want 1", doc.Metadata.Path.Start)
	}
	if len(doc.Metadata.Path.IDs) != 1 {
		t.Fatalf("len(IDs) = %d, want 1", len(doc.Metadata.Path.IDs))
	}
}

func TestParseNewEditsWithRevBuildsTwoNodePath(t *testing.T) {
	doc, err := Parse([]byte(`{"_id":"doc1","_rev":"1-abc","hello":"world"}`), true)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Metadata.Path.Start != 2 {
		t.Fatalf("Start = %d, want 2", doc.Metadata.Path.Start)
	}
	if len(doc.Metadata.Path.IDs) != 2 {
		t.Fatalf("len(IDs) = %d, want 2", len(doc.Metadata.Path.IDs))
	}
	if doc.Metadata.Path.IDs[1].Hash != "abc" {
		t.Fatalf("parent hash = %q, want abc", doc.Metadata.Path.IDs[1].Hash)
	}
}

func TestParseNotNewEditsRequiresRevisions(t *testing.T) {
	_, err := Parse([]byte(`{"_id":"doc1"}`), false)
	if err == nil {
		t.Fatal("expected error for new_edits=false without _revisions")
	}
}

func TestParseNotNewEditsBuildsFullPath(t *testing.T) {
	raw := []byte(`{"_id":"doc1","_revisions":{"start":3,"ids":["ccc","bbb","aaa"]}}`)
	doc, err := Parse(raw, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Metadata.Path.Start != 3 {
		t.Fatalf("Start = %d, want 3", doc.Metadata.Path.Start)
	}
	if got := doc.Metadata.Rev(); got != "3-ccc" {
		t.Fatalf("Rev() = %q, want 3-ccc", got)
	}
}

func TestParseStripsReservedFieldsFromExtra(t *testing.T) {
	raw := []byte(`{"_id":"doc1","_rev":"1-abc","_deleted":false,"hello":"world"}`)
	doc, err := Parse(raw, true)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, ok := doc.Extra["_id"]; ok {
		t.Errorf("Extra should not contain _id")
	}
	if _, ok := doc.Extra["hello"]; !ok {
		t.Errorf("Extra should contain hello")
	}
}

func TestParseMissingIDIsError(t *testing.T) {
	_, err := Parse([]byte(`{"hello":"world"}`), true)
	if err == nil {
		t.Fatal("expected error for missing _id")
	}
}
