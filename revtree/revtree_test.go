package revtree

import "testing"

func mustMerge(t *testing.T, tree Tree, path Path, depth int) (Tree, Conflict) {
	t.Helper()
	return Merge(tree, path, depth)
}

func TestMergeFirstRevisionIsNewLeaf(t *testing.T) {
	tree, outcome := mustMerge(t, NewTree(), Path{Start: 1, IDs: []PathNode{{Hash: "aaa"}}}, 1000)
	if outcome != NewLeaf {
		t.Fatalf("expected NewLeaf, got %s", outcome)
	}
	rev, deleted, ok := WinningRev(tree)
	if !ok || rev != "1-aaa" || deleted {
		t.Fatalf("unexpected winner: %s %v %v", rev, deleted, ok)
	}
}

func TestMergeFastForwardIsNewLeaf(t *testing.T) {
	tree, _ := mustMerge(t, NewTree(), Path{Start: 1, IDs: []PathNode{{Hash: "aaa"}}}, 1000)
	tree, outcome := mustMerge(t, tree, Path{Start: 2, IDs: []PathNode{{Hash: "bbb"}, {Hash: "aaa"}}}, 1000)
	if outcome != NewLeaf {
		t.Fatalf("expected NewLeaf, got %s", outcome)
	}
	rev, _, _ := WinningRev(tree)
	if rev != "2-bbb" {
		t.Fatalf("expected 2-bbb to win, got %s", rev)
	}
}

func TestMergeForkIsNewBranch(t *testing.T) {
	tree, _ := mustMerge(t, NewTree(), Path{Start: 1, IDs: []PathNode{{Hash: "aaa"}}}, 1000)
	tree, _ = mustMerge(t, tree, Path{Start: 2, IDs: []PathNode{{Hash: "bbb"}, {Hash: "aaa"}}}, 1000)
	// A second edit based on the now-non-leaf 1-aaa forks the tree.
	tree, outcome := mustMerge(t, tree, Path{Start: 2, IDs: []PathNode{{Hash: "ccc"}, {Hash: "aaa"}}}, 1000)
	if outcome != NewBranch {
		t.Fatalf("expected NewBranch, got %s", outcome)
	}
	conflicts := CollectConflicts(tree)
	if len(conflicts) != 1 {
		t.Fatalf("expected exactly one conflicting leaf, got %d: %+v", len(conflicts), conflicts)
	}
}

func TestMergeResubmitIsInternalNode(t *testing.T) {
	tree, _ := mustMerge(t, NewTree(), Path{Start: 1, IDs: []PathNode{{Hash: "aaa"}}}, 1000)
	_, outcome := mustMerge(t, tree, Path{Start: 1, IDs: []PathNode{{Hash: "aaa"}}}, 1000)
	if outcome != InternalNode {
		t.Fatalf("expected InternalNode, got %s", outcome)
	}
}

func TestWinningRevPrefersLiveOverDeleted(t *testing.T) {
	tree, _ := mustMerge(t, NewTree(), Path{Start: 1, IDs: []PathNode{{Hash: "aaa"}}}, 1000)
	tree, _ = mustMerge(t, tree, Path{Start: 2, IDs: []PathNode{{Hash: "bbb"}, {Hash: "aaa"}}}, 1000)
	tree, _ = mustMerge(t, tree, Path{Start: 3, IDs: []PathNode{{Hash: "zzz", }, {Hash: "bbb"}, {Hash: "aaa"}}}, 1000)
	// Delete the 3-zzz leaf; fork a live 3-ddd sibling off 2-bbb instead.
	entries := tree.Clone()
	e := entries.Entries["3-zzz"]
	e.Deleted = true
	entries.Entries["3-zzz"] = e
	entries, _ = Merge(entries, Path{Start: 3, IDs: []PathNode{{Hash: "ddd"}, {Hash: "bbb"}, {Hash: "aaa"}}}, 1000)

	rev, deleted, ok := WinningRev(entries)
	if !ok || deleted {
		t.Fatalf("expected a live winner, got %s deleted=%v", rev, deleted)
	}
}

func TestPruneKeepsOnlyRecentGenerations(t *testing.T) {
	tree := NewTree()
	hashes := []string{"a", "b", "c", "d", "e"}
	for gen := 1; gen <= len(hashes); gen++ {
		// IDs is leaf-first: this generation's hash, then every prior
		// generation's hash in descending order.
		var ids []PathNode
		for g := gen; g >= 1; g-- {
			ids = append(ids, PathNode{Hash: hashes[g-1]})
		}
		tree, _ = Merge(tree, Path{Start: gen, IDs: ids}, 1000)
	}
	pruned := Prune(tree, 2)
	if len(pruned.Entries) != 2 {
		t.Fatalf("expected 2 entries retained after pruning to depth 2, got %d", len(pruned.Entries))
	}
	rev, _, ok := WinningRev(pruned)
	if !ok || rev != "5-e" {
		t.Fatalf("pruning should not change the winning rev, got %s", rev)
	}
}

func TestParseAndFormatRevRoundTrip(t *testing.T) {
	rev := FormatRev(7, "deadbeef")
	gen, hash, err := ParseRev(rev)
	if err != nil {
		t.Fatal(err)
	}
	if gen != 7 || hash != "deadbeef" {
		t.Fatalf("round trip mismatch: %d %s", gen, hash)
	}
	if _, _, err := ParseRev("not-a-rev-at-all-but-has-dash"); err == nil {
		t.Fatal("expected error for rev with a non-numeric generation")
	}
	if _, _, err := ParseRev("noDashHere"); err == nil {
		t.Fatal("expected error for rev with no generation separator")
	}
}
