// Package revtree implements the revision-tree merge algebra spec.md treats
// as an external, pure-library collaborator: Merge, WinningRev,
// CollectLeaves and CollectConflicts. It has no dependency on storage or
// I/O — the adapter package is its only consumer.
//
// A Tree is stored flat, as every revision's parent pointer, rather than as
// nested Node/Children structs: with only a parent link per revision,
// forking (conflicts), pruning and leaf-finding are all simple maps/scans
// instead of recursive tree surgery, while still modeling exactly the same
// forest CouchDB/PouchDB describe internally.
package revtree

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Entry is one revision's record within a Tree.
type Entry struct {
	Gen     int    `json:"gen"`
	Hash    string `json:"hash"`
	Parent  string `json:"parent"` // "" for a root (no known ancestor retained)
	Deleted bool   `json:"deleted"`
}

// Rev renders this entry's own "<generation>-<hash>" string.
func (e Entry) Rev() string { return FormatRev(e.Gen, e.Hash) }

// Tree is the full revision forest for one document: every revision ever
// recorded, keyed by its "<generation>-<hash>" string, each carrying a
// pointer to its parent's key (or "" if its parent was pruned away or
// never known).
type Tree struct {
	Entries map[string]Entry `json:"entries"`
}

// NewTree returns an empty tree, ready for Merge.
func NewTree() Tree {
	return Tree{Entries: make(map[string]Entry)}
}

// Clone deep-copies t so callers can mutate the result of Merge without
// aliasing the caller's original tree.
func (t Tree) Clone() Tree {
	out := NewTree()
	for k, v := range t.Entries {
		out.Entries[k] = v
	}
	return out
}

// PathNode is one step of an incoming edit's ancestor chain, ordered
// leaf-first (PathNode[0] is the new leaf, the last entry is the oldest
// known ancestor supplied with this edit).
type PathNode struct {
	Hash    string
	Deleted bool
}

// Path is the incoming revision plus however much ancestor history the
// caller supplied with it (a single `_rev` update supplies one node; a
// replicated `_revisions` history supplies a full chain).
type Path struct {
	// Start is the generation number of IDs[0], the new leaf.
	Start int
	IDs   []PathNode
}

// Leaf returns the revision string of the path's new leaf.
func (p Path) Leaf() string {
	return FormatRev(p.Start, p.IDs[0].Hash)
}

// FormatRev renders "<generation>-<hash>".
func FormatRev(gen int, hash string) string {
	return fmt.Sprintf("%d-%s", gen, hash)
}

// ParseRev splits "<generation>-<hash>" into its parts.
func ParseRev(rev string) (gen int, hash string, err error) {
	idx := strings.IndexByte(rev, '-')
	if idx < 1 {
		return 0, "", fmt.Errorf("revtree: malformed rev %q", rev)
	}
	gen, err = strconv.Atoi(rev[:idx])
	if err != nil {
		return 0, "", fmt.Errorf("revtree: malformed rev %q: %w", rev, err)
	}
	return gen, rev[idx+1:], nil
}

// Conflict describes the outcome of grafting one Path onto a Tree.
type Conflict string

const (
	// NewLeaf means the path extended a current leaf by one or more
	// generations with no fork — the common, non-conflicting case. Also
	// returned for the very first revision of a brand new document.
	NewLeaf Conflict = "new_leaf"
	// NewBranch means the path's parent was not a current leaf (either it
	// already had a different child, or it wasn't found in the tree at
	// all) — spec.md's bulkDocs Phase 3 treats this as a conflict when
	// new_edits is true and the prior doc was live.
	NewBranch Conflict = "new_branch"
	// InternalNode means the path's leaf revision already exists in the
	// tree — a no-op re-submission.
	InternalNode Conflict = "internal_node"
)

// isLeaf reports whether rev currently has no children in t.
func isLeaf(t Tree, rev string) bool {
	for _, e := range t.Entries {
		if e.Parent == rev {
			return false
		}
	}
	return true
}

// Merge grafts newLeaf onto tree, retaining at most depth generations of
// ancestor history per branch (older ancestors are pruned afterward, per
// spec.md §4.5's removeDocRevisions primitive and CouchDB's _revs_limit).
// It never mutates tree.
func Merge(tree Tree, path Path, depth int) (Tree, Conflict) {
	result := tree.Clone()
	wasEmpty := len(tree.Entries) == 0

	leafRev := path.Leaf()
	if _, exists := result.Entries[leafRev]; exists {
		return result, InternalNode
	}

	// Determine whether the immediate parent is a known, current leaf
	// before we start grafting anything in.
	var (
		parentRev    string
		parentExists bool
		parentIsLeaf bool
	)
	if len(path.IDs) > 1 {
		parentRev = FormatRev(path.Start-1, path.IDs[1].Hash)
		_, parentExists = result.Entries[parentRev]
		parentIsLeaf = parentExists && isLeaf(result, parentRev)
	}

	// Walk the path oldest-to-newest, inserting any entry not already
	// present and linking parent pointers as we go.
	parent := ""
	for i := len(path.IDs) - 1; i >= 0; i-- {
		gen := path.Start - i
		rev := FormatRev(gen, path.IDs[i].Hash)
		if existing, ok := result.Entries[rev]; ok {
			parent = rev
			_ = existing
			continue
		}
		result.Entries[rev] = Entry{
			Gen:     gen,
			Hash:    path.IDs[i].Hash,
			Parent:  parent,
			Deleted: path.IDs[i].Deleted,
		}
		parent = rev
	}

	var outcome Conflict
	switch {
	case wasEmpty:
		outcome = NewLeaf
	case len(path.IDs) == 1 && !parentExists:
		// A lone new-edit with no stated ancestor, against a non-empty
		// tree: only a fast-forward if the document had exactly one
		// current leaf that this implicitly continues is NOT assumed —
		// callers (adapter) are expected to supply the correct Start/
		// parent hash. Treat as a new, disconnected branch.
		outcome = NewBranch
	case parentExists && parentIsLeaf:
		outcome = NewLeaf
	case parentExists && !parentIsLeaf:
		outcome = NewBranch
	default:
		// Parent generation wasn't in the tree at all (either pruned away
		// or genuinely unknown): still accept the graft (tree now has a
		// second root), but flag it as a branch/conflict.
		outcome = NewBranch
	}
	return pruneDepth(result, depth), outcome
}

// pruneDepth removes ancestors more than depth generations behind each
// current leaf, leaving Parent pointers of now-removed ancestors dangling
// to "" on whichever entry became the new root of that chain.
func pruneDepth(t Tree, depth int) Tree {
	if depth <= 0 {
		return t
	}
	out := t.Clone()
	// Collect the leaves before cutting anything: once a parent link is
	// cut, the entries above it have no child left and would otherwise
	// look like leaves themselves.
	var leaves []string
	for rev := range out.Entries {
		if isLeaf(out, rev) {
			leaves = append(leaves, rev)
		}
	}
	for _, rev := range leaves {
		// Walk up from this leaf, counting generations, cutting the
		// parent link once we exceed depth.
		count := 1
		cur := rev
		for count < depth {
			e, ok := out.Entries[cur]
			if !ok || e.Parent == "" {
				break
			}
			cur = e.Parent
			count++
		}
		if e, ok := out.Entries[cur]; ok && e.Parent != "" {
			e.Parent = ""
			out.Entries[cur] = e
		}
	}
	// Drop any entry no longer reachable from a leaf within depth — i.e.
	// entries with no child pointing at them AND whose own parent link
	// was just severed above them.
	reachable := make(map[string]bool, len(out.Entries))
	for _, rev := range leaves {
		cur := rev
		for {
			reachable[cur] = true
			e := out.Entries[cur]
			if e.Parent == "" {
				break
			}
			cur = e.Parent
		}
	}
	for rev := range out.Entries {
		if !reachable[rev] {
			delete(out.Entries, rev)
		}
	}
	return out
}

// Prune returns tree with ancestor history beyond depth generations
// removed from every branch. Exposed separately from Merge so callers
// (spec.md §4.5 removeDocRevisions / compaction) can invoke pruning
// independent of a write.
func Prune(tree Tree, depth int) Tree {
	return pruneDepth(tree, depth)
}

// Leaf pairs a leaf revision with its deleted flag.
type Leaf struct {
	Rev     string
	Deleted bool
}

// CollectLeaves returns every leaf (childless entry) in the tree, in
// winning order: live leaves before deleted ones, then by generation
// descending, then by hash descending — matching CouchDB's deterministic
// winner selection (see WinningRev).
func CollectLeaves(tree Tree) []Leaf {
	var leaves []Leaf
	for rev, e := range tree.Entries {
		if isLeaf(tree, rev) {
			leaves = append(leaves, Leaf{Rev: rev, Deleted: e.Deleted})
		}
	}
	sortLeaves(leaves)
	return leaves
}

func sortLeaves(leaves []Leaf) {
	sort.SliceStable(leaves, func(i, j int) bool {
		li, lj := leaves[i], leaves[j]
		if li.Deleted != lj.Deleted {
			return !li.Deleted // live leaves sort first
		}
		gi, hi, _ := ParseRev(li.Rev)
		gj, hj, _ := ParseRev(lj.Rev)
		if gi != gj {
			return gi > gj
		}
		return hi > hj
	})
}

// WinningRev returns the deterministically-selected winning leaf revision
// for tree: the first entry of CollectLeaves in winning order.
func WinningRev(tree Tree) (rev string, deleted bool, ok bool) {
	leaves := CollectLeaves(tree)
	if len(leaves) == 0 {
		return "", false, false
	}
	return leaves[0].Rev, leaves[0].Deleted, true
}

// CollectConflicts returns every leaf other than the winning one — the
// `_conflicts` (or `_deleted_conflicts`, filtered by caller) set.
func CollectConflicts(tree Tree) []Leaf {
	leaves := CollectLeaves(tree)
	if len(leaves) <= 1 {
		return nil
	}
	return leaves[1:]
}

// IsDeleted reports whether tree's winning leaf is deleted. Mirrors the
// `isDeleted(metadata)` external collaborator spec.md §6 names.
func IsDeleted(tree Tree) bool {
	_, deleted, ok := WinningRev(tree)
	return ok && deleted
}
