// Package tree holds the in-memory filesystem tree an image is built
// from. Nodes live in an arena owned by the Tree; parent and child links
// are arena indices, so the ownership graph stays acyclic.
package tree

import (
	"fmt"
	gopath "path"
	"sort"
	"strings"

	"github.com/deploymenttheory/go-squashfs/internal/types"
)

// Defaults are the attributes applied to implicitly created directories
// and, depending on scanner flags, to every input path.
type Defaults struct {
	UID   uint32
	GID   uint32
	Mode  uint16
	MTime uint32
}

// FileInfo is the data-area bookkeeping of a regular file node. It is
// populated by the block processor during the data pass.
type FileInfo struct {
	Size uint64

	// StartBlock is the absolute offset of the first data block.
	StartBlock uint64
	// BlockSizes holds one on-disk size word per full block, including
	// the uncompressed flag bit; zero entries mark sparse blocks.
	BlockSizes []uint32

	FragmentIndex  uint32
	FragmentOffset uint32
	// TailSize is the number of bytes stored in the fragment.
	TailSize uint32

	// Source is the host path the file content is read from. Empty when
	// the content arrives through a stream (tar input).
	Source string
}

// DirInfo records where a directory's listing landed in the directory
// table, filled in during serialization.
type DirInfo struct {
	StartBlock  uint32
	BlockOffset uint16
	Size        uint32
}

// Node is one entry of the filesystem tree.
type Node struct {
	Name  string
	Mode  uint16
	UID   uint32
	GID   uint32
	MTime uint32

	// XattrIdx is the descriptor index of the node's xattr set, or
	// types.XattrIdxNone.
	XattrIdx uint32

	Parent   int
	Children []int

	File          *FileInfo
	Dir           *DirInfo
	SymlinkTarget string
	Devno         uint32

	// implicit marks a directory created as a side effect of adding a
	// deeper path; an explicit entry for it may still arrive and update
	// the attributes.
	implicit bool

	// Serialization results.
	InodeNumber uint32
	InodeRef    uint64
	InodeType   types.InodeType
}

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool { return types.IsDir(n.Mode) }

// Tree is the arena of nodes. Index 0 is always the root directory.
type Tree struct {
	Nodes    []*Node
	defaults Defaults
}

// New creates a tree holding just the root directory, carrying the
// default attributes.
func New(defaults Defaults) *Tree {
	root := &Node{
		Name:     "",
		Mode:     types.FormatDir | defaults.Mode&types.PermMask,
		UID:      defaults.UID,
		GID:      defaults.GID,
		MTime:    defaults.MTime,
		XattrIdx: types.XattrIdxNone,
		Parent:   -1,
		Dir:      &DirInfo{},
		implicit: true,
	}
	return &Tree{Nodes: []*Node{root}, defaults: defaults}
}

// Root returns the root directory node.
func (t *Tree) Root() *Node { return t.Nodes[0] }

// Defaults returns the default attributes the tree was created with.
func (t *Tree) Defaults() Defaults { return t.defaults }

func newNode(name string, mode uint16, uid, gid, mtime uint32) *Node {
	n := &Node{
		Name:     name,
		Mode:     mode,
		UID:      uid,
		GID:      gid,
		MTime:    mtime,
		XattrIdx: types.XattrIdxNone,
		Parent:   -1,
	}
	switch mode & types.FormatMask {
	case types.FormatDir:
		n.Dir = &DirInfo{}
	case types.FormatFile:
		n.File = &FileInfo{
			FragmentIndex: types.FragmentNone,
		}
	}
	return n
}

// Add inserts a node at the given absolute image path, creating implicit
// parent directories with the tree defaults. Adding an explicit directory
// over an implicit one updates its attributes; any other duplicate is an
// error.
func (t *Tree) Add(path string, mode uint16, uid, gid, mtime uint32) (*Node, error) {
	clean := gopath.Clean("/" + strings.TrimPrefix(path, "/"))
	if clean == "/" {
		if mode&types.FormatMask != types.FormatDir {
			return nil, fmt.Errorf("%w: root must be a directory", types.ErrTreeInvariant)
		}
		root := t.Root()
		root.Mode = mode
		root.UID = uid
		root.GID = gid
		root.MTime = mtime
		root.implicit = false
		return root, nil
	}

	parts := strings.Split(clean[1:], "/")
	parent := 0
	for _, comp := range parts[:len(parts)-1] {
		next, ok := t.lookupChild(parent, comp)
		if !ok {
			dir := newNode(comp, types.FormatDir|t.defaults.Mode&types.PermMask,
				t.defaults.UID, t.defaults.GID, t.defaults.MTime)
			dir.implicit = true
			next = t.attach(parent, dir)
		} else if !t.Nodes[next].IsDir() {
			return nil, fmt.Errorf("%w: %q is not a directory", types.ErrTreeInvariant, comp)
		}
		parent = next
	}

	name := parts[len(parts)-1]
	if existing, ok := t.lookupChild(parent, name); ok {
		n := t.Nodes[existing]
		if n.IsDir() && n.implicit && mode&types.FormatMask == types.FormatDir {
			n.Mode = mode
			n.UID = uid
			n.GID = gid
			n.MTime = mtime
			n.implicit = false
			return n, nil
		}
		return nil, fmt.Errorf("%w: duplicate entry %q", types.ErrTreeInvariant, clean)
	}

	n := newNode(name, mode, uid, gid, mtime)
	t.attach(parent, n)
	return n, nil
}

// Lookup resolves an absolute image path to a node.
func (t *Tree) Lookup(path string) (*Node, bool) {
	clean := gopath.Clean("/" + strings.TrimPrefix(path, "/"))
	if clean == "/" {
		return t.Root(), true
	}
	idx := 0
	for _, comp := range strings.Split(clean[1:], "/") {
		next, ok := t.lookupChild(idx, comp)
		if !ok {
			return nil, false
		}
		idx = next
	}
	return t.Nodes[idx], true
}

// lookupChild finds the arena index of a named child via binary search
// over the sorted child list.
func (t *Tree) lookupChild(parent int, name string) (int, bool) {
	children := t.Nodes[parent].Children
	i := sort.Search(len(children), func(i int) bool {
		return t.Nodes[children[i]].Name >= name
	})
	if i < len(children) && t.Nodes[children[i]].Name == name {
		return children[i], true
	}
	return 0, false
}

// attach appends the node to the arena and inserts it into the parent's
// child list, keeping the list sorted by name.
func (t *Tree) attach(parent int, n *Node) int {
	idx := len(t.Nodes)
	n.Parent = parent
	t.Nodes = append(t.Nodes, n)

	p := t.Nodes[parent]
	i := sort.Search(len(p.Children), func(i int) bool {
		return t.Nodes[p.Children[i]].Name >= n.Name
	})
	p.Children = append(p.Children, 0)
	copy(p.Children[i+1:], p.Children[i:])
	p.Children[i] = idx
	return idx
}

// NLink returns the on-disk link count of a node: directories count their
// children plus the "." and ".." entries, everything else is 1.
func (t *Tree) NLink(n *Node) uint32 {
	if n.IsDir() {
		return uint32(2 + len(n.Children))
	}
	return 1
}

// WalkFiles visits every regular file node in sorted depth-first
// pre-order: each directory's entries in name order, descending into a
// subdirectory where it occurs. The data pass uses this so the data area
// follows the directory order.
func (t *Tree) WalkFiles(visit func(*Node) error) error {
	return t.walkFiles(0, visit)
}

func (t *Tree) walkFiles(idx int, visit func(*Node) error) error {
	n := t.Nodes[idx]
	if n.File != nil {
		if err := visit(n); err != nil {
			return err
		}
	}
	for _, c := range n.Children {
		if err := t.walkFiles(c, visit); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the total number of nodes in the tree.
func (t *Tree) Count() int { return len(t.Nodes) }
