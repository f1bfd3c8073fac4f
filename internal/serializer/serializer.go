// Package serializer walks the filesystem tree depth first and emits the
// inode and directory tables into their metadata streams, recording on
// every node the reference its inode landed at.
package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/go-squashfs/internal/idtable"
	"github.com/deploymenttheory/go-squashfs/internal/metadata"
	"github.com/deploymenttheory/go-squashfs/internal/tree"
	"github.com/deploymenttheory/go-squashfs/internal/types"
)

// Serializer emits inodes into im and directory listings into dm.
type Serializer struct {
	t         *tree.Tree
	im        *metadata.Writer
	dm        *metadata.Writer
	ids       *idtable.Table
	blockSize uint32

	counter uint32
	refs    []uint64
}

// New creates a serializer for the given tree and metadata writers.
func New(t *tree.Tree, im, dm *metadata.Writer, ids *idtable.Table, blockSize uint32) *Serializer {
	return &Serializer{t: t, im: im, dm: dm, ids: ids, blockSize: blockSize}
}

// Serialize numbers and writes every inode. Children are written before
// their parent so directory listings can reference completed inodes; the
// root is number 1 and is written last.
func (s *Serializer) Serialize() error {
	s.refs = make([]uint64, s.t.Count())

	// Numbers are assigned up front in the same order the inodes are
	// written, so directory tails can name their parent.
	s.counter = 2
	root := s.t.Root()
	root.InodeNumber = 1
	s.numberChildren(root)

	if err := s.writeChildren(root); err != nil {
		return err
	}
	return s.writeInode(root)
}

// InodeRefs returns the inode reference for every inode number, indexed
// by number minus one. This is the export table payload.
func (s *Serializer) InodeRefs() []uint64 {
	return s.refs
}

func (s *Serializer) numberChildren(dir *tree.Node) {
	for _, c := range dir.Children {
		if n := s.t.Nodes[c]; n.IsDir() {
			s.numberChildren(n)
		}
	}
	for _, c := range dir.Children {
		n := s.t.Nodes[c]
		n.InodeNumber = s.counter
		s.counter++
	}
}

func (s *Serializer) writeChildren(dir *tree.Node) error {
	for _, c := range dir.Children {
		if n := s.t.Nodes[c]; n.IsDir() {
			if err := s.writeChildren(n); err != nil {
				return err
			}
		}
	}
	for _, c := range dir.Children {
		if err := s.writeInode(s.t.Nodes[c]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Serializer) writeInode(n *tree.Node) error {
	uidIdx, err := s.ids.Intern(n.UID)
	if err != nil {
		return err
	}
	gidIdx, err := s.ids.Intern(n.GID)
	if err != nil {
		return err
	}

	if n.IsDir() {
		if err := s.writeDir(n); err != nil {
			return err
		}
	}
	n.InodeType, err = s.inodeType(n)
	if err != nil {
		return err
	}

	n.InodeRef = s.im.Ref()
	s.refs[n.InodeNumber-1] = n.InodeRef

	base := types.InodeBase{
		Type:        n.InodeType,
		Mode:        n.Mode,
		UIDIdx:      uidIdx,
		GIDIdx:      gidIdx,
		ModTime:     n.MTime,
		InodeNumber: n.InodeNumber,
	}
	if err := s.im.Append(base.Marshal(nil)); err != nil {
		return err
	}
	return s.writeTail(n)
}

// inodeType picks the inode variant: the extended form is used only when
// a field exceeds the basic form's range or an xattr set is attached.
func (s *Serializer) inodeType(n *tree.Node) (types.InodeType, error) {
	var t types.InodeType
	ext := n.XattrIdx != types.XattrIdxNone
	switch n.Mode & types.FormatMask {
	case types.FormatDir:
		t = types.InodeDir
		if n.Dir.Size > 0xFFFF || n.Dir.StartBlock > 0xFFFFFFFF {
			ext = true
		}
	case types.FormatFile:
		t = types.InodeFile
		if n.File.Size > 0xFFFFFFFF || n.File.StartBlock > 0xFFFFFFFF ||
			s.t.NLink(n) > 1 {
			ext = true
		}
	case types.FormatSymlink:
		t = types.InodeSymlink
	case types.FormatBlockDev:
		t = types.InodeBlockDev
	case types.FormatCharDev:
		t = types.InodeCharDev
	case types.FormatFifo:
		t = types.InodeFifo
	case types.FormatSocket:
		t = types.InodeSocket
	default:
		return 0, fmt.Errorf("%w: mode %#04x of %q has no inode type",
			types.ErrTreeInvariant, n.Mode, n.Name)
	}
	if ext {
		t = t.Extended()
	}
	return t, nil
}

func (s *Serializer) writeTail(n *tree.Node) error {
	nlink := s.t.NLink(n)
	switch n.InodeType {
	case types.InodeDir:
		tail := types.InodeDirTail{
			StartBlock:  n.Dir.StartBlock,
			NLink:       nlink,
			Size:        uint16(n.Dir.Size),
			Offset:      n.Dir.BlockOffset,
			ParentInode: s.parentNumber(n),
		}
		return s.im.Append(tail.Marshal(nil))

	case types.InodeExtDir:
		tail := types.InodeExtDirTail{
			NLink:       nlink,
			Size:        n.Dir.Size,
			StartBlock:  n.Dir.StartBlock,
			ParentInode: s.parentNumber(n),
			Offset:      n.Dir.BlockOffset,
			XattrIdx:    n.XattrIdx,
		}
		return s.im.Append(tail.Marshal(nil))

	case types.InodeFile:
		tail := types.InodeFileTail{
			StartBlock:     uint32(n.File.StartBlock),
			FragmentIndex:  n.File.FragmentIndex,
			FragmentOffset: n.File.FragmentOffset,
			Size:           uint32(n.File.Size),
		}
		if err := s.im.Append(tail.Marshal(nil)); err != nil {
			return err
		}
		return s.writeBlockSizes(n)

	case types.InodeExtFile:
		tail := types.InodeExtFileTail{
			StartBlock:     n.File.StartBlock,
			Size:           n.File.Size,
			Sparse:         s.sparseBytes(n),
			NLink:          nlink,
			FragmentIndex:  n.File.FragmentIndex,
			FragmentOffset: n.File.FragmentOffset,
			XattrIdx:       n.XattrIdx,
		}
		if err := s.im.Append(tail.Marshal(nil)); err != nil {
			return err
		}
		return s.writeBlockSizes(n)

	case types.InodeSymlink, types.InodeExtSymlink:
		tail := types.InodeSymlinkTail{
			NLink:      nlink,
			TargetSize: uint32(len(n.SymlinkTarget)),
		}
		if err := s.im.Append(tail.Marshal(nil)); err != nil {
			return err
		}
		if err := s.im.Append([]byte(n.SymlinkTarget)); err != nil {
			return err
		}
		if n.InodeType == types.InodeExtSymlink {
			return s.appendU32(n.XattrIdx)
		}
		return nil

	case types.InodeBlockDev, types.InodeCharDev:
		tail := types.InodeDevTail{NLink: nlink, Devno: n.Devno}
		return s.im.Append(tail.Marshal(nil))

	case types.InodeExtBlockDev, types.InodeExtCharDev:
		tail := types.InodeDevTail{NLink: nlink, Devno: n.Devno}
		if err := s.im.Append(tail.Marshal(nil)); err != nil {
			return err
		}
		return s.appendU32(n.XattrIdx)

	case types.InodeFifo, types.InodeSocket:
		tail := types.InodeIpcTail{NLink: nlink}
		return s.im.Append(tail.Marshal(nil))

	case types.InodeExtFifo, types.InodeExtSocket:
		tail := types.InodeIpcTail{NLink: nlink}
		if err := s.im.Append(tail.Marshal(nil)); err != nil {
			return err
		}
		return s.appendU32(n.XattrIdx)
	}
	return fmt.Errorf("%w: unhandled inode type %d", types.ErrTreeInvariant, n.InodeType)
}

func (s *Serializer) parentNumber(n *tree.Node) uint32 {
	if n.Parent < 0 {
		return 1
	}
	return s.t.Nodes[n.Parent].InodeNumber
}

func (s *Serializer) writeBlockSizes(n *tree.Node) error {
	var buf [4]byte
	for _, word := range n.File.BlockSizes {
		binary.LittleEndian.PutUint32(buf[:], word)
		if err := s.im.Append(buf[:]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Serializer) appendU32(v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return s.im.Append(buf[:])
}

// sparseBytes is the number of data bytes omitted through sparse blocks.
func (s *Serializer) sparseBytes(n *tree.Node) uint64 {
	var sparse uint64
	for _, word := range n.File.BlockSizes {
		if word == 0 {
			sparse += uint64(s.blockSize)
		}
	}
	return sparse
}
