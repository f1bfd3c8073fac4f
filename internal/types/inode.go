package types

import "encoding/binary"

// InodeType enumerates the on-disk inode variants. The extended variants
// carry 64 bit sizes, link counts and an xattr index and are used only when
// the basic variant cannot represent the inode.
type InodeType uint16

const (
	InodeDir      InodeType = 1
	InodeFile     InodeType = 2
	InodeSymlink  InodeType = 3
	InodeBlockDev InodeType = 4
	InodeCharDev  InodeType = 5
	InodeFifo     InodeType = 6
	InodeSocket   InodeType = 7

	InodeExtDir      InodeType = 8
	InodeExtFile     InodeType = 9
	InodeExtSymlink  InodeType = 10
	InodeExtBlockDev InodeType = 11
	InodeExtCharDev  InodeType = 12
	InodeExtFifo     InodeType = 13
	InodeExtSocket   InodeType = 14
)

// Extended returns the extended counterpart of a basic inode type.
func (t InodeType) Extended() InodeType {
	if t >= InodeExtDir {
		return t
	}
	return t + 7
}

// XattrIdxNone is stored in an extended inode that has no xattr set.
const XattrIdxNone uint32 = 0xFFFFFFFF

// FragmentNone is stored in a file inode whose data has no fragment tail.
const FragmentNone uint32 = 0xFFFFFFFF

// InodeBaseSize is the size of the header common to all inode variants.
const InodeBaseSize = 16

// InodeBase is the common header of every inode record.
type InodeBase struct {
	Type        InodeType
	Mode        uint16
	UIDIdx      uint16
	GIDIdx      uint16
	ModTime     uint32
	InodeNumber uint32
}

// Marshal appends the on-disk form of the header to buf.
func (b *InodeBase) Marshal(buf []byte) []byte {
	var tmp [InodeBaseSize]byte
	le := binary.LittleEndian
	le.PutUint16(tmp[0:2], uint16(b.Type))
	le.PutUint16(tmp[2:4], b.Mode)
	le.PutUint16(tmp[4:6], b.UIDIdx)
	le.PutUint16(tmp[6:8], b.GIDIdx)
	le.PutUint32(tmp[8:12], b.ModTime)
	le.PutUint32(tmp[12:16], b.InodeNumber)
	return append(buf, tmp[:]...)
}

// InodeDirTail is the payload of a basic directory inode.
type InodeDirTail struct {
	StartBlock  uint32
	NLink       uint32
	Size        uint16
	Offset      uint16
	ParentInode uint32
}

func (d *InodeDirTail) Marshal(buf []byte) []byte {
	var tmp [16]byte
	le := binary.LittleEndian
	le.PutUint32(tmp[0:4], d.StartBlock)
	le.PutUint32(tmp[4:8], d.NLink)
	le.PutUint16(tmp[8:10], d.Size)
	le.PutUint16(tmp[10:12], d.Offset)
	le.PutUint32(tmp[12:16], d.ParentInode)
	return append(buf, tmp[:]...)
}

// InodeExtDirTail is the payload of an extended directory inode.
type InodeExtDirTail struct {
	NLink       uint32
	Size        uint32
	StartBlock  uint32
	ParentInode uint32
	IndexCount  uint16
	Offset      uint16
	XattrIdx    uint32
}

func (d *InodeExtDirTail) Marshal(buf []byte) []byte {
	var tmp [24]byte
	le := binary.LittleEndian
	le.PutUint32(tmp[0:4], d.NLink)
	le.PutUint32(tmp[4:8], d.Size)
	le.PutUint32(tmp[8:12], d.StartBlock)
	le.PutUint32(tmp[12:16], d.ParentInode)
	le.PutUint16(tmp[16:18], d.IndexCount)
	le.PutUint16(tmp[18:20], d.Offset)
	le.PutUint32(tmp[20:24], d.XattrIdx)
	return append(buf, tmp[:]...)
}

// InodeFileTail is the payload of a basic file inode. It is followed on
// disk by one 32 bit size word per full data block.
type InodeFileTail struct {
	StartBlock     uint32
	FragmentIndex  uint32
	FragmentOffset uint32
	Size           uint32
}

func (f *InodeFileTail) Marshal(buf []byte) []byte {
	var tmp [16]byte
	le := binary.LittleEndian
	le.PutUint32(tmp[0:4], f.StartBlock)
	le.PutUint32(tmp[4:8], f.FragmentIndex)
	le.PutUint32(tmp[8:12], f.FragmentOffset)
	le.PutUint32(tmp[12:16], f.Size)
	return append(buf, tmp[:]...)
}

// InodeExtFileTail is the payload of an extended file inode, likewise
// followed by the block size words.
type InodeExtFileTail struct {
	StartBlock     uint64
	Size           uint64
	Sparse         uint64
	NLink          uint32
	FragmentIndex  uint32
	FragmentOffset uint32
	XattrIdx       uint32
}

func (f *InodeExtFileTail) Marshal(buf []byte) []byte {
	var tmp [40]byte
	le := binary.LittleEndian
	le.PutUint64(tmp[0:8], f.StartBlock)
	le.PutUint64(tmp[8:16], f.Size)
	le.PutUint64(tmp[16:24], f.Sparse)
	le.PutUint32(tmp[24:28], f.NLink)
	le.PutUint32(tmp[28:32], f.FragmentIndex)
	le.PutUint32(tmp[32:36], f.FragmentOffset)
	le.PutUint32(tmp[36:40], f.XattrIdx)
	return append(buf, tmp[:]...)
}

// InodeSymlinkTail is the payload of a symlink inode. The target string
// follows it on disk; the extended variant appends a 32 bit xattr index
// after the target.
type InodeSymlinkTail struct {
	NLink      uint32
	TargetSize uint32
}

func (s *InodeSymlinkTail) Marshal(buf []byte) []byte {
	var tmp [8]byte
	le := binary.LittleEndian
	le.PutUint32(tmp[0:4], s.NLink)
	le.PutUint32(tmp[4:8], s.TargetSize)
	return append(buf, tmp[:]...)
}

// InodeDevTail is the payload of a block or character device inode.
type InodeDevTail struct {
	NLink uint32
	Devno uint32
}

func (d *InodeDevTail) Marshal(buf []byte) []byte {
	var tmp [8]byte
	le := binary.LittleEndian
	le.PutUint32(tmp[0:4], d.NLink)
	le.PutUint32(tmp[4:8], d.Devno)
	return append(buf, tmp[:]...)
}

// InodeIpcTail is the payload of a fifo or socket inode.
type InodeIpcTail struct {
	NLink uint32
}

func (i *InodeIpcTail) Marshal(buf []byte) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[0:4], i.NLink)
	return append(buf, tmp[:]...)
}
