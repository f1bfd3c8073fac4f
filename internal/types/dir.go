package types

import "encoding/binary"

// MaxDirEntries is the maximum number of entries a single directory header
// may cover.
const MaxDirEntries = 256

// DirHeaderSize is the on-disk size of a directory header.
const DirHeaderSize = 12

// DirEntrySize is the on-disk size of a directory entry without its name.
const DirEntrySize = 8

// DirHeader precedes a run of directory entries that share the same inode
// metadata block and whose inode numbers stay within a signed 16 bit delta
// of the header base.
type DirHeader struct {
	// Count is the number of entries that follow, minus one.
	Count uint32
	// StartBlock is the offset of the metadata block holding the entries'
	// inodes, relative to the start of the inode table.
	StartBlock uint32
	// InodeNumber is the base inode number entry deltas are relative to.
	InodeNumber uint32
}

// Marshal appends the on-disk form of the header to buf.
func (h *DirHeader) Marshal(buf []byte) []byte {
	var tmp [DirHeaderSize]byte
	le := binary.LittleEndian
	le.PutUint32(tmp[0:4], h.Count)
	le.PutUint32(tmp[4:8], h.StartBlock)
	le.PutUint32(tmp[8:12], h.InodeNumber)
	return append(buf, tmp[:]...)
}

// DirEntry describes a single directory entry. The name follows the fixed
// part on disk without termination.
type DirEntry struct {
	// Offset of the inode record within its uncompressed metadata block.
	Offset uint16
	// InodeDiff is the signed difference to the header base inode number.
	InodeDiff int16
	// Type is the inode type of the entry.
	Type InodeType
	// Size is the length of the name that follows, minus one.
	Size uint16
}

// Marshal appends the fixed part of the entry to buf.
func (e *DirEntry) Marshal(buf []byte) []byte {
	var tmp [DirEntrySize]byte
	le := binary.LittleEndian
	le.PutUint16(tmp[0:2], e.Offset)
	le.PutUint16(tmp[2:4], uint16(e.InodeDiff))
	le.PutUint16(tmp[4:6], uint16(e.Type))
	le.PutUint16(tmp[6:8], e.Size)
	return append(buf, tmp[:]...)
}
