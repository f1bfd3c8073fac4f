package types

import "encoding/binary"

// FragmentEntrySize is the on-disk size of a fragment table entry.
const FragmentEntrySize = 16

// FragmentEntry locates one fragment block in the data area. Size carries
// the BlockUncompressed bit the same way data block size words do.
type FragmentEntry struct {
	StartOffset uint64
	Size        uint32
}

// Marshal appends the on-disk form of the entry to buf. The trailing four
// bytes are reserved and always zero.
func (f *FragmentEntry) Marshal(buf []byte) []byte {
	var tmp [FragmentEntrySize]byte
	le := binary.LittleEndian
	le.PutUint64(tmp[0:8], f.StartOffset)
	le.PutUint32(tmp[8:12], f.Size)
	return append(buf, tmp[:]...)
}
