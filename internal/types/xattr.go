package types

import (
	"encoding/binary"
	"strings"
)

// XattrPrefix enumerates the key prefixes SquashFS can encode. The prefix
// is cut off the key string and replaced by the enumerator to save space.
type XattrPrefix uint16

const (
	XattrUser     XattrPrefix = 0
	XattrTrusted  XattrPrefix = 1
	XattrSecurity XattrPrefix = 2

	// XattrFlagOOL marks an entry whose value is a 64 bit reference to an
	// out-of-line value instead of the value itself.
	XattrFlagOOL XattrPrefix = 0x100

	// XattrPrefixMask extracts the prefix enumerator from the type field.
	XattrPrefixMask XattrPrefix = 0xFF
)

// XattrPrefixString returns the key prefix including the separating dot.
func XattrPrefixString(p XattrPrefix) string {
	switch p & XattrPrefixMask {
	case XattrUser:
		return "user."
	case XattrTrusted:
		return "trusted."
	case XattrSecurity:
		return "security."
	}
	return ""
}

// SplitXattrKey splits a full key into its prefix enumerator and suffix.
// The second return value is false if the prefix cannot be encoded.
func SplitXattrKey(key string) (XattrPrefix, string, bool) {
	switch {
	case strings.HasPrefix(key, "user."):
		return XattrUser, key[len("user."):], true
	case strings.HasPrefix(key, "trusted."):
		return XattrTrusted, key[len("trusted."):], true
	case strings.HasPrefix(key, "security."):
		return XattrSecurity, key[len("security."):], true
	}
	return 0, "", false
}

// XattrValueOOLThreshold is the largest value size stored inline. Larger
// values are written once and referenced out-of-line everywhere else.
const XattrValueOOLThreshold = 65535

// XattrIDSize is the on-disk size of an xattr descriptor.
const XattrIDSize = 16

// XattrID describes one deduplicated set of key-value pairs. Xattr is a
// reference into the key-value metadata stream, Count the number of pairs
// and Size their total uncompressed encoding size.
type XattrID struct {
	Xattr uint64
	Count uint32
	Size  uint32
}

// Marshal appends the on-disk form of the descriptor to buf.
func (x *XattrID) Marshal(buf []byte) []byte {
	var tmp [XattrIDSize]byte
	le := binary.LittleEndian
	le.PutUint64(tmp[0:8], x.Xattr)
	le.PutUint32(tmp[8:12], x.Count)
	le.PutUint32(tmp[12:16], x.Size)
	return append(buf, tmp[:]...)
}

// XattrIDTableSize is the fixed part of the xattr location table, before
// the descriptor block location array.
const XattrIDTableSize = 16

// XattrIDTable is the superblock-visible location table for xattrs.
type XattrIDTable struct {
	// XattrTableStart is the absolute offset of the first key-value
	// metadata block.
	XattrTableStart uint64
	// XattrIDs is the total number of descriptors.
	XattrIDs uint32
}

// Marshal appends the fixed part of the table to buf. The descriptor block
// locations follow it on disk as raw 64 bit offsets.
func (x *XattrIDTable) Marshal(buf []byte) []byte {
	var tmp [XattrIDTableSize]byte
	le := binary.LittleEndian
	le.PutUint64(tmp[0:8], x.XattrTableStart)
	le.PutUint32(tmp[8:12], x.XattrIDs)
	return append(buf, tmp[:]...)
}
