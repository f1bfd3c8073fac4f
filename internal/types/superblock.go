// Package types implements the on-disk data structures of the SquashFS
// filesystem format, version 4.0. All multi-byte fields are little endian.
package types

import (
	"encoding/binary"
	"fmt"
)

// Magic is the SquashFS superblock magic number ("hsqs").
const Magic uint32 = 0x73717368

const (
	// VersionMajor is the filesystem format major version written here.
	VersionMajor uint16 = 4
	// VersionMinor is the filesystem format minor version written here.
	VersionMinor uint16 = 0
)

// SuperBlockSize is the size of the superblock at the start of the image.
const SuperBlockSize = 96

const (
	// MinBlockSize is the smallest legal data block size.
	MinBlockSize = 4 * 1024
	// MaxBlockSize is the largest legal data block size.
	MaxBlockSize = 1024 * 1024
	// DefaultBlockSize is the data block size used when none is configured.
	DefaultBlockSize = 128 * 1024
	// DefaultDevBlockSize is the device block size the image is padded to.
	DefaultDevBlockSize = 4096
)

// MetaBlockSize is the maximum uncompressed payload of a metadata block.
const MetaBlockSize = 8192

// MetaBlockUncompressed is the bit in the 16 bit metadata block header
// that marks the payload as stored uncompressed.
const MetaBlockUncompressed = 0x8000

// BlockUncompressed is the bit in an on-disk data block size word (and in
// a fragment entry size) that marks the block as stored uncompressed.
const BlockUncompressed uint32 = 1 << 24

// BlockSizeMask extracts the byte count from an on-disk block size word.
const BlockSizeMask uint32 = BlockUncompressed - 1

// RefTableAbsent is written to a superblock table start field when the
// corresponding table is not present in the image.
const RefTableAbsent uint64 = 0xFFFFFFFFFFFFFFFF

// Superblock flag bits.
const (
	FlagUncompressedInodes    uint16 = 0x0001
	FlagUncompressedData      uint16 = 0x0002
	FlagUncompressedFragments uint16 = 0x0008
	FlagNoFragments           uint16 = 0x0010
	FlagAlwaysFragments       uint16 = 0x0020
	FlagDuplicates            uint16 = 0x0040
	FlagExportable            uint16 = 0x0080
	FlagUncompressedXattrs    uint16 = 0x0100
	FlagNoXattrs              uint16 = 0x0200
	FlagCompressorOptions     uint16 = 0x0400
	FlagUncompressedIDs       uint16 = 0x0800
)

// SuperBlock is the 96 byte structure at offset 0 of every SquashFS
// image.
type SuperBlock struct {
	Magic               uint32
	InodeCount          uint32
	ModTime             uint32
	BlockSize           uint32
	FragmentCount       uint32
	Compression         CompressorID
	BlockLog            uint16
	Flags               uint16
	IDCount             uint16
	VersionMajor        uint16
	VersionMinor        uint16
	RootInodeRef        uint64
	BytesUsed           uint64
	IDTableStart        uint64
	XattrIDTableStart   uint64
	InodeTableStart     uint64
	DirectoryTableStart uint64
	FragmentTableStart  uint64
	ExportTableStart    uint64
}

// BlockLog2 computes log2(size) for a power-of-two block size. The second
// return value is false if size is not a power of two in the legal range.
func BlockLog2(size uint32) (uint16, bool) {
	if size < MinBlockSize || size > MaxBlockSize {
		return 0, false
	}
	var log uint16
	for bit := uint32(1); bit != size; bit <<= 1 {
		if bit > size {
			return 0, false
		}
		log++
	}
	return log, true
}

// Marshal serializes the superblock into its on-disk form.
func (s *SuperBlock) Marshal() []byte {
	buf := make([]byte, SuperBlockSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], s.Magic)
	le.PutUint32(buf[4:8], s.InodeCount)
	le.PutUint32(buf[8:12], s.ModTime)
	le.PutUint32(buf[12:16], s.BlockSize)
	le.PutUint32(buf[16:20], s.FragmentCount)
	le.PutUint16(buf[20:22], uint16(s.Compression))
	le.PutUint16(buf[22:24], s.BlockLog)
	le.PutUint16(buf[24:26], s.Flags)
	le.PutUint16(buf[26:28], s.IDCount)
	le.PutUint16(buf[28:30], s.VersionMajor)
	le.PutUint16(buf[30:32], s.VersionMinor)
	le.PutUint64(buf[32:40], s.RootInodeRef)
	le.PutUint64(buf[40:48], s.BytesUsed)
	le.PutUint64(buf[48:56], s.IDTableStart)
	le.PutUint64(buf[56:64], s.XattrIDTableStart)
	le.PutUint64(buf[64:72], s.InodeTableStart)
	le.PutUint64(buf[72:80], s.DirectoryTableStart)
	le.PutUint64(buf[80:88], s.FragmentTableStart)
	le.PutUint64(buf[88:96], s.ExportTableStart)
	return buf
}

// UnmarshalSuperBlock parses and validates an on-disk superblock.
func UnmarshalSuperBlock(data []byte) (*SuperBlock, error) {
	if len(data) < SuperBlockSize {
		return nil, fmt.Errorf("%w: superblock truncated to %d bytes", ErrInvalidFormat, len(data))
	}
	le := binary.LittleEndian
	s := &SuperBlock{
		Magic:               le.Uint32(data[0:4]),
		InodeCount:          le.Uint32(data[4:8]),
		ModTime:             le.Uint32(data[8:12]),
		BlockSize:           le.Uint32(data[12:16]),
		FragmentCount:       le.Uint32(data[16:20]),
		Compression:         CompressorID(le.Uint16(data[20:22])),
		BlockLog:            le.Uint16(data[22:24]),
		Flags:               le.Uint16(data[24:26]),
		IDCount:             le.Uint16(data[26:28]),
		VersionMajor:        le.Uint16(data[28:30]),
		VersionMinor:        le.Uint16(data[30:32]),
		RootInodeRef:        le.Uint64(data[32:40]),
		BytesUsed:           le.Uint64(data[40:48]),
		IDTableStart:        le.Uint64(data[48:56]),
		XattrIDTableStart:   le.Uint64(data[56:64]),
		InodeTableStart:     le.Uint64(data[64:72]),
		DirectoryTableStart: le.Uint64(data[72:80]),
		FragmentTableStart:  le.Uint64(data[80:88]),
		ExportTableStart:    le.Uint64(data[88:96]),
	}
	if s.Magic != Magic {
		return nil, fmt.Errorf("%w: bad magic %#08x", ErrInvalidFormat, s.Magic)
	}
	if s.VersionMajor != VersionMajor || s.VersionMinor != VersionMinor {
		return nil, fmt.Errorf("%w: unsupported version %d.%d", ErrInvalidFormat,
			s.VersionMajor, s.VersionMinor)
	}
	if log, ok := BlockLog2(s.BlockSize); !ok || log != s.BlockLog {
		return nil, fmt.Errorf("%w: block size %d does not match block log %d",
			ErrInvalidFormat, s.BlockSize, s.BlockLog)
	}
	return s, nil
}
