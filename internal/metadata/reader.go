package metadata

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/deploymenttheory/go-squashfs/internal/compression"
	"github.com/deploymenttheory/go-squashfs/internal/types"
)

// Reader reads back a metadata stream written at a known absolute position
// in the image. Tests use it to verify references recorded during
// serialization.
type Reader struct {
	src  io.ReaderAt
	base uint64
	cmp  compression.Compressor

	// cache of decoded blocks, keyed by stream-relative block offset
	blocks map[uint64]decodedBlock
}

type decodedBlock struct {
	payload []byte
	next    uint64
}

// NewReader creates a reader for the metadata stream starting at absolute
// offset base in src.
func NewReader(src io.ReaderAt, base uint64, cmp compression.Compressor) *Reader {
	return &Reader{
		src:    src,
		base:   base,
		cmp:    cmp,
		blocks: make(map[uint64]decodedBlock),
	}
}

func (r *Reader) block(offset uint64) (decodedBlock, error) {
	if b, ok := r.blocks[offset]; ok {
		return b, nil
	}
	var hdr [2]byte
	if _, err := r.src.ReadAt(hdr[:], int64(r.base+offset)); err != nil {
		return decodedBlock{}, fmt.Errorf("reading metadata block header: %w", err)
	}
	header := binary.LittleEndian.Uint16(hdr[:])
	size := int(header &^ types.MetaBlockUncompressed)
	if size == 0 || size > types.MetaBlockSize {
		return decodedBlock{}, fmt.Errorf("%w: metadata block size %d", types.ErrInvalidFormat, size)
	}
	raw := make([]byte, size)
	if _, err := r.src.ReadAt(raw, int64(r.base+offset)+2); err != nil {
		return decodedBlock{}, fmt.Errorf("reading metadata block: %w", err)
	}
	payload := raw
	if header&types.MetaBlockUncompressed == 0 {
		var err error
		payload, err = r.cmp.Decompress(raw, types.MetaBlockSize)
		if err != nil {
			return decodedBlock{}, err
		}
	}
	b := decodedBlock{payload: payload, next: offset + uint64(2+size)}
	r.blocks[offset] = b
	return b, nil
}

// ReadRef reads n bytes starting at the given reference, following the
// block chain across boundaries.
func (r *Reader) ReadRef(ref uint64, n int) ([]byte, error) {
	block := ref >> 16
	offset := int(ref & 0xFFFF)
	out := make([]byte, 0, n)
	for n > 0 {
		b, err := r.block(block)
		if err != nil {
			return nil, err
		}
		if offset >= len(b.payload) {
			return nil, fmt.Errorf("%w: reference offset %d beyond block payload",
				types.ErrInvalidFormat, offset)
		}
		take := len(b.payload) - offset
		if take > n {
			take = n
		}
		out = append(out, b.payload[offset:offset+take]...)
		n -= take
		offset = 0
		block = b.next
	}
	return out, nil
}
