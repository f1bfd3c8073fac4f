// Package xattrs deduplicates extended attribute sets across inodes and
// emits the three level on-disk xattr tables: the key-value metadata
// stream, the descriptor array and the superblock-visible location table.
package xattrs

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/deploymenttheory/go-squashfs/internal/compression"
	"github.com/deploymenttheory/go-squashfs/internal/metadata"
	"github.com/deploymenttheory/go-squashfs/internal/types"
)

// Pair is a single extended attribute.
type Pair struct {
	Key   string
	Value []byte
}

type recordedSet struct {
	pairs []Pair
}

// Output is the image sink the tables are written to.
type Output interface {
	io.Writer
	Position() uint64
}

// Writer collects xattr sets during tree construction and writes the
// tables during assembly. Identical sets, compared as ordered sequences,
// share one descriptor.
type Writer struct {
	sets  []recordedSet
	index map[string]uint32
}

// NewWriter creates an empty xattr writer.
func NewWriter() *Writer {
	return &Writer{index: make(map[string]uint32)}
}

// Add records a set of pairs and returns its descriptor index. An empty
// set maps to types.XattrIdxNone. Keys with prefixes the format cannot
// encode are rejected.
func (w *Writer) Add(pairs []Pair) (uint32, error) {
	if len(pairs) == 0 {
		return types.XattrIdxNone, nil
	}
	var sb strings.Builder
	for _, p := range pairs {
		if _, _, ok := types.SplitXattrKey(p.Key); !ok {
			return 0, fmt.Errorf("%w: xattr key %q has no encodable prefix",
				types.ErrTreeInvariant, p.Key)
		}
		fmt.Fprintf(&sb, "%d:%s=%d:%s;", len(p.Key), p.Key, len(p.Value), p.Value)
	}
	canon := sb.String()
	if idx, ok := w.index[canon]; ok {
		return idx, nil
	}
	idx := uint32(len(w.sets))
	w.sets = append(w.sets, recordedSet{pairs: pairs})
	w.index[canon] = idx
	return idx, nil
}

// Count returns the number of distinct sets recorded.
func (w *Writer) Count() int {
	return len(w.sets)
}

// WriteTable emits the xattr tables at the current output position and
// returns the absolute offset of the location table, which is what the
// superblock points at. Values above the out-of-line threshold are stored
// once; later occurrences reference the first.
func (w *Writer) WriteTable(out Output, cmp compression.Compressor) (uint64, error) {
	if len(w.sets) == 0 {
		return types.RefTableAbsent, nil
	}

	kvStart := out.Position()
	kvw := metadata.NewWriter(out, cmp)
	valueRefs := make(map[string]uint64)
	descs := make([]types.XattrID, 0, len(w.sets))

	for _, set := range w.sets {
		desc := types.XattrID{
			Xattr: kvw.Ref(),
			Count: uint32(len(set.pairs)),
		}
		size := uint64(0)
		for _, pair := range set.pairs {
			prefix, suffix, _ := types.SplitXattrKey(pair.Key)
			n, err := writePair(kvw, prefix, suffix, pair.Value, valueRefs)
			if err != nil {
				return 0, err
			}
			size += n
		}
		if size > 0xFFFFFFFF {
			return 0, fmt.Errorf("%w: xattr set exceeds 4 GiB", types.ErrOverflow)
		}
		desc.Size = uint32(size)
		descs = append(descs, desc)
	}
	if err := kvw.Flush(); err != nil {
		return 0, err
	}

	descStart := out.Position()
	dw := metadata.NewWriter(out, cmp)
	var buf []byte
	for i := range descs {
		buf = descs[i].Marshal(buf[:0])
		if err := dw.Append(buf); err != nil {
			return 0, err
		}
	}
	if err := dw.Flush(); err != nil {
		return 0, err
	}

	tableStart := out.Position()
	table := types.XattrIDTable{
		XattrTableStart: kvStart,
		XattrIDs:        uint32(len(descs)),
	}
	if _, err := out.Write(table.Marshal(nil)); err != nil {
		return 0, err
	}
	loc := make([]byte, 8)
	for _, rel := range dw.BlockStarts() {
		binary.LittleEndian.PutUint64(loc, descStart+rel)
		if _, err := out.Write(loc); err != nil {
			return 0, err
		}
	}
	return tableStart, nil
}

// writePair encodes one key-value pair into the kv stream and returns its
// uncompressed size.
func writePair(kvw *metadata.Writer, prefix types.XattrPrefix, suffix string,
	value []byte, valueRefs map[string]uint64) (uint64, error) {
	entryType := prefix
	var encoded []byte

	if len(value) > types.XattrValueOOLThreshold {
		if ref, ok := valueRefs[string(value)]; ok {
			entryType |= types.XattrFlagOOL
			encoded = make([]byte, 8)
			binary.LittleEndian.PutUint64(encoded, ref)
		} else {
			// The reference points at the value structure, so capture the
			// cursor after the key is appended.
			encoded = value
		}
	} else {
		encoded = value
	}

	var hdr [4]byte
	le := binary.LittleEndian
	le.PutUint16(hdr[0:2], uint16(entryType))
	le.PutUint16(hdr[2:4], uint16(len(suffix)))
	if err := kvw.Append(hdr[:]); err != nil {
		return 0, err
	}
	if err := kvw.Append([]byte(suffix)); err != nil {
		return 0, err
	}

	if entryType&types.XattrFlagOOL == 0 && len(value) > types.XattrValueOOLThreshold {
		valueRefs[string(value)] = kvw.Ref()
	}

	var vh [4]byte
	le.PutUint32(vh[:], uint32(len(encoded)))
	if err := kvw.Append(vh[:]); err != nil {
		return 0, err
	}
	if err := kvw.Append(encoded); err != nil {
		return 0, err
	}
	return uint64(4 + len(suffix) + 4 + len(encoded)), nil
}
