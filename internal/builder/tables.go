package builder

import (
	"encoding/binary"

	"github.com/deploymenttheory/go-squashfs/internal/compression"
	"github.com/deploymenttheory/go-squashfs/internal/metadata"
)

// writeIndexedTable writes a metadata stream followed by the list of
// absolute block locations the superblock-referenced tables use for
// random access. It returns the offset of the location list, which is
// what the superblock field points at.
func writeIndexedTable(out *OutputFile, cmp compression.Compressor,
	fill func(*metadata.Writer) error) (uint64, error) {
	base := out.Position()
	mw := metadata.NewWriter(out, cmp)
	if err := fill(mw); err != nil {
		return 0, err
	}
	if err := mw.Flush(); err != nil {
		return 0, err
	}
	start := out.Position()
	var buf [8]byte
	for _, rel := range mw.BlockStarts() {
		binary.LittleEndian.PutUint64(buf[:], base+rel)
		if _, err := out.Write(buf[:]); err != nil {
			return 0, err
		}
	}
	return start, nil
}
