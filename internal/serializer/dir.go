package serializer

import (
	"fmt"

	"github.com/deploymenttheory/go-squashfs/internal/tree"
	"github.com/deploymenttheory/go-squashfs/internal/types"
)

// writeDir emits the directory listing of dir into the directory metadata
// stream and records its location and size on the node. Entries are split
// into headers of up to 256 entries sharing the same inode metadata block,
// with inode numbers delta-encoded against the header base.
func (s *Serializer) writeDir(dir *tree.Node) error {
	block, offset := s.dm.Cursor()
	if block > 0xFFFFFFFF {
		return fmt.Errorf("%w: directory table exceeds 4 GiB", types.ErrOverflow)
	}
	dir.Dir.StartBlock = uint32(block)
	dir.Dir.BlockOffset = offset
	dir.Dir.Size = 0

	children := dir.Children
	for start := 0; start < len(children); {
		base := s.t.Nodes[children[start]]
		count := 1
		for count < len(children)-start && count < types.MaxDirEntries {
			next := s.t.Nodes[children[start+count]]
			if next.InodeRef>>16 != base.InodeRef>>16 {
				break
			}
			diff := int64(next.InodeNumber) - int64(base.InodeNumber)
			if diff < -0x8000 || diff > 0x7FFF {
				break
			}
			count++
		}

		hdr := types.DirHeader{
			Count:       uint32(count - 1),
			StartBlock:  uint32(base.InodeRef >> 16),
			InodeNumber: base.InodeNumber,
		}
		if err := s.dm.Append(hdr.Marshal(nil)); err != nil {
			return err
		}
		dir.Dir.Size += types.DirHeaderSize

		for i := 0; i < count; i++ {
			c := s.t.Nodes[children[start+i]]
			if len(c.Name) == 0 || len(c.Name) > 256 {
				return fmt.Errorf("%w: entry name length %d", types.ErrTreeInvariant, len(c.Name))
			}
			ent := types.DirEntry{
				Offset:    uint16(c.InodeRef & 0xFFFF),
				InodeDiff: int16(int64(c.InodeNumber) - int64(base.InodeNumber)),
				Type:      c.InodeType,
				Size:      uint16(len(c.Name) - 1),
			}
			if err := s.dm.Append(ent.Marshal(nil)); err != nil {
				return err
			}
			if err := s.dm.Append([]byte(c.Name)); err != nil {
				return err
			}
			dir.Dir.Size += types.DirEntrySize + uint32(len(c.Name))
		}
		start += count
	}
	return nil
}
