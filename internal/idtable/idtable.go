// Package idtable interns the uid and gid values of all inodes into a
// single table of 32 bit ids, referenced from inodes by 16 bit index.
package idtable

import (
	"fmt"

	"github.com/deploymenttheory/go-squashfs/internal/types"
)

// Table deduplicates 32 bit ids and hands out stable indices in first-seen
// order.
type Table struct {
	ids   []uint32
	index map[uint32]uint16
}

// New creates an empty id table.
func New() *Table {
	return &Table{index: make(map[uint32]uint16)}
}

// Intern returns the index of id, adding it to the table on first use.
func (t *Table) Intern(id uint32) (uint16, error) {
	if idx, ok := t.index[id]; ok {
		return idx, nil
	}
	if len(t.ids) > 0xFFFF {
		return 0, fmt.Errorf("%w: more than 65536 distinct ids", types.ErrOverflow)
	}
	idx := uint16(len(t.ids))
	t.ids = append(t.ids, id)
	t.index[id] = idx
	return idx, nil
}

// Count returns the number of distinct ids interned.
func (t *Table) Count() int {
	return len(t.ids)
}

// IDs returns the interned ids in index order.
func (t *Table) IDs() []uint32 {
	return t.ids
}
