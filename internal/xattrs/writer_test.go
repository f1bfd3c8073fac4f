package xattrs

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-squashfs/internal/compression"
	"github.com/deploymenttheory/go-squashfs/internal/metadata"
	"github.com/deploymenttheory/go-squashfs/internal/types"
)

type memOutput struct {
	buf bytes.Buffer
}

func (m *memOutput) Write(p []byte) (int, error) { return m.buf.Write(p) }
func (m *memOutput) Position() uint64            { return uint64(m.buf.Len()) }

func testCompressor(t *testing.T) compression.Compressor {
	t.Helper()
	cmp, err := compression.New(compression.DefaultConfig(types.CompGzip, types.DefaultBlockSize))
	require.NoError(t, err)
	return cmp
}

func TestAddDeduplicatesSets(t *testing.T) {
	w := NewWriter()

	idx, err := w.Add(nil)
	require.NoError(t, err)
	assert.Equal(t, types.XattrIdxNone, idx)

	set := []Pair{{Key: "user.a", Value: []byte("1")}, {Key: "user.b", Value: []byte("2")}}
	first, err := w.Add(set)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), first)

	again, err := w.Add(set)
	require.NoError(t, err)
	assert.Equal(t, first, again, "identical sets share a descriptor")

	other, err := w.Add([]Pair{{Key: "user.a", Value: []byte("other")}})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), other)
	assert.Equal(t, 2, w.Count())
}

func TestAddRejectsUnknownPrefix(t *testing.T) {
	w := NewWriter()
	_, err := w.Add([]Pair{{Key: "system.acl", Value: []byte("x")}})
	assert.ErrorIs(t, err, types.ErrTreeInvariant)
}

func TestWriteTableLayout(t *testing.T) {
	w := NewWriter()
	_, err := w.Add([]Pair{{Key: "user.mime", Value: []byte("text/plain")}})
	require.NoError(t, err)
	_, err = w.Add([]Pair{{Key: "security.selinux", Value: []byte("system_u:object_r:etc_t")}})
	require.NoError(t, err)

	out := &memOutput{}
	start, err := w.WriteTable(out, testCompressor(t))
	require.NoError(t, err)
	require.NotEqual(t, types.RefTableAbsent, start)

	// The superblock field points at the location table header.
	raw := out.buf.Bytes()
	hdr := raw[start:]
	require.GreaterOrEqual(t, len(hdr), types.XattrIDTableSize+8)
	le := binary.LittleEndian
	kvStart := le.Uint64(hdr[0:8])
	count := le.Uint32(hdr[8:12])
	assert.Equal(t, uint64(0), kvStart, "kv stream starts at the write position")
	assert.Equal(t, uint32(2), count)

	// One descriptor block location follows the fixed header.
	descLoc := le.Uint64(hdr[types.XattrIDTableSize : types.XattrIDTableSize+8])
	assert.Less(t, descLoc, start)

	// Decode the descriptors and walk the kv stream through them.
	dr := metadata.NewReader(bytes.NewReader(raw), descLoc, testCompressor(t))
	descRaw, err := dr.ReadRef(0, 2*types.XattrIDSize)
	require.NoError(t, err)

	kr := metadata.NewReader(bytes.NewReader(raw), kvStart, testCompressor(t))
	for i, want := range []Pair{
		{Key: "user.mime", Value: []byte("text/plain")},
		{Key: "security.selinux", Value: []byte("system_u:object_r:etc_t")},
	} {
		d := descRaw[i*types.XattrIDSize:]
		ref := le.Uint64(d[0:8])
		require.Equal(t, uint32(1), le.Uint32(d[8:12]))
		size := le.Uint32(d[12:16])

		encoded, err := kr.ReadRef(ref, int(size))
		require.NoError(t, err)

		entryType := types.XattrPrefix(le.Uint16(encoded[0:2]))
		suffixLen := le.Uint16(encoded[2:4])
		suffix := string(encoded[4 : 4+suffixLen])
		valueLen := le.Uint32(encoded[4+suffixLen : 8+suffixLen])
		value := encoded[8+suffixLen : 8+uint32(suffixLen)+valueLen]

		prefix, wantSuffix, _ := types.SplitXattrKey(want.Key)
		assert.Equal(t, prefix, entryType, "pair %d", i)
		assert.Equal(t, wantSuffix, suffix, "pair %d", i)
		assert.Equal(t, want.Value, value, "pair %d", i)
	}
}

func TestWriteTableOutOfLineValues(t *testing.T) {
	w := NewWriter()
	big := bytes.Repeat([]byte{0x5A}, types.XattrValueOOLThreshold+1)

	_, err := w.Add([]Pair{{Key: "user.big", Value: big}})
	require.NoError(t, err)
	_, err = w.Add([]Pair{{Key: "trusted.copy", Value: big}})
	require.NoError(t, err)

	out := &memOutput{}
	start, err := w.WriteTable(out, testCompressor(t))
	require.NoError(t, err)
	require.NotEqual(t, types.RefTableAbsent, start)

	raw := out.buf.Bytes()
	le := binary.LittleEndian
	hdr := raw[start:]
	descLoc := le.Uint64(hdr[types.XattrIDTableSize : types.XattrIDTableSize+8])

	dr := metadata.NewReader(bytes.NewReader(raw), descLoc, testCompressor(t))
	descRaw, err := dr.ReadRef(0, 2*types.XattrIDSize)
	require.NoError(t, err)

	kr := metadata.NewReader(bytes.NewReader(raw), 0, testCompressor(t))

	// The second set must carry the OOL flag and an 8 byte reference.
	ref := le.Uint64(descRaw[types.XattrIDSize : types.XattrIDSize+8])
	size := le.Uint32(descRaw[types.XattrIDSize+12 : types.XattrIDSize+16])
	encoded, err := kr.ReadRef(ref, int(size))
	require.NoError(t, err)

	entryType := types.XattrPrefix(le.Uint16(encoded[0:2]))
	assert.NotZero(t, entryType&types.XattrFlagOOL, "duplicate large value must be out-of-line")
	suffixLen := le.Uint16(encoded[2:4])
	assert.Equal(t, "copy", string(encoded[4:4+suffixLen]))
	valueLen := le.Uint32(encoded[4+suffixLen : 8+suffixLen])
	assert.Equal(t, uint32(8), valueLen, "OOL value is a 64 bit reference")

	// Following the reference lands on the original value.
	target := le.Uint64(encoded[8+suffixLen : 16+suffixLen])
	valRaw, err := kr.ReadRef(target, 4+len(big))
	require.NoError(t, err)
	assert.Equal(t, uint32(len(big)), le.Uint32(valRaw[0:4]))
	assert.Equal(t, big, valRaw[4:])
}
