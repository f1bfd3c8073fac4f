package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuperBlockRoundTrip(t *testing.T) {
	in := &SuperBlock{
		Magic:               Magic,
		InodeCount:          42,
		ModTime:             1234567890,
		BlockSize:           131072,
		FragmentCount:       3,
		Compression:         CompZstd,
		BlockLog:            17,
		Flags:               FlagDuplicates | FlagNoXattrs,
		IDCount:             2,
		VersionMajor:        VersionMajor,
		VersionMinor:        VersionMinor,
		RootInodeRef:        0x12345<<16 | 0x678,
		BytesUsed:           987654,
		IDTableStart:        1000,
		XattrIDTableStart:   RefTableAbsent,
		InodeTableStart:     2000,
		DirectoryTableStart: 3000,
		FragmentTableStart:  4000,
		ExportTableStart:    RefTableAbsent,
	}
	buf := in.Marshal()
	require.Len(t, buf, SuperBlockSize)

	out, err := UnmarshalSuperBlock(buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestSuperBlockBadMagic(t *testing.T) {
	s := &SuperBlock{
		Magic:        0xdeadbeef,
		BlockSize:    131072,
		BlockLog:     17,
		VersionMajor: VersionMajor,
		VersionMinor: VersionMinor,
	}
	_, err := UnmarshalSuperBlock(s.Marshal())
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestSuperBlockBlockLogMismatch(t *testing.T) {
	s := &SuperBlock{
		Magic:        Magic,
		BlockSize:    131072,
		BlockLog:     16,
		VersionMajor: VersionMajor,
		VersionMinor: VersionMinor,
	}
	_, err := UnmarshalSuperBlock(s.Marshal())
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestBlockLog2(t *testing.T) {
	tests := []struct {
		size uint32
		log  uint16
		ok   bool
	}{
		{4096, 12, true},
		{131072, 17, true},
		{1048576, 20, true},
		{2048, 0, false},
		{2097152, 0, false},
		{131073, 0, false},
	}
	for _, tc := range tests {
		log, ok := BlockLog2(tc.size)
		assert.Equal(t, tc.ok, ok, "size %d", tc.size)
		if tc.ok {
			assert.Equal(t, tc.log, log, "size %d", tc.size)
		}
	}
}

func TestSplitXattrKey(t *testing.T) {
	prefix, suffix, ok := SplitXattrKey("user.mime_type")
	require.True(t, ok)
	assert.Equal(t, XattrUser, prefix)
	assert.Equal(t, "mime_type", suffix)

	prefix, suffix, ok = SplitXattrKey("security.selinux")
	require.True(t, ok)
	assert.Equal(t, XattrSecurity, prefix)
	assert.Equal(t, "selinux", suffix)

	_, _, ok = SplitXattrKey("system.posix_acl_access")
	assert.False(t, ok)
}
