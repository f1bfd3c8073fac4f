package tarball

import (
	"archive/tar"
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-squashfs/internal/builder"
	"github.com/deploymenttheory/go-squashfs/internal/compression"
	"github.com/deploymenttheory/go-squashfs/internal/tree"
	"github.com/deploymenttheory/go-squashfs/internal/types"
	"github.com/deploymenttheory/go-squashfs/internal/xattrs"
)

type tarEntry struct {
	hdr  tar.Header
	body []byte
}

func makeTar(t *testing.T, entries []tarEntry) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for i := range entries {
		e := &entries[i]
		if e.hdr.Size == 0 && len(e.body) > 0 {
			e.hdr.Size = int64(len(e.body))
		}
		require.NoError(t, tw.WriteHeader(&e.hdr))
		if len(e.body) > 0 {
			_, err := tw.Write(e.body)
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return &buf
}

func ingest(t *testing.T, entries []tarEntry, opts Options) (*tree.Tree, *xattrs.Writer) {
	t.Helper()
	tr := tree.New(tree.Defaults{Mode: 0755, MTime: 42})
	xw := xattrs.NewWriter()

	out, err := builder.CreateOutput(filepath.Join(t.TempDir(), "t.sqfs"), false)
	require.NoError(t, err)
	defer out.Close()

	bld, err := builder.New(tr, xw, out, builder.Config{
		BlockSize:    types.MinBlockSize,
		DevBlockSize: types.DefaultDevBlockSize,
		Workers:      2,
		Compressor:   compression.DefaultConfig(types.CompGzip, types.MinBlockSize),
	})
	require.NoError(t, err)

	require.NoError(t, Ingest(makeTar(t, entries), tr, bld, xw, opts))
	require.NoError(t, bld.FinishData())
	require.NoError(t, bld.WriteMetadata())
	return tr, xw
}

func TestIngestBasicEntries(t *testing.T) {
	tr, _ := ingest(t, []tarEntry{
		{hdr: tar.Header{Name: "etc/", Typeflag: tar.TypeDir, Mode: 0755}},
		{hdr: tar.Header{Name: "etc/motd", Typeflag: tar.TypeReg, Mode: 0644, Uid: 1, Gid: 2},
			body: []byte("welcome\n")},
		{hdr: tar.Header{Name: "etc/link", Typeflag: tar.TypeSymlink, Mode: 0777,
			Linkname: "motd"}},
		{hdr: tar.Header{Name: "dev/null", Typeflag: tar.TypeChar, Mode: 0666,
			Devmajor: 1, Devminor: 3}},
	}, Options{})

	motd, ok := tr.Lookup("/etc/motd")
	require.True(t, ok)
	assert.Equal(t, types.FormatFile|uint16(0644), motd.Mode)
	assert.Equal(t, uint32(1), motd.UID)
	assert.Equal(t, uint64(8), motd.File.Size)
	assert.Equal(t, uint32(8), motd.File.TailSize, "small file content lands in a fragment")

	link, ok := tr.Lookup("/etc/link")
	require.True(t, ok)
	assert.Equal(t, "motd", link.SymlinkTarget)

	null, ok := tr.Lookup("/dev/null")
	require.True(t, ok)
	assert.Equal(t, types.FormatCharDev|uint16(0666), null.Mode)
	assert.Equal(t, uint32(1<<8|3), null.Devno)
}

// TestIngestHardLinkDowngrade documents the hard link handling: a link
// entry is stored as a symlink to its target with mode 0777.
func TestIngestHardLinkDowngrade(t *testing.T) {
	tr, _ := ingest(t, []tarEntry{
		{hdr: tar.Header{Name: "orig", Typeflag: tar.TypeReg, Mode: 0644},
			body: []byte("data")},
		{hdr: tar.Header{Name: "alias", Typeflag: tar.TypeLink, Mode: 0644,
			Linkname: "orig"}},
	}, Options{})

	alias, ok := tr.Lookup("/alias")
	require.True(t, ok)
	assert.Equal(t, types.FormatSymlink|uint16(0777), alias.Mode)
	assert.Equal(t, "/orig", alias.SymlinkTarget)
}

func TestIngestKeepTime(t *testing.T) {
	when := time.Unix(1700000000, 0)
	tr, _ := ingest(t, []tarEntry{
		{hdr: tar.Header{Name: "a", Typeflag: tar.TypeReg, Mode: 0644,
			ModTime: when}, body: []byte("x")},
	}, Options{KeepTime: true})

	n, ok := tr.Lookup("/a")
	require.True(t, ok)
	assert.Equal(t, uint32(1700000000), n.MTime)

	// Without the flag the default applies.
	tr, _ = ingest(t, []tarEntry{
		{hdr: tar.Header{Name: "a", Typeflag: tar.TypeReg, Mode: 0644,
			ModTime: when}, body: []byte("x")},
	}, Options{})
	n, _ = tr.Lookup("/a")
	assert.Equal(t, uint32(42), n.MTime)
}

func TestIngestPaxXattrs(t *testing.T) {
	tr, xw := ingest(t, []tarEntry{
		{hdr: tar.Header{Name: "labeled", Typeflag: tar.TypeReg, Mode: 0644,
			PAXRecords: map[string]string{
				"SCHILY.xattr.security.selinux": "system_u:object_r:bin_t",
				"SCHILY.xattr.system.ignored":   "x",
			}}, body: []byte("x")},
	}, Options{KeepXattr: true})

	n, ok := tr.Lookup("/labeled")
	require.True(t, ok)
	assert.Equal(t, uint32(0), n.XattrIdx)
	assert.Equal(t, 1, xw.Count(), "unencodable prefixes are skipped")
}

func TestIngestImplicitParents(t *testing.T) {
	tr, _ := ingest(t, []tarEntry{
		{hdr: tar.Header{Name: "deep/path/file", Typeflag: tar.TypeReg, Mode: 0644},
			body: []byte("x")},
	}, Options{})

	deep, ok := tr.Lookup("/deep")
	require.True(t, ok)
	assert.True(t, deep.IsDir())
	assert.Equal(t, types.FormatDir|uint16(0755), deep.Mode)
}
