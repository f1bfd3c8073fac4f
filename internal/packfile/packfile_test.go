package packfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-squashfs/internal/tree"
	"github.com/deploymenttheory/go-squashfs/internal/types"
)

func parseString(t *testing.T, input, baseDir string) *tree.Tree {
	t.Helper()
	tr := tree.New(tree.Defaults{Mode: 0755})
	require.NoError(t, Parse(strings.NewReader(input), baseDir, tr))
	return tr
}

func TestParseBasicEntries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello"), []byte("helloworld"), 0644))

	tr := parseString(t, `
# a comment
dir /etc 0755 0 0
file /hello 0644 1 2
slink /link 0777 0 0 /hello
nod /dev/tty 0620 0 5 c 5 0
pipe /run/fifo 0600 0 0
sock /run/sock 0600 0 0
`, dir)

	etc, ok := tr.Lookup("/etc")
	require.True(t, ok)
	assert.True(t, etc.IsDir())

	hello, ok := tr.Lookup("/hello")
	require.True(t, ok)
	assert.Equal(t, types.FormatFile|uint16(0644), hello.Mode)
	assert.Equal(t, uint32(1), hello.UID)
	assert.Equal(t, uint32(2), hello.GID)
	assert.Equal(t, uint64(10), hello.File.Size)
	assert.Equal(t, filepath.Join(dir, "hello"), hello.File.Source)

	link, ok := tr.Lookup("/link")
	require.True(t, ok)
	assert.Equal(t, "/hello", link.SymlinkTarget)

	tty, ok := tr.Lookup("/dev/tty")
	require.True(t, ok)
	assert.Equal(t, types.FormatCharDev|uint16(0620), tty.Mode)
	assert.Equal(t, uint32(5<<8), tty.Devno)

	fifo, ok := tr.Lookup("/run/fifo")
	require.True(t, ok)
	assert.Equal(t, types.FormatFifo|uint16(0600), fifo.Mode)
}

func TestParseQuotedPaths(t *testing.T) {
	dir := t.TempDir()
	tr := parseString(t, `dir "/with space" 0755 0 0
dir "/quo\"ted" 0700 0 0`, dir)

	n, ok := tr.Lookup("/with space")
	require.True(t, ok)
	assert.True(t, n.IsDir())

	n, ok = tr.Lookup(`/quo"ted`)
	require.True(t, ok)
	assert.Equal(t, types.FormatDir|uint16(0700), n.Mode)
}

func TestParseFileLocation(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "payload.bin"), make([]byte, 100), 0644))

	tr := parseString(t, "file /target 0644 0 0 payload.bin", dir)
	n, ok := tr.Lookup("/target")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "payload.bin"), n.File.Source)
	assert.Equal(t, uint64(100), n.File.Size)
}

func TestParseErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name  string
		input string
	}{
		{"unknown type", "link /a 0777 0 0"},
		{"missing fields", "dir /a 0755"},
		{"bad mode", "dir /a 9999 0 0"},
		{"bad device type", "nod /a 0600 0 0 x 1 2"},
		{"unterminated quote", `dir "/a 0755 0 0`},
		{"missing input file", "file /nope 0644 0 0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr := tree.New(tree.Defaults{Mode: 0755})
			err := Parse(strings.NewReader(tc.input), dir, tr)
			assert.Error(t, err)
		})
	}
}
