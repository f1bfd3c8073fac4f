// Package tarball builds a filesystem tree from a tar stream, feeding
// file content straight into an image builder as entries are decoded.
package tarball

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/deploymenttheory/go-squashfs/internal/builder"
	"github.com/deploymenttheory/go-squashfs/internal/tree"
	"github.com/deploymenttheory/go-squashfs/internal/types"
	"github.com/deploymenttheory/go-squashfs/internal/xattrs"
)

// paxXattrPrefix is the PAX record key prefix tar uses for extended
// attributes.
const paxXattrPrefix = "SCHILY.xattr."

// Options control the ingestion.
type Options struct {
	// KeepTime carries the archive mtimes into the image instead of the
	// tree defaults.
	KeepTime bool
	// KeepXattr packs PAX-encoded extended attributes.
	KeepXattr bool
}

// Ingest reads the whole tar stream, populating t and packing regular
// file data through b. Hard link entries are stored as symlinks to their
// target; the format writer does not support hard links.
func Ingest(r io.Reader, t *tree.Tree, b *builder.Builder, xw *xattrs.Writer, opts Options) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar stream: %w", err)
		}
		if err := ingestEntry(tr, hdr, t, b, xw, opts); err != nil {
			return err
		}
	}
}

func ingestEntry(tr *tar.Reader, hdr *tar.Header, t *tree.Tree, b *builder.Builder,
	xw *xattrs.Writer, opts Options) error {
	var format uint16
	switch hdr.Typeflag {
	case tar.TypeReg:
		format = types.FormatFile
	case tar.TypeDir:
		format = types.FormatDir
	case tar.TypeSymlink:
		format = types.FormatSymlink
	case tar.TypeLink:
		// Hard links become symlinks pointing at the link target.
		format = types.FormatSymlink
	case tar.TypeChar:
		format = types.FormatCharDev
	case tar.TypeBlock:
		format = types.FormatBlockDev
	case tar.TypeFifo:
		format = types.FormatFifo
	case tar.TypeXGlobalHeader:
		return nil
	default:
		return fmt.Errorf("%w: tar entry %q has unsupported type %q",
			types.ErrConfigInvalid, hdr.Name, hdr.Typeflag)
	}

	mode := format | uint16(hdr.Mode)&types.PermMask
	mtime := t.Defaults().MTime
	if opts.KeepTime {
		mtime = clampTime(hdr.ModTime.Unix())
	}

	node, err := t.Add("/"+strings.TrimSuffix(hdr.Name, "/"), mode,
		uint32(hdr.Uid), uint32(hdr.Gid), mtime)
	if err != nil {
		return err
	}

	switch hdr.Typeflag {
	case tar.TypeReg:
		node.File.Size = uint64(hdr.Size)
		if err := b.PackFile(node, tr); err != nil {
			return err
		}
	case tar.TypeSymlink:
		node.SymlinkTarget = hdr.Linkname
	case tar.TypeLink:
		node.SymlinkTarget = "/" + strings.TrimPrefix(hdr.Linkname, "/")
		node.Mode = types.FormatSymlink | 0777
	case tar.TypeChar, tar.TypeBlock:
		node.Devno = packDev(uint32(hdr.Devmajor), uint32(hdr.Devminor))
	}

	if opts.KeepXattr {
		if err := applyXattrs(node, hdr, xw); err != nil {
			return err
		}
	}
	return nil
}

func applyXattrs(node *tree.Node, hdr *tar.Header, xw *xattrs.Writer) error {
	var keys []string
	for key := range hdr.PAXRecords {
		if !strings.HasPrefix(key, paxXattrPrefix) {
			continue
		}
		name := key[len(paxXattrPrefix):]
		if _, _, ok := types.SplitXattrKey(name); ok {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	pairs := make([]xattrs.Pair, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, xattrs.Pair{
			Key:   key[len(paxXattrPrefix):],
			Value: []byte(hdr.PAXRecords[key]),
		})
	}
	idx, err := xw.Add(pairs)
	if err != nil {
		return err
	}
	node.XattrIdx = idx
	return nil
}

func clampTime(sec int64) uint32 {
	if sec < 0 {
		return 0
	}
	if sec > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(sec)
}

func packDev(major, minor uint32) uint32 {
	return minor&0xFF | major<<8 | (minor&^uint32(0xFF))<<12
}
