// Package scanner builds a filesystem tree from a host directory.
package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/xattr"
	"golang.org/x/sys/unix"

	"github.com/deploymenttheory/go-squashfs/internal/tree"
	"github.com/deploymenttheory/go-squashfs/internal/types"
	"github.com/deploymenttheory/go-squashfs/internal/xattrs"
)

// Options control what the scan carries over from the host filesystem.
type Options struct {
	// KeepTime uses the input files' mtimes instead of the default.
	KeepTime bool
	// KeepXattr reads and packs extended attributes.
	KeepXattr bool
	// OneFileSystem stops the walk at mount points.
	OneFileSystem bool
}

// Scan populates t with the contents of root. The directory itself
// becomes the image root.
func Scan(t *tree.Tree, root string, opts Options, xw *xattrs.Writer) error {
	var st unix.Stat_t
	if err := unix.Lstat(root, &st); err != nil {
		return fmt.Errorf("lstat %q: %w", root, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return fmt.Errorf("%w: pack root %q is not a directory", types.ErrConfigInvalid, root)
	}
	s := &scanner{t: t, opts: opts, xw: xw, rootDev: st.Dev}

	rootNode := t.Root()
	s.applyStat(rootNode, &st)
	if err := s.setXattrs(rootNode, root); err != nil {
		return err
	}
	return s.walk(root, "/")
}

type scanner struct {
	t       *tree.Tree
	opts    Options
	xw      *xattrs.Writer
	rootDev uint64
}

func (s *scanner) walk(hostDir, imageDir string) error {
	entries, err := os.ReadDir(hostDir)
	if err != nil {
		return fmt.Errorf("reading %q: %w", hostDir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, ent := range entries {
		hostPath := filepath.Join(hostDir, ent.Name())
		imagePath := imageDir + ent.Name()

		var st unix.Stat_t
		if err := unix.Lstat(hostPath, &st); err != nil {
			return fmt.Errorf("lstat %q: %w", hostPath, err)
		}
		if s.opts.OneFileSystem && st.Dev != s.rootDev {
			continue
		}

		node, err := s.t.Add(imagePath, uint16(st.Mode&0xFFFF),
			st.Uid, st.Gid, s.mtime(&st))
		if err != nil {
			return err
		}

		switch st.Mode & unix.S_IFMT {
		case unix.S_IFREG:
			node.File.Size = uint64(st.Size)
			node.File.Source = hostPath
		case unix.S_IFLNK:
			target, err := os.Readlink(hostPath)
			if err != nil {
				return fmt.Errorf("readlink %q: %w", hostPath, err)
			}
			node.SymlinkTarget = target
		case unix.S_IFBLK, unix.S_IFCHR:
			node.Devno = encodeDev(st.Rdev)
		}

		if err := s.setXattrs(node, hostPath); err != nil {
			return err
		}
		if st.Mode&unix.S_IFMT == unix.S_IFDIR {
			if err := s.walk(hostPath, imagePath+"/"); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *scanner) mtime(st *unix.Stat_t) uint32 {
	if !s.opts.KeepTime {
		return s.t.Defaults().MTime
	}
	if st.Mtim.Sec < 0 {
		return 0
	}
	if st.Mtim.Sec > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(st.Mtim.Sec)
}

func (s *scanner) setXattrs(node *tree.Node, hostPath string) error {
	if !s.opts.KeepXattr {
		return nil
	}
	keys, err := xattr.LList(hostPath)
	if err != nil {
		return fmt.Errorf("listing xattrs of %q: %w", hostPath, err)
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	pairs := make([]xattrs.Pair, 0, len(keys))
	for _, key := range keys {
		if _, _, ok := types.SplitXattrKey(key); !ok {
			// Prefixes the format cannot encode are skipped, like system
			// ACLs copied from foreign filesystems.
			continue
		}
		value, err := xattr.LGet(hostPath, key)
		if err != nil {
			return fmt.Errorf("reading xattr %q of %q: %w", key, hostPath, err)
		}
		pairs = append(pairs, xattrs.Pair{Key: key, Value: value})
	}
	idx, err := s.xw.Add(pairs)
	if err != nil {
		return err
	}
	node.XattrIdx = idx
	return nil
}

func (s *scanner) applyStat(node *tree.Node, st *unix.Stat_t) {
	node.Mode = uint16(st.Mode & 0xFFFF)
	node.UID = st.Uid
	node.GID = st.Gid
	node.MTime = s.mtime(st)
}

// encodeDev packs a device number the way the kernel encodes new-style
// dev_t values: minor low byte, major, then the high minor bits.
func encodeDev(rdev uint64) uint32 {
	major := unix.Major(rdev)
	minor := unix.Minor(rdev)
	return minor&0xFF | major<<8 | (minor&^uint32(0xFF))<<12
}
