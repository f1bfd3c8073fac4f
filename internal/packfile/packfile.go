// Package packfile parses gen_init_cpio style description files listing
// the entries of an image, one per line:
//
//	file <path> <mode> <uid> <gid> [<location>]
//	dir <path> <mode> <uid> <gid>
//	nod <path> <mode> <uid> <gid> <dev_type> <maj> <min>
//	slink <path> <mode> <uid> <gid> <target>
//	pipe <path> <mode> <uid> <gid>
//	sock <path> <mode> <uid> <gid>
//
// A '#' starts a comment. Paths may be quoted to allow spaces, with
// backslash escapes inside the quotes.
package packfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/deploymenttheory/go-squashfs/internal/tree"
	"github.com/deploymenttheory/go-squashfs/internal/types"
)

// Parse reads a pack description from r and populates t. File content
// locations are resolved relative to baseDir.
func Parse(r io.Reader, baseDir string, t *tree.Tree) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineno := 0
	for sc.Scan() {
		lineno++
		if err := parseLine(sc.Text(), baseDir, t); err != nil {
			return fmt.Errorf("line %d: %w", lineno, err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading pack file: %w", err)
	}
	return nil
}

// ParseFile opens and parses a pack description file. When packDir is
// empty, file locations resolve relative to the description file's own
// directory.
func ParseFile(path, packDir string, t *tree.Tree) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening pack file: %w", err)
	}
	defer f.Close()
	baseDir := packDir
	if baseDir == "" {
		baseDir = filepath.Dir(path)
	}
	return Parse(f, baseDir, t)
}

func parseLine(line, baseDir string, t *tree.Tree) error {
	fields, err := tokenize(line)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	kind := fields[0]
	if len(fields) < 5 {
		return fmt.Errorf("%w: %q entry needs a path, mode, uid and gid",
			types.ErrConfigInvalid, kind)
	}
	path := fields[1]
	perm, err := strconv.ParseUint(fields[2], 8, 16)
	if err != nil || perm&^uint64(types.PermMask) != 0 {
		return fmt.Errorf("%w: mode %q", types.ErrConfigInvalid, fields[2])
	}
	uid, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return fmt.Errorf("%w: uid %q", types.ErrConfigInvalid, fields[3])
	}
	gid, err := strconv.ParseUint(fields[4], 10, 32)
	if err != nil {
		return fmt.Errorf("%w: gid %q", types.ErrConfigInvalid, fields[4])
	}
	extra := fields[5:]
	mtime := t.Defaults().MTime

	add := func(format uint16) (*tree.Node, error) {
		return t.Add(path, format|uint16(perm), uint32(uid), uint32(gid), mtime)
	}

	switch kind {
	case "file":
		node, err := add(types.FormatFile)
		if err != nil {
			return err
		}
		location := path
		if len(extra) > 0 {
			location = extra[0]
		}
		source := location
		if !filepath.IsAbs(source) {
			source = filepath.Join(baseDir, location)
		} else if location == path {
			source = filepath.Join(baseDir, strings.TrimPrefix(location, "/"))
		}
		st, err := os.Stat(source)
		if err != nil {
			return fmt.Errorf("input file for %q: %w", path, err)
		}
		node.File.Size = uint64(st.Size())
		node.File.Source = source
		return nil

	case "dir":
		_, err := add(types.FormatDir)
		return err

	case "slink":
		if len(extra) < 1 {
			return fmt.Errorf("%w: slink %q needs a target", types.ErrConfigInvalid, path)
		}
		node, err := add(types.FormatSymlink)
		if err != nil {
			return err
		}
		node.SymlinkTarget = extra[0]
		return nil

	case "nod":
		if len(extra) < 3 {
			return fmt.Errorf("%w: nod %q needs a device type, major and minor",
				types.ErrConfigInvalid, path)
		}
		var format uint16
		switch extra[0] {
		case "c":
			format = types.FormatCharDev
		case "b":
			format = types.FormatBlockDev
		default:
			return fmt.Errorf("%w: device type %q", types.ErrConfigInvalid, extra[0])
		}
		maj, err := strconv.ParseUint(extra[1], 10, 32)
		if err != nil {
			return fmt.Errorf("%w: major %q", types.ErrConfigInvalid, extra[1])
		}
		min, err := strconv.ParseUint(extra[2], 10, 32)
		if err != nil {
			return fmt.Errorf("%w: minor %q", types.ErrConfigInvalid, extra[2])
		}
		node, err := add(format)
		if err != nil {
			return err
		}
		node.Devno = packDev(uint32(maj), uint32(min))
		return nil

	case "pipe":
		_, err := add(types.FormatFifo)
		return err

	case "sock":
		_, err := add(types.FormatSocket)
		return err
	}
	return fmt.Errorf("%w: unknown entry type %q", types.ErrConfigInvalid, kind)
}

func packDev(major, minor uint32) uint32 {
	return minor&0xFF | major<<8 | (minor&^uint32(0xFF))<<12
}

// tokenize splits a line into whitespace separated fields, honoring
// double quotes and backslash escapes inside them. A '#' outside quotes
// ends the line.
func tokenize(line string) ([]string, error) {
	var fields []string
	var cur strings.Builder
	inToken := false
	quoted := false
	escaped := false

	flush := func() {
		if inToken {
			fields = append(fields, cur.String())
			cur.Reset()
			inToken = false
		}
	}

	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case quoted && r == '\\':
			escaped = true
		case r == '"':
			if quoted {
				quoted = false
			} else {
				quoted = true
				inToken = true
			}
		case !quoted && (r == ' ' || r == '\t'):
			flush()
		case !quoted && r == '#':
			flush()
			return fields, nil
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if quoted || escaped {
		return nil, fmt.Errorf("%w: unterminated quote", types.ErrConfigInvalid)
	}
	flush()
	return fields, nil
}
