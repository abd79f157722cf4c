// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package ocibundle

import (
	"archive/tar"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/sylabs/ocibundle/pkg/sylog"
)

// addedSet records, for the lifetime of a single layer, every path the
// layer contributed as a non-whiteout entry. It exists only to let an
// opaque whiteout spare entries its own layer re-adds.
type addedSet map[string]struct{}

func (s addedSet) add(p string) { s[p] = struct{}{} }

func (s addedSet) has(p string) bool {
	_, ok := s[p]
	return ok
}

// hasDescendant reports whether any recorded path is p itself or lives
// under p.
func (s addedSet) hasDescendant(p string) bool {
	prefix := p + "/"
	for k := range s {
		if k == p || strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

// extractLayer applies one layer's tar entries onto rootfs, honoring OCI
// whiteout semantics. Directory entries are deferred and applied last, in
// reverse-lexicographic order by raw path bytes, so their mtimes and
// permissions survive later child writes.
func extractLayer(tr *tar.Reader, rootfs string) error {
	added := make(addedSet)
	var dirHeaders []*tar.Header

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "reading tar entry")
		}

		if containsDotDot(hdr.Name) {
			sylog.Warningf("skipping entry with path-traversal component: %s", hdr.Name)
			continue
		}

		name := sanitizeRelPath(hdr.Name)
		if name == "" {
			continue
		}
		dir := path.Dir(name)
		base := path.Base(name)

		if base == opaqueWhiteoutName {
			if err := applyOpaqueWhiteout(rootfs, dir, added); err != nil {
				return errors.Wrapf(err, "applying opaque whiteout at %s", dir)
			}
			continue
		}
		if strings.HasPrefix(base, whiteoutPrefix) {
			target := path.Join(dir, strings.TrimPrefix(base, whiteoutPrefix))
			if err := applyRegularWhiteout(rootfs, target); err != nil {
				return errors.Wrapf(err, "applying whiteout for %s", target)
			}
			continue
		}

		added.add(name)

		if hdr.Typeflag == tar.TypeDir {
			dirHeaders = append(dirHeaders, hdr)
			continue
		}
		if err := applyEntry(rootfs, name, hdr, tr); err != nil {
			return errors.Wrapf(err, "unpacking %s", name)
		}
	}

	sort.Slice(dirHeaders, func(i, j int) bool {
		return dirHeaders[i].Name > dirHeaders[j].Name
	})
	for _, hdr := range dirHeaders {
		name := sanitizeRelPath(hdr.Name)
		if err := applyEntry(rootfs, name, hdr, nil); err != nil {
			return errors.Wrapf(err, "unpacking directory %s", name)
		}
	}

	return nil
}

// containsDotDot reports whether the raw (uncleaned) tar entry path has a
// literal ".." path component, checked before any cleaning so a traversal
// attempt can't be normalized away first.
func containsDotDot(p string) bool {
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

func sanitizeRelPath(p string) string {
	p = filepath.ToSlash(p)
	p = strings.TrimPrefix(p, "/")
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	return p
}

// applyRegularWhiteout removes <rootfs>/<target> if it exists as a
// non-directory. Directories are not removed by a regular whiteout; the
// opaque form covers directory clearing.
func applyRegularWhiteout(rootfs, target string) error {
	// Resolve only the parent securely, so a symlink at target is removed
	// itself rather than followed.
	parent, err := securejoin.SecureJoin(rootfs, path.Dir(target))
	if err != nil {
		return err
	}
	abs := filepath.Join(parent, path.Base(target))
	info, err := os.Lstat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return nil
	}
	return os.Remove(abs)
}

// applyOpaqueWhiteout clears all prior contents of <rootfs>/<dir>, except
// paths recorded in added (entries the current layer itself contributed).
func applyOpaqueWhiteout(rootfs, dir string, added addedSet) error {
	absDir, err := securejoin.SecureJoin(rootfs, dir)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(absDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, ent := range entries {
		childRel := path.Join(dir, ent.Name())
		childAbs := filepath.Join(absDir, ent.Name())
		if err := pruneUnlessAdded(childRel, childAbs, added); err != nil {
			return err
		}
	}
	return nil
}

// pruneUnlessAdded deletes the entry at absPath unless relPath is in
// added. It is called for the children of the opaque whiteout's
// directory, so that directory being in added does not protect them.
// Subtree roots with no protected descendant are removed with a single
// recursive delete; otherwise the directory is descended into so
// protected children survive.
func pruneUnlessAdded(relPath, absPath string, added addedSet) error {
	if added.has(relPath) {
		return nil
	}
	info, err := os.Lstat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return os.Remove(absPath)
	}
	if !added.hasDescendant(relPath) {
		return os.RemoveAll(absPath)
	}
	entries, err := os.ReadDir(absPath)
	if err != nil {
		return err
	}
	for _, ent := range entries {
		childRel := path.Join(relPath, ent.Name())
		childAbs := filepath.Join(absPath, ent.Name())
		if err := pruneUnlessAdded(childRel, childAbs, added); err != nil {
			return err
		}
	}
	return nil
}

// applyEntry materializes a single non-whiteout tar entry under rootfs.
// tr is nil when applying a previously-buffered directory header.
func applyEntry(rootfs, relPath string, hdr *tar.Header, tr *tar.Reader) error {
	abs, err := securejoin.SecureJoin(rootfs, relPath)
	if err != nil {
		return err
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(abs, os.FileMode(hdr.Mode&0o7777)); err != nil {
			return err
		}
	case tar.TypeReg, tar.TypeRegA:
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return err
		}
		_ = os.RemoveAll(abs)
		f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode&0o7777))
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return err
		}
		_ = os.RemoveAll(abs)
		if err := os.Symlink(hdr.Linkname, abs); err != nil {
			return err
		}
	case tar.TypeLink:
		linkAbs, err := securejoin.SecureJoin(rootfs, sanitizeRelPath(hdr.Linkname))
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return err
		}
		_ = os.RemoveAll(abs)
		if err := os.Link(linkAbs, abs); err != nil {
			return err
		}
	case tar.TypeChar, tar.TypeBlock, tar.TypeFifo:
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return err
		}
		_ = os.RemoveAll(abs)
		mode := uint32(hdr.Mode & 0o7777)
		switch hdr.Typeflag {
		case tar.TypeChar:
			mode |= unix.S_IFCHR
		case tar.TypeBlock:
			mode |= unix.S_IFBLK
		case tar.TypeFifo:
			mode |= unix.S_IFIFO
		}
		dev := unix.Mkdev(uint32(hdr.Devmajor), uint32(hdr.Devminor))
		if err := unix.Mknod(abs, mode, int(dev)); err != nil {
			return err
		}
	default:
		sylog.Warningf("skipping unsupported tar entry type %v at %s", hdr.Typeflag, relPath)
		return nil
	}

	applyXattrs(abs, hdr)
	applyOwnerAndMode(abs, hdr)
	return nil
}

func applyXattrs(abs string, hdr *tar.Header) {
	const xattrPrefix = "SCHILY.xattr."
	for k, v := range hdr.PAXRecords {
		if !strings.HasPrefix(k, xattrPrefix) {
			continue
		}
		name := strings.TrimPrefix(k, xattrPrefix)
		if err := unix.Lsetxattr(abs, name, []byte(v), 0); err != nil {
			sylog.Debugf("unable to set xattr %s on %s: %v", name, abs, err)
		}
	}
}

func applyOwnerAndMode(abs string, hdr *tar.Header) {
	if err := os.Lchown(abs, hdr.Uid, hdr.Gid); err != nil {
		sylog.Debugf("unable to chown %s: %v", abs, err)
	}
	if hdr.Typeflag != tar.TypeSymlink {
		if err := os.Chmod(abs, os.FileMode(hdr.Mode&0o7777)); err != nil {
			sylog.Debugf("unable to chmod %s: %v", abs, err)
		}
	}
	mtime := hdr.ModTime
	if mtime.IsZero() {
		mtime = time.Now()
	}
	if hdr.Typeflag != tar.TypeSymlink {
		if err := os.Chtimes(abs, mtime, mtime); err != nil {
			sylog.Debugf("unable to set mtime on %s: %v", abs, err)
		}
	}
}
