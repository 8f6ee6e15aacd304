// Package routefs provides a billy.Filesystem that dispatches every path, by
// its first segment, to one of several backing stores.
//
// A reserved segment is stripped before the path is handed to its store;
// any other path goes unchanged to the catch-all store. The virtual root
// lists the reserved segments followed by whatever the catch-all holds at
// its own root. Paths reported back (file names, walk paths) are always in
// the virtual namespace.
package routefs

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"
)

var (
	// ErrCrossStore is returned when a rename spans two backing stores.
	ErrCrossStore = errors.New("rename across backing stores")

	// ErrVirtualRoot is returned for mutations of the virtual root or of a
	// reserved segment itself.
	ErrVirtualRoot = errors.New("operation not permitted on virtual root")
)

// FS routes filesystem operations by first path segment.
type FS struct {
	fallback billy.Filesystem
	routes   map[string]billy.Filesystem
	segments []string // sorted reserved segments
}

var _ billy.Filesystem = (*FS)(nil)

// New returns a routing filesystem. routes maps reserved top-level segments
// to their stores; everything else goes to fallback. The mapping is fixed
// for the life of the FS.
func New(fallback billy.Filesystem, routes map[string]billy.Filesystem) *FS {
	fs := &FS{
		fallback: fallback,
		routes:   make(map[string]billy.Filesystem, len(routes)),
	}
	for seg, store := range routes {
		seg = strings.Trim(seg, "/")
		fs.routes[seg] = store
		fs.segments = append(fs.segments, seg)
	}
	sort.Strings(fs.segments)
	return fs
}

// Segments returns the reserved segments in listing order.
func (fs *FS) Segments() []string {
	out := make([]string, len(fs.segments))
	copy(out, fs.segments)
	return out
}

// target is the result of routing a virtual path.
type target struct {
	store   billy.Filesystem
	segment string // reserved segment, "" for the catch-all
	rel     string // path inside store
}

// virtual maps a store-relative path back into the virtual namespace.
func (t target) virtual(p string) string {
	if t.segment == "" {
		return p
	}
	if p == "" || p == "." {
		return t.segment
	}
	return path.Join(t.segment, p)
}

// clean normalizes a virtual path to slash form without leading "/" or "./".
// The virtual root is "".
func clean(p string) string {
	c := path.Clean("/" + filepath.ToSlash(p))
	return strings.TrimPrefix(c, "/")
}

// route resolves a virtual path. isRoot reports the virtual root itself.
func (fs *FS) route(p string) (t target, isRoot bool) {
	c := clean(p)
	if c == "" {
		return target{store: fs.fallback}, true
	}

	first, rest, _ := strings.Cut(c, "/")
	if store, ok := fs.routes[first]; ok {
		return target{store: store, segment: first, rel: rest}, false
	}
	return target{store: fs.fallback, rel: c}, false
}

func rootErr(op, name string) error {
	return &os.PathError{Op: op, Path: name, Err: ErrVirtualRoot}
}

// ===================
// billy.Basic
// ===================

func (fs *FS) Create(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

func (fs *FS) Open(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDONLY, 0)
}

func (fs *FS) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	t, isRoot := fs.route(filename)
	if isRoot || (t.segment != "" && t.rel == "") {
		return nil, rootErr("open", filename)
	}
	f, err := t.store.OpenFile(t.rel, flag, perm)
	if err != nil {
		return nil, err
	}
	return &file{File: f, name: t.virtual(t.rel)}, nil
}

func (fs *FS) Stat(filename string) (os.FileInfo, error) {
	t, isRoot := fs.route(filename)
	if isRoot {
		return &dirInfo{name: "/"}, nil
	}
	if t.segment != "" && t.rel == "" {
		// A reserved segment always exists even if its store has no root yet.
		if fi, err := t.store.Stat(""); err == nil {
			return &dirInfo{name: t.segment, modTime: fi.ModTime()}, nil
		}
		return &dirInfo{name: t.segment}, nil
	}
	return t.store.Stat(t.rel)
}

func (fs *FS) Rename(oldpath, newpath string) error {
	from, fromRoot := fs.route(oldpath)
	to, toRoot := fs.route(newpath)
	if fromRoot || toRoot || (from.segment != "" && from.rel == "") || (to.segment != "" && to.rel == "") {
		return rootErr("rename", oldpath)
	}
	if from.segment != to.segment {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: ErrCrossStore}
	}
	return from.store.Rename(from.rel, to.rel)
}

func (fs *FS) Remove(filename string) error {
	t, isRoot := fs.route(filename)
	if isRoot || (t.segment != "" && t.rel == "") {
		return rootErr("remove", filename)
	}
	return t.store.Remove(t.rel)
}

func (fs *FS) Join(elem ...string) string {
	return path.Join(elem...)
}

// ===================
// billy.TempFile
// ===================

func (fs *FS) TempFile(dir, prefix string) (billy.File, error) {
	t, isRoot := fs.route(dir)
	if isRoot {
		t.rel = ""
	}
	f, err := t.store.TempFile(t.rel, prefix)
	if err != nil {
		return nil, err
	}
	name := path.Join(t.rel, path.Base(filepath.ToSlash(f.Name())))
	return &file{File: f, name: t.virtual(name)}, nil
}

// ===================
// billy.Dir
// ===================

// ReadDir lists a directory. At the virtual root the reserved segments come
// first, followed by the catch-all root entries in the store's own order.
func (fs *FS) ReadDir(dirname string) ([]os.FileInfo, error) {
	t, isRoot := fs.route(dirname)
	if !isRoot {
		return t.store.ReadDir(t.rel)
	}

	infos := make([]os.FileInfo, 0, len(fs.segments))
	for _, seg := range fs.segments {
		fi, _ := fs.Stat(seg)
		infos = append(infos, fi)
	}

	rest, err := fs.fallback.ReadDir("")
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to list catch-all root: %w", err)
	}
	return append(infos, rest...), nil
}

func (fs *FS) MkdirAll(filename string, perm os.FileMode) error {
	t, isRoot := fs.route(filename)
	if isRoot {
		return nil
	}
	return t.store.MkdirAll(t.rel, perm)
}

// ===================
// billy.Symlink
// ===================

func (fs *FS) Lstat(filename string) (os.FileInfo, error) {
	t, isRoot := fs.route(filename)
	if isRoot || (t.segment != "" && t.rel == "") {
		return fs.Stat(filename)
	}
	return t.store.Lstat(t.rel)
}

// Symlink creates link pointing at target. Both must live in the same store;
// target is passed through unchanged when relative.
func (fs *FS) Symlink(target, link string) error {
	t, isRoot := fs.route(link)
	if isRoot || (t.segment != "" && t.rel == "") {
		return rootErr("symlink", link)
	}
	if path.IsAbs(filepath.ToSlash(target)) {
		to, _ := fs.route(target)
		if to.segment != t.segment {
			return &os.LinkError{Op: "symlink", Old: target, New: link, Err: ErrCrossStore}
		}
		target = "/" + to.rel
	}
	return t.store.Symlink(target, t.rel)
}

func (fs *FS) Readlink(link string) (string, error) {
	t, isRoot := fs.route(link)
	if isRoot || (t.segment != "" && t.rel == "") {
		return "", rootErr("readlink", link)
	}
	target, err := t.store.Readlink(t.rel)
	if err != nil {
		return "", err
	}
	if path.IsAbs(filepath.ToSlash(target)) {
		return "/" + t.virtual(clean(target)), nil
	}
	return target, nil
}

// ===================
// billy.Chroot
// ===================

func (fs *FS) Chroot(p string) (billy.Filesystem, error) {
	return chroot.New(fs, clean(p)), nil
}

func (fs *FS) Root() string {
	return "/"
}

// ===================
// Walk
// ===================

// WalkFunc is called for every file and directory visited by Walk. Paths are
// virtual.
type WalkFunc func(path string, info os.FileInfo, err error) error

// SkipDir can be returned by a WalkFunc to skip a directory.
var SkipDir = filepath.SkipDir

// Walk visits root and everything below it, in each store's own listing
// order. A walk from the virtual root fans out into one walk per store:
// first each reserved segment, then the catch-all entries.
func (fs *FS) Walk(root string, fn WalkFunc) error {
	t, isRoot := fs.route(root)
	if !isRoot {
		return walkStore(t.store, t.rel, t.virtual, fn)
	}

	info, _ := fs.Stat("")
	if err := fn("", info, nil); err != nil {
		if errors.Is(err, SkipDir) {
			return nil
		}
		return err
	}

	for _, seg := range fs.segments {
		st := target{store: fs.routes[seg], segment: seg}
		if err := walkStore(st.store, "", st.virtual, fn); err != nil {
			return err
		}
	}

	entries, err := fs.fallback.ReadDir("")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fn("", info, err)
	}
	for _, fi := range entries {
		if err := walkEntry(fs.fallback, fi.Name(), fi, identity, fn); err != nil {
			return err
		}
	}
	return nil
}

func identity(p string) string { return p }

func walkStore(store billy.Filesystem, rel string, virtual func(string) string, fn WalkFunc) error {
	fi, err := store.Lstat(rel)
	if err != nil {
		if rel == "" && os.IsNotExist(err) {
			// An empty store still shows up as its (empty) segment.
			fi, err = &dirInfo{name: virtual("")}, nil
		} else {
			return fn(virtual(rel), nil, err)
		}
	}
	return walkEntry(store, rel, fi, virtual, fn)
}

func walkEntry(store billy.Filesystem, rel string, fi os.FileInfo, virtual func(string) string, fn WalkFunc) error {
	err := fn(virtual(rel), fi, nil)
	if err != nil {
		if fi.IsDir() && errors.Is(err, SkipDir) {
			return nil
		}
		return err
	}
	if !fi.IsDir() {
		return nil
	}

	entries, err := store.ReadDir(rel)
	if err != nil {
		if os.IsNotExist(err) && rel == "" {
			return nil
		}
		return fn(virtual(rel), fi, err)
	}
	for _, child := range entries {
		childRel := path.Join(rel, child.Name())
		if err := walkEntry(store, childRel, child, virtual, fn); err != nil {
			if errors.Is(err, SkipDir) {
				// SkipDir from a file entry skips the rest of the directory.
				break
			}
			return err
		}
	}
	return nil
}

// ===================
// Files and infos
// ===================

// file reports its name in the virtual namespace.
type file struct {
	billy.File
	name string
}

func (f *file) Name() string { return f.name }

type dirInfo struct {
	name    string
	modTime time.Time
}

func (d *dirInfo) Name() string       { return d.name }
func (d *dirInfo) Size() int64        { return 0 }
func (d *dirInfo) Mode() os.FileMode  { return os.ModeDir | 0755 }
func (d *dirInfo) ModTime() time.Time { return d.modTime }
func (d *dirInfo) IsDir() bool        { return true }
func (d *dirInfo) Sys() any           { return nil }
