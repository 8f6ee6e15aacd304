// Package docfs exposes the documents of one workspace as a billy.Filesystem.
//
// The layout is <Type>/<id>.yml at the filesystem root. Reads render the
// current database document as YAML; writes are parsed on Close and upserted
// with sync origin, so the rest of the application sees them as changes that
// arrived from version control. Documents outside the workspace tree are
// invisible.
package docfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/versync/internal/docdb"
	"github.com/steveyegge/versync/internal/types"
)

const ext = ".yml"

// Store is the part of the document database the filesystem needs.
type Store interface {
	Get(ctx context.Context, id string) (*types.Document, error)
	Upsert(ctx context.Context, doc *types.Document) (*types.Document, error)
	Remove(ctx context.Context, id string) error
	WithDescendants(ctx context.Context, rootID string, docTypes ...string) ([]*types.Document, error)
}

// FS is a billy.Filesystem over one workspace's documents.
type FS struct {
	store  Store
	rootID string
	ctx    context.Context

	mu   sync.Mutex
	dirs map[string]bool // type directories created before any document
}

var _ billy.Filesystem = (*FS)(nil)

// New returns a filesystem scoped to the workspace rootID. Writes use ctx
// marked with sync origin.
func New(ctx context.Context, store Store, rootID string) *FS {
	return &FS{
		store:  store,
		rootID: rootID,
		ctx:    docdb.WithSyncOrigin(ctx),
		dirs:   make(map[string]bool),
	}
}

// Encode renders a document the way it is stored in a repository.
func Encode(doc *types.Document) ([]byte, error) {
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", doc.ID, err)
	}
	return out, nil
}

// Decode parses a document rendered by Encode.
func Decode(data []byte) (*types.Document, error) {
	var doc types.Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}
	return &doc, nil
}

// location is a parsed path: root, a type directory, or a document file.
type location struct {
	docType string
	id      string
}

func (l location) isRoot() bool { return l.docType == "" }
func (l location) isDir() bool  { return l.docType != "" && l.id == "" }

func parse(name string) (location, error) {
	clean := strings.Trim(path.Clean("/"+filepath.ToSlash(name)), "/")
	if clean == "" {
		return location{}, nil
	}
	parts := strings.Split(clean, "/")
	switch len(parts) {
	case 1:
		return location{docType: parts[0]}, nil
	case 2:
		if !strings.HasSuffix(parts[1], ext) || len(parts[1]) == len(ext) {
			return location{}, os.ErrNotExist
		}
		return location{docType: parts[0], id: strings.TrimSuffix(parts[1], ext)}, nil
	default:
		return location{}, os.ErrNotExist
	}
}

func pathErr(op, name string, err error) error {
	return &os.PathError{Op: op, Path: name, Err: err}
}

// tree returns the workspace documents, or nothing if the workspace does not
// exist yet.
func (fs *FS) tree() ([]*types.Document, error) {
	docs, err := fs.store.WithDescendants(fs.ctx, fs.rootID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace documents: %w", err)
	}
	return docs, nil
}

func (fs *FS) lookup(loc location) (*types.Document, error) {
	docs, err := fs.tree()
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		if d.ID == loc.id && d.Type == loc.docType {
			return d, nil
		}
	}
	return nil, os.ErrNotExist
}

// ===================
// billy.Basic
// ===================

func (fs *FS) Create(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
}

func (fs *FS) Open(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDONLY, 0)
}

func (fs *FS) OpenFile(filename string, flag int, _ os.FileMode) (billy.File, error) {
	loc, err := parse(filename)
	if err != nil {
		return nil, pathErr("open", filename, err)
	}
	if loc.isRoot() || loc.isDir() {
		return nil, pathErr("open", filename, errors.New("is a directory"))
	}

	writable := flag&(os.O_WRONLY|os.O_RDWR) != 0
	existing, err := fs.lookup(loc)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if flag&os.O_CREATE == 0 {
			return nil, pathErr("open", filename, os.ErrNotExist)
		}
	case err != nil:
		return nil, pathErr("open", filename, err)
	case flag&os.O_EXCL != 0 && flag&os.O_CREATE != 0:
		return nil, pathErr("open", filename, os.ErrExist)
	}

	f := &file{name: filename, writable: writable}
	if existing != nil && flag&os.O_TRUNC == 0 {
		if f.data, err = Encode(existing); err != nil {
			return nil, pathErr("open", filename, err)
		}
	}
	if writable {
		f.commit = func(data []byte) error { return fs.commit(filename, loc, data) }
		if flag&os.O_APPEND != 0 {
			f.pos = int64(len(f.data))
		}
	}
	return f, nil
}

// commit stores the content written to a document file.
func (fs *FS) commit(filename string, loc location, data []byte) error {
	doc, err := Decode(data)
	if err != nil {
		return pathErr("write", filename, err)
	}
	if doc.ID != loc.id || doc.Type != loc.docType {
		return pathErr("write", filename,
			fmt.Errorf("document %s/%s does not match its path", doc.Type, doc.ID))
	}
	if _, err := fs.store.Upsert(fs.ctx, doc); err != nil {
		return pathErr("write", filename, err)
	}
	return nil
}

func (fs *FS) Stat(filename string) (os.FileInfo, error) {
	loc, err := parse(filename)
	if err != nil {
		return nil, pathErr("stat", filename, err)
	}
	if loc.isRoot() {
		return &fileInfo{name: "/", dir: true}, nil
	}

	docs, err := fs.tree()
	if err != nil {
		return nil, pathErr("stat", filename, err)
	}

	if loc.isDir() {
		var mod time.Time
		found := false
		for _, d := range docs {
			if d.Type == loc.docType {
				found = true
				if d.Modified.After(mod) {
					mod = d.Modified
				}
			}
		}
		fs.mu.Lock()
		created := fs.dirs[loc.docType]
		fs.mu.Unlock()
		if !found && !created {
			return nil, pathErr("stat", filename, os.ErrNotExist)
		}
		return &fileInfo{name: loc.docType, dir: true, modTime: mod}, nil
	}

	for _, d := range docs {
		if d.ID == loc.id && d.Type == loc.docType {
			data, err := Encode(d)
			if err != nil {
				return nil, pathErr("stat", filename, err)
			}
			return &fileInfo{name: d.Filename(), size: int64(len(data)), modTime: d.Modified}, nil
		}
	}
	return nil, pathErr("stat", filename, os.ErrNotExist)
}

func (fs *FS) Rename(oldpath, _ string) error {
	return pathErr("rename", oldpath, billy.ErrNotSupported)
}

func (fs *FS) Remove(filename string) error {
	loc, err := parse(filename)
	if err != nil {
		return pathErr("remove", filename, err)
	}
	if loc.isRoot() {
		return pathErr("remove", filename, os.ErrPermission)
	}
	if loc.isDir() {
		fs.mu.Lock()
		delete(fs.dirs, loc.docType)
		fs.mu.Unlock()
		return nil
	}
	if _, err := fs.lookup(loc); err != nil {
		return pathErr("remove", filename, err)
	}
	if err := fs.store.Remove(fs.ctx, loc.id); err != nil {
		return pathErr("remove", filename, err)
	}
	return nil
}

func (fs *FS) Join(elem ...string) string {
	return path.Join(elem...)
}

// ===================
// billy.Dir
// ===================

func (fs *FS) ReadDir(dirname string) ([]os.FileInfo, error) {
	loc, err := parse(dirname)
	if err != nil {
		return nil, pathErr("readdir", dirname, err)
	}
	if !loc.isRoot() && !loc.isDir() {
		return nil, pathErr("readdir", dirname, errors.New("not a directory"))
	}

	docs, err := fs.tree()
	if err != nil {
		return nil, pathErr("readdir", dirname, err)
	}

	if loc.isRoot() {
		seen := make(map[string]bool)
		fs.mu.Lock()
		for t := range fs.dirs {
			seen[t] = true
		}
		fs.mu.Unlock()
		for _, d := range docs {
			seen[d.Type] = true
		}
		names := make([]string, 0, len(seen))
		for t := range seen {
			names = append(names, t)
		}
		sort.Strings(names)
		infos := make([]os.FileInfo, len(names))
		for i, n := range names {
			infos[i] = &fileInfo{name: n, dir: true}
		}
		return infos, nil
	}

	var matched []*types.Document
	for _, d := range docs {
		if d.Type == loc.docType {
			matched = append(matched, d)
		}
	}
	types.SortByID(matched)

	infos := make([]os.FileInfo, 0, len(matched))
	for _, d := range matched {
		data, err := Encode(d)
		if err != nil {
			return nil, pathErr("readdir", dirname, err)
		}
		infos = append(infos, &fileInfo{name: d.Filename(), size: int64(len(data)), modTime: d.Modified})
	}
	return infos, nil
}

func (fs *FS) MkdirAll(filename string, _ os.FileMode) error {
	loc, err := parse(filename)
	if err != nil {
		return pathErr("mkdir", filename, err)
	}
	if loc.isRoot() {
		return nil
	}
	if !loc.isDir() {
		return pathErr("mkdir", filename, os.ErrInvalid)
	}
	fs.mu.Lock()
	fs.dirs[loc.docType] = true
	fs.mu.Unlock()
	return nil
}

// ===================
// billy.TempFile, billy.Symlink, billy.Chroot
// ===================

func (fs *FS) TempFile(dir, _ string) (billy.File, error) {
	return nil, pathErr("tempfile", dir, billy.ErrNotSupported)
}

func (fs *FS) Lstat(filename string) (os.FileInfo, error) {
	return fs.Stat(filename)
}

func (fs *FS) Symlink(_, link string) error {
	return pathErr("symlink", link, billy.ErrNotSupported)
}

func (fs *FS) Readlink(link string) (string, error) {
	return "", pathErr("readlink", link, billy.ErrNotSupported)
}

func (fs *FS) Chroot(p string) (billy.Filesystem, error) {
	return chroot.New(fs, p), nil
}

func (fs *FS) Root() string {
	return "/"
}
