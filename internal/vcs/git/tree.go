package git

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/steveyegge/versync/internal/vcs"
)

// entry is one file of a flattened tree.
type entry struct {
	hash plumbing.Hash
	mode filemode.FileMode
}

// files maps slash paths to entries.
type files map[string]entry

// blobs projects a flattened tree to path -> blob id for classification.
func (f files) blobs() map[string]string {
	out := make(map[string]string, len(f))
	for p, e := range f {
		out[p] = e.hash.String()
	}
	return out
}

func (f files) clone() files {
	out := make(files, len(f))
	for p, e := range f {
		out[p] = e
	}
	return out
}

// flatten lists every file reachable from commit. A nil commit is the empty
// tree.
func flatten(commit *object.Commit) (files, error) {
	out := files{}
	if commit == nil {
		return out, nil
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read tree of %s: %w", commit.Hash, err)
	}
	err = tree.Files().ForEach(func(f *object.File) error {
		out[f.Name] = entry{hash: f.Hash, mode: f.Mode}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk tree of %s: %w", commit.Hash, err)
	}
	return out, nil
}

// readBlob returns the content of a blob, or nil for the zero hash.
func readBlob(repo *gogit.Repository, h plumbing.Hash) ([]byte, error) {
	if h.IsZero() {
		return nil, nil
	}
	blob, err := repo.BlobObject(h)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", h, err)
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// writeBlob stores data and returns its id.
func writeBlob(repo *gogit.Repository, data []byte) (plumbing.Hash, error) {
	obj := repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return repo.Storer.SetEncodedObject(obj)
}

// dir is an in-memory directory while a tree is being written.
type dir struct {
	files map[string]entry
	dirs  map[string]*dir
}

func newDir() *dir {
	return &dir{files: map[string]entry{}, dirs: map[string]*dir{}}
}

// writeTree stores the nested trees for f and returns the root tree id.
func writeTree(repo *gogit.Repository, f files) (plumbing.Hash, error) {
	root := newDir()
	for p, e := range f {
		d := root
		parts := strings.Split(p, "/")
		for _, name := range parts[:len(parts)-1] {
			child, ok := d.dirs[name]
			if !ok {
				child = newDir()
				d.dirs[name] = child
			}
			d = child
		}
		d.files[parts[len(parts)-1]] = e
	}
	return root.write(repo)
}

func (d *dir) write(repo *gogit.Repository) (plumbing.Hash, error) {
	entries := make([]object.TreeEntry, 0, len(d.files)+len(d.dirs))
	for name, e := range d.files {
		entries = append(entries, object.TreeEntry{Name: name, Mode: e.mode, Hash: e.hash})
	}
	for name, child := range d.dirs {
		h, err := child.write(repo)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: h})
	}

	// Git orders entries as if directory names ended in "/".
	sort.Slice(entries, func(i, j int) bool {
		return sortName(entries[i]) < sortName(entries[j])
	})

	tree := &object.Tree{Entries: entries}
	obj := repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to encode tree: %w", err)
	}
	return repo.Storer.SetEncodedObject(obj)
}

func sortName(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}

// writeCommit stores a commit of tree with the given parents.
func writeCommit(repo *gogit.Repository, tree plumbing.Hash, sig *object.Signature, message string, parents ...plumbing.Hash) (plumbing.Hash, error) {
	c := &object.Commit{
		Author:       *sig,
		Committer:    *sig,
		Message:      message,
		TreeHash:     tree,
		ParentHashes: parents,
	}
	obj := repo.Storer.NewEncodedObject()
	if err := c.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to encode commit: %w", err)
	}
	return repo.Storer.SetEncodedObject(obj)
}

// checkout brings the worktree from one flattened tree to another, touching
// only the paths that differ between them. Nothing is written when a touched
// path holds uncommitted changes; the error wraps vcs.ErrLocalChanges.
func checkout(repo *gogit.Repository, work billy.Filesystem, from, to files) error {
	dirty, err := localChanges(work, from, to)
	if err != nil {
		return err
	}
	if len(dirty) > 0 {
		return fmt.Errorf("%w: %s", vcs.ErrLocalChanges, strings.Join(dirty, ", "))
	}

	for p := range from {
		if _, ok := to[p]; ok {
			continue
		}
		if err := work.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}

	paths := make([]string, 0, len(to))
	for p, e := range to {
		if old, ok := from[p]; ok && old == e {
			continue
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		e := to[p]
		data, err := readBlob(repo, e.hash)
		if err != nil {
			return err
		}
		if err := writeFile(work, p, data, e.mode); err != nil {
			return err
		}
	}
	return nil
}

// localChanges lists the paths checkout would touch whose worktree content
// matches neither side. A missing file counts as content.
func localChanges(work billy.Filesystem, from, to files) ([]string, error) {
	var dirty []string
	check := func(p string) error {
		cur, exists, err := worktreeHash(work, p)
		if err != nil {
			return err
		}
		matches := func(f files) bool {
			e, ok := f[p]
			return ok == exists && (!ok || e.hash == cur)
		}
		if !matches(from) && !matches(to) {
			dirty = append(dirty, p)
		}
		return nil
	}

	for p := range from {
		if _, ok := to[p]; !ok {
			if err := check(p); err != nil {
				return nil, err
			}
		}
	}
	for p, e := range to {
		if old, ok := from[p]; ok && old == e {
			continue
		}
		if err := check(p); err != nil {
			return nil, err
		}
	}
	sort.Strings(dirty)
	return dirty, nil
}

// worktreeHash returns the blob id of the worktree file p.
func worktreeHash(work billy.Filesystem, p string) (plumbing.Hash, bool, error) {
	f, err := work.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return plumbing.ZeroHash, false, nil
	}
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("failed to read %s: %w", p, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("failed to read %s: %w", p, err)
	}
	return plumbing.ComputeHash(plumbing.BlobObject, data), true, nil
}

func writeFile(work billy.Filesystem, p string, data []byte, mode filemode.FileMode) error {
	if d := path.Dir(p); d != "." {
		if err := work.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", d, err)
		}
	}
	perm, err := mode.ToOSFileMode()
	if err != nil || !perm.IsRegular() {
		perm = 0o644
	}
	f, err := work.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm.Perm())
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	return nil
}

// head returns the checked-out branch ref name and its commit. The commit is
// nil on an unborn branch.
func head(repo *gogit.Repository) (plumbing.ReferenceName, *object.Commit, error) {
	ref, err := repo.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read HEAD: %w", err)
	}
	name := ref.Name()
	if ref.Type() == plumbing.SymbolicReference {
		name = ref.Target()
	}

	resolved, err := repo.Reference(plumbing.HEAD, true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return name, nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	commit, err := repo.CommitObject(resolved.Hash())
	if err != nil {
		return "", nil, fmt.Errorf("failed to read HEAD commit: %w", err)
	}
	return name, commit, nil
}
