// Package git provides the go-git implementation of the vcs.Engine interface.
//
// The engine never touches the host filesystem directly. Its worktree is the
// billy.Filesystem handed to InitFromClone or InitExisting, and its object
// storage lives in the metadata directory of that same filesystem. In
// practice both are views of one routing filesystem that spans the document
// database and the per-repository directories.
package git

import (
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"github.com/steveyegge/versync/internal/vcs"
)

func init() {
	vcs.Register(vcs.TypeGit, "git repository managed in-process by go-git", New)
}

// Default identity used until SetAuthor is called.
const (
	defaultAuthorName  = "versync"
	defaultAuthorEmail = "versync@localhost"
)

// Engine implements vcs.Engine on go-git.
type Engine struct {
	log *slog.Logger

	mu      sync.Mutex
	repo    *gogit.Repository
	storage *filesystem.Storage
	fs      billy.Filesystem // routing filesystem
	work    billy.Filesystem // worktree view with metadata hidden
	url     string
	creds   vcs.Credentials
	name    string
	email   string
	pending *pendingMerge
}

var _ vcs.Engine = (*Engine)(nil)

// New returns an empty, uninitialized engine.
func New(cfg vcs.EngineConfig) (vcs.Engine, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{log: log}, nil
}

// Initialized reports whether InitFromClone or InitExisting succeeded.
func (e *Engine) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.repo != nil
}

// Close releases the object storage. The engine is uninitialized afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	if c, ok := any(e.storage).(io.Closer); ok && e.storage != nil {
		err = c.Close()
	}
	e.repo = nil
	e.storage = nil
	e.fs = nil
	e.work = nil
	e.pending = nil
	return err
}

// attach installs an opened repository. Callers hold e.mu.
func (e *Engine) attach(repo *gogit.Repository, storage *filesystem.Storage, fs, work billy.Filesystem) {
	e.repo = repo
	e.storage = storage
	e.fs = fs
	e.work = work
	e.pending = nil
}

// repository returns the open repository or vcs.ErrNotInitialized. Callers
// hold e.mu.
func (e *Engine) repository() (*gogit.Repository, error) {
	if e.repo == nil {
		return nil, vcs.ErrNotInitialized
	}
	return e.repo, nil
}

// signature returns the commit identity stamped with the current time.
func (e *Engine) signature() *object.Signature {
	name, email := e.name, e.email
	if name == "" {
		name = defaultAuthorName
	}
	if email == "" {
		email = defaultAuthorEmail
	}
	return &object.Signature{Name: name, Email: email, When: time.Now()}
}

// newStorage opens object storage in the metadata directory of fs.
func newStorage(fs billy.Filesystem, metadataDir string) (*filesystem.Storage, error) {
	meta, err := fs.Chroot(metadataDir)
	if err != nil {
		return nil, err
	}
	return filesystem.NewStorage(meta, cache.NewObjectLRUDefault()), nil
}

// workTree returns the view of fs that go-git treats as the worktree.
func workTree(fs billy.Filesystem, workDir, metadataDir string) (billy.Filesystem, error) {
	work := fs
	if workDir != "" && workDir != vcs.CloneDir {
		var err error
		if work, err = fs.Chroot(workDir); err != nil {
			return nil, err
		}
	}
	return &hiddenDirs{Filesystem: work, hidden: []string{metadataDir, gogit.GitDirName}}, nil
}

// hiddenDirs drops top-level entries from directory listings so the
// metadata directory never shows up in worktree status or commits.
type hiddenDirs struct {
	billy.Filesystem
	hidden []string
}

func (h *hiddenDirs) ReadDir(p string) ([]os.FileInfo, error) {
	infos, err := h.Filesystem.ReadDir(p)
	if err != nil || strings.Trim(path.Clean("/"+p), "/") != "" {
		return infos, err
	}

	out := infos[:0]
	for _, fi := range infos {
		if !h.isHidden(fi.Name()) {
			out = append(out, fi)
		}
	}
	return out, nil
}

func (h *hiddenDirs) isHidden(name string) bool {
	for _, n := range h.hidden {
		if n == name {
			return true
		}
	}
	return false
}
