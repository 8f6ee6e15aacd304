// Package vcs defines the embedded version-control engine the coordinator
// drives, the process-wide handle that holds it, and the error taxonomy of
// version-control operations.
//
// # Architecture
//
// The Engine interface is deliberately narrow: initialize from a clone or
// from existing state, configure identity and remote, merge, commit and move
// history to and from the remote. Engines never touch the host filesystem
// directly; they read and write through the billy.Filesystem handed to them,
// which in practice is a routing filesystem spanning the document database
// and per-repository directories.
//
// # Usage
//
//	engine, err := vcs.NewFactory().New()
//	if err != nil {
//	    return err
//	}
//	err = engine.InitExisting(ctx, vcs.InitOptions{
//	    WorkDir:     vcs.CloneDir,
//	    FS:          fs,
//	    MetadataDir: vcs.MetadataDir,
//	})
//
// # Implementations
//
//   - internal/vcs/git: go-git engine
package vcs

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-git/go-billy/v5"

	"github.com/steveyegge/versync/internal/conflict"
)

// Type represents the engine backend type
type Type string

const (
	// TypeGit indicates the go-git engine
	TypeGit Type = "git"
)

// String returns the string representation of the engine type
func (t Type) String() string {
	return string(t)
}

// Repository layout under the per-repository root. These names are part of
// the on-disk and in-repository format and must not change.
const (
	// AppDataDir is the reserved segment holding application documents.
	AppDataDir = ".insomnia"

	// MetadataDir is the reserved segment holding the engine's own metadata.
	MetadataDir = "git"

	// OtherDir is the directory backing everything else.
	OtherDir = "other"

	// CloneDir is the work directory inside the routing filesystem.
	CloneDir = "."

	// DefaultRemote is the name of the configured remote.
	DefaultRemote = "origin"
)

//go:generate mockgen -destination=mocks/mock_engine.go -package=mocks github.com/steveyegge/versync/internal/vcs Engine

// Engine is the embedded version-control engine.
//
// Engine content is owned by exactly one Handle at a time; only the
// coordinator swaps it.
type Engine interface {
	// ===================
	// Initialization
	// ===================

	// InitFromClone clones remote history into opts.FS. Failures are
	// returned as *CloneError.
	InitFromClone(ctx context.Context, opts CloneOptions) error

	// InitExisting opens existing state in opts.FS, or initializes an empty
	// repository when no metadata exists yet. Present but unreadable
	// metadata is returned as *CorruptStateError.
	InitExisting(ctx context.Context, opts InitOptions) error

	// Initialized reports whether one of the Init methods succeeded.
	Initialized() bool

	// ===================
	// Configuration (idempotent)
	// ===================

	// SetAuthor sets the identity recorded on commits.
	SetAuthor(ctx context.Context, name, email string) error

	// AddRemote points DefaultRemote at uri.
	AddRemote(ctx context.Context, uri string) error

	// ===================
	// Merging
	// ===================

	// Merge merges ref into the current branch. Zero conflicts means the
	// merge is complete. Otherwise the merge stays pending until
	// CompleteMerge or AbortMerge.
	Merge(ctx context.Context, ref string) ([]conflict.MergeConflict, error)

	// CompleteMerge applies resolved conflicts together with the pending
	// non-conflicting changes and records the merge.
	CompleteMerge(ctx context.Context, resolved []conflict.MergeConflict) error

	// AbortMerge discards a pending merge. The worktree and history are
	// left as they were before Merge.
	AbortMerge(ctx context.Context) error

	// ===================
	// History
	// ===================

	// Commit records all pending changes and returns the new commit id.
	Commit(ctx context.Context, message string) (string, error)

	// Log returns up to limit commits reachable from HEAD, newest first.
	Log(ctx context.Context, limit int) ([]CommitInfo, error)

	// CurrentBranch returns the short name of the checked-out branch.
	CurrentBranch(ctx context.Context) (string, error)

	// ===================
	// Remote
	// ===================

	// Fetch updates remote-tracking refs.
	Fetch(ctx context.Context) error

	// Pull fetches and merges the remote-tracking branch of the current
	// branch, with the same conflict contract as Merge.
	Pull(ctx context.Context) ([]conflict.MergeConflict, error)

	// Push sends the current branch to the remote.
	Push(ctx context.Context) error

	// Close releases resources. The engine is uninitialized afterwards.
	Close() error
}

// Credentials authenticate against the remote.
type Credentials struct {
	Username string
	Token    string
}

// Empty reports whether no credentials are set.
func (c Credentials) Empty() bool {
	return c.Username == "" && c.Token == ""
}

// CloneOptions configures InitFromClone.
type CloneOptions struct {
	// URL of the remote repository
	URL string

	// Credentials for the remote, may be empty
	Credentials Credentials

	// WorkDir inside FS where the worktree lives, usually CloneDir
	WorkDir string

	// FS is the routing filesystem
	FS billy.Filesystem

	// MetadataDir inside FS for the engine's metadata
	MetadataDir string
}

// InitOptions configures InitExisting.
type InitOptions struct {
	WorkDir     string
	FS          billy.Filesystem
	MetadataDir string
}

// CommitInfo describes one commit.
type CommitInfo struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	Email   string    `json:"email"`
	When    time.Time `json:"when"`
	Parents []string  `json:"parents,omitempty"`
}

// EngineConfig is passed to engine constructors.
type EngineConfig struct {
	Logger *slog.Logger
}
