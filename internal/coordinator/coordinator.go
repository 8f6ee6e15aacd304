// Package coordinator keeps the version-control state of the active workspace
// in step with the document database.
//
// The coordinator owns two handles: the local versioned project of the active
// workspace and the process-wide git engine handle. Whenever the active
// workspace or its remote association changes, both are reinitialized. Every
// reinitialization mints a LockToken; only the attempt holding the latest
// token when it completes is published, older completions are discarded.
//
// Reinitialization I/O never runs under the coordinator mutex. The mutex
// guards the token comparison together with publication, so a stale attempt
// can never overwrite a newer one.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/steveyegge/versync/internal/conflict"
	"github.com/steveyegge/versync/internal/docdb"
	"github.com/steveyegge/versync/internal/docfs"
	"github.com/steveyegge/versync/internal/localvcs"
	"github.com/steveyegge/versync/internal/types"
	"github.com/steveyegge/versync/internal/vcs"
)

// ErrStaleReinitialization is returned internally by a reinitialization that
// was superseded by a newer one. It is never surfaced to users.
var ErrStaleReinitialization = errors.New("reinitialization superseded")

// ErrClosed is returned by operations on a closed coordinator.
var ErrClosed = errors.New("coordinator is closed")

// LockToken identifies one reinitialization attempt.
type LockToken uint64

// tokenSource mints tokens and remembers the latest one.
type tokenSource struct {
	latest atomic.Uint64
}

func (s *tokenSource) mint() LockToken {
	return LockToken(s.latest.Add(1))
}

func (s *tokenSource) isLatest(t LockToken) bool {
	return uint64(t) == s.latest.Load()
}

// State is the lifecycle state of one handle.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateTornDown:
		return "torn-down"
	default:
		return "unknown"
	}
}

// MarshalText lets states appear as strings in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DB is the part of the document database the coordinator needs.
type DB interface {
	docdb.ChangeBus
	docfs.Store
	Find(ctx context.Context, docType, parentID string) ([]*types.Document, error)
}

// EngineFactory creates empty engine content. *vcs.Factory implements it.
type EngineFactory interface {
	New() (vcs.Engine, error)
}

// Config holds configuration for the coordinator.
type Config struct {
	// DataDir is the stable data directory. Repositories live under
	// <DataDir>/version-control/git/<repository id>.
	DataDir string

	// Author is recorded on local snapshots.
	Author string

	// Logger for coordinator activity
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: ".",
		Author:  "versync",
		Logger:  slog.Default().With("component", "coordinator"),
	}
}

// Notification is a user-visible report about a reinitialization.
type Notification struct {
	Time        time.Time `json:"time"`
	Handle      string    `json:"handle"` // "git" or "local"
	WorkspaceID string    `json:"workspaceId,omitempty"`
	Message     string    `json:"message"`

	// Retryable is set for failures the user may simply retry.
	Retryable bool `json:"retryable"`

	// ActionRequired is set for failures that need manual repair.
	ActionRequired bool `json:"actionRequired"`

	Err error `json:"-"`
}

// Status is a snapshot of the coordinator's state.
type Status struct {
	WorkspaceID  string `json:"workspaceId,omitempty"`
	RepositoryID string `json:"repositoryId,omitempty"`
	Git          State  `json:"git"`
	Local        State  `json:"local"`
	Generation   uint64 `json:"generation"`
	ProjectID    string `json:"projectId,omitempty"`
}

// Coordinator drives version control for the active workspace.
type Coordinator struct {
	db      DB
	store   *localvcs.Store
	factory EngineFactory
	handle  *vcs.Handle
	config  *Config
	log     *slog.Logger

	gitTokens   tokenSource
	localTokens tokenSource

	mu         sync.Mutex
	active     string               // active workspace id
	repo       *types.GitRepository // association the git handle was built from
	project    *localvcs.Project
	gitState   State
	localState State
	closed     bool

	notifyMu  sync.Mutex
	notifiers map[int]func(Notification)
	nextNote  int

	sub docdb.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a coordinator and subscribes it to db's change bus. Merges on
// the git handle are resolved by resolver; local merges use the resolver the
// store was built with.
//
// The caller MUST call Close() when done.
func New(db DB, store *localvcs.Store, factory EngineFactory, resolver conflict.Resolver, config *Config) (*Coordinator, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if factory == nil {
		return nil, fmt.Errorf("factory cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.Author == "" {
		config.Author = DefaultConfig().Author
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		db:        db,
		store:     store,
		factory:   factory,
		handle:    vcs.NewHandle(resolver),
		config:    config,
		log:       config.Logger,
		notifiers: make(map[int]func(Notification)),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.sub = db.Subscribe(c.handleChanges)
	return c, nil
}

// Git returns the process-wide engine handle. It is never nil; its content
// is empty while a reinitialization is in flight.
func (c *Coordinator) Git() *vcs.Handle {
	return c.handle
}

// Local returns the versioned project of the active workspace, or nil while
// unavailable.
func (c *Coordinator) Local() *localvcs.Project {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.project
}

// ActiveWorkspace returns the active workspace id, or "".
func (c *Coordinator) ActiveWorkspace() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Status reports the current state of both handles.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		WorkspaceID: c.active,
		Git:         c.gitState,
		Local:       c.localState,
		Generation:  c.handle.Generation(),
	}
	if c.repo != nil {
		s.RepositoryID = c.repo.ID
	}
	if c.project != nil {
		s.ProjectID = c.project.ID()
	}
	return s
}

// OnNotify registers fn for reinitialization notifications. The returned
// function removes it.
func (c *Coordinator) OnNotify(fn func(Notification)) (cancel func()) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	id := c.nextNote
	c.nextNote++
	c.notifiers[id] = fn
	return func() {
		c.notifyMu.Lock()
		delete(c.notifiers, id)
		c.notifyMu.Unlock()
	}
}

func (c *Coordinator) notify(n Notification) {
	n.Time = time.Now().UTC()
	if n.Err != nil {
		n.Retryable = vcs.IsRetryable(n.Err)
		n.ActionRequired = vcs.IsUserActionRequired(n.Err)
	}

	c.notifyMu.Lock()
	fns := make([]func(Notification), 0, len(c.notifiers))
	for _, fn := range c.notifiers {
		fns = append(fns, fn)
	}
	c.notifyMu.Unlock()

	for _, fn := range fns {
		fn(n)
	}
}

// spawn runs fn in a tracked goroutine unless the coordinator is closed.
func (c *Coordinator) spawn(fn func(ctx context.Context)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(c.ctx)
	}()
	return true
}

// Wait blocks until every in-flight reinitialization and teardown has
// finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close unsubscribes from the change bus, waits for in-flight work and
// releases the engine. Calling Close twice is a no-op.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.db.Unsubscribe(c.sub)
	c.cancel()
	c.wg.Wait()

	c.gitTokens.mint()
	c.localTokens.mint()

	c.mu.Lock()
	c.project = nil
	c.repo = nil
	c.gitState = StateTornDown
	c.localState = StateTornDown
	prev := c.handle.Reset()
	c.mu.Unlock()

	return c.handle.Retire(prev)
}

func (c *Coordinator) repoDir(repoID string) string {
	return filepath.Join(c.config.DataDir, "version-control", "git", repoID)
}
