// Package localvcs is the local, content-addressed version history kept for
// each workspace.
//
// Every workspace (the root document) owns at most one backend project. A
// project records snapshots of the workspace's documents on named branches;
// document contents are stored once as blobs addressed by their BLAKE3 hash.
//
// Layout under the driver:
//
//	projects/<id>/meta.json
//	projects/<id>/head.json
//	projects/<id>/branches/<name>.json
//	projects/<id>/snapshots/<snapshot id>.json
//	projects/<id>/blobs/<first 2 hex>/<rest>
package localvcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/versync/internal/conflict"
)

// DefaultBranch is the branch every project starts on.
const DefaultBranch = "master"

const projectsPrefix = "projects"

var (
	// ErrProjectNotFound is returned for an unknown project id.
	ErrProjectNotFound = errors.New("project not found")

	// ErrBranchNotFound is returned for an unknown branch.
	ErrBranchNotFound = errors.New("branch not found")

	// ErrBranchExists is returned by Fork when the name is taken.
	ErrBranchExists = errors.New("branch already exists")

	// ErrNoChanges is returned by Snapshot when the state equals the tip.
	ErrNoChanges = errors.New("no changes to snapshot")

	// ErrInvalidName is returned for empty or path-like branch names.
	ErrInvalidName = errors.New("invalid branch name")
)

// ProjectMeta identifies a backend project.
type ProjectMeta struct {
	ID      string    `json:"id"`
	RootID  string    `json:"rootDocumentId"`
	Name    string    `json:"name"`
	Created time.Time `json:"created"`
}

// Store manages the backend projects kept by one driver.
type Store struct {
	driver   Driver
	resolver conflict.Resolver
	log      *slog.Logger

	mu sync.Mutex // serializes find-or-create and removal

	// One live Project per id, so its lock and conflict slot are shared by
	// every caller that opens it.
	liveMu sync.Mutex
	live   map[string]*Project
}

// Option configures a Store.
type Option func(*Store)

// WithResolver sets the resolver used for merge conflicts of every project.
func WithResolver(r conflict.Resolver) Option {
	return func(s *Store) { s.resolver = r }
}

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// NewStore returns a store over driver.
func NewStore(driver Driver, opts ...Option) *Store {
	s := &Store{driver: driver, log: slog.Default(), live: make(map[string]*Project)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func projectKey(id string, parts ...string) string {
	return path.Join(append([]string{projectsPrefix, id}, parts...)...)
}

// ProjectForRoot returns the project of the workspace rootID, creating it
// on the default branch if none exists.
func (s *Store) ProjectForRoot(ctx context.Context, rootID, name string) (*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	metas, err := s.projectsForRoot(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if len(metas) > 0 {
		return s.open(metas[0]), nil
	}

	meta := ProjectMeta{
		ID:      "prj_" + uuid.NewString(),
		RootID:  rootID,
		Name:    name,
		Created: time.Now().UTC(),
	}
	if err := s.putJSON(ctx, projectKey(meta.ID, "meta.json"), meta); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	if err := s.putJSON(ctx, projectKey(meta.ID, "branches", DefaultBranch+".json"), branch{Name: DefaultBranch, Created: meta.Created}); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	if err := s.putJSON(ctx, projectKey(meta.ID, "head.json"), headRef{Branch: DefaultBranch}); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	s.log.Info("created backend project", "project", meta.ID, "root", rootID)
	return s.open(meta), nil
}

// Project opens a project by id.
func (s *Store) Project(ctx context.Context, id string) (*Project, error) {
	var meta ProjectMeta
	if err := s.getJSON(ctx, projectKey(id, "meta.json"), &meta); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
		}
		return nil, err
	}
	return s.open(meta), nil
}

// Projects lists every project, ordered by id.
func (s *Store) Projects(ctx context.Context) ([]ProjectMeta, error) {
	ids, err := s.driver.List(ctx, projectsPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	out := make([]ProjectMeta, 0, len(ids))
	for _, id := range ids {
		var meta ProjectMeta
		if err := s.getJSON(ctx, projectKey(id, "meta.json"), &meta); err != nil {
			if errors.Is(err, ErrKeyNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, meta)
	}
	return out, nil
}

// ProjectsForRoot lists the projects of the workspace rootID.
func (s *Store) ProjectsForRoot(ctx context.Context, rootID string) ([]ProjectMeta, error) {
	return s.projectsForRoot(ctx, rootID)
}

func (s *Store) projectsForRoot(ctx context.Context, rootID string) ([]ProjectMeta, error) {
	all, err := s.Projects(ctx)
	if err != nil {
		return nil, err
	}
	var out []ProjectMeta
	for _, m := range all {
		if m.RootID == rootID {
			out = append(out, m)
		}
	}
	return out, nil
}

// RemoveProjectsForRoot deletes every project of the workspace rootID.
// Removing a workspace without projects is a no-op.
func (s *Store) RemoveProjectsForRoot(ctx context.Context, rootID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metas, err := s.projectsForRoot(ctx, rootID)
	if err != nil {
		return err
	}
	for _, m := range metas {
		if err := s.driver.RemoveAll(ctx, projectKey(m.ID)); err != nil {
			return fmt.Errorf("failed to remove project %s: %w", m.ID, err)
		}
		s.liveMu.Lock()
		delete(s.live, m.ID)
		s.liveMu.Unlock()
		s.log.Info("removed backend project", "project", m.ID, "root", rootID)
	}
	return nil
}

func (s *Store) open(meta ProjectMeta) *Project {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()

	if p, ok := s.live[meta.ID]; ok {
		return p
	}
	p := &Project{
		store:     s,
		meta:      meta,
		conflicts: conflict.NewChannel(s.resolver),
	}
	s.live[meta.ID] = p
	return p
}

func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.driver.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return s.driver.Put(ctx, key, data)
}
