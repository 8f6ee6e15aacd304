package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/steveyegge/versync/internal/docdb"
	"github.com/steveyegge/versync/internal/types"
)

// ErrNoActiveWorkspace is returned by operations that need an active
// workspace when none is set.
var ErrNoActiveWorkspace = errors.New("no active workspace")

func ignoreStale(err error) error {
	if errors.Is(err, ErrStaleReinitialization) {
		return nil
	}
	return err
}

func (c *Coordinator) workspace(ctx context.Context, wsID string) (*types.Workspace, error) {
	doc, err := c.db.Get(ctx, wsID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace %s: %w", wsID, err)
	}
	return types.WorkspaceFromDocument(doc)
}

// ActivateWorkspace makes wsID the active workspace and starts rebuilding
// both handles. It returns once the rebuild has started; use Wait to join
// it. Activating the already active workspace rebuilds anyway.
func (c *Coordinator) ActivateWorkspace(ctx context.Context, wsID string) error {
	if _, err := c.workspace(ctx, wsID); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.active = wsID
	c.mu.Unlock()

	c.log.Info("activating workspace", "workspace", wsID)
	c.spawn(func(ctx context.Context) { _ = c.reinitLocal(ctx, wsID) })
	c.spawn(func(ctx context.Context) { _ = c.reinitGit(ctx, wsID) })
	return nil
}

// Deactivate clears the active workspace and resets both handles.
func (c *Coordinator) Deactivate() {
	c.mu.Lock()
	c.active = ""
	c.mu.Unlock()

	c.spawn(func(ctx context.Context) { _ = c.reinitLocal(ctx, "") })
	c.spawn(func(ctx context.Context) { _ = c.reinitGit(ctx, "") })
}

// SwitchProject re-obtains the local versioned project for wsID and waits
// for it. A superseded switch returns nil.
func (c *Coordinator) SwitchProject(ctx context.Context, wsID string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return ignoreStale(c.reinitLocal(ctx, wsID))
}

// RemoveProjectsForWorkspace purges all local versioned state of wsID,
// whichever workspace is active. Calling it twice is a no-op.
func (c *Coordinator) RemoveProjectsForWorkspace(ctx context.Context, wsID string) error {
	if err := c.store.RemoveProjectsForRoot(ctx, wsID); err != nil {
		return err
	}

	c.mu.Lock()
	stale := c.project != nil && c.project.RootID() == wsID
	c.mu.Unlock()
	if stale {
		return c.SwitchProject(ctx, wsID)
	}
	return nil
}

// LinkRepository associates repo with workspace wsID, replacing any
// previous association. Both documents are written in one transaction and
// announced together. A missing repo id is generated.
func (c *Coordinator) LinkRepository(ctx context.Context, wsID string, repo *types.GitRepository) (*types.GitRepository, error) {
	if _, err := c.workspace(ctx, wsID); err != nil {
		return nil, err
	}
	linked := *repo
	if linked.ID == "" {
		linked.ID = types.NewID(types.TypeGitRepository)
	}
	if err := linked.Validate(); err != nil {
		return nil, fmt.Errorf("invalid repository: %w", err)
	}

	meta, err := c.metaDocument(ctx, wsID)
	if err != nil {
		return nil, err
	}
	meta.Set("gitRepositoryId", linked.ID)

	batch := docdb.Batch{Upserts: []*types.Document{linked.Document(), meta}}
	if err := c.db.ApplyBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to save repository: %w", err)
	}
	c.log.Info("linked repository", "workspace", wsID, "repository", linked.ID, "uri", linked.URI)
	return &linked, nil
}

// UnlinkRepository removes the remote association of wsID and its
// repository document in one transaction. Unlinking an unlinked workspace
// is a no-op.
func (c *Coordinator) UnlinkRepository(ctx context.Context, wsID string) error {
	metas, err := c.db.Find(ctx, types.TypeWorkspaceMeta, wsID)
	if err != nil {
		return fmt.Errorf("failed to load workspace meta: %w", err)
	}

	var (
		batch docdb.Batch
		repos []string
	)
	for _, d := range metas {
		meta, err := types.WorkspaceMetaFromDocument(d)
		if err != nil || meta.GitRepositoryID == "" {
			continue
		}
		cleared := d.Clone()
		cleared.Set("gitRepositoryId", nil)
		batch.Removes = append(batch.Removes, &types.Document{ID: meta.GitRepositoryID})
		batch.Upserts = append(batch.Upserts, cleared)
		repos = append(repos, meta.GitRepositoryID)
	}
	if err := c.db.ApplyBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to remove repository: %w", err)
	}
	for _, id := range repos {
		c.log.Info("unlinked repository", "workspace", wsID, "repository", id)
	}
	return nil
}

// metaDocument returns the workspace's meta document, or a new one.
func (c *Coordinator) metaDocument(ctx context.Context, wsID string) (*types.Document, error) {
	metas, err := c.db.Find(ctx, types.TypeWorkspaceMeta, wsID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace meta: %w", err)
	}
	if len(metas) > 0 {
		return metas[0].Clone(), nil
	}
	meta := &types.WorkspaceMeta{ID: types.NewID(types.TypeWorkspaceMeta), ParentID: wsID}
	return meta.Document(), nil
}

// compile-time check that the database satisfies DB
var _ DB = (*docdb.DB)(nil)
