package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/steveyegge/versync/internal/docdb"
	"github.com/steveyegge/versync/internal/docfs"
	"github.com/steveyegge/versync/internal/localvcs"
	"github.com/steveyegge/versync/internal/routefs"
	"github.com/steveyegge/versync/internal/types"
	"github.com/steveyegge/versync/internal/vcs"
)

// association loads the workspace wsID and its remote association. Either
// result may be nil: an empty id or a deleted workspace yields no workspace,
// a workspace without a linked repository yields no repository.
func (c *Coordinator) association(ctx context.Context, wsID string) (*types.Workspace, *types.Document, error) {
	if wsID == "" {
		return nil, nil, nil
	}
	doc, err := c.db.Get(ctx, wsID)
	if errors.Is(err, docdb.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load workspace %s: %w", wsID, err)
	}
	ws, err := types.WorkspaceFromDocument(doc)
	if err != nil {
		return nil, nil, err
	}

	metas, err := c.db.Find(ctx, types.TypeWorkspaceMeta, wsID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load workspace meta: %w", err)
	}
	for _, d := range metas {
		meta, err := types.WorkspaceMetaFromDocument(d)
		if err != nil || meta.GitRepositoryID == "" {
			continue
		}
		repoDoc, err := c.db.Get(ctx, meta.GitRepositoryID)
		if errors.Is(err, docdb.ErrNotFound) {
			c.log.Warn("workspace links a missing repository", "workspace", wsID, "repository", meta.GitRepositoryID)
			return ws, nil, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load repository %s: %w", meta.GitRepositoryID, err)
		}
		return ws, repoDoc, nil
	}
	return ws, nil, nil
}

// filesystem builds a fresh routing filesystem for one repository. It is
// never reused across reinitializations.
func (c *Coordinator) filesystem(wsID, repoID string) (billy.Filesystem, error) {
	root := c.repoDir(repoID)
	other := filepath.Join(root, vcs.OtherDir)
	metadata := filepath.Join(root, vcs.MetadataDir)
	for _, dir := range []string{other, metadata} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	return routefs.New(osfs.New(other), map[string]billy.Filesystem{
		vcs.AppDataDir:  docfs.New(c.ctx, c.db, wsID),
		vcs.MetadataDir: osfs.New(metadata),
	}), nil
}

// reinitGit rebuilds the git handle's content for workspace wsID.
//
//  1. mint a token
//  2. publish the handle as unavailable
//  3. build fresh content; the handle object itself is kept
//  4. with a workspace and a repository: clone (consuming NeedsFullClone) or
//     open existing state, then set author and remote
//  5. otherwise leave the fresh content uninitialized
//  6. publish iff the token is still the latest
func (c *Coordinator) reinitGit(ctx context.Context, wsID string) error {
	token := c.gitTokens.mint()
	log := c.log.With("handle", "git", "workspace", wsID, "token", token)

	c.mu.Lock()
	if !c.gitTokens.isLatest(token) {
		c.mu.Unlock()
		return ErrStaleReinitialization
	}
	prev := c.handle.Reset()
	c.gitState = StateInitializing
	c.mu.Unlock()

	if err := c.handle.Retire(prev); err != nil {
		log.Warn("failed to close previous engine", "error", err)
	}

	ws, repoDoc, err := c.association(ctx, wsID)
	if err != nil {
		return c.failGit(token, wsID, err)
	}
	var repo *types.GitRepository
	if repoDoc != nil {
		if repo, err = types.GitRepositoryFromDocument(repoDoc); err != nil {
			return c.failGit(token, wsID, err)
		}
	}

	c.mu.Lock()
	if !c.gitTokens.isLatest(token) {
		c.mu.Unlock()
		log.Debug("discarding superseded reinitialization")
		return ErrStaleReinitialization
	}
	c.repo = repo
	c.mu.Unlock()

	engine, err := c.factory.New()
	if err != nil {
		return c.failGit(token, wsID, err)
	}

	if ws != nil && repo != nil {
		if err := c.initEngine(ctx, engine, ws, repo, repoDoc); err != nil {
			if closeErr := engine.Close(); closeErr != nil {
				log.Warn("failed to close engine", "error", closeErr)
			}
			return c.failGit(token, wsID, err)
		}
	}

	c.mu.Lock()
	if !c.gitTokens.isLatest(token) {
		c.mu.Unlock()
		log.Debug("discarding superseded reinitialization")
		if err := engine.Close(); err != nil {
			log.Warn("failed to close superseded engine", "error", err)
		}
		return ErrStaleReinitialization
	}
	c.handle.Swap(engine)
	if engine.Initialized() {
		c.gitState = StateReady
	} else {
		c.gitState = StateUninitialized
	}
	c.mu.Unlock()

	if repo != nil {
		log.Info("git handle ready", "repository", repo.ID, "uri", repo.URI)
	} else {
		log.Info("git handle reset, no repository linked")
	}
	return nil
}

func (c *Coordinator) initEngine(ctx context.Context, engine vcs.Engine, ws *types.Workspace, repo *types.GitRepository, repoDoc *types.Document) error {
	fs, err := c.filesystem(ws.ID, repo.ID)
	if err != nil {
		return err
	}

	if repo.NeedsFullClone {
		// Cleared before cloning so a failed clone is not retried as a
		// full clone until the association is flagged again.
		cleared := repoDoc.Clone()
		cleared.Set("needsFullClone", false)
		if _, err := c.db.Upsert(ctx, cleared); err != nil {
			return fmt.Errorf("failed to clear needsFullClone: %w", err)
		}
		err = engine.InitFromClone(ctx, vcs.CloneOptions{
			URL:         repo.URI,
			Credentials: vcs.Credentials{Username: repo.Credentials.Username, Token: repo.Credentials.Token},
			WorkDir:     vcs.CloneDir,
			FS:          fs,
			MetadataDir: vcs.MetadataDir,
		})
	} else {
		err = engine.InitExisting(ctx, vcs.InitOptions{
			WorkDir:     vcs.CloneDir,
			FS:          fs,
			MetadataDir: vcs.MetadataDir,
		})
	}
	if err != nil {
		return err
	}

	if err := engine.SetAuthor(ctx, repo.Author.Name, repo.Author.Email); err != nil {
		return fmt.Errorf("failed to set author: %w", err)
	}
	if err := engine.AddRemote(ctx, repo.URI); err != nil {
		return fmt.Errorf("failed to add remote: %w", err)
	}
	return nil
}

// failGit records a failed attempt. Only the latest attempt is reported;
// the handle already shows as unavailable.
func (c *Coordinator) failGit(token LockToken, wsID string, err error) error {
	c.mu.Lock()
	if !c.gitTokens.isLatest(token) {
		c.mu.Unlock()
		return ErrStaleReinitialization
	}
	c.gitState = StateFailed
	c.mu.Unlock()

	if c.ctx.Err() != nil {
		return err
	}
	c.log.Error("git reinitialization failed", "workspace", wsID, "error", err)
	c.notify(Notification{
		Handle:      "git",
		WorkspaceID: wsID,
		Message:     fmt.Sprintf("version control unavailable: %v", err),
		Err:         err,
	})
	return err
}

// reinitLocal re-obtains the versioned project of workspace wsID with the
// same token discipline as reinitGit.
func (c *Coordinator) reinitLocal(ctx context.Context, wsID string) error {
	token := c.localTokens.mint()
	log := c.log.With("handle", "local", "workspace", wsID, "token", token)

	c.mu.Lock()
	if !c.localTokens.isLatest(token) {
		c.mu.Unlock()
		return ErrStaleReinitialization
	}
	c.project = nil
	c.localState = StateInitializing
	c.mu.Unlock()

	ws, _, err := c.association(ctx, wsID)
	if err != nil {
		return c.failLocal(token, wsID, err)
	}

	var project *localvcs.Project
	if ws != nil {
		p, err := c.store.ProjectForRoot(ctx, ws.ID, ws.Name)
		if err != nil {
			return c.failLocal(token, wsID, err)
		}
		project = p
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.localTokens.isLatest(token) {
		log.Debug("discarding superseded reinitialization")
		return ErrStaleReinitialization
	}
	c.project = project
	if project != nil {
		c.localState = StateReady
		log.Info("local project ready", "project", project.ID())
	} else {
		c.localState = StateUninitialized
	}
	return nil
}

func (c *Coordinator) failLocal(token LockToken, wsID string, err error) error {
	c.mu.Lock()
	if !c.localTokens.isLatest(token) {
		c.mu.Unlock()
		return ErrStaleReinitialization
	}
	c.localState = StateFailed
	c.mu.Unlock()

	if c.ctx.Err() != nil {
		return err
	}
	c.log.Error("local reinitialization failed", "workspace", wsID, "error", err)
	c.notify(Notification{
		Handle:      "local",
		WorkspaceID: wsID,
		Message:     fmt.Sprintf("local history unavailable: %v", err),
		Err:         err,
	})
	return err
}
