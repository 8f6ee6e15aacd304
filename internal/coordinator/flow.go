package coordinator

import (
	"context"
	"fmt"

	"github.com/steveyegge/versync/internal/docdb"
	"github.com/steveyegge/versync/internal/docfs"
	"github.com/steveyegge/versync/internal/localvcs"
	"github.com/steveyegge/versync/internal/types"
	"github.com/steveyegge/versync/internal/vcs"
)

// ===================
// Local history
// ===================

func (c *Coordinator) local() (*localvcs.Project, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return nil, ErrClosed
	case c.project != nil:
		return c.project, nil
	case c.localState == StateInitializing:
		return nil, vcs.ErrUnavailable
	case c.active == "":
		return nil, ErrNoActiveWorkspace
	default:
		return nil, vcs.ErrNotInitialized
	}
}

// Snapshot records the active workspace's documents on the current branch.
// It returns localvcs.ErrNoChanges when nothing changed since the tip.
func (c *Coordinator) Snapshot(ctx context.Context, message string) (*localvcs.Snapshot, error) {
	p, err := c.local()
	if err != nil {
		return nil, err
	}

	docs, err := c.db.WithDescendants(ctx, p.RootID())
	if err != nil {
		return nil, err
	}
	entries := make([]localvcs.Entry, 0, len(docs))
	for _, doc := range docs {
		content, err := docfs.Encode(doc)
		if err != nil {
			return nil, err
		}
		name := doc.String("name")
		if name == "" {
			name = doc.Type
		}
		entries = append(entries, localvcs.Entry{Key: doc.ID, Name: name, Content: content})
	}

	snap, err := p.Snapshot(ctx, message, c.config.Author, entries)
	if err != nil {
		return nil, err
	}
	c.log.Info("recorded snapshot", "project", p.ID(), "snapshot", snap.ID, "documents", len(entries))
	return snap, nil
}

// History returns recent snapshots of the current branch, newest first.
func (c *Coordinator) History(ctx context.Context, limit int) ([]localvcs.Snapshot, error) {
	p, err := c.local()
	if err != nil {
		return nil, err
	}
	return p.History(ctx, limit)
}

// ForkBranch creates a branch at the tip of the current one.
func (c *Coordinator) ForkBranch(ctx context.Context, name string) error {
	p, err := c.local()
	if err != nil {
		return err
	}
	return p.Fork(ctx, name)
}

// CheckoutBranch switches the local project to branch and brings the
// database in line with it.
func (c *Coordinator) CheckoutBranch(ctx context.Context, branch string) error {
	p, err := c.local()
	if err != nil {
		return err
	}
	_, err = p.Checkout(ctx, branch, c.apply)
	return err
}

// MergeBranch merges branch into the current one. Conflicts go to the
// project's conflict channel and the call blocks until they are answered;
// a cancelled resolution leaves both the history and the database
// untouched. The merged documents are written with sync origin before the
// branch tip moves, so a rejected batch leaves the history unmerged too.
func (c *Coordinator) MergeBranch(ctx context.Context, branch string) (*localvcs.Snapshot, error) {
	p, err := c.local()
	if err != nil {
		return nil, err
	}
	res, err := p.Merge(ctx, branch, c.config.Author, c.apply)
	if err != nil {
		return nil, err
	}
	return res.Snapshot, nil
}

// apply writes delta to the database as one batch marked as sync origin.
func (c *Coordinator) apply(ctx context.Context, delta localvcs.Delta) error {
	if delta.Empty() {
		return nil
	}
	var batch docdb.Batch
	for _, e := range delta.Removes {
		batch.Removes = append(batch.Removes, &types.Document{ID: e})
	}
	for _, e := range delta.Upserts {
		doc, err := docfs.Decode(e.Content)
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", e.Key, err)
		}
		batch.Upserts = append(batch.Upserts, doc)
	}
	return c.db.ApplyBatch(docdb.WithSyncOrigin(ctx), batch)
}

// ===================
// Git
// ===================

func (c *Coordinator) git() (*vcs.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return nil, ErrClosed
	case c.gitState == StateInitializing:
		return nil, vcs.ErrUnavailable
	}
	return c.handle, nil
}

// Commit records the workspace's current documents in the repository.
func (c *Coordinator) Commit(ctx context.Context, message string) (string, error) {
	h, err := c.git()
	if err != nil {
		return "", err
	}
	return h.Commit(ctx, message)
}

// Pull fetches and merges the remote branch, suspending on conflicts.
func (c *Coordinator) Pull(ctx context.Context) error {
	h, err := c.git()
	if err != nil {
		return err
	}
	return h.Pull(ctx)
}

// Push sends the current branch to the remote.
func (c *Coordinator) Push(ctx context.Context) error {
	h, err := c.git()
	if err != nil {
		return err
	}
	return h.Push(ctx)
}

// Merge merges ref into the current git branch, suspending on conflicts.
func (c *Coordinator) Merge(ctx context.Context, ref string) error {
	h, err := c.git()
	if err != nil {
		return err
	}
	return h.Merge(ctx, ref)
}

// Log returns recent commits of the current git branch.
func (c *Coordinator) Log(ctx context.Context, limit int) ([]vcs.CommitInfo, error) {
	h, err := c.git()
	if err != nil {
		return nil, err
	}
	return h.Log(ctx, limit)
}
