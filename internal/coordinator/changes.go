package coordinator

import (
	"context"

	"github.com/steveyegge/versync/internal/docdb"
	"github.com/steveyegge/versync/internal/types"
)

// handleChanges reacts to a delivered change batch. It runs on the writer's
// goroutine, so all work is handed to tracked goroutines.
//
// Removed workspaces have their local state purged, whether active or not.
// A changed remote association of the active workspace rebuilds the git
// handle. Records that arrived through a sync never trigger a rebuild.
func (c *Coordinator) handleChanges(records []docdb.ChangeRecord) {
	c.mu.Lock()
	active := c.active
	repo := c.repo
	c.mu.Unlock()

	var (
		purge      []string
		deactivate bool
		reinit     bool
	)
	for _, rec := range records {
		doc := rec.Doc
		if doc == nil {
			continue
		}
		switch doc.Type {
		case types.TypeWorkspace:
			if rec.Kind != docdb.ChangeRemove {
				continue
			}
			purge = append(purge, doc.ID)
			if doc.ID == active {
				deactivate = true
			}

		case types.TypeWorkspaceMeta:
			if rec.FromSync || active == "" || doc.ParentID != active {
				continue
			}
			linked := ""
			if rec.Kind != docdb.ChangeRemove {
				if meta, err := types.WorkspaceMetaFromDocument(doc); err == nil {
					linked = meta.GitRepositoryID
				}
			}
			current := ""
			if repo != nil {
				current = repo.ID
			}
			if linked != current {
				reinit = true
			}

		case types.TypeGitRepository:
			if rec.FromSync || repo == nil || doc.ID != repo.ID {
				continue
			}
			if rec.Kind == docdb.ChangeRemove {
				reinit = true
				continue
			}
			next, err := types.GitRepositoryFromDocument(doc)
			if err != nil || !repo.SameAssociation(next) {
				reinit = true
			}
		}
	}

	target := active
	if deactivate {
		c.mu.Lock()
		if c.active == active {
			c.active = ""
		}
		target = c.active
		c.mu.Unlock()
		c.log.Info("active workspace removed", "workspace", active)
		reinit = true
	}

	if deactivate || len(purge) > 0 {
		c.spawn(func(ctx context.Context) {
			if deactivate {
				_ = c.reinitLocal(ctx, target)
			}
			for _, id := range purge {
				if err := c.store.RemoveProjectsForRoot(ctx, id); err != nil {
					c.log.Error("failed to purge versioned state", "workspace", id, "error", err)
				}
			}
		})
	}

	if reinit {
		c.spawn(func(ctx context.Context) {
			_ = c.reinitGit(ctx, target)
		})
	}
}
