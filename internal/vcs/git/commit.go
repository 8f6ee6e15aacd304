package git

import (
	"context"
	"fmt"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/steveyegge/versync/internal/vcs"
)

// Commit stages every change in the worktree, including deletions, and
// records it on the current branch.
func (e *Engine) Commit(ctx context.Context, message string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	repo, err := e.repository()
	if err != nil {
		return "", err
	}
	if e.pending != nil {
		return "", vcs.ErrMergeConflictPending
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to open worktree: %w", err)
	}
	if err := wt.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("failed to stage changes: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("failed to read status: %w", err)
	}
	if status.IsClean() {
		return "", vcs.ErrNothingToCommit
	}

	sig := e.signature()
	h, err := wt.Commit(message, &gogit.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	e.log.Info("committed", "hash", h.String(), "files", len(status))
	return h.String(), nil
}

// Log returns up to limit commits reachable from HEAD, newest first. A
// non-positive limit returns the whole history.
func (e *Engine) Log(ctx context.Context, limit int) ([]vcs.CommitInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	repo, err := e.repository()
	if err != nil {
		return nil, err
	}
	_, tip, err := head(repo)
	if err != nil {
		return nil, err
	}
	if tip == nil {
		return []vcs.CommitInfo{}, nil
	}

	iter, err := repo.Log(&gogit.LogOptions{From: tip.Hash})
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	defer iter.Close()

	out := []vcs.CommitInfo{}
	err = iter.ForEach(func(c *object.Commit) error {
		if limit > 0 && len(out) >= limit {
			return storer.ErrStop
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		out = append(out, commitInfo(c))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func commitInfo(c *object.Commit) vcs.CommitInfo {
	info := vcs.CommitInfo{
		Hash:    c.Hash.String(),
		Message: strings.TrimSpace(c.Message),
		Author:  c.Author.Name,
		Email:   c.Author.Email,
		When:    c.Author.When,
	}
	for _, p := range c.ParentHashes {
		info.Parents = append(info.Parents, p.String())
	}
	return info
}

// CurrentBranch returns the short name of the checked-out branch, which may
// not have any commits yet.
func (e *Engine) CurrentBranch(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	repo, err := e.repository()
	if err != nil {
		return "", err
	}
	name, _, err := head(repo)
	if err != nil {
		return "", err
	}
	if !name.IsBranch() {
		return "", vcs.ErrDetached
	}
	return name.Short(), nil
}
