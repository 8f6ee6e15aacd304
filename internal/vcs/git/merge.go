package git

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/steveyegge/versync/internal/conflict"
	"github.com/steveyegge/versync/internal/vcs"
)

// pendingMerge is a merge waiting for conflict resolutions. Nothing has been
// written to the worktree or history yet.
type pendingMerge struct {
	branch      plumbing.ReferenceName
	label       string
	ours        *object.Commit
	theirs      *object.Commit
	oursFiles   files
	theirsFiles files
	merged      files
	conflicts   []conflict.MergeConflict
}

// Merge merges ref into the current branch.
func (e *Engine) Merge(ctx context.Context, ref string) ([]conflict.MergeConflict, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	repo, err := e.repository()
	if err != nil {
		return nil, err
	}
	h, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", vcs.ErrRefNotFound, ref)
	}
	return e.mergeCommit(ctx, *h, ref)
}

// mergeCommit merges the commit theirs into the current branch. Callers hold
// e.mu.
func (e *Engine) mergeCommit(ctx context.Context, theirsHash plumbing.Hash, label string) ([]conflict.MergeConflict, error) {
	if e.pending != nil {
		return nil, vcs.ErrMergeConflictPending
	}
	repo := e.repo

	branch, ours, err := head(repo)
	if err != nil {
		return nil, err
	}
	if !branch.IsBranch() {
		return nil, vcs.ErrDetached
	}
	theirs, err := repo.CommitObject(theirsHash)
	if err != nil {
		return nil, fmt.Errorf("failed to read commit %s: %w", theirsHash, err)
	}

	oursFiles, err := flatten(ours)
	if err != nil {
		return nil, err
	}
	theirsFiles, err := flatten(theirs)
	if err != nil {
		return nil, err
	}

	// Unborn branch or ours is an ancestor: fast-forward.
	if ours == nil {
		return nil, e.advance(branch, oursFiles, theirsFiles, theirs.Hash)
	}
	if ours.Hash == theirs.Hash {
		return nil, nil
	}
	if upToDate, err := theirs.IsAncestor(ours); err != nil {
		return nil, fmt.Errorf("failed to compare history: %w", err)
	} else if upToDate {
		return nil, nil
	}
	if ff, err := ours.IsAncestor(theirs); err != nil {
		return nil, fmt.Errorf("failed to compare history: %w", err)
	} else if ff {
		e.log.Debug("fast-forward", "branch", branch.Short(), "to", theirs.Hash.String())
		return nil, e.advance(branch, oursFiles, theirsFiles, theirs.Hash)
	}

	var base *object.Commit
	bases, err := ours.MergeBase(theirs)
	if err != nil {
		return nil, fmt.Errorf("failed to find merge base: %w", err)
	}
	if len(bases) > 0 {
		base = bases[0]
	}
	baseFiles, err := flatten(base)
	if err != nil {
		return nil, err
	}

	changes, keys := conflict.ThreeWay(baseFiles.blobs(), oursFiles.blobs(), theirsFiles.blobs())
	merged := oursFiles.clone()
	for _, c := range changes {
		if c.Blob == "" {
			delete(merged, c.Key)
			continue
		}
		merged[c.Key] = theirsFiles[c.Key]
	}

	p := &pendingMerge{
		branch:      branch,
		label:       label,
		ours:        ours,
		theirs:      theirs,
		oursFiles:   oursFiles,
		theirsFiles: theirsFiles,
		merged:      merged,
	}
	if len(keys) == 0 {
		return nil, e.finish(p)
	}

	for _, key := range keys {
		c, err := describe(repo, key, baseFiles, oursFiles, theirsFiles)
		if err != nil {
			return nil, err
		}
		p.conflicts = append(p.conflicts, c)
	}
	e.pending = p
	e.log.Info("merge has conflicts", "ref", label, "conflicts", len(p.conflicts))

	out := make([]conflict.MergeConflict, len(p.conflicts))
	copy(out, p.conflicts)
	return out, nil
}

// CompleteMerge applies resolutions to the pending merge and records it.
func (e *Engine) CompleteMerge(ctx context.Context, resolved []conflict.MergeConflict) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.repository(); err != nil {
		return err
	}
	p := e.pending
	if p == nil {
		return vcs.ErrNoMergeInProgress
	}
	if err := conflict.Validate(p.conflicts, resolved); err != nil {
		return err
	}

	for _, c := range resolved {
		side := p.oursFiles
		if c.Resolution == conflict.TakeTheirs {
			side = p.theirsFiles
		}
		if ent, ok := side[c.Key]; ok {
			p.merged[c.Key] = ent
		} else {
			delete(p.merged, c.Key)
		}
	}

	if err := e.finish(p); err != nil {
		return err
	}
	e.pending = nil
	return nil
}

// AbortMerge drops the pending merge.
func (e *Engine) AbortMerge(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending == nil {
		return vcs.ErrNoMergeInProgress
	}
	e.log.Info("merge aborted", "ref", e.pending.label)
	e.pending = nil
	return nil
}

// finish records the merge commit, updates the worktree and moves the
// branch.
func (e *Engine) finish(p *pendingMerge) error {
	tree, err := writeTree(e.repo, p.merged)
	if err != nil {
		return err
	}
	msg := fmt.Sprintf("Merge %s into %s", p.label, p.branch.Short())
	h, err := writeCommit(e.repo, tree, e.signature(), msg, p.ours.Hash, p.theirs.Hash)
	if err != nil {
		return err
	}
	return e.advance(p.branch, p.oursFiles, p.merged, h)
}

// advance moves branch to commit, writing the paths that differ between
// from and to and resetting the index. Uncommitted changes to other paths
// are kept.
func (e *Engine) advance(branch plumbing.ReferenceName, from, to files, commit plumbing.Hash) error {
	if err := checkout(e.repo, e.work, from, to); err != nil {
		return err
	}
	if err := e.repo.Storer.SetReference(plumbing.NewHashReference(branch, commit)); err != nil {
		return fmt.Errorf("failed to update %s: %w", branch, err)
	}
	wt, err := e.repo.Worktree()
	if err != nil {
		return err
	}
	if err := wt.Reset(&gogit.ResetOptions{Commit: commit, Mode: gogit.MixedReset}); err != nil {
		return fmt.Errorf("failed to reset index: %w", err)
	}
	return nil
}

// describe builds the conflict record for key.
func describe(repo *gogit.Repository, key string, base, ours, theirs files) (conflict.MergeConflict, error) {
	c := conflict.MergeConflict{Key: key, Name: path.Base(key)}

	var err error
	if c.Base, err = readBlob(repo, base[key].hash); err != nil {
		return c, err
	}
	if c.Ours, err = readBlob(repo, ours[key].hash); err != nil {
		return c, err
	}
	if c.Theirs, err = readBlob(repo, theirs[key].hash); err != nil {
		return c, err
	}

	_, inOurs := ours[key]
	_, inTheirs := theirs[key]
	if inOurs {
		c.OursBlob = ours[key].hash.String()
	}
	if inTheirs {
		c.TheirsBlob = theirs[key].hash.String()
	}

	switch {
	case !inOurs:
		c.Message = "deleted locally, modified remotely"
	case !inTheirs:
		c.Message = "modified locally, deleted remotely"
	default:
		c.Message = "modified on both sides"
	}
	if strings.HasPrefix(key, vcs.AppDataDir+"/") {
		c.Name = strings.TrimSuffix(c.Name, ".yml")
	}
	return c, nil
}

// isUpToDate reports go-git's "nothing to do" result.
func isUpToDate(err error) bool {
	return errors.Is(err, gogit.NoErrAlreadyUpToDate)
}
