package git

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/steveyegge/versync/internal/conflict"
	"github.com/steveyegge/versync/internal/vcs"
)

// authFor returns basic auth for HTTP remotes with credentials, nil
// otherwise. The token is sent as the password.
func authFor(url string, creds vcs.Credentials) transport.AuthMethod {
	if creds.Empty() {
		return nil
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil
	}
	return &githttp.BasicAuth{Username: creds.Username, Password: creds.Token}
}

// Fetch updates the remote-tracking refs of the default remote.
func (e *Engine) Fetch(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.repository(); err != nil {
		return err
	}
	return e.fetch(ctx)
}

// fetch is Fetch with e.mu held.
func (e *Engine) fetch(ctx context.Context) error {
	err := e.repo.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: vcs.DefaultRemote,
		Auth:       authFor(e.url, e.creds),
	})
	switch {
	case err == nil, isUpToDate(err), errors.Is(err, transport.ErrEmptyRemoteRepository):
		return nil
	case errors.Is(err, gogit.ErrRemoteNotFound):
		return vcs.ErrNoRemote
	default:
		return fmt.Errorf("failed to fetch: %w", err)
	}
}

// Pull fetches and merges the remote-tracking branch of the current branch.
// A remote without that branch leaves the repository unchanged.
func (e *Engine) Pull(ctx context.Context) ([]conflict.MergeConflict, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	repo, err := e.repository()
	if err != nil {
		return nil, err
	}
	if e.pending != nil {
		return nil, vcs.ErrMergeConflictPending
	}
	if err := e.fetch(ctx); err != nil {
		return nil, err
	}

	branch, _, err := head(repo)
	if err != nil {
		return nil, err
	}
	if !branch.IsBranch() {
		return nil, vcs.ErrDetached
	}
	tracking := plumbing.NewRemoteReferenceName(vcs.DefaultRemote, branch.Short())
	ref, err := repo.Reference(tracking, true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		e.log.Debug("nothing to pull", "ref", tracking.String())
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", tracking, err)
	}
	return e.mergeCommit(ctx, ref.Hash(), tracking.Short())
}

// Push sends the current branch to the same branch on the default remote.
func (e *Engine) Push(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	repo, err := e.repository()
	if err != nil {
		return err
	}
	branch, tip, err := head(repo)
	if err != nil {
		return err
	}
	if !branch.IsBranch() {
		return vcs.ErrDetached
	}
	if tip == nil {
		return fmt.Errorf("%w: %s has no commits", vcs.ErrRefNotFound, branch.Short())
	}

	spec := config.RefSpec(fmt.Sprintf("%s:%s", branch, branch))
	err = repo.PushContext(ctx, &gogit.PushOptions{
		RemoteName: vcs.DefaultRemote,
		RefSpecs:   []config.RefSpec{spec},
		Auth:       authFor(e.url, e.creds),
	})
	switch {
	case err == nil, isUpToDate(err):
		return nil
	case errors.Is(err, gogit.ErrRemoteNotFound):
		return vcs.ErrNoRemote
	case errors.Is(err, gogit.ErrForceNeeded), strings.Contains(err.Error(), "non-fast-forward"):
		return fmt.Errorf("%w: %v", vcs.ErrPushRejected, err)
	default:
		return fmt.Errorf("failed to push: %w", err)
	}
}
