package vcs

import (
	"context"
	"errors"
	"sync"

	"github.com/steveyegge/versync/internal/conflict"
)

// Handle is the process-wide version-control handle.
//
// The handle object lives for the whole process; only its engine content is
// swapped when the active workspace or remote changes, so subscribers
// registered on it survive reinitialization. Operations on the handle run
// one at a time. A merge that produced conflicts holds that slot until the
// conflict channel answers, so later operations queue behind it and a second
// merge is rejected.
type Handle struct {
	mu         sync.RWMutex
	engine     Engine
	generation uint64

	ops       sync.Mutex
	conflicts *conflict.Channel

	subMu   sync.Mutex
	subs    map[int]func(Engine)
	nextSub int
}

// NewHandle returns an empty handle whose merges are resolved by resolver.
func NewHandle(resolver conflict.Resolver) *Handle {
	return &Handle{
		conflicts: conflict.NewChannel(resolver),
		subs:      make(map[int]func(Engine)),
	}
}

// Engine returns the current content, which may be nil.
func (h *Handle) Engine() Engine {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.engine
}

// Generation counts content swaps.
func (h *Handle) Generation() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.generation
}

// Initialized reports whether the content is an initialized engine.
func (h *Handle) Initialized() bool {
	e := h.Engine()
	return e != nil && e.Initialized()
}

// Swap replaces the content and returns the previous one. Subscribers are
// notified with the new content. Only the coordinator calls Swap.
func (h *Handle) Swap(e Engine) Engine {
	h.mu.Lock()
	prev := h.engine
	h.engine = e
	h.generation++
	h.mu.Unlock()

	h.subMu.Lock()
	subs := make([]func(Engine), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.subMu.Unlock()

	for _, fn := range subs {
		fn(e)
	}
	return prev
}

// Reset empties the handle and returns the previous content.
func (h *Handle) Reset() Engine {
	return h.Swap(nil)
}

// Retire closes content that was swapped out. It waits for a running
// operation, including a merge suspended on conflicts, to finish first.
func (h *Handle) Retire(e Engine) error {
	if e == nil {
		return nil
	}
	h.ops.Lock()
	defer h.ops.Unlock()
	return e.Close()
}

// Subscribe registers fn to be called after every content swap. The returned
// function removes the subscription.
func (h *Handle) Subscribe(fn func(Engine)) (cancel func()) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	id := h.nextSub
	h.nextSub++
	h.subs[id] = fn
	return func() {
		h.subMu.Lock()
		delete(h.subs, id)
		h.subMu.Unlock()
	}
}

// Conflicts returns the handle's conflict channel.
func (h *Handle) Conflicts() *conflict.Channel {
	return h.conflicts
}

// run executes fn against the current content with the operation slot held.
func (h *Handle) run(fn func(Engine) error) error {
	h.ops.Lock()
	defer h.ops.Unlock()

	e := h.Engine()
	if e == nil || !e.Initialized() {
		return ErrNotInitialized
	}
	return fn(e)
}

// Merge merges ref, suspending on conflicts until they are resolved.
// Cancellation aborts the merge and returns conflict.ErrResolutionCancelled.
func (h *Handle) Merge(ctx context.Context, ref string) error {
	if h.conflicts.Busy() {
		return ErrMergeConflictPending
	}
	return h.run(func(e Engine) error {
		conflicts, err := e.Merge(ctx, ref)
		if err != nil {
			return err
		}
		return h.settle(ctx, e, conflicts)
	})
}

// Pull fetches and merges the remote-tracking branch, with the same
// conflict handling as Merge.
func (h *Handle) Pull(ctx context.Context) error {
	if h.conflicts.Busy() {
		return ErrMergeConflictPending
	}
	return h.run(func(e Engine) error {
		conflicts, err := e.Pull(ctx)
		if err != nil {
			return err
		}
		return h.settle(ctx, e, conflicts)
	})
}

// settle obtains a resolution for conflicts and completes or aborts the
// merge accordingly.
func (h *Handle) settle(ctx context.Context, e Engine, conflicts []conflict.MergeConflict) error {
	if len(conflicts) == 0 {
		return nil
	}

	resolved, err := h.conflicts.Request(ctx, conflicts)
	if err != nil {
		if abortErr := e.AbortMerge(ctx); abortErr != nil && !errors.Is(abortErr, ErrNoMergeInProgress) {
			return errors.Join(err, abortErr)
		}
		return err
	}
	return e.CompleteMerge(ctx, resolved)
}

// Commit records pending changes.
func (h *Handle) Commit(ctx context.Context, message string) (string, error) {
	var hash string
	err := h.run(func(e Engine) error {
		var err error
		hash, err = e.Commit(ctx, message)
		return err
	})
	return hash, err
}

// Fetch updates remote-tracking refs.
func (h *Handle) Fetch(ctx context.Context) error {
	return h.run(func(e Engine) error { return e.Fetch(ctx) })
}

// Push sends the current branch to the remote.
func (h *Handle) Push(ctx context.Context) error {
	return h.run(func(e Engine) error { return e.Push(ctx) })
}

// Log returns recent commits.
func (h *Handle) Log(ctx context.Context, limit int) ([]CommitInfo, error) {
	var out []CommitInfo
	err := h.run(func(e Engine) error {
		var err error
		out, err = e.Log(ctx, limit)
		return err
	})
	return out, err
}

// CurrentBranch returns the checked-out branch.
func (h *Handle) CurrentBranch(ctx context.Context) (string, error) {
	var branch string
	err := h.run(func(e Engine) error {
		var err error
		branch, err = e.CurrentBranch(ctx)
		return err
	})
	return branch, err
}
