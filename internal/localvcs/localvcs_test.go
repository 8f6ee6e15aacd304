package localvcs

import (
	"context"
	"errors"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/versync/internal/conflict"
)

func newStore(opts ...Option) *Store {
	return NewStore(NewFSDriver(memfs.New()), opts...)
}

func entries(kv ...string) []Entry {
	out := make([]Entry, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, Entry{Key: kv[i], Name: kv[i] + " name", Content: []byte(kv[i+1])})
	}
	return out
}

func TestFSDriver(t *testing.T) {
	ctx := context.Background()
	d := NewFSDriver(memfs.New())

	_, err := d.Get(ctx, "a/b")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, d.Put(ctx, "a/b", []byte("1")))
	require.NoError(t, d.Put(ctx, "a/c", []byte("2")))
	require.NoError(t, d.Put(ctx, "a/b", []byte("3")))

	data, err := d.Get(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, "3", string(data))

	names, err := d.List(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, names)

	ok, err := d.Has(ctx, "a/c")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, d.Remove(ctx, "a/c"))
	require.NoError(t, d.Remove(ctx, "a/c"))
	require.NoError(t, d.RemoveAll(ctx, "a"))
	require.NoError(t, d.RemoveAll(ctx, "a"))

	names, err = d.List(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestProjectForRoot_FindOrCreate(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	p1, err := s.ProjectForRoot(ctx, "wrk_1", "One")
	require.NoError(t, err)
	p2, err := s.ProjectForRoot(ctx, "wrk_1", "ignored")
	require.NoError(t, err)
	assert.Equal(t, p1.ID(), p2.ID())
	assert.Equal(t, "One", p2.Name())

	other, err := s.ProjectForRoot(ctx, "wrk_2", "Two")
	require.NoError(t, err)
	assert.NotEqual(t, p1.ID(), other.ID())

	branch, err := p1.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultBranch, branch)

	opened, err := s.Project(ctx, other.ID())
	require.NoError(t, err)
	assert.Equal(t, "wrk_2", opened.RootID())

	_, err = s.Project(ctx, "prj_missing")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestRemoveProjectsForRoot_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	p, err := s.ProjectForRoot(ctx, "wrk_1", "One")
	require.NoError(t, err)
	_, err = p.Snapshot(ctx, "first", "ada", entries("req_1", "a"))
	require.NoError(t, err)
	_, err = s.ProjectForRoot(ctx, "wrk_2", "Two")
	require.NoError(t, err)

	require.NoError(t, s.RemoveProjectsForRoot(ctx, "wrk_1"))
	require.NoError(t, s.RemoveProjectsForRoot(ctx, "wrk_1"))
	require.NoError(t, s.RemoveProjectsForRoot(ctx, "wrk_never"))

	left, err := s.ProjectsForRoot(ctx, "wrk_1")
	require.NoError(t, err)
	assert.Empty(t, left)

	all, err := s.Projects(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "wrk_2", all[0].RootID)
}

func TestSnapshotAndHistory(t *testing.T) {
	ctx := context.Background()
	p, err := newStore().ProjectForRoot(ctx, "wrk_1", "One")
	require.NoError(t, err)

	history, err := p.History(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, history)

	s1, err := p.Snapshot(ctx, "first", "ada", entries("req_2", "b", "req_1", "a"))
	require.NoError(t, err)
	assert.Equal(t, "req_1", s1.State[0].Key, "state is sorted by key")
	assert.Equal(t, BlobID([]byte("a")), s1.State[0].Blob)

	_, err = p.Snapshot(ctx, "same", "ada", entries("req_1", "a", "req_2", "b"))
	assert.ErrorIs(t, err, ErrNoChanges)

	s2, err := p.Snapshot(ctx, "second", "ada", entries("req_1", "a2"))
	require.NoError(t, err)
	assert.Equal(t, []string{s1.ID}, s2.Parents)

	history, err = p.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "second", history[0].Message)
	assert.Equal(t, "first", history[1].Message)

	history, err = p.History(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	blob, err := p.Blob(ctx, s2.State[0].Blob)
	require.NoError(t, err)
	assert.Equal(t, "a2", string(blob))
}

func TestForkAndCheckout(t *testing.T) {
	ctx := context.Background()
	p, err := newStore().ProjectForRoot(ctx, "wrk_1", "One")
	require.NoError(t, err)

	_, err = p.Snapshot(ctx, "base", "ada", entries("req_1", "a", "req_2", "b"))
	require.NoError(t, err)

	require.NoError(t, p.Fork(ctx, "feature"))
	assert.ErrorIs(t, p.Fork(ctx, "feature"), ErrBranchExists)
	assert.ErrorIs(t, p.Fork(ctx, "bad/name"), ErrInvalidName)

	branches, err := p.Branches(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"feature", DefaultBranch}, branches)

	delta, err := p.Checkout(ctx, "feature", nil)
	require.NoError(t, err)
	assert.True(t, delta.Empty())

	_, err = p.Snapshot(ctx, "feature work", "ada", entries("req_1", "a", "req_3", "c"))
	require.NoError(t, err)

	delta, err = p.Checkout(ctx, DefaultBranch, nil)
	require.NoError(t, err)
	require.Len(t, delta.Upserts, 1)
	assert.Equal(t, "req_2", delta.Upserts[0].Key)
	assert.Equal(t, "b", string(delta.Upserts[0].Content))
	assert.Equal(t, []string{"req_3"}, delta.Removes)

	_, err = p.Checkout(ctx, "missing", nil)
	assert.ErrorIs(t, err, ErrBranchNotFound)
}

// diverged builds master and feature from a common base. Both change req_1;
// feature also adds req_3.
func diverged(t *testing.T, p *Project) {
	t.Helper()
	ctx := context.Background()

	_, err := p.Snapshot(ctx, "base", "ada", entries("req_1", "base", "req_2", "b"))
	require.NoError(t, err)
	require.NoError(t, p.Fork(ctx, "feature"))

	_, err = p.Checkout(ctx, "feature", nil)
	require.NoError(t, err)
	_, err = p.Snapshot(ctx, "theirs", "bob", entries("req_1", "theirs", "req_2", "b", "req_3", "c"))
	require.NoError(t, err)

	_, err = p.Checkout(ctx, DefaultBranch, nil)
	require.NoError(t, err)
	_, err = p.Snapshot(ctx, "ours", "ada", entries("req_1", "ours", "req_2", "b"))
	require.NoError(t, err)
}

func TestMerge_FastForward(t *testing.T) {
	ctx := context.Background()
	p, err := newStore().ProjectForRoot(ctx, "wrk_1", "One")
	require.NoError(t, err)

	_, err = p.Snapshot(ctx, "base", "ada", entries("req_1", "a"))
	require.NoError(t, err)
	require.NoError(t, p.Fork(ctx, "feature"))
	_, err = p.Checkout(ctx, "feature", nil)
	require.NoError(t, err)
	tip, err := p.Snapshot(ctx, "more", "ada", entries("req_1", "a", "req_2", "b"))
	require.NoError(t, err)
	_, err = p.Checkout(ctx, DefaultBranch, nil)
	require.NoError(t, err)

	res, err := p.Merge(ctx, "feature", "ada", nil)
	require.NoError(t, err)
	require.NotNil(t, res.Snapshot)
	assert.Equal(t, tip.ID, res.Snapshot.ID)
	require.Len(t, res.Delta.Upserts, 1)
	assert.Equal(t, "req_2", res.Delta.Upserts[0].Key)

	res, err = p.Merge(ctx, "feature", "ada", nil)
	require.NoError(t, err)
	assert.Nil(t, res.Snapshot, "already up to date")
}

func TestMerge_ConflictResolved(t *testing.T) {
	ctx := context.Background()
	p, err := newStore(WithResolver(conflict.Choose(conflict.TakeTheirs))).ProjectForRoot(ctx, "wrk_1", "One")
	require.NoError(t, err)
	diverged(t, p)

	res, err := p.Merge(ctx, "feature", "ada", nil)
	require.NoError(t, err)
	require.NotNil(t, res.Snapshot)
	assert.Len(t, res.Snapshot.Parents, 2)

	byKey := map[string]string{}
	for _, u := range res.Delta.Upserts {
		byKey[u.Key] = string(u.Content)
	}
	assert.Equal(t, map[string]string{"req_1": "theirs", "req_3": "c"}, byKey)
	assert.Empty(t, res.Delta.Removes)
}

func TestMerge_CancelLeavesProjectUntouched(t *testing.T) {
	ctx := context.Background()
	rv := conflict.NewRendezvous()
	p, err := newStore(WithResolver(rv)).ProjectForRoot(ctx, "wrk_1", "One")
	require.NoError(t, err)
	diverged(t, p)

	before, err := p.History(ctx, 0)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := p.Merge(ctx, "feature", "ada", nil)
		done <- err
	}()

	req := <-rv.Requests()
	require.Len(t, req.Conflicts, 1)
	c := req.Conflicts[0]
	assert.Equal(t, "req_1", c.Key)
	assert.Equal(t, "req_1 name", c.Name)
	assert.Equal(t, "ours", string(c.Ours))
	assert.Equal(t, "theirs", string(c.Theirs))
	assert.Equal(t, "base", string(c.Base))

	_, err = p.Merge(ctx, "feature", "ada", nil)
	assert.ErrorIs(t, err, conflict.ErrMergeConflictPending)

	require.True(t, req.Cancel())
	assert.ErrorIs(t, <-done, conflict.ErrResolutionCancelled)

	after, err := p.History(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestProjectForRoot_SharesConflictSlot(t *testing.T) {
	ctx := context.Background()
	rv := conflict.NewRendezvous()
	s := newStore(WithResolver(rv))

	p1, err := s.ProjectForRoot(ctx, "wrk_1", "One")
	require.NoError(t, err)
	diverged(t, p1)

	p2, err := s.ProjectForRoot(ctx, "wrk_1", "One")
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	p3, err := s.Project(ctx, p1.ID())
	require.NoError(t, err)
	assert.Same(t, p1, p3)

	done := make(chan error, 1)
	go func() {
		_, err := p1.Merge(ctx, "feature", "ada", nil)
		done <- err
	}()
	req := <-rv.Requests()

	_, err = p2.Merge(ctx, "feature", "ada", nil)
	assert.ErrorIs(t, err, conflict.ErrMergeConflictPending)
	_, pending := p3.Conflicts().Pending()
	assert.True(t, pending)

	require.True(t, req.Cancel())
	assert.ErrorIs(t, <-done, conflict.ErrResolutionCancelled)
}

func TestRemoveProjectsForRoot_DropsLiveProject(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	p1, err := s.ProjectForRoot(ctx, "wrk_1", "One")
	require.NoError(t, err)
	require.NoError(t, s.RemoveProjectsForRoot(ctx, "wrk_1"))

	p2, err := s.ProjectForRoot(ctx, "wrk_1", "One")
	require.NoError(t, err)
	assert.NotSame(t, p1, p2)
	assert.NotEqual(t, p1.ID(), p2.ID())
}

func TestMerge_ApplyFailureKeepsTip(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("apply failed")
	failing := func(context.Context, Delta) error { return boom }

	t.Run("three-way", func(t *testing.T) {
		p, err := newStore(WithResolver(conflict.Choose(conflict.TakeTheirs))).ProjectForRoot(ctx, "wrk_1", "One")
		require.NoError(t, err)
		diverged(t, p)
		before, err := p.History(ctx, 0)
		require.NoError(t, err)

		_, err = p.Merge(ctx, "feature", "ada", failing)
		assert.ErrorIs(t, err, boom)

		after, err := p.History(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, before, after)
		assert.False(t, p.Conflicts().Busy())
	})

	t.Run("fast-forward", func(t *testing.T) {
		p, err := newStore().ProjectForRoot(ctx, "wrk_1", "One")
		require.NoError(t, err)
		_, err = p.Snapshot(ctx, "base", "ada", entries("req_1", "a"))
		require.NoError(t, err)
		require.NoError(t, p.Fork(ctx, "feature"))
		_, err = p.Checkout(ctx, "feature", nil)
		require.NoError(t, err)
		_, err = p.Snapshot(ctx, "more", "ada", entries("req_1", "a", "req_2", "b"))
		require.NoError(t, err)
		_, err = p.Checkout(ctx, DefaultBranch, nil)
		require.NoError(t, err)
		before, err := p.History(ctx, 0)
		require.NoError(t, err)

		_, err = p.Merge(ctx, "feature", "ada", failing)
		assert.ErrorIs(t, err, boom)

		after, err := p.History(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, before, after)

		res, err := p.Merge(ctx, "feature", "ada", nil)
		require.NoError(t, err)
		assert.NotNil(t, res.Snapshot)
	})
}

func TestCheckout_ApplyFailureKeepsHead(t *testing.T) {
	ctx := context.Background()
	p, err := newStore().ProjectForRoot(ctx, "wrk_1", "One")
	require.NoError(t, err)
	diverged(t, p)

	_, err = p.Checkout(ctx, "feature", func(context.Context, Delta) error {
		return errors.New("apply failed")
	})
	require.Error(t, err)

	branch, err := p.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultBranch, branch)
}
