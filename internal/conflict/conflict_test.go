package conflict

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoConflicts() []MergeConflict {
	return []MergeConflict{
		{Key: "a", Ours: []byte("a1"), Theirs: []byte("a2")},
		{Key: "b", Ours: []byte("b1"), Theirs: nil},
	}
}

func TestChannel_RequestResolves(t *testing.T) {
	ch := NewChannel(Choose(TakeTheirs))

	resolved, err := ch.Request(context.Background(), twoConflicts())
	require.NoError(t, err)
	require.Len(t, resolved, 2)
	for _, c := range resolved {
		assert.Equal(t, TakeTheirs, c.Resolution)
	}
	assert.False(t, ch.Busy())
}

func TestChannel_EmptyRequestSkipsResolver(t *testing.T) {
	called := false
	ch := NewChannel(ResolverFunc(func(context.Context, []MergeConflict) ([]MergeConflict, error) {
		called = true
		return nil, nil
	}))

	resolved, err := ch.Request(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, resolved)
	assert.False(t, called)
}

func TestChannel_SecondRequestRejectedWhilePending(t *testing.T) {
	rv := NewRendezvous()
	ch := NewChannel(rv)

	done := make(chan error, 1)
	go func() {
		_, err := ch.Request(context.Background(), twoConflicts())
		done <- err
	}()

	req := <-rv.Requests()
	assert.True(t, ch.Busy())

	pending, ok := ch.Pending()
	require.True(t, ok)
	assert.Len(t, pending, 2)

	_, err := ch.Request(context.Background(), twoConflicts())
	assert.ErrorIs(t, err, ErrMergeConflictPending)

	assert.True(t, req.Cancel())
	assert.False(t, req.Resolve(nil), "only the first answer counts")
	assert.ErrorIs(t, <-done, ErrResolutionCancelled)
	assert.False(t, ch.Busy())
}

func TestChannel_IncompleteResolutionRejected(t *testing.T) {
	ch := NewChannel(ResolverFunc(func(_ context.Context, c []MergeConflict) ([]MergeConflict, error) {
		c[0].Resolution = KeepOurs
		return c, nil
	}))

	_, err := ch.Request(context.Background(), twoConflicts())
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestChannel_ResolverDoesNotMutateRequest(t *testing.T) {
	original := twoConflicts()
	ch := NewChannel(Choose(KeepOurs))

	_, err := ch.Request(context.Background(), original)
	require.NoError(t, err)
	assert.Equal(t, Unresolved, original[0].Resolution)
}

func TestChannel_ContextCancelIsCancellation(t *testing.T) {
	rv := NewRendezvous()
	ch := NewChannel(rv)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := ch.Request(ctx, twoConflicts())
	assert.ErrorIs(t, err, ErrResolutionCancelled)
}

func TestChannel_NoResolver(t *testing.T) {
	_, err := NewChannel(nil).Request(context.Background(), twoConflicts())
	assert.ErrorIs(t, err, ErrResolutionCancelled)
}

func TestValidate(t *testing.T) {
	req := twoConflicts()

	ok := twoConflicts()
	ok[0].Resolution = KeepOurs
	ok[1].Resolution = TakeTheirs
	assert.NoError(t, Validate(req, ok))

	swapped := []MergeConflict{ok[1], ok[0]}
	assert.ErrorIs(t, Validate(req, swapped), ErrUnresolved)
	assert.ErrorIs(t, Validate(req, ok[:1]), ErrUnresolved)
}

func TestResolution_JSON(t *testing.T) {
	c := MergeConflict{Key: "k", Resolution: TakeTheirs}
	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"resolution":"theirs"`)

	var back MergeConflict
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, TakeTheirs, back.Resolution)

	var r Resolution
	assert.Error(t, r.UnmarshalText([]byte("both")))
}

func TestThreeWay(t *testing.T) {
	base := map[string]string{"same": "1", "ours-only": "1", "theirs-only": "1", "both": "1", "deleted-theirs": "1"}
	ours := map[string]string{"same": "1", "ours-only": "2", "theirs-only": "1", "both": "2", "deleted-theirs": "1", "added-both": "x"}
	theirs := map[string]string{"same": "1", "ours-only": "1", "theirs-only": "3", "both": "3", "added-both": "y", "new": "n"}

	changes, conflicts := ThreeWay(base, ours, theirs)

	assert.Equal(t, []Change{
		{Key: "deleted-theirs", Blob: ""},
		{Key: "new", Blob: "n"},
		{Key: "theirs-only", Blob: "3"},
	}, changes)
	assert.Equal(t, []string{"added-both", "both"}, conflicts)
}
