package docdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/versync/internal/types"
)

type recorder struct {
	batches [][]ChangeRecord
}

func (r *recorder) handle(records []ChangeRecord) {
	cp := make([]ChangeRecord, len(records))
	copy(cp, records)
	r.batches = append(r.batches, cp)
}

func rec(kind ChangeKind, id string) ChangeRecord {
	return ChangeRecord{Kind: kind, Doc: &types.Document{ID: id, Type: types.TypeRequest}}
}

func kindsAndIDs(records []ChangeRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Kind.String() + " " + r.Doc.ID
	}
	return out
}

func TestBus_DeliversImmediatelyWithoutBatch(t *testing.T) {
	bus := NewBus()
	var r recorder
	bus.Subscribe(r.handle)

	bus.enqueue([]ChangeRecord{rec(ChangeInsert, "a")})
	bus.drain()

	require.Len(t, r.batches, 1)
	assert.Equal(t, []string{"insert a"}, kindsAndIDs(r.batches[0]))
}

func TestBus_NestedBatchesFlushOnceAtOutermostEnd(t *testing.T) {
	bus := NewBus()
	var r recorder
	bus.Subscribe(r.handle)

	first := bus.BeginBatch()
	second := bus.BeginBatch()

	bus.enqueue([]ChangeRecord{rec(ChangeInsert, "A")})
	bus.enqueue([]ChangeRecord{rec(ChangeUpdate, "A")})
	bus.enqueue([]ChangeRecord{rec(ChangeRemove, "B")})

	require.NoError(t, bus.EndBatch(first))
	assert.Empty(t, r.batches, "closing one of two open batches must not flush")

	require.NoError(t, bus.EndBatch(second))
	require.Len(t, r.batches, 1)
	assert.Equal(t, []string{"insert A", "update A", "remove B"}, kindsAndIDs(r.batches[0]))
}

func TestBus_EndBatchTwiceIsRejected(t *testing.T) {
	bus := NewBus()
	id := bus.BeginBatch()
	require.NoError(t, bus.EndBatch(id))
	assert.ErrorIs(t, bus.EndBatch(id), ErrUnknownBatch)
	assert.ErrorIs(t, bus.EndBatch(BatchID(99)), ErrUnknownBatch)
	assert.Equal(t, 0, bus.OpenBatches())
}

func TestBus_AbortBatchDropsOnlyItsRecords(t *testing.T) {
	bus := NewBus()
	var r recorder
	bus.Subscribe(r.handle)

	outer := bus.BeginBatch()
	bus.enqueue([]ChangeRecord{rec(ChangeInsert, "kept")})
	inner := bus.BeginBatch()
	bus.enqueue([]ChangeRecord{rec(ChangeInsert, "dropped")})

	require.NoError(t, bus.AbortBatch(inner))
	assert.Empty(t, r.batches)
	assert.ErrorIs(t, bus.AbortBatch(inner), ErrUnknownBatch)

	require.NoError(t, bus.EndBatch(outer))
	require.Len(t, r.batches, 1)
	assert.Equal(t, []string{"insert kept"}, kindsAndIDs(r.batches[0]))
}

func TestBus_AbortOutermostDeliversNothing(t *testing.T) {
	bus := NewBus()
	var r recorder
	bus.Subscribe(r.handle)

	id := bus.BeginBatch()
	bus.enqueue([]ChangeRecord{rec(ChangeInsert, "a"), rec(ChangeInsert, "b")})
	require.NoError(t, bus.AbortBatch(id))

	assert.Empty(t, r.batches)
	assert.Equal(t, 0, bus.OpenBatches())

	bus.enqueue([]ChangeRecord{rec(ChangeInsert, "c")})
	bus.drain()
	require.Len(t, r.batches, 1)
	assert.Equal(t, []string{"insert c"}, kindsAndIDs(r.batches[0]))
}

func TestBus_EmptyBatchDeliversNothing(t *testing.T) {
	bus := NewBus()
	var r recorder
	bus.Subscribe(r.handle)

	require.NoError(t, bus.EndBatch(bus.BeginBatch()))
	assert.Empty(t, r.batches)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	var a, b recorder
	subA := bus.Subscribe(a.handle)
	bus.Subscribe(b.handle)

	assert.True(t, bus.Unsubscribe(subA))
	assert.False(t, bus.Unsubscribe(subA))

	bus.enqueue([]ChangeRecord{rec(ChangeInsert, "x")})
	bus.drain()

	assert.Empty(t, a.batches)
	assert.Len(t, b.batches, 1)
}

func TestBus_ReentrantPublishKeepsOrder(t *testing.T) {
	bus := NewBus()
	var seen []string

	bus.Subscribe(func(records []ChangeRecord) {
		for _, r := range records {
			seen = append(seen, r.Kind.String()+" "+r.Doc.ID)
			if r.Doc.ID == "first" {
				// A handler writing back must not deadlock and is delivered
				// after the current sequence.
				bus.enqueue([]ChangeRecord{rec(ChangeInsert, "from-handler")})
				bus.drain()
			}
		}
	})

	bus.enqueue([]ChangeRecord{rec(ChangeInsert, "first"), rec(ChangeInsert, "second")})
	bus.drain()

	assert.Equal(t, []string{"insert first", "insert second", "insert from-handler"}, seen)
}

func TestChangeKind_String(t *testing.T) {
	assert.Equal(t, "insert", ChangeInsert.String())
	assert.Equal(t, "update", ChangeUpdate.String())
	assert.Equal(t, "remove", ChangeRemove.String())
	assert.Equal(t, "unknown", ChangeKind(42).String())
}
