package docdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/steveyegge/versync/internal/types"
)

// ChangeKind identifies the mutation that produced a ChangeRecord.
type ChangeKind int

const (
	// ChangeInsert indicates a new document.
	ChangeInsert ChangeKind = iota
	// ChangeUpdate indicates an existing document was replaced.
	ChangeUpdate
	// ChangeRemove indicates a document was deleted.
	ChangeRemove
)

// String returns a human-readable representation of the kind.
func (k ChangeKind) String() string {
	switch k {
	case ChangeInsert:
		return "insert"
	case ChangeUpdate:
		return "update"
	case ChangeRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// MarshalText lets change kinds appear as strings in JSON payloads.
func (k ChangeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ChangeRecord describes one applied mutation. Records only exist while they
// are being delivered to subscribers.
type ChangeRecord struct {
	Kind ChangeKind      `json:"kind"`
	Doc  *types.Document `json:"doc"`

	// FromSync is set when the mutation arrived through a version-control
	// operation (pull, merge, checkout) rather than a local edit.
	FromSync bool `json:"fromSync"`
}

// Batch is a set of document mutations applied as one unit.
type Batch struct {
	Upserts []*types.Document
	Removes []*types.Document
}

// Empty reports whether the batch carries no mutations.
func (b Batch) Empty() bool {
	return len(b.Upserts) == 0 && len(b.Removes) == 0
}

// BatchApplyError is returned by ApplyBatch when the store rejected the batch.
// Nothing from the batch was applied or announced; callers retry the whole
// batch.
type BatchApplyError struct {
	Upserts int
	Removes int
	Err     error
}

func (e *BatchApplyError) Error() string {
	return fmt.Sprintf("failed to apply batch (%d upserts, %d removes): %v", e.Upserts, e.Removes, e.Err)
}

func (e *BatchApplyError) Unwrap() error { return e.Err }

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrUnknownBatch is returned by EndBatch for an id that is not open.
	ErrUnknownBatch = errors.New("unknown or already closed batch")

	// ErrClosed is returned by operations on a closed database.
	ErrClosed = errors.New("database is closed")
)

type syncOriginKey struct{}

// WithSyncOrigin marks mutations performed with the returned context as
// arriving from a version-control sync.
func WithSyncOrigin(ctx context.Context) context.Context {
	return context.WithValue(ctx, syncOriginKey{}, true)
}

// IsSyncOrigin reports whether ctx was marked with WithSyncOrigin.
func IsSyncOrigin(ctx context.Context) bool {
	v, _ := ctx.Value(syncOriginKey{}).(bool)
	return v
}
