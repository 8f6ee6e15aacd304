// Package conflict provides the merge-conflict model and the one-shot
// rendezvous that suspends a merge until a decision point resolves it.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrMergeConflictPending is returned when a merge is attempted while a
	// previous merge on the same handle still awaits resolution. It is not a
	// failure of the pending merge.
	ErrMergeConflictPending = errors.New("merge conflict resolution pending")

	// ErrResolutionCancelled is returned when the decision point cancels. The
	// merge is abandoned and pre-merge state is left untouched.
	ErrResolutionCancelled = errors.New("conflict resolution cancelled")

	// ErrUnresolved is returned when a resolution leaves a conflict open or
	// does not match the request.
	ErrUnresolved = errors.New("conflict resolution incomplete")
)

// Resolution records the decision for one conflict.
type Resolution int

const (
	// Unresolved is the initial state.
	Unresolved Resolution = iota
	// KeepOurs keeps the local version.
	KeepOurs
	// TakeTheirs takes the incoming version.
	TakeTheirs
)

// String returns a human-readable representation of the resolution.
func (r Resolution) String() string {
	switch r {
	case KeepOurs:
		return "ours"
	case TakeTheirs:
		return "theirs"
	default:
		return "unresolved"
	}
}

// MarshalText encodes the resolution as its name.
func (r Resolution) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a resolution name.
func (r *Resolution) UnmarshalText(b []byte) error {
	switch string(b) {
	case "ours":
		*r = KeepOurs
	case "theirs":
		*r = TakeTheirs
	case "unresolved", "":
		*r = Unresolved
	default:
		return fmt.Errorf("unknown resolution %q", b)
	}
	return nil
}

// MergeConflict is one key whose two sides diverged from their common base.
// A nil content slice means the side deleted the key.
type MergeConflict struct {
	Key     string `json:"key"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`

	Base   []byte `json:"base,omitempty"`
	Ours   []byte `json:"ours,omitempty"`
	Theirs []byte `json:"theirs,omitempty"`

	OursBlob   string `json:"oursBlob,omitempty"`
	TheirsBlob string `json:"theirsBlob,omitempty"`

	Resolution Resolution `json:"resolution"`
}

// Resolved reports whether a decision has been recorded.
func (c MergeConflict) Resolved() bool {
	return c.Resolution == KeepOurs || c.Resolution == TakeTheirs
}

// Validate checks that resolved answers every conflict of the request, in the
// same order, with a decision.
func Validate(requested, resolved []MergeConflict) error {
	if len(requested) != len(resolved) {
		return fmt.Errorf("%w: got %d resolutions for %d conflicts", ErrUnresolved, len(resolved), len(requested))
	}
	for i := range requested {
		if requested[i].Key != resolved[i].Key {
			return fmt.Errorf("%w: resolution %d is for %q, want %q", ErrUnresolved, i, resolved[i].Key, requested[i].Key)
		}
		if !resolved[i].Resolved() {
			return fmt.Errorf("%w: %s", ErrUnresolved, requested[i].Key)
		}
	}
	return nil
}

// Resolver is the human decision point. Implementations return the same list
// with every Resolution filled in, or ErrResolutionCancelled.
type Resolver interface {
	Resolve(ctx context.Context, conflicts []MergeConflict) ([]MergeConflict, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, conflicts []MergeConflict) ([]MergeConflict, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, conflicts []MergeConflict) ([]MergeConflict, error) {
	return f(ctx, conflicts)
}

// Channel is the single-slot rendezvous of one handle. At most one request is
// outstanding at a time; a second request is rejected with
// ErrMergeConflictPending.
type Channel struct {
	resolver Resolver

	mu      sync.Mutex
	pending []MergeConflict
	busy    bool
}

// NewChannel returns a channel that forwards requests to resolver.
func NewChannel(resolver Resolver) *Channel {
	return &Channel{resolver: resolver}
}

// Busy reports whether a request is outstanding.
func (c *Channel) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Pending returns a copy of the outstanding conflicts, if any.
func (c *Channel) Pending() ([]MergeConflict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.busy {
		return nil, false
	}
	out := make([]MergeConflict, len(c.pending))
	copy(out, c.pending)
	return out, true
}

// Request hands conflicts to the resolver and blocks until it answers. The
// returned list is validated against the request.
func (c *Channel) Request(ctx context.Context, conflicts []MergeConflict) ([]MergeConflict, error) {
	if len(conflicts) == 0 {
		return nil, nil
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return nil, ErrMergeConflictPending
	}
	if c.resolver == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: no resolver configured", ErrResolutionCancelled)
	}
	c.busy = true
	c.pending = append([]MergeConflict(nil), conflicts...)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.busy = false
		c.pending = nil
		c.mu.Unlock()
	}()

	request := append([]MergeConflict(nil), conflicts...)
	resolved, err := c.resolver.Resolve(ctx, request)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrResolutionCancelled, err)
		}
		return nil, err
	}
	if err := Validate(conflicts, resolved); err != nil {
		return nil, err
	}
	return resolved, nil
}
