package vcs

import (
	"errors"
	"fmt"

	"github.com/steveyegge/versync/internal/conflict"
)

// Common errors returned by engine and handle operations.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, vcs.ErrUnavailable) {
//	    // reinitialization in progress, retry later
//	}
var (
	// ErrNotInitialized is returned by operations on an engine that was
	// never initialized or has been reset.
	ErrNotInitialized = errors.New("engine not initialized")

	// ErrUnavailable is returned while the handle is being reinitialized.
	// Callers treat it as "retry later", never as permanent absence.
	ErrUnavailable = errors.New("version control temporarily unavailable")

	// ErrNoRemote is returned when an operation requires a remote but none
	// is configured.
	ErrNoRemote = errors.New("no remote configured")

	// ErrRefNotFound is returned when a ref cannot be resolved.
	ErrRefNotFound = errors.New("reference not found")

	// ErrNoMergeInProgress is returned by CompleteMerge or AbortMerge when
	// nothing is pending.
	ErrNoMergeInProgress = errors.New("no merge in progress")

	// ErrDetached is returned when an operation requires a branch but HEAD
	// is detached.
	ErrDetached = errors.New("not on a branch")

	// ErrPushRejected is returned when the remote rejects a push, typically
	// because it has commits we have not merged.
	ErrPushRejected = errors.New("push rejected by remote")

	// ErrLocalChanges is returned when moving a branch would overwrite
	// uncommitted changes in the worktree. Commit or discard them first.
	ErrLocalChanges = errors.New("uncommitted changes would be overwritten")

	// ErrNothingToCommit is returned by Commit when the worktree matches
	// HEAD.
	ErrNothingToCommit = errors.New("nothing to commit")

	// ErrNotSupported is returned when an operation is not supported by the
	// engine.
	ErrNotSupported = errors.New("operation not supported by this engine")

	// ErrMergeConflictPending aliases the conflict channel's sentinel so
	// callers can classify it from this package.
	ErrMergeConflictPending = conflict.ErrMergeConflictPending
)

// CloneError reports a failed clone (network, auth, missing repository).
// It is fatal to the current initialization attempt only; the user may
// retry.
type CloneError struct {
	URL string
	Err error
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("failed to clone %s: %v", e.URL, e.Err)
}

func (e *CloneError) Unwrap() error { return e.Err }

// CorruptStateError reports engine metadata that exists but cannot be read.
// It requires manual repair and is never retried automatically.
type CorruptStateError struct {
	MetadataDir string
	Err         error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt repository state in %s: %v", e.MetadataDir, e.Err)
}

func (e *CorruptStateError) Unwrap() error { return e.Err }

// IsRetryable returns true if the error is likely to succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Network and auth failures during clone
	var cloneErr *CloneError
	if errors.As(err, &cloneErr) {
		return true
	}

	// Reinitialization in progress
	if errors.Is(err, ErrUnavailable) {
		return true
	}

	// Another merge is waiting for a decision
	if errors.Is(err, ErrMergeConflictPending) {
		return true
	}

	// Push rejections might succeed after a pull
	return errors.Is(err, ErrPushRejected)
}

// IsUserActionRequired returns true if the error requires user intervention
// to resolve.
func IsUserActionRequired(err error) bool {
	if err == nil {
		return false
	}

	var corrupt *CorruptStateError
	if errors.As(err, &corrupt) {
		return true
	}

	// Conflicts need a decision
	if errors.Is(err, ErrMergeConflictPending) || errors.Is(err, conflict.ErrUnresolved) {
		return true
	}

	if errors.Is(err, ErrLocalChanges) {
		return true
	}

	// Push rejected usually means divergent remote
	return errors.Is(err, ErrPushRejected)
}

// IsFatal returns true if the error indicates a state that retrying cannot
// fix without manual intervention or re-initialization.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var corrupt *CorruptStateError
	if errors.As(err, &corrupt) {
		return true
	}

	return errors.Is(err, ErrNotSupported)
}

// IsCancelled reports whether err is a cancelled conflict resolution. It is
// not a failure: the merge was abandoned on request.
func IsCancelled(err error) bool {
	return errors.Is(err, conflict.ErrResolutionCancelled)
}
