package vcs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/steveyegge/versync/internal/conflict"
)

func TestErrorClassification(t *testing.T) {
	cloneErr := &CloneError{URL: "https://example.com/r.git", Err: errors.New("authentication required")}
	corrupt := &CorruptStateError{MetadataDir: "git", Err: errors.New("bad HEAD")}

	tests := []struct {
		name       string
		err        error
		retryable  bool
		userAction bool
		fatal      bool
		cancelled  bool
	}{
		{name: "nil", err: nil},
		{name: "clone", err: cloneErr, retryable: true},
		{name: "wrapped clone", err: fmt.Errorf("reinit: %w", cloneErr), retryable: true},
		{name: "corrupt", err: corrupt, userAction: true, fatal: true},
		{name: "unavailable", err: ErrUnavailable, retryable: true},
		{name: "pending", err: ErrMergeConflictPending, retryable: true, userAction: true},
		{name: "unresolved", err: conflict.ErrUnresolved, userAction: true},
		{name: "push rejected", err: ErrPushRejected, retryable: true, userAction: true},
		{name: "not supported", err: ErrNotSupported, fatal: true},
		{name: "cancelled", err: conflict.ErrResolutionCancelled, cancelled: true},
		{name: "not initialized", err: ErrNotInitialized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
			if got := IsUserActionRequired(tt.err); got != tt.userAction {
				t.Errorf("IsUserActionRequired = %v, want %v", got, tt.userAction)
			}
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal = %v, want %v", got, tt.fatal)
			}
			if got := IsCancelled(tt.err); got != tt.cancelled {
				t.Errorf("IsCancelled = %v, want %v", got, tt.cancelled)
			}
		})
	}
}

func TestTypedErrorsUnwrap(t *testing.T) {
	inner := errors.New("inner")

	if !errors.Is(&CloneError{URL: "u", Err: inner}, inner) {
		t.Error("CloneError should unwrap to its cause")
	}
	if !errors.Is(&CorruptStateError{MetadataDir: "git", Err: inner}, inner) {
		t.Error("CorruptStateError should unwrap to its cause")
	}
}

func TestPendingAliasesConflictSentinel(t *testing.T) {
	if !errors.Is(conflict.ErrMergeConflictPending, ErrMergeConflictPending) {
		t.Error("expected the conflict sentinel to match")
	}
}
