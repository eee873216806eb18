package grants

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind ErrorKind
		wantFlag string
	}{
		{"nil", nil, "", ""},
		{"invalid code", ErrInvalidCode, KindValidation, ""},
		{"invalid request", fmt.Errorf("user ID is required: %w", ErrInvalidRequest), KindValidation, ""},
		{"grant not found", fmt.Errorf("get grant by code: %w", ErrGrantNotFound), KindNotFound, ""},
		{"seats full", ErrSeatsFull, KindConflict, "seats_full"},
		{"expired", ErrExpired, KindConflict, "expired"},
		{"not started", ErrNotStarted, KindConflict, "not_started"},
		{"already completed", ErrAlreadyCompleted, KindConflict, "already_completed"},
		{"code taken", fmt.Errorf("create grant: %w", ErrCodeTaken), KindConflict, "code_taken"},
		{"store failure", errors.New("connection reset by peer"), KindTransient, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.wantKind {
				t.Errorf("Classify() = %q, want %q", got, tt.wantKind)
			}
			if got := ConflictFlag(tt.err); got != tt.wantFlag {
				t.Errorf("ConflictFlag() = %q, want %q", got, tt.wantFlag)
			}
		})
	}
}
