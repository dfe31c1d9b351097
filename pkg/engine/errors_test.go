package engine

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "precondition",
			err:  NewPreconditionError("hunk removes lines").WithTarget("/etc/motd").WithHunk(2, "-x"),
			want: "[precondition] hunk removes lines (target=/etc/motd, hunk=2)",
		},
		{
			name: "write with destination and cause",
			err: NewWriteError("failed to write document", errors.New("permission denied")).
				WithTarget("h1:/p").
				WithDestination("h1:/p"),
			want: "[write] failed to write document (target=h1:/p, destination=h1:/p): permission denied",
		},
		{
			name: "invalid target",
			err:  NewTargetError(errors.New("target is required")),
			want: "[permanent] invalid target: target is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorIs(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("patch: %w", NewWriteError("push failed", cause))

	if !IsWriteFailure(err) {
		t.Error("IsWriteFailure() = false through wrapping")
	}
	if IsPrecondition(err) || IsUnreconcilable(err) || IsPolicyDenied(err) {
		t.Error("write failure matched another sentinel")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false")
	}
	if ClassOf(err) != ErrorClassWrite {
		t.Errorf("ClassOf() = %q, want write", ClassOf(err))
	}
	if !errors.Is(NewPolicyError(cause), ErrPolicyDenied) || errors.Is(NewPolicyError(cause), ErrInvalidTarget) {
		t.Error("permanent errors must be told apart by code")
	}
}
