package errors

import (
	"fmt"
	"testing"
	"time"
)

func TestCycleError(t *testing.T) {
	err := NewCycleError([]string{"a", "b", "a"})

	if got, want := err.Error(), "dependency cycle detected: a -> b -> a"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrDependencyCycle) {
		t.Error("CycleError should match ErrDependencyCycle")
	}

	wrapped := fmt.Errorf("submit: %w", err)
	var cycleErr *CycleError
	if !As(wrapped, &cycleErr) {
		t.Fatal("As should find CycleError through wrapping")
	}
	if len(cycleErr.Path) != 3 {
		t.Errorf("Path = %v, want 3 entries", cycleErr.Path)
	}
	if IsRetryable(err) {
		t.Error("cycle errors are not retryable")
	}
}

func TestInvalidKeyError(t *testing.T) {
	tests := []struct {
		name  string
		cause error
	}{
		{name: "increase", cause: ErrInvalidKey},
		{name: "stale handle", cause: ErrStaleHandle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewInvalidKeyError("task-1", "rejected", tt.cause)
			if !Is(err, ErrInvalidKey) {
				t.Error("should match ErrInvalidKey")
			}
			if !Is(err, tt.cause) {
				t.Errorf("should match cause %v", tt.cause)
			}
		})
	}
}

func TestExecutionError(t *testing.T) {
	cause := New("exit status 1")
	err := NewExecutionError("t1", "exec", cause).WithAttempt(2)

	if !Is(err, cause) {
		t.Error("should unwrap to cause")
	}
	if !Is(err, ErrExecution) {
		t.Error("should match ErrExecution")
	}
	if !IsRetryable(err) {
		t.Error("execution errors default to retryable")
	}
	want := "execution error [task=t1, kind=exec, attempt=2]: exit status 1"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "dependency", err: NewDependencyFailedError("b", "a"), want: "dependency_failed"},
		{name: "timeout", err: NewTimeoutError("task t1", time.Second), want: "timeout"},
		{name: "execution", err: NewExecutionError("t1", "exec", New("boom")), want: "execution"},
		{name: "cycle", err: NewCycleError(nil), want: "cycle"},
		{name: "claim expired", err: NewClaimExpiredError("t1", "p1", time.Second), want: "claim_expired"},
		{name: "cancelled", err: fmt.Errorf("start: %w", ErrTaskCancelled), want: "cancelled"},
		{name: "plain", err: New("other"), want: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Errorf("Kind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetSeverity(t *testing.T) {
	if got := GetSeverity(NewClaimExpiredError("t", "p", time.Second)); got != SeverityDebug {
		t.Errorf("claim expiry severity = %v, want debug", got)
	}
	if got := GetSeverity(New("plain")); got != SeverityError {
		t.Errorf("plain error severity = %v, want error", got)
	}
	if got := GetSeverity(nil); got != SeverityInfo {
		t.Errorf("nil severity = %v, want info", got)
	}
}

func TestSeverityString(t *testing.T) {
	if SeverityCritical.String() != "critical" {
		t.Errorf("got %q", SeverityCritical.String())
	}
	if Severity(99).String() != "unknown" {
		t.Errorf("got %q", Severity(99).String())
	}
}

func TestNewTaskError(t *testing.T) {
	if NewTaskError(nil) != nil {
		t.Fatal("NewTaskError(nil) should be nil")
	}

	te := NewTaskError(NewDependencyFailedError("b", "a"))
	if te.Kind != "dependency_failed" || te.RootCause != "a" {
		t.Errorf("dependency TaskError = %+v", te)
	}

	te = NewTaskError(fmt.Errorf("run: %w", NewExecutionError("t", "exec", New("boom")).WithAttempt(3)))
	if te.Kind != "execution" || te.Attempt != 3 || !te.Retryable {
		t.Errorf("execution TaskError = %+v", te)
	}
	if te.Error() != "execution: "+te.Message {
		t.Errorf("Error() = %q", te.Error())
	}
}
