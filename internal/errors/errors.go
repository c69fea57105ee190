// Package errors provides centralized error definitions and error handling
// utilities for gotmesh. It defines the sentinel errors shared across the task
// core, the typed error taxonomy (cycle, invalid key, claim expiry, dependency
// failure, execution, timeout), and classification helpers.
//
// # Error Types
//
// Structural errors are returned synchronously to the caller:
//   - CycleError: a graph edge would close a dependency cycle
//   - InvalidKeyError: scheduler misuse (key increase, stale handle)
//
// Execution-time errors are recorded on a task instance and drive retries:
//   - ExecutionError: the execution backend returned an error
//   - TimeoutError: an attempt exceeded its deadline
//   - DependencyFailedError: an ancestor failed terminally
//
// ClaimExpiredError is used only for internal recovery and logging.
//
// # Usage
//
//	err := errors.NewCycleError([]string{"a", "b", "a"})
//	if errors.Is(err, errors.ErrDependencyCycle) { ... }
//
//	var execErr *errors.ExecutionError
//	if errors.As(err, &execErr) { ... }
//
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Graph-related sentinel errors
var (
	// ErrDependencyCycle indicates that an edge would create a dependency cycle.
	ErrDependencyCycle = New("dependency cycle detected")
	// ErrNodeNotFound indicates that a graph node could not be found.
	ErrNodeNotFound = New("node not found")
	// ErrDuplicateNode indicates that a node with the same id already exists.
	ErrDuplicateNode = New("node already exists")
	// ErrNodeNotTerminal indicates an operation that requires a terminal node.
	ErrNodeNotTerminal = New("node is not terminal")
)

// Scheduler-related sentinel errors
var (
	// ErrInvalidKey indicates a decrease-key request with a larger key.
	ErrInvalidKey = New("invalid key")
	// ErrStaleHandle indicates a handle whose entry was already extracted.
	ErrStaleHandle = New("stale heap handle")
)

// Task-related sentinel errors
var (
	// ErrTaskNotFound indicates that a task could not be found.
	ErrTaskNotFound = New("task not found")
	// ErrInvalidTransition indicates a state machine violation.
	ErrInvalidTransition = New("invalid status transition")
	// ErrTaskCancelled indicates the task was cancelled before the operation.
	ErrTaskCancelled = New("task cancelled")
	// ErrClaimMismatch indicates the caller does not hold the task's claim.
	ErrClaimMismatch = New("claim held by another peer")
	// ErrUnknownTaskDef indicates that no task definition is registered under a name.
	ErrUnknownTaskDef = New("unknown task definition")
	// ErrClaimYielded indicates the local claim lost to a later, higher claim.
	ErrClaimYielded = New("claim yielded to another peer")
	// ErrClaimExpired indicates a claim that was not started before its deadline.
	ErrClaimExpired = New("claim expired")
	// ErrDependencyFailed indicates an ancestor task failed terminally.
	ErrDependencyFailed = New("dependency failed")
	// ErrExecution indicates the execution backend reported a failure.
	ErrExecution = New("execution failed")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// MeshError is the base interface for all gotmesh errors. It extends the
// standard error interface with classification methods.
type MeshError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Structural Errors
// -----------------------------------------------------------------------------

// CycleError is returned when adding a node or edge would close a cycle in
// the task graph. Path lists the node ids along the cycle, starting and
// ending with the same id.
//
// Example:
//
//	err := errors.NewCycleError([]string{"a", "b", "a"})
//	fmt.Println(err) // "dependency cycle detected: a -> b -> a"
type CycleError struct {
	baseError
	Path []string
}

// NewCycleError creates a CycleError for the given cycle path.
func NewCycleError(path []string) *CycleError {
	return &CycleError{
		baseError: baseError{
			message:    ErrDependencyCycle.Error(),
			severity:   SeverityError,
			userFacing: true,
		},
		Path: path,
	}
}

// Error returns the formatted error message.
func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return e.message
	}
	return fmt.Sprintf("%s: %s", e.message, strings.Join(e.Path, " -> "))
}

// Is checks if this error matches the target.
func (e *CycleError) Is(target error) bool {
	if _, ok := target.(*CycleError); ok {
		return true
	}
	return target == ErrDependencyCycle
}

// InvalidKeyError is returned by the scheduler when decrease-key is asked to
// increase a key or is given a handle that no longer refers to a live entry.
type InvalidKeyError struct {
	baseError
	Value string
}

// NewInvalidKeyError creates an InvalidKeyError. cause should be
// ErrInvalidKey or ErrStaleHandle.
func NewInvalidKeyError(value, message string, cause error) *InvalidKeyError {
	return &InvalidKeyError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
		Value: value,
	}
}

// Error returns the formatted error message.
func (e *InvalidKeyError) Error() string {
	prefix := "invalid key"
	if e.Value != "" {
		prefix = fmt.Sprintf("invalid key [value=%s]", e.Value)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *InvalidKeyError) Is(target error) bool {
	if _, ok := target.(*InvalidKeyError); ok {
		return true
	}
	if target == ErrInvalidKey {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Execution-time Errors
// -----------------------------------------------------------------------------

// ClaimExpiredError records that a claim was not followed by a start before
// its deadline. It never reaches the submitter; the task is rescheduled.
type ClaimExpiredError struct {
	baseError
	TaskID string
	PeerID string
	TTL    time.Duration
}

// NewClaimExpiredError creates a ClaimExpiredError.
func NewClaimExpiredError(taskID, peerID string, ttl time.Duration) *ClaimExpiredError {
	return &ClaimExpiredError{
		baseError: baseError{
			message:   ErrClaimExpired.Error(),
			severity:  SeverityDebug,
			retryable: true,
		},
		TaskID: taskID,
		PeerID: peerID,
		TTL:    ttl,
	}
}

// Error returns the formatted error message.
func (e *ClaimExpiredError) Error() string {
	return fmt.Sprintf("claim expired [task=%s, peer=%s]: not started within %s", e.TaskID, e.PeerID, e.TTL)
}

// Is checks if this error matches the target.
func (e *ClaimExpiredError) Is(target error) bool {
	if _, ok := target.(*ClaimExpiredError); ok {
		return true
	}
	return target == ErrClaimExpired
}

// DependencyFailedError marks a task that failed because an ancestor failed
// terminally. RootCause is the id of the originating task.
type DependencyFailedError struct {
	baseError
	TaskID    string
	RootCause string
}

// NewDependencyFailedError creates a DependencyFailedError.
func NewDependencyFailedError(taskID, rootCause string) *DependencyFailedError {
	return &DependencyFailedError{
		baseError: baseError{
			message:    ErrDependencyFailed.Error(),
			severity:   SeverityWarning,
			userFacing: true,
		},
		TaskID:    taskID,
		RootCause: rootCause,
	}
}

// Error returns the formatted error message.
func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("dependency failed [task=%s]: root cause %s", e.TaskID, e.RootCause)
}

// Is checks if this error matches the target.
func (e *DependencyFailedError) Is(target error) bool {
	if _, ok := target.(*DependencyFailedError); ok {
		return true
	}
	return target == ErrDependencyFailed
}

// ExecutionError wraps an error returned by the execution backend.
type ExecutionError struct {
	baseError
	TaskID    string
	TaskDefID string
	Attempt   int
}

// NewExecutionError creates an ExecutionError wrapping cause.
func NewExecutionError(taskID, taskDefID string, cause error) *ExecutionError {
	return &ExecutionError{
		baseError: baseError{
			message:    ErrExecution.Error(),
			cause:      cause,
			severity:   SeverityError,
			retryable:  true,
			userFacing: true,
		},
		TaskID:    taskID,
		TaskDefID: taskDefID,
	}
}

// WithAttempt records which attempt produced the error.
func (e *ExecutionError) WithAttempt(n int) *ExecutionError {
	e.Attempt = n
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *ExecutionError) WithRetryable(r bool) *ExecutionError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *ExecutionError) Error() string {
	var parts []string
	if e.TaskID != "" {
		parts = append(parts, fmt.Sprintf("task=%s", e.TaskID))
	}
	if e.TaskDefID != "" {
		parts = append(parts, fmt.Sprintf("kind=%s", e.TaskDefID))
	}
	if e.Attempt > 0 {
		parts = append(parts, fmt.Sprintf("attempt=%d", e.Attempt))
	}

	prefix := "execution error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("execution error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %v", prefix, e.cause)
	}
	return prefix
}

// Is checks if this error matches the target.
func (e *ExecutionError) Is(target error) bool {
	if _, ok := target.(*ExecutionError); ok {
		return true
	}
	if target == ErrExecution {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError indicates an operation or task attempt exceeded its deadline.
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause sets the underlying cause.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if target == ErrTimeout {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// IsRetryable reports whether err is transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var meshErr MeshError
	if As(err, &meshErr) {
		return meshErr.IsRetryable()
	}

	return Is(err, ErrTimeout)
}

// IsUserFacing reports whether err is safe to display to users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var meshErr MeshError
	if As(err, &meshErr) {
		return meshErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity of err, defaulting to SeverityError for
// errors outside the taxonomy.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityInfo
	}

	var meshErr MeshError
	if As(err, &meshErr) {
		return meshErr.Severity()
	}
	return SeverityError
}

// Kind names the taxonomy entry for err. It is used as the structured
// "kind" field recorded on task instances.
func Kind(err error) string {
	var (
		cycleErr   *CycleError
		keyErr     *InvalidKeyError
		expiredErr *ClaimExpiredError
		depErr     *DependencyFailedError
		execErr    *ExecutionError
		timeoutErr *TimeoutError
	)
	switch {
	case err == nil:
		return ""
	case As(err, &depErr):
		return "dependency_failed"
	case As(err, &timeoutErr), Is(err, ErrTimeout):
		return "timeout"
	case As(err, &execErr):
		return "execution"
	case As(err, &cycleErr):
		return "cycle"
	case As(err, &keyErr):
		return "invalid_key"
	case As(err, &expiredErr):
		return "claim_expired"
	case Is(err, ErrTaskCancelled), Is(err, ErrCanceled):
		return "cancelled"
	default:
		return "error"
	}
}
