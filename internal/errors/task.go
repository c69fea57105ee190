package errors

// TaskError is the structured, JSON-encodable error recorded on a task
// instance. It survives persistence and gossip, unlike the typed errors it
// is built from.
type TaskError struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	RootCause string `json:"root_cause,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// NewTaskError flattens err into a TaskError. It returns nil for a nil err.
func NewTaskError(err error) *TaskError {
	if err == nil {
		return nil
	}
	te := &TaskError{
		Kind:      Kind(err),
		Message:   err.Error(),
		Retryable: IsRetryable(err),
	}

	var (
		depErr  *DependencyFailedError
		execErr *ExecutionError
	)
	if As(err, &depErr) {
		te.RootCause = depErr.RootCause
	}
	if As(err, &execErr) {
		te.Attempt = execErr.Attempt
	}
	return te
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	if e.Kind == "" || e.Kind == "error" {
		return e.Message
	}
	return e.Kind + ": " + e.Message
}
