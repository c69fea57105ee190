package taskmanager

import (
	"encoding/json"
	"time"

	"github.com/Iron-Ham/gotmesh/internal/errors"
)

// Status is the lifecycle state of a task instance.
type Status string

const (
	// StatusPending means the task waits for dependencies.
	StatusPending Status = "pending"
	// StatusReady means the task may be claimed.
	StatusReady Status = "ready"
	// StatusClaimed means a peer won arbitration but has not started yet.
	StatusClaimed Status = "claimed"
	// StatusRunning means an attempt is executing.
	StatusRunning Status = "running"
	// StatusCompleted is terminal success.
	StatusCompleted Status = "completed"
	// StatusFailed is terminal failure.
	StatusFailed Status = "failed"
	// StatusCancelled is terminal cancellation.
	StatusCancelled Status = "cancelled"
	// StatusTimeout is terminal failure of the last attempt by deadline.
	StatusTimeout Status = "timeout"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if this status represents a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	return []Status{
		StatusPending, StatusReady, StatusClaimed, StatusRunning,
		StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout,
	}
}

// ParseStatus converts a string to a Status.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses() {
		if string(st) == s {
			return st, nil
		}
	}
	return "", errors.New("unknown status " + s)
}

// Instance is one submitted task and its execution state.
type Instance struct {
	ID         string          `json:"id"`
	TaskDefID  string          `json:"task_def_id"`
	Params     json.RawMessage `json:"params,omitempty"`
	DependsOn  []string        `json:"depends_on,omitempty"`
	BestEffort bool            `json:"best_effort,omitempty"`

	// Priority is the effective scheduling priority; BasePriority is the
	// submitted one before any back-off.
	Priority     int `json:"priority"`
	BasePriority int `json:"base_priority"`

	Status Status `json:"status"`
	// Degraded is set on best-effort tasks that run despite a failed parent.
	Degraded bool `json:"degraded,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ClaimedBy string `json:"claimed_by,omitempty"`
	WorkerID  string `json:"worker_id,omitempty"`
	// Remote is set when the current claim or outcome belongs to another peer.
	Remote bool `json:"remote,omitempty"`

	Result json.RawMessage   `json:"result,omitempty"`
	Error  *errors.TaskError `json:"error,omitempty"`

	Attempts   int           `json:"attempts"`
	MaxRetries int           `json:"max_retries"`
	Timeout    time.Duration `json:"timeout,omitempty"`
	ClaimTTL   time.Duration `json:"claim_ttl,omitempty"`

	held     bool
	timerGen uint64
}

// clone returns a copy that shares no mutable state with inst.
func (inst *Instance) clone() Instance {
	cp := *inst
	cp.DependsOn = append([]string(nil), inst.DependsOn...)
	if inst.Params != nil {
		cp.Params = append(json.RawMessage(nil), inst.Params...)
	}
	if inst.Result != nil {
		cp.Result = append(json.RawMessage(nil), inst.Result...)
	}
	if inst.Error != nil {
		e := *inst.Error
		cp.Error = &e
	}
	return cp
}

// SubmitOptions tune a submission. Zero values inherit the task definition's
// defaults and then the configured defaults.
type SubmitOptions struct {
	// ID fixes the task id; empty means generate a UUID.
	ID         string
	Priority   *int
	MaxRetries *int
	DependsOn  []string
	BestEffort bool
	Timeout    time.Duration
	ClaimTTL   time.Duration
}

// Filter selects instances in List. Empty fields match everything.
type Filter struct {
	Status Status
	// TaskDefID is a glob pattern such as "exec" or "build-*".
	TaskDefID string
	// ClaimedBy matches the claiming peer id exactly.
	ClaimedBy string
}

// Counts reports the number of instances per status.
type Counts struct {
	Pending   int `json:"pending"`
	Ready     int `json:"ready"`
	Claimed   int `json:"claimed"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Timeout   int `json:"timeout"`
	Total     int `json:"total"`
}

// Terminal returns the number of instances in a final state.
func (c Counts) Terminal() int {
	return c.Completed + c.Failed + c.Cancelled + c.Timeout
}
