package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeTaskSubmitted     = "task.submitted"
	TypeTaskReady         = "task.ready"
	TypeTaskClaimed       = "task.claimed"
	TypeTaskStarted       = "task.started"
	TypeTaskCompleted     = "task.completed"
	TypeTaskFailed        = "task.failed"
	TypeTaskCancelled     = "task.cancelled"
	TypeTaskRetried       = "task.retried"
	TypeClaimExpired      = "task.claim_expired"
	TypeClaimDeferred     = "claim.deferred"
	TypeClaimYielded      = "claim.yielded"
	TypeQueueDepthChanged = "queue.depth_changed"
)

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{eventType: eventType, timestamp: time.Now()}
}

// -----------------------------------------------------------------------------
// Task Lifecycle Events
// -----------------------------------------------------------------------------

// TaskSubmittedEvent is emitted when a task instance is created.
type TaskSubmittedEvent struct {
	baseEvent
	TaskID    string
	TaskDefID string
	DependsOn []string
}

// NewTaskSubmittedEvent creates a TaskSubmittedEvent.
func NewTaskSubmittedEvent(taskID, taskDefID string, dependsOn []string) TaskSubmittedEvent {
	return TaskSubmittedEvent{
		baseEvent: newBaseEvent(TypeTaskSubmitted),
		TaskID:    taskID,
		TaskDefID: taskDefID,
		DependsOn: dependsOn,
	}
}

// TaskReadyEvent is emitted when a task's dependencies are satisfied and it
// has been placed in the scheduler.
type TaskReadyEvent struct {
	baseEvent
	TaskID   string
	Priority int
	Degraded bool // at least one best-effort input failed
}

// NewTaskReadyEvent creates a TaskReadyEvent.
func NewTaskReadyEvent(taskID string, priority int, degraded bool) TaskReadyEvent {
	return TaskReadyEvent{
		baseEvent: newBaseEvent(TypeTaskReady),
		TaskID:    taskID,
		Priority:  priority,
		Degraded:  degraded,
	}
}

// TaskClaimedEvent is emitted when a peer wins arbitration and claims a task.
type TaskClaimedEvent struct {
	baseEvent
	TaskID string
	PeerID string
}

// NewTaskClaimedEvent creates a TaskClaimedEvent.
func NewTaskClaimedEvent(taskID, peerID string) TaskClaimedEvent {
	return TaskClaimedEvent{
		baseEvent: newBaseEvent(TypeTaskClaimed),
		TaskID:    taskID,
		PeerID:    peerID,
	}
}

// TaskStartedEvent is emitted when a worker begins executing a claimed task.
type TaskStartedEvent struct {
	baseEvent
	TaskID   string
	WorkerID string
	Attempt  int
}

// NewTaskStartedEvent creates a TaskStartedEvent.
func NewTaskStartedEvent(taskID, workerID string, attempt int) TaskStartedEvent {
	return TaskStartedEvent{
		baseEvent: newBaseEvent(TypeTaskStarted),
		TaskID:    taskID,
		WorkerID:  workerID,
		Attempt:   attempt,
	}
}

// TaskCompletedEvent is emitted when a task completes successfully.
type TaskCompletedEvent struct {
	baseEvent
	TaskID    string
	Unblocked []string // dependents that became ready
	Remote    bool     // outcome adopted from another peer
}

// NewTaskCompletedEvent creates a TaskCompletedEvent.
func NewTaskCompletedEvent(taskID string, unblocked []string, remote bool) TaskCompletedEvent {
	return TaskCompletedEvent{
		baseEvent: newBaseEvent(TypeTaskCompleted),
		TaskID:    taskID,
		Unblocked: unblocked,
		Remote:    remote,
	}
}

// TaskFailedEvent is emitted once per root cause when a task fails
// terminally. Cascaded lists the descendants failed as a consequence and
// Degraded the best-effort descendants that were readied anyway.
type TaskFailedEvent struct {
	baseEvent
	TaskID   string
	Kind     string // error taxonomy kind, e.g. "execution", "timeout"
	Error    string
	Cascaded []string
	Degraded []string
}

// NewTaskFailedEvent creates a TaskFailedEvent.
func NewTaskFailedEvent(taskID, kind, errMsg string, cascaded, degraded []string) TaskFailedEvent {
	return TaskFailedEvent{
		baseEvent: newBaseEvent(TypeTaskFailed),
		TaskID:    taskID,
		Kind:      kind,
		Error:     errMsg,
		Cascaded:  cascaded,
		Degraded:  degraded,
	}
}

// TaskCancelledEvent is emitted when a task is cancelled, listing the
// not-yet-started descendants cancelled with it.
type TaskCancelledEvent struct {
	baseEvent
	TaskID   string
	Cascaded []string
}

// NewTaskCancelledEvent creates a TaskCancelledEvent.
func NewTaskCancelledEvent(taskID string, cascaded []string) TaskCancelledEvent {
	return TaskCancelledEvent{
		baseEvent: newBaseEvent(TypeTaskCancelled),
		TaskID:    taskID,
		Cascaded:  cascaded,
	}
}

// TaskRetriedEvent is emitted when a failed attempt is resubmitted.
type TaskRetriedEvent struct {
	baseEvent
	TaskID  string
	Attempt int // attempts consumed so far
	Reason  string
}

// NewTaskRetriedEvent creates a TaskRetriedEvent.
func NewTaskRetriedEvent(taskID string, attempt int, reason string) TaskRetriedEvent {
	return TaskRetriedEvent{
		baseEvent: newBaseEvent(TypeTaskRetried),
		TaskID:    taskID,
		Attempt:   attempt,
		Reason:    reason,
	}
}

// ClaimExpiredEvent is emitted when a claim lapses without a start and the
// task is returned to the scheduler.
type ClaimExpiredEvent struct {
	baseEvent
	TaskID string
	PeerID string
}

// NewClaimExpiredEvent creates a ClaimExpiredEvent.
func NewClaimExpiredEvent(taskID, peerID string) ClaimExpiredEvent {
	return ClaimExpiredEvent{
		baseEvent: newBaseEvent(TypeClaimExpired),
		TaskID:    taskID,
		PeerID:    peerID,
	}
}

// -----------------------------------------------------------------------------
// Arbitration Events
// -----------------------------------------------------------------------------

// ClaimDeferredEvent is emitted when the local peer loses arbitration and
// re-queues a task behind another peer's claim.
type ClaimDeferredEvent struct {
	baseEvent
	TaskID      string
	Winner      string
	NewPriority int
}

// NewClaimDeferredEvent creates a ClaimDeferredEvent.
func NewClaimDeferredEvent(taskID, winner string, newPriority int) ClaimDeferredEvent {
	return ClaimDeferredEvent{
		baseEvent:   newBaseEvent(TypeClaimDeferred),
		TaskID:      taskID,
		Winner:      winner,
		NewPriority: newPriority,
	}
}

// ClaimYieldedEvent is emitted when a late competing claim forces the local
// peer to abandon a claimed or running but uncommitted task.
type ClaimYieldedEvent struct {
	baseEvent
	TaskID string
	Winner string
}

// NewClaimYieldedEvent creates a ClaimYieldedEvent.
func NewClaimYieldedEvent(taskID, winner string) ClaimYieldedEvent {
	return ClaimYieldedEvent{
		baseEvent: newBaseEvent(TypeClaimYielded),
		TaskID:    taskID,
		Winner:    winner,
	}
}

// -----------------------------------------------------------------------------
// Scheduler Events
// -----------------------------------------------------------------------------

// QueueDepthChangedEvent reports task counts per status.
type QueueDepthChangedEvent struct {
	baseEvent
	Pending   int
	Ready     int
	Claimed   int
	Running   int
	Completed int
	Failed    int
	Cancelled int
	Total     int
}

// NewQueueDepthChangedEvent creates a QueueDepthChangedEvent.
func NewQueueDepthChangedEvent(pending, ready, claimed, running, completed, failed, cancelled, total int) QueueDepthChangedEvent {
	return QueueDepthChangedEvent{
		baseEvent: newBaseEvent(TypeQueueDepthChanged),
		Pending:   pending,
		Ready:     ready,
		Claimed:   claimed,
		Running:   running,
		Completed: completed,
		Failed:    failed,
		Cancelled: cancelled,
		Total:     total,
	}
}
