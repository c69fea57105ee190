package graph

import (
	"encoding/json"
	"time"
)

// Status is the graph-level state of a node. It mirrors the coarse task
// lifecycle: claim bookkeeping lives in the task manager, not here.
type Status string

const (
	// StatusPending means at least one dependency is unresolved.
	StatusPending Status = "pending"
	// StatusReady means all dependencies are satisfied.
	StatusReady Status = "ready"
	// StatusRunning means a worker has started the task.
	StatusRunning Status = "running"
	// StatusCompleted is terminal success.
	StatusCompleted Status = "completed"
	// StatusFailed is terminal failure, direct or cascaded.
	StatusFailed Status = "failed"
	// StatusCancelled is terminal cancellation.
	StatusCancelled Status = "cancelled"
)

// IsTerminal returns true if this status represents a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// started reports whether work on the node has begun or finished.
func (s Status) started() bool {
	return s == StatusRunning || s.IsTerminal()
}

// Node is one vertex of the task graph. Parents and Children are id sets.
type Node struct {
	ID       string
	Priority int
	Payload  json.RawMessage

	// BestEffort nodes run even when a parent fails.
	BestEffort bool
	// Degraded is set on a BestEffort node when at least one parent failed.
	Degraded bool

	Status    Status
	UpdatedAt time.Time

	Parents  map[string]struct{}
	Children map[string]struct{}

	scheduled bool
}

// Scheduled reports whether the node has been handed to the scheduler.
func (n *Node) Scheduled() bool { return n.scheduled }

// clone returns a deep copy safe to hand to callers.
func (n *Node) clone() Node {
	cp := *n
	cp.Parents = make(map[string]struct{}, len(n.Parents))
	for id := range n.Parents {
		cp.Parents[id] = struct{}{}
	}
	cp.Children = make(map[string]struct{}, len(n.Children))
	for id := range n.Children {
		cp.Children[id] = struct{}{}
	}
	if n.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), n.Payload...)
	}
	return cp
}

// Admission describes the state a node entered when it was added.
type Admission struct {
	Status Status
	// RootCause is the failed or cancelled dependency that decided Status,
	// when Status is StatusFailed or StatusCancelled.
	RootCause string
}

// Cascade is the outcome of a terminal failure, reported once per root cause.
type Cascade struct {
	Root string
	// Failed lists strict descendants failed because of Root, in BFS order.
	Failed []string
	// Degraded lists BestEffort descendants that absorbed the failure.
	Degraded []string
	// Ready lists degraded descendants whose dependencies are now all resolved.
	Ready []string
}
