// Package taskmanager owns the lifecycle of task instances.
//
// A [Manager] ties together the dependency graph, the priority scheduler, the
// task-kind registry and the result store. Every state change goes through
// it:
//
//	Pending -> Ready -> Claimed -> Running -> Completed | Failed | Timeout
//
// with Cancelled reachable from any non-terminal state. A Claimed task that is
// not started within its claim TTL returns to Ready; a failed or timed-out
// attempt returns to Ready while retries remain. Peers learn about each
// other's progress through the Adopt* methods, which mirror a remote peer's
// outcome locally so that dependents unblock everywhere.
//
// Locking: the Manager mutex is taken first; the graph and scheduler locks
// are only ever taken one at a time beneath it. Events are published after
// the Manager mutex is released, so bus handlers may call back in.
package taskmanager
