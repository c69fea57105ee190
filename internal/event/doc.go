// Package event provides a synchronous pub-sub event bus used to decouple
// the task core from its observers (CLI output, state persistence, tests).
//
// # Main Types
//
//   - [Event]: interface with EventType() and Timestamp()
//   - [Bus]: synchronous dispatcher, safe for concurrent use
//   - [Handler]: func(Event)
//
// # Event Categories
//
// Task lifecycle (published by the task manager):
//   - [TaskSubmittedEvent], [TaskReadyEvent], [TaskClaimedEvent],
//     [TaskStartedEvent], [TaskCompletedEvent], [TaskFailedEvent],
//     [TaskCancelledEvent], [TaskRetriedEvent], [ClaimExpiredEvent]
//
// Arbitration (published by the peer coordinator):
//   - [ClaimDeferredEvent], [ClaimYieldedEvent]
//
// Scheduler:
//   - [QueueDepthChangedEvent]
//
// # Event Type Naming Convention
//
// Event types follow the pattern "category.action", e.g. "task.completed",
// "claim.deferred", "queue.depth_changed".
//
// # Thread Safety
//
// Handlers are called synchronously on the publishing goroutine and must not
// call back into the publisher while it holds a lock. Publishers in this
// module always publish after releasing their own locks.
package event
