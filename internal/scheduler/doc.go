// Package scheduler orders ready tasks for execution.
//
// [Heap] is a Fibonacci heap stored as an arena: every entry lives in one
// slice and links to its parent, first child and circular siblings by index.
// Callers hold [Handle] values (index plus generation) instead of pointers, so
// a handle to an extracted entry is detected as stale rather than aliasing a
// reused slot.
//
// Keys are integer priorities where lower means more urgent. Entries with
// equal priority come out in insertion order.
//
// [Scheduler] wraps a Heap with a mutex, a task id index and a wake channel,
// and is what the task manager and workers share.
package scheduler
