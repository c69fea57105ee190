// Package worker runs task executions.
//
// A [Pool] keeps a fixed number of slots busy: each slot pops the most
// urgent Ready task, asks an [Arbiter] whether this peer may run it, starts
// it, executes it through the task-kind registry and records the outcome.
// Each attempt is bounded by the task's timeout. The Arbiter is the seam to
// the peer coordinator; [Local] is the single-peer arbiter.
package worker
