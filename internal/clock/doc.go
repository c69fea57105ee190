// Package clock implements the Merkle clock peers use to agree on task
// ownership without a coordinator.
//
// Each peer keeps a counter and a hash chain: every local operation bumps the
// counter and folds (previous heads, counter, operation, peer id) into a new
// SHA-256 head. A [State] maps peer ids to their latest [Entry]; merging two
// states is a join (commutative, associative, idempotent), so peers that have
// exchanged the same ticks converge to the same State regardless of order.
//
// [Winner] totally orders competing claims on a task by (counter desc, head
// asc, peer id asc). Every peer evaluating the same claim set picks the same
// winner, which is the arbitration primitive the coordinator builds on.
package clock
