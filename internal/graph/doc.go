// Package graph implements the task dependency DAG ("Graph-of-Thought").
//
// A [Store] owns node identity, parent/child edges and per-node readiness.
// It never calls into the scheduler: every mutation that can make nodes
// runnable marks them Ready and leaves them unscheduled, and the caller
// drains them through [Store.ReadyNodes] after the call returns. This keeps
// the graph lock and the scheduler lock strictly unnested.
//
// Readiness is a strict AND-join: a node becomes Ready only when every parent
// is Completed. A failed parent fails all strict descendants transitively,
// except nodes flagged BestEffort, which treat a failed parent as satisfied
// and are readied with the Degraded flag set.
//
// Usage:
//
//	g := graph.New()
//	_, _ = g.AddNode(graph.Node{ID: "fetch", Priority: 1}, nil)
//	_, _ = g.AddNode(graph.Node{ID: "summarize", Priority: 2}, []string{"fetch"})
//
//	for id := range g.ReadyNodes() {
//	    g.MarkScheduled(id)
//	    // push id into the scheduler
//	}
//
//	unblocked, _ := g.MarkCompleted("fetch") // ["summarize"]
package graph
