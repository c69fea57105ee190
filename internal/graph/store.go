package graph

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Iron-Ham/gotmesh/internal/errors"
)

// Store is a concurrency-safe dependency graph.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	order []string // insertion order, used for deterministic iteration
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		nodes: make(map[string]*Node),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Len returns the number of nodes in the graph.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Node returns a copy of the node with the given id.
func (s *Store) Node(id string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.clone(), true
}

// AddNode inserts n with edges from every id in dependsOn. All dependencies
// must already exist. The returned Admission reports whether the node starts
// Pending, Ready, or already resolved because a dependency failed.
//
// On error the graph is left unchanged.
func (s *Store) AddNode(n Node, dependsOn []string) (Admission, error) {
	if n.ID == "" {
		return Admission{}, fmt.Errorf("%w: node id is required", errors.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[n.ID]; exists {
		return Admission{}, fmt.Errorf("%w: %s", errors.ErrDuplicateNode, n.ID)
	}

	deps := dedupe(dependsOn)
	for _, dep := range deps {
		if dep == n.ID {
			return Admission{}, errors.NewCycleError([]string{n.ID, n.ID})
		}
		if _, ok := s.nodes[dep]; !ok {
			return Admission{}, fmt.Errorf("%w: dependency %s of %s", errors.ErrNodeNotFound, dep, n.ID)
		}
	}

	node := &Node{
		ID:         n.ID,
		Priority:   n.Priority,
		Payload:    n.Payload,
		BestEffort: n.BestEffort,
		Status:     StatusPending,
		UpdatedAt:  s.now(),
		Parents:    make(map[string]struct{}, len(deps)),
		Children:   make(map[string]struct{}),
	}
	for _, dep := range deps {
		node.Parents[dep] = struct{}{}
		s.nodes[dep].Children[n.ID] = struct{}{}
	}
	s.nodes[n.ID] = node
	s.order = append(s.order, n.ID)

	return s.admit(node), nil
}

// admit resolves the initial state of a freshly linked node.
// Must be called with s.mu held.
func (s *Store) admit(node *Node) Admission {
	for _, pid := range sortedKeys(node.Parents) {
		parent := s.nodes[pid]
		switch parent.Status {
		case StatusCancelled:
			node.Status = StatusCancelled
			return Admission{Status: StatusCancelled, RootCause: pid}
		case StatusFailed:
			if node.BestEffort {
				node.Degraded = true
				continue
			}
			node.Status = StatusFailed
			return Admission{Status: StatusFailed, RootCause: pid}
		}
	}
	if s.satisfied(node) {
		node.Status = StatusReady
	}
	return Admission{Status: node.Status}
}

// AddEdges makes child depend on each of parents. The child must not have
// been handed to the scheduler yet; a Ready child drops back to Pending when
// a new parent is unresolved. Adding an edge that would close a cycle returns a *errors.CycleError
// describing the cycle and leaves the graph unchanged.
func (s *Store) AddEdges(child string, parents ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.nodes[child]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrNodeNotFound, child)
	}
	if c.scheduled || (c.Status != StatusPending && c.Status != StatusReady) {
		return fmt.Errorf("%w: cannot add dependencies to scheduled or %s node %s", errors.ErrInvalidTransition, c.Status, child)
	}

	deps := dedupe(parents)
	for _, pid := range deps {
		p, ok := s.nodes[pid]
		if !ok {
			return fmt.Errorf("%w: %s", errors.ErrNodeNotFound, pid)
		}
		if p.Status == StatusFailed || p.Status == StatusCancelled {
			return fmt.Errorf("%w: %s is %s", errors.ErrDependencyFailed, pid, p.Status)
		}
	}
	if path := s.findCycle(child, deps); path != nil {
		return errors.NewCycleError(path)
	}

	for _, pid := range deps {
		c.Parents[pid] = struct{}{}
		s.nodes[pid].Children[child] = struct{}{}
	}
	if c.Status == StatusReady && !s.satisfied(c) {
		c.Status = StatusPending
	}
	c.UpdatedAt = s.now()
	return nil
}

// findCycle reports the cycle closed by adding edges deps -> child, or nil.
// It walks upward from the dependency set, so the cost is bounded by the
// number of ancestors of deps. Must be called with s.mu held.
func (s *Store) findCycle(child string, deps []string) []string {
	via := make(map[string]string) // node -> the descendant it was reached from
	queue := make([]string, 0, len(deps))
	for _, d := range deps {
		if d == child {
			return []string{child, child}
		}
		if _, seen := via[d]; !seen {
			via[d] = ""
			queue = append(queue, d)
		}
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, pid := range sortedKeys(s.nodes[cur].Parents) {
			if pid == child {
				// child -> cur -> ... -> dep, closed by dep -> child.
				path := []string{child}
				for n := cur; n != ""; n = via[n] {
					path = append(path, n)
				}
				return append(path, child)
			}
			if _, seen := via[pid]; !seen {
				via[pid] = cur
				queue = append(queue, pid)
			}
		}
	}
	return nil
}

// satisfied reports whether every parent allows node to run.
// Must be called with s.mu held.
func (s *Store) satisfied(node *Node) bool {
	for pid := range node.Parents {
		switch s.nodes[pid].Status {
		case StatusCompleted:
		case StatusFailed, StatusCancelled:
			if !node.BestEffort {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (s *Store) get(id string) (*Node, error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrNodeNotFound, id)
	}
	return n, nil
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
