package graph

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Iron-Ham/gotmesh/internal/errors"
)

// NodeRecord is the serializable form of a Node.
type NodeRecord struct {
	ID         string          `json:"id"`
	DependsOn  []string        `json:"depends_on,omitempty"`
	Priority   int             `json:"priority"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	BestEffort bool            `json:"best_effort,omitempty"`
	Degraded   bool            `json:"degraded,omitempty"`
	Status     Status          `json:"status"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Snapshot returns every node in topological order, so that Restore can
// relink edges in a single pass.
func (s *Store) Snapshot() []NodeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, err := s.topoOrder()
	if err != nil {
		order = s.order
	}
	out := make([]NodeRecord, 0, len(order))
	for _, id := range order {
		n := s.nodes[id]
		out = append(out, NodeRecord{
			ID:         n.ID,
			DependsOn:  sortedKeys(n.Parents),
			Priority:   n.Priority,
			Payload:    n.Payload,
			BestEffort: n.BestEffort,
			Degraded:   n.Degraded,
			Status:     n.Status,
			UpdatedAt:  n.UpdatedAt,
		})
	}
	return out
}

// Restore replaces the graph with records. Statuses are taken as recorded,
// except that Running nodes come back as Ready. No node is marked scheduled.
func (s *Store) Restore(records []NodeRecord) error {
	nodes := make(map[string]*Node, len(records))
	order := make([]string, 0, len(records))

	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("%w: node record without id", errors.ErrInvalidInput)
		}
		if _, dup := nodes[r.ID]; dup {
			return fmt.Errorf("%w: %s", errors.ErrDuplicateNode, r.ID)
		}
		status := r.Status
		if status == StatusRunning {
			status = StatusReady
		}
		n := &Node{
			ID:         r.ID,
			Priority:   r.Priority,
			Payload:    r.Payload,
			BestEffort: r.BestEffort,
			Degraded:   r.Degraded,
			Status:     status,
			UpdatedAt:  r.UpdatedAt,
			Parents:    make(map[string]struct{}, len(r.DependsOn)),
			Children:   make(map[string]struct{}),
		}
		for _, dep := range r.DependsOn {
			parent, ok := nodes[dep]
			if !ok {
				return fmt.Errorf("%w: dependency %s of %s", errors.ErrNodeNotFound, dep, r.ID)
			}
			n.Parents[dep] = struct{}{}
			parent.Children[r.ID] = struct{}{}
		}
		nodes[r.ID] = n
		order = append(order, r.ID)
	}

	s.mu.Lock()
	s.nodes = nodes
	s.order = order
	s.mu.Unlock()
	return nil
}
