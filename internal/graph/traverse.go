package graph

import (
	"fmt"

	"github.com/Iron-Ham/gotmesh/internal/errors"
)

// Ancestors returns every node id id transitively depends on, nearest first.
func (s *Store) Ancestors(id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.get(id); err != nil {
		return nil, err
	}
	return s.walk(id, func(n *Node) map[string]struct{} { return n.Parents }), nil
}

// Descendants returns every node id that transitively depends on id,
// nearest first.
func (s *Store) Descendants(id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.get(id); err != nil {
		return nil, err
	}
	return s.descendants(id), nil
}

func (s *Store) descendants(id string) []string {
	return s.walk(id, func(n *Node) map[string]struct{} { return n.Children })
}

// walk is a BFS from id over the edge set returned by next, excluding id.
func (s *Store) walk(id string, next func(*Node) map[string]struct{}) []string {
	visited := map[string]struct{}{id: {}}
	var out []string
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, nid := range sortedKeys(next(s.nodes[cur])) {
			if _, seen := visited[nid]; seen {
				continue
			}
			visited[nid] = struct{}{}
			out = append(out, nid)
			queue = append(queue, nid)
		}
	}
	return out
}

// TopologicalOrder returns all node ids such that every node appears after
// its parents. Ties are broken by insertion order. It returns a CycleError if
// the graph is not acyclic, which AddNode and AddEdges never allow.
func (s *Store) TopologicalOrder() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topoOrder()
}

func (s *Store) topoOrder() ([]string, error) {
	inDegree := make(map[string]int, len(s.nodes))
	for id, n := range s.nodes {
		inDegree[id] = len(n.Parents)
	}

	var queue, order []string
	for _, id := range s.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		for _, cid := range sortedKeys(s.nodes[cur].Children) {
			inDegree[cid]--
			if inDegree[cid] == 0 {
				queue = append(queue, cid)
			}
		}
	}

	if len(order) != len(s.nodes) {
		var stuck []string
		for _, id := range s.order {
			if inDegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		return nil, errors.NewCycleError(stuck)
	}
	return order, nil
}

// IsAcyclic reports whether the graph has no cycles.
func (s *Store) IsAcyclic() bool {
	_, err := s.TopologicalOrder()
	return err == nil
}

// Remove deletes a terminal node whose children are all terminal too, so
// that no live node loses a dependency edge.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.get(id)
	if err != nil {
		return err
	}
	if !n.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", errors.ErrNodeNotTerminal, id, n.Status)
	}
	for cid := range n.Children {
		if !s.nodes[cid].Status.IsTerminal() {
			return fmt.Errorf("%w: child %s of %s is %s", errors.ErrNodeNotTerminal, cid, id, s.nodes[cid].Status)
		}
	}

	for pid := range n.Parents {
		delete(s.nodes[pid].Children, id)
	}
	for cid := range n.Children {
		delete(s.nodes[cid].Parents, id)
	}
	delete(s.nodes, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}
