package graph

import (
	"fmt"
	"iter"

	"github.com/Iron-Ham/gotmesh/internal/errors"
)

// ReadyNodes yields the ids of Ready nodes not yet handed to the scheduler,
// in insertion order. The sequence is lazy: each node is re-checked just
// before it is yielded, so callers may mutate the store while iterating.
// Callers must call MarkScheduled for every id they consume or it will be
// yielded again on the next pass.
func (s *Store) ReadyNodes() iter.Seq[string] {
	return func(yield func(string) bool) {
		s.mu.RLock()
		ids := make([]string, len(s.order))
		copy(ids, s.order)
		s.mu.RUnlock()

		for _, id := range ids {
			s.mu.RLock()
			n, ok := s.nodes[id]
			ready := ok && n.Status == StatusReady && !n.scheduled
			s.mu.RUnlock()
			if ready && !yield(id) {
				return
			}
		}
	}
}

// MarkScheduled records that id has been pushed to the scheduler.
func (s *Store) MarkScheduled(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.get(id)
	if err != nil {
		return err
	}
	if n.Status != StatusReady {
		return fmt.Errorf("%w: %s is %s, not ready", errors.ErrInvalidTransition, id, n.Status)
	}
	n.scheduled = true
	return nil
}

// Unschedule clears the scheduled bit of a Ready node, so that it is yielded
// again by ReadyNodes without changing its priority.
func (s *Store) Unschedule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.get(id)
	if err != nil {
		return err
	}
	n.scheduled = false
	return nil
}

// MarkRunning moves a Ready node to Running.
func (s *Store) MarkRunning(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.get(id)
	if err != nil {
		return err
	}
	if n.Status != StatusReady {
		return fmt.Errorf("%w: %s is %s, not ready", errors.ErrInvalidTransition, id, n.Status)
	}
	n.Status = StatusRunning
	n.UpdatedAt = s.now()
	return nil
}

// Requeue returns a Ready or Running node to Ready and clears its scheduled
// bit so that the next ReadyNodes pass yields it again. Used for retries,
// expired claims and yielded work.
func (s *Store) Requeue(id string, priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.get(id)
	if err != nil {
		return err
	}
	if n.Status != StatusReady && n.Status != StatusRunning {
		return fmt.Errorf("%w: cannot requeue %s node %s", errors.ErrInvalidTransition, n.Status, id)
	}
	n.Status = StatusReady
	n.Priority = priority
	n.scheduled = false
	n.UpdatedAt = s.now()
	return nil
}

// MarkCompleted marks id Completed and returns the children that became
// Ready as a result, in sorted order.
func (s *Store) MarkCompleted(id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if n.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is already %s", errors.ErrInvalidTransition, id, n.Status)
	}
	n.Status = StatusCompleted
	n.UpdatedAt = s.now()

	var unblocked []string
	for _, cid := range sortedKeys(n.Children) {
		child := s.nodes[cid]
		if child.Status == StatusPending && s.satisfied(child) {
			child.Status = StatusReady
			child.UpdatedAt = n.UpdatedAt
			unblocked = append(unblocked, cid)
		}
	}
	return unblocked, nil
}

// MarkFailed marks id Failed and cascades the failure through its strict
// descendants. Each descendant is visited at most once, so the cascade is
// reported exactly once for this root cause. BestEffort descendants stop the
// cascade: they are flagged Degraded and readied once all of their parents
// have resolved.
func (s *Store) MarkFailed(id string) (Cascade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.get(id)
	if err != nil {
		return Cascade{}, err
	}
	if n.Status.IsTerminal() {
		return Cascade{}, fmt.Errorf("%w: %s is already %s", errors.ErrInvalidTransition, id, n.Status)
	}
	now := s.now()
	n.Status = StatusFailed
	n.UpdatedAt = now

	out := Cascade{Root: id}
	visited := map[string]struct{}{id: {}}
	queue := sortedKeys(n.Children)
	for len(queue) > 0 {
		cid := queue[0]
		queue = queue[1:]
		if _, seen := visited[cid]; seen {
			continue
		}
		visited[cid] = struct{}{}

		child := s.nodes[cid]
		if child.Status.started() {
			continue
		}
		if child.BestEffort {
			child.Degraded = true
			child.UpdatedAt = now
			out.Degraded = append(out.Degraded, cid)
			if child.Status == StatusPending && s.satisfied(child) {
				child.Status = StatusReady
				out.Ready = append(out.Ready, cid)
			}
			continue
		}
		// A Ready node with a failed parent cannot exist: Ready requires
		// every strict parent Completed. Only Pending nodes land here.
		child.Status = StatusFailed
		child.UpdatedAt = now
		out.Failed = append(out.Failed, cid)
		queue = append(queue, sortedKeys(child.Children)...)
	}
	return out, nil
}

// MarkCancelled cancels id and every descendant that has not started yet.
// Running descendants are left to finish. The returned slice lists the
// cascaded descendants, excluding id itself.
func (s *Store) MarkCancelled(id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if n.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is already %s", errors.ErrInvalidTransition, id, n.Status)
	}
	now := s.now()
	n.Status = StatusCancelled
	n.UpdatedAt = now

	var cancelled []string
	for _, did := range s.descendants(id) {
		d := s.nodes[did]
		if d.Status.started() {
			continue
		}
		d.Status = StatusCancelled
		d.UpdatedAt = now
		cancelled = append(cancelled, did)
	}
	return cancelled, nil
}
