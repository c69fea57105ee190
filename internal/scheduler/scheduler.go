package scheduler

import (
	"fmt"
	"sync"

	"github.com/Iron-Ham/gotmesh/internal/errors"
)

// Scheduler is a concurrency-safe priority queue of task ids.
//
// All structural mutation happens under a single mutex. The scheduler never
// calls out while holding it, so it can be used from graph callbacks, worker
// goroutines and timer functions alike.
type Scheduler struct {
	mu      sync.Mutex
	heap    *Heap
	handles map[string]Handle
	wake    chan struct{}
}

// New creates an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{
		heap:    NewHeap(),
		handles: make(map[string]Handle),
		wake:    make(chan struct{}, 1),
	}
}

// Push queues taskID with the given priority. A task can be queued once;
// use Reprioritize to change the priority of a queued task.
func (s *Scheduler) Push(taskID string, priority int) error {
	s.mu.Lock()
	if _, exists := s.handles[taskID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: task %s is already queued", errors.ErrInvalidInput, taskID)
	}
	s.handles[taskID] = s.heap.Insert(priority, taskID)
	s.mu.Unlock()

	s.signal()
	return nil
}

// Pop removes and returns the most urgent task.
func (s *Scheduler) Pop() (taskID string, priority int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	taskID, priority, ok = s.heap.ExtractMin()
	if ok {
		delete(s.handles, taskID)
	}
	return taskID, priority, ok
}

// Peek returns the most urgent task without removing it.
func (s *Scheduler) Peek() (taskID string, priority int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.FindMin()
}

// Reprioritize changes the priority of a queued task. Lowering it is a
// decrease-key; raising it re-inserts the task behind existing entries of
// the new priority.
func (s *Scheduler) Reprioritize(taskID string, priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[taskID]
	if !ok {
		return fmt.Errorf("%w: %s is not queued", errors.ErrTaskNotFound, taskID)
	}
	current, _ := s.heap.Priority(h)
	if priority <= current {
		return s.heap.DecreaseKey(h, priority)
	}
	if err := s.heap.Delete(h); err != nil {
		return err
	}
	s.handles[taskID] = s.heap.Insert(priority, taskID)
	return nil
}

// Remove drops taskID from the queue. It reports whether the task was queued.
func (s *Scheduler) Remove(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[taskID]
	if !ok {
		return false
	}
	delete(s.handles, taskID)
	return s.heap.Delete(h) == nil
}

// Contains reports whether taskID is queued.
func (s *Scheduler) Contains(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[taskID]
	return ok
}

// Len returns the number of queued tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Len()
}

// Stats returns the heap operation counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Stats()
}

// Wake returns a channel that receives a value after a Push. Idle workers
// select on it alongside a poll timer. Signals coalesce: a single pending
// value stands for any number of pushes.
func (s *Scheduler) Wake() <-chan struct{} {
	return s.wake
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
