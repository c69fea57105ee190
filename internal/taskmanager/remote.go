package taskmanager

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Iron-Ham/gotmesh/internal/errors"
	"github.com/Iron-Ham/gotmesh/internal/event"
)

// The Adopt methods apply lifecycle transitions reported by other peers.
// They never touch a task the local peer is executing; the coordinator
// yields such a task first when the remote claim wins.

// AdoptStarted records that peerID is executing a Ready task. If no further
// report arrives within lease the task reverts to Ready. Reports for tasks
// that are not Ready locally are ignored.
func (m *Manager) AdoptStarted(taskID, peerID string, lease time.Duration) error {
	var evs []event.Event
	m.mu.Lock()
	defer func() {
		m.mu.Unlock()
		m.emit(evs)
	}()

	inst, err := m.getLocked(taskID)
	if err != nil {
		return err
	}
	switch {
	case inst.Status == StatusRunning && inst.Remote && inst.ClaimedBy == peerID:
		m.armLocked(inst, lease, m.expireLeaseLocked)
		return nil
	case (inst.Status == StatusClaimed || inst.Status == StatusRunning) && !inst.Remote:
		return fmt.Errorf("%w: %s is claimed locally", errors.ErrClaimMismatch, taskID)
	case inst.Status != StatusReady:
		m.logger.Debug("ignoring remote start", "task_id", taskID, "peer_id", peerID, "status", string(inst.Status))
		return nil
	}

	m.sched.Remove(taskID)
	inst.held = false
	now := m.now()
	inst.Status = StatusRunning
	inst.Remote = true
	inst.ClaimedBy = peerID
	inst.ClaimedAt = &now
	inst.StartedAt = &now
	inst.WorkerID = ""
	if err := m.graph.MarkRunning(taskID); err != nil {
		m.logger.Warn("graph out of sync on remote start", "task_id", taskID, "error", err)
	}
	m.armLocked(inst, lease, m.expireLeaseLocked)

	evs = append(evs, event.NewTaskClaimedEvent(taskID, peerID), m.depthEventLocked())
	return nil
}

// expireLeaseLocked reverts a remote execution that went silent.
func (m *Manager) expireLeaseLocked(inst *Instance, evs *[]event.Event) {
	if inst.Status != StatusRunning || !inst.Remote {
		return
	}
	peer := inst.ClaimedBy
	m.logger.Info("remote lease expired", "task_id", inst.ID, "peer_id", peer)
	m.requeueLocked(inst, inst.Priority, 0, evs)
	*evs = append(*evs, event.NewClaimExpiredEvent(inst.ID, peer), m.depthEventLocked())
}

// AdoptCompleted commits a result produced by peerID. A local attempt of
// the same task is aborted with errors.ErrClaimYielded. It returns the
// dependents that became Ready; a task that already completed is left as
// is.
func (m *Manager) AdoptCompleted(taskID, peerID string, result json.RawMessage) ([]string, error) {
	var evs []event.Event
	m.mu.Lock()
	inst, err := m.getLocked(taskID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	switch inst.Status {
	case StatusCompleted:
		m.mu.Unlock()
		return nil, nil
	case StatusCancelled:
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", errors.ErrTaskCancelled, taskID)
	case StatusFailed, StatusTimeout:
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s already %s", errors.ErrInvalidTransition, taskID, inst.Status)
	}
	if err := m.results.Save(taskID, result); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("save result for %s: %w", taskID, err)
	}
	inst.ClaimedBy = peerID
	unblocked := m.completeLocked(inst, result, true, &evs)
	m.mu.Unlock()

	m.logger.Info("task completed by peer", "task_id", taskID, "peer_id", peerID, "unblocked", unblocked)
	m.emit(evs)
	return unblocked, nil
}

// AdoptFailed commits a terminal failure reported by peerID and cascades
// it like a local one.
func (m *Manager) AdoptFailed(taskID, peerID string, taskErr *errors.TaskError) error {
	var evs []event.Event
	m.mu.Lock()
	inst, err := m.getLocked(taskID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if inst.Status.IsTerminal() {
		m.mu.Unlock()
		return nil
	}
	if taskErr == nil {
		taskErr = &errors.TaskError{Kind: "error", Message: "failed on " + peerID}
	}
	status := StatusFailed
	if taskErr.Kind == "timeout" {
		status = StatusTimeout
	}
	inst.ClaimedBy = peerID
	m.failTerminalLocked(inst, status, taskErr, true, &evs)
	m.mu.Unlock()

	m.emit(evs)
	return nil
}

// AdoptReleased reverts a task peerID was executing but gave up, for
// instance because it yielded to a higher claim.
func (m *Manager) AdoptReleased(taskID, peerID string) error {
	var evs []event.Event
	m.mu.Lock()
	inst, err := m.getLocked(taskID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if inst.Remote && inst.ClaimedBy == peerID && inst.Status == StatusRunning {
		m.requeueLocked(inst, inst.Priority, 0, &evs)
		evs = append(evs, m.depthEventLocked())
	}
	m.mu.Unlock()

	m.emit(evs)
	return nil
}
