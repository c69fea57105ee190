package taskmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Iron-Ham/gotmesh/internal/errors"
	"github.com/Iron-Ham/gotmesh/internal/event"
)

// Next pops the most urgent Ready task from the scheduler. The task stays
// Ready but is no longer queued; the caller must follow up with Claim, Hold
// or Release.
func (m *Manager) Next() (Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		id, _, ok := m.sched.Pop()
		if !ok {
			return Instance{}, false
		}
		inst, exists := m.instances[id]
		if exists && inst.Status == StatusReady && !inst.held {
			return inst.clone(), true
		}
	}
}

// Release puts a popped Ready task back into the scheduler at its current
// priority.
func (m *Manager) Release(taskID string) error {
	var evs []event.Event
	m.mu.Lock()
	inst, err := m.getLocked(taskID)
	if err == nil && inst.Status != StatusReady {
		err = fmt.Errorf("%w: cannot release %s task %s", errors.ErrInvalidTransition, inst.Status, taskID)
	}
	if err == nil && !inst.held && !m.sched.Contains(taskID) {
		_ = m.sched.Push(taskID, inst.Priority)
		evs = append(evs, event.NewTaskReadyEvent(taskID, inst.Priority, inst.Degraded))
	}
	m.mu.Unlock()

	m.emit(evs)
	return err
}

// Hold keeps a Ready task out of the scheduler for d and then queues it at
// priority. It is how the coordinator backs off from a task another peer
// won: the task is re-contested only if the winner never reports progress.
func (m *Manager) Hold(taskID string, d time.Duration, priority int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, err := m.getLocked(taskID)
	if err != nil {
		return err
	}
	if inst.Status != StatusReady {
		return fmt.Errorf("%w: cannot hold %s task %s", errors.ErrInvalidTransition, inst.Status, taskID)
	}
	m.sched.Remove(taskID)
	inst.Priority = priority
	if err := m.graph.Requeue(taskID, priority); err == nil {
		_ = m.graph.MarkScheduled(taskID)
	}
	m.holdLocked(inst, d)
	return nil
}

func (m *Manager) holdLocked(inst *Instance, d time.Duration) {
	inst.held = true
	m.armLocked(inst, d, m.unholdLocked)
}

// unholdLocked queues a held task once its hold expires.
func (m *Manager) unholdLocked(inst *Instance, evs *[]event.Event) {
	if !inst.held {
		return
	}
	inst.held = false
	if inst.Status != StatusReady {
		return
	}
	if err := m.sched.Push(inst.ID, inst.Priority); err != nil {
		_ = m.sched.Reprioritize(inst.ID, inst.Priority)
	}
	*evs = append(*evs, event.NewTaskReadyEvent(inst.ID, inst.Priority, inst.Degraded))
}

// Claim records that peerID won arbitration for a Ready task and starts the
// claim-expiry timer. Claiming again for the same peer is a no-op.
func (m *Manager) Claim(taskID, peerID string) error {
	var evs []event.Event
	m.mu.Lock()
	err := m.claimLocked(taskID, peerID, &evs)
	m.mu.Unlock()

	m.emit(evs)
	return err
}

func (m *Manager) claimLocked(taskID, peerID string, evs *[]event.Event) error {
	inst, err := m.getLocked(taskID)
	if err != nil {
		return err
	}
	switch {
	case inst.Status == StatusCancelled:
		return fmt.Errorf("%w: %s", errors.ErrTaskCancelled, taskID)
	case inst.Status == StatusClaimed && inst.ClaimedBy == peerID && !inst.Remote:
		return nil
	case inst.Status != StatusReady:
		return fmt.Errorf("%w: cannot claim %s task %s", errors.ErrInvalidTransition, inst.Status, taskID)
	}

	m.sched.Remove(taskID)
	inst.held = false
	now := m.now()
	inst.Status = StatusClaimed
	inst.ClaimedBy = peerID
	inst.ClaimedAt = &now
	inst.Remote = false

	ttl := inst.ClaimTTL
	if ttl <= 0 {
		ttl = m.claimTTL
	}
	m.armLocked(inst, ttl, m.expireClaimLocked)

	*evs = append(*evs, event.NewTaskClaimedEvent(taskID, peerID), m.depthEventLocked())
	return nil
}

// expireClaimLocked returns a claim that was never started to the scheduler.
func (m *Manager) expireClaimLocked(inst *Instance, evs *[]event.Event) {
	if inst.Status != StatusClaimed {
		return
	}
	peer := inst.ClaimedBy
	m.logger.Debug("claim expired", "task_id", inst.ID,
		"error", errors.NewClaimExpiredError(inst.ID, peer, inst.ClaimTTL).Error())

	m.requeueLocked(inst, inst.Priority, 0, evs)
	*evs = append(*evs, event.NewClaimExpiredEvent(inst.ID, peer), m.depthEventLocked())
}

// Start moves a Claimed task to Running and returns a context for the
// attempt. The context derives from ctx and is cancelled when the task is
// cancelled, yielded or resolved by another peer; context.Cause reports
// which. Starting a cancelled task returns errors.ErrTaskCancelled.
func (m *Manager) Start(ctx context.Context, taskID, workerID string) (context.Context, Instance, error) {
	var evs []event.Event
	m.mu.Lock()
	inst, err := m.getLocked(taskID)
	if err != nil {
		m.mu.Unlock()
		return nil, Instance{}, err
	}
	switch {
	case inst.Status == StatusCancelled:
		m.mu.Unlock()
		return nil, Instance{}, fmt.Errorf("%w: %s", errors.ErrTaskCancelled, taskID)
	case inst.Status != StatusClaimed || inst.Remote:
		m.mu.Unlock()
		return nil, Instance{}, fmt.Errorf("%w: cannot start %s task %s", errors.ErrInvalidTransition, inst.Status, taskID)
	}

	m.disarmLocked(inst)
	now := m.now()
	inst.Status = StatusRunning
	inst.StartedAt = &now
	inst.WorkerID = workerID
	inst.Attempts++
	if err := m.graph.MarkRunning(taskID); err != nil {
		m.logger.Warn("graph out of sync on start", "task_id", taskID, "error", err)
	}

	execCtx, cancel := context.WithCancelCause(ctx)
	m.execs[taskID] = cancel
	snapshot := inst.clone()
	evs = append(evs, event.NewTaskStartedEvent(taskID, workerID, inst.Attempts), m.depthEventLocked())
	m.mu.Unlock()

	m.emit(evs)
	return execCtx, snapshot, nil
}

// stopExecLocked cancels the attempt context of taskID, if one is live.
func (m *Manager) stopExecLocked(taskID string, cause error) {
	if cancel, ok := m.execs[taskID]; ok {
		cancel(cause)
		delete(m.execs, taskID)
	}
}

// localRunningLocked validates that the local peer is executing inst.
func localRunningLocked(inst *Instance) error {
	switch {
	case inst.Status == StatusCancelled:
		return fmt.Errorf("%w: %s", errors.ErrTaskCancelled, inst.ID)
	case inst.Status != StatusRunning:
		return fmt.Errorf("%w: %s task %s is not running", errors.ErrInvalidTransition, inst.Status, inst.ID)
	case inst.Remote:
		return fmt.Errorf("%w: %s runs on %s", errors.ErrClaimMismatch, inst.ID, inst.ClaimedBy)
	}
	return nil
}

// Complete records a successful attempt, saves its result and returns the
// dependents that became Ready.
func (m *Manager) Complete(taskID string, result json.RawMessage) ([]string, error) {
	var evs []event.Event
	m.mu.Lock()
	inst, err := m.getLocked(taskID)
	if err == nil {
		err = localRunningLocked(inst)
	}
	if err == nil {
		if saveErr := m.results.Save(taskID, result); saveErr != nil {
			err = fmt.Errorf("save result for %s: %w", taskID, saveErr)
		}
	}
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	unblocked := m.completeLocked(inst, result, false, &evs)
	m.mu.Unlock()

	m.logger.Info("task completed", "task_id", taskID, "unblocked", unblocked)
	m.emit(evs)
	return unblocked, nil
}

func (m *Manager) completeLocked(inst *Instance, result json.RawMessage, remote bool, evs *[]event.Event) []string {
	m.disarmLocked(inst)
	if remote {
		m.stopExecLocked(inst.ID, errors.ErrClaimYielded)
	} else {
		m.stopExecLocked(inst.ID, nil)
	}
	m.sched.Remove(inst.ID)
	inst.held = false

	now := m.now()
	inst.Status = StatusCompleted
	inst.CompletedAt = &now
	inst.Result = append(json.RawMessage(nil), result...)
	inst.Error = nil
	inst.Remote = remote

	unblocked, err := m.graph.MarkCompleted(inst.ID)
	if err != nil {
		m.logger.Warn("graph out of sync on completion", "task_id", inst.ID, "error", err)
	}
	m.scheduleReadyLocked(evs)
	*evs = append(*evs, event.NewTaskCompletedEvent(inst.ID, unblocked, remote), m.depthEventLocked())
	return unblocked
}

// Fail records a failed attempt. Retryable errors return the task to Ready
// while attempts remain; otherwise the task fails terminally and the failure
// cascades to its dependents.
func (m *Manager) Fail(taskID string, cause error) error {
	if cause == nil {
		cause = errors.New("unspecified failure")
	}
	return m.attemptFailed(taskID, cause, StatusFailed)
}

// Timeout records that the current attempt exceeded its deadline. It follows
// the retry policy of Fail and ends in StatusTimeout when retries run out.
func (m *Manager) Timeout(taskID string) error {
	m.mu.Lock()
	d := time.Duration(0)
	if inst, ok := m.instances[taskID]; ok {
		d = inst.Timeout
	}
	m.mu.Unlock()
	return m.attemptFailed(taskID, errors.NewTimeoutError("task "+taskID, d), StatusTimeout)
}

func (m *Manager) attemptFailed(taskID string, cause error, terminal Status) error {
	var evs []event.Event
	m.mu.Lock()
	inst, err := m.getLocked(taskID)
	if err == nil {
		err = localRunningLocked(inst)
	}
	if err != nil {
		m.mu.Unlock()
		return err
	}

	m.stopExecLocked(taskID, cause)
	inst.Error = errors.NewTaskError(cause)
	retry := errors.IsRetryable(cause) && inst.Attempts <= inst.MaxRetries
	if retry {
		m.requeueLocked(inst, inst.Priority, 0, &evs)
		evs = append(evs, event.NewTaskRetriedEvent(taskID, inst.Attempts, cause.Error()), m.depthEventLocked())
	} else {
		m.failTerminalLocked(inst, terminal, cause, false, &evs)
	}
	attempts, maxRetries := inst.Attempts, inst.MaxRetries
	m.mu.Unlock()

	if retry {
		m.logger.Info("task attempt failed, retrying", "task_id", taskID, "attempt", attempts, "max_retries", maxRetries, "error", cause.Error())
	}
	m.emit(evs)
	return nil
}

// failTerminalLocked fails inst and cascades to its strict dependents. The
// cascade is logged and published once, at the root.
func (m *Manager) failTerminalLocked(inst *Instance, status Status, cause error, remote bool, evs *[]event.Event) {
	m.disarmLocked(inst)
	m.stopExecLocked(inst.ID, cause)
	m.sched.Remove(inst.ID)
	inst.held = false

	now := m.now()
	inst.Status = status
	inst.CompletedAt = &now
	inst.Remote = remote
	if te, ok := cause.(*errors.TaskError); ok {
		inst.Error = te
	} else {
		inst.Error = errors.NewTaskError(cause)
	}

	cascade, err := m.graph.MarkFailed(inst.ID)
	if err != nil {
		m.logger.Warn("graph out of sync on failure", "task_id", inst.ID, "error", err)
	}
	for _, id := range cascade.Failed {
		d, ok := m.instances[id]
		if !ok {
			continue
		}
		m.disarmLocked(d)
		m.sched.Remove(id)
		d.held = false
		d.Status = StatusFailed
		d.CompletedAt = &now
		d.Error = errors.NewTaskError(errors.NewDependencyFailedError(id, inst.ID))
	}
	for _, id := range cascade.Degraded {
		if d, ok := m.instances[id]; ok {
			d.Degraded = true
		}
	}
	m.scheduleReadyLocked(evs)

	m.logger.Warn("task failed",
		"task_id", inst.ID,
		"status", string(status),
		"kind", inst.Error.Kind,
		"error", inst.Error.Message,
		"cascaded", len(cascade.Failed),
		"degraded", len(cascade.Degraded),
	)
	*evs = append(*evs,
		event.NewTaskFailedEvent(inst.ID, inst.Error.Kind, inst.Error.Message, cascade.Failed, cascade.Degraded),
		m.depthEventLocked(),
	)
}

// requeueLocked returns inst to Ready, dropping any claim. With hold > 0 the
// task is kept out of the scheduler for that long.
func (m *Manager) requeueLocked(inst *Instance, priority int, hold time.Duration, evs *[]event.Event) {
	m.disarmLocked(inst)
	inst.Status = StatusReady
	inst.Priority = priority
	inst.ClaimedBy = ""
	inst.ClaimedAt = nil
	inst.WorkerID = ""
	inst.Remote = false

	if err := m.graph.Requeue(inst.ID, priority); err != nil {
		m.logger.Warn("graph out of sync on requeue", "task_id", inst.ID, "error", err)
	}
	if hold > 0 {
		_ = m.graph.MarkScheduled(inst.ID)
		m.holdLocked(inst, hold)
		return
	}
	inst.held = false
	m.scheduleReadyLocked(evs)
}

// Cancel cancels a non-terminal task and every dependent that has not
// started. A running attempt of the task itself is aborted; running
// dependents finish. It reports whether anything was cancelled.
func (m *Manager) Cancel(taskID string) bool {
	var evs []event.Event
	m.mu.Lock()
	inst, ok := m.instances[taskID]
	if !ok || inst.Status.IsTerminal() {
		m.mu.Unlock()
		return false
	}

	now := m.now()
	m.cancelOneLocked(inst, now)
	cascaded, err := m.graph.MarkCancelled(taskID)
	if err != nil {
		m.logger.Warn("graph out of sync on cancel", "task_id", taskID, "error", err)
	}
	for _, id := range cascaded {
		if d, ok := m.instances[id]; ok {
			m.cancelOneLocked(d, now)
		}
	}
	evs = append(evs, event.NewTaskCancelledEvent(taskID, cascaded), m.depthEventLocked())
	m.mu.Unlock()

	m.logger.Info("task cancelled", "task_id", taskID, "cascaded", cascaded)
	m.emit(evs)
	return true
}

func (m *Manager) cancelOneLocked(inst *Instance, now time.Time) {
	m.disarmLocked(inst)
	m.stopExecLocked(inst.ID, errors.ErrTaskCancelled)
	m.sched.Remove(inst.ID)
	inst.held = false
	inst.Status = StatusCancelled
	inst.CompletedAt = &now
}

// Yield gives up a local claim or uncommitted attempt because winner's
// claim ranks higher. The task returns to Ready and is held for hold before
// it may be contested again. A task that already completed is unaffected:
// committed results are never rolled back.
func (m *Manager) Yield(taskID, winner string, hold time.Duration) error {
	var evs []event.Event
	m.mu.Lock()
	inst, err := m.getLocked(taskID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if (inst.Status != StatusClaimed && inst.Status != StatusRunning) || inst.Remote {
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot yield %s task %s", errors.ErrInvalidTransition, inst.Status, taskID)
	}

	if inst.Status == StatusRunning && inst.Attempts > 0 {
		// A yielded attempt did not fail, so it does not use up a retry.
		inst.Attempts--
	}
	m.stopExecLocked(taskID, errors.ErrClaimYielded)
	m.requeueLocked(inst, inst.Priority, hold, &evs)
	evs = append(evs, event.NewClaimYieldedEvent(taskID, winner), m.depthEventLocked())
	m.mu.Unlock()

	m.logger.Info("claim yielded", "task_id", taskID, "winner", winner)
	m.emit(evs)
	return nil
}
