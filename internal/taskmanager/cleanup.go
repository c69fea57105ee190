package taskmanager

import (
	"slices"
	"time"
)

// CleanupOldTasks removes terminal tasks that finished more than retention
// ago, together with their stored results. A task is kept while any of its
// dependents is still live. It returns the number of tasks removed.
func (m *Manager) CleanupOldTasks(retention time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, err := m.graph.TopologicalOrder()
	if err != nil {
		m.logger.Error("cleanup skipped, graph is not acyclic", "error", err)
		return 0
	}
	cutoff := m.now().Add(-retention)

	removed := make(map[string]bool)
	// Dependents come after their parents, so walking backwards frees each
	// child before the parent's removal is checked.
	for _, id := range slices.Backward(order) {
		inst, ok := m.instances[id]
		if !ok || !inst.Status.IsTerminal() || inst.CompletedAt == nil || inst.CompletedAt.After(cutoff) {
			continue
		}
		if err := m.graph.Remove(id); err != nil {
			continue
		}
		if err := m.results.Delete(id); err != nil {
			m.logger.Warn("failed to delete result", "task_id", id, "error", err)
		}
		m.disarmLocked(inst)
		delete(m.instances, id)
		removed[id] = true
	}
	if len(removed) == 0 {
		return 0
	}
	m.order = slices.DeleteFunc(m.order, func(id string) bool { return removed[id] })

	m.logger.Info("cleaned up old tasks", "removed", len(removed), "retention", retention.String())
	return len(removed)
}
