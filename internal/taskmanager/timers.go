package taskmanager

import (
	"time"

	"github.com/Iron-Ham/gotmesh/internal/event"
)

// armLocked starts the single timer an instance may have: claim expiry,
// hold expiry or a remote lease. Arming replaces any previous timer; a timer
// that fires after being replaced sees a newer generation and does nothing.
// Must be called with m.mu held.
func (m *Manager) armLocked(inst *Instance, d time.Duration, fire func(*Instance, *[]event.Event)) {
	m.disarmLocked(inst)
	inst.timerGen++
	gen, id := inst.timerGen, inst.ID

	m.timers[id] = time.AfterFunc(d, func() {
		var evs []event.Event
		m.mu.Lock()
		cur, ok := m.instances[id]
		if ok && cur.timerGen == gen {
			delete(m.timers, id)
			fire(cur, &evs)
		}
		m.mu.Unlock()
		m.emit(evs)
	})
}

// disarmLocked stops the instance's timer, if any.
func (m *Manager) disarmLocked(inst *Instance) {
	if t, ok := m.timers[inst.ID]; ok {
		t.Stop()
		delete(m.timers, inst.ID)
	}
	inst.timerGen++
}

// Close stops every pending timer and aborts running executions. The
// manager must not be used afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	for id, cancel := range m.execs {
		cancel(nil)
		delete(m.execs, id)
	}
}
