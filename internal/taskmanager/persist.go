package taskmanager

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Iron-Ham/gotmesh/internal/errors"
	"github.com/Iron-Ham/gotmesh/internal/event"
	"github.com/Iron-Ham/gotmesh/internal/graph"
	"github.com/Iron-Ham/gotmesh/internal/store"
)

const (
	stateFileName = "tasks-state.json"
	stateLockName = "tasks.lock"
	stateVersion  = 1
)

// stateFile is the on-disk snapshot written by SaveState.
type stateFile struct {
	Version   int                `json:"version"`
	SavedAt   time.Time          `json:"saved_at"`
	Instances []Instance         `json:"instances"`
	Graph     []graph.NodeRecord `json:"graph"`
}

// SaveState writes every instance and dependency edge to dir. Results are
// left to the result store and are not duplicated in the snapshot.
func (m *Manager) SaveState(dir string) error {
	m.mu.Lock()
	sf := stateFile{
		Version:   stateVersion,
		SavedAt:   m.now(),
		Instances: make([]Instance, 0, len(m.order)),
		Graph:     m.graph.Snapshot(),
	}
	for _, id := range m.order {
		inst := m.instances[id].clone()
		inst.Result = nil
		sf.Instances = append(sf.Instances, inst)
	}
	m.mu.Unlock()

	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	err = store.WithLock(dir, stateLockName, func() error {
		return store.WriteFileAtomic(filepath.Join(dir, stateFileName), data)
	})
	if err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	m.logger.Debug("state saved", "dir", dir, "tasks", len(sf.Instances))
	return nil
}

// LoadState builds a Manager from the snapshot in dir. Tasks that were
// claimed or running when the snapshot was taken come back Ready, and an
// interrupted attempt is not counted against MaxRetries. Completed results
// are loaded from the configured result store. A missing snapshot yields an
// empty manager.
func LoadState(dir string, opts ...Option) (*Manager, error) {
	m := New(opts...)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	var data []byte
	err := store.WithLock(dir, stateLockName, func() error {
		var err error
		data, err = os.ReadFile(filepath.Join(dir, stateFileName))
		return err
	})
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	var sf stateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	if sf.Version != stateVersion {
		return nil, fmt.Errorf("%w: unsupported state version %d", errors.ErrInvalidInput, sf.Version)
	}
	if err := m.graph.Restore(sf.Graph); err != nil {
		return nil, fmt.Errorf("restore graph: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range sf.Instances {
		inst := sf.Instances[i]
		if _, ok := m.graph.Node(inst.ID); !ok {
			return nil, fmt.Errorf("%w: instance %s has no graph node", errors.ErrNodeNotFound, inst.ID)
		}
		switch inst.Status {
		case StatusClaimed, StatusRunning:
			if inst.Status == StatusRunning && inst.Attempts > 0 {
				inst.Attempts--
			}
			inst.Status = StatusReady
			inst.ClaimedBy = ""
			inst.ClaimedAt = nil
			inst.WorkerID = ""
			inst.Remote = false
		case StatusCompleted:
			result, ok, err := m.results.Load(inst.ID)
			if err != nil {
				return nil, fmt.Errorf("load result for %s: %w", inst.ID, err)
			}
			if ok {
				inst.Result = result
			}
		}
		m.instances[inst.ID] = &inst
		m.order = append(m.order, inst.ID)
	}

	// Nobody can be subscribed yet, so the Ready events are dropped.
	var evs []event.Event
	m.scheduleReadyLocked(&evs)
	m.logger.Info("state loaded", "dir", dir, "tasks", len(m.order))
	return m, nil
}
