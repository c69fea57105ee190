package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/Iron-Ham/gotmesh/internal/errors"
)

// ResultStore saves and loads task results by task id.
type ResultStore interface {
	// Save stores result for taskID, replacing any previous value.
	Save(taskID string, result json.RawMessage) error
	// Load returns the result for taskID. ok is false when none is stored.
	Load(taskID string) (result json.RawMessage, ok bool, err error)
	// Delete removes the result for taskID. Deleting a missing result is not
	// an error.
	Delete(taskID string) error
}

// MemoryStore is an in-process ResultStore.
type MemoryStore struct {
	mu      sync.RWMutex
	results map[string]json.RawMessage
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{results: make(map[string]json.RawMessage)}
}

// Save implements ResultStore.
func (m *MemoryStore) Save(taskID string, result json.RawMessage) error {
	if err := validateTaskID(taskID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[taskID] = append(json.RawMessage(nil), result...)
	return nil
}

// Load implements ResultStore.
func (m *MemoryStore) Load(taskID string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[taskID]
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), r...), true, nil
}

// Delete implements ResultStore.
func (m *MemoryStore) Delete(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.results, taskID)
	return nil
}

// Len returns the number of stored results.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.results)
}

// validateTaskID rejects ids that cannot be used as a file name.
func validateTaskID(taskID string) error {
	switch {
	case taskID == "":
		return fmt.Errorf("%w: task id is required", errors.ErrInvalidInput)
	case taskID == "." || taskID == "..",
		strings.ContainsAny(taskID, `/\`+"\x00"):
		return fmt.Errorf("%w: task id %q is not a valid file name", errors.ErrInvalidInput, taskID)
	}
	return nil
}
