package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	resultsDirName  = "results"
	resultsLockName = "results.lock"
)

// FileStore is a ResultStore that keeps each result in
// {dataDir}/results/{taskID}.json.
type FileStore struct {
	dir string
}

// NewFileStore creates the results directory under dataDir if needed.
func NewFileStore(dataDir string) (*FileStore, error) {
	dir := filepath.Join(dataDir, resultsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create results directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory holding result files.
func (f *FileStore) Dir() string { return f.dir }

func (f *FileStore) path(taskID string) string {
	return filepath.Join(f.dir, taskID+".json")
}

// Save implements ResultStore. Results must be valid JSON.
func (f *FileStore) Save(taskID string, result json.RawMessage) error {
	if err := validateTaskID(taskID); err != nil {
		return err
	}
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	if !json.Valid(result) {
		return fmt.Errorf("result for %s is not valid JSON", taskID)
	}

	return f.withLock(func() error {
		return WriteFileAtomic(f.path(taskID), result)
	})
}

// Load implements ResultStore.
func (f *FileStore) Load(taskID string) (json.RawMessage, bool, error) {
	if err := validateTaskID(taskID); err != nil {
		return nil, false, err
	}

	var (
		data []byte
		ok   bool
	)
	err := f.withLock(func() error {
		b, err := os.ReadFile(f.path(taskID))
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read result: %w", err)
		}
		data, ok = b, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return data, ok, nil
}

// Delete implements ResultStore.
func (f *FileStore) Delete(taskID string) error {
	if err := validateTaskID(taskID); err != nil {
		return err
	}
	return f.withLock(func() error {
		if err := os.Remove(f.path(taskID)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete result: %w", err)
		}
		return nil
	})
}

func (f *FileStore) withLock(fn func() error) error {
	return WithLock(f.dir, resultsLockName, fn)
}

// WriteFileAtomic writes data to a temporary file next to target and renames
// it into place, so readers never observe a partial file.
func WriteFileAtomic(target string, data []byte) error {
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
