package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Iron-Ham/gotmesh/internal/errors"
)

// Executor runs a task of the given kind.
type Executor interface {
	Execute(ctx context.Context, taskDefID string, params json.RawMessage) (json.RawMessage, error)
}

// ValidateFunc checks submission params before a task is accepted.
type ValidateFunc func(params json.RawMessage) error

// ExecuteFunc performs one attempt of a task. It must return promptly once
// ctx is done.
type ExecuteFunc func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)

// Defaults are applied to submissions that leave a field unset.
type Defaults struct {
	Priority int
	// MaxRetries overrides the configured default when non-nil.
	MaxRetries *int
	// ClaimTTL overrides the configured claim TTL when positive.
	ClaimTTL time.Duration
	// Timeout bounds each attempt when positive.
	Timeout time.Duration
}

// Definition describes a task kind.
type Definition struct {
	ID          string
	Description string
	Validate    ValidateFunc
	Execute     ExecuteFunc
	Defaults    Defaults
}

// Registry maps task definition ids to definitions. It is safe for
// concurrent use.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// DefaultRegistry returns a registry holding the built-in kinds.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(EchoDefinition())
	r.MustRegister(SleepDefinition())
	r.MustRegister(ExecDefinition())
	return r
}

// Register adds def. Ids must be unique and Execute must be set.
func (r *Registry) Register(def Definition) error {
	if def.ID == "" {
		return fmt.Errorf("%w: task definition id is required", errors.ErrInvalidInput)
	}
	if def.Execute == nil {
		return fmt.Errorf("%w: task definition %s has no Execute", errors.ErrInvalidInput, def.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.ID]; exists {
		return fmt.Errorf("%w: task definition %s already registered", errors.ErrInvalidInput, def.ID)
	}
	r.defs[def.ID] = def
	return nil
}

// MustRegister is Register that panics on error, for static setup.
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Lookup returns the definition registered under id.
func (r *Registry) Lookup(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	return def, ok
}

// Names returns the registered ids in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for id := range r.defs {
		names = append(names, id)
	}
	slices.Sort(names)
	return names
}

// Validate checks params against the definition registered under id.
func (r *Registry) Validate(id string, params json.RawMessage) error {
	def, ok := r.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrUnknownTaskDef, id)
	}
	if def.Validate == nil {
		return nil
	}
	if err := def.Validate(params); err != nil {
		return fmt.Errorf("%w: %s: %v", errors.ErrInvalidInput, id, err)
	}
	return nil
}

// Execute implements Executor.
func (r *Registry) Execute(ctx context.Context, taskDefID string, params json.RawMessage) (json.RawMessage, error) {
	def, ok := r.Lookup(taskDefID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrUnknownTaskDef, taskDefID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return def.Execute(ctx, params)
}
