package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Iron-Ham/gotmesh/internal/errors"
	"github.com/Iron-Ham/gotmesh/internal/taskmanager"
)

// Arbiter decides which peer runs a task and hears about the outcome.
type Arbiter interface {
	// Acquire reports whether this peer may run taskID. On true the task
	// is Claimed locally.
	Acquire(ctx context.Context, taskID string) (bool, error)
	Started(ctx context.Context, taskID string, timeout time.Duration) error
	Completed(ctx context.Context, taskID string, result json.RawMessage) error
	Failed(ctx context.Context, taskID string, taskErr *errors.TaskError) error
	Released(ctx context.Context, taskID string) error
}

// Local is an Arbiter for a peer that runs alone: every acquisition wins.
type Local struct {
	tm     *taskmanager.Manager
	peerID string
}

// NewLocal creates a Local arbiter claiming as peerID.
func NewLocal(tm *taskmanager.Manager, peerID string) *Local {
	return &Local{tm: tm, peerID: peerID}
}

// Acquire claims taskID directly.
func (l *Local) Acquire(_ context.Context, taskID string) (bool, error) {
	err := l.tm.Claim(taskID, l.peerID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errors.ErrTaskCancelled), errors.Is(err, errors.ErrInvalidTransition):
		return false, nil
	}
	return false, err
}

// Started is a no-op; there is nobody to tell.
func (l *Local) Started(context.Context, string, time.Duration) error { return nil }

// Completed is a no-op.
func (l *Local) Completed(context.Context, string, json.RawMessage) error { return nil }

// Failed is a no-op.
func (l *Local) Failed(context.Context, string, *errors.TaskError) error { return nil }

// Released is a no-op.
func (l *Local) Released(context.Context, string) error { return nil }
