package plan

import (
	"fmt"

	"github.com/Iron-Ham/gotmesh/internal/errors"
	"github.com/Iron-Ham/gotmesh/internal/taskmanager"
)

// Result reports what Submit did with each task.
type Result struct {
	Submitted []string
	// Existing lists ids the manager already held, typically from state
	// restored by taskmanager.LoadState.
	Existing []string
}

// Submit adds the plan's tasks to tm in dependency order. It stops at the
// first rejected submission; tasks submitted before it stay submitted.
func (p *Plan) Submit(tm *taskmanager.Manager) (Result, error) {
	var res Result
	ordered, err := p.Order()
	if err != nil {
		return res, err
	}
	for _, t := range ordered {
		params, err := t.params()
		if err != nil {
			return res, fmt.Errorf("task %s: %w", t.ID, err)
		}
		id, err := tm.Submit(t.Kind, params, p.options(t))
		switch {
		case errors.Is(err, errors.ErrDuplicateNode):
			res.Existing = append(res.Existing, t.ID)
		case err != nil:
			return res, fmt.Errorf("submit %s: %w", t.ID, err)
		default:
			res.Submitted = append(res.Submitted, id)
		}
	}
	return res, nil
}

// options merges a task's settings over the plan defaults.
func (p *Plan) options(t Task) taskmanager.SubmitOptions {
	d := p.Defaults
	opts := taskmanager.SubmitOptions{
		ID:         t.ID,
		Priority:   d.Priority,
		MaxRetries: d.MaxRetries,
		DependsOn:  t.DependsOn,
		BestEffort: d.BestEffort,
		Timeout:    d.Timeout,
		ClaimTTL:   d.ClaimTTL,
	}
	if t.Priority != nil {
		opts.Priority = t.Priority
	}
	if t.MaxRetries != nil {
		opts.MaxRetries = t.MaxRetries
	}
	if t.BestEffort != nil {
		opts.BestEffort = *t.BestEffort
	}
	if t.Timeout > 0 {
		opts.Timeout = t.Timeout
	}
	if t.ClaimTTL > 0 {
		opts.ClaimTTL = t.ClaimTTL
	}
	return opts
}
