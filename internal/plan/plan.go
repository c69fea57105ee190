package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/gotmesh/internal/errors"
)

// Plan is a parsed plan file.
type Plan struct {
	Name     string   `yaml:"name"`
	Defaults Defaults `yaml:"defaults"`
	Tasks    []Task   `yaml:"tasks"`
}

// Defaults apply to every task that does not set the field itself.
type Defaults struct {
	Priority   *int          `yaml:"priority"`
	MaxRetries *int          `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"timeout"`
	ClaimTTL   time.Duration `yaml:"claim_ttl"`
	BestEffort bool          `yaml:"best_effort"`
}

// Task is one submission in a plan.
type Task struct {
	ID         string        `yaml:"id"`
	Kind       string        `yaml:"kind"`
	Params     any           `yaml:"params"`
	DependsOn  []string      `yaml:"depends_on"`
	Priority   *int          `yaml:"priority"`
	MaxRetries *int          `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"timeout"`
	ClaimTTL   time.Duration `yaml:"claim_ttl"`
	BestEffort *bool         `yaml:"best_effort"`
}

// Load reads and validates the plan at path.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a plan document, fills in default ids and validates it.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidInput, err)
	}
	p.assignIDs()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// assignIDs names anonymous tasks "{name}-{position}", 1-based.
func (p *Plan) assignIDs() {
	name := p.Name
	if name == "" {
		name = "task"
	}
	for i := range p.Tasks {
		if p.Tasks[i].ID == "" {
			p.Tasks[i].ID = fmt.Sprintf("%s-%d", name, i+1)
		}
	}
}

// Validate checks task fields, dependency references and acyclicity.
// Every problem found is reported in the returned ValidationError.
func (p *Plan) Validate() error {
	var issues []string
	if len(p.Tasks) == 0 {
		issues = append(issues, "plan has no tasks")
	}

	ids := make(map[string]bool, len(p.Tasks))
	for i, t := range p.Tasks {
		if ids[t.ID] {
			issues = append(issues, fmt.Sprintf("task %s: duplicate id", t.ID))
		}
		ids[t.ID] = true
		if t.Kind == "" {
			issues = append(issues, fmt.Sprintf("task %s (#%d): kind is required", t.ID, i+1))
		}
		if t.MaxRetries != nil && *t.MaxRetries < 0 {
			issues = append(issues, fmt.Sprintf("task %s: max_retries must be non-negative", t.ID))
		}
		if t.Timeout < 0 || t.ClaimTTL < 0 {
			issues = append(issues, fmt.Sprintf("task %s: durations must be positive", t.ID))
		}
		if _, err := t.params(); err != nil {
			issues = append(issues, fmt.Sprintf("task %s: %v", t.ID, err))
		}
	}
	for _, t := range p.Tasks {
		for _, dep := range t.DependsOn {
			switch {
			case dep == t.ID:
				issues = append(issues, fmt.Sprintf("task %s depends on itself", t.ID))
			case !ids[dep]:
				issues = append(issues, fmt.Sprintf("task %s depends on unknown task %s", t.ID, dep))
			}
		}
	}
	if len(issues) == 0 {
		if _, err := p.Order(); err != nil {
			issues = append(issues, err.Error())
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// Order returns the tasks so that every task follows its dependencies.
// Ties keep file order.
func (p *Plan) Order() ([]Task, error) {
	index := make(map[string]int, len(p.Tasks))
	for i, t := range p.Tasks {
		index[t.ID] = i
	}
	indegree := make([]int, len(p.Tasks))
	children := make([][]int, len(p.Tasks))
	for i, t := range p.Tasks {
		for _, dep := range t.DependsOn {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("task %s depends on unknown task %s", t.ID, dep)
			}
			indegree[i]++
			children[j] = append(children[j], i)
		}
	}

	ordered := make([]Task, 0, len(p.Tasks))
	done := make([]bool, len(p.Tasks))
	for len(ordered) < len(p.Tasks) {
		progressed := false
		for i := range p.Tasks {
			if done[i] || indegree[i] > 0 {
				continue
			}
			done[i] = true
			progressed = true
			ordered = append(ordered, p.Tasks[i])
			for _, c := range children[i] {
				indegree[c]--
			}
		}
		if !progressed {
			var stuck []string
			for i, t := range p.Tasks {
				if !done[i] {
					stuck = append(stuck, t.ID)
				}
			}
			return nil, errors.NewCycleError(stuck)
		}
	}
	return ordered, nil
}

// params converts the YAML params value to JSON.
func (t Task) params() (json.RawMessage, error) {
	if t.Params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(t.Params)
	if err != nil {
		return nil, fmt.Errorf("params are not JSON-compatible: %w", err)
	}
	return raw, nil
}

// ValidationError lists every problem found in a plan.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		return "invalid plan: " + e.Issues[0]
	}
	return fmt.Sprintf("invalid plan (%d issues):\n  - %s", len(e.Issues), strings.Join(e.Issues, "\n  - "))
}

// Is lets callers match errors.ErrInvalidInput.
func (e *ValidationError) Is(target error) bool {
	return target == errors.ErrInvalidInput
}
