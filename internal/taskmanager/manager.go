package taskmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"github.com/Iron-Ham/gotmesh/internal/backend"
	"github.com/Iron-Ham/gotmesh/internal/errors"
	"github.com/Iron-Ham/gotmesh/internal/event"
	"github.com/Iron-Ham/gotmesh/internal/graph"
	"github.com/Iron-Ham/gotmesh/internal/logging"
	"github.com/Iron-Ham/gotmesh/internal/scheduler"
	"github.com/Iron-Ham/gotmesh/internal/store"
)

// DefaultClaimTTL applies when neither the task nor the manager sets one.
const DefaultClaimTTL = 30 * time.Second

// Manager owns task instances and drives them through their lifecycle.
// All methods are safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	instances map[string]*Instance
	order     []string // submission order
	timers    map[string]*time.Timer
	execs     map[string]context.CancelCauseFunc

	graph    *graph.Store
	sched    *scheduler.Scheduler
	registry *backend.Registry
	results  store.ResultStore
	bus      *event.Bus
	logger   *logging.Logger
	now      func() time.Time

	claimTTL          time.Duration
	defaultMaxRetries int
	defaultTimeout    time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithRegistry sets the task-kind registry used to validate submissions.
func WithRegistry(r *backend.Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// WithResultStore sets where completed results are saved.
func WithResultStore(s store.ResultStore) Option {
	return func(m *Manager) { m.results = s }
}

// WithEventBus sets the bus lifecycle events are published on.
func WithEventBus(b *event.Bus) Option {
	return func(m *Manager) { m.bus = b }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithNow overrides the time source for timestamps. Timers still use the
// runtime clock.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithClaimTTL sets the default claim expiry.
func WithClaimTTL(d time.Duration) Option {
	return func(m *Manager) { m.claimTTL = d }
}

// WithDefaultMaxRetries sets the retry budget for tasks that specify none.
func WithDefaultMaxRetries(n int) Option {
	return func(m *Manager) { m.defaultMaxRetries = n }
}

// WithDefaultTimeout sets the per-attempt timeout for tasks that specify none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(m *Manager) { m.defaultTimeout = d }
}

// New creates a Manager. Without options it uses the built-in task kinds, an
// in-memory result store and a private event bus.
func New(opts ...Option) *Manager {
	m := &Manager{
		instances: make(map[string]*Instance),
		timers:    make(map[string]*time.Timer),
		execs:     make(map[string]context.CancelCauseFunc),
		sched:     scheduler.New(),
		now:       time.Now,
		claimTTL:  DefaultClaimTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.OrNop(m.logger)
	if m.registry == nil {
		m.registry = backend.DefaultRegistry()
	}
	if m.results == nil {
		m.results = store.NewMemoryStore()
	}
	if m.bus == nil {
		m.bus = event.NewBus(m.logger)
	}
	m.graph = graph.New(graph.WithClock(m.now))
	return m
}

// Bus returns the event bus the manager publishes on.
func (m *Manager) Bus() *event.Bus { return m.bus }

// Registry returns the task-kind registry.
func (m *Manager) Registry() *backend.Registry { return m.registry }

// Wake returns a channel signalled whenever a task is queued.
func (m *Manager) Wake() <-chan struct{} { return m.sched.Wake() }

// SchedulerStats returns the scheduler heap counters.
func (m *Manager) SchedulerStats() scheduler.Stats { return m.sched.Stats() }

// Submit creates a task instance of kind taskDefID. Structural problems
// (unknown kind, invalid params, unknown dependency, duplicate id, cycle)
// are returned synchronously and leave no trace. A task whose dependency
// already failed or was cancelled is accepted and resolved immediately.
func (m *Manager) Submit(taskDefID string, params json.RawMessage, opts SubmitOptions) (string, error) {
	if err := m.registry.Validate(taskDefID, params); err != nil {
		return "", err
	}
	def, _ := m.registry.Lookup(taskDefID)

	inst := &Instance{
		ID:         opts.ID,
		TaskDefID:  taskDefID,
		Params:     append(json.RawMessage(nil), params...),
		DependsOn:  append([]string(nil), opts.DependsOn...),
		BestEffort: opts.BestEffort,
		Status:     StatusPending,
		MaxRetries: m.defaultMaxRetries,
		Timeout:    m.defaultTimeout,
		ClaimTTL:   m.claimTTL,
	}
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}

	inst.Priority = def.Defaults.Priority
	if opts.Priority != nil {
		inst.Priority = *opts.Priority
	}
	inst.BasePriority = inst.Priority
	switch {
	case opts.MaxRetries != nil:
		inst.MaxRetries = *opts.MaxRetries
	case def.Defaults.MaxRetries != nil:
		inst.MaxRetries = *def.Defaults.MaxRetries
	}
	if inst.MaxRetries < 0 {
		return "", fmt.Errorf("%w: max retries must be non-negative", errors.ErrInvalidInput)
	}
	switch {
	case opts.Timeout > 0:
		inst.Timeout = opts.Timeout
	case def.Defaults.Timeout > 0:
		inst.Timeout = def.Defaults.Timeout
	}
	switch {
	case opts.ClaimTTL > 0:
		inst.ClaimTTL = opts.ClaimTTL
	case def.Defaults.ClaimTTL > 0:
		inst.ClaimTTL = def.Defaults.ClaimTTL
	}

	var evs []event.Event
	m.mu.Lock()
	inst.CreatedAt = m.now()
	adm, err := m.graph.AddNode(graph.Node{
		ID:         inst.ID,
		Priority:   inst.Priority,
		Payload:    inst.Params,
		BestEffort: inst.BestEffort,
	}, inst.DependsOn)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}
	m.instances[inst.ID] = inst
	m.order = append(m.order, inst.ID)
	evs = append(evs, event.NewTaskSubmittedEvent(inst.ID, taskDefID, inst.DependsOn))

	switch adm.Status {
	case graph.StatusReady:
		m.scheduleReadyLocked(&evs)
	case graph.StatusFailed:
		now := m.now()
		inst.Status = StatusFailed
		inst.CompletedAt = &now
		inst.Error = errors.NewTaskError(errors.NewDependencyFailedError(inst.ID, adm.RootCause))
		evs = append(evs, event.NewTaskFailedEvent(inst.ID, inst.Error.Kind, inst.Error.Message, nil, nil))
	case graph.StatusCancelled:
		now := m.now()
		inst.Status = StatusCancelled
		inst.CompletedAt = &now
		evs = append(evs, event.NewTaskCancelledEvent(inst.ID, nil))
	}
	if n, ok := m.graph.Node(inst.ID); ok {
		inst.Degraded = n.Degraded
	}
	evs = append(evs, m.depthEventLocked())
	m.mu.Unlock()

	m.logger.Debug("task submitted", "task_id", inst.ID, "task_def", taskDefID, "priority", inst.Priority, "depends_on", inst.DependsOn)
	m.emit(evs)
	return inst.ID, nil
}

// AddDependency makes a Pending or queued Ready task wait for more
// parents. Closing a cycle returns a *errors.CycleError and changes nothing.
func (m *Manager) AddDependency(taskID string, dependsOn ...string) error {
	var evs []event.Event
	m.mu.Lock()
	err := m.addDependencyLocked(taskID, dependsOn, &evs)
	m.mu.Unlock()

	m.emit(evs)
	return err
}

func (m *Manager) addDependencyLocked(taskID string, dependsOn []string, evs *[]event.Event) error {
	inst, err := m.getLocked(taskID)
	if err != nil {
		return err
	}
	queued := inst.Status == StatusReady && !inst.held
	if queued {
		_ = m.graph.Unschedule(taskID)
	}
	if err := m.graph.AddEdges(taskID, dependsOn...); err != nil {
		if queued {
			_ = m.graph.MarkScheduled(taskID)
		}
		return err
	}
	if queued {
		m.sched.Remove(taskID)
	}
	for _, dep := range dependsOn {
		if !slices.Contains(inst.DependsOn, dep) {
			inst.DependsOn = append(inst.DependsOn, dep)
		}
	}
	if n, ok := m.graph.Node(taskID); ok && n.Status == graph.StatusPending {
		inst.Status = StatusPending
	}
	m.scheduleReadyLocked(evs)
	return nil
}

// scheduleReadyLocked drains newly ready graph nodes into the scheduler.
// It is the single place where satisfied dependencies turn into runnable
// work. Must be called with m.mu held.
func (m *Manager) scheduleReadyLocked(evs *[]event.Event) {
	for id := range m.graph.ReadyNodes() {
		inst, ok := m.instances[id]
		if !ok {
			continue
		}
		if err := m.graph.MarkScheduled(id); err != nil {
			m.logger.Warn("failed to mark node scheduled", "task_id", id, "error", err)
			continue
		}
		if inst.Status == StatusPending {
			inst.Status = StatusReady
		}
		if n, ok := m.graph.Node(id); ok {
			inst.Degraded = n.Degraded
		}
		if inst.held || inst.Status != StatusReady {
			continue
		}
		if err := m.sched.Push(id, inst.Priority); err != nil {
			_ = m.sched.Reprioritize(id, inst.Priority)
		}
		*evs = append(*evs, event.NewTaskReadyEvent(id, inst.Priority, inst.Degraded))
	}
}

// Status returns a snapshot of the instance. Completed instances whose
// result is not in memory are rehydrated from the result store.
func (m *Manager) Status(taskID string) (Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, err := m.getLocked(taskID)
	if err != nil {
		return Instance{}, err
	}
	if inst.Status == StatusCompleted && inst.Result == nil {
		result, ok, err := m.results.Load(taskID)
		if err != nil {
			return Instance{}, fmt.Errorf("load result for %s: %w", taskID, err)
		}
		if ok {
			inst.Result = result
		}
	}
	return inst.clone(), nil
}

// List returns instances matching filter in submission order.
func (m *Manager) List(filter Filter) ([]Instance, error) {
	var pattern glob.Glob
	if filter.TaskDefID != "" {
		g, err := glob.Compile(filter.TaskDefID)
		if err != nil {
			return nil, fmt.Errorf("%w: task definition pattern %q: %v", errors.ErrInvalidInput, filter.TaskDefID, err)
		}
		pattern = g
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Instance
	for _, id := range m.order {
		inst := m.instances[id]
		if filter.Status != "" && inst.Status != filter.Status {
			continue
		}
		if pattern != nil && !pattern.Match(inst.TaskDefID) {
			continue
		}
		if filter.ClaimedBy != "" && inst.ClaimedBy != filter.ClaimedBy {
			continue
		}
		out = append(out, inst.clone())
	}
	return out, nil
}

// ReadyNodes yields the ids of Ready tasks in submission order. Each id is
// re-checked just before it is yielded.
func (m *Manager) ReadyNodes() iter.Seq[string] {
	return func(yield func(string) bool) {
		m.mu.Lock()
		ids := append([]string(nil), m.order...)
		m.mu.Unlock()

		for _, id := range ids {
			m.mu.Lock()
			inst, ok := m.instances[id]
			ready := ok && inst.Status == StatusReady
			m.mu.Unlock()
			if ready && !yield(id) {
				return
			}
		}
	}
}

// Counts returns the number of instances per status.
func (m *Manager) Counts() Counts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countsLocked()
}

// AllTerminal reports whether at least one task exists and every task has
// reached a final state.
func (m *Manager) AllTerminal() bool {
	c := m.Counts()
	return c.Total > 0 && c.Terminal() == c.Total
}

func (m *Manager) countsLocked() Counts {
	var c Counts
	c.Total = len(m.instances)
	for _, inst := range m.instances {
		switch inst.Status {
		case StatusPending:
			c.Pending++
		case StatusReady:
			c.Ready++
		case StatusClaimed:
			c.Claimed++
		case StatusRunning:
			c.Running++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		case StatusCancelled:
			c.Cancelled++
		case StatusTimeout:
			c.Timeout++
		}
	}
	return c
}

func (m *Manager) depthEventLocked() event.Event {
	c := m.countsLocked()
	return event.NewQueueDepthChangedEvent(
		c.Pending, c.Ready, c.Claimed, c.Running, c.Completed, c.Failed+c.Timeout, c.Cancelled, c.Total,
	)
}

func (m *Manager) getLocked(taskID string) (*Instance, error) {
	inst, ok := m.instances[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrTaskNotFound, taskID)
	}
	return inst, nil
}

// emit publishes events. Must be called without m.mu held.
func (m *Manager) emit(evs []event.Event) {
	for _, e := range evs {
		m.bus.Publish(e)
	}
}
