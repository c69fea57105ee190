package taskmanager

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/gotmesh/internal/errors"
	"github.com/Iron-Ham/gotmesh/internal/event"
	"github.com/Iron-Ham/gotmesh/internal/testutil"
)

// recorder collects published events.
type recorder struct {
	mu  sync.Mutex
	evs []event.Event
}

func record(t *testing.T, m *Manager) *recorder {
	t.Helper()
	r := &recorder{}
	m.Bus().SubscribeAll(func(e event.Event) {
		r.mu.Lock()
		r.evs = append(r.evs, e)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) ofType(typ string) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Event
	for _, e := range r.evs {
		if e.EventType() == typ {
			out = append(out, e)
		}
	}
	return out
}

func newManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m := New(opts...)
	t.Cleanup(m.Close)
	return m
}

func submit(t *testing.T, m *Manager, id string, deps ...string) {
	t.Helper()
	if _, err := m.Submit("echo", json.RawMessage(`{}`), SubmitOptions{ID: id, DependsOn: deps}); err != nil {
		t.Fatalf("Submit(%s) error = %v", id, err)
	}
}

func mustStatus(t *testing.T, m *Manager, id string) Instance {
	t.Helper()
	inst, err := m.Status(id)
	if err != nil {
		t.Fatalf("Status(%s) error = %v", id, err)
	}
	return inst
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	testutil.Eventually(t, 0, cond)
}

func TestSubmit_Admission(t *testing.T) {
	m := newManager(t)
	submit(t, m, "a")
	submit(t, m, "b", "a")

	if got := mustStatus(t, m, "a").Status; got != StatusReady {
		t.Errorf("a status = %s, want ready", got)
	}
	if got := mustStatus(t, m, "b").Status; got != StatusPending {
		t.Errorf("b status = %s, want pending", got)
	}
	if got := m.Counts(); got.Ready != 1 || got.Pending != 1 || got.Total != 2 {
		t.Errorf("Counts() = %+v", got)
	}
}

func TestSubmit_Defaults(t *testing.T) {
	m := newManager(t, WithDefaultMaxRetries(2), WithDefaultTimeout(time.Minute), WithClaimTTL(time.Second))
	prio := 7
	id, err := m.Submit("echo", nil, SubmitOptions{Priority: &prio})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	inst := mustStatus(t, m, id)
	if inst.Priority != 7 || inst.BasePriority != 7 {
		t.Errorf("priority = %d/%d, want 7/7", inst.Priority, inst.BasePriority)
	}
	if inst.MaxRetries != 2 || inst.Timeout != time.Minute || inst.ClaimTTL != time.Second {
		t.Errorf("defaults = %d %s %s", inst.MaxRetries, inst.Timeout, inst.ClaimTTL)
	}
	if len(id) != 36 {
		t.Errorf("generated id %q is not a UUID", id)
	}
}

func TestSubmit_Errors(t *testing.T) {
	neg := -1
	tests := []struct {
		name   string
		kind   string
		params string
		opts   SubmitOptions
		want   error
	}{
		{"unknown kind", "nope", `{}`, SubmitOptions{}, errors.ErrUnknownTaskDef},
		{"invalid params", "sleep", `{"duration_ms":-5}`, SubmitOptions{}, errors.ErrInvalidInput},
		{"unknown dependency", "echo", `{}`, SubmitOptions{DependsOn: []string{"ghost"}}, errors.ErrNodeNotFound},
		{"duplicate id", "echo", `{}`, SubmitOptions{ID: "a"}, errors.ErrDuplicateNode},
		{"self dependency", "echo", `{}`, SubmitOptions{ID: "s", DependsOn: []string{"s"}}, errors.ErrDependencyCycle},
		{"negative retries", "echo", `{}`, SubmitOptions{MaxRetries: &neg}, errors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(t)
			submit(t, m, "a")
			_, err := m.Submit(tt.kind, json.RawMessage(tt.params), tt.opts)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Submit() error = %v, want %v", err, tt.want)
			}
			if got := m.Counts().Total; got != 1 {
				t.Errorf("Total = %d after rejected submit, want 1", got)
			}
		})
	}
}

func TestSubmit_FailedDependency(t *testing.T) {
	m := newManager(t)
	submit(t, m, "a")
	claimStart(t, m, "a")
	if err := m.Fail("a", errors.New("boom")); err != nil {
		t.Fatal(err)
	}

	submit(t, m, "b", "a")
	inst := mustStatus(t, m, "b")
	if inst.Status != StatusFailed {
		t.Fatalf("b status = %s, want failed", inst.Status)
	}
	if inst.Error == nil || inst.Error.Kind != "dependency_failed" || inst.Error.RootCause != "a" {
		t.Errorf("b error = %+v, want dependency_failed rooted at a", inst.Error)
	}
}

func TestAddDependency(t *testing.T) {
	m := newManager(t)
	submit(t, m, "a")
	submit(t, m, "b")
	submit(t, m, "c", "b")

	if err := m.AddDependency("b", "a"); err != nil {
		t.Fatalf("AddDependency() error = %v", err)
	}
	if got := mustStatus(t, m, "b").Status; got != StatusPending {
		t.Errorf("b status = %s, want pending", got)
	}

	var cycle *errors.CycleError
	if err := m.AddDependency("a", "c"); !errors.As(err, &cycle) {
		t.Fatalf("AddDependency(a, c) error = %v, want CycleError", err)
	}
	if deps := mustStatus(t, m, "a").DependsOn; len(deps) != 0 {
		t.Errorf("a depends on %v after rejected edge", deps)
	}
}

func TestList_Filter(t *testing.T) {
	m := newManager(t)
	submit(t, m, "a")
	submit(t, m, "b", "a")
	if _, err := m.Submit("sleep", json.RawMessage(`{"duration_ms":1}`), SubmitOptions{ID: "s"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Claim("a", "peer-1"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{}, []string{"a", "b", "s"}},
		{"by status", Filter{Status: StatusPending}, []string{"b"}},
		{"by kind glob", Filter{TaskDefID: "sl*"}, []string{"s"}},
		{"by peer", Filter{ClaimedBy: "peer-1"}, []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.List(tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			var ids []string
			for _, inst := range got {
				ids = append(ids, inst.ID)
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("List() = %v, want %v", ids, tt.want)
			}
			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Fatalf("List() = %v, want %v", ids, tt.want)
				}
			}
		})
	}

	if _, err := m.List(Filter{TaskDefID: "[unclosed"}); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("bad glob error = %v, want ErrInvalidInput", err)
	}
}

func TestReadyNodes(t *testing.T) {
	m := newManager(t)
	submit(t, m, "a")
	submit(t, m, "b")
	submit(t, m, "c", "a")

	var got []string
	for id := range m.ReadyNodes() {
		got = append(got, id)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("ReadyNodes() = %v, want [a b]", got)
	}
}

func TestStatus_NotFound(t *testing.T) {
	m := newManager(t)
	if _, err := m.Status("ghost"); !errors.Is(err, errors.ErrTaskNotFound) {
		t.Errorf("Status() error = %v, want ErrTaskNotFound", err)
	}
}

func TestStatus_ReturnsCopy(t *testing.T) {
	m := newManager(t)
	submit(t, m, "a")
	inst := mustStatus(t, m, "a")
	inst.Params[0] = 'X'
	inst.Status = StatusFailed

	again := mustStatus(t, m, "a")
	if again.Status != StatusReady || string(again.Params) != "{}" {
		t.Errorf("mutating a snapshot changed the manager: %+v", again)
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range Statuses() {
		got, err := ParseStatus(string(s))
		if err != nil || got != s {
			t.Errorf("ParseStatus(%q) = %v, %v", s, got, err)
		}
	}
	if _, err := ParseStatus("bogus"); err == nil {
		t.Error("ParseStatus(bogus) succeeded")
	}
}
