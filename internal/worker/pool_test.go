package worker

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/gotmesh/internal/backend"
	"github.com/Iron-Ham/gotmesh/internal/errors"
	"github.com/Iron-Ham/gotmesh/internal/taskmanager"
)

func newManager(t *testing.T, opts ...taskmanager.Option) *taskmanager.Manager {
	t.Helper()
	m := taskmanager.New(opts...)
	t.Cleanup(m.Close)
	return m
}

func startPool(t *testing.T, p *Pool) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func waitStatus(t *testing.T, m *taskmanager.Manager, id string, want taskmanager.Status) taskmanager.Instance {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		inst, err := m.Status(id)
		if err != nil {
			t.Fatal(err)
		}
		if inst.Status == want {
			return inst
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s status = %s, want %s", id, inst.Status, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPool_RunsDependencyChain(t *testing.T) {
	m := newManager(t)
	if _, err := m.Submit("echo", json.RawMessage(`{"x":1}`), taskmanager.SubmitOptions{ID: "T1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Submit("echo", json.RawMessage(`{"y":2}`), taskmanager.SubmitOptions{ID: "T2", DependsOn: []string{"T1"}}); err != nil {
		t.Fatal(err)
	}

	startPool(t, NewPool(m, "peer-1", nil, WithWorkers(2), WithIdlePoll(10*time.Millisecond)))

	t2 := waitStatus(t, m, "T2", taskmanager.StatusCompleted)
	t1 := waitStatus(t, m, "T1", taskmanager.StatusCompleted)
	if string(t1.Result) != `{"x":1}` || string(t2.Result) != `{"y":2}` {
		t.Errorf("results = %s, %s", t1.Result, t2.Result)
	}
	if !t1.CompletedAt.Before(*t2.StartedAt) && !t1.CompletedAt.Equal(*t2.StartedAt) {
		t.Error("T2 started before T1 completed")
	}
	if t1.ClaimedBy != "peer-1" || t1.WorkerID == "" {
		t.Errorf("T1 claimed by %q on %q", t1.ClaimedBy, t1.WorkerID)
	}
}

func TestPool_Timeout(t *testing.T) {
	m := newManager(t)
	if _, err := m.Submit("sleep", json.RawMessage(`{"duration_ms":5000}`), taskmanager.SubmitOptions{
		ID:      "slow",
		Timeout: 20 * time.Millisecond,
	}); err != nil {
		t.Fatal(err)
	}
	startPool(t, NewPool(m, "peer-1", nil, WithIdlePoll(10*time.Millisecond)))

	inst := waitStatus(t, m, "slow", taskmanager.StatusTimeout)
	if inst.Error == nil || inst.Error.Kind != "timeout" {
		t.Errorf("error = %+v, want timeout", inst.Error)
	}
}

func TestPool_RetriesFlakyTask(t *testing.T) {
	var calls atomic.Int32
	reg := backend.NewRegistry()
	reg.MustRegister(backend.Definition{
		ID: "flaky",
		Execute: func(context.Context, json.RawMessage) (json.RawMessage, error) {
			if calls.Add(1) < 3 {
				return nil, errors.New("not yet")
			}
			return json.RawMessage(`"ok"`), nil
		},
	})
	m := newManager(t, taskmanager.WithRegistry(reg), taskmanager.WithDefaultMaxRetries(2))
	if _, err := m.Submit("flaky", nil, taskmanager.SubmitOptions{ID: "f"}); err != nil {
		t.Fatal(err)
	}
	startPool(t, NewPool(m, "peer-1", nil, WithIdlePoll(10*time.Millisecond)))

	inst := waitStatus(t, m, "f", taskmanager.StatusCompleted)
	if inst.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", inst.Attempts)
	}
}

func TestPool_FailureCascades(t *testing.T) {
	m := newManager(t)
	if _, err := m.Submit("sleep", json.RawMessage(`{"duration_ms":1,"fail":true}`), taskmanager.SubmitOptions{ID: "bad"}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Submit("echo", nil, taskmanager.SubmitOptions{ID: "after", DependsOn: []string{"bad"}}); err != nil {
		t.Fatal(err)
	}
	startPool(t, NewPool(m, "peer-1", nil, WithIdlePoll(10*time.Millisecond)))

	bad := waitStatus(t, m, "bad", taskmanager.StatusFailed)
	if bad.Error == nil || bad.Error.Kind != "execution" {
		t.Errorf("bad error = %+v", bad.Error)
	}
	after := waitStatus(t, m, "after", taskmanager.StatusFailed)
	if after.Error == nil || after.Error.RootCause != "bad" {
		t.Errorf("after error = %+v", after.Error)
	}
}

func TestPool_CancelRunningTask(t *testing.T) {
	m := newManager(t)
	if _, err := m.Submit("sleep", json.RawMessage(`{"duration_ms":5000}`), taskmanager.SubmitOptions{ID: "long"}); err != nil {
		t.Fatal(err)
	}
	startPool(t, NewPool(m, "peer-1", nil, WithIdlePoll(10*time.Millisecond)))

	waitStatus(t, m, "long", taskmanager.StatusRunning)
	if !m.Cancel("long") {
		t.Fatal("Cancel() = false")
	}

	// The freed slot picks up new work.
	if _, err := m.Submit("echo", nil, taskmanager.SubmitOptions{ID: "next"}); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, m, "next", taskmanager.StatusCompleted)
	waitStatus(t, m, "long", taskmanager.StatusCancelled)
}

func TestPool_ShutdownHandsBackTasks(t *testing.T) {
	m := newManager(t)
	if _, err := m.Submit("sleep", json.RawMessage(`{"duration_ms":5000}`), taskmanager.SubmitOptions{ID: "long"}); err != nil {
		t.Fatal(err)
	}
	cancel := startPool(t, NewPool(m, "peer-1", nil, WithIdlePoll(10*time.Millisecond)))

	waitStatus(t, m, "long", taskmanager.StatusRunning)
	cancel()
	inst := waitStatus(t, m, "long", taskmanager.StatusReady)
	if inst.Attempts != 0 {
		t.Errorf("attempts = %d after hand-back, want 0", inst.Attempts)
	}
}

// recordingArbiter wraps Local and records announcements.
type recordingArbiter struct {
	*Local
	mu     sync.Mutex
	events []string
}

func (r *recordingArbiter) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingArbiter) Started(_ context.Context, id string, _ time.Duration) error {
	r.add("started " + id)
	return nil
}

func (r *recordingArbiter) Completed(_ context.Context, id string, _ json.RawMessage) error {
	r.add("completed " + id)
	return nil
}

func (r *recordingArbiter) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestPool_AnnouncesOutcome(t *testing.T) {
	m := newManager(t)
	arb := &recordingArbiter{Local: NewLocal(m, "peer-1")}
	if _, err := m.Submit("echo", nil, taskmanager.SubmitOptions{ID: "a"}); err != nil {
		t.Fatal(err)
	}
	startPool(t, NewPool(m, "peer-1", arb, WithWorkers(1), WithIdlePoll(10*time.Millisecond)))

	waitStatus(t, m, "a", taskmanager.StatusCompleted)
	deadline := time.Now().Add(time.Second)
	for len(arb.snapshot()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	got := arb.snapshot()
	if len(got) != 2 || got[0] != "started a" || got[1] != "completed a" {
		t.Errorf("announcements = %v", got)
	}
}
