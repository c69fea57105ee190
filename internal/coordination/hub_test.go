package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/gotmesh/internal/backend"
	"github.com/Iron-Ham/gotmesh/internal/clock"
	"github.com/Iron-Ham/gotmesh/internal/mailbox"
	"github.com/Iron-Ham/gotmesh/internal/taskmanager"
	"github.com/Iron-Ham/gotmesh/internal/testutil"
)

func TestNewHub_Validation(t *testing.T) {
	tm := taskmanager.New()
	t.Cleanup(tm.Close)
	net := NewMemoryNetwork().Join("p")

	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing manager", Config{Clock: clock.New("p"), Messenger: net}},
		{"missing clock", Config{Manager: tm, Messenger: net}},
		{"missing messenger", Config{Manager: tm, Clock: clock.New("p")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewHub(tt.cfg); err == nil {
				t.Error("NewHub() succeeded")
			}
		})
	}
}

// countingRegistry returns a registry whose "work" kind records which
// tasks ran.
func countingRegistry(counts *sync.Map) *backend.Registry {
	reg := backend.NewRegistry()
	reg.MustRegister(backend.Definition{
		ID: "work",
		Execute: func(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
			var p struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			counts.Store(p.Name, true)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Millisecond):
			}
			return json.RawMessage(fmt.Sprintf(`{"name":%q}`, p.Name)), nil
		},
	})
	return reg
}

func submitPlan(t *testing.T, tm *taskmanager.Manager) []string {
	t.Helper()
	// a -> {b, c} -> d, plus independent e..h.
	specs := []struct {
		id   string
		deps []string
	}{
		{"a", nil}, {"b", []string{"a"}}, {"c", []string{"a"}}, {"d", []string{"b", "c"}},
		{"e", nil}, {"f", nil}, {"g", nil}, {"h", nil},
	}
	ids := make([]string, 0, len(specs))
	for _, s := range specs {
		params := json.RawMessage(fmt.Sprintf(`{"name":%q}`, s.id))
		if _, err := tm.Submit("work", params, taskmanager.SubmitOptions{ID: s.id, DependsOn: s.deps}); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, s.id)
	}
	return ids
}

func TestHub_PeersConvergeOnSharedPlan(t *testing.T) {
	network := NewMemoryNetwork()
	var counts sync.Map

	const peers = 3
	hubs := make([]*Hub, 0, peers)
	var ids []string
	for i := range peers {
		id := fmt.Sprintf("peer-%d", i)
		tm := taskmanager.New(taskmanager.WithRegistry(countingRegistry(&counts)))
		t.Cleanup(tm.Close)
		ids = submitPlan(t, tm)

		hub, err := NewHub(Config{Manager: tm, Clock: clock.New(id), Messenger: network.Join(id)},
			WithWorkers(2),
			WithGossipWindow(20*time.Millisecond),
			WithClaimTTL(500*time.Millisecond),
			WithExpiryGrace(100*time.Millisecond),
			WithIdlePoll(10*time.Millisecond),
			WithSweepInterval(50*time.Millisecond),
			WithStopWhenDone(),
		)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = hub.Close() })
		hubs = append(hubs, hub)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var wg sync.WaitGroup
	for _, h := range hubs {
		wg.Go(func() {
			if err := h.Run(ctx); err != nil {
				t.Error(err)
			}
		})
	}
	wg.Wait()
	if ctx.Err() != nil {
		t.Fatal("peers did not finish the plan in time")
	}

	for _, h := range hubs {
		for _, id := range ids {
			inst, err := h.Manager().Status(id)
			if err != nil {
				t.Fatal(err)
			}
			if inst.Status != taskmanager.StatusCompleted {
				t.Errorf("%s on %s = %s", id, h.Coordinator().PeerID(), inst.Status)
				continue
			}
			want := fmt.Sprintf(`{"name":%q}`, id)
			if string(inst.Result) != want {
				t.Errorf("%s on %s result = %s", id, h.Coordinator().PeerID(), inst.Result)
			}
		}
	}
	for _, id := range ids {
		if _, ran := counts.Load(id); !ran {
			t.Errorf("%s never executed", id)
		}
	}
}

func TestHub_StartStop(t *testing.T) {
	tm := taskmanager.New()
	t.Cleanup(tm.Close)
	hub, err := NewHub(Config{Manager: tm, Clock: clock.New("solo"), Messenger: NewMemoryNetwork().Join("solo")},
		WithIdlePoll(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	if err := hub.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !hub.Running() {
		t.Error("Running() = false after Start")
	}
	if err := hub.Start(context.Background()); err == nil {
		t.Error("second Start() succeeded")
	}

	if _, err := tm.Submit("echo", json.RawMessage(`"hi"`), taskmanager.SubmitOptions{ID: "x"}); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, tm, "x", taskmanager.StatusCompleted)

	if err := hub.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if hub.Running() {
		t.Error("Running() = true after Stop")
	}
	if err := hub.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestHub_OverMailbox(t *testing.T) {
	dir := t.TempDir()
	var hubs []*Hub
	var managers []*taskmanager.Manager
	for _, id := range []string{"peer-a", "peer-b"} {
		tm := taskmanager.New()
		t.Cleanup(tm.Close)
		if _, err := tm.Submit("echo", json.RawMessage(`1`), taskmanager.SubmitOptions{ID: "one"}); err != nil {
			t.Fatal(err)
		}
		if _, err := tm.Submit("echo", json.RawMessage(`2`), taskmanager.SubmitOptions{ID: "two", DependsOn: []string{"one"}}); err != nil {
			t.Fatal(err)
		}
		mb := mailbox.NewMailbox(dir, id, mailbox.WithPollInterval(10*time.Millisecond))
		if err := mb.Register(); err != nil {
			t.Fatal(err)
		}
		hub, err := NewHub(Config{Manager: tm, Clock: clock.New(id), Messenger: mb},
			WithGossipWindow(30*time.Millisecond),
			WithIdlePoll(10*time.Millisecond),
			WithStopWhenDone(),
		)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = hub.Close() })
		hubs = append(hubs, hub)
		managers = append(managers, tm)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var wg sync.WaitGroup
	for _, h := range hubs {
		wg.Go(func() { _ = h.Run(ctx) })
	}
	wg.Wait()
	if ctx.Err() != nil {
		t.Fatal("peers did not finish in time")
	}
	for _, tm := range managers {
		if !tm.AllTerminal() {
			t.Errorf("counts = %+v", tm.Counts())
		}
	}
}

func waitForStatus(t *testing.T, tm *taskmanager.Manager, id string, want taskmanager.Status) {
	t.Helper()
	testutil.Eventually(t, 0, func() bool {
		inst, err := tm.Status(id)
		return err == nil && inst.Status == want
	})
}
