// Package internal contains integration tests that verify the packages work
// together: plans submitted on several peers, gossip through a shared
// mailbox directory, and state that survives a restart.
package internal

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/gotmesh/internal/backend"
	"github.com/Iron-Ham/gotmesh/internal/clock"
	"github.com/Iron-Ham/gotmesh/internal/coordination"
	"github.com/Iron-Ham/gotmesh/internal/event"
	"github.com/Iron-Ham/gotmesh/internal/mailbox"
	"github.com/Iron-Ham/gotmesh/internal/plan"
	"github.com/Iron-Ham/gotmesh/internal/store"
	"github.com/Iron-Ham/gotmesh/internal/taskmanager"
)

const diamondPlan = `
name: diamond
defaults:
  max_retries: 1
tasks:
  - id: source
    kind: echo
    params: {n: 1}
  - id: left
    kind: sleep
    params: {duration_ms: 20}
    depends_on: [source]
  - id: right
    kind: sleep
    params: {duration_ms: 20}
    depends_on: [source]
  - id: sink
    kind: echo
    params: {n: 4}
    depends_on: [left, right]
`

type testPeer struct {
	id      string
	dataDir string
	tm      *taskmanager.Manager
	hub     *coordination.Hub
	ran     map[string]int
	mu      sync.Mutex
}

func startPeer(t *testing.T, id, mailboxDir string, p *plan.Plan) *testPeer {
	t.Helper()
	tp := &testPeer{id: id, dataDir: t.TempDir(), ran: make(map[string]int)}

	results, err := store.NewFileStore(tp.dataDir)
	if err != nil {
		t.Fatal(err)
	}
	tp.tm = taskmanager.New(taskmanager.WithResultStore(results))
	t.Cleanup(tp.tm.Close)
	tp.tm.Bus().Subscribe(event.TypeTaskStarted, func(e event.Event) {
		tp.mu.Lock()
		tp.ran[e.(event.TaskStartedEvent).TaskID]++
		tp.mu.Unlock()
	})
	if _, err := p.Submit(tp.tm); err != nil {
		t.Fatal(err)
	}

	mb := mailbox.NewMailbox(mailboxDir, id, mailbox.WithPollInterval(10*time.Millisecond))
	if err := mb.Register(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = mb.Unregister() })

	tp.hub, err = coordination.NewHub(coordination.Config{
		Manager:   tp.tm,
		Clock:     clock.New(id),
		Messenger: mb,
	},
		coordination.WithWorkers(2),
		coordination.WithGossipWindow(40*time.Millisecond),
		coordination.WithIdlePoll(10*time.Millisecond),
		coordination.WithStopWhenDone(),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = tp.hub.Close() })
	return tp
}

func TestPeersShareAPlanThroughTheMailbox(t *testing.T) {
	p, err := plan.Parse([]byte(diamondPlan))
	if err != nil {
		t.Fatal(err)
	}
	mailboxDir := t.TempDir()

	peers := []*testPeer{
		startPeer(t, "alpha", mailboxDir, p),
		startPeer(t, "beta", mailboxDir, p),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	var wg sync.WaitGroup
	for _, tp := range peers {
		wg.Go(func() {
			if err := tp.hub.Run(ctx); err != nil {
				t.Errorf("%s: %v", tp.id, err)
			}
		})
	}
	wg.Wait()
	if ctx.Err() != nil {
		t.Fatal("peers did not finish the plan in time")
	}

	for _, tp := range peers {
		for _, task := range p.Tasks {
			inst, err := tp.tm.Status(task.ID)
			if err != nil {
				t.Fatal(err)
			}
			if inst.Status != taskmanager.StatusCompleted {
				t.Errorf("%s sees %s as %s", tp.id, task.ID, inst.Status)
			}
		}
		sink, _ := tp.tm.Status("sink")
		if string(sink.Result) != `{"n":4}` {
			t.Errorf("%s sees sink result %s", tp.id, sink.Result)
		}
	}

	for _, task := range p.Tasks {
		total := 0
		for _, tp := range peers {
			total += tp.ran[task.ID]
		}
		if total == 0 {
			t.Errorf("%s never ran on any peer", task.ID)
		}
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	p, err := plan.Parse([]byte(diamondPlan))
	if err != nil {
		t.Fatal(err)
	}
	dataDir := t.TempDir()
	results, err := store.NewFileStore(dataDir)
	if err != nil {
		t.Fatal(err)
	}

	reg := backend.DefaultRegistry()
	tm := taskmanager.New(taskmanager.WithResultStore(results), taskmanager.WithRegistry(reg))
	if _, err := p.Submit(tm); err != nil {
		t.Fatal(err)
	}

	// Finish source by hand and leave left mid-flight.
	for _, id := range []string{"source", "left"} {
		if err := tm.Claim(id, "gone"); err != nil {
			t.Fatal(err)
		}
		if _, _, err := tm.Start(context.Background(), id, "w0"); err != nil {
			t.Fatal(err)
		}
		if id == "source" {
			if _, err := tm.Complete("source", json.RawMessage(`{"n":1}`)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tm.SaveState(dataDir); err != nil {
		t.Fatal(err)
	}
	tm.Close()

	restored, err := taskmanager.LoadState(dataDir, taskmanager.WithResultStore(results), taskmanager.WithRegistry(reg))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(restored.Close)

	want := map[string]taskmanager.Status{
		"source": taskmanager.StatusCompleted,
		"left":   taskmanager.StatusReady,
		"right":  taskmanager.StatusReady,
		"sink":   taskmanager.StatusPending,
	}
	for id, status := range want {
		inst, err := restored.Status(id)
		if err != nil {
			t.Fatal(err)
		}
		if inst.Status != status {
			t.Errorf("%s restored as %s, want %s", id, inst.Status, status)
		}
	}
	if src, _ := restored.Status("source"); string(src.Result) != `{"n":1}` {
		t.Errorf("source result after restart = %s", src.Result)
	}

	res, err := p.Submit(restored)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Existing) != len(p.Tasks) {
		t.Errorf("resubmitting after restart = %+v", res)
	}

	hub, err := coordination.NewHub(coordination.Config{
		Manager:   restored,
		Clock:     clock.New("solo"),
		Messenger: coordination.NewMemoryNetwork().Join("solo"),
	}, coordination.WithGossipWindow(time.Millisecond), coordination.WithIdlePoll(10*time.Millisecond), coordination.WithStopWhenDone())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = hub.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := hub.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if c := restored.Counts(); c.Completed != 4 {
		t.Errorf("counts after resume = %+v", c)
	}
}
