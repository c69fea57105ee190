package coordination

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/gotmesh/internal/clock"
	"github.com/Iron-Ham/gotmesh/internal/event"
	"github.com/Iron-Ham/gotmesh/internal/mailbox"
	"github.com/Iron-Ham/gotmesh/internal/taskmanager"
	"github.com/Iron-Ham/gotmesh/internal/testutil"
)

type peer struct {
	id    string
	tm    *taskmanager.Manager
	clk   *clock.Clock
	net   *MemoryMessenger
	coord *Coordinator
}

func runMessenger(t *testing.T, m *MemoryMessenger) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func newPeer(t *testing.T, network *MemoryNetwork, id string, tasks ...string) *peer {
	t.Helper()
	p := &peer{
		id:  id,
		tm:  taskmanager.New(),
		clk: clock.New(id),
		net: network.Join(id),
	}
	t.Cleanup(p.tm.Close)
	for _, task := range tasks {
		if _, err := p.tm.Submit("echo", nil, taskmanager.SubmitOptions{ID: task}); err != nil {
			t.Fatal(err)
		}
	}
	p.coord = NewCoordinator(p.tm, p.clk, p.net,
		WithGossipWindow(50*time.Millisecond),
		WithClaimTTL(200*time.Millisecond),
		WithExpiryGrace(50*time.Millisecond),
		WithBackoffStep(5),
	)
	t.Cleanup(p.coord.Close)
	runMessenger(t, p.net)
	return p
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	testutil.Eventually(t, 0, cond)
}

func status(t *testing.T, p *peer, id string) taskmanager.Instance {
	t.Helper()
	inst, err := p.tm.Status(id)
	if err != nil {
		t.Fatal(err)
	}
	return inst
}

// inject broadcasts a hand-made coordination message from a fake peer.
func inject(t *testing.T, from *MemoryMessenger, typ mailbox.MessageType, taskID string, p payload) {
	t.Helper()
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := from.Broadcast(context.Background(), mailbox.Message{Type: typ, TaskID: taskID, Payload: data}); err != nil {
		t.Fatal(err)
	}
}

func TestAcquire_SinglePeerWins(t *testing.T) {
	network := NewMemoryNetwork()
	a := newPeer(t, network, "peer-a", "t")

	if _, ok := a.tm.Next(); !ok {
		t.Fatal("Next() found nothing")
	}
	won, err := a.coord.Acquire(context.Background(), "t")
	if err != nil || !won {
		t.Fatalf("Acquire() = %v, %v", won, err)
	}
	inst := status(t, a, "t")
	if inst.Status != taskmanager.StatusClaimed || inst.ClaimedBy != "peer-a" {
		t.Errorf("after win: %s by %q", inst.Status, inst.ClaimedBy)
	}
	if got := a.clk.Local().Counter; got != 1 {
		t.Errorf("clock counter = %d, want 1", got)
	}
}

func TestAcquire_ContentionHasOneWinner(t *testing.T) {
	network := NewMemoryNetwork()
	peers := []*peer{
		newPeer(t, network, "peer-a", "t"),
		newPeer(t, network, "peer-b", "t"),
		newPeer(t, network, "peer-c", "t"),
	}
	var deferred sync.Map
	for _, p := range peers {
		p.tm.Bus().Subscribe(event.TypeClaimDeferred, func(e event.Event) {
			deferred.Store(p.id, e.(event.ClaimDeferredEvent).Winner)
		})
		if _, ok := p.tm.Next(); !ok {
			t.Fatal("Next() found nothing")
		}
	}

	results := make([]bool, len(peers))
	var wg sync.WaitGroup
	for i, p := range peers {
		wg.Go(func() {
			won, err := p.coord.Acquire(context.Background(), "t")
			if err != nil {
				t.Error(err)
			}
			results[i] = won
		})
	}
	wg.Wait()

	var winner string
	for i, won := range results {
		if won {
			if winner != "" {
				t.Fatalf("both %s and %s won", winner, peers[i].id)
			}
			winner = peers[i].id
		}
	}
	if winner == "" {
		t.Fatal("nobody won")
	}

	for _, p := range peers {
		if p.id == winner {
			continue
		}
		inst := status(t, p, "t")
		if inst.Status != taskmanager.StatusReady || inst.Priority != 5 {
			t.Errorf("%s: loser state %s priority %d", p.id, inst.Status, inst.Priority)
		}
		if _, ok := p.tm.Next(); ok {
			t.Errorf("%s: deferred task is schedulable", p.id)
		}
		if w, ok := deferred.Load(p.id); !ok || w != winner {
			t.Errorf("%s: deferred to %v, want %s", p.id, w, winner)
		}
	}
}

func TestCoordinator_AdoptsRemoteProgress(t *testing.T) {
	network := NewMemoryNetwork()
	a := newPeer(t, network, "peer-a", "t1", "t2")
	b := newPeer(t, network, "peer-b", "t1", "t2")
	if err := a.tm.AddDependency("t2", "t1"); err != nil {
		t.Fatal(err)
	}
	if err := b.tm.AddDependency("t2", "t1"); err != nil {
		t.Fatal(err)
	}

	a.tm.Next()
	if won, err := a.coord.Acquire(context.Background(), "t1"); err != nil || !won {
		t.Fatalf("Acquire() = %v, %v", won, err)
	}
	if _, _, err := a.tm.Start(context.Background(), "t1", "w"); err != nil {
		t.Fatal(err)
	}
	if err := a.coord.Started(context.Background(), "t1", time.Second); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		inst := status(t, b, "t1")
		return inst.Status == taskmanager.StatusRunning && inst.Remote && inst.ClaimedBy == "peer-a"
	})

	result := json.RawMessage(`{"x":1}`)
	if _, err := a.tm.Complete("t1", result); err != nil {
		t.Fatal(err)
	}
	if err := a.coord.Completed(context.Background(), "t1", result); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return status(t, b, "t1").Status == taskmanager.StatusCompleted })

	if got := status(t, b, "t1").Result; string(got) != `{"x":1}` {
		t.Errorf("adopted result = %s", got)
	}
	if got := status(t, b, "t2").Status; got != taskmanager.StatusReady {
		t.Errorf("t2 on peer-b = %s, want ready", got)
	}
	if b.clk.Local().Counter != 0 {
		t.Error("receiving gossip advanced the local counter")
	}
	if e, ok := b.clk.Entry("peer-a"); !ok || e.Counter < 3 {
		t.Errorf("peer-b view of peer-a = %+v", e)
	}
}

func TestCoordinator_YieldsToLateHigherClaim(t *testing.T) {
	network := NewMemoryNetwork()
	a := newPeer(t, network, "peer-a", "t")
	ghost := network.Join("peer-z")

	var yielded sync.WaitGroup
	yielded.Add(1)
	a.tm.Bus().Subscribe(event.TypeClaimYielded, func(event.Event) { yielded.Done() })

	a.tm.Next()
	if won, _ := a.coord.Acquire(context.Background(), "t"); !won {
		t.Fatal("Acquire() lost with no competition")
	}
	ctx, _, err := a.tm.Start(context.Background(), "t", "w")
	if err != nil {
		t.Fatal(err)
	}

	entry := clock.Entry{Counter: 50, Heads: []string{"00"}}
	inject(t, ghost, mailbox.MessageClaim, "t", payload{
		Clock: clock.State{Peers: map[string]clock.Entry{"peer-z": entry}},
		Entry: &entry,
	})
	yielded.Wait()

	<-ctx.Done()
	inst := status(t, a, "t")
	if inst.Status != taskmanager.StatusReady || inst.Attempts != 0 {
		t.Errorf("after yield: %s attempts=%d", inst.Status, inst.Attempts)
	}
	if _, ok := a.tm.Next(); ok {
		t.Error("yielded task is immediately schedulable")
	}
}

func TestCoordinator_IgnoresLateLowerClaim(t *testing.T) {
	network := NewMemoryNetwork()
	a := newPeer(t, network, "peer-a", "t")
	ghost := network.Join("peer-z")

	// Advance peer-a so its claim carries a high counter.
	for range 10 {
		a.clk.Tick("warmup")
	}
	a.tm.Next()
	if won, _ := a.coord.Acquire(context.Background(), "t"); !won {
		t.Fatal("Acquire() lost with no competition")
	}

	entry := clock.Entry{Counter: 1, Heads: []string{"00"}}
	inject(t, ghost, mailbox.MessageClaim, "t", payload{Entry: &entry})
	time.Sleep(50 * time.Millisecond)

	if got := status(t, a, "t").Status; got != taskmanager.StatusClaimed {
		t.Errorf("status = %s, want claimed", got)
	}
}

func TestCoordinator_RemoteFailureCascades(t *testing.T) {
	network := NewMemoryNetwork()
	a := newPeer(t, network, "peer-a", "t1", "t2")
	if err := a.tm.AddDependency("t2", "t1"); err != nil {
		t.Fatal(err)
	}
	ghost := network.Join("peer-z")

	inject(t, ghost, mailbox.MessageStarted, "t1", payload{LeaseMs: 60000})
	waitFor(t, func() bool { return status(t, a, "t1").Status == taskmanager.StatusRunning })

	inject(t, ghost, mailbox.MessageFailed, "t1", payload{})
	waitFor(t, func() bool { return status(t, a, "t2").Status == taskmanager.StatusFailed })
	if got := status(t, a, "t1").ClaimedBy; got != "peer-z" {
		t.Errorf("t1 claimed by %q", got)
	}
}

func TestCoordinator_Sweep(t *testing.T) {
	network := NewMemoryNetwork()
	a := newPeer(t, network, "peer-a", "t")
	ghost := network.Join("peer-z")

	now := time.Now()
	a.coord.now = func() time.Time { return now }
	entry := clock.Entry{Counter: 9, Heads: []string{"ff"}}
	inject(t, ghost, mailbox.MessageClaim, "t", payload{Entry: &entry})
	waitFor(t, func() bool {
		_, ok := a.coord.claimOf("t", "peer-z")
		return ok
	})

	if n := a.coord.Sweep(); n != 0 {
		t.Errorf("Sweep() of fresh claim = %d", n)
	}
	now = now.Add(time.Hour)
	if n := a.coord.Sweep(); n != 1 {
		t.Errorf("Sweep() of stale claim = %d, want 1", n)
	}
}
