package graph

import (
	"slices"
	"testing"

	"github.com/Iron-Ham/gotmesh/internal/errors"
)

func TestMarkCompleted_AndJoin(t *testing.T) {
	g := New()
	mustAdd(t, g, "a")
	mustAdd(t, g, "b")
	mustAdd(t, g, "join", "a", "b")

	unblocked, err := g.MarkCompleted("a")
	if err != nil {
		t.Fatal(err)
	}
	if len(unblocked) != 0 {
		t.Errorf("join unblocked after one parent: %v", unblocked)
	}

	unblocked, err = g.MarkCompleted("b")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(unblocked, []string{"join"}) {
		t.Errorf("unblocked = %v, want [join]", unblocked)
	}
}

func TestMarkCompleted_Terminal(t *testing.T) {
	g := New()
	mustAdd(t, g, "a")
	if _, err := g.MarkCompleted("a"); err != nil {
		t.Fatal(err)
	}
	if _, err := g.MarkCompleted("a"); !errors.Is(err, errors.ErrInvalidTransition) {
		t.Errorf("second MarkCompleted error = %v, want ErrInvalidTransition", err)
	}
	if _, err := g.MarkCompleted("missing"); !errors.Is(err, errors.ErrNodeNotFound) {
		t.Errorf("MarkCompleted(missing) error = %v, want ErrNodeNotFound", err)
	}
}

func TestReadyNodes_ScheduledBit(t *testing.T) {
	g := New()
	mustAdd(t, g, "a")
	mustAdd(t, g, "b")
	mustAdd(t, g, "c", "a")

	if got := collectReady(g); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("ready = %v, want [a b]", got)
	}

	for id := range g.ReadyNodes() {
		if err := g.MarkScheduled(id); err != nil {
			t.Fatal(err)
		}
	}
	if got := collectReady(g); len(got) != 0 {
		t.Errorf("ready after scheduling = %v, want none", got)
	}

	if err := g.Requeue("a", 7); err != nil {
		t.Fatal(err)
	}
	if got := collectReady(g); !slices.Equal(got, []string{"a"}) {
		t.Errorf("ready after requeue = %v, want [a]", got)
	}
	if n, _ := g.Node("a"); n.Priority != 7 {
		t.Errorf("priority = %d, want 7", n.Priority)
	}
}

func TestReadyNodes_EarlyStop(t *testing.T) {
	g := New()
	mustAdd(t, g, "a")
	mustAdd(t, g, "b")

	var got []string
	for id := range g.ReadyNodes() {
		got = append(got, id)
		break
	}
	if !slices.Equal(got, []string{"a"}) {
		t.Errorf("got %v, want [a]", got)
	}
}

func TestMarkFailed_CascadeOnce(t *testing.T) {
	// root -> x -> z
	// root -> y -> z
	g := New()
	mustAdd(t, g, "root")
	mustAdd(t, g, "x", "root")
	mustAdd(t, g, "y", "root")
	mustAdd(t, g, "z", "x", "y")
	mustAdd(t, g, "other")

	c, err := g.MarkFailed("root")
	if err != nil {
		t.Fatal(err)
	}
	if c.Root != "root" {
		t.Errorf("Root = %s", c.Root)
	}
	if want := []string{"x", "y", "z"}; !slices.Equal(c.Failed, want) {
		t.Errorf("Failed = %v, want %v", c.Failed, want)
	}
	for _, id := range []string{"x", "y", "z"} {
		if n, _ := g.Node(id); n.Status != StatusFailed {
			t.Errorf("%s status = %s, want failed", id, n.Status)
		}
	}
	if n, _ := g.Node("other"); n.Status != StatusReady {
		t.Errorf("unrelated node status = %s, want ready", n.Status)
	}
}

func TestMarkFailed_BestEffort(t *testing.T) {
	g := New()
	mustAdd(t, g, "a")
	mustAdd(t, g, "b")
	if _, err := g.AddNode(Node{ID: "summary", BestEffort: true}, []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	mustAdd(t, g, "after", "summary")

	c, err := g.MarkFailed("a")
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Failed) != 0 {
		t.Errorf("Failed = %v, best-effort node should stop the cascade", c.Failed)
	}
	if !slices.Equal(c.Degraded, []string{"summary"}) {
		t.Errorf("Degraded = %v, want [summary]", c.Degraded)
	}
	if len(c.Ready) != 0 {
		t.Errorf("Ready = %v, summary still waits on b", c.Ready)
	}

	unblocked, err := g.MarkCompleted("b")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(unblocked, []string{"summary"}) {
		t.Errorf("unblocked = %v, want [summary]", unblocked)
	}
	n, _ := g.Node("summary")
	if n.Status != StatusReady || !n.Degraded {
		t.Errorf("summary = %s degraded=%v, want ready degraded", n.Status, n.Degraded)
	}
	if n, _ := g.Node("after"); n.Status != StatusPending {
		t.Errorf("after = %s, want pending", n.Status)
	}
}

func TestMarkCancelled_SkipsRunning(t *testing.T) {
	// a -> b -> d
	// a -> c
	g := New()
	mustAdd(t, g, "a")
	mustAdd(t, g, "b", "a")
	mustAdd(t, g, "c", "a")
	mustAdd(t, g, "d", "b")
	mustAdd(t, g, "e")
	if _, err := g.MarkCompleted("a"); err != nil {
		t.Fatal(err)
	}
	if err := g.MarkRunning("b"); err != nil {
		t.Fatal(err)
	}

	cancelled, err := g.MarkCancelled("b")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(cancelled, []string{"d"}) {
		t.Errorf("cancelled = %v, want [d]", cancelled)
	}

	g2 := New()
	mustAdd(t, g2, "a")
	mustAdd(t, g2, "b", "a")
	mustAdd(t, g2, "c", "b")
	if _, err := g2.MarkCompleted("a"); err != nil {
		t.Fatal(err)
	}
	if err := g2.MarkRunning("b"); err != nil {
		t.Fatal(err)
	}
	cancelled, err = g2.MarkCancelled("a")
	if !errors.Is(err, errors.ErrInvalidTransition) {
		t.Fatalf("cancel of completed node error = %v, want ErrInvalidTransition", err)
	}
	if len(cancelled) != 0 {
		t.Errorf("cancelled = %v", cancelled)
	}
}

func TestMarkCancelled_CascadesPending(t *testing.T) {
	g := New()
	mustAdd(t, g, "root")
	mustAdd(t, g, "mid", "root")
	mustAdd(t, g, "leaf", "mid")

	cancelled, err := g.MarkCancelled("root")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(cancelled, []string{"mid", "leaf"}) {
		t.Errorf("cancelled = %v, want [mid leaf]", cancelled)
	}
}
