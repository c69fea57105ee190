package graph

import (
	"slices"
	"testing"
	"time"

	"github.com/Iron-Ham/gotmesh/internal/errors"
)

func diamond(t *testing.T) *Store {
	t.Helper()
	g := New()
	mustAdd(t, g, "a")
	mustAdd(t, g, "b", "a")
	mustAdd(t, g, "c", "a")
	mustAdd(t, g, "d", "b", "c")
	return g
}

func TestAncestorsDescendants(t *testing.T) {
	g := diamond(t)

	anc, err := g.Ancestors("d")
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"b", "c", "a"}; !slices.Equal(anc, want) {
		t.Errorf("Ancestors(d) = %v, want %v", anc, want)
	}

	desc, err := g.Descendants("a")
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"b", "c", "d"}; !slices.Equal(desc, want) {
		t.Errorf("Descendants(a) = %v, want %v", desc, want)
	}

	if _, err := g.Ancestors("missing"); !errors.Is(err, errors.ErrNodeNotFound) {
		t.Errorf("Ancestors(missing) error = %v", err)
	}
}

func TestTopologicalOrder(t *testing.T) {
	g := diamond(t)
	order, err := g.TopologicalOrder()
	if err != nil {
		t.Fatal(err)
	}
	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	for _, r := range g.Snapshot() {
		for _, dep := range r.DependsOn {
			if pos[dep] > pos[r.ID] {
				t.Errorf("%s ordered before its dependency %s", r.ID, dep)
			}
		}
	}
}

func TestRemove(t *testing.T) {
	g := diamond(t)

	if err := g.Remove("a"); !errors.Is(err, errors.ErrNodeNotTerminal) {
		t.Fatalf("Remove(non-terminal) error = %v", err)
	}

	if _, err := g.MarkCompleted("a"); err != nil {
		t.Fatal(err)
	}
	if err := g.Remove("a"); !errors.Is(err, errors.ErrNodeNotTerminal) {
		t.Errorf("Remove with live children error = %v", err)
	}

	for _, id := range []string{"b", "c", "d"} {
		if err := g.MarkRunning(id); err != nil {
			t.Fatal(err)
		}
		if _, err := g.MarkCompleted(id); err != nil {
			t.Fatal(err)
		}
	}
	if err := g.Remove("a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, ok := g.Node("a"); ok {
		t.Error("a still present")
	}
	if n, _ := g.Node("b"); len(n.Parents) != 0 {
		t.Errorf("b parents = %v, want none", n.Parents)
	}
}

func TestSnapshotRestore(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	g := New(WithClock(func() time.Time { return ts }))
	mustAdd(t, g, "a")
	mustAdd(t, g, "b", "a")
	mustAdd(t, g, "c")
	if err := g.AddEdges("c", "b"); err != nil {
		t.Fatal(err)
	}
	if err := g.MarkRunning("a"); err != nil {
		t.Fatal(err)
	}

	restored := New()
	if err := restored.Restore(g.Snapshot()); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if restored.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", restored.Len())
	}
	a, _ := restored.Node("a")
	if a.Status != StatusReady {
		t.Errorf("running node restored as %s, want ready", a.Status)
	}
	if !a.UpdatedAt.Equal(ts) {
		t.Errorf("UpdatedAt = %v, want %v", a.UpdatedAt, ts)
	}
	c, _ := restored.Node("c")
	if _, ok := c.Parents["b"]; !ok {
		t.Error("late edge b -> c lost on restore")
	}
}
