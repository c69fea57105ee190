package graph

import (
	"slices"
	"testing"

	"github.com/Iron-Ham/gotmesh/internal/errors"
)

func mustAdd(t *testing.T, g *Store, id string, deps ...string) Admission {
	t.Helper()
	adm, err := g.AddNode(Node{ID: id}, deps)
	if err != nil {
		t.Fatalf("AddNode(%s) error = %v", id, err)
	}
	return adm
}

func collectReady(g *Store) []string {
	var ids []string
	for id := range g.ReadyNodes() {
		ids = append(ids, id)
	}
	return ids
}

func TestAddNode_Admission(t *testing.T) {
	g := New()

	if adm := mustAdd(t, g, "a"); adm.Status != StatusReady {
		t.Errorf("root admission = %s, want ready", adm.Status)
	}
	if adm := mustAdd(t, g, "b", "a"); adm.Status != StatusPending {
		t.Errorf("dependent admission = %s, want pending", adm.Status)
	}
	if g.Len() != 2 {
		t.Errorf("Len() = %d, want 2", g.Len())
	}
}

func TestAddNode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		deps    []string
		wantErr error
	}{
		{name: "empty id", id: "", wantErr: errors.ErrInvalidInput},
		{name: "duplicate", id: "a", wantErr: errors.ErrDuplicateNode},
		{name: "unknown dependency", id: "c", deps: []string{"missing"}, wantErr: errors.ErrNodeNotFound},
		{name: "self dependency", id: "c", deps: []string{"c"}, wantErr: errors.ErrDependencyCycle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New()
			mustAdd(t, g, "a")
			before := g.Snapshot()

			_, err := g.AddNode(Node{ID: tt.id}, tt.deps)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("AddNode() error = %v, want %v", err, tt.wantErr)
			}
			if after := g.Snapshot(); len(after) != len(before) {
				t.Errorf("graph changed on error: %d nodes, want %d", len(after), len(before))
			}
		})
	}
}

func TestAddNode_FailedDependency(t *testing.T) {
	g := New()
	mustAdd(t, g, "a")
	if _, err := g.MarkFailed("a"); err != nil {
		t.Fatal(err)
	}

	adm := mustAdd(t, g, "strict", "a")
	if adm.Status != StatusFailed || adm.RootCause != "a" {
		t.Errorf("strict admission = %+v, want failed by a", adm)
	}

	adm, err := g.AddNode(Node{ID: "lenient", BestEffort: true}, []string{"a"})
	if err != nil {
		t.Fatal(err)
	}
	if adm.Status != StatusReady {
		t.Errorf("best-effort admission = %s, want ready", adm.Status)
	}
	if n, _ := g.Node("lenient"); !n.Degraded {
		t.Error("best-effort node should be degraded")
	}
}

func TestAddEdges_Cycle(t *testing.T) {
	g := New()
	mustAdd(t, g, "a")
	mustAdd(t, g, "b", "a")
	mustAdd(t, g, "c", "b")
	mustAdd(t, g, "d")
	if err := g.AddEdges("a", "d"); err != nil {
		t.Fatalf("AddEdges(a, d) error = %v", err)
	}
	before := g.Snapshot()

	err := g.AddEdges("a", "c")
	var cycleErr *errors.CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("AddEdges() error = %v, want CycleError", err)
	}
	if want := []string{"a", "b", "c", "a"}; !slices.Equal(cycleErr.Path, want) {
		t.Errorf("cycle path = %v, want %v", cycleErr.Path, want)
	}
	if !g.IsAcyclic() {
		t.Error("graph must stay acyclic")
	}
	after := g.Snapshot()
	for i := range before {
		if !slices.Equal(before[i].DependsOn, after[i].DependsOn) {
			t.Errorf("edges of %s changed: %v -> %v", before[i].ID, before[i].DependsOn, after[i].DependsOn)
		}
	}
}

func TestAddEdges_ReadyDropsToPending(t *testing.T) {
	g := New()
	mustAdd(t, g, "a")
	mustAdd(t, g, "b")

	if err := g.AddEdges("b", "a"); err != nil {
		t.Fatalf("AddEdges() error = %v", err)
	}
	if n, _ := g.Node("b"); n.Status != StatusPending {
		t.Errorf("b status = %s, want pending", n.Status)
	}
	if got := collectReady(g); !slices.Equal(got, []string{"a"}) {
		t.Errorf("ready = %v, want [a]", got)
	}
}

func TestAddEdges_RejectsScheduled(t *testing.T) {
	g := New()
	mustAdd(t, g, "a")
	mustAdd(t, g, "b")
	if err := g.MarkScheduled("b"); err != nil {
		t.Fatal(err)
	}

	if err := g.AddEdges("b", "a"); !errors.Is(err, errors.ErrInvalidTransition) {
		t.Errorf("AddEdges() error = %v, want ErrInvalidTransition", err)
	}
}
