package elements_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/stateforward/hsmcore"
	"github.com/stateforward/hsmcore/elements"
	"github.com/stateforward/hsmcore/kind"
)

type State = hsm.State[any, string]

type named struct {
	hsm.Vertex[any, string]
	name   string
	parent *named
}

func (n *named) Name() string { return n.name }

func (n *named) Parent() State {
	if n.parent == nil {
		return nil
	}
	return n.parent
}

var (
	root = &named{name: "root"}
	a    = &named{name: "a", parent: root}
	a1   = &named{name: "a1", parent: a}
	b    = &named{name: "b", parent: root}
)

func TestAddStates(t *testing.T) {
	graph := elements.NewGraph("demo")
	if err := elements.AddStates[any, string](graph, a1, b); err != nil {
		t.Fatal(err)
	}
	expected := []string{"/root", "/root/a", "/root/a/a1", "/root/b"}
	if states := elements.States(graph); !slices.Equal(states, expected) {
		t.Fatalf("expected %v, got %v", expected, states)
	}
	if graph.Initial() != "/root/a/a1" {
		t.Fatalf("unexpected initial %s", graph.Initial())
	}
	member := graph.Members()["/root/a"]
	if member.Owner() != "/root" || member.Name() != "a" || !kind.Is(member.Kind(), elements.VertexKind) {
		t.Fatalf("unexpected member %s owner=%s", member.Name(), member.Owner())
	}
}

func TestAddStatesTooDeep(t *testing.T) {
	var deepest *named
	for i := 0; i <= hsm.MaxDepth; i++ {
		deepest = &named{name: "n", parent: deepest}
	}
	err := elements.AddStates[any, string](elements.NewGraph("deep"), deepest)
	if !errors.Is(err, hsm.ErrDepthExceeded) {
		t.Fatalf("expected ErrDepthExceeded, got %v", err)
	}
}

func TestConnect(t *testing.T) {
	graph := elements.NewGraph("demo")
	if err := elements.AddStates[any, string](graph, a1, b); err != nil {
		t.Fatal(err)
	}
	for _, event := range []string{"go", "stop", "go"} {
		if err := graph.Connect("/root/a/a1", "/root/b", event, false); err != nil {
			t.Fatal(err)
		}
	}
	if err := graph.Connect("/root/b", "/root/b", "tick", true); err != nil {
		t.Fatal(err)
	}
	if err := graph.Connect("/root/c", "/root/b", "go", false); err == nil {
		t.Fatal("expected an error for an unknown source")
	}

	source := graph.Members()["/root/a/a1"].(elements.Vertex)
	if len(source.Transitions()) != 1 {
		t.Fatalf("expected one merged transition, got %v", source.Transitions())
	}
	transition := graph.Members()[source.Transitions()[0]].(elements.Transition)
	if !slices.Equal(transition.Events(), []string{"go", "stop"}) || transition.Target() != "/root/b" {
		t.Fatalf("unexpected transition %s -> %s %v", transition.Source(), transition.Target(), transition.Events())
	}
	if !kind.Is(transition.Kind(), elements.ExternalKind) {
		t.Fatal("expected an external transition")
	}
	internal := graph.Members()["/root/b/.transition_0"]
	if internal == nil || !kind.Is(internal.Kind(), elements.InternalKind) {
		t.Fatalf("expected an internal transition on b, got %v", internal)
	}
}

func TestComparePaths(t *testing.T) {
	paths := []string{"/root/b", "/root/a/a1", "/root", "/root/a"}
	slices.SortFunc(paths, elements.ComparePaths)
	if !slices.Equal(paths, []string{"/root", "/root/a", "/root/a/a1", "/root/b"}) {
		t.Fatalf("unexpected order %v", paths)
	}
}
