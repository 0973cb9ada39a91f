// Package elements describes a state machine as a graph of named elements so it can be
// rendered or inspected without running it. States come from the hsm hierarchy and
// transitions are added as they are observed.
package elements

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/stateforward/hsmcore"
	"github.com/stateforward/hsmcore/kind"
)

var (
	VertexKind     = kind.Make()
	StateKind      = kind.Make(VertexKind)
	TransitionKind = kind.Make()
	// InternalKind marks a transition that did not change the configuration.
	InternalKind = kind.Make(TransitionKind)
	// ExternalKind marks a transition that ran exit or entry hooks.
	ExternalKind = kind.Make(TransitionKind)
)

type Element interface {
	Kind() kind.Kind
	Id() string
}

type NamedElement interface {
	Element
	Owner() string
	QualifiedName() string
	Name() string
}

type Namespace interface {
	NamedElement
	Members() map[string]NamedElement
}

type Model interface {
	Namespace
	// Initial is the qualified name of the state a machine starts in, if known.
	Initial() string
}

type Transition interface {
	NamedElement
	Source() string
	Target() string
	Events() []string
}

type Vertex interface {
	NamedElement
	Transitions() []string
}

type element struct {
	kind          kind.Kind
	id            string
	owner         string
	qualifiedName string
}

func (e *element) Kind() kind.Kind       { return e.kind }
func (e *element) Id() string            { return e.id }
func (e *element) Owner() string         { return e.owner }
func (e *element) QualifiedName() string { return e.qualifiedName }
func (e *element) Name() string          { return path.Base(e.qualifiedName) }

type vertex struct {
	element
	transitions []string
}

func (v *vertex) Transitions() []string { return v.transitions }

type transition struct {
	element
	source string
	target string
	events []string
}

func (t *transition) Source() string   { return t.source }
func (t *transition) Target() string   { return t.target }
func (t *transition) Events() []string { return t.events }

// Graph is a mutable Model. It is not safe for concurrent use.
type Graph struct {
	element
	members map[string]NamedElement
	initial string
}

// NewGraph returns an empty graph whose own qualified name is "/".
func NewGraph(id string) *Graph {
	return &Graph{
		element: element{id: id, qualifiedName: "/"},
		members: map[string]NamedElement{},
	}
}

func (g *Graph) Members() map[string]NamedElement { return g.members }

func (g *Graph) Initial() string { return g.initial }

// AddStates adds every state and all of its ancestors. The first state added becomes
// the initial state unless one is already set.
func AddStates[C, E any](g *Graph, states ...hsm.State[C, E]) error {
	for _, state := range states {
		if _, err := hsm.Depth(state); err != nil {
			return fmt.Errorf("adding %s: %w", hsm.Name(state), err)
		}
		qualifiedName := hsm.QualifiedName(state)
		if g.initial == "" {
			g.initial = qualifiedName
		}
		for current := state; current != nil; current = current.Parent() {
			g.addVertex(hsm.QualifiedName(current))
		}
	}
	return nil
}

func (g *Graph) addVertex(qualifiedName string) {
	if _, ok := g.members[qualifiedName]; ok {
		return
	}
	g.members[qualifiedName] = &vertex{
		element: element{
			kind:          StateKind,
			id:            qualifiedName,
			owner:         path.Dir(qualifiedName),
			qualifiedName: qualifiedName,
		},
	}
}

// Connect records that event moved the machine from source to target. Repeated
// connections between the same states merge their events. internal marks a transition
// that ran no exit or entry hook.
func (g *Graph) Connect(source, target, event string, internal bool) error {
	from, ok := g.members[source].(*vertex)
	if !ok {
		return fmt.Errorf("unknown source state %q", source)
	}
	if _, ok := g.members[target].(*vertex); !ok {
		return fmt.Errorf("unknown target state %q", target)
	}
	transitionKind := ExternalKind
	if internal {
		transitionKind = InternalKind
	}
	for _, name := range from.transitions {
		existing := g.members[name].(*transition)
		if existing.target == target && existing.kind == transitionKind {
			if !slices.Contains(existing.events, event) {
				existing.events = append(existing.events, event)
			}
			return nil
		}
	}
	qualifiedName := path.Join(source, fmt.Sprintf(".transition_%d", len(from.transitions)))
	g.members[qualifiedName] = &transition{
		element: element{
			kind:          transitionKind,
			id:            qualifiedName,
			owner:         source,
			qualifiedName: qualifiedName,
		},
		source: source,
		target: target,
		events: []string{event},
	}
	from.transitions = append(from.transitions, qualifiedName)
	return nil
}

// States returns the qualified names of every state, parents before children.
func States(model Model) []string {
	var names []string
	for name, member := range model.Members() {
		if kind.Is(member.Kind(), VertexKind) {
			names = append(names, name)
		}
	}
	slices.SortFunc(names, ComparePaths)
	return names
}

// ComparePaths orders qualified names like a directory listing: segment by segment,
// shorter paths first.
func ComparePaths(a, b string) int {
	return slices.Compare(strings.Split(a, "/"), strings.Split(b, "/"))
}
