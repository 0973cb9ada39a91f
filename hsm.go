// Package hsm provides a bounded, allocation-free hierarchical state machine (HSM)
// dispatch engine for Go.
//
// # Overview
//
// States are statically-lived values (usually package level pointer singletons) that
// implement the State contract: they name an optional parent, may run entry and exit
// hooks, and decide how to react to an event by returning a Transition. A Machine holds
// a single reference to the active state and, for every dispatched event, bubbles the
// event from the active state toward the root until some state answers, then walks the
// hierarchy with UML statechart semantics: exits leaf-first below the least common
// ancestor, runs the transition behavior, enters root-first down to the target.
//
// # Features
//
//   - **Hierarchical States**: events bubble from the active leaf to its ancestors.
//   - **Internal, Local and External transitions**: External is the only way to exit and
//     re-enter a state (including a true self-transition).
//   - **Bounded**: ancestor chains live in fixed arrays of MaxDepth entries; a successful
//     dispatch performs no heap allocation.
//   - **Type Safe**: generics over the caller's context C and event E.
//
// # Usage
//
//	type Counters struct{ ticks int }
//
//	type rootState struct{ hsm.Vertex[*Counters, string] }
//
//	type idleState struct{ hsm.Vertex[*Counters, string] }
//
//	func (*idleState) Parent() hsm.State[*Counters, string] { return root }
//
//	func (*idleState) Handle(c *Counters, event string) hsm.Transition[*Counters, string] {
//	    if event == "tick" {
//	        return hsm.Internal(func(c *Counters, _ string) { c.ticks++ })
//	    }
//	    return hsm.Unhandled[*Counters, string]()
//	}
//
//	var (
//	    root = &rootState{}
//	    idle = &idleState{}
//	)
//
//	sm := hsm.New[*Counters, string](idle)
//	err := sm.Dispatch(&Counters{}, "tick")
//
// Errors returned by Dispatch are always *FatalError values. They describe defects in
// the state graph (an event no state handles, a hierarchy deeper than MaxDepth, states
// from unrelated hierarchies) and are meant to be eliminated during development rather
// than handled at each call site. MustDispatch panics with them instead.
package hsm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stateforward/hsmcore/kind"
	"github.com/stateforward/hsmcore/muid"
)

// MaxDepth bounds the number of states on any ancestor chain, the state itself
// included. It sizes the fixed arrays used while traversing.
const MaxDepth = 8

// Kind constants tag transitions and the steps reported to an Observer.
var (
	// TransitionKind is the base kind of every transition outcome.
	TransitionKind = kind.Make()
	// UnhandledKind means the state did not recognize the event; bubbling continues.
	UnhandledKind = kind.Make(TransitionKind)
	// InternalKind reacts to an event without any exit or entry.
	InternalKind = kind.Make(TransitionKind)
	// LocalKind changes the active state without exiting or entering the common ancestor.
	LocalKind = kind.Make(TransitionKind)
	// ExternalKind changes the active state and also exits and re-enters the common
	// ancestor. A transition whose target is the active state exits and re-enters it.
	ExternalKind = kind.Make(TransitionKind)

	// StepKind is the base kind of every step reported to an Observer.
	StepKind = kind.Make()
	// DispatchKind is reported with the active state when a dispatch begins.
	DispatchKind = kind.Make(StepKind)
	// HandleKind is reported with the state whose Handle answered the event.
	HandleKind = kind.Make(StepKind)
	// ExitKind is reported after a state's Exit hook ran.
	ExitKind = kind.Make(StepKind)
	// EffectKind is reported with the source state after a transition behavior ran.
	EffectKind = kind.Make(StepKind)
	// EntryKind is reported after a state's Entry hook ran.
	EntryKind = kind.Make(StepKind)
	// SettleKind is reported with the new active state once a dispatch completes.
	SettleKind = kind.Make(StepKind)
)

// Sentinel errors wrapped by FatalError. They can be checked with errors.Is.
var (
	// ErrUnhandledEvent means no state from the active leaf up to its root handled the event.
	ErrUnhandledEvent = errors.New("unhandled event passed through root state")
	// ErrDepthExceeded means an ancestor chain is longer than MaxDepth.
	ErrDepthExceeded = errors.New("state tree depth limit exceeded")
	// ErrNoCommonAncestor means the source and target of a transition do not share a root.
	ErrNoCommonAncestor = errors.New("common ancestor has not been found")
	// ErrInvalidTransition means a handler returned a Local or External transition without
	// a target, or the bare TransitionKind.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNilState is raised by New when the initial state is nil.
	ErrNilState = errors.New("state is nil")
)

// FatalError reports a defect in the state graph detected while dispatching.
// No exit, entry or behavior has run for the failing dispatch and the active state is
// unchanged. It is not meant to be recovered from per call.
type FatalError struct {
	// Machine is the id of the machine that detected the error.
	Machine string
	// State is the name of the state being examined when the error was detected.
	State string
	Err   error
}

func (e *FatalError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("hsm: machine %s: state %s: %v", e.Machine, e.State, e.Err)
}

func (e *FatalError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

/******* State *******/

// State is a node of a fixed hierarchy. Implementations must be comparable and are
// compared by identity, so pointer singletons are the expected form. A state carries no
// per-machine data and may be shared by any number of machines.
type State[C, E any] interface {
	// Parent returns the enclosing state, or nil for a root.
	Parent() State[C, E]
	// Entry runs once each time the state becomes active.
	Entry(c C)
	// Exit runs once each time the state stops being active.
	Exit(c C)
	// Handle decides how the state reacts to event. It must not dispatch on the machine.
	Handle(c C, event E) Transition[C, E]
}

// Vertex supplies the default State behavior: no parent, no-op hooks, and Unhandled
// for every event. Embed it and override what the state needs.
type Vertex[C, E any] struct {
	// keeps embedding structs non-zero sized so distinct pointers never compare equal
	_ byte
}

func (Vertex[C, E]) Parent() State[C, E] { return nil }

func (Vertex[C, E]) Entry(C) {}

func (Vertex[C, E]) Exit(C) {}

func (Vertex[C, E]) Handle(C, E) Transition[C, E] { return Transition[C, E]{Kind: UnhandledKind} }

/******* Transition *******/

// Behavior is an action attached to a transition. It runs after every exit and before
// every entry of the transition.
type Behavior[C, E any] func(c C, event E)

// Transition is the outcome of State.Handle. The zero value is unhandled.
type Transition[C, E any] struct {
	Kind     kind.Kind
	Target   State[C, E]
	Behavior Behavior[C, E]
}

// Handled reports whether the outcome stops bubbling.
func (t Transition[C, E]) Handled() bool {
	return kind.Is(t.Kind, TransitionKind) && !kind.Is(t.Kind, UnhandledKind)
}

// Unhandled lets the event bubble to the parent state.
func Unhandled[C, E any]() Transition[C, E] {
	return Transition[C, E]{Kind: UnhandledKind}
}

// Internal handles the event without leaving the active state. behavior may be nil.
func Internal[C, E any](behavior Behavior[C, E]) Transition[C, E] {
	return Transition[C, E]{Kind: InternalKind, Behavior: behavior}
}

// Local moves to target without exiting or entering the common ancestor.
func Local[C, E any](target State[C, E], behavior Behavior[C, E]) Transition[C, E] {
	return Transition[C, E]{Kind: LocalKind, Target: target, Behavior: behavior}
}

// External moves to target, exiting and re-entering the common ancestor.
func External[C, E any](target State[C, E], behavior Behavior[C, E]) Transition[C, E] {
	return Transition[C, E]{Kind: ExternalKind, Target: target, Behavior: behavior}
}

func kindName(k kind.Kind) string {
	switch {
	case kind.Is(k, UnhandledKind):
		return "unhandled"
	case kind.Is(k, InternalKind):
		return "internal"
	case kind.Is(k, LocalKind):
		return "local"
	case kind.Is(k, ExternalKind):
		return "external"
	case kind.Is(k, DispatchKind):
		return "dispatch"
	case kind.Is(k, HandleKind):
		return "handle"
	case kind.Is(k, ExitKind):
		return "exit"
	case kind.Is(k, EffectKind):
		return "effect"
	case kind.Is(k, EntryKind):
		return "entry"
	case kind.Is(k, SettleKind):
		return "settle"
	}
	return "unknown"
}

// KindName returns a short lowercase name for a transition or step kind.
func KindName(k kind.Kind) string {
	return kindName(k)
}

/******* Ancestor chain *******/

type chain[C, E any] struct {
	states [MaxDepth]State[C, E]
	depth  int
}

// build fills the chain from state up to its root. On ErrDepthExceeded the chain holds
// the first MaxDepth states.
func (chain *chain[C, E]) build(state State[C, E]) error {
	chain.states[0] = state
	chain.depth = 1
	for parent := state.Parent(); parent != nil; parent = parent.Parent() {
		if chain.depth == MaxDepth {
			return ErrDepthExceeded
		}
		chain.states[chain.depth] = parent
		chain.depth++
	}
	return nil
}

// common returns the positions of the first shared state, preferring the lowest
// position in chain and then in other.
func (chain *chain[C, E]) common(other *chain[C, E]) (int, int, bool) {
	for i := 0; i < chain.depth; i++ {
		for j := 0; j < other.depth; j++ {
			if chain.states[i] == other.states[j] {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

func (chain *chain[C, E]) root() State[C, E] {
	return chain.states[chain.depth-1]
}

/******* Machine *******/

// Config provides optional settings for New.
type Config[C, E any] struct {
	// ID uniquely identifies the machine; a muid based id is generated when empty.
	ID string
	// Name of the machine; defaults to the name of the initial state's root.
	Name string
	// Logger receives debug records per dispatch, trace records per hook and error
	// records for fatal conditions. Defaults to a disabled logger.
	Logger *zerolog.Logger
	// Observer is notified of every step. Optional.
	Observer Observer[C, E]
}

// Machine drives one active state through a static hierarchy.
//
// A Machine is not safe for concurrent use: dispatches must be strictly sequential and
// hooks, handlers and behaviors must not dispatch on the machine that called them.
type Machine[C, E any] struct {
	active   State[C, E]
	id       string
	name     string
	logger   zerolog.Logger
	observer Observer[C, E]
}

// New creates a machine whose active state is initial. The initial state's Entry hook
// is not run: the first dispatched event is expected to transition into the starting
// configuration, which runs entries normally. New panics with ErrNilState if initial
// is nil.
func New[C, E any](initial State[C, E], maybeConfig ...Config[C, E]) *Machine[C, E] {
	if initial == nil {
		panic(ErrNilState)
	}
	sm := &Machine[C, E]{
		active: initial,
		logger: zerolog.Nop(),
	}
	if len(maybeConfig) > 0 {
		config := maybeConfig[0]
		sm.id = config.ID
		sm.name = config.Name
		sm.observer = config.Observer
		if config.Logger != nil {
			sm.logger = *config.Logger
		}
	}
	if sm.name == "" {
		sm.name = Name(initial)
		var ancestors chain[C, E]
		if ancestors.build(initial) == nil {
			sm.name = Name(ancestors.root())
		}
	}
	if sm.id == "" {
		sm.id = fmt.Sprintf("%s_%s", sm.name, muid.MakeString())
	}
	sm.logger = sm.logger.With().Str("machine", sm.id).Logger()
	return sm
}

// Active returns the active state. Compare it by identity.
func (sm *Machine[C, E]) Active() State[C, E] {
	return sm.active
}

// ID returns the machine id.
func (sm *Machine[C, E]) ID() string {
	return sm.id
}

// Name returns the machine name.
func (sm *Machine[C, E]) Name() string {
	return sm.name
}

// Dispatch delivers event to the machine and returns once the new active state is
// settled. A non-nil error is always a *FatalError and is returned before any hook or
// behavior of this dispatch has run.
func (sm *Machine[C, E]) Dispatch(c C, event E) error {
	source := sm.active
	sm.step(DispatchKind, source)
	handler, transition, err := sm.process(c, event)
	if err != nil {
		return sm.fail(handler, err)
	}
	sm.step(HandleKind, handler)
	if e := sm.logger.Debug(); e.Enabled() {
		e.Str("state", Name(source)).
			Str("handler", Name(handler)).
			Str("transition", kindName(transition.Kind)).
			Str("target", Name(transition.Target)).
			Msg("dispatch")
	}
	switch {
	case kind.Is(transition.Kind, InternalKind):
		sm.effect(c, event, source, transition.Behavior)
		sm.step(SettleKind, source)
		return nil
	case kind.Is(transition.Kind, LocalKind, ExternalKind) && transition.Target != nil:
		return sm.traverse(c, event, source, transition)
	}
	return sm.fail(handler, ErrInvalidTransition)
}

// MustDispatch is Dispatch but panics with the *FatalError instead of returning it.
func (sm *Machine[C, E]) MustDispatch(c C, event E) {
	if err := sm.Dispatch(c, event); err != nil {
		panic(err)
	}
}

// process bubbles event from the active state toward the root and returns the first
// state that handled it.
func (sm *Machine[C, E]) process(c C, event E) (State[C, E], Transition[C, E], error) {
	effective := sm.active
	for hops := 0; ; hops++ {
		if hops == MaxDepth {
			return effective, Transition[C, E]{}, ErrDepthExceeded
		}
		transition := effective.Handle(c, event)
		if transition.Handled() {
			return effective, transition, nil
		}
		parent := effective.Parent()
		if parent == nil {
			return effective, transition, ErrUnhandledEvent
		}
		effective = parent
	}
}

func (sm *Machine[C, E]) traverse(c C, event E, source State[C, E], transition Transition[C, E]) error {
	var sources, targets chain[C, E]
	if err := sources.build(source); err != nil {
		return sm.fail(source, err)
	}
	if err := targets.build(transition.Target); err != nil {
		return sm.fail(transition.Target, err)
	}
	sourceTop, targetTop := 0, 0
	if source != transition.Target {
		var ok bool
		if sourceTop, targetTop, ok = sources.common(&targets); !ok {
			return sm.fail(transition.Target, ErrNoCommonAncestor)
		}
	}
	external := kind.Is(transition.Kind, ExternalKind)
	for i := 0; i < sourceTop; i++ {
		sm.exit(c, sources.states[i])
	}
	if external {
		sm.exit(c, sources.states[sourceTop])
	}
	sm.effect(c, event, source, transition.Behavior)
	if external {
		sm.enter(c, targets.states[targetTop])
	}
	for j := targetTop - 1; j >= 0; j-- {
		sm.enter(c, targets.states[j])
	}
	sm.active = transition.Target
	sm.step(SettleKind, sm.active)
	return nil
}

func (sm *Machine[C, E]) exit(c C, state State[C, E]) {
	if e := sm.logger.Trace(); e.Enabled() {
		e.Str("state", Name(state)).Msg("exit")
	}
	state.Exit(c)
	sm.step(ExitKind, state)
}

func (sm *Machine[C, E]) enter(c C, state State[C, E]) {
	if e := sm.logger.Trace(); e.Enabled() {
		e.Str("state", Name(state)).Msg("entry")
	}
	state.Entry(c)
	sm.step(EntryKind, state)
}

func (sm *Machine[C, E]) effect(c C, event E, source State[C, E], behavior Behavior[C, E]) {
	if behavior == nil {
		return
	}
	behavior(c, event)
	sm.step(EffectKind, source)
}

func (sm *Machine[C, E]) step(step kind.Kind, state State[C, E]) {
	if sm.observer != nil {
		sm.observer.OnStep(step, state)
	}
}

func (sm *Machine[C, E]) fail(state State[C, E], err error) error {
	fatal := &FatalError{Machine: sm.id, State: Name(state), Err: err}
	sm.logger.Error().Err(err).Str("state", fatal.State).Msg("fatal dispatch error")
	if sm.observer != nil {
		sm.observer.OnError(fatal)
	}
	return fatal
}

/******* Hierarchy helpers *******/

// Name returns state.Name() when the state implements it, otherwise the name of its
// concrete type without package or pointer prefix.
func Name[C, E any](state State[C, E]) string {
	if state == nil {
		return ""
	}
	if named, ok := state.(interface{ Name() string }); ok {
		return named.Name()
	}
	name := fmt.Sprintf("%T", state)
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimLeft(name, "*")
}

// QualifiedName returns the slash separated path from the root to state, for example
// "/root/door_closed/idle". Paths deeper than MaxDepth keep only the MaxDepth states
// nearest to state.
func QualifiedName[C, E any](state State[C, E]) string {
	if state == nil {
		return ""
	}
	var ancestors chain[C, E]
	_ = ancestors.build(state)
	var builder strings.Builder
	for i := ancestors.depth - 1; i >= 0; i-- {
		builder.WriteByte('/')
		builder.WriteString(Name(ancestors.states[i]))
	}
	return builder.String()
}

// Depth returns the number of states from state to its root, inclusive.
func Depth[C, E any](state State[C, E]) (int, error) {
	var ancestors chain[C, E]
	if err := ancestors.build(state); err != nil {
		return 0, err
	}
	return ancestors.depth, nil
}

// LCA returns the least common ancestor of a and b using the same search as a
// transition from a to b. The LCA of a state and itself is the state.
func LCA[C, E any](a, b State[C, E]) (State[C, E], error) {
	var sources, targets chain[C, E]
	if err := sources.build(a); err != nil {
		return nil, err
	}
	if err := targets.build(b); err != nil {
		return nil, err
	}
	i, _, ok := sources.common(&targets)
	if !ok {
		return nil, ErrNoCommonAncestor
	}
	return sources.states[i], nil
}

// IsAncestor reports whether current is a proper ancestor of target.
func IsAncestor[C, E any](current, target State[C, E]) bool {
	if current == nil || target == nil || current == target {
		return false
	}
	var ancestors chain[C, E]
	_ = ancestors.build(target)
	for i := 1; i < ancestors.depth; i++ {
		if ancestors.states[i] == current {
			return true
		}
	}
	return false
}
