// Package trace records the steps of hierarchical state machine dispatches.
//
// A Recorder is an hsm.Observer. Every step is kept as a "<step>:<state>" string, for
// example "exit:idle" or "entry:cooking", and every completed dispatch is summarized as
// a Transition so callers can build diagrams or assertions from observed behavior.
package trace

import (
	"sync"

	"github.com/stateforward/hsmcore"
	"github.com/stateforward/hsmcore/kind"
)

// Transition summarizes one successful dispatch.
type Transition struct {
	// Source is the qualified name of the active state when the dispatch began.
	Source string `json:"source" yaml:"source"`
	// Handler is the qualified name of the state that answered the event.
	Handler string `json:"handler" yaml:"handler"`
	// Target is the qualified name of the active state once the dispatch settled.
	Target string `json:"target" yaml:"target"`
	// Hooks counts the exit and entry hooks that ran.
	Hooks int `json:"hooks" yaml:"hooks"`
}

// Internal reports whether the dispatch left the configuration untouched.
func (t Transition) Internal() bool {
	return t.Hooks == 0 && t.Source == t.Target
}

type Recorder[C, E any] struct {
	mutex       sync.Mutex
	steps       []string
	errors      []error
	transitions []Transition
	current     Transition
}

func New[C, E any]() *Recorder[C, E] {
	return &Recorder[C, E]{}
}

func (r *Recorder[C, E]) OnStep(step kind.Kind, state hsm.State[C, E]) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.steps = append(r.steps, hsm.KindName(step)+":"+hsm.Name(state))
	switch {
	case kind.Is(step, hsm.DispatchKind):
		r.current = Transition{Source: hsm.QualifiedName(state)}
	case kind.Is(step, hsm.HandleKind):
		r.current.Handler = hsm.QualifiedName(state)
	case kind.Is(step, hsm.ExitKind, hsm.EntryKind):
		r.current.Hooks++
	case kind.Is(step, hsm.SettleKind):
		r.current.Target = hsm.QualifiedName(state)
		r.transitions = append(r.transitions, r.current)
		r.current = Transition{}
	}
}

func (r *Recorder[C, E]) OnError(err error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.errors = append(r.errors, err)
	r.current = Transition{}
}

// Steps returns a copy of the recorded steps.
func (r *Recorder[C, E]) Steps() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]string(nil), r.steps...)
}

// Errors returns a copy of the errors reported to the recorder.
func (r *Recorder[C, E]) Errors() []error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]error(nil), r.errors...)
}

// Transitions returns a copy of the completed dispatches, oldest first.
func (r *Recorder[C, E]) Transitions() []Transition {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]Transition(nil), r.transitions...)
}

// Last returns the most recent completed dispatch.
func (r *Recorder[C, E]) Last() (Transition, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if len(r.transitions) == 0 {
		return Transition{}, false
	}
	return r.transitions[len(r.transitions)-1], true
}

// Reset drops everything recorded so far.
func (r *Recorder[C, E]) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.steps = nil
	r.errors = nil
	r.transitions = nil
	r.current = Transition{}
}
