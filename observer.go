package hsm

import (
	"reflect"

	"github.com/stateforward/hsmcore/kind"
)

// Observer is notified of the steps of every dispatch, in the order they happen.
// step is one of DispatchKind, HandleKind, ExitKind, EffectKind, EntryKind or
// SettleKind. Observers run synchronously inside Dispatch and must not dispatch on the
// observed machine.
type Observer[C, E any] interface {
	OnStep(step kind.Kind, state State[C, E])
	// OnError receives the *FatalError before Dispatch returns it.
	OnError(err error)
}

type observers[C, E any] []Observer[C, E]

// Observers fans every notification out to each non-nil observer in order. Nil
// interfaces and typed nil pointers are dropped.
func Observers[C, E any](maybeObservers ...Observer[C, E]) Observer[C, E] {
	group := make(observers[C, E], 0, len(maybeObservers))
	for _, observer := range maybeObservers {
		if isNil(observer) {
			continue
		}
		if nested, ok := observer.(observers[C, E]); ok {
			group = append(group, nested...)
			continue
		}
		group = append(group, observer)
	}
	return group
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	switch v := reflect.ValueOf(value); v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}

func (group observers[C, E]) OnStep(step kind.Kind, state State[C, E]) {
	for _, observer := range group {
		observer.OnStep(step, state)
	}
}

func (group observers[C, E]) OnError(err error) {
	for _, observer := range group {
		observer.OnError(err)
	}
}

// Snapshot describes a machine at one point in time.
type Snapshot struct {
	ID            string `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	State         string `json:"state" yaml:"state"`
	QualifiedName string `json:"qualified_name" yaml:"qualified_name"`
}

// TakeSnapshot captures the machine identity and its active state.
func (sm *Machine[C, E]) TakeSnapshot() Snapshot {
	return Snapshot{
		ID:            sm.id,
		Name:          sm.name,
		State:         Name(sm.active),
		QualifiedName: QualifiedName(sm.active),
	}
}
