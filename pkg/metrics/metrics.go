// Package metrics exports hierarchical state machine activity as Prometheus counters.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stateforward/hsmcore"
	"github.com/stateforward/hsmcore/kind"
)

const (
	namespace = "hsmcore"
	subsystem = "machine"
)

// Observer counts steps per state and fatal errors per reason for one machine.
type Observer[C, E any] struct {
	machine string
	steps   *prometheus.CounterVec
	errors  *prometheus.CounterVec
}

// New registers the counters with registerer, or with the default registerer when nil.
// Counters already registered by another Observer are shared, so several machines can
// report into the same registry under different machine labels.
func New[C, E any](machine string, registerer prometheus.Registerer) (*Observer[C, E], error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	steps, err := register(registerer, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "steps_total",
			Help:      "Dispatch steps by machine, step and state.",
		},
		[]string{"machine", "step", "state"},
	))
	if err != nil {
		return nil, err
	}
	errs, err := register(registerer, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Fatal dispatch errors by machine and reason.",
		},
		[]string{"machine", "reason"},
	))
	if err != nil {
		return nil, err
	}
	return &Observer[C, E]{machine: machine, steps: steps, errors: errs}, nil
}

func register(registerer prometheus.Registerer, counter *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	err := registerer.Register(counter)
	if err == nil {
		return counter, nil
	}
	var registered prometheus.AlreadyRegisteredError
	if errors.As(err, &registered) {
		if existing, ok := registered.ExistingCollector.(*prometheus.CounterVec); ok {
			return existing, nil
		}
	}
	return nil, err
}

func (o *Observer[C, E]) OnStep(step kind.Kind, state hsm.State[C, E]) {
	o.steps.WithLabelValues(o.machine, hsm.KindName(step), hsm.Name(state)).Inc()
}

func (o *Observer[C, E]) OnError(err error) {
	o.errors.WithLabelValues(o.machine, Reason(err)).Inc()
}

// Reason maps a dispatch error to a short label value.
func Reason(err error) string {
	switch {
	case errors.Is(err, hsm.ErrUnhandledEvent):
		return "unhandled_event"
	case errors.Is(err, hsm.ErrDepthExceeded):
		return "depth_exceeded"
	case errors.Is(err, hsm.ErrNoCommonAncestor):
		return "no_common_ancestor"
	case errors.Is(err, hsm.ErrInvalidTransition):
		return "invalid_transition"
	}
	return "unknown"
}
