// Package runner drives the microwave machine through a scenario and checks its
// expectations.
package runner

import (
	"errors"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog"
	"github.com/stateforward/hsmcore"
	"github.com/stateforward/hsmcore/elements"
	"github.com/stateforward/hsmcore/examples/microwave"
	"github.com/stateforward/hsmcore/internal/config"
	"github.com/stateforward/hsmcore/pkg/trace"
)

var ErrExpectationFailed = errors.New("expectation failed")

// ExpectationError reports an expectation that did not hold or could not run.
type ExpectationError struct {
	Iteration int
	Step      int
	Expr      string
	Err       error
}

func (e *ExpectationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("runner: iteration %d step %d expr=%q: %v", e.Iteration, e.Step, e.Expr, e.Err)
}

func (e *ExpectationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Environment is what an expectation can read after a step settles.
type Environment struct {
	State     string `expr:"state"`
	Qualified string `expr:"qualified"`
	Time      int    `expr:"time"`
	Power     int    `expr:"power"`
	Light     bool   `expr:"light"`
	Heating   bool   `expr:"heating"`
	DoorOpen  bool   `expr:"door_open"`
	Display   string `expr:"display"`
	Iteration int    `expr:"iteration"`
}

func environment(sm *microwave.Machine, oven *microwave.Oven, iteration int) Environment {
	return Environment{
		State:     hsm.Name(sm.Active()),
		Qualified: hsm.QualifiedName(sm.Active()),
		Time:      oven.Time,
		Power:     oven.Power,
		Light:     oven.Light,
		Heating:   oven.Heating,
		DoorOpen:  oven.DoorOpen,
		Display:   oven.Display,
		Iteration: iteration,
	}
}

// Compile type checks expression against Environment. It must produce a bool.
func Compile(expression string) (*vm.Program, error) {
	program, err := expr.Compile(expression, expr.Env(Environment{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}
	return program, nil
}

type Options struct {
	// Logger defaults to a disabled logger.
	Logger *zerolog.Logger
	// Observer is notified alongside the recorder, for example a metrics observer.
	Observer hsm.Observer[*microwave.Oven, microwave.Event]
	// Graph, when set, receives the microwave states and every observed transition.
	Graph *elements.Graph
}

type Result struct {
	Steps    []string
	Snapshot hsm.Snapshot
	Oven     microwave.Oven
	// Failures holds one *ExpectationError per expectation that did not hold.
	Failures []error
}

// Run executes scenario on a fresh microwave. A returned error means the scenario
// could not run to completion; failed expectations are collected in the Result.
func Run(scenario config.Scenario, options Options) (Result, error) {
	if err := scenario.Validate(); err != nil {
		return Result{}, err
	}
	programs := make([]*vm.Program, len(scenario.Steps))
	for i, step := range scenario.Steps {
		if step.Expect == "" {
			continue
		}
		program, err := Compile(step.Expect)
		if err != nil {
			return Result{}, err
		}
		programs[i] = program
	}

	if options.Graph != nil {
		if err := elements.AddStates(options.Graph, microwave.States()...); err != nil {
			return Result{}, err
		}
	}

	logger := zerolog.Nop()
	if options.Logger != nil {
		logger = *options.Logger
	}
	recorder := trace.New[*microwave.Oven, microwave.Event]()
	oven := microwave.NewOven()
	sm, err := microwave.New(oven, microwave.Config{
		Name:     scenario.Name,
		Logger:   &logger,
		Observer: hsm.Observers[*microwave.Oven, microwave.Event](recorder, options.Observer),
	})
	if err != nil {
		return Result{}, err
	}
	if err := connect(options.Graph, recorder, microwave.PowerOn); err != nil {
		return Result{}, err
	}

	var failures []error
	for iteration := 0; iteration < scenario.Iterations; iteration++ {
		for i, step := range scenario.Steps {
			event := microwave.Event{Name: step.Event, Seconds: step.Seconds, Level: step.Level}
			if err := sm.Dispatch(oven, event); err != nil {
				return result(sm, oven, recorder, failures), fmt.Errorf("iteration %d step %d: %w", iteration, i, err)
			}
			if err := connect(options.Graph, recorder, step.Event); err != nil {
				return result(sm, oven, recorder, failures), err
			}
			if programs[i] == nil {
				continue
			}
			output, err := expr.Run(programs[i], environment(sm, oven, iteration))
			if err == nil && output != true {
				err = ErrExpectationFailed
			}
			if err != nil {
				failure := &ExpectationError{Iteration: iteration, Step: i, Expr: step.Expect, Err: err}
				logger.Warn().Err(failure).Str("state", hsm.Name(sm.Active())).Msg("expectation")
				failures = append(failures, failure)
			}
		}
	}
	return result(sm, oven, recorder, failures), nil
}

func result(sm *microwave.Machine, oven *microwave.Oven, recorder *trace.Recorder[*microwave.Oven, microwave.Event], failures []error) Result {
	return Result{
		Steps:    recorder.Steps(),
		Snapshot: sm.TakeSnapshot(),
		Oven:     *oven,
		Failures: failures,
	}
}

func connect(graph *elements.Graph, recorder *trace.Recorder[*microwave.Oven, microwave.Event], event string) error {
	if graph == nil {
		return nil
	}
	last, ok := recorder.Last()
	if !ok {
		return nil
	}
	if last.Internal() {
		return graph.Connect(last.Handler, last.Handler, event, true)
	}
	return graph.Connect(last.Handler, last.Target, event, false)
}
