// Command hsmrun drives the microwave state machine through a TOML or YAML scenario,
// prints the dispatch trace and a YAML snapshot, and optionally writes a PlantUML
// diagram of the observed transitions.
//
//	hsmrun -scenario cook.toml [-uml cook.puml] [-metrics]
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/stateforward/hsmcore"
	"github.com/stateforward/hsmcore/elements"
	"github.com/stateforward/hsmcore/examples/microwave"
	"github.com/stateforward/hsmcore/internal/config"
	"github.com/stateforward/hsmcore/internal/logging"
	"github.com/stateforward/hsmcore/internal/runner"
	"github.com/stateforward/hsmcore/pkg/metrics"
	"github.com/stateforward/hsmcore/pkg/plantuml"
	"gopkg.in/yaml.v3"
)

type report struct {
	Scenario string       `yaml:"scenario"`
	Snapshot hsm.Snapshot `yaml:"snapshot"`
	Oven     oven         `yaml:"oven"`
	Failures []string     `yaml:"failures,omitempty"`
}

type oven struct {
	Time     string `yaml:"time"`
	Power    int    `yaml:"power"`
	DoorOpen bool   `yaml:"door_open"`
	Light    bool   `yaml:"light"`
	Heating  bool   `yaml:"heating"`
	Display  string `yaml:"display"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("hsmrun", flag.ContinueOnError)
	flags.SetOutput(stderr)
	scenarioPath := flags.String("scenario", "", "scenario file (.toml, .yaml or .yml)")
	umlPath := flags.String("uml", "", "write a PlantUML diagram of the observed transitions to this file")
	dumpMetrics := flags.Bool("metrics", false, "print the step counters in Prometheus text format")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *scenarioPath == "" {
		fmt.Fprintln(stderr, "hsmrun: -scenario is required")
		flags.Usage()
		return 2
	}

	scenario, err := config.Load(*scenarioPath)
	if err != nil {
		fmt.Fprintf(stderr, "hsmrun: %v\n", err)
		return 1
	}

	logger := logging.Configure(logging.ProfileRuntime, scenario.LogLevel, stderr, "hsmrun")

	registry := prometheus.NewRegistry()
	observer, err := metrics.New[*microwave.Oven, microwave.Event](scenario.Name, registry)
	if err != nil {
		logger.Error().Err(err).Msg("metrics")
		return 1
	}
	graph := elements.NewGraph(scenario.Name)

	result, runErr := runner.Run(scenario, runner.Options{
		Logger:   &logger,
		Observer: observer,
		Graph:    graph,
	})
	for _, step := range result.Steps {
		fmt.Fprintln(stdout, step)
	}
	if runErr != nil {
		logger.Error().Err(runErr).Str("scenario", scenario.Name).Msg("run")
		return 1
	}

	out := report{
		Scenario: scenario.Name,
		Snapshot: result.Snapshot,
		Oven: oven{
			Time:     result.Oven.TimeDisplay(),
			Power:    result.Oven.Power,
			DoorOpen: result.Oven.DoorOpen,
			Light:    result.Oven.Light,
			Heating:  result.Oven.Heating,
			Display:  result.Oven.Display,
		},
	}
	for _, failure := range result.Failures {
		out.Failures = append(out.Failures, failure.Error())
	}
	data, err := yaml.Marshal(out)
	if err != nil {
		logger.Error().Err(err).Msg("yaml marshal")
		return 1
	}
	if _, err := fmt.Fprintf(stdout, "---\n%s", data); err != nil {
		logger.Error().Err(err).Msg("report")
		return 1
	}

	if *umlPath != "" {
		if err := writeDiagram(*umlPath, graph); err != nil {
			logger.Error().Err(err).Str("path", *umlPath).Msg("uml")
			return 1
		}
	}
	if *dumpMetrics {
		if err := writeMetrics(stdout, registry); err != nil {
			logger.Error().Err(err).Msg("metrics")
			return 1
		}
	}
	if len(result.Failures) > 0 {
		logger.Error().Int("failures", len(result.Failures)).Str("scenario", scenario.Name).Msg("expectations failed")
		return 1
	}
	return 0
}

func writeDiagram(path string, graph *elements.Graph) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := plantuml.Generate(file, graph); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func writeMetrics(w io.Writer, registry *prometheus.Registry) error {
	families, err := registry.Gather()
	if err != nil {
		return err
	}
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(w, family); err != nil {
			return err
		}
	}
	return nil
}
