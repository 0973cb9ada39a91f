package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestRunTOMLScenario(t *testing.T) {
	umlPath := filepath.Join(t.TempDir(), "cook.puml")
	var stdout, stderr bytes.Buffer
	code := run([]string{"-scenario", "testdata/cook.toml", "-uml", umlPath, "-metrics"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code %d: %s", code, stderr.String())
	}
	output := stdout.String()
	for _, expected := range []string{
		"dispatch:initial\n",
		"entry:paused\n",
		"settle:complete\n",
		"hsmcore_machine_steps_total{machine=\"cook\",state=\"cooking\",step=\"entry\"} 4\n",
	} {
		if !strings.Contains(output, expected) {
			t.Fatalf("output is missing %q:\n%s", expected, output)
		}
	}

	_, document, ok := strings.Cut(output, "---\n")
	if !ok {
		t.Fatalf("no yaml report in output:\n%s", output)
	}
	document, _, _ = strings.Cut(document, "# HELP")
	var parsed report
	if err := yaml.Unmarshal([]byte(document), &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed.Scenario != "cook" || parsed.Snapshot.State != "idle" || parsed.Oven.Time != "00:00" {
		t.Fatalf("unexpected report %+v", parsed)
	}

	diagram, err := os.ReadFile(umlPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(diagram), "@startuml cook\n") ||
		!strings.Contains(string(diagram), "microwave.door_closed.cooking ----> microwave.door_opened.paused : door_open\n") {
		t.Fatalf("unexpected diagram:\n%s", diagram)
	}
}

func TestRunYAMLScenario(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-scenario", "testdata/cook.yaml"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "power: 20\n") {
		t.Fatalf("unexpected output:\n%s", stdout.String())
	}
}

func TestRunFailingScenario(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-scenario", "testdata/failing.yaml"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stdout.String(), "failures:") {
		t.Fatalf("expected failures in the report:\n%s", stdout.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(nil, &stdout, &stderr); code != 2 {
		t.Fatalf("expected exit code 2 without a scenario, got %d", code)
	}
	if code := run([]string{"-scenario", "testdata/missing.json"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit code 1 for an unsupported file, got %d", code)
	}
	if code := run([]string{"-bogus"}, &stdout, &stderr); code != 2 {
		t.Fatalf("expected exit code 2 for an unknown flag, got %d", code)
	}
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestRunReportsWriteErrors(t *testing.T) {
	t.Setenv("HSMCORE_LOG_LEVEL", "")
	var stderr bytes.Buffer
	if code := run([]string{"-scenario", "testdata/cook.yaml"}, brokenWriter{}, &stderr); code != 1 {
		t.Fatalf("expected exit code 1 when the report cannot be written, got %d", code)
	}
	if !strings.Contains(stderr.String(), "broken pipe") {
		t.Fatalf("expected the write error to be logged, got %s", stderr.String())
	}
}
