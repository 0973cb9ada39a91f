// Package config loads hsmrun scenarios from TOML or YAML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported scenario format")
	ErrInvalidScenario   = errors.New("invalid scenario")
)

// Step is one event sent to the machine, optionally followed by an expectation.
type Step struct {
	Event   string `toml:"event" yaml:"event"`
	Seconds int    `toml:"seconds" yaml:"seconds,omitempty"`
	Level   int    `toml:"level" yaml:"level,omitempty"`
	// Expect is a boolean expression checked after the event settles.
	Expect string `toml:"expect" yaml:"expect,omitempty"`
}

type Scenario struct {
	Name     string `toml:"name" yaml:"name"`
	LogLevel string `toml:"log_level" yaml:"log_level"`
	// Iterations repeats Steps on the same machine.
	Iterations int    `toml:"iterations" yaml:"iterations"`
	Steps      []Step `toml:"steps" yaml:"steps"`
}

func DefaultScenario() Scenario {
	return Scenario{
		Name:       "scenario",
		LogLevel:   "info",
		Iterations: 1,
	}
}

// fileScenario mirrors Scenario with pointers so YAML can tell unset fields apart.
type fileScenario struct {
	Name       *string `yaml:"name"`
	LogLevel   *string `yaml:"log_level"`
	Iterations *int    `yaml:"iterations"`
	Steps      []Step  `yaml:"steps"`
}

// Load reads path, choosing the decoder from its extension.
func Load(path string) (Scenario, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return loadTOML(path)
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return Scenario{}, fmt.Errorf("load scenario: %w", err)
		}
		return DecodeYAML(data)
	}
	return Scenario{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

func loadTOML(path string) (Scenario, error) {
	var raw Scenario
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Scenario{}, fmt.Errorf("load scenario: %w", err)
	}
	return fromTOML(raw, meta)
}

func DecodeTOML(data []byte) (Scenario, error) {
	var raw Scenario
	meta, err := toml.Decode(string(data), &raw)
	if err != nil {
		return Scenario{}, fmt.Errorf("decode toml scenario: %w", err)
	}
	return fromTOML(raw, meta)
}

func fromTOML(raw Scenario, meta toml.MetaData) (Scenario, error) {
	cfg := DefaultScenario()
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Scenario{}, fmt.Errorf("%w: unknown key %s", ErrInvalidScenario, undecoded[0])
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("iterations") {
		cfg.Iterations = raw.Iterations
	}
	cfg.Steps = normalizeSteps(raw.Steps)
	return cfg, cfg.Validate()
}

func DecodeYAML(data []byte) (Scenario, error) {
	cfg := DefaultScenario()

	var raw fileScenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&raw); err != nil {
		return Scenario{}, fmt.Errorf("decode yaml scenario: %w", err)
	}

	if raw.Name != nil {
		cfg.Name = strings.TrimSpace(*raw.Name)
	}
	if raw.LogLevel != nil {
		cfg.LogLevel = strings.TrimSpace(*raw.LogLevel)
	}
	if raw.Iterations != nil {
		cfg.Iterations = *raw.Iterations
	}
	cfg.Steps = normalizeSteps(raw.Steps)
	return cfg, cfg.Validate()
}

func normalizeSteps(in []Step) []Step {
	out := make([]Step, 0, len(in))
	for _, step := range in {
		step.Event = strings.TrimSpace(step.Event)
		step.Expect = strings.TrimSpace(step.Expect)
		out = append(out, step)
	}
	return out
}

func (s Scenario) Validate() error {
	if s.Iterations < 1 {
		return fmt.Errorf("%w: iterations must be at least 1, got %d", ErrInvalidScenario, s.Iterations)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidScenario)
	}
	for i, step := range s.Steps {
		if step.Event == "" {
			return fmt.Errorf("%w: step %d has no event", ErrInvalidScenario, i)
		}
	}
	return nil
}
