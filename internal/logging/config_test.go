package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":    zerolog.TraceLevel,
		" DEBUG ":  zerolog.DebugLevel,
		"warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"off":      zerolog.Disabled,
		"disabled": zerolog.Disabled,
	}
	for raw, expected := range tests {
		level, ok := ParseLevel(raw)
		if !ok || level != expected {
			t.Fatalf("%q: expected %v, got %v (%v)", raw, expected, level, ok)
		}
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Fatal("unknown levels should not parse")
	}
	if _, ok := ParseLevel(""); ok {
		t.Fatal("empty levels should not parse")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := DefaultConfig(ProfileRuntime)
	ApplyEnvOverrides(&cfg, env(map[string]string{
		EnvLogLevel:     "trace",
		EnvLogTimestamp: "false",
		EnvLogNoColor:   "1",
		EnvLogJSON:      "nope",
	}))
	if cfg.Level != zerolog.TraceLevel || cfg.Timestamp || !cfg.NoColor || cfg.JSON {
		t.Fatalf("unexpected config %+v", cfg)
	}

	untouched := DefaultConfig(ProfileTest)
	ApplyEnvOverrides(&untouched, env(nil))
	if untouched != DefaultConfig(ProfileTest) {
		t.Fatalf("empty environment changed the config: %+v", untouched)
	}
}

func TestNew(t *testing.T) {
	var buffer bytes.Buffer
	logger := New(Config{Level: zerolog.InfoLevel, JSON: true}, &buffer, "hsmrun")
	logger.Debug().Msg("hidden")
	logger.Info().Str("state", "idle").Msg("shown")
	output := buffer.String()
	if strings.Contains(output, "hidden") {
		t.Fatalf("debug record should be filtered: %s", output)
	}
	if !strings.Contains(output, `"app":"hsmrun"`) || !strings.Contains(output, `"state":"idle"`) {
		t.Fatalf("unexpected output %s", output)
	}

	buffer.Reset()
	console := New(Config{Level: zerolog.DebugLevel, NoColor: true}, &buffer, "")
	console.Debug().Msg("console")
	if !strings.Contains(buffer.String(), "console") || strings.Contains(buffer.String(), "{") {
		t.Fatalf("expected console output, got %s", buffer.String())
	}
}

func TestConfigure(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvLogJSON, "true")
	var buffer bytes.Buffer
	logger := Configure(ProfileRuntime, "warn", &buffer, "hsmrun")
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	if strings.Contains(buffer.String(), "hidden") || !strings.Contains(buffer.String(), `"message":"shown"`) {
		t.Fatalf("scenario level should apply, got %s", buffer.String())
	}

	buffer.Reset()
	t.Setenv(EnvLogLevel, "error")
	logger = Configure(ProfileRuntime, "debug", &buffer, "hsmrun")
	logger.Warn().Msg("hidden")
	if buffer.Len() != 0 {
		t.Fatalf("environment should win over the scenario level, got %s", buffer.String())
	}
}
