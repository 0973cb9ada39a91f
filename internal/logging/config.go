package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel     = "HSMCORE_LOG_LEVEL"
	EnvLogTimestamp = "HSMCORE_LOG_TIMESTAMP"
	EnvLogNoColor   = "HSMCORE_LOG_NOCOLOR"
	EnvLogJSON      = "HSMCORE_LOG_JSON"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	// JSON skips the console writer.
	JSON bool
}

func DefaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zerolog.DebugLevel, NoColor: true}
	default:
		return Config{Level: zerolog.InfoLevel, Timestamp: true}
	}
}

// Configure builds the profile defaults, applies level when it parses, then the
// HSMCORE_LOG_* overrides from the environment, and returns a logger writing to out.
func Configure(profile Profile, level string, out io.Writer, app string) zerolog.Logger {
	cfg := DefaultConfig(profile)
	if lvl, ok := ParseLevel(level); ok {
		cfg.Level = lvl
	}
	ApplyEnvOverrides(&cfg, os.Getenv)
	return New(cfg, out, app)
}

func New(cfg Config, out io.Writer, app string) zerolog.Logger {
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    cfg.NoColor,
			TimeFormat: time.RFC3339,
		}
	}
	builder := zerolog.New(out).Level(cfg.Level).With()
	if cfg.Timestamp {
		builder = builder.Timestamp()
	}
	if app != "" {
		builder = builder.Str("app", app)
	}
	return builder.Logger()
}

// ApplyEnvOverrides reads the HSMCORE_LOG_* variables through getenv. Unset or
// malformed values leave cfg untouched.
func ApplyEnvOverrides(cfg *Config, getenv func(string) string) {
	if lvl, ok := ParseLevel(getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
	if v, ok := parseBool(getenv(EnvLogJSON)); ok {
		cfg.JSON = v
	}
}

func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
