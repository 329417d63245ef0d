package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		" info ":  zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
	}
	for raw, want := range cases {
		got, ok := ParseLevel(raw)
		if !ok || got != want {
			t.Fatalf("ParseLevel(%q) = %v,%v want %v", raw, got, ok, want)
		}
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Fatalf("expected unknown level to be rejected")
	}
	if _, ok := ParseLevel(""); ok {
		t.Fatalf("expected empty level to be ignored")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvLogTimestamp, "false")
	t.Setenv(EnvLogJSON, "true")
	t.Setenv(EnvLogNoColor, "bogus")

	cfg := DefaultConfig(ProfileRuntime)
	ApplyEnvOverrides(&cfg)
	if cfg.Level != zerolog.WarnLevel {
		t.Fatalf("unexpected level: %v", cfg.Level)
	}
	if cfg.Timestamp {
		t.Fatalf("expected timestamp disabled")
	}
	if !cfg.JSON {
		t.Fatalf("expected json output")
	}
	if cfg.NoColor {
		t.Fatalf("invalid bool must not change no-color")
	}
}

func TestBuildJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := Build(Config{Level: zerolog.WarnLevel, JSON: true}, &buf)
	logger.Info().Msg("hidden")
	logger.Warn().Str("resource", "exec::Run").Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record leaked through warn level: %s", out)
	}
	if !strings.Contains(out, `"resource":"exec::Run"`) {
		t.Fatalf("expected structured field in output: %s", out)
	}
}
