package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestBuild_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := build(&buf, "accessctl", "json", "debug")

	logger.Debug().Str("unit", "Planeur").Msg("hello")

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if got["app"] != "accessctl" || got["unit"] != "Planeur" || got["message"] != "hello" {
		t.Errorf("unexpected fields: %v", got)
	}
}

func TestBuild_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := build(&buf, "accessctl", "json", "warn")

	logger.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":      zerolog.InfoLevel,
		"DEBUG": zerolog.DebugLevel,
		"error": zerolog.ErrorLevel,
		"bogus": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q): expected %v, got %v", in, want, got)
		}
	}
}
