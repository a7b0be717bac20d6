package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != LevelInfo || cfg.Pretty || cfg.Output == nil {
		t.Errorf("DefaultConfig() = %+v, want info level JSON output to stderr", cfg)
	}
}

func TestSetup_LevelFiltering(t *testing.T) {
	emit := map[zerolog.Level]func(zerolog.Logger){
		zerolog.DebugLevel: func(l zerolog.Logger) { l.Debug().Msg("attempt scheduled") },
		zerolog.InfoLevel:  func(l zerolog.Logger) { l.Info().Msg("identity switched") },
		zerolog.WarnLevel:  func(l zerolog.Logger) { l.Warn().Msg("retrying request") },
		zerolog.ErrorLevel: func(l zerolog.Logger) { l.Error().Msg("retries exhausted") },
	}

	tests := []struct {
		level LogLevel
		want  []string
		drop  []string
	}{
		{LevelDebug, []string{"attempt scheduled", "retries exhausted"}, nil},
		{LevelInfo, []string{"identity switched", "retrying request"}, []string{"attempt scheduled"}},
		{"warning", []string{"retrying request"}, []string{"identity switched"}},
		{LevelError, []string{"retries exhausted"}, []string{"retrying request", "identity switched"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := Setup(Config{Level: tt.level, Output: buf})
			for _, fn := range emit {
				fn(logger)
			}

			out := buf.String()
			for _, msg := range tt.want {
				if !strings.Contains(out, msg) {
					t.Errorf("output missing %q at level %s", msg, tt.level)
				}
			}
			for _, msg := range tt.drop {
				if strings.Contains(out, msg) {
					t.Errorf("output contains %q at level %s", msg, tt.level)
				}
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[LogLevel]zerolog.Level{
		LevelDebug: zerolog.DebugLevel,
		"INFO":     zerolog.InfoLevel,
		LevelWarn:  zerolog.WarnLevel,
		"warning":  zerolog.WarnLevel,
		LevelError: zerolog.ErrorLevel,
		"verbose":  zerolog.InfoLevel,
	}

	for input, want := range tests {
		if got := parseLevel(input); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestNewLogger_ComponentField(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf})

	logger := NewLogger("pagination")
	logger.Info().Int("page", 3).Msg("Page fetched")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["component"] != "pagination" || entry["message"] != "Page fetched" || entry["page"] != float64(3) {
		t.Errorf("entry = %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Error("entry has no timestamp")
	}
}

func TestSetup_Pretty(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Pretty: true, Output: buf})
	logger := NewLogger("client")
	logger.Info().Msg("Client created")

	out := buf.String()
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("pretty output looks like JSON: %q", out)
	}
	if !strings.Contains(out, "Client created") {
		t.Errorf("pretty output missing message: %q", out)
	}
}

func TestSetup_NilOutputFallsBack(t *testing.T) {
	Setup(Config{Level: LevelError})
	defer Setup(Config{Level: LevelInfo, Output: &bytes.Buffer{}})

	if zerolog.GlobalLevel() != zerolog.ErrorLevel {
		t.Errorf("global level = %v, want %v", zerolog.GlobalLevel(), zerolog.ErrorLevel)
	}
}

func TestRedactHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer secret")
	h.Set("Cookie", "sid=abc")
	h["set-cookie"] = []string{"sid=def"}
	h.Set("User-Agent", "codemao-client/test")

	redacted := RedactHeaders(h)

	for _, name := range []string{"Authorization", "Cookie"} {
		if got := redacted.Get(name); got != Redacted {
			t.Errorf("%s = %q, want %q", name, got, Redacted)
		}
	}
	if got := redacted["set-cookie"]; len(got) != 1 || got[0] != Redacted {
		t.Errorf("non-canonical set-cookie = %v, want redacted", got)
	}
	if got := redacted.Get("User-Agent"); got != "codemao-client/test" {
		t.Errorf("User-Agent = %q, want unchanged", got)
	}
	if h.Get("Authorization") != "Bearer secret" {
		t.Error("RedactHeaders must not modify its input")
	}
}
