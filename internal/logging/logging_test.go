package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/config"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "warn"}, "consumer", &buf)

	logger.Info().Msg("dropped")
	logger.Warn().Str("account_id", "a1").Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["message"] != "kept" || entry["service"] != "consumer" || entry["account_id"] != "a1" {
		t.Errorf("entry = %v", entry)
	}
}

func TestNewWithWriter_Levels(t *testing.T) {
	tests := []struct {
		level     string
		debugSeen bool
		infoSeen  bool
	}{
		{"debug", true, true},
		{"DEBUG", true, true},
		{"info", false, true},
		{"", false, true},
		{"nonsense", false, true},
		{"error", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWithWriter(config.LoggingConfig{Level: tt.level}, "test", &buf)

			logger.Debug().Msg("debug-line")
			logger.Info().Msg("info-line")

			if got := strings.Contains(buf.String(), "debug-line"); got != tt.debugSeen {
				t.Errorf("debug seen = %v, want %v", got, tt.debugSeen)
			}
			if got := strings.Contains(buf.String(), "info-line"); got != tt.infoSeen {
				t.Errorf("info seen = %v, want %v", got, tt.infoSeen)
			}
		})
	}
}

func TestNewWithWriter_Console(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "info", Format: "console"}, "sim", &buf)

	logger.Info().Msg("hello")

	out := buf.String()
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("console output looks like JSON: %q", out)
	}
	if !strings.Contains(out, "hello") {
		t.Errorf("output %q missing message", out)
	}
}
