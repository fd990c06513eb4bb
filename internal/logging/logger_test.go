package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "debug", Format: "json", Component: "worker"}, &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Debug().Int("items", 3).Msg("batch started")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json line, got %q: %v", buf.String(), err)
	}
	if line["component"] != "worker" || line["message"] != "batch started" || line["level"] != "debug" {
		t.Fatalf("unexpected fields %v", line)
	}
}

func TestNewLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "WARN", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Format: "console"}, &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Info().Msg("hello")
	if !strings.Contains(buf.String(), "hello") || strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("expected console output, got %q", buf.String())
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(Config{Level: "loud"}, nil); err == nil {
		t.Fatal("expected level error")
	}
	if _, err := New(Config{Format: "xml"}, nil); err == nil {
		t.Fatal("expected format error")
	}
}
