package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{" warn ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"chatty", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWithTask(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "debug")

	taskLog := WithTask("network", "id-1")
	taskLog.Info().Msg("started")
	nodeLog := WithComponent("node")
	nodeLog.Debug().Msg("phase")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var ev map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev["task"] != "network" || ev["task_id"] != "id-1" || ev["message"] != "started" {
		t.Errorf("task event = %v", ev)
	}
	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev["component"] != "node" {
		t.Errorf("component event = %v", ev)
	}
}

func TestInit_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.log")
	if err := Init("warn", true, path); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { Init("info", false, "") })

	Info().Msg("filtered")
	bootLog := WithComponent("bootstrap")
	bootLog.Warn().Msg("retrying")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.Contains(string(data), "filtered") {
		t.Error("info event written at warn level")
	}
	if !strings.Contains(string(data), `"component":"bootstrap"`) {
		t.Errorf("file contents = %q", data)
	}
}

func TestInit_BadFile(t *testing.T) {
	if err := Init("info", false, filepath.Join(t.TempDir(), "missing", "node.log")); err == nil {
		t.Error("Init should fail for an unwritable path")
	}
}
