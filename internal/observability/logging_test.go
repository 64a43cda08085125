package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config LogConfig
	}{
		{name: "json format", config: LogConfig{Level: "info", Format: "json"}},
		{name: "text format", config: LogConfig{Level: "debug", Format: "text"}},
		{name: "defaults", config: LogConfig{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Fatal("expected non-nil logger")
			}
		})
	}
}

func TestLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})
	ctx := context.Background()

	logger.Info(ctx, "calling provider", "api_key", "sk-ant-REDACTED")
	out := buf.String()
	if strings.Contains(out, "sk-ant-REDACTED") {
		t.Fatal("expected api key to be redacted from log output")
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Fatal("expected redaction marker in log output")
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})

	ctx := context.Background()
	ctx = AddRunID(ctx, "run-123")
	ctx = AddTaskID(ctx, "task-456")
	ctx = AddWorkspace(ctx, "/repo")

	scoped := logger.WithContext(ctx)
	scoped.Info(ctx, "processing task")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	group, ok := record["context"].(map[string]any)
	if !ok {
		t.Fatalf("expected context group in log record, got %v", record)
	}
	if group["run_id"] != "run-123" || group["task_id"] != "task-456" || group["workspace"] != "/repo" {
		t.Fatalf("unexpected context group: %v", group)
	}
}

func TestLoggerErrorRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})
	ctx := context.Background()

	err := errors.New("auth failed: bearer abcdefghijklmnopqrstuvwx0123456789")
	logger.Error(ctx, "tool call failed", "error", err)

	if strings.Contains(buf.String(), "abcdefghijklmnopqrstuvwx0123456789") {
		t.Fatal("expected bearer token to be redacted")
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})
	scoped := logger.WithFields("component", "tool_registry")
	scoped.Info(context.Background(), "registered tool", "name", "read_file")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if record["component"] != "tool_registry" {
		t.Fatalf("expected component field, got %v", record)
	}
}

func TestRunAndTaskIDHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = AddRunID(ctx, "run-1")
	ctx = AddTaskID(ctx, "task-1")

	if GetRunID(ctx) != "run-1" {
		t.Fatal("expected GetRunID to round-trip")
	}
	if GetTaskID(ctx) != "task-1" {
		t.Fatal("expected GetTaskID to round-trip")
	}
	if GetRunID(context.Background()) != "" {
		t.Fatal("expected empty run id for bare context")
	}
}

func TestLogLevelFromString(t *testing.T) {
	cases := map[string]bool{
		"debug":   true,
		"info":    true,
		"warn":    true,
		"warning": true,
		"error":   true,
		"bogus":   true, // falls back to info, never panics
	}
	for level := range cases {
		_ = LogLevelFromString(level)
	}
}
