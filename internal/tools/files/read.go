package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/codeframe-dev/codeframe/internal/agent"
)

// fullReadLineThreshold is the line count above which an unranged read_file
// call is truncated to a head/tail excerpt instead of emitting the whole
// file.
const fullReadLineThreshold = 500

const (
	fullReadHeadLines = 200
	fullReadTailLines = 50
)

// ReadTool implements read_file: a line-numbered view of a workspace file,
// optionally restricted to an inclusive [start_line, end_line] range.
type ReadTool struct {
	resolver Resolver
}

// NewReadTool creates a read_file tool scoped to the workspace.
func NewReadTool(cfg Config) *ReadTool {
	return &ReadTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *ReadTool) Name() string { return "read_file" }

func (t *ReadTool) Description() string {
	return "Read a file from the workspace with line numbers. Without a range, files over 500 lines are excerpted (first 200, last 50)."
}

func (t *ReadTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file (relative to workspace).",
			},
			"start_line": map[string]interface{}{
				"type":        "integer",
				"description": "First line to emit, 1-based, inclusive.",
				"minimum":     1,
			},
			"end_line": map[string]interface{}{
				"type":        "integer",
				"description": "Last line to emit, 1-based, inclusive.",
				"minimum":     1,
			},
		},
		"required": []string{"path"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *ReadTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	_ = ctx
	var input struct {
		Path      string `json:"path"`
		StartLine int    `json:"start_line"`
		EndLine   int    `json:"end_line"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
		}
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}

	ranged := input.StartLine != 0 || input.EndLine != 0
	if ranged {
		if input.StartLine == 0 || input.EndLine == 0 {
			return toolError("start_line and end_line must both be set, or both omitted"), nil
		}
		if input.StartLine > input.EndLine {
			return toolError(fmt.Sprintf("start_line (%d) must be <= end_line (%d)", input.StartLine, input.EndLine)), nil
		}
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return toolError(fmt.Sprintf("file not found: %s", input.Path)), nil
		}
		return toolError(fmt.Sprintf("read file: %v", err)), nil
	}

	lines := splitLines(decodeBestEffort(data))

	if ranged {
		start := input.StartLine
		end := input.EndLine
		if start > len(lines) {
			return toolError(fmt.Sprintf("start_line %d is past end of file (%d lines)", start, len(lines))), nil
		}
		if end > len(lines) {
			end = len(lines)
		}
		body := numberLines(lines[start-1:end], start)
		return &agent.ToolResult{Content: body}, nil
	}

	if len(lines) <= fullReadLineThreshold {
		return &agent.ToolResult{Content: numberLines(lines, 1)}, nil
	}

	head := numberLines(lines[:fullReadHeadLines], 1)
	tail := numberLines(lines[len(lines)-fullReadTailLines:], len(lines)-fullReadTailLines+1)
	banner := fmt.Sprintf("\n... [%d lines omitted of %d total] ...\n\n", len(lines)-fullReadHeadLines-fullReadTailLines, len(lines))
	return &agent.ToolResult{Content: head + banner + tail}, nil
}

// splitLines splits on "\n" without reporting a phantom trailing empty line
// for files that end with a newline.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	content = strings.TrimSuffix(content, "\n")
	return strings.Split(content, "\n")
}

func numberLines(lines []string, start int) string {
	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "%6d\t%s\n", start+i, line)
	}
	return b.String()
}

// decodeBestEffort returns data as a string, replacing invalid UTF-8
// sequences (binary-looking content) rather than failing the read.
func decodeBestEffort(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	var b strings.Builder
	b.Grow(len(data))
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		b.WriteRune(r)
		data = data[size:]
	}
	return b.String()
}
