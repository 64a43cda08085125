package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/codeframe-dev/codeframe/internal/agent"
)

// CreateFileTool implements create_file: writes a brand-new file, refusing
// to overwrite one that already exists. Use edit_file to modify
// an existing file.
type CreateFileTool struct {
	resolver Resolver
}

// NewCreateFileTool creates a create_file tool scoped to the workspace.
func NewCreateFileTool(cfg Config) *CreateFileTool {
	return &CreateFileTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *CreateFileTool) Name() string { return "create_file" }

func (t *CreateFileTool) Description() string {
	return "Create a new file in the workspace. Fails if the file already exists; use edit_file to change an existing file."
}

func (t *CreateFileTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to create (relative to workspace).",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "File contents (may be empty).",
			},
		},
		"required": []string{"path", "content"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *CreateFileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	_ = ctx
	var input struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	if _, err := os.Stat(resolved); err == nil {
		return toolError(fmt.Sprintf("%s already exists; use edit_file to modify it", input.Path)), nil
	} else if !os.IsNotExist(err) {
		return toolError(fmt.Sprintf("stat file: %v", err)), nil
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return toolError(fmt.Sprintf("create directory: %v", err)), nil
	}

	// O_EXCL closes the race between the Stat above and this write: two
	// concurrent create_file calls for the same path can't both succeed.
	f, err := os.OpenFile(resolved, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return toolError(fmt.Sprintf("%s already exists; use edit_file to modify it", input.Path)), nil
		}
		return toolError(fmt.Sprintf("create file: %v", err)), nil
	}
	defer f.Close()

	if _, err := f.WriteString(input.Content); err != nil {
		return toolError(fmt.Sprintf("write file: %v", err)), nil
	}

	return &agent.ToolResult{Content: toJSON(map[string]interface{}{
		"path":    input.Path,
		"created": true,
		"bytes":   len(input.Content),
	})}, nil
}
