package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/codeframe-dev/codeframe/internal/agent"
)

// editContextLines is how much of the file is surfaced when a search string
// isn't found, so the model has enough to correct it on retry.
const editContextLines = 40

// EditTool implements edit_file: a list of find/replace edits applied to one
// file. Edits are applied in order to an in-memory copy, each `search`
// matched against the result of the edits before it; the file is written
// only if every `search` string is found, so a missing one aborts the whole
// call with no partial edits.
type EditTool struct {
	resolver Resolver
}

// NewEditTool creates an edit_file tool scoped to the workspace.
func NewEditTool(cfg Config) *EditTool {
	return &EditTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *EditTool) Name() string { return "edit_file" }

func (t *EditTool) Description() string {
	return "Apply one or more exact find/replace edits to a file in the workspace. Aborts with no changes if any search string is not found."
}

func (t *EditTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to edit (relative to workspace).",
			},
			"edits": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"search": map[string]interface{}{
							"type":        "string",
							"description": "Exact text to locate (first occurrence).",
						},
						"replace": map[string]interface{}{
							"type":        "string",
							"description": "Replacement text.",
						},
					},
					"required": []string{"search", "replace"},
				},
			},
		},
		"required": []string{"path", "edits"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

type fileEdit struct {
	Search  string `json:"search"`
	Replace string `json:"replace"`
}

func (t *EditTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	_ = ctx
	var input struct {
		Path  string     `json:"path"`
		Edits []fileEdit `json:"edits"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}
	if len(input.Edits) == 0 {
		return toolError("edits must be a non-empty list"), nil
	}
	for _, e := range input.Edits {
		if e.Search == "" {
			return toolError("edits[].search must not be empty"), nil
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

	original := string(data)
	content := original
	for _, e := range input.Edits {
		if !strings.Contains(content, e.Search) {
			return toolError(fmt.Sprintf(
				"search text not found in %s, no edits applied:\n%q\n\n--- file context (first %d lines) ---\n%s",
				input.Path, e.Search, editContextLines, contextExcerpt(content, editContextLines),
			)), nil
		}
		content = strings.Replace(content, e.Search, e.Replace, 1)
	}

	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return toolError(fmt.Sprintf("write file: %v", err)), nil
	}

	diff := unifiedDiff(input.Path, original, content)
	return &agent.ToolResult{Content: diff}, nil
}

func contextExcerpt(content string, maxLines int) string {
	lines := splitLines(content)
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return numberLines(lines, 1)
}
