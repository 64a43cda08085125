package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/codeframe-dev/codeframe/internal/agent"
)

const defaultMaxDepth = 3

// ListFilesTool implements list_files: a depth-bounded directory walk that
// applies the project-wide ignore list and an optional basename glob.
type ListFilesTool struct {
	resolver Resolver
}

// NewListFilesTool creates a list_files tool scoped to the workspace.
func NewListFilesTool(cfg Config) *ListFilesTool {
	return &ListFilesTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *ListFilesTool) Name() string { return "list_files" }

func (t *ListFilesTool) Description() string {
	return "List files and directories under a workspace path, up to a depth limit, optionally filtered by a glob pattern."
}

func (t *ListFilesTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to list, relative to workspace (default: \".\").",
			},
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Optional glob matched against each entry's basename.",
			},
			"max_depth": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum walk depth; the starting directory is depth 0 (default: 3).",
				"minimum":     0,
			},
		},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

type listEntry struct {
	Path  string `json:"path"`
	Size  int64  `json:"size"`
	IsDir bool   `json:"is_dir"`
}

func (t *ListFilesTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	_ = ctx
	input := struct {
		Path     string `json:"path"`
		Pattern  string `json:"pattern"`
		MaxDepth *int   `json:"max_depth"`
	}{Path: "."}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
		}
	}
	if strings.TrimSpace(input.Path) == "" {
		input.Path = "."
	}
	maxDepth := defaultMaxDepth
	if input.MaxDepth != nil {
		maxDepth = *input.MaxDepth
	}
	if maxDepth < 0 {
		return toolError("max_depth must be >= 0"), nil
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}
	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return toolError(fmt.Sprintf("path not found: %s", input.Path)), nil
		}
		return toolError(fmt.Sprintf("stat path: %v", err)), nil
	}
	if !info.IsDir() {
		return toolError(fmt.Sprintf("not a directory: %s", input.Path)), nil
	}

	workspaceRoot, err := t.resolver.Resolve(".")
	if err != nil {
		return toolError(err.Error()), nil
	}

	var entries []listEntry
	var walk func(dir string, depth int) error
	walk = func(dir string, depth int) error {
		names, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		sort.Slice(names, func(i, j int) bool { return names[i].Name() < names[j].Name() })
		for _, de := range names {
			name := de.Name()
			full := filepath.Join(dir, name)

			if de.Type()&os.ModeSymlink != 0 {
				target, err := filepath.EvalSymlinks(full)
				if err != nil {
					continue
				}
				rel, err := filepath.Rel(workspaceRoot, target)
				if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
					continue
				}
			}

			isDir := de.IsDir()
			if isDir {
				if isIgnoredDir(name) {
					continue
				}
			} else if isIgnoredFile(name) {
				continue
			}

			if matchGlob(input.Pattern, name) {
				fi, err := de.Info()
				size := int64(0)
				if err == nil {
					size = fi.Size()
				}
				entries = append(entries, listEntry{
					Path:  relFromRoot(workspaceRoot, full),
					Size:  size,
					IsDir: isDir,
				})
			}

			if isDir && depth < maxDepth {
				if err := walk(full, depth+1); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(resolved, 0); err != nil {
		return toolError(fmt.Sprintf("walk directory: %v", err)), nil
	}

	return &agent.ToolResult{Content: toJSON(map[string]interface{}{
		"path":    input.Path,
		"entries": entries,
		"count":   len(entries),
	})}, nil
}
