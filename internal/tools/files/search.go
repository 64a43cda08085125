package files

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/codeframe-dev/codeframe/internal/agent"
)

const (
	defaultMaxResults  = 20
	searchMaxFileBytes = 1 << 20 // 1 MB
)

// SearchCodebaseTool implements search_codebase: a regex grep over the
// workspace that skips ignored paths, binary files, and files over 1 MB.
type SearchCodebaseTool struct {
	resolver Resolver
}

// NewSearchCodebaseTool creates a search_codebase tool scoped to the workspace.
func NewSearchCodebaseTool(cfg Config) *SearchCodebaseTool {
	return &SearchCodebaseTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *SearchCodebaseTool) Name() string { return "search_codebase" }

func (t *SearchCodebaseTool) Description() string {
	return "Search the workspace for lines matching a regular expression, optionally restricted to files matching a glob."
}

func (t *SearchCodebaseTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Regular expression to search for.",
			},
			"file_glob": map[string]interface{}{
				"type":        "string",
				"description": "Optional glob restricting which files are searched.",
			},
			"max_results": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of matching lines to return (default: 20).",
				"minimum":     1,
			},
		},
		"required": []string{"pattern"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

type searchMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (t *SearchCodebaseTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	input := struct {
		Pattern    string `json:"pattern"`
		FileGlob   string `json:"file_glob"`
		MaxResults int    `json:"max_results"`
	}{}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Pattern) == "" {
		return toolError("pattern is required"), nil
	}
	maxResults := input.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	re, err := regexp.Compile(input.Pattern)
	if err != nil {
		return toolError(fmt.Sprintf("invalid regular expression: %v", err)), nil
	}

	workspaceRoot, err := t.resolver.Resolve(".")
	if err != nil {
		return toolError(err.Error()), nil
	}

	var matches []searchMatch
	truncated := false

	var paths []string
	var walk func(dir string) error
	walk = func(dir string) error {
		names, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, de := range names {
			name := de.Name()
			full := filepath.Join(dir, name)
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
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
			if de.IsDir() {
				if isIgnoredDir(name) {
					continue
				}
				if err := walk(full); err != nil {
					return err
				}
				continue
			}
			if isIgnoredFile(name) {
				continue
			}
			if !matchGlob(input.FileGlob, name) {
				continue
			}
			paths = append(paths, full)
		}
		return nil
	}
	if err := walk(workspaceRoot); err != nil && err != ctx.Err() {
		return toolError(fmt.Sprintf("walk workspace: %v", err)), nil
	}
	sort.Strings(paths)

search:
	for _, path := range paths {
		if len(matches) >= maxResults {
			truncated = true
			break
		}
		info, err := os.Stat(path)
		if err != nil || info.Size() > searchMaxFileBytes {
			continue
		}
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		lineNo := 0
		binary := false
		for scanner.Scan() {
			lineNo++
			line := scanner.Bytes()
			if !isProbablyText(line) {
				binary = true
				break
			}
			if re.Match(line) {
				matches = append(matches, searchMatch{
					Path: relFromRoot(workspaceRoot, path),
					Line: lineNo,
					Text: string(line),
				})
				if len(matches) >= maxResults {
					f.Close()
					truncated = true
					break search
				}
			}
		}
		f.Close()
		if binary {
			continue
		}
	}

	return &agent.ToolResult{Content: toJSON(map[string]interface{}{
		"pattern":   input.Pattern,
		"matches":   matches,
		"count":     len(matches),
		"truncated": truncated,
	})}, nil
}

// isProbablyText rejects a line containing a NUL byte or invalid UTF-8,
// the same heuristic used to skip binary files during the walk.
func isProbablyText(line []byte) bool {
	for _, b := range line {
		if b == 0 {
			return false
		}
	}
	return utf8.Valid(line)
}
