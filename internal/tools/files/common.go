// Package files implements the workspace-scoped file tools the ReAct loop
// dispatches through the Tool Registry: read_file, list_files,
// search_codebase, edit_file, and create_file. Every tool routes
// candidate paths through Resolver so path-safety is enforced in one place.
package files

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/codeframe-dev/codeframe/internal/agent"
)

// Config controls filesystem tool defaults, shared by every tool in this
// package so they agree on the workspace root. The ignore lists below are
// package-level and apply to every tool alike.
type Config struct {
	Workspace string
}

// ignoreDirs are directory basenames walks never descend into: vcs
// metadata, dependency caches, build output, and the agent's own state
// directory.
var ignoreDirs = map[string]bool{
	".git":          true,
	"node_modules":  true,
	"__pycache__":   true,
	".venv":         true,
	"venv":          true,
	"dist":          true,
	"build":         true,
	".next":         true,
	"target":        true,
	".pytest_cache": true,
	".mypy_cache":   true,
	".ruff_cache":   true,
	".codeframe":    true,
}

// ignoreFileSuffixes marks individual files (not whole directories) as
// ignored regardless of which directory they live in: lockfiles and
// minified bundles add noise without adding signal to a search or listing.
var ignoreFileSuffixes = []string{
	".min.js",
	".min.css",
	".lock",
}

var ignoreFileNames = map[string]bool{
	"package-lock.json": true,
	"yarn.lock":         true,
	"pnpm-lock.yaml":    true,
	"poetry.lock":       true,
	"uv.lock":           true,
}

func isIgnoredDir(name string) bool {
	return ignoreDirs[name]
}

func isIgnoredFile(name string) bool {
	if ignoreFileNames[name] {
		return true
	}
	for _, suffix := range ignoreFileSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// matchGlob reports whether name matches pattern using doublestar's
// `**`-aware glob semantics. Both callers (list_files and search_codebase)
// pass an entry's basename, not its path. An empty pattern always matches.
func matchGlob(pattern, name string) bool {
	if pattern == "" {
		return true
	}
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}

func toolError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}

func toJSON(v any) string {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(payload)
}

// relFromRoot returns path relative to root using forward slashes, for
// stable display and glob matching regardless of platform separator.
func relFromRoot(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
