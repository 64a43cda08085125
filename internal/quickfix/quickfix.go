// Package quickfix turns common failure strings into deterministic repair
// actions that skip the LLM entirely. Pattern matchers run in a fixed
// order; the first match wins.
package quickfix

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind is the category of a quick fix.
type Kind string

const (
	KindInstallPackage Kind = "install_package"
	KindAddImport      Kind = "add_import"
	KindFixSyntax      Kind = "fix_syntax"
	KindFixIndentation Kind = "fix_indentation"
)

// Fix is a deterministic repair action discovered by a pattern matcher.
type Fix struct {
	Kind        Kind
	Description string

	// Install-package.
	Command string // shell command, may contain the {package_manager} placeholder

	// Add-import / fix-syntax / fix-indentation.
	FilePath string

	// Add-import: 1-based line number to insert before, and the content to insert.
	InsertLine    int
	InsertContent string

	// Fix-syntax / fix-indentation: exact old substring/line and its replacement.
	OldContent string
	NewContent string
}

// packageAliases maps common import names to the package name to install
// when it differs from the import name.
var packageAliases = map[string]string{
	"PIL":      "Pillow",
	"cv2":      "opencv-python",
	"sklearn":  "scikit-learn",
	"yaml":     "pyyaml",
	"bs4":      "beautifulsoup4",
	"dateutil": "python-dateutil",
}

// stdlibModules must never be translated into an install-package fix.
var stdlibModules = map[string]bool{
	"os": true, "sys": true, "re": true, "json": true, "datetime": true,
	"time": true, "math": true, "random": true, "collections": true,
	"itertools": true, "functools": true, "typing": true, "pathlib": true,
	"subprocess": true, "threading": true, "multiprocessing": true,
	"asyncio": true, "contextlib": true, "dataclasses": true, "enum": true,
	"abc": true, "copy": true, "io": true, "tempfile": true, "shutil": true,
	"logging": true, "unittest": true, "argparse": true, "configparser": true,
	"hashlib": true, "hmac": true, "base64": true, "struct": true,
	"pickle": true, "sqlite3": true, "csv": true, "xml": true, "html": true,
	"http": true, "urllib": true, "email": true, "mimetypes": true,
	"socket": true, "ssl": true, "select": true, "signal": true,
	"platform": true, "getpass": true, "glob": true, "fnmatch": true,
	"textwrap": true, "string": true, "decimal": true, "fractions": true,
	"statistics": true, "secrets": true, "uuid": true,
}

// commonImports maps a name that would otherwise raise NameError to the
// import statement that fixes it.
var commonImports = map[string]string{
	"Optional":  "from typing import Optional",
	"List":      "from typing import List",
	"Dict":      "from typing import Dict",
	"Any":       "from typing import Any",
	"Union":     "from typing import Union",
	"Callable":  "from typing import Callable",
	"TypeVar":   "from typing import TypeVar",
	"dataclass": "from dataclasses import dataclass",
	"field":     "from dataclasses import field",
	"Enum":      "from enum import Enum",
	"Path":      "from pathlib import Path",
	"datetime":  "from datetime import datetime",
	"timedelta": "from datetime import timedelta",
	"timezone":  "from datetime import timezone",
	"json":      "import json",
	"re":        "import re",
	"os":        "import os",
	"sys":       "import sys",
}

var (
	moduleNotFoundPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)ModuleNotFoundError: No module named ['"]([^'"]+)['"]`),
		regexp.MustCompile(`(?i)ImportError: No module named ['"]([^'"]+)['"]`),
		regexp.MustCompile(`(?i)No module named ['"]([^'"]+)['"]`),
	}
	cannotImportNamePattern = regexp.MustCompile(`(?i)cannot import name ['"]([^'"]+)['"] from ['"]([^'"]+)['"]`)
	nameNotDefinedPattern   = regexp.MustCompile(`(?i)(?:NameError: )?name ['"]([^'"]+)['"] is not defined`)
	lineNumberPattern       = regexp.MustCompile(`(?i)line (\d+)`)
	defLikePattern          = regexp.MustCompile(`^\s*(def|class|if|elif|else|for|while|try|except|finally|with)\s+.+[^:]\s*$`)
	fStringCandidatePattern = regexp.MustCompile(`([rRuUbBfF]*)(["'])([^"']*\{[^}]+\}[^"']*)["']`)
)

// DetectPackageManager inspects the workspace for lockfiles in priority
// order and returns the install command template to use.
func DetectPackageManager(workspaceRoot string) string {
	exists := func(name string) bool {
		_, err := os.Stat(filepath.Join(workspaceRoot, name))
		return err == nil
	}
	if exists("uv.lock") {
		return "uv pip install"
	}
	if exists("pyproject.toml") {
		if data, err := os.ReadFile(filepath.Join(workspaceRoot, "pyproject.toml")); err == nil {
			if strings.Contains(string(data), "[tool.uv]") {
				return "uv pip install"
			}
		}
		return "uv pip install"
	}
	if exists("requirements.txt") {
		return "pip install"
	}
	if exists("Pipfile") {
		return "pipenv install"
	}
	if exists("poetry.lock") {
		return "poetry add"
	}
	if exists("package-lock.json") {
		return "npm install"
	}
	if exists("yarn.lock") {
		return "yarn add"
	}
	if exists("pnpm-lock.yaml") {
		return "pnpm add"
	}
	return "pip install"
}

// matchModuleNotFound extracts the module name from a ModuleNotFoundError
// and returns an install-package fix, unless the module is part of the
// standard library.
func matchModuleNotFound(errText string) *Fix {
	for _, re := range moduleNotFoundPatterns {
		m := re.FindStringSubmatch(errText)
		if m == nil {
			continue
		}
		module := strings.SplitN(m[1], ".", 2)[0]
		if stdlibModules[module] {
			return nil
		}
		pkg := module
		if alias, ok := packageAliases[module]; ok {
			pkg = alias
		}
		return &Fix{
			Kind:        KindInstallPackage,
			Description: fmt.Sprintf("Install missing package: %s", pkg),
			Command:     fmt.Sprintf("{package_manager} %s", pkg),
		}
	}
	return nil
}

func matchCannotImportName(errText string) *Fix {
	m := cannotImportNamePattern.FindStringSubmatch(errText)
	if m == nil {
		return nil
	}
	name, module := m[1], m[2]
	return &Fix{
		Kind:          KindAddImport,
		Description:   fmt.Sprintf("Fix import: from %s import %s", module, name),
		InsertLine:    1,
		InsertContent: fmt.Sprintf("from %s import %s\n", module, name),
	}
}

func matchNameNotDefined(errText string) *Fix {
	m := nameNotDefinedPattern.FindStringSubmatch(errText)
	if m == nil {
		return nil
	}
	name := m[1]
	imp, ok := commonImports[name]
	if !ok {
		return nil
	}
	return &Fix{
		Kind:          KindAddImport,
		Description:   fmt.Sprintf("Add missing import for %s", name),
		InsertLine:    1,
		InsertContent: imp + "\n",
	}
}

func matchSyntaxError(errText, fileContent string) *Fix {
	lineMatch := lineNumberPattern.FindStringSubmatch(errText)
	var lineNum int
	if lineMatch != nil {
		lineNum, _ = strconv.Atoi(lineMatch[1])
	}

	lower := strings.ToLower(errText)

	if lineNum > 0 && fileContent != "" && (strings.Contains(lower, "expected ':'") || strings.Contains(errText, "SyntaxError: invalid syntax")) {
		lines := strings.Split(fileContent, "\n")
		if lineNum > 0 && lineNum <= len(lines) {
			line := lines[lineNum-1]
			if defLikePattern.MatchString(line) {
				return &Fix{
					Kind:        KindFixSyntax,
					Description: fmt.Sprintf("Add missing colon at line %d", lineNum),
					OldContent:  line,
					NewContent:  strings.TrimRight(line, " \t") + ":",
				}
			}
		}
	}

	if lineNum > 0 && fileContent != "" && (strings.Contains(lower, "unterminated string literal") || strings.Contains(lower, "invalid syntax")) {
		lines := strings.Split(fileContent, "\n")
		if lineNum > 0 && lineNum <= len(lines) {
			line := lines[lineNum-1]
			m := fStringCandidatePattern.FindStringSubmatch(line)
			if m != nil {
				prefix, quote, body := m[1], m[2], m[3]
				lowerPrefix := strings.ToLower(prefix)
				if !strings.Contains(lowerPrefix, "f") && !strings.Contains(lowerPrefix, "b") {
					newPrefix := "f" + prefix
					oldLiteral := prefix + quote + body + quote
					newLiteral := newPrefix + quote + body + quote
					newLine := strings.Replace(line, oldLiteral, newLiteral, 1)
					if newLine != line {
						return &Fix{
							Kind:        KindFixSyntax,
							Description: fmt.Sprintf("Add f-string prefix at line %d", lineNum),
							OldContent:  line,
							NewContent:  newLine,
						}
					}
				}
			}
		}
	}

	return nil
}

func matchIndentationError(errText, fileContent string) *Fix {
	if !strings.Contains(errText, "IndentationError") && !strings.Contains(strings.ToLower(errText), "indentation") {
		return nil
	}
	lineMatch := lineNumberPattern.FindStringSubmatch(errText)
	if lineMatch == nil || fileContent == "" {
		return nil
	}
	lineNum, _ := strconv.Atoi(lineMatch[1])
	lines := strings.Split(fileContent, "\n")
	if lineNum <= 0 || lineNum > len(lines) {
		return nil
	}
	current := lines[lineNum-1]
	leading := current[:len(current)-len(strings.TrimLeft(current, " \t"))]

	if strings.Contains(leading, "\t") && strings.Contains(leading, " ") {
		newLeading := strings.ReplaceAll(leading, "\t", "    ")
		newLine := newLeading + strings.TrimLeft(current, " \t")
		return &Fix{
			Kind:        KindFixIndentation,
			Description: fmt.Sprintf("Fix mixed indentation at line %d", lineNum),
			OldContent:  current,
			NewContent:  newLine,
		}
	}

	if strings.Contains(strings.ToLower(errText), "unexpected indent") && lineNum > 1 {
		prev := lines[lineNum-2]
		prevIndent := len(prev) - len(strings.TrimLeft(prev, " \t"))
		expected := prevIndent
		if strings.HasSuffix(strings.TrimRight(prev, " \t"), ":") {
			expected += 4
		}
		newLine := strings.Repeat(" ", expected) + strings.TrimLeft(current, " \t")
		return &Fix{
			Kind:        KindFixIndentation,
			Description: fmt.Sprintf("Fix unexpected indentation at line %d", lineNum),
			OldContent:  current,
			NewContent:  newLine,
		}
	}

	return nil
}

// Find runs the pattern matchers in order and returns the first match.
// filePath and repoRoot are optional; when present, filePath's content is
// read for matchers that need it and the {package_manager} placeholder in
// an install-package fix is resolved against repoRoot.
func Find(errText string, filePath string, repoRoot string) *Fix {
	var fileContent string
	if filePath != "" {
		if data, err := os.ReadFile(filePath); err == nil {
			fileContent = string(data)
		}
	}

	var fix *Fix
	switch {
	case func() bool { fix = matchModuleNotFound(errText); return fix != nil }():
	case func() bool { fix = matchCannotImportName(errText); return fix != nil }():
	case func() bool { fix = matchNameNotDefined(errText); return fix != nil }():
	case func() bool { fix = matchSyntaxError(errText, fileContent); return fix != nil }():
	case func() bool { fix = matchIndentationError(errText, fileContent); return fix != nil }():
	}

	if fix == nil {
		return nil
	}

	if fix.Command != "" && strings.Contains(fix.Command, "{package_manager}") && repoRoot != "" {
		pm := DetectPackageManager(repoRoot)
		fix.Command = strings.ReplaceAll(fix.Command, "{package_manager}", pm)
	}
	if filePath != "" && fix.FilePath == "" {
		fix.FilePath = filePath
	}

	return fix
}

// Apply executes a quick fix. Install-package fixes run the resolved shell
// command with a 120-second timeout; content edits require the exact
// OldContent string to already be present and replace only its first
// occurrence.
func Apply(ctx context.Context, fix *Fix, workspaceRoot string) (bool, string) {
	switch fix.Kind {
	case KindInstallPackage:
		if fix.Command == "" {
			return false, "no install command specified"
		}
		runCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
		defer cancel()
		fields := strings.Fields(fix.Command)
		if len(fields) == 0 {
			return false, "empty install command"
		}
		cmd := exec.CommandContext(runCtx, fields[0], fields[1:]...)
		cmd.Dir = workspaceRoot
		out, err := cmd.CombinedOutput()
		if err != nil {
			return false, fmt.Sprintf("install failed: %s", strings.TrimSpace(string(out)))
		}
		return true, fmt.Sprintf("installed package: %s", fix.Command)

	case KindAddImport, KindFixSyntax, KindFixIndentation:
		if fix.FilePath == "" {
			return false, "no file path specified"
		}
		target, err := safeResolve(fix.FilePath, workspaceRoot)
		if err != nil {
			return false, err.Error()
		}
		data, err := os.ReadFile(target)
		if err != nil {
			return false, fmt.Sprintf("file not found: %s", fix.FilePath)
		}
		content := string(data)

		if fix.OldContent != "" && fix.NewContent != "" {
			if !strings.Contains(content, fix.OldContent) {
				return false, fmt.Sprintf("content to replace not found in %s", fix.FilePath)
			}
			newContent := strings.Replace(content, fix.OldContent, fix.NewContent, 1)
			if err := os.WriteFile(target, []byte(newContent), 0o644); err != nil {
				return false, err.Error()
			}
			return true, fmt.Sprintf("fixed: %s", fix.Description)
		}

		if fix.InsertLine > 0 && fix.InsertContent != "" {
			lines := strings.Split(content, "\n")
			idx := fix.InsertLine - 1
			if idx < 0 {
				idx = 0
			}
			if idx > len(lines) {
				idx = len(lines)
			}
			insert := strings.TrimRight(fix.InsertContent, "\n")
			lines = append(lines[:idx], append([]string{insert}, lines[idx:]...)...)
			if err := os.WriteFile(target, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
				return false, err.Error()
			}
			return true, fmt.Sprintf("inserted: %s", fix.Description)
		}

		return false, "unknown fix type or missing parameters"
	}

	return false, "unknown fix type or missing parameters"
}

// safeResolve validates that path resolves to a location inside root,
// rejecting absolute paths, traversal, and symlink escapes.
func safeResolve(path, root string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths are not allowed: %s", path)
	}
	candidate := filepath.Join(root, path)
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("cannot resolve workspace root: %w", err)
	}
	resolvedCandidate, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		// File may not exist yet (e.g. a fresh create); fall back to the
		// cleaned, unresolved parent directory check.
		resolvedCandidate = filepath.Clean(candidate)
	}
	rel, err := filepath.Rel(resolvedRoot, resolvedCandidate)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return candidate, nil
}
