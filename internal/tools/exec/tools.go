package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/codeframe-dev/codeframe/internal/agent"
	"github.com/codeframe-dev/codeframe/internal/tools/files"
)

// RunCommandTool implements run_command: an arbitrary shell command executed
// at the workspace root.
type RunCommandTool struct {
	manager *Manager
}

// NewRunCommandTool creates a run_command tool scoped to the workspace.
func NewRunCommandTool(manager *Manager) *RunCommandTool {
	return &RunCommandTool{manager: manager}
}

func (t *RunCommandTool) Name() string { return "run_command" }

func (t *RunCommandTool) Description() string {
	return "Run a shell command at the workspace root. Rejects a fixed list of destructive command patterns."
}

func (t *RunCommandTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute.",
			},
			"timeout": map[string]interface{}{
				"type":        "integer",
				"description": "Timeout in seconds, clamped to [1, 300] (default 60).",
				"minimum":     1,
				"maximum":     300,
			},
		},
		"required": []string{"command"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *RunCommandTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.manager == nil {
		return toolError("run_command is not configured"), nil
	}
	var input struct {
		Command string `json:"command"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	result, err := t.manager.Run(ctx, input.Command, input.Timeout)
	if err != nil {
		return toolError(err.Error()), nil
	}

	content := fmt.Sprintf("exit code: %d\n\n%s", result.ExitCode, result.Output)
	return &agent.ToolResult{Content: content, IsError: result.ExitCode != 0}, nil
}

// RunTestsTool implements run_tests: auto-detects the project's test runner
// and returns a short summary on pass or the first failure's traceback on
// fail.
type RunTestsTool struct {
	manager  *Manager
	resolver files.Resolver
}

// NewRunTestsTool creates a run_tests tool scoped to the workspace.
func NewRunTestsTool(manager *Manager, workspace string) *RunTestsTool {
	return &RunTestsTool{manager: manager, resolver: files.Resolver{Root: workspace}}
}

func (t *RunTestsTool) Name() string { return "run_tests" }

func (t *RunTestsTool) Description() string {
	return "Run the project's detected test suite (pytest or npm test), optionally scoped to a path."
}

func (t *RunTestsTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"test_path": map[string]interface{}{
				"type":        "string",
				"description": "Optional path (relative to workspace) to restrict the run to.",
			},
			"verbose": map[string]interface{}{
				"type":        "boolean",
				"description": "Return full output instead of a summary / first-failure traceback.",
			},
		},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *RunTestsTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.manager == nil {
		return toolError("run_tests is not configured"), nil
	}
	var input struct {
		TestPath string `json:"test_path"`
		Verbose  bool   `json:"verbose"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
		}
	}

	relPath := ""
	if strings.TrimSpace(input.TestPath) != "" {
		resolved, err := t.resolver.Resolve(input.TestPath)
		if err != nil {
			return toolError(err.Error()), nil
		}
		workspaceRoot, err := t.resolver.Resolve(".")
		if err != nil {
			return toolError(err.Error()), nil
		}
		rel, err := filepath.Rel(workspaceRoot, resolved)
		if err != nil {
			return toolError(err.Error()), nil
		}
		relPath = rel
	}

	command, detected := t.detectCommand(relPath)
	if !detected {
		return toolError("no test runner detected (looked for pyproject.toml/pytest.ini and a package.json test script)"), nil
	}

	result, err := t.manager.Run(ctx, command, 300)
	if err != nil {
		return toolError(err.Error()), nil
	}

	passed := result.ExitCode == 0
	output := result.Output
	if !input.Verbose {
		if passed {
			output = summarizePass(output)
		} else {
			output = firstFailureTraceback(output)
		}
	}

	content := toJSON(map[string]interface{}{
		"command":   command,
		"passed":    passed,
		"exit_code": result.ExitCode,
		"output":    output,
	})
	return &agent.ToolResult{Content: content, IsError: !passed}, nil
}

// detectCommand fingerprints the workspace for a known test runner, the same
// signals the verification gate uses: pytest/uv for
// Python, npm for a package.json with a "test" script.
func (t *RunTestsTool) detectCommand(relPath string) (string, bool) {
	workspaceRoot := t.resolver.Root

	pythonProject := fileExists(filepath.Join(workspaceRoot, "pyproject.toml")) ||
		fileExists(filepath.Join(workspaceRoot, "pytest.ini"))
	if pythonProject && (commandExists("pytest") || commandExists("uv")) {
		base := "pytest -v --tb=short"
		if commandExists("uv") {
			base = "uv run pytest -v --tb=short"
		}
		if relPath != "" {
			base += " " + shellQuote(relPath)
		}
		return base, true
	}

	if pkg, ok := readPackageJSON(workspaceRoot); ok {
		if _, hasTest := pkg.Scripts["test"]; hasTest {
			base := "npm test"
			if relPath != "" {
				base += " -- " + shellQuote(relPath)
			}
			return base, true
		}
	}

	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func commandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

type packageJSON struct {
	Scripts map[string]string `json:"scripts"`
}

func readPackageJSON(root string) (packageJSON, bool) {
	data, err := os.ReadFile(filepath.Join(root, "package.json"))
	if err != nil {
		return packageJSON{}, false
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return packageJSON{}, false
	}
	return pkg, true
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// summarizePass reduces a passing test run's output to its final non-empty
// lines, where the runner's own pass summary lives.
func summarizePass(output string) string {
	lines := nonEmptyLines(output)
	if len(lines) == 0 {
		return "tests passed"
	}
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	return strings.Join(lines, "\n")
}

// firstFailureTraceback extracts only the first failure's traceback from a
// failing run, rather than dumping every failure.
func firstFailureTraceback(output string) string {
	lines := strings.Split(output, "\n")
	start := -1
	for i, line := range lines {
		if strings.Contains(line, "FAILED") || strings.HasPrefix(strings.TrimSpace(line), "FAIL ") ||
			strings.Contains(line, "Traceback (most recent call last)") {
			start = i
			break
		}
	}
	if start == -1 {
		return summarizePass(output)
	}

	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if strings.HasPrefix(lines[i], "=====") || strings.Contains(lines[i], "FAILED") {
			end = i
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines[start:end], "\n"))
}

func nonEmptyLines(output string) []string {
	var out []string
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, strings.TrimSpace(line))
		}
	}
	return out
}

func toolError(message string) *agent.ToolResult {
	payload, _ := json.Marshal(map[string]string{"error": message})
	return &agent.ToolResult{Content: string(payload), IsError: true}
}
