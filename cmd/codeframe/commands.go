// commands.go contains the cobra command definitions. Each builder wires a
// command's flags to its handler, kept separate from main.go's process
// bootstrap.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/codeframe-dev/codeframe/internal/agent"
	"github.com/codeframe-dev/codeframe/internal/agent/providers"
	"github.com/codeframe-dev/codeframe/internal/events"
	"github.com/codeframe-dev/codeframe/internal/observability"
	"github.com/codeframe-dev/codeframe/internal/tools/exec"
	"github.com/codeframe-dev/codeframe/internal/tools/files"
	"github.com/codeframe-dev/codeframe/pkg/models"
)

// taskFile is the on-disk shape of the --task YAML file: everything
// BuildSystemPrompt's project- and task-specific layers need that isn't
// derived from the workspace itself.
type taskFile struct {
	ID                  string `yaml:"id"`
	Title               string `yaml:"title"`
	Description         string `yaml:"description"`
	Complexity          int    `yaml:"complexity"`
	RequirementsDocPath string `yaml:"requirements_doc_path"`
	Clarifications      []struct {
		Question string `yaml:"question"`
		Answer   string `yaml:"answer"`
	} `yaml:"clarifications"`
	Preferences struct {
		AlwaysDo  []string          `yaml:"always_do"`
		AskFirst  []string          `yaml:"ask_first"`
		NeverDo   []string          `yaml:"never_do"`
		TechStack []string          `yaml:"tech_stack"`
		Tooling   map[string]string `yaml:"tooling"`
	} `yaml:"preferences"`
}

func buildRunCmd() *cobra.Command {
	var (
		workspace  string
		taskPath   string
		apiKeyEnv  string
		model      string
		maxIters   int
		logFormat  string
		fileTreeAt string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one agent loop against a workspace",
		Long: `Run assembles a task context from --task and the workspace's file tree,
then drives a single ReAct Loop run to completion, blocked, or failed.

The run's progress events are logged to stderr as they're published; the
final state, files touched, and any blocker question are printed to stdout
as JSON.`,
		Example: `  codeframe run --workspace . --task task.yaml
  codeframe run --workspace ./myrepo --task task.yaml --model claude-opus-4-20250514`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(cmd.Context(), runOptions{
				workspace:  workspace,
				taskPath:   taskPath,
				apiKeyEnv:  apiKeyEnv,
				model:      model,
				maxIters:   maxIters,
				logFormat:  logFormat,
				fileTreeAt: fileTreeAt,
			})
		},
	}

	cmd.Flags().StringVarP(&workspace, "workspace", "w", ".", "Path to the target repository")
	cmd.Flags().StringVarP(&taskPath, "task", "t", "", "Path to the task YAML file (required)")
	cmd.Flags().StringVar(&apiKeyEnv, "api-key-env", "ANTHROPIC_API_KEY", "Environment variable holding the Anthropic API key")
	cmd.Flags().StringVar(&model, "model", "", "Override the default model for every request purpose")
	cmd.Flags().IntVar(&maxIters, "max-iterations", 0, "Override the loop's max iterations (0 keeps the default)")
	cmd.Flags().StringVar(&logFormat, "log-format", "text", "Progress event log format: text or json")
	cmd.Flags().StringVar(&fileTreeAt, "file-tree-path", ".", "Directory (relative to workspace) to seed the prompt's file tree from")
	_ = cmd.MarkFlagRequired("task")

	return cmd
}

type runOptions struct {
	workspace  string
	taskPath   string
	apiKeyEnv  string
	model      string
	maxIters   int
	logFormat  string
	fileTreeAt string
}

func runLoop(ctx context.Context, opts runOptions) error {
	workspaceRoot, err := filepath.Abs(opts.workspace)
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}

	taskCtx, err := loadTaskContext(opts.taskPath, workspaceRoot, opts.fileTreeAt)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}

	apiKey := os.Getenv(opts.apiKeyEnv)
	if apiKey == "" {
		return fmt.Errorf("%s is not set", opts.apiKeyEnv)
	}
	provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
		APIKey:       apiKey,
		DefaultModel: opts.model,
	})
	if err != nil {
		return fmt.Errorf("construct anthropic provider: %w", err)
	}

	registry := buildRegistry(workspaceRoot)
	publisher := events.New()

	logger := observability.MustNewLogger(observability.LogConfig{
		Level:  "info",
		Format: opts.logFormat,
		Output: os.Stderr,
	})
	defer func() { _ = logger.Sync() }()

	sub := publisher.Subscribe(taskCtx.Task.ID)
	defer sub.Close()
	go streamProgress(sub, logger)

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName: "codeframe",
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	})
	defer func() { _ = shutdownTracer(context.Background()) }()

	loop := agent.NewLoop(workspaceRoot, provider, registry, publisher)
	loop.Logger = logger
	loop.Metrics = observability.NewMetrics()
	loop.Tracer = tracer
	loop.Executor.Tracer = tracer
	if opts.maxIters > 0 {
		loop.Config.MaxIterations = opts.maxIters
	}

	result, err := loop.Run(ctx, taskCtx)
	publisher.CompleteTask(taskCtx.Task.ID)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	return printResult(result)
}

// buildRegistry wires every workspace tool the agent can dispatch.
func buildRegistry(workspaceRoot string) *agent.ToolRegistry {
	registry := agent.NewToolRegistry()
	filesCfg := files.Config{Workspace: workspaceRoot}
	registry.MustRegister(files.NewReadTool(filesCfg))
	registry.MustRegister(files.NewListFilesTool(filesCfg))
	registry.MustRegister(files.NewSearchCodebaseTool(filesCfg))
	registry.MustRegister(files.NewEditTool(filesCfg))
	registry.MustRegister(files.NewCreateFileTool(filesCfg))

	execMgr := exec.NewManager(workspaceRoot)
	registry.MustRegister(exec.NewRunCommandTool(execMgr))
	registry.MustRegister(exec.NewRunTestsTool(execMgr, workspaceRoot))
	return registry
}

// loadTaskContext reads the task YAML, resolves its optional requirements
// document, and seeds the file tree by asking list_files for a snapshot of
// fileTreeAt.
func loadTaskContext(taskPath, workspaceRoot, fileTreeAt string) (models.TaskContext, error) {
	raw, err := os.ReadFile(taskPath)
	if err != nil {
		return models.TaskContext{}, err
	}
	var tf taskFile
	if err := yaml.Unmarshal(raw, &tf); err != nil {
		return models.TaskContext{}, fmt.Errorf("parse task file: %w", err)
	}
	if tf.Title == "" {
		return models.TaskContext{}, fmt.Errorf("task file is missing a title")
	}
	if tf.ID == "" {
		tf.ID = "cli-run"
	}

	var requirementsDoc string
	if tf.RequirementsDocPath != "" {
		data, err := os.ReadFile(tf.RequirementsDocPath)
		if err != nil {
			return models.TaskContext{}, fmt.Errorf("read requirements doc: %w", err)
		}
		requirementsDoc = string(data)
	}

	clarifications := make([]models.Clarification, 0, len(tf.Clarifications))
	for _, c := range tf.Clarifications {
		clarifications = append(clarifications, models.Clarification{Question: c.Question, Answer: c.Answer})
	}

	fileTree, err := scanFileTree(files.Config{Workspace: workspaceRoot}, fileTreeAt)
	if err != nil {
		return models.TaskContext{}, fmt.Errorf("scan file tree: %w", err)
	}

	return models.TaskContext{
		Task: models.Task{
			ID:          tf.ID,
			WorkspaceID: workspaceRoot,
			Title:       tf.Title,
			Description: tf.Description,
			Status:      models.TaskStatusInProgress,
			Complexity:  tf.Complexity,
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		},
		RequirementsDoc: requirementsDoc,
		Clarifications:  clarifications,
		Preferences: models.Preferences{
			AlwaysDo:  tf.Preferences.AlwaysDo,
			AskFirst:  tf.Preferences.AskFirst,
			NeverDo:   tf.Preferences.NeverDo,
			TechStack: tf.Preferences.TechStack,
			Tooling:   tf.Preferences.Tooling,
		},
		FileTree: fileTree,
	}, nil
}

// scanFileTree dogfoods list_files itself rather than reimplementing the
// workspace walk, so the CLI's view of the tree matches exactly what the
// model sees when it calls the tool mid-run.
func scanFileTree(cfg files.Config, path string) ([]models.FileTreeEntry, error) {
	tool := files.NewListFilesTool(cfg)
	params, _ := json.Marshal(map[string]any{"path": path, "max_depth": 4})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		return nil, err
	}
	if result.IsError {
		return nil, fmt.Errorf("list_files: %s", result.Content)
	}

	var payload struct {
		Entries []struct {
			Path  string `json:"path"`
			IsDir bool   `json:"is_dir"`
		} `json:"entries"`
	}
	if err := json.Unmarshal([]byte(result.Content), &payload); err != nil {
		return nil, fmt.Errorf("parse list_files output: %w", err)
	}

	entries := make([]models.FileTreeEntry, 0, len(payload.Entries))
	for i, e := range payload.Entries {
		entries = append(entries, models.FileTreeEntry{
			Path:      e.Path,
			IsDir:     e.IsDir,
			Relevance: 1.0 - float64(i)/float64(len(payload.Entries)+1),
		})
	}
	return entries, nil
}

// streamProgress logs every published event until the subscription closes,
// giving a human watching the CLI a live view of the run.
func streamProgress(sub *events.Subscription, logger *observability.Logger) {
	ctx := context.Background()
	for evt := range sub.Events {
		logger.Info(ctx, "event", "type", evt.Type, "data", evt.Data)
	}
}

func printResult(result *agent.RunResult) error {
	payload, err := json.MarshalIndent(map[string]any{
		"state":          result.State,
		"blocker_id":     result.BlockerID,
		"files_modified": result.FilesModified,
		"iterations":     result.Iterations,
		"duration_ms":    result.Duration.Milliseconds(),
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(payload))
	return nil
}
