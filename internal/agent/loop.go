// Package agent's loop.go drives the ReAct-style agent loop: system
// prompt assembly, the main reason-act-observe cycle, final verification
// against the gate, and the bounded quick-fix/escalation/mini-loop retry
// that follows a failed gate.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/codeframe-dev/codeframe/internal/classifier"
	"github.com/codeframe-dev/codeframe/internal/events"
	"github.com/codeframe-dev/codeframe/internal/fixtracker"
	"github.com/codeframe-dev/codeframe/internal/gate"
	"github.com/codeframe-dev/codeframe/internal/observability"
	"github.com/codeframe-dev/codeframe/internal/quickfix"
	"github.com/codeframe-dev/codeframe/pkg/models"
)

// Store is the external task/PRD/blocker document store the loop consumes.
// The core calls only these three shapes.
type Store interface {
	GetTask(ctx context.Context, taskID string) (models.Task, error)
	ListBlockers(ctx context.Context, taskID string) ([]models.Blocker, error)
	CreateBlocker(ctx context.Context, workspaceID, taskID, question string) (models.Blocker, error)
}

// LoopConfig bounds the loop's iteration counts and the compactor's budget.
type LoopConfig struct {
	// MaxIterations bounds the main reason-act-observe cycle.
	MaxIterations int
	// MaxRetries bounds the post-verification quick-fix/escalation/mini-loop cycle.
	MaxRetries int
	// MaxFixLoopTurns bounds each mini-ReAct-loop invoked during a retry.
	MaxFixLoopTurns int
	// ContextWindowSize is the token budget handed to the compactor.
	ContextWindowSize int
	// KeepPairs is the number of most-recent assistant+user pairs the
	// compactor never touches.
	KeepPairs int
}

// DefaultLoopConfig returns the spec's default bounds.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations:     30,
		MaxRetries:        5,
		MaxFixLoopTurns:   5,
		ContextWindowSize: 200_000,
		KeepPairs:         5,
	}
}

// Loop wires together every core component into the single entry point:
// Run. It holds no per-run state; each Run call constructs its own.
type Loop struct {
	Provider   LLMProvider
	Registry   *ToolRegistry
	Executor   *Executor
	Gate       *gate.Runner
	Publisher  *events.Publisher
	FixTracker *fixtracker.Tracker
	Store      Store
	Logger     *observability.Logger
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
	Config     LoopConfig

	workspaceRoot string
}

// NewLoop constructs a Loop for the given workspace root. FixTracker is
// created fresh: it tracks fix attempts for a single run and must not
// carry state across runs.
func NewLoop(workspaceRoot string, provider LLMProvider, registry *ToolRegistry, publisher *events.Publisher) *Loop {
	return &Loop{
		Provider:      provider,
		Registry:      registry,
		Executor:      NewExecutor(registry, DefaultExecutorConfig()),
		Gate:          gate.New(workspaceRoot),
		Publisher:     publisher,
		FixTracker:    fixtracker.New(),
		Config:        DefaultLoopConfig(),
		workspaceRoot: workspaceRoot,
	}
}

// RunResult is the terminal outcome of a single agent run.
type RunResult struct {
	State         RunState
	Messages      []*models.Message
	BlockerID     string
	FilesModified []string
	Error         error
	Iterations    int
	Duration      time.Duration
}

// runState carries the mutable state threaded through Run's helpers so they
// stay plain methods instead of a sprawling parameter list.
type runState struct {
	taskID        string
	workspaceID   string
	systemPrompt  string
	history       []*models.Message
	compactionNum int
	filesModified map[string]struct{}
	iterations    int
	blockerID     string
}

// Run drives one agent execution from an empty history through the main
// loop, final verification, and (on failure) the bounded retry sub-loop. It
// never panics: any unhandled failure in a step is caught here and reported
// as a failed RunResult rather than propagated to the caller.
func (l *Loop) Run(ctx context.Context, taskCtx models.TaskContext) (result *RunResult, err error) {
	start := time.Now()
	taskID := taskCtx.Task.ID
	workspaceID := taskCtx.Task.WorkspaceID

	defer func() {
		if r := recover(); r != nil {
			if l.Logger != nil {
				l.Logger.Error(ctx, "agent run panicked", "error", fmt.Sprintf("%v", r), "stack", string(debug.Stack()))
			}
			l.emit(taskID, "error", map[string]any{"error_type": "panic", "error": fmt.Sprintf("%v", r)})
			l.emit(taskID, "completion", map[string]any{"status": string(RunStateFailed), "duration_ms": time.Since(start).Milliseconds()})
			result = &RunResult{State: RunStateFailed, Error: fmt.Errorf("run panicked: %v", r), Duration: time.Since(start)}
			err = nil
		}
	}()

	state := &runState{
		taskID:        taskID,
		workspaceID:   workspaceID,
		systemPrompt:  BuildSystemPrompt(taskCtx),
		history:       make([]*models.Message, 0, 16),
		filesModified: make(map[string]struct{}),
	}
	if l.FixTracker != nil {
		l.FixTracker.Reset()
	}

	l.emitProgress(taskID, "planning", "", "", 0, "starting run")

	outcome, loopErr := l.runMainLoop(ctx, state)

	switch outcome {
	case RunStateBlocked:
		return l.finish(state, RunStateBlocked, loopErr, start), nil
	case RunStateFailed:
		return l.finish(state, RunStateFailed, loopErr, start), nil
	}

	// Main loop exited because the model produced a final answer with no
	// tool calls: advance to verification.
	l.emitProgress(taskID, "verifying", "", "", state.iterations, "running verification gate")
	final, verifyErr := l.verifyAndRetry(ctx, state)
	return l.finish(state, final, verifyErr, start), nil
}

func (l *Loop) finish(state *runState, final RunState, cause error, start time.Time) *RunResult {
	files := make([]string, 0, len(state.filesModified))
	for f := range state.filesModified {
		files = append(files, f)
	}
	sort.Strings(files)

	l.emit(state.taskID, "completion", map[string]any{
		"status":      string(final),
		"duration_ms": time.Since(start).Milliseconds(),
		"files":       files,
	})

	return &RunResult{
		State:         final,
		Messages:      state.history,
		BlockerID:     state.blockerID,
		FilesModified: files,
		Error:         cause,
		Iterations:    state.iterations,
		Duration:      time.Since(start),
	}
}

// runMainLoop drives the reason-act-observe cycle. It returns RunStateCompleted when
// the model produced a final text answer with no pending blocker (the
// caller then proceeds to verification), RunStateBlocked when a blocker was
// created, or RunStateFailed on iteration exhaustion or a model error.
func (l *Loop) runMainLoop(ctx context.Context, state *runState) (RunState, error) {
	for i := 0; i < l.Config.MaxIterations; i++ {
		if ctx.Err() != nil {
			return RunStateFailed, ctx.Err()
		}

		state.iterations = i + 1
		outcome, err := l.runIteration(ctx, state, i)
		if err != nil || outcome != RunStateExecuting {
			return outcome, err
		}
	}

	return RunStateFailed, ErrMaxIterations
}

// runIteration runs one reason-act-observe turn: compact if needed, get the
// model's next move, and either finish the run or dispatch its tool calls.
// Returns RunStateExecuting to keep looping.
func (l *Loop) runIteration(ctx context.Context, state *runState, i int) (RunState, error) {
	if l.Tracer != nil {
		var span trace.Span
		ctx, span = l.Tracer.TraceAgentRun(ctx, state.taskID, i)
		defer span.End()
	}

	l.maybeCompact(ctx, state)

	resp, err := l.Provider.Complete(ctx, &CompletionRequest{
		Purpose:     PurposeExecution,
		System:      state.systemPrompt,
		Messages:    toCompletionMessages(state.history),
		Tools:       l.Registry.AsLLMTools(),
		Temperature: 0.2,
	})
	if err != nil {
		return RunStateFailed, fmt.Errorf("llm completion: %w", err)
	}

	if len(resp.ToolCalls) == 0 {
		state.history = append(state.history, &models.Message{
			ID:        uuid.NewString(),
			Role:      models.RoleAssistant,
			Content:   resp.Text,
			CreatedAt: time.Now(),
		})

		if shouldBlock, reason := classifier.ShouldCreateBlocker(resp.Text, i); shouldBlock {
			l.createBlocker(ctx, state, reason+": "+resp.Text)
			return RunStateBlocked, fmt.Errorf("blocked (%s): %s", reason, resp.Text)
		}
		return RunStateCompleted, nil
	}

	blocked, blockErr := l.dispatchTurn(ctx, state, resp.ToolCalls, "executing")
	if blocked {
		return RunStateBlocked, blockErr
	}
	return RunStateExecuting, nil
}

// dispatchTurn appends the assistant's tool-call message, executes every
// tool call, lints edited/created files, emits events, and appends the
// matching user message with all tool results. It returns
// true if a tool error warranted a blocker.
func (l *Loop) dispatchTurn(ctx context.Context, state *runState, calls []models.ToolCall, phase string) (bool, error) {
	state.history = append(state.history, &models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		ToolCalls: calls,
		CreatedAt: time.Now(),
	})

	for _, call := range calls {
		l.emitProgress(state.taskID, phase, call.Name, toolPath(call), len(state.history), "")
	}

	results := l.Executor.ExecuteAll(ctx, calls)
	for i, res := range results {
		if res.Result != nil && !res.Result.IsError && isWriteTool(calls[i].Name) {
			path := toolPath(calls[i])
			if path != "" {
				state.filesModified[path] = struct{}{}
				if lintOut, lintErr := l.Gate.LintFile(ctx, path); lintErr == nil && lintOut != "" {
					res.Result.Content += "\n\nLINT ERRORS (must fix before continuing):\n" + lintOut
				}
			}
		}
	}

	toolResults := ResultsToMessages(results)
	for i, tr := range toolResults {
		l.emit(state.taskID, "output", map[string]any{
			"tool_name": calls[i].Name,
			"is_error":  tr.IsError,
		})
		if tr.IsError {
			cat := classifier.Classify(tr.Content)
			if cat == classifier.CategoryRequirements || cat == classifier.CategoryAccess {
				l.createBlocker(ctx, state, fmt.Sprintf("tool %s failed: %s", calls[i].Name, tr.Content))
				return true, fmt.Errorf("blocked on tool error: %s", tr.Content)
			}
		}
	}

	state.history = append(state.history, &models.Message{
		ID:          uuid.NewString(),
		Role:        models.RoleUser,
		ToolResults: toolResults,
		CreatedAt:   time.Now(),
	})

	return false, nil
}

// verifyAndRetry runs final verification and the bounded retry sub-loop:
// quick-fix, then fix-tracker escalation check, then a bounded
// mini-ReAct-loop, repeated up to Config.MaxRetries times.
func (l *Loop) verifyAndRetry(ctx context.Context, state *runState) (RunState, error) {
	result := l.Gate.Run(ctx, nil, false)
	if result.Passed {
		return RunStateCompleted, nil
	}

	for attempt := 1; attempt <= l.Config.MaxRetries; attempt++ {
		l.emitProgress(state.taskID, "fixing", "", "", attempt, fmt.Sprintf("retry %d/%d", attempt, l.Config.MaxRetries))

		errSummary := result.ErrorSummary()
		filePath := firstErrorFile(result)

		if fix := quickfix.Find(errSummary, filePath, l.workspaceRoot); fix != nil {
			l.FixTracker.RecordAttempt(errSummary, fix.Description, filePath)
			ok, msg := quickfix.Apply(ctx, fix, l.workspaceRoot)
			outcome := fixtracker.OutcomeFailed
			if ok {
				outcome = fixtracker.OutcomeSuccess
			}
			l.FixTracker.RecordOutcome(errSummary, fix.Description, outcome)
			l.emit(state.taskID, "progress", map[string]any{"phase": "fixing", "fix": fix.Description, "applied": ok, "message": msg})

			if ok {
				result = l.Gate.Run(ctx, nil, false)
				if result.Passed {
					return RunStateCompleted, nil
				}
				errSummary = result.ErrorSummary()
				filePath = firstErrorFile(result)
			}
		} else {
			l.FixTracker.RecordAttempt(errSummary, "no deterministic quick-fix available", filePath)
			l.FixTracker.RecordOutcome(errSummary, "no deterministic quick-fix available", fixtracker.OutcomeFailed)
		}

		decision := l.FixTracker.ShouldEscalate(errSummary, filePath)
		if decision.ShouldEscalate {
			blockerCtx := l.FixTracker.GetBlockerContext(errSummary)
			question := fmt.Sprintf(
				"Verification keeps failing (%s). Attempted fixes: %s. Affected files: %s.",
				decision.Reason, strings.Join(decision.AttemptedFixes, "; "), strings.Join(blockerCtx.AffectedFiles, ", "),
			)
			l.createBlocker(ctx, state, question)
			return RunStateBlocked, fmt.Errorf("verification escalated: %s", decision.Reason)
		}

		var fixErr error
		result, fixErr = l.runMiniLoop(ctx, state, errSummary, l.FixTracker.GetAttemptedFixes(errSummary))
		if fixErr != nil {
			return RunStateBlocked, fixErr
		}
		if result.Passed {
			return RunStateCompleted, nil
		}
	}

	return RunStateFailed, ErrVerificationFailed
}

// runMiniLoop runs a bounded correction conversation (≤ MaxFixLoopTurns LLM
// turns) seeded with the gate's error summary and the fixes already tried,
// reusing the full tool set and per-edit lint, then re-runs the gate.
func (l *Loop) runMiniLoop(ctx context.Context, state *runState, errSummary string, attemptedFixes []string) (gate.Result, error) {
	prompt := buildCorrectionPrompt(errSummary, attemptedFixes)
	state.history = append(state.history, &models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   prompt,
		CreatedAt: time.Now(),
	})

	for turn := 0; turn < l.Config.MaxFixLoopTurns; turn++ {
		if ctx.Err() != nil {
			return l.Gate.Run(ctx, nil, false), ctx.Err()
		}

		l.maybeCompact(ctx, state)

		resp, err := l.Provider.Complete(ctx, &CompletionRequest{
			Purpose:     PurposeCorrection,
			System:      state.systemPrompt,
			Messages:    toCompletionMessages(state.history),
			Tools:       l.Registry.AsLLMTools(),
			Temperature: 0.2,
		})
		if err != nil {
			return gate.Result{}, fmt.Errorf("correction llm completion: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			state.history = append(state.history, &models.Message{
				ID:        uuid.NewString(),
				Role:      models.RoleAssistant,
				Content:   resp.Text,
				CreatedAt: time.Now(),
			})
			break
		}

		blocked, blockErr := l.dispatchTurn(ctx, state, resp.ToolCalls, "fixing")
		if blocked {
			return gate.Result{}, blockErr
		}
	}

	return l.Gate.Run(ctx, nil, false), nil
}

// createBlocker records a blocker through the external store when one is
// configured. Blocker creation is best-effort: a store failure still
// lets the caller return the original blocked/failed outcome.
func (l *Loop) createBlocker(ctx context.Context, state *runState, question string) {
	l.emit(state.taskID, "blocker-created", map[string]any{"question": question})
	if l.Store == nil {
		return
	}
	blocker, err := l.Store.CreateBlocker(ctx, state.workspaceID, state.taskID, question)
	if err != nil {
		if l.Logger != nil {
			l.Logger.Error(ctx, "failed to create blocker", "error", err)
		}
		return
	}
	state.blockerID = blocker.ID
}

func (l *Loop) maybeCompact(ctx context.Context, state *runState) {
	compacted, stats := CompactConversation(state.history, l.Config.ContextWindowSize, state.compactionNum, l.Config.KeepPairs)
	if !stats.Compacted {
		return
	}
	state.history = compacted
	state.compactionNum = stats.CompactionNumber
	if l.Metrics != nil {
		tier := "none"
		if len(stats.TiersUsed) > 0 {
			tier = string(stats.TiersUsed[len(stats.TiersUsed)-1])
		}
		l.Metrics.CompactionRuns.WithLabelValues(tier).Inc()
	}
	if l.Logger != nil {
		l.Logger.Info(ctx, "compacted conversation",
			"tokens_before", stats.TokensBefore, "tokens_after", stats.TokensAfter, "tokens_saved", stats.TokensSaved)
	}
}

func (l *Loop) emit(taskID, eventType string, data map[string]any) {
	if l.Publisher == nil {
		return
	}
	l.Publisher.Publish(taskID, events.Event{Type: eventType, Data: data})
}

func (l *Loop) emitProgress(taskID, phase, toolName, filePath string, iteration int, message string) {
	l.emit(taskID, "progress", map[string]any{
		"phase":     phase,
		"tool_name": toolName,
		"file_path": filePath,
		"iteration": iteration,
		"message":   message,
	})
}

func toCompletionMessages(history []*models.Message) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(history))
	for _, m := range history {
		if m == nil {
			continue
		}
		out = append(out, CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
		})
	}
	return out
}

func isWriteTool(name string) bool {
	return name == "edit_file" || name == "create_file"
}

// toolPath extracts the "path" field from a tool call's JSON input, if
// present, for file-modification tracking and per-file lint.
func toolPath(call models.ToolCall) string {
	var input struct {
		Path string `json:"path"`
	}
	if len(call.Input) == 0 {
		return ""
	}
	if err := json.Unmarshal(call.Input, &input); err != nil {
		return ""
	}
	return input.Path
}

// firstErrorFile returns a deterministic (lexicographically first) file
// path from the gate result's per-file diagnostics, or "" if there are none.
func firstErrorFile(result gate.Result) string {
	byFile := result.ErrorsByFile()
	if len(byFile) == 0 {
		return ""
	}
	files := make([]string, 0, len(byFile))
	for f := range byFile {
		files = append(files, f)
	}
	sort.Strings(files)
	return files[0]
}

func buildCorrectionPrompt(errSummary string, attemptedFixes []string) string {
	var b strings.Builder
	b.WriteString("Verification failed. Fix the reported problems.\n\n")
	b.WriteString("Error summary:\n")
	b.WriteString(errSummary)
	if len(attemptedFixes) > 0 {
		b.WriteString("\n\nAlready attempted (did not resolve it): ")
		b.WriteString(strings.Join(attemptedFixes, "; "))
	}
	return b.String()
}
