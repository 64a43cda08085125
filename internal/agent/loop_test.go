package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/codeframe-dev/codeframe/internal/events"
	"github.com/codeframe-dev/codeframe/internal/gate"
	"github.com/codeframe-dev/codeframe/pkg/models"
)

// mockProvider is a queue-of-canned-responses LLM provider for tests,
// with an optional response-handler callback for tests that need to
// react to what the loop just did.
type mockProvider struct {
	mu        sync.Mutex
	responses []*CompletionResponse
	handler   func(*CompletionRequest) (*CompletionResponse, error)
	calls     []*CompletionRequest
}

func (m *mockProvider) Complete(_ context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)

	if m.handler != nil {
		return m.handler(req)
	}
	if len(m.responses) == 0 {
		return nil, fmt.Errorf("mock provider: no canned responses left")
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

func (m *mockProvider) Name() string { return "mock" }
func (m *mockProvider) Models() []Model {
	return []Model{{ID: "mock-model", Name: "mock", ContextSize: 200_000}}
}
func (m *mockProvider) SupportsTools() bool { return true }

// stubTool is a trivial agent.Tool used to exercise dispatch without the
// real file/exec tools.
type stubTool struct {
	name   string
	result *ToolResult
}

func (t *stubTool) Name() string            { return t.name }
func (t *stubTool) Description() string     { return "stub tool for tests" }
func (t *stubTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *stubTool) Execute(context.Context, json.RawMessage) (*ToolResult, error) {
	return t.result, nil
}

// fakeStore is an in-memory Store for tests.
type fakeStore struct {
	mu       sync.Mutex
	blockers []models.Blocker
}

func (s *fakeStore) GetTask(context.Context, string) (models.Task, error) { return models.Task{}, nil }
func (s *fakeStore) ListBlockers(context.Context, string) ([]models.Blocker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockers, nil
}
func (s *fakeStore) CreateBlocker(_ context.Context, _, taskID, question string) (models.Blocker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := models.Blocker{ID: fmt.Sprintf("blocker-%d", len(s.blockers)+1), TaskID: taskID, Question: question, Status: models.BlockerOpen}
	s.blockers = append(s.blockers, b)
	return b, nil
}

func newTestLoop(t *testing.T, provider LLMProvider, registry *ToolRegistry) (*Loop, string) {
	t.Helper()
	root := t.TempDir()
	l := NewLoop(root, provider, registry, events.New())
	l.Config.MaxIterations = 5
	l.Config.MaxRetries = 2
	l.Config.MaxFixLoopTurns = 2
	return l, root
}

func baseTaskContext() models.TaskContext {
	return models.TaskContext{
		Task: models.Task{
			ID:          "task-1",
			WorkspaceID: "ws-1",
			Title:       "Add a feature",
			Description: "Implement the thing",
			Complexity:  2,
		},
	}
}

func TestRunCompletesWhenModelReturnsFinalTextAndGateIsEmpty(t *testing.T) {
	provider := &mockProvider{responses: []*CompletionResponse{
		{Text: "All done, no changes needed.", StopReason: "end_turn"},
	}}
	l, _ := newTestLoop(t, provider, NewToolRegistry())

	result, err := l.Run(context.Background(), baseTaskContext())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.State != RunStateCompleted {
		t.Fatalf("expected completed, got %s (err=%v)", result.State, result.Error)
	}
	if len(result.Messages) != 1 {
		t.Fatalf("expected a single assistant message, got %d", len(result.Messages))
	}
}

func TestRunCreatesBlockerOnRequirementsAmbiguity(t *testing.T) {
	provider := &mockProvider{responses: []*CompletionResponse{
		{Text: "This task has conflicting requirements between the two documents.", StopReason: "end_turn"},
	}}
	l, _ := newTestLoop(t, provider, NewToolRegistry())
	store := &fakeStore{}
	l.Store = store

	result, err := l.Run(context.Background(), baseTaskContext())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.State != RunStateBlocked {
		t.Fatalf("expected blocked, got %s", result.State)
	}
	if result.BlockerID == "" {
		t.Fatal("expected a blocker id to be recorded")
	}
	if len(store.blockers) != 1 {
		t.Fatalf("expected exactly one blocker created, got %d", len(store.blockers))
	}
}

func TestRunDispatchesToolCallsThenCompletes(t *testing.T) {
	registry := NewToolRegistry()
	registry.MustRegister(&stubTool{name: "read_file", result: &ToolResult{Content: "1\thello\n"}})

	callInput, _ := json.Marshal(map[string]string{"path": "main.py"})
	provider := &mockProvider{responses: []*CompletionResponse{
		{ToolCalls: []models.ToolCall{{ID: "call-1", Name: "read_file", Input: callInput}}},
		{Text: "Looks good, nothing further to do.", StopReason: "end_turn"},
	}}

	l, _ := newTestLoop(t, provider, registry)
	result, err := l.Run(context.Background(), baseTaskContext())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.State != RunStateCompleted {
		t.Fatalf("expected completed, got %s (err=%v)", result.State, result.Error)
	}

	// assistant+tool-calls, user+tool-results, assistant final text.
	if len(result.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(result.Messages))
	}
	if result.Messages[0].Role != models.RoleAssistant || len(result.Messages[0].ToolCalls) != 1 {
		t.Fatalf("expected first message to be assistant with one tool call, got %+v", result.Messages[0])
	}
	if result.Messages[1].Role != models.RoleUser || len(result.Messages[1].ToolResults) != 1 {
		t.Fatalf("expected second message to be user with one tool result, got %+v", result.Messages[1])
	}
	if result.Messages[1].ToolResults[0].ToolCallID != "call-1" {
		t.Fatalf("tool result id mismatch: %+v", result.Messages[1].ToolResults[0])
	}
}

func TestRunFailsOnIterationExhaustion(t *testing.T) {
	registry := NewToolRegistry()
	registry.MustRegister(&stubTool{name: "noop", result: &ToolResult{Content: "ok"}})

	callInput, _ := json.Marshal(map[string]string{})
	provider := &mockProvider{handler: func(*CompletionRequest) (*CompletionResponse, error) {
		return &CompletionResponse{ToolCalls: []models.ToolCall{{ID: "x", Name: "noop", Input: callInput}}}, nil
	}}

	l, _ := newTestLoop(t, provider, registry)
	l.Config.MaxIterations = 3

	result, err := l.Run(context.Background(), baseTaskContext())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.State != RunStateFailed {
		t.Fatalf("expected failed, got %s", result.State)
	}
}

func TestRunCreatesBlockerOnAccessToolError(t *testing.T) {
	registry := NewToolRegistry()
	registry.MustRegister(&stubTool{name: "run_command", result: &ToolResult{Content: "permission denied: cannot write", IsError: true}})

	callInput, _ := json.Marshal(map[string]string{"command": "make"})
	provider := &mockProvider{responses: []*CompletionResponse{
		{ToolCalls: []models.ToolCall{{ID: "c1", Name: "run_command", Input: callInput}}},
	}}

	l, _ := newTestLoop(t, provider, registry)
	store := &fakeStore{}
	l.Store = store

	result, err := l.Run(context.Background(), baseTaskContext())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.State != RunStateBlocked {
		t.Fatalf("expected blocked, got %s (err=%v)", result.State, result.Error)
	}
	if len(store.blockers) != 1 {
		t.Fatalf("expected one blocker, got %d", len(store.blockers))
	}
}

func TestFirstErrorFileIsDeterministic(t *testing.T) {
	result := gate.Result{Checks: []gate.Check{
		{
			Name:   "ruff",
			Status: gate.StatusFailed,
			Diagnostics: []gate.Diagnostic{
				{File: "pkg/b.py", Message: "unused import"},
				{File: "pkg/a.py", Message: "line too long"},
			},
		},
	}}
	if got := firstErrorFile(result); got != "pkg/a.py" {
		t.Fatalf("expected pkg/a.py, got %q", got)
	}
}

func TestToolPathExtractsPathField(t *testing.T) {
	input, _ := json.Marshal(map[string]string{"path": "internal/x.go"})
	call := models.ToolCall{ID: "1", Name: "edit_file", Input: input}
	if got := toolPath(call); got != "internal/x.go" {
		t.Fatalf("expected internal/x.go, got %q", got)
	}
}

func TestBuildSystemPromptIncludesAllThreeLayers(t *testing.T) {
	ctx := models.TaskContext{
		Task: models.Task{Title: "Ship feature X", Description: "Wire up the widget", Complexity: 5},
		Preferences: models.Preferences{
			AlwaysDo:  []string{"write tests"},
			NeverDo:   []string{"touch migrations"},
			TechStack: []string{"python", "fastapi"},
		},
		FileTree: []models.FileTreeEntry{{Path: "main.py", Relevance: 1.0}},
		Clarifications: []models.Clarification{
			{Question: "Use Postgres or SQLite?", Answer: "Postgres"},
		},
	}

	prompt := BuildSystemPrompt(ctx)
	for _, want := range []string{
		"read_file before editing", "Ship feature X", "Wire up the widget",
		"write tests", "touch migrations", "python, fastapi", "main.py",
		"Postgres", "high-complexity",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("expected system prompt to contain %q, got:\n%s", want, prompt)
		}
	}
}

func TestRunRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Millisecond)
	defer cancel()
	time.Sleep(5 * time.Millisecond)

	provider := &mockProvider{responses: []*CompletionResponse{{Text: "should not be reached"}}}
	l, _ := newTestLoop(t, provider, NewToolRegistry())

	result, err := l.Run(ctx, baseTaskContext())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.State != RunStateFailed {
		t.Fatalf("expected failed on cancelled context, got %s", result.State)
	}
}
