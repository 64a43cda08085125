package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolRegistry manages available tools with thread-safe registration and lookup.
// Tools are registered by name and can be retrieved for execution during a run.
type ToolRegistry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	schema map[string]*jsonschema.Schema
}

// NewToolRegistry creates a new empty tool registry ready for tool registration.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:  make(map[string]Tool),
		schema: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool to the registry by its name, compiling its declared
// JSON Schema so Execute can validate call parameters before dispatch.
// If a tool with the same name already exists, it is replaced.
func (r *ToolRegistry) Register(tool Tool) error {
	compiled, err := compileSchema(tool.Name(), tool.Schema())
	if err != nil {
		return fmt.Errorf("register tool %s: %w", tool.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	r.schema[tool.Name()] = compiled
	return nil
}

// MustRegister is like Register but panics on failure. Intended for use at
// process startup where a malformed tool schema is a programmer error.
func (r *ToolRegistry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty schema")
	}
	compiler := jsonschema.NewCompiler()
	resourceName := name + ".json"
	if err := compiler.AddResource(resourceName, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(resourceName)
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schema, name)
}

// Get returns a tool by name and a boolean indicating if it was found.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Tool parameter limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// Execute runs a tool by name with the given JSON parameters, validating the
// parameters against the tool's declared schema before dispatch. Validation
// and not-found failures are returned as error ToolResults, not Go errors,
// so a caller can feed them straight back to the model.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return &ToolResult{
			Content: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength),
			IsError: true,
		}, nil
	}
	if len(params) > MaxToolParamsSize {
		return &ToolResult{
			Content: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize),
			IsError: true,
		}, nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schema[name]
	r.mu.RUnlock()
	if !ok {
		return &ToolResult{
			Content: "tool not found: " + name,
			IsError: true,
		}, nil
	}

	if schema != nil {
		if err := validateAgainstSchema(schema, params); err != nil {
			return &ToolResult{
				Content: fmt.Sprintf("invalid parameters for %s: %v", name, err),
				IsError: true,
			}, nil
		}
	}

	return tool.Execute(ctx, params)
}

func validateAgainstSchema(schema *jsonschema.Schema, params json.RawMessage) error {
	var doc any
	if len(params) == 0 {
		doc = map[string]any{}
	} else if err := json.Unmarshal(params, &doc); err != nil {
		return fmt.Errorf("malformed json: %w", err)
	}
	return schema.Validate(doc)
}

// AsLLMTools returns all registered tools as a slice for passing to LLM providers.
func (r *ToolRegistry) AsLLMTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	return tools
}
