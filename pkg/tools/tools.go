// Package tools defines the tool registry and execution contract. Tools
// are offered to agents per their configuration, validated against JSON
// Schema before execution, and run with a namespace-scoped view of the
// store so they never address other tenants' data.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/weftlabs/weft/pkg/assets"
	"github.com/weftlabs/weft/pkg/config"
	"github.com/weftlabs/weft/pkg/events"
	"github.com/weftlabs/weft/pkg/llm"
	"github.com/weftlabs/weft/pkg/rag"
	"github.com/weftlabs/weft/pkg/store"
)

var (
	// ErrToolNotFound is returned when a call names an unregistered tool.
	ErrToolNotFound = errors.New("tool not found")
	// ErrInvalidArgs marks argument validation failures. These are
	// permanent: retrying the same arguments cannot succeed.
	ErrInvalidArgs = errors.New("invalid tool arguments")
)

// Context is the execution environment handed to tool handlers. The
// store view is already scoped to the run's namespace.
type Context struct {
	ThreadID  string
	SenderID  string
	AgentID   string
	Namespace string

	Store       *store.Store
	Collections *store.Scoped
	Assets      assets.Store
	Agents      *config.AgentRegistry
	Tools       *Registry
	Ingestor    *rag.Ingestor

	// Emit publishes a best-effort observation on the run's stream.
	// Nil when no stream is attached; handlers must tolerate that.
	Emit func(ev *events.StreamEvent)
}

// Handler executes one tool call. The returned value is serialized to
// JSON for the tool result message.
type Handler func(ctx context.Context, tc *Context, args json.RawMessage) (any, error)

// Tool couples a definition with its handler. Schema is a JSON Schema
// document for the arguments object; it is compiled at registration.
type Tool struct {
	Name        string
	Description string
	Schema      string
	Handler     Handler

	compiled *jsonschema.Schema
}

// Definition returns the provider-facing description of the tool.
func (t *Tool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:             t.Name,
		Description:      t.Description,
		ParametersSchema: t.Schema,
	}
}

// Registry holds the available tools. Like the agent registry it is
// immutable after construction; run-level overrides layer on top via
// Merged rather than mutating shared state.
type Registry struct {
	ordered []*Tool
	byName  map[string]*Tool
}

// NewRegistry compiles and registers the given tools. Duplicate names
// and invalid schemas are rejected.
func NewRegistry(tools ...*Tool) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Tool, len(tools))}
	for _, t := range tools {
		if err := r.add(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(t *Tool) error {
	if t.Name == "" {
		return errors.New("tool name is required")
	}
	key := strings.ToLower(t.Name)
	if _, exists := r.byName[key]; exists {
		return fmt.Errorf("tool %q: duplicate name", t.Name)
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %q: handler is required", t.Name)
	}
	if t.compiled == nil && t.Schema != "" {
		compiled, err := jsonschema.CompileString(t.Name+".schema.json", t.Schema)
		if err != nil {
			return fmt.Errorf("tool %q: compile schema: %w", t.Name, err)
		}
		t.compiled = compiled
	}
	r.ordered = append(r.ordered, t)
	r.byName[key] = t
	return nil
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.ordered)
}

// Lookup finds a tool by name, case-insensitively.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	t, ok := r.byName[strings.ToLower(name)]
	return t, ok
}

// Definitions returns provider definitions for the allowed tool names,
// in registration order. An empty allow list means every tool.
func (r *Registry) Definitions(allowed []string) []llm.ToolDefinition {
	allow := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allow[strings.ToLower(name)] = true
	}
	var defs []llm.ToolDefinition
	for _, t := range r.ordered {
		if len(allow) > 0 && !allow[strings.ToLower(t.Name)] {
			continue
		}
		defs = append(defs, t.Definition())
	}
	return defs
}

// Merged returns a new registry with overrides layered on top of r. An
// override with a known name replaces that tool in place; new names
// append. r is not modified.
func (r *Registry) Merged(overrides []*Tool) (*Registry, error) {
	if len(overrides) == 0 {
		return r, nil
	}
	replaced := make(map[string]*Tool, len(overrides))
	for _, o := range overrides {
		replaced[strings.ToLower(o.Name)] = o
	}
	merged := make([]*Tool, 0, len(r.ordered)+len(overrides))
	for _, t := range r.ordered {
		if o, ok := replaced[strings.ToLower(t.Name)]; ok {
			merged = append(merged, o)
			delete(replaced, strings.ToLower(o.Name))
			continue
		}
		merged = append(merged, t)
	}
	for _, o := range overrides {
		if _, still := replaced[strings.ToLower(o.Name)]; still {
			merged = append(merged, o)
		}
	}
	return NewRegistry(merged...)
}

// Execute validates the arguments against the tool's schema and runs the
// handler. Unknown tools return ErrToolNotFound; schema violations return
// an error wrapping ErrInvalidArgs.
func (r *Registry) Execute(ctx context.Context, tc *Context, name string, args json.RawMessage) (any, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if t.compiled != nil {
		var decoded any
		if err := json.Unmarshal(args, &decoded); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
		}
		if err := t.compiled.Validate(decoded); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
		}
	}

	return t.Handler(ctx, tc, args)
}
