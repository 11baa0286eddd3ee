package config

import (
	"fmt"
	"strings"
)

// RAG mode names.
const (
	RAGModeOff  = "off"
	RAGModeAuto = "auto"
)

// AgentConfig declares one addressable agent. Agents are declared as an
// ordered list: the first agent is the default routing target when a user
// message carries no @mention.
type AgentConfig struct {
	// Name is the mention handle (@Name) and display name. Required, unique.
	Name string `yaml:"name"`
	// ID defaults to Name when empty.
	ID string `yaml:"id"`
	// Model is the provider model identifier passed through to ChatProvider.
	Model string `yaml:"model"`
	// SystemPrompt is prepended to every LLM call for this agent.
	SystemPrompt string `yaml:"system_prompt"`
	Temperature  *float64 `yaml:"temperature"`
	MaxTokens    int      `yaml:"max_tokens"`

	// Tools restricts the agent to the named tools; empty means all
	// registered tools.
	Tools []string `yaml:"tools"`

	// RAG enables automatic retrieval before each LLM call.
	RAG *AgentRAGConfig `yaml:"rag"`

	// EntityExtraction enables async entity extraction for messages
	// addressed to or sent by this agent.
	EntityExtraction *EntityExtractionConfig `yaml:"entity_extraction"`

	// IncludeTargetContext overrides the history default for this agent.
	IncludeTargetContext *bool `yaml:"include_target_context"`
}

// EffectiveID returns ID, falling back to Name.
func (a *AgentConfig) EffectiveID() string {
	if a.ID != "" {
		return a.ID
	}
	return a.Name
}

// AgentRAGConfig holds per-agent retrieval settings.
type AgentRAGConfig struct {
	// Mode is "off" or "auto".
	Mode string `yaml:"mode"`
	// TopK overrides the global retrieval depth when > 0.
	TopK int `yaml:"top_k"`
	// SearchType overrides the global default when set.
	SearchType string `yaml:"search_type"`
	// Scopes lists the namespace scopes to search: any of thread, agent,
	// global. Empty means all three.
	Scopes []string `yaml:"scopes"`
}

// Auto reports whether automatic retrieval is on.
func (c *AgentRAGConfig) Auto() bool {
	return c != nil && c.Mode == RAGModeAuto
}

// EntityExtractionConfig holds per-agent entity extraction settings.
type EntityExtractionConfig struct {
	Enabled bool `yaml:"enabled"`
	// Types restricts extraction to the listed entity types; empty means
	// the model decides.
	Types []string `yaml:"types"`
}

// AgentRegistry provides ordered and by-name access to agent configurations.
// The zero value is unusable; construct with NewAgentRegistry.
type AgentRegistry struct {
	ordered []*AgentConfig
	byName  map[string]*AgentConfig // lowercased name and id
}

// NewAgentRegistry builds a registry preserving declaration order.
func NewAgentRegistry(agents []*AgentConfig) *AgentRegistry {
	r := &AgentRegistry{byName: make(map[string]*AgentConfig, len(agents)*2)}
	for _, a := range agents {
		r.ordered = append(r.ordered, a)
		r.byName[strings.ToLower(a.Name)] = a
		r.byName[strings.ToLower(a.EffectiveID())] = a
	}
	return r
}

// Len returns the number of registered agents.
func (r *AgentRegistry) Len() int {
	return len(r.ordered)
}

// All returns agents in declaration order.
func (r *AgentRegistry) All() []*AgentConfig {
	return r.ordered
}

// First returns the default routing target, or nil when no agents exist.
func (r *AgentRegistry) First() *AgentConfig {
	if len(r.ordered) == 0 {
		return nil
	}
	return r.ordered[0]
}

// Lookup finds an agent by name or ID, case-insensitively.
func (r *AgentRegistry) Lookup(nameOrID string) (*AgentConfig, bool) {
	a, ok := r.byName[strings.ToLower(nameOrID)]
	return a, ok
}

// Merged returns a new registry with overrides layered on top of r.
// An override with a known name replaces that agent in place; new names
// append in the order given. r is not modified.
func (r *AgentRegistry) Merged(overrides []*AgentConfig) *AgentRegistry {
	if len(overrides) == 0 {
		return r
	}
	merged := make([]*AgentConfig, 0, len(r.ordered)+len(overrides))
	replaced := make(map[string]*AgentConfig, len(overrides))
	for _, o := range overrides {
		replaced[strings.ToLower(o.Name)] = o
	}
	for _, a := range r.ordered {
		if o, ok := replaced[strings.ToLower(a.Name)]; ok {
			merged = append(merged, o)
			delete(replaced, strings.ToLower(o.Name))
			continue
		}
		merged = append(merged, a)
	}
	for _, o := range overrides {
		if _, still := replaced[strings.ToLower(o.Name)]; still {
			merged = append(merged, o)
		}
	}
	return NewAgentRegistry(merged)
}

func validateAgents(agents []*AgentConfig) error {
	seen := make(map[string]bool, len(agents))
	for i, a := range agents {
		if a.Name == "" {
			return fmt.Errorf("agent %d: name is required", i)
		}
		key := strings.ToLower(a.Name)
		if seen[key] {
			return fmt.Errorf("agent %q: duplicate name", a.Name)
		}
		seen[key] = true
		if a.RAG != nil && a.RAG.Mode != "" && a.RAG.Mode != RAGModeOff && a.RAG.Mode != RAGModeAuto {
			return fmt.Errorf("agent %q: invalid rag mode %q", a.Name, a.RAG.Mode)
		}
	}
	return nil
}
