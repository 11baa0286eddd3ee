// Package config loads and validates runtime configuration from YAML with
// environment expansion, merging user values over built-in defaults.
package config

import "time"

// Config is the fully resolved runtime configuration.
type Config struct {
	configDir string

	Database      *DatabaseConfig
	Queue         *QueueConfig
	RAG           *RAGConfig
	Assets        *AssetConfig
	Observability *ObservabilityConfig
	Defaults      *Defaults

	AgentRegistry *AgentRegistry
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Stats summarizes loaded configuration for startup logging.
type Stats struct {
	Agents int
}

// Stats returns configuration statistics.
func (c *Config) Stats() Stats {
	return Stats{Agents: c.AgentRegistry.Len()}
}

// Defaults holds run-level fallbacks applied when the caller leaves an
// option unset.
type Defaults struct {
	// NamespacePrefix is the tenant prefix fed into namespace resolution.
	NamespacePrefix string `yaml:"namespace_prefix"`
	// NamespaceScope selects the default scoping level: thread, agent, or global.
	NamespaceScope string `yaml:"namespace_scope"`
	// QueueTTL is the default event TTL; zero means events never expire.
	QueueTTL time.Duration `yaml:"queue_ttl"`
	// History controls the default history generator behavior.
	History HistoryDefaults `yaml:"history"`
}

// HistoryDefaults configures the per-agent history generator.
type HistoryDefaults struct {
	// MaxMessages bounds how many thread messages feed one LLM call.
	MaxMessages int `yaml:"max_messages"`
	// IncludeTargetContext appends "(addressed to: <name>)" to messages
	// that were directed at someone other than the current agent.
	IncludeTargetContext bool `yaml:"include_target_context"`
}

// DefaultDefaults returns the built-in run-level fallbacks.
func DefaultDefaults() *Defaults {
	return &Defaults{
		NamespaceScope: "thread",
		History: HistoryDefaults{
			MaxMessages: 100,
		},
	}
}
