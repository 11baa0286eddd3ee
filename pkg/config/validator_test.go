package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a fully valid resolved configuration for tests to
// break one field at a time.
func validConfig() *Config {
	cfg, _ := Resolve(&YAMLConfig{}, "")
	return cfg
}

func TestValidateQueue(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*QueueConfig)
		errMsg string
	}{
		{
			name:   "defaults are valid",
			mutate: func(q *QueueConfig) {},
		},
		{
			name:   "worker count zero",
			mutate: func(q *QueueConfig) { q.WorkerCount = 0 },
			errMsg: "worker_count",
		},
		{
			name:   "lease ttl below minimum",
			mutate: func(q *QueueConfig) { q.LeaseTTL = 10 * time.Second },
			errMsg: "lease_ttl",
		},
		{
			name: "renew interval above ttl third",
			mutate: func(q *QueueConfig) {
				q.LeaseTTL = 30 * time.Second
				q.LeaseRenewInterval = 11 * time.Second
			},
			errMsg: "lease_renew_interval",
		},
		{
			name:   "renew interval zero",
			mutate: func(q *QueueConfig) { q.LeaseRenewInterval = 0 },
			errMsg: "lease_renew_interval",
		},
		{
			name:   "poll interval zero",
			mutate: func(q *QueueConfig) { q.PollInterval = 0 },
			errMsg: "poll_interval",
		},
		{
			name: "jitter at least poll interval",
			mutate: func(q *QueueConfig) {
				q.PollInterval = time.Second
				q.PollIntervalJitter = time.Second
			},
			errMsg: "poll_interval_jitter",
		},
		{
			name:   "event timeout zero",
			mutate: func(q *QueueConfig) { q.EventTimeout = 0 },
			errMsg: "event_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg.Queue)

			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			}
		})
	}
}

func TestValidateRAG(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RAGConfig)
		errMsg string
	}{
		{
			name:   "unknown chunk strategy",
			mutate: func(r *RAGConfig) { r.ChunkStrategy = "paragraphs" },
			errMsg: "chunk_strategy",
		},
		{
			name:   "chunk size zero",
			mutate: func(r *RAGConfig) { r.ChunkSize = 0 },
			errMsg: "chunk_size",
		},
		{
			name: "overlap at least chunk size",
			mutate: func(r *RAGConfig) {
				r.ChunkSize = 100
				r.ChunkOverlap = 100
			},
			errMsg: "chunk_overlap",
		},
		{
			name:   "unknown search type",
			mutate: func(r *RAGConfig) { r.SearchType = "keyword" },
			errMsg: "search_type",
		},
		{
			name:   "semantic weight out of range",
			mutate: func(r *RAGConfig) { r.SemanticWeight = 1.5 },
			errMsg: "semantic_weight",
		},
		{
			name:   "negative min score",
			mutate: func(r *RAGConfig) { r.MinScore = -0.1 },
			errMsg: "min_score",
		},
		{
			name: "auto merge below similarity threshold",
			mutate: func(r *RAGConfig) {
				r.SimilarityThreshold = 0.9
				r.AutoMergeThreshold = 0.8
			},
			errMsg: "auto_merge_threshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg.RAG)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidateAssets(t *testing.T) {
	cfg := validConfig()
	cfg.Assets.Backend = "gcs"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assets.backend")

	cfg = validConfig()
	cfg.Assets.Backend = AssetBackendS3
	cfg.Assets.Bucket = ""
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assets.bucket")

	cfg.Assets.Bucket = "weft-assets"
	assert.NoError(t, cfg.Validate())
}

func TestValidateAgentsRules(t *testing.T) {
	tests := []struct {
		name   string
		agents []*AgentConfig
		errMsg string
	}{
		{
			name:   "no agents is valid",
			agents: nil,
		},
		{
			name:   "missing name",
			agents: []*AgentConfig{{Model: "m"}},
			errMsg: "name is required",
		},
		{
			name: "duplicate name case-insensitive",
			agents: []*AgentConfig{
				{Name: "Helper"},
				{Name: "helper"},
			},
			errMsg: "duplicate name",
		},
		{
			name: "invalid rag mode",
			agents: []*AgentConfig{
				{Name: "Helper", RAG: &AgentRAGConfig{Mode: "always"}},
			},
			errMsg: "invalid rag mode",
		},
		{
			name: "rag mode auto is valid",
			agents: []*AgentConfig{
				{Name: "Helper", RAG: &AgentRAGConfig{Mode: RAGModeAuto}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.AgentRegistry = NewAgentRegistry(tt.agents)

			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			}
		})
	}
}
