package config

import (
	"fmt"
	"time"
)

// Validate checks the resolved configuration for out-of-range values.
func (c *Config) Validate() error {
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateRAG(); err != nil {
		return err
	}
	if err := c.validateAssets(); err != nil {
		return err
	}
	return validateAgents(c.AgentRegistry.All())
}

func (c *Config) validateQueue() error {
	q := c.Queue
	if q.WorkerCount < 1 {
		return fmt.Errorf("queue.worker_count must be at least 1, got %d", q.WorkerCount)
	}
	if q.LeaseTTL < 30*time.Second {
		return fmt.Errorf("queue.lease_ttl must be at least 30s, got %s", q.LeaseTTL)
	}
	if q.LeaseRenewInterval <= 0 || q.LeaseRenewInterval > q.LeaseTTL/3 {
		return fmt.Errorf("queue.lease_renew_interval must be in (0, lease_ttl/3], got %s", q.LeaseRenewInterval)
	}
	if q.PollInterval <= 0 {
		return fmt.Errorf("queue.poll_interval must be positive, got %s", q.PollInterval)
	}
	if q.PollIntervalJitter < 0 || q.PollIntervalJitter >= q.PollInterval {
		return fmt.Errorf("queue.poll_interval_jitter must be in [0, poll_interval), got %s", q.PollIntervalJitter)
	}
	if q.EventTimeout <= 0 {
		return fmt.Errorf("queue.event_timeout must be positive, got %s", q.EventTimeout)
	}
	return nil
}

func (c *Config) validateRAG() error {
	r := c.RAG
	if r.ChunkStrategy != ChunkStrategySentences && r.ChunkStrategy != ChunkStrategyFixed {
		return fmt.Errorf("rag.chunk_strategy must be %q or %q, got %q", ChunkStrategySentences, ChunkStrategyFixed, r.ChunkStrategy)
	}
	if r.ChunkSize < 1 {
		return fmt.Errorf("rag.chunk_size must be positive, got %d", r.ChunkSize)
	}
	if r.ChunkOverlap < 0 || r.ChunkOverlap >= r.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be in [0, chunk_size), got %d", r.ChunkOverlap)
	}
	if r.SearchType != SearchTypeSemantic && r.SearchType != SearchTypeHybrid {
		return fmt.Errorf("rag.search_type must be %q or %q, got %q", SearchTypeSemantic, SearchTypeHybrid, r.SearchType)
	}
	for name, w := range map[string]float64{
		"rag.semantic_weight":      r.SemanticWeight,
		"rag.keyword_weight":       r.KeywordWeight,
		"rag.min_score":            r.MinScore,
		"rag.similarity_threshold": r.SimilarityThreshold,
		"rag.auto_merge_threshold": r.AutoMergeThreshold,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%s must be in [0, 1], got %v", name, w)
		}
	}
	if r.AutoMergeThreshold < r.SimilarityThreshold {
		return fmt.Errorf("rag.auto_merge_threshold (%v) must be >= rag.similarity_threshold (%v)", r.AutoMergeThreshold, r.SimilarityThreshold)
	}
	return nil
}

func (c *Config) validateAssets() error {
	a := c.Assets
	switch a.Backend {
	case AssetBackendFS, AssetBackendMemory:
	case AssetBackendS3:
		if a.Bucket == "" {
			return fmt.Errorf("assets.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("assets.backend must be one of fs, s3, memory; got %q", a.Backend)
	}
	return nil
}
