package config

import "time"

// Chunking strategy names.
const (
	ChunkStrategySentences = "sentences"
	ChunkStrategyFixed     = "fixed"
)

// Search type names.
const (
	SearchTypeSemantic = "semantic"
	SearchTypeHybrid   = "hybrid"
)

// RAGConfig holds ingest, retrieval, and entity-extraction settings.
type RAGConfig struct {
	// ChunkStrategy selects the chunker: "sentences" or "fixed".
	ChunkStrategy string `yaml:"chunk_strategy"`
	// ChunkSize is the target chunk length in characters.
	ChunkSize int `yaml:"chunk_size"`
	// ChunkOverlap is the character overlap between consecutive chunks.
	ChunkOverlap int `yaml:"chunk_overlap"`
	// EmbedBatchSize caps how many chunks go to the embedder in one call.
	EmbedBatchSize int `yaml:"embed_batch_size"`
	// EmbedConcurrency is how many embedding batches run in flight at once.
	EmbedConcurrency int `yaml:"embed_concurrency"`

	// TopK is the default number of chunks returned by retrieval.
	TopK int `yaml:"top_k"`
	// SearchType is the default retrieval mode: "semantic" or "hybrid".
	SearchType string `yaml:"search_type"`
	// SemanticWeight and KeywordWeight blend hybrid scores; they must each
	// lie in [0, 1].
	SemanticWeight float64 `yaml:"semantic_weight"`
	KeywordWeight  float64 `yaml:"keyword_weight"`
	// MinScore drops retrieval results scoring below it.
	MinScore float64 `yaml:"min_score"`

	// SimilarityThreshold is the minimum cosine similarity for an extracted
	// entity to be considered a candidate duplicate of an existing node.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	// AutoMergeThreshold merges without an LLM confirmation above it.
	AutoMergeThreshold float64 `yaml:"auto_merge_threshold"`

	// FetchTimeout bounds URL fetches during ingest.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	// MaxSourceBytes caps the size of any single ingest source.
	MaxSourceBytes int64 `yaml:"max_source_bytes"`
}

// DefaultRAGConfig returns the built-in RAG defaults.
func DefaultRAGConfig() *RAGConfig {
	return &RAGConfig{
		ChunkStrategy:       ChunkStrategySentences,
		ChunkSize:           1200,
		ChunkOverlap:        200,
		EmbedBatchSize:      64,
		EmbedConcurrency:    4,
		TopK:                5,
		SearchType:          SearchTypeSemantic,
		SemanticWeight:      0.7,
		KeywordWeight:       0.3,
		SimilarityThreshold: 0.95,
		AutoMergeThreshold:  0.99,
		FetchTimeout:        30 * time.Second,
		MaxSourceBytes:      10 << 20,
	}
}
