package models

import "time"

// DocumentStatus represents the ingest lifecycle of a document.
type DocumentStatus string

// Document status constants.
const (
	DocumentStatusPending   DocumentStatus = "pending"
	DocumentStatusIngesting DocumentStatus = "ingesting"
	DocumentStatusReady     DocumentStatus = "ready"
	DocumentStatusFailed    DocumentStatus = "failed"
)

// Document is an ingested knowledge source. ContentHash is the idempotency
// key: ingesting identical content into the same namespace is a no-op
// beyond returning the existing document.
type Document struct {
	ID          string         `json:"id"`
	Namespace   string         `json:"namespace"`
	SourceType  string         `json:"source_type"`
	SourceURI   string         `json:"source_uri,omitempty"`
	ContentHash string         `json:"content_hash"`
	Status      DocumentStatus `json:"status"`
	ChunkCount  int            `json:"chunk_count,omitempty"`
	Metadata    Meta           `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// DocumentChunk is one embedded slice of a document. (DocumentID, ChunkIndex)
// is unique; each chunk is mirrored as a graph node of type "chunk" with the
// same embedding, and consecutive chunks are linked by NEXT_CHUNK edges.
type DocumentChunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"embedding,omitempty"`
	TokenCount int       `json:"token_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// ScoredChunk pairs a chunk with its retrieval score in [0, 1].
type ScoredChunk struct {
	Chunk *DocumentChunk `json:"chunk"`
	Score float64        `json:"score"`
}
