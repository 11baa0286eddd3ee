package models

import "time"

// Node type vocabulary. The set is open: callers may store any type string,
// these are the ones the runtime itself reads and writes.
const (
	NodeTypeMessage = "message"
	NodeTypeChunk   = "chunk"
	NodeTypeEntity  = "entity"
	NodeTypeUser    = "user"
)

// Edge type vocabulary. Open set, same convention as node types.
const (
	EdgeRepliedBy = "REPLIED_BY"
	EdgeNextChunk = "NEXT_CHUNK"
	EdgeMentions  = "MENTIONS"
	EdgeRelatedTo = "RELATED_TO"
	EdgeSameAs    = "SAME_AS"
)

// KnowledgeNode is a generalized graph element: a chunk, message, entity,
// or any caller-defined type. Nodes are namespace-scoped and independent of
// threads; a node survives thread deletion if its namespace outlives it.
type KnowledgeNode struct {
	ID         string    `json:"id"`
	Namespace  string    `json:"namespace"`
	Type       string    `json:"type"`
	Name       string    `json:"name,omitempty"`
	Content    string    `json:"content,omitempty"`
	Embedding  []float32 `json:"embedding,omitempty"`
	Data       Meta      `json:"data,omitempty"`
	SourceType string    `json:"source_type,omitempty"`
	SourceID   string    `json:"source_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// KnowledgeEdge connects two nodes. Edges cascade-delete with either
// endpoint node.
type KnowledgeEdge struct {
	ID           string    `json:"id"`
	SourceNodeID string    `json:"source_node_id"`
	TargetNodeID string    `json:"target_node_id"`
	Type         string    `json:"type"`
	Data         Meta      `json:"data,omitempty"`
	Weight       float64   `json:"weight"`
	CreatedAt    time.Time `json:"created_at"`
}

// ScoredNode pairs a node with its cosine similarity to a query embedding.
type ScoredNode struct {
	Node       *KnowledgeNode `json:"node"`
	Similarity float64        `json:"similarity"`
}
