package store

import (
	"context"

	"github.com/weftlabs/weft/pkg/models"
)

// Scoped is a namespace-bound view over the knowledge collections. Tools
// receive a Scoped instead of the full Store so they can never read or write
// outside the run's effective namespace.
type Scoped struct {
	s  *Store
	ns string
}

// WithNamespace returns a view of the knowledge collections pinned to ns.
func (s *Store) WithNamespace(ns string) *Scoped {
	return &Scoped{s: s, ns: ns}
}

// Namespace returns the namespace this view is pinned to.
func (c *Scoped) Namespace() string {
	return c.ns
}

// CreateNode inserts a node, forcing the view's namespace.
func (c *Scoped) CreateNode(ctx context.Context, node *models.KnowledgeNode) (*models.KnowledgeNode, error) {
	node.Namespace = c.ns
	return c.s.CreateNode(ctx, node)
}

// CreateEdge inserts an edge between two nodes.
func (c *Scoped) CreateEdge(ctx context.Context, edge *models.KnowledgeEdge) (*models.KnowledgeEdge, error) {
	return c.s.CreateEdge(ctx, edge)
}

// SearchNodes searches node embeddings within the view's namespace.
func (c *Scoped) SearchNodes(ctx context.Context, embedding []float32, types []string, limit int, minSimilarity float64) ([]models.ScoredNode, error) {
	return c.s.SearchNodes(ctx, SearchNodesParams{
		Embedding:     embedding,
		Namespaces:    []string{c.ns},
		Types:         types,
		Limit:         limit,
		MinSimilarity: minSimilarity,
	})
}

// SearchChunks searches document chunks within the view's namespace.
func (c *Scoped) SearchChunks(ctx context.Context, embedding []float32, limit int, threshold float64) ([]models.ScoredChunk, error) {
	return c.s.SearchChunks(ctx, SearchChunksParams{
		Namespaces: []string{c.ns},
		Embedding:  embedding,
		Limit:      limit,
		Threshold:  threshold,
	})
}

// SearchChunksKeyword runs a keyword search within the view's namespace.
func (c *Scoped) SearchChunksKeyword(ctx context.Context, query string, limit int) ([]models.ScoredChunk, error) {
	return c.s.SearchChunksKeyword(ctx, []string{c.ns}, query, limit)
}

// FindDocumentByHash looks up a document within the view's namespace.
func (c *Scoped) FindDocumentByHash(ctx context.Context, contentHash string) (*models.Document, error) {
	return c.s.FindDocumentByHash(ctx, c.ns, contentHash)
}
