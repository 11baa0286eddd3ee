package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/weftlabs/weft/pkg/config"
	"github.com/weftlabs/weft/pkg/llm"
	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/store"
)

// SearchOptions narrows a retrieval. Zero values fall back to config.
type SearchOptions struct {
	Namespaces []string
	TopK       int
	// SearchType is "semantic" or "hybrid".
	SearchType string
	MinScore   float64
}

// Retriever answers queries over ingested chunks.
type Retriever struct {
	store    *store.Store
	embedder llm.EmbeddingProvider
	cfg      *config.RAGConfig
}

// NewRetriever builds a retriever on the given store and embedder.
func NewRetriever(st *store.Store, embedder llm.EmbeddingProvider, cfg *config.RAGConfig) *Retriever {
	return &Retriever{store: st, embedder: embedder, cfg: cfg}
}

// Search embeds the query and returns the best chunks across the given
// namespaces. Hybrid mode blends cosine similarity with keyword rank
// using the configured weights.
func (r *Retriever) Search(ctx context.Context, query string, opts SearchOptions) ([]models.ScoredChunk, error) {
	if len(opts.Namespaces) == 0 {
		return nil, nil
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = r.cfg.TopK
	}
	searchType := opts.SearchType
	if searchType == "" {
		searchType = r.cfg.SearchType
	}
	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = r.cfg.MinScore
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, nil
	}

	// Over-fetch for hybrid so the keyword blend has candidates to promote.
	fetchLimit := topK
	if searchType == "hybrid" {
		fetchLimit = topK * 3
	}

	semantic, err := r.store.SearchChunks(ctx, store.SearchChunksParams{
		Namespaces: opts.Namespaces,
		Embedding:  embeddings[0],
		Limit:      fetchLimit,
		Threshold:  0,
	})
	if err != nil {
		return nil, err
	}

	var results []models.ScoredChunk
	if searchType == "hybrid" {
		keyword, err := r.store.SearchChunksKeyword(ctx, opts.Namespaces, query, fetchLimit)
		if err != nil {
			return nil, err
		}
		results = blendScores(semantic, keyword, r.cfg.SemanticWeight, r.cfg.KeywordWeight)
	} else {
		results = semantic
	}

	filtered := results[:0]
	for _, sc := range results {
		if sc.Score >= minScore {
			filtered = append(filtered, sc)
		}
	}
	if len(filtered) > topK {
		filtered = filtered[:topK]
	}
	return filtered, nil
}

// blendScores combines semantic and keyword result sets into one ranking:
// score = ws*semantic + wk*keyword, with keyword ts_rank values normalized
// to [0,1] by the best rank in the set. Chunks present in only one set
// contribute a zero for the missing component.
func blendScores(semantic, keyword []models.ScoredChunk, ws, wk float64) []models.ScoredChunk {
	var maxKeyword float64
	for _, sc := range keyword {
		if sc.Score > maxKeyword {
			maxKeyword = sc.Score
		}
	}

	type blended struct {
		chunk    *models.DocumentChunk
		semantic float64
		keyword  float64
	}
	byID := make(map[string]*blended, len(semantic)+len(keyword))
	for _, sc := range semantic {
		byID[sc.Chunk.ID] = &blended{chunk: sc.Chunk, semantic: sc.Score}
	}
	for _, sc := range keyword {
		norm := 0.0
		if maxKeyword > 0 {
			norm = sc.Score / maxKeyword
		}
		if b, ok := byID[sc.Chunk.ID]; ok {
			b.keyword = norm
		} else {
			byID[sc.Chunk.ID] = &blended{chunk: sc.Chunk, keyword: norm}
		}
	}

	results := make([]models.ScoredChunk, 0, len(byID))
	for _, b := range byID {
		results = append(results, models.ScoredChunk{
			Chunk: b.chunk,
			Score: ws*b.semantic + wk*b.keyword,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	return results
}

// FormatContext renders retrieved chunks as a knowledge preamble for a
// system prompt. Returns "" when there is nothing to add.
func FormatContext(results []models.ScoredChunk) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant knowledge:\n")
	for i, sc := range results {
		fmt.Fprintf(&b, "\n[%d] %s\n", i+1, strings.TrimSpace(sc.Chunk.Content))
	}
	return b.String()
}
