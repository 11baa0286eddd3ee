package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/weftlabs/weft/pkg/models"
)

const documentColumns = `id, namespace, source_type, source_uri, content_hash, status, chunk_count, metadata, created_at, updated_at`

// FindDocumentByHash looks up a document by its ingest idempotency key.
// Nil when no document with that content hash exists in the namespace.
func (s *Store) FindDocumentByHash(ctx context.Context, ns, contentHash string) (*models.Document, error) {
	var doc *models.Document
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+documentColumns+` FROM documents WHERE namespace = $1 AND content_hash = $2`,
			ns, contentHash)
		d, err := scanDocument(row)
		if err == pgx.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("store: find document by hash: %w", err)
		}
		doc = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// CreateDocument inserts a new document row. When a document with the same
// (namespace, content hash) already exists it returns ErrDocumentExists so
// the ingest pipeline can fall back to the existing one.
func (s *Store) CreateDocument(ctx context.Context, doc *models.Document) (*models.Document, error) {
	if doc.ID == "" {
		doc.ID = models.NewID()
	}
	if doc.Status == "" {
		doc.Status = models.DocumentStatusPending
	}
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		metaJSON, err := json.Marshal(orEmptyMeta(doc.Metadata))
		if err != nil {
			return fmt.Errorf("store: marshal document metadata: %w", err)
		}
		row := tx.QueryRow(ctx,
			`INSERT INTO documents (id, namespace, source_type, source_uri, content_hash, status, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING `+documentColumns,
			doc.ID, doc.Namespace, doc.SourceType, nilIfEmpty(doc.SourceURI),
			doc.ContentHash, doc.Status, metaJSON)
		d, err := scanDocument(row)
		if err != nil {
			if uniqueViolation(err) {
				return ErrDocumentExists
			}
			return fmt.Errorf("store: insert document: %w", err)
		}
		*doc = *d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// GetDocument returns a document by id, or nil when it does not exist.
func (s *Store) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc *models.Document
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
		d, err := scanDocument(row)
		if err == pgx.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("store: get document: %w", err)
		}
		doc = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// SetDocumentStatus updates a document's ingest status.
func (s *Store) SetDocumentStatus(ctx context.Context, id string, status models.DocumentStatus) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE documents SET status = $2, updated_at = now() WHERE id = $1`, id, status)
		if err != nil {
			return fmt.Errorf("store: set document status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("store: set document status: document %s not found", id)
		}
		return nil
	})
}

// ResetDocument clears a document's chunks and their mirrored graph nodes
// (edges cascade with the nodes) and flips the document back to ingesting.
// Used when re-ingesting a document whose previous ingest failed partway.
func (s *Store) ResetDocument(ctx context.Context, documentID string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM nodes WHERE type = 'chunk' AND data->>'documentId' = $1`, documentID); err != nil {
			return fmt.Errorf("store: reset document nodes: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
			return fmt.Errorf("store: reset document chunks: %w", err)
		}
		tag, err := tx.Exec(ctx,
			`UPDATE documents SET status = $2, chunk_count = 0, updated_at = now() WHERE id = $1`,
			documentID, models.DocumentStatusIngesting)
		if err != nil {
			return fmt.Errorf("store: reset document: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("store: reset document: document %s not found", documentID)
		}
		return nil
	})
}

// InsertDocumentChunks persists all chunks of a document in one transaction:
// the document_chunks rows, one graph node of type "chunk" per chunk carrying
// the same embedding, NEXT_CHUNK edges linking consecutive chunks, and the
// document flipped to ready with its final chunk count.
func (s *Store) InsertDocumentChunks(ctx context.Context, doc *models.Document, chunks []*models.DocumentChunk) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var prevNodeID string
		for i, chunk := range chunks {
			if chunk.ID == "" {
				chunk.ID = models.NewID()
			}
			chunk.DocumentID = doc.ID
			chunk.ChunkIndex = i

			_, err := tx.Exec(ctx,
				`INSERT INTO document_chunks (id, document_id, chunk_index, content, embedding, token_count)
				 VALUES ($1, $2, $3, $4, $5::vector, $6)
				 ON CONFLICT (document_id, chunk_index) DO NOTHING`,
				chunk.ID, chunk.DocumentID, chunk.ChunkIndex, chunk.Content,
				encodeVector(chunk.Embedding), chunk.TokenCount)
			if err != nil {
				return fmt.Errorf("store: insert chunk: %w", err)
			}

			node := &models.KnowledgeNode{
				ID:        models.NewID(),
				Namespace: doc.Namespace,
				Type:      models.NodeTypeChunk,
				Name:      fmt.Sprintf("%s#%d", doc.ID, i),
				Content:   chunk.Content,
				Embedding: chunk.Embedding,
				Data: models.Meta{
					"documentId": doc.ID,
					"chunkIndex": i,
					"tokenCount": chunk.TokenCount,
				},
				SourceType: "chunk",
				SourceID:   chunk.ID,
			}
			if err := insertNode(ctx, tx, node); err != nil {
				return err
			}

			if prevNodeID != "" {
				edge := &models.KnowledgeEdge{
					ID:           models.NewID(),
					SourceNodeID: prevNodeID,
					TargetNodeID: node.ID,
					Type:         models.EdgeNextChunk,
					Weight:       1.0,
				}
				if err := insertEdge(ctx, tx, edge); err != nil {
					return err
				}
			}
			prevNodeID = node.ID
		}

		tag, err := tx.Exec(ctx,
			`UPDATE documents SET status = $2, chunk_count = $3, updated_at = now() WHERE id = $1`,
			doc.ID, models.DocumentStatusReady, len(chunks))
		if err != nil {
			return fmt.Errorf("store: finalize document: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("store: finalize document: document %s not found", doc.ID)
		}
		doc.Status = models.DocumentStatusReady
		doc.ChunkCount = len(chunks)
		return nil
	})
}

// ListDocumentChunks returns a document's chunks in chunk order.
func (s *Store) ListDocumentChunks(ctx context.Context, documentID string) ([]*models.DocumentChunk, error) {
	var chunks []*models.DocumentChunk
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT id, document_id, chunk_index, content, embedding::text, token_count, created_at
			   FROM document_chunks WHERE document_id = $1 ORDER BY chunk_index ASC`,
			documentID)
		if err != nil {
			return fmt.Errorf("store: list chunks: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var c models.DocumentChunk
			var embText *string
			if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &embText, &c.TokenCount, &c.CreatedAt); err != nil {
				return fmt.Errorf("store: scan chunk: %w", err)
			}
			c.Embedding = decodeVector(embText)
			chunks = append(chunks, &c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// SearchChunksParams selects document chunks by embedding similarity.
type SearchChunksParams struct {
	Namespaces []string
	Embedding  []float32
	Limit      int
	Threshold  float64
}

// SearchChunks performs cosine similarity search over chunks of ready
// documents in the given namespaces.
func (s *Store) SearchChunks(ctx context.Context, params SearchChunksParams) ([]models.ScoredChunk, error) {
	if params.Limit <= 0 {
		params.Limit = 10
	}
	emb := encodeVector(params.Embedding)
	if emb == nil {
		return nil, nil
	}

	var results []models.ScoredChunk
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT c.id, c.document_id, c.chunk_index, c.content, c.token_count, c.created_at,
			        1 - (c.embedding <=> $1::vector) AS score
			   FROM document_chunks c
			   JOIN documents d ON d.id = c.document_id
			  WHERE c.embedding IS NOT NULL
			    AND d.namespace = ANY($2)
			    AND d.status = 'ready'
			    AND 1 - (c.embedding <=> $1::vector) >= $3
			  ORDER BY c.embedding <=> $1::vector
			  LIMIT $4`,
			*emb, params.Namespaces, params.Threshold, params.Limit)
		if err != nil {
			return fmt.Errorf("store: search chunks: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var c models.DocumentChunk
			var score float64
			if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.TokenCount, &c.CreatedAt, &score); err != nil {
				return fmt.Errorf("store: scan scored chunk: %w", err)
			}
			results = append(results, models.ScoredChunk{Chunk: &c, Score: score})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// SearchChunksKeyword performs full-text keyword search over chunks of ready
// documents using tsvector ranking. Scores are ts_rank values, normalized by
// the caller when combined with semantic scores.
func (s *Store) SearchChunksKeyword(ctx context.Context, namespaces []string, query string, limit int) ([]models.ScoredChunk, error) {
	if limit <= 0 {
		limit = 10
	}
	var results []models.ScoredChunk
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT c.id, c.document_id, c.chunk_index, c.content, c.token_count, c.created_at,
			        ts_rank(to_tsvector('english', c.content), plainto_tsquery('english', $1)) AS score
			   FROM document_chunks c
			   JOIN documents d ON d.id = c.document_id
			  WHERE d.namespace = ANY($2)
			    AND d.status = 'ready'
			    AND to_tsvector('english', c.content) @@ plainto_tsquery('english', $1)
			  ORDER BY score DESC
			  LIMIT $3`,
			query, namespaces, limit)
		if err != nil {
			return fmt.Errorf("store: keyword search chunks: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var c models.DocumentChunk
			var score float64
			if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.TokenCount, &c.CreatedAt, &score); err != nil {
				return fmt.Errorf("store: scan scored chunk: %w", err)
			}
			results = append(results, models.ScoredChunk{Chunk: &c, Score: score})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	var d models.Document
	var sourceURI *string
	var metaJSON []byte
	err := row.Scan(&d.ID, &d.Namespace, &d.SourceType, &sourceURI, &d.ContentHash,
		&d.Status, &d.ChunkCount, &metaJSON, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.SourceURI = derefStr(sourceURI)
	if metaJSON != nil {
		_ = json.Unmarshal(metaJSON, &d.Metadata)
	}
	return &d, nil
}
