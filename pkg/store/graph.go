package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/weftlabs/weft/pkg/models"
)

const nodeColumns = `id, namespace, type, name, content, embedding::text, data, source_type, source_id, created_at, updated_at`

// CreateNode inserts a knowledge node. A zero ID is assigned a fresh ULID.
func (s *Store) CreateNode(ctx context.Context, node *models.KnowledgeNode) (*models.KnowledgeNode, error) {
	if node.ID == "" {
		node.ID = models.NewID()
	}
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		return insertNode(ctx, tx, node)
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// CreateEdge inserts an edge between two nodes. Re-inserting an edge with the
// same (source, target, type) is a no-op.
func (s *Store) CreateEdge(ctx context.Context, edge *models.KnowledgeEdge) (*models.KnowledgeEdge, error) {
	if edge.ID == "" {
		edge.ID = models.NewID()
	}
	if edge.Weight == 0 {
		edge.Weight = 1.0
	}
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		return insertEdge(ctx, tx, edge)
	})
	if err != nil {
		return nil, err
	}
	return edge, nil
}

// GetNode returns a node by id, or nil when it does not exist.
func (s *Store) GetNode(ctx context.Context, id string) (*models.KnowledgeNode, error) {
	var node *models.KnowledgeNode
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = $1`, id)
		n, err := scanNode(row)
		if err == pgx.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("store: get node: %w", err)
		}
		node = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// FindNodeBySource returns the node dual-written for a source row, such as
// the message node behind a message id. Nil when absent.
func (s *Store) FindNodeBySource(ctx context.Context, sourceType, sourceID string) (*models.KnowledgeNode, error) {
	var node *models.KnowledgeNode
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		n, err := findNodeBySource(ctx, tx, sourceType, sourceID)
		if err != nil {
			return err
		}
		node = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// SearchNodesParams selects nodes by embedding similarity.
type SearchNodesParams struct {
	Embedding     []float32
	Namespaces    []string
	Types         []string // nil = any type
	Limit         int
	MinSimilarity float64
}

// SearchNodes performs cosine similarity search over node embeddings,
// restricted to the given namespaces and optionally to a type set. Results
// come back ordered by descending similarity.
func (s *Store) SearchNodes(ctx context.Context, params SearchNodesParams) ([]models.ScoredNode, error) {
	if params.Limit <= 0 {
		params.Limit = 10
	}
	emb := encodeVector(params.Embedding)
	if emb == nil {
		return nil, nil
	}

	var results []models.ScoredNode
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var types *[]string
		if len(params.Types) > 0 {
			types = &params.Types
		}
		rows, err := tx.Query(ctx,
			`SELECT `+nodeColumns+`,
			        1 - (embedding <=> $1::vector) AS similarity
			   FROM nodes
			  WHERE embedding IS NOT NULL
			    AND namespace = ANY($2)
			    AND ($3::text[] IS NULL OR type = ANY($3))
			    AND 1 - (embedding <=> $1::vector) >= $4
			  ORDER BY embedding <=> $1::vector
			  LIMIT $5`,
			*emb, params.Namespaces, types, params.MinSimilarity, params.Limit)
		if err != nil {
			return fmt.Errorf("store: search nodes: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			n, sim, err := scanScoredNode(rows)
			if err != nil {
				return fmt.Errorf("store: scan scored node: %w", err)
			}
			results = append(results, models.ScoredNode{Node: n, Similarity: sim})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// MergeEntityAlias merges a newly extracted entity into an existing node:
// the alias is appended to data.aliases when not already present and
// data.mentionCount is incremented.
func (s *Store) MergeEntityAlias(ctx context.Context, nodeID, alias string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE nodes
			    SET data = jsonb_set(
			            jsonb_set(
			                data,
			                '{aliases}',
			                CASE WHEN coalesce(data->'aliases', '[]'::jsonb) ? $2
			                     THEN coalesce(data->'aliases', '[]'::jsonb)
			                     ELSE coalesce(data->'aliases', '[]'::jsonb) || to_jsonb($2::text)
			                END,
			                true),
			            '{mentionCount}',
			            to_jsonb(coalesce((data->>'mentionCount')::int, 0) + 1),
			            true),
			        updated_at = now()
			  WHERE id = $1`,
			nodeID, alias)
		if err != nil {
			return fmt.Errorf("store: merge entity alias: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("store: merge entity alias: node %s not found", nodeID)
		}
		return nil
	})
}

func insertNode(ctx context.Context, tx pgx.Tx, node *models.KnowledgeNode) error {
	dataJSON, err := json.Marshal(orEmptyMeta(node.Data))
	if err != nil {
		return fmt.Errorf("store: marshal node data: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO nodes (id, namespace, type, name, content, embedding, data, source_type, source_id)
		 VALUES ($1, $2, $3, $4, $5, $6::vector, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		node.ID, node.Namespace, node.Type, node.Name, nilIfEmpty(node.Content),
		encodeVector(node.Embedding), dataJSON, nilIfEmpty(node.SourceType), nilIfEmpty(node.SourceID))
	if err != nil {
		return fmt.Errorf("store: insert node: %w", err)
	}
	return nil
}

func insertEdge(ctx context.Context, tx pgx.Tx, edge *models.KnowledgeEdge) error {
	dataJSON, err := json.Marshal(orEmptyMeta(edge.Data))
	if err != nil {
		return fmt.Errorf("store: marshal edge data: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO edges (id, source_node_id, target_node_id, type, data, weight)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (source_node_id, target_node_id, type) DO NOTHING`,
		edge.ID, edge.SourceNodeID, edge.TargetNodeID, edge.Type, dataJSON, edge.Weight)
	if err != nil {
		return fmt.Errorf("store: insert edge: %w", err)
	}
	return nil
}

// ListEdges returns the outgoing edges of a node, optionally filtered by type.
func (s *Store) ListEdges(ctx context.Context, sourceNodeID, edgeType string) ([]*models.KnowledgeEdge, error) {
	var edges []*models.KnowledgeEdge
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		sql := `SELECT id, source_node_id, target_node_id, type, data, weight, created_at
		          FROM edges WHERE source_node_id = $1`
		args := []any{sourceNodeID}
		if edgeType != "" {
			sql += ` AND type = $2`
			args = append(args, edgeType)
		}
		sql += ` ORDER BY created_at ASC`
		rows, err := tx.Query(ctx, sql, args...)
		if err != nil {
			return fmt.Errorf("store: list edges: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var e models.KnowledgeEdge
			var dataJSON []byte
			if err := rows.Scan(&e.ID, &e.SourceNodeID, &e.TargetNodeID, &e.Type, &dataJSON, &e.Weight, &e.CreatedAt); err != nil {
				return fmt.Errorf("store: scan edge: %w", err)
			}
			if dataJSON != nil {
				_ = json.Unmarshal(dataJSON, &e.Data)
			}
			edges = append(edges, &e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return edges, nil
}

func findNodeBySource(ctx context.Context, tx pgx.Tx, sourceType, sourceID string) (*models.KnowledgeNode, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE source_type = $1 AND source_id = $2 LIMIT 1`,
		sourceType, sourceID)
	n, err := scanNode(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find node by source: %w", err)
	}
	return n, nil
}

func scanNode(row pgx.Row) (*models.KnowledgeNode, error) {
	var n models.KnowledgeNode
	var content, embText, sourceType, sourceID *string
	var dataJSON []byte
	err := row.Scan(&n.ID, &n.Namespace, &n.Type, &n.Name, &content, &embText,
		&dataJSON, &sourceType, &sourceID, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	n.Content = derefStr(content)
	n.SourceType = derefStr(sourceType)
	n.SourceID = derefStr(sourceID)
	n.Embedding = decodeVector(embText)
	if dataJSON != nil {
		_ = json.Unmarshal(dataJSON, &n.Data)
	}
	return &n, nil
}

func scanScoredNode(rows pgx.Rows) (*models.KnowledgeNode, float64, error) {
	var n models.KnowledgeNode
	var content, embText, sourceType, sourceID *string
	var dataJSON []byte
	var similarity float64
	err := rows.Scan(&n.ID, &n.Namespace, &n.Type, &n.Name, &content, &embText,
		&dataJSON, &sourceType, &sourceID, &n.CreatedAt, &n.UpdatedAt, &similarity)
	if err != nil {
		return nil, 0, err
	}
	n.Content = derefStr(content)
	n.SourceType = derefStr(sourceType)
	n.SourceID = derefStr(sourceID)
	n.Embedding = decodeVector(embText)
	if dataJSON != nil {
		_ = json.Unmarshal(dataJSON, &n.Data)
	}
	return &n, similarity, nil
}
