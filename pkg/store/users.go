package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/weftlabs/weft/pkg/models"
)

// UpsertUserNode records a user identity in both shapes: the users row keyed
// by external id, and a graph node of type "user" in the given namespace.
// Repeated upserts merge metadata and keep the newest non-empty name.
func (s *Store) UpsertUserNode(ctx context.Context, externalID, ns, name string, fields models.Meta) (*models.User, *models.KnowledgeNode, error) {
	var user *models.User
	var node *models.KnowledgeNode

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		metaJSON, err := json.Marshal(orEmptyMeta(fields))
		if err != nil {
			return fmt.Errorf("store: marshal user metadata: %w", err)
		}

		var u models.User
		var userMetaJSON []byte
		err = tx.QueryRow(ctx,
			`INSERT INTO users (id, external_id, name, metadata)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (external_id) DO UPDATE SET
			   name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE users.name END,
			   metadata = users.metadata || EXCLUDED.metadata,
			   updated_at = now()
			 RETURNING id, external_id, name, metadata, created_at, updated_at`,
			models.NewID(), externalID, name, metaJSON).
			Scan(&u.ID, &u.ExternalID, &u.Name, &userMetaJSON, &u.CreatedAt, &u.UpdatedAt)
		if err != nil {
			return fmt.Errorf("store: upsert user: %w", err)
		}
		if userMetaJSON != nil {
			_ = json.Unmarshal(userMetaJSON, &u.Metadata)
		}
		user = &u

		existing, err := findNodeBySource(ctx, tx, "user", externalID)
		if err != nil {
			return err
		}
		if existing != nil {
			_, err = tx.Exec(ctx,
				`UPDATE nodes
				    SET name = CASE WHEN $2 <> '' THEN $2 ELSE name END,
				        data = data || $3,
				        updated_at = now()
				  WHERE id = $1`,
				existing.ID, name, metaJSON)
			if err != nil {
				return fmt.Errorf("store: update user node: %w", err)
			}
			node = existing
			return nil
		}

		n := &models.KnowledgeNode{
			ID:         models.NewID(),
			Namespace:  ns,
			Type:       models.NodeTypeUser,
			Name:       name,
			Data:       orEmptyMeta(fields).Clone(),
			SourceType: "user",
			SourceID:   externalID,
		}
		n.Data["userId"] = u.ID
		if err := insertNode(ctx, tx, n); err != nil {
			return err
		}
		node = n
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return user, node, nil
}

// GetUserByExternalID returns a user, or nil when unknown.
func (s *Store) GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	var user *models.User
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var u models.User
		var metaJSON []byte
		err := tx.QueryRow(ctx,
			`SELECT id, external_id, name, metadata, created_at, updated_at FROM users WHERE external_id = $1`,
			externalID).
			Scan(&u.ID, &u.ExternalID, &u.Name, &metaJSON, &u.CreatedAt, &u.UpdatedAt)
		if err == pgx.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("store: get user: %w", err)
		}
		if metaJSON != nil {
			_ = json.Unmarshal(metaJSON, &u.Metadata)
		}
		user = &u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}
