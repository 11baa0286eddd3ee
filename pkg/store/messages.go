package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/weftlabs/weft/pkg/models"
)

const messageColumns = `id, thread_id, sender_id, sender_type, sender_name, content,
	tool_calls, tool_call_id, attachments, metadata, created_at`

// CreateMessage persists a message and its graph dual-write in one
// transaction: the messages row, a node of type "message", and a REPLIED_BY
// edge from the previous message's node when one exists. The insert is
// idempotent on message id so a re-dispatched event does not duplicate the
// row; the bool reports whether this call created the message.
func (s *Store) CreateMessage(ctx context.Context, msg *models.Message, ns string) (*models.Message, *models.KnowledgeNode, bool, error) {
	if msg.ID == "" {
		msg.ID = models.NewID()
	}

	var out *models.Message
	var node *models.KnowledgeNode
	var created bool

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		toolCallsJSON, err := marshalNullable(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("store: marshal tool calls: %w", err)
		}
		attachmentsJSON, err := marshalNullable(msg.Attachments)
		if err != nil {
			return fmt.Errorf("store: marshal attachments: %w", err)
		}
		metaJSON, err := json.Marshal(orEmptyMeta(msg.Metadata))
		if err != nil {
			return fmt.Errorf("store: marshal message metadata: %w", err)
		}

		row := tx.QueryRow(ctx,
			`INSERT INTO messages (id, thread_id, sender_id, sender_type, sender_name, content, tool_calls, tool_call_id, attachments, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (id) DO NOTHING
			 RETURNING `+messageColumns,
			msg.ID, msg.ThreadID, msg.SenderID, msg.SenderType, msg.SenderName,
			msg.Content, toolCallsJSON, nilIfEmpty(msg.ToolCallID), attachmentsJSON, metaJSON)
		m, err := scanMessage(row)
		if err == pgx.ErrNoRows {
			// Already persisted by an earlier dispatch of the same event.
			existing, err := queryMessage(ctx, tx, msg.ID)
			if err != nil {
				return err
			}
			n, err := findNodeBySource(ctx, tx, "message", msg.ID)
			if err != nil {
				return err
			}
			out, node = existing, n
			return nil
		}
		if err != nil {
			return fmt.Errorf("store: insert message: %w", err)
		}

		var prevID *string
		err = tx.QueryRow(ctx,
			`SELECT id FROM messages
			  WHERE thread_id = $1 AND id <> $2
			  ORDER BY created_at DESC, id DESC
			  LIMIT 1`,
			msg.ThreadID, msg.ID).Scan(&prevID)
		if err != nil && err != pgx.ErrNoRows {
			return fmt.Errorf("store: find previous message: %w", err)
		}

		n := &models.KnowledgeNode{
			ID:        models.NewID(),
			Namespace: ns,
			Type:      models.NodeTypeMessage,
			Name:      msg.SenderName,
			Content:   msg.Content,
			Data: models.Meta{
				"threadId":   msg.ThreadID,
				"senderId":   msg.SenderID,
				"senderType": string(msg.SenderType),
			},
			SourceType: "message",
			SourceID:   msg.ID,
		}
		if msg.ToolCallID != "" {
			n.Data["toolCallId"] = msg.ToolCallID
		}
		if err := insertNode(ctx, tx, n); err != nil {
			return err
		}

		if prevID != nil {
			prevNode, err := findNodeBySource(ctx, tx, "message", *prevID)
			if err != nil {
				return err
			}
			if prevNode != nil {
				edge := &models.KnowledgeEdge{
					ID:           models.NewID(),
					SourceNodeID: prevNode.ID,
					TargetNodeID: n.ID,
					Type:         models.EdgeRepliedBy,
					Weight:       1.0,
				}
				if err := insertEdge(ctx, tx, edge); err != nil {
					return err
				}
			}
		}

		out, node, created = m, n, true
		return nil
	})
	if err != nil {
		return nil, nil, false, err
	}
	return out, node, created, nil
}

// GetMessage returns a message by id, or nil when it does not exist.
func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var msg *models.Message
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		m, err := queryMessage(ctx, tx, id)
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns the most recent limit messages of a thread in
// chronological order. A non-positive limit returns the full history.
func (s *Store) ListMessages(ctx context.Context, threadID string, limit int) ([]*models.Message, error) {
	var messages []*models.Message
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		sql := `SELECT ` + messageColumns + ` FROM messages WHERE thread_id = $1 ORDER BY created_at DESC, id DESC`
		args := []any{threadID}
		if limit > 0 {
			sql += ` LIMIT $2`
			args = append(args, limit)
		}
		rows, err := tx.Query(ctx, sql, args...)
		if err != nil {
			return fmt.Errorf("store: list messages: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			m, err := scanMessage(rows)
			if err != nil {
				return fmt.Errorf("store: scan message: %w", err)
			}
			messages = append(messages, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	// Reverse to chronological order (oldest first).
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// CountBatchResults counts the persisted tool-result messages belonging to a
// tool batch. Batch completion is decided from this count, never from
// in-memory state, so it survives worker crashes.
func (s *Store) CountBatchResults(ctx context.Context, threadID, batchID string) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			`SELECT count(*) FROM messages
			  WHERE thread_id = $1
			    AND sender_type = 'tool'
			    AND metadata->'batch'->>'id' = $2`,
			threadID, batchID).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("store: count batch results: %w", err)
	}
	return n, nil
}

func queryMessage(ctx context.Context, tx pgx.Tx, id string) (*models.Message, error) {
	row := tx.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: query message: %w", err)
	}
	return m, nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	var toolCallsJSON, attachmentsJSON, metaJSON []byte
	var toolCallID *string
	err := row.Scan(&m.ID, &m.ThreadID, &m.SenderID, &m.SenderType, &m.SenderName,
		&m.Content, &toolCallsJSON, &toolCallID, &attachmentsJSON, &metaJSON, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.ToolCallID = derefStr(toolCallID)
	if toolCallsJSON != nil {
		_ = json.Unmarshal(toolCallsJSON, &m.ToolCalls)
	}
	if attachmentsJSON != nil {
		_ = json.Unmarshal(attachmentsJSON, &m.Attachments)
	}
	if metaJSON != nil {
		_ = json.Unmarshal(metaJSON, &m.Metadata)
	}
	return &m, nil
}

// marshalNullable marshals v to JSON, encoding empty slices as SQL NULL.
func marshalNullable[T any](v []T) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return json.Marshal(v)
}
