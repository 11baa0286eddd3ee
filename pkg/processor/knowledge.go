package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/rag"
)

// EntityExtractProcessor runs entity extraction for a persisted message.
// Extraction is best-effort enrichment: failures are logged and the event
// completes, so a flaky extraction model never stalls the conversation.
type EntityExtractProcessor struct{}

func (*EntityExtractProcessor) EventType() models.EventType { return models.EventEntityExtract }
func (*EntityExtractProcessor) Priority() int               { return 0 }

func (*EntityExtractProcessor) ShouldProcess(_ context.Context, _ *models.Event, deps *Deps) bool {
	return deps.Extractor != nil
}

func (p *EntityExtractProcessor) Process(ctx context.Context, ev *models.Event, deps *Deps) (*Result, error) {
	var payload models.EntityExtractPayload
	if err := ev.DecodePayload(&payload); err != nil {
		return nil, Permanent(fmt.Errorf("decode entity extract payload: %w", err))
	}
	if payload.Content == "" || payload.NodeID == "" {
		return &Result{}, nil
	}

	req := rag.ExtractRequest{
		Namespace:    payload.Namespace,
		SourceNodeID: payload.NodeID,
		Content:      payload.Content,
		SenderName:   payload.SenderName,
	}
	if req.Namespace == "" {
		req.Namespace = ev.Namespace
	}
	if payload.AgentID != "" && deps.Agents != nil {
		if agent, ok := deps.Agents.Lookup(payload.AgentID); ok && agent.EntityExtraction != nil {
			req.Types = agent.EntityExtraction.Types
			req.Model = agent.Model
		}
	}

	entities, err := deps.Extractor.Extract(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		slog.WarnContext(ctx, "Entity extraction failed",
			"thread_id", ev.ThreadID, "message_id", payload.MessageID, "error", err)
		return &Result{}, nil
	}

	merged := 0
	for _, e := range entities {
		if e.Merged {
			merged++
		}
	}
	slog.DebugContext(ctx, "Entities extracted",
		"thread_id", ev.ThreadID, "message_id", payload.MessageID,
		"count", len(entities), "merged", merged)
	return &Result{}, nil
}

// RAGIngestProcessor feeds a document source through the ingestion
// pipeline. Unlike extraction, ingest failures fail the event: the caller
// asked for this document and retrying a fetch is usually worthwhile.
type RAGIngestProcessor struct{}

func (*RAGIngestProcessor) EventType() models.EventType { return models.EventRAGIngest }
func (*RAGIngestProcessor) Priority() int               { return 0 }

func (*RAGIngestProcessor) ShouldProcess(context.Context, *models.Event, *Deps) bool { return true }

func (p *RAGIngestProcessor) Process(ctx context.Context, ev *models.Event, deps *Deps) (*Result, error) {
	var payload models.RAGIngestPayload
	if err := ev.DecodePayload(&payload); err != nil {
		return nil, Permanent(fmt.Errorf("decode rag ingest payload: %w", err))
	}
	if payload.Source == "" {
		return nil, Permanent(errors.New("rag ingest: empty source"))
	}
	if deps.Ingestor == nil {
		return nil, Permanent(errors.New("rag ingest: no ingestor configured"))
	}

	ns := payload.Namespace
	if ns == "" {
		ns = ev.Namespace
	}

	doc, err := deps.Ingestor.Ingest(ctx, rag.IngestRequest{
		Source:    payload.Source,
		Namespace: ns,
		MIMEType:  payload.MIMEType,
		Title:     payload.Title,
	})
	if err != nil {
		return nil, fmt.Errorf("rag ingest: %w", err)
	}

	slog.InfoContext(ctx, "Document ingested",
		"thread_id", ev.ThreadID, "document_id", doc.ID, "chunks", doc.ChunkCount)
	return &Result{}, nil
}
