package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/weftlabs/weft/pkg/config"
	"github.com/weftlabs/weft/pkg/llm"
	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/observe"
	"github.com/weftlabs/weft/pkg/store"
)

// IngestRequest names a source to bring into the knowledge store.
type IngestRequest struct {
	// Source is "text:<content>", an http(s) URL, or a file path.
	Source    string
	Namespace string
	// MIMEType overrides detection when set.
	MIMEType string
	Title    string
}

// Ingestor runs the document pipeline: fetch, preprocess, hash, chunk,
// embed, persist. Ingestion is idempotent on (namespace, content hash);
// feeding the same content twice returns the existing document.
type Ingestor struct {
	store    *store.Store
	embedder llm.EmbeddingProvider
	fetcher  *Fetcher
	chunker  Chunker
	cfg      *config.RAGConfig
	inst     *observe.Instruments
}

// NewIngestor wires the pipeline from config.
func NewIngestor(st *store.Store, embedder llm.EmbeddingProvider, cfg *config.RAGConfig, inst *observe.Instruments) *Ingestor {
	if inst == nil {
		inst = observe.Noop()
	}
	return &Ingestor{
		store:    st,
		embedder: embedder,
		fetcher:  NewFetcher(cfg.FetchTimeout, cfg.MaxSourceBytes),
		chunker:  NewChunker(cfg),
		cfg:      cfg,
		inst:     inst,
	}
}

// Ingest processes one source end to end and returns the document. A
// document whose content hash already exists in the namespace is returned
// as-is unless its previous ingest failed, in which case it is reset and
// re-ingested.
func (in *Ingestor) Ingest(ctx context.Context, req IngestRequest) (*models.Document, error) {
	data, detectedMIME, sourceType, err := in.fetcher.Fetch(ctx, req.Source)
	if err != nil {
		return nil, fmt.Errorf("fetch source: %w", err)
	}

	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = detectedMIME
	}
	text, err := Preprocess(data, mimeType, req.Source)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}
	if text == "" {
		return nil, errors.New("source produced no text")
	}

	sum := sha256.Sum256([]byte(text))
	contentHash := hex.EncodeToString(sum[:])

	doc, fresh, err := in.claimDocument(ctx, req, sourceType, contentHash)
	if err != nil {
		return nil, err
	}
	if !fresh {
		slog.InfoContext(ctx, "Document already ingested, skipping",
			"document_id", doc.ID, "namespace", doc.Namespace, "status", doc.Status)
		return doc, nil
	}

	if err := in.embedAndPersist(ctx, doc, text); err != nil {
		if stErr := in.store.SetDocumentStatus(ctx, doc.ID, models.DocumentStatusFailed); stErr != nil {
			slog.ErrorContext(ctx, "Failed to mark document failed",
				"document_id", doc.ID, "error", stErr)
		}
		return nil, err
	}

	in.inst.DocumentsIngested.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source_type", sourceType)))
	slog.InfoContext(ctx, "Document ingested",
		"document_id", doc.ID, "namespace", doc.Namespace, "chunks", doc.ChunkCount)
	return doc, nil
}

// claimDocument finds or creates the document row for this content hash.
// fresh=false means an earlier ingest already holds the content.
func (in *Ingestor) claimDocument(ctx context.Context, req IngestRequest, sourceType, contentHash string) (doc *models.Document, fresh bool, err error) {
	existing, err := in.store.FindDocumentByHash(ctx, req.Namespace, contentHash)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		if existing.Status != models.DocumentStatusFailed {
			return existing, false, nil
		}
		// Previous ingest died partway; clear partial state and retry.
		if err := in.store.ResetDocument(ctx, existing.ID); err != nil {
			return nil, false, err
		}
		existing.Status = models.DocumentStatusIngesting
		return existing, true, nil
	}

	meta := models.Meta{}
	if req.Title != "" {
		meta["title"] = req.Title
	}
	doc = &models.Document{
		Namespace:   req.Namespace,
		SourceType:  sourceType,
		SourceURI:   req.Source,
		ContentHash: contentHash,
		Status:      models.DocumentStatusIngesting,
		Metadata:    meta,
	}
	doc, err = in.store.CreateDocument(ctx, doc)
	if err != nil {
		if errors.Is(err, store.ErrDocumentExists) {
			// Lost a concurrent race for the same content; use the winner's row.
			winner, ferr := in.store.FindDocumentByHash(ctx, req.Namespace, contentHash)
			if ferr != nil {
				return nil, false, ferr
			}
			if winner != nil {
				return winner, false, nil
			}
		}
		return nil, false, err
	}
	return doc, true, nil
}

// embedAndPersist embeds chunk batches with bounded concurrency. Batches
// write disjoint ranges of the result slice, so no locking is needed; any
// batch failure cancels the rest and fails the ingest.
func (in *Ingestor) embedAndPersist(ctx context.Context, doc *models.Document, text string) error {
	pieces := in.chunker.Chunk(text)

	batchSize := in.cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 64
	}
	concurrency := in.cfg.EmbedConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	chunks := make([]*models.DocumentChunk, len(pieces))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for start := 0; start < len(pieces); start += batchSize {
		end := min(start+batchSize, len(pieces))
		batch := pieces[start:end]
		g.Go(func() error {
			began := time.Now()
			embeddings, err := in.embedder.Embed(gctx, batch)
			if err != nil {
				return fmt.Errorf("embed chunks %d..%d: %w", start, end-1, err)
			}
			if len(embeddings) != len(batch) {
				return fmt.Errorf("embedder returned %d vectors for %d inputs", len(embeddings), len(batch))
			}
			in.inst.EmbedRequests.Add(gctx, 1)
			in.inst.EmbedDuration.Record(gctx, float64(time.Since(began).Milliseconds()))

			for i, content := range batch {
				chunks[start+i] = &models.DocumentChunk{
					ID:         models.NewID(),
					DocumentID: doc.ID,
					ChunkIndex: start + i,
					Content:    content,
					Embedding:  embeddings[i],
					TokenCount: EstimateTokens(content),
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return in.store.InsertDocumentChunks(ctx, doc, chunks)
}
