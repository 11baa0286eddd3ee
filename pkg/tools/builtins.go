package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/weftlabs/weft/pkg/assets"
	"github.com/weftlabs/weft/pkg/events"
	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/rag"
)

// Builtins returns the tools every deployment gets: asset storage and
// document ingestion. Callers append their own tools before building the
// registry.
func Builtins() []*Tool {
	return []*Tool{saveAssetTool(), ingestDocumentTool()}
}

const saveAssetSchema = `{
  "type": "object",
  "properties": {
    "content":  {"type": "string", "description": "Asset content, UTF-8 text or base64"},
    "encoding": {"type": "string", "enum": ["text", "base64"], "description": "How content is encoded, default text"},
    "name":     {"type": "string", "description": "Display filename"},
    "mime":     {"type": "string", "description": "MIME type, default text/plain"}
  },
  "required": ["content"],
  "additionalProperties": false
}`

func saveAssetTool() *Tool {
	return &Tool{
		Name:        "save_asset",
		Description: "Persist content as a durable asset and return its asset:// reference for later use in messages.",
		Schema:      saveAssetSchema,
		Handler: func(ctx context.Context, tc *Context, args json.RawMessage) (any, error) {
			var params struct {
				Content  string `json:"content"`
				Encoding string `json:"encoding"`
				Name     string `json:"name"`
				MIME     string `json:"mime"`
			}
			if err := json.Unmarshal(args, &params); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
			}

			data := []byte(params.Content)
			if params.Encoding == "base64" {
				decoded, err := base64.StdEncoding.DecodeString(params.Content)
				if err != nil {
					return nil, fmt.Errorf("%w: decode base64 content: %v", ErrInvalidArgs, err)
				}
				data = decoded
			}
			mime := params.MIME
			if mime == "" {
				mime = "text/plain"
			}

			asset, err := tc.Assets.Put(ctx, assets.PutInput{
				Namespace: tc.Namespace,
				Name:      params.Name,
				MIME:      mime,
				Data:      bytes.NewReader(data),
			})
			if err != nil {
				return nil, fmt.Errorf("save asset: %w", err)
			}

			if tc.Emit != nil {
				payload, _ := json.Marshal(models.AssetCreatedPayload{
					AssetRef: asset.Ref(),
					MIMEType: asset.MIME,
					Size:     asset.Size,
				})
				tc.Emit(&events.StreamEvent{
					Type:     models.EventAssetCreated,
					ThreadID: tc.ThreadID,
					Payload:  payload,
				})
			}

			return map[string]any{
				"assetId": asset.ID,
				"ref":     asset.Ref(),
				"size":    asset.Size,
				"mime":    asset.MIME,
			}, nil
		},
	}
}

const ingestDocumentSchema = `{
  "type": "object",
  "properties": {
    "source":    {"type": "string", "description": "text:<content>, an http(s) URL, or a file path"},
    "title":     {"type": "string", "description": "Document title"},
    "mime_type": {"type": "string", "description": "Override MIME detection"}
  },
  "required": ["source"],
  "additionalProperties": false
}`

func ingestDocumentTool() *Tool {
	return &Tool{
		Name:        "ingest_document",
		Description: "Ingest a document into the knowledge store so future questions can retrieve from it.",
		Schema:      ingestDocumentSchema,
		Handler: func(ctx context.Context, tc *Context, args json.RawMessage) (any, error) {
			if tc.Ingestor == nil {
				return nil, fmt.Errorf("document ingestion is not configured")
			}
			var params struct {
				Source   string `json:"source"`
				Title    string `json:"title"`
				MIMEType string `json:"mime_type"`
			}
			if err := json.Unmarshal(args, &params); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
			}

			doc, err := tc.Ingestor.Ingest(ctx, rag.IngestRequest{
				Source:    params.Source,
				Namespace: tc.Namespace,
				MIMEType:  params.MIMEType,
				Title:     params.Title,
			})
			if err != nil {
				return nil, fmt.Errorf("ingest document: %w", err)
			}
			return map[string]any{
				"documentId": doc.ID,
				"status":     doc.Status,
				"chunkCount": doc.ChunkCount,
			}, nil
		},
	}
}
