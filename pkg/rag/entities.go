package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/weftlabs/weft/pkg/config"
	"github.com/weftlabs/weft/pkg/llm"
	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/store"
)

const entityExtractionPrompt = `You are an entity extractor. Identify the entities (people, organizations, projects, systems, concepts) mentioned in the text below.

For each entity output:
- "name": the canonical name as mentioned
- "type": a short lowercase category%s
- "description": one sentence of context from the text, or omit if none

Output ONLY valid JSON in this format:
{"entities":[{"name":"...","type":"...","description":"..."}]}

If no entities are present, output: {"entities":[]}

Text:
%s`

const entityConfirmPrompt = `Two knowledge base entries may refer to the same entity.

Entry A: %s
Entry B: %s

Are they the same entity? Output ONLY valid JSON: {"same":true} or {"same":false}`

// ExtractRequest carries one message's content through entity extraction.
type ExtractRequest struct {
	Namespace    string
	SourceNodeID string
	Content      string
	SenderName   string
	// Types restricts accepted entity types; empty accepts any.
	Types []string
	Model string
}

// ExtractedEntity reports one resolved entity and whether it merged into
// an existing node.
type ExtractedEntity struct {
	Name        string
	Type        string
	Description string
	NodeID      string
	Merged      bool
}

// Extractor pulls entities out of message content and reconciles them
// against the knowledge graph: near-identical embeddings merge
// automatically, close ones are confirmed by the model, the rest become
// new nodes. Every extraction leaves a MENTIONS edge from the source.
type Extractor struct {
	store    *store.Store
	chat     llm.ChatProvider
	embedder llm.EmbeddingProvider
	cfg      *config.RAGConfig
}

// NewExtractor builds an entity extractor.
func NewExtractor(st *store.Store, chat llm.ChatProvider, embedder llm.EmbeddingProvider, cfg *config.RAGConfig) *Extractor {
	return &Extractor{store: st, chat: chat, embedder: embedder, cfg: cfg}
}

// Extract runs the full pipeline for one message. Unparseable model
// output degrades to zero entities rather than failing the event.
func (e *Extractor) Extract(ctx context.Context, req ExtractRequest) ([]ExtractedEntity, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, nil
	}

	raw, err := e.generate(ctx, req.Model, buildExtractionPrompt(req.Content, req.Types))
	if err != nil {
		return nil, fmt.Errorf("extraction call: %w", err)
	}

	specs := parseEntities(raw, req.Types)
	if len(specs) == 0 {
		return nil, nil
	}

	texts := make([]string, len(specs))
	for i, spec := range specs {
		texts[i] = spec.embedText()
	}
	embeddings, err := e.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed entities: %w", err)
	}
	if len(embeddings) != len(specs) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d entities", len(embeddings), len(specs))
	}

	results := make([]ExtractedEntity, 0, len(specs))
	for i, spec := range specs {
		resolved, err := e.resolve(ctx, req, spec, embeddings[i])
		if err != nil {
			slog.WarnContext(ctx, "Entity resolution failed, skipping",
				"entity", spec.Name, "namespace", req.Namespace, "error", err)
			continue
		}
		results = append(results, resolved)
	}
	return results, nil
}

// resolve dedupes one entity against the graph and links it to the source.
func (e *Extractor) resolve(ctx context.Context, req ExtractRequest, spec entitySpec, embedding []float32) (ExtractedEntity, error) {
	matches, err := e.store.SearchNodes(ctx, store.SearchNodesParams{
		Embedding:     embedding,
		Namespaces:    []string{req.Namespace},
		Types:         []string{spec.Type},
		Limit:         5,
		MinSimilarity: e.cfg.SimilarityThreshold,
	})
	if err != nil {
		return ExtractedEntity{}, err
	}

	var nodeID string
	merged := false
	switch {
	case len(matches) > 0 && matches[0].Similarity >= e.cfg.AutoMergeThreshold:
		nodeID = matches[0].Node.ID
		merged = true
		if err := e.store.MergeEntityAlias(ctx, nodeID, spec.Name); err != nil {
			return ExtractedEntity{}, err
		}

	case len(matches) > 0:
		same, err := e.confirmSame(ctx, req.Model, matches[0].Node, spec)
		if err != nil {
			slog.WarnContext(ctx, "Entity merge confirmation failed, creating new node",
				"entity", spec.Name, "candidate", matches[0].Node.Name, "error", err)
		}
		if same {
			nodeID = matches[0].Node.ID
			merged = true
			if err := e.store.MergeEntityAlias(ctx, nodeID, spec.Name); err != nil {
				return ExtractedEntity{}, err
			}
			break
		}
		node, err := e.createEntityNode(ctx, req.Namespace, spec, embedding)
		if err != nil {
			return ExtractedEntity{}, err
		}
		nodeID = node.ID
		// Distinct but similar: record the relation with its similarity.
		if _, err := e.store.CreateEdge(ctx, &models.KnowledgeEdge{
			SourceNodeID: nodeID,
			TargetNodeID: matches[0].Node.ID,
			Type:         models.EdgeRelatedTo,
			Data:         models.Meta{"similarity": matches[0].Similarity},
			Weight:       matches[0].Similarity,
		}); err != nil {
			return ExtractedEntity{}, err
		}

	default:
		node, err := e.createEntityNode(ctx, req.Namespace, spec, embedding)
		if err != nil {
			return ExtractedEntity{}, err
		}
		nodeID = node.ID
	}

	if req.SourceNodeID != "" {
		if _, err := e.store.CreateEdge(ctx, &models.KnowledgeEdge{
			SourceNodeID: req.SourceNodeID,
			TargetNodeID: nodeID,
			Type:         models.EdgeMentions,
			Data: models.Meta{
				"extractedName": spec.Name,
				"senderName":    req.SenderName,
			},
			Weight: 1.0,
		}); err != nil {
			return ExtractedEntity{}, err
		}
	}

	return ExtractedEntity{
		Name:        spec.Name,
		Type:        spec.Type,
		Description: spec.Description,
		NodeID:      nodeID,
		Merged:      merged,
	}, nil
}

func (e *Extractor) createEntityNode(ctx context.Context, ns string, spec entitySpec, embedding []float32) (*models.KnowledgeNode, error) {
	return e.store.CreateNode(ctx, &models.KnowledgeNode{
		Namespace: ns,
		Type:      spec.Type,
		Name:      spec.Name,
		Content:   spec.Description,
		Embedding: embedding,
		Data: models.Meta{
			"aliases":      []string{spec.Name},
			"mentionCount": 1,
		},
	})
}

// confirmSame asks the model whether candidate and spec are one entity.
func (e *Extractor) confirmSame(ctx context.Context, model string, candidate *models.KnowledgeNode, spec entitySpec) (bool, error) {
	a := candidate.Name
	if candidate.Content != "" {
		a += ": " + candidate.Content
	}
	raw, err := e.generate(ctx, model, fmt.Sprintf(entityConfirmPrompt, a, spec.embedText()))
	if err != nil {
		return false, err
	}
	var parsed struct {
		Same bool `json:"same"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &parsed); err != nil {
		return false, fmt.Errorf("parse confirmation: %w", err)
	}
	return parsed.Same, nil
}

func (e *Extractor) generate(ctx context.Context, model, prompt string) (string, error) {
	stream, err := e.chat.Generate(ctx, &llm.ChatRequest{
		Model:    model,
		Messages: []models.ChatMessage{models.TextMessage(models.RoleUser, prompt)},
	})
	if err != nil {
		return "", err
	}
	resp, err := llm.Collect(stream)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

type entitySpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

func (s entitySpec) embedText() string {
	if s.Description == "" {
		return s.Name
	}
	return s.Name + ": " + s.Description
}

func buildExtractionPrompt(content string, types []string) string {
	constraint := ""
	if len(types) > 0 {
		constraint = fmt.Sprintf(", one of: %s", strings.Join(types, ", "))
	}
	return fmt.Sprintf(entityExtractionPrompt, constraint, content)
}

// parseEntities parses model output strictly: fences stripped, then one
// json.Unmarshal. Anything unparseable yields zero entities. Entities
// with empty names are dropped; types outside the allowed set are
// dropped; a missing type defaults to "entity".
func parseEntities(raw string, allowedTypes []string) []entitySpec {
	var parsed struct {
		Entities []entitySpec `json:"entities"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &parsed); err != nil {
		return nil
	}

	allowed := make(map[string]bool, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[strings.ToLower(t)] = true
	}

	var specs []entitySpec
	for _, spec := range parsed.Entities {
		spec.Name = strings.TrimSpace(spec.Name)
		if spec.Name == "" {
			continue
		}
		spec.Type = strings.ToLower(strings.TrimSpace(spec.Type))
		if spec.Type == "" {
			spec.Type = "entity"
		}
		if len(allowed) > 0 && !allowed[spec.Type] {
			continue
		}
		specs = append(specs, spec)
	}
	return specs
}

// stripCodeFence removes a surrounding markdown code fence, with or
// without a language tag.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// Drop the language tag line if present.
		first := strings.TrimSpace(s[:i])
		if first == "" || !strings.ContainsAny(first, "{[") {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
