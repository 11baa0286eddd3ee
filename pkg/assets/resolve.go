package assets

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/weftlabs/weft/pkg/models"
)

// ResolveMessages rewrites "asset://" references in message parts into
// provider-acceptable form: assets at or under inlineLimit bytes are
// inlined as data parts; larger assets become URL parts when the backend
// can produce a URL. The input slice is never mutated; callers get a deep
// copy with only the resolved parts changed.
//
// A reference that cannot be resolved (missing asset, oversize with no
// URL form) degrades to a text placeholder rather than failing the whole
// LLM call.
func ResolveMessages(ctx context.Context, store Store, msgs []models.ChatMessage, inlineLimit int64) []models.ChatMessage {
	out := make([]models.ChatMessage, len(msgs))
	for i, msg := range msgs {
		out[i] = msg
		if len(msg.Parts) == 0 {
			continue
		}
		parts := make([]models.ContentPart, len(msg.Parts))
		for j, part := range msg.Parts {
			parts[j] = resolvePart(ctx, store, part, inlineLimit)
		}
		out[i].Parts = parts
	}
	return out
}

func resolvePart(ctx context.Context, store Store, part models.ContentPart, inlineLimit int64) models.ContentPart {
	if part.AssetRef == "" {
		return part
	}

	ns, id, err := ParseRef(part.AssetRef)
	if err != nil {
		slog.WarnContext(ctx, "Skipping unparseable asset reference",
			"asset_ref", part.AssetRef, "error", err)
		return placeholderPart(part)
	}

	asset, rc, err := store.Get(ctx, ns, id)
	if err != nil {
		slog.WarnContext(ctx, "Asset reference did not resolve",
			"asset_ref", part.AssetRef, "error", err)
		return placeholderPart(part)
	}

	if asset.Size <= inlineLimit {
		data, err := io.ReadAll(io.LimitReader(rc, inlineLimit+1))
		rc.Close()
		if err != nil || int64(len(data)) > inlineLimit {
			slog.WarnContext(ctx, "Failed to inline asset",
				"asset_ref", part.AssetRef, "error", err)
			return placeholderPart(part)
		}
		resolved := part
		resolved.AssetRef = ""
		resolved.Data = data
		if resolved.MIME == "" {
			resolved.MIME = asset.MIME
		}
		return resolved
	}
	rc.Close()

	url, err := store.URL(ctx, ns, id)
	if err != nil || url == "" {
		slog.WarnContext(ctx, "Asset too large to inline and no URL form available",
			"asset_ref", part.AssetRef, "size", asset.Size)
		return placeholderPart(part)
	}
	resolved := part
	resolved.AssetRef = ""
	resolved.URL = url
	if resolved.MIME == "" {
		resolved.MIME = asset.MIME
	}
	return resolved
}

// placeholderPart downgrades an unresolvable asset part to text so the
// conversation still reads sensibly.
func placeholderPart(part models.ContentPart) models.ContentPart {
	return models.ContentPart{
		Kind: models.PartText,
		Text: fmt.Sprintf("[attachment %s unavailable]", part.AssetRef),
	}
}

// StripParts removes multimodal parts from messages, used when asset
// resolution is disabled and the agent is expected to fetch assets
// through a tool instead. References are replaced with text so the agent
// knows they exist.
func StripParts(msgs []models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, len(msgs))
	for i, msg := range msgs {
		out[i] = msg
		if len(msg.Parts) == 0 {
			continue
		}
		parts := make([]models.ContentPart, 0, len(msg.Parts))
		for _, part := range msg.Parts {
			if part.AssetRef != "" {
				parts = append(parts, models.ContentPart{
					Kind: models.PartText,
					Text: fmt.Sprintf("[attachment available at %s]", part.AssetRef),
				})
				continue
			}
			if len(part.Data) > 0 || part.URL != "" {
				continue
			}
			parts = append(parts, part)
		}
		out[i].Parts = parts
	}
	return out
}
