package processor

import (
	"encoding/base64"
	"strings"

	"github.com/weftlabs/weft/pkg/config"
	"github.com/weftlabs/weft/pkg/models"
)

// HistoryOptions configures how a thread's messages render into one
// agent's conversation view.
type HistoryOptions struct {
	// MaxMessages keeps only the most recent n messages; 0 keeps all.
	MaxMessages int
	// IncludeTargetContext appends "(addressed to: <name>)" to messages
	// directed at someone other than the current agent.
	IncludeTargetContext bool
}

func historyOptions(cfg *config.Config, agent *config.AgentConfig) HistoryOptions {
	opts := HistoryOptions{
		MaxMessages:          cfg.Defaults.History.MaxMessages,
		IncludeTargetContext: cfg.Defaults.History.IncludeTargetContext,
	}
	if agent.IncludeTargetContext != nil {
		opts.IncludeTargetContext = *agent.IncludeTargetContext
	}
	return opts
}

// BuildHistory renders messages, in chronological order, as the given
// agent's view of the conversation: its own messages come back as
// assistant turns, everyone else's as user turns prefixed with the sender
// name, and tool results keep the tool role. The agent's system prompt,
// when set, leads the conversation.
func BuildHistory(agent *config.AgentConfig, msgs []*models.Message, opts HistoryOptions) []models.ChatMessage {
	if opts.MaxMessages > 0 && len(msgs) > opts.MaxMessages {
		msgs = msgs[len(msgs)-opts.MaxMessages:]
	}

	out := make([]models.ChatMessage, 0, len(msgs)+1)
	if agent.SystemPrompt != "" {
		out = append(out, models.TextMessage(models.RoleSystem, agent.SystemPrompt))
	}
	for _, m := range msgs {
		out = append(out, renderMessage(agent, m, opts))
	}
	return out
}

// InsertPreamble places a system-preamble block (such as retrieved
// knowledge) after the agent's system prompt, or first when there is none.
func InsertPreamble(history []models.ChatMessage, preamble string) []models.ChatMessage {
	if preamble == "" {
		return history
	}
	block := models.TextMessage(models.RoleSystem, preamble)
	if len(history) > 0 && history[0].Role == models.RoleSystem {
		out := make([]models.ChatMessage, 0, len(history)+1)
		out = append(out, history[0], block)
		return append(out, history[1:]...)
	}
	return append([]models.ChatMessage{block}, history...)
}

func renderMessage(agent *config.AgentConfig, m *models.Message, opts HistoryOptions) models.ChatMessage {
	switch {
	case m.SenderType == models.SenderTool:
		return models.ChatMessage{
			Role:       models.RoleTool,
			Content:    "[Tool Result]: " + m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.SenderName,
		}

	case isSelf(agent, m):
		return models.ChatMessage{
			Role:      models.RoleAssistant,
			Content:   m.Content,
			ToolCalls: m.ToolCalls,
		}

	default:
		content := "[" + senderDisplay(m) + "]: " + m.Content
		if opts.IncludeTargetContext {
			if target := m.Metadata.String(models.MetaTargetID); target != "" && !matchesAgent(agent, target) {
				content += "\n(addressed to: " + target + ")"
			}
		}
		cm := models.ChatMessage{Role: models.RoleUser, Content: content}
		if len(m.Attachments) > 0 {
			cm.Parts = attachmentParts(content, m.Attachments)
			cm.Content = ""
		}
		return cm
	}
}

func isSelf(agent *config.AgentConfig, m *models.Message) bool {
	if m.SenderType != models.SenderAgent {
		return false
	}
	return matchesAgent(agent, m.SenderID) || matchesAgent(agent, m.SenderName)
}

func matchesAgent(agent *config.AgentConfig, handle string) bool {
	if handle == "" {
		return false
	}
	return strings.EqualFold(handle, agent.Name) || strings.EqualFold(handle, agent.EffectiveID())
}

func senderDisplay(m *models.Message) string {
	if m.SenderName != "" {
		return m.SenderName
	}
	return m.SenderID
}

// attachmentParts turns a message with attachments into multimodal parts:
// the rendered text first, then one part per attachment. Asset references
// stay unresolved here; the LLM-call processor resolves them right before
// the provider call.
func attachmentParts(text string, atts []models.Attachment) []models.ContentPart {
	parts := make([]models.ContentPart, 0, len(atts)+1)
	parts = append(parts, models.ContentPart{Kind: models.PartText, Text: text})
	for _, a := range atts {
		p := models.ContentPart{Kind: partKind(a.Kind), MIME: a.MIME}
		switch {
		case a.AssetRef != "":
			p.AssetRef = a.AssetRef
		case a.URL != "":
			p.URL = a.URL
		case a.Data != "":
			decoded, err := base64.StdEncoding.DecodeString(a.Data)
			if err != nil {
				continue
			}
			p.Data = decoded
		default:
			continue
		}
		parts = append(parts, p)
	}
	return parts
}

func partKind(k models.AttachmentKind) models.PartKind {
	switch k {
	case models.AttachmentImage:
		return models.PartImage
	case models.AttachmentAudio:
		return models.PartAudio
	default:
		return models.PartFile
	}
}
