package processor

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/pkg/config"
	"github.com/weftlabs/weft/pkg/models"
)

func testAgent(name string) *config.AgentConfig {
	return &config.AgentConfig{Name: name, SystemPrompt: "You are " + name + "."}
}

func TestBuildHistory(t *testing.T) {
	agent := testAgent("Writer")
	msgs := []*models.Message{
		{SenderType: models.SenderUser, SenderName: "alice", Content: "hi @Writer"},
		{SenderType: models.SenderAgent, SenderID: "Writer", SenderName: "Writer", Content: "hello alice"},
		{SenderType: models.SenderAgent, SenderID: "Researcher", SenderName: "Researcher", Content: "found three sources"},
		{SenderType: models.SenderTool, SenderName: "web_search", Content: `{"hits":2}`, ToolCallID: "call-1"},
	}

	history := BuildHistory(agent, msgs, HistoryOptions{})
	require.Len(t, history, 5)

	assert.Equal(t, models.RoleSystem, history[0].Role)
	assert.Equal(t, "You are Writer.", history[0].Content)

	assert.Equal(t, models.RoleUser, history[1].Role)
	assert.Equal(t, "[alice]: hi @Writer", history[1].Content)

	// The agent's own message comes back as an unprefixed assistant turn.
	assert.Equal(t, models.RoleAssistant, history[2].Role)
	assert.Equal(t, "hello alice", history[2].Content)

	// Another agent's message is a user turn like any other sender's.
	assert.Equal(t, models.RoleUser, history[3].Role)
	assert.Equal(t, "[Researcher]: found three sources", history[3].Content)

	assert.Equal(t, models.RoleTool, history[4].Role)
	assert.Equal(t, `[Tool Result]: {"hits":2}`, history[4].Content)
	assert.Equal(t, "call-1", history[4].ToolCallID)
	assert.Equal(t, "web_search", history[4].Name)
}

func TestBuildHistoryNoSystemPrompt(t *testing.T) {
	agent := &config.AgentConfig{Name: "Writer"}
	history := BuildHistory(agent, []*models.Message{
		{SenderType: models.SenderUser, SenderName: "alice", Content: "hi"},
	}, HistoryOptions{})
	require.Len(t, history, 1)
	assert.Equal(t, models.RoleUser, history[0].Role)
}

func TestBuildHistoryMaxMessages(t *testing.T) {
	agent := testAgent("Writer")
	msgs := []*models.Message{
		{SenderType: models.SenderUser, SenderName: "alice", Content: "first"},
		{SenderType: models.SenderUser, SenderName: "alice", Content: "second"},
		{SenderType: models.SenderUser, SenderName: "alice", Content: "third"},
	}

	history := BuildHistory(agent, msgs, HistoryOptions{MaxMessages: 2})
	require.Len(t, history, 3) // system prompt + 2 most recent
	assert.Equal(t, "[alice]: second", history[1].Content)
	assert.Equal(t, "[alice]: third", history[2].Content)
}

func TestBuildHistorySelfMatchesByID(t *testing.T) {
	agent := &config.AgentConfig{Name: "Writer", ID: "writer-v2"}
	history := BuildHistory(agent, []*models.Message{
		{SenderType: models.SenderAgent, SenderID: "writer-v2", SenderName: "Writer", Content: "mine"},
		{SenderType: models.SenderUser, SenderID: "writer-v2", Content: "not mine, wrong sender type"},
	}, HistoryOptions{})
	require.Len(t, history, 2)
	assert.Equal(t, models.RoleAssistant, history[0].Role)
	assert.Equal(t, models.RoleUser, history[1].Role)
}

func TestBuildHistoryTargetContext(t *testing.T) {
	agent := testAgent("Writer")
	msgs := []*models.Message{
		{
			SenderType: models.SenderUser, SenderName: "alice", Content: "check this",
			Metadata: models.Meta{models.MetaTargetID: "Researcher"},
		},
		{
			SenderType: models.SenderUser, SenderName: "alice", Content: "for you",
			Metadata: models.Meta{models.MetaTargetID: "Writer"},
		},
	}

	history := BuildHistory(agent, msgs, HistoryOptions{IncludeTargetContext: true})
	require.Len(t, history, 3)
	assert.Equal(t, "[alice]: check this\n(addressed to: Researcher)", history[1].Content)
	// Messages addressed to the agent itself carry no annotation.
	assert.Equal(t, "[alice]: for you", history[2].Content)

	plain := BuildHistory(agent, msgs, HistoryOptions{})
	assert.Equal(t, "[alice]: check this", plain[1].Content)
}

func TestBuildHistoryCarriesToolCalls(t *testing.T) {
	agent := testAgent("Writer")
	calls := []models.ToolCall{{ID: "c1", Name: "web_search", Arguments: `{"q":"go"}`}}
	history := BuildHistory(agent, []*models.Message{
		{SenderType: models.SenderAgent, SenderName: "Writer", ToolCalls: calls},
	}, HistoryOptions{})
	require.Len(t, history, 2)
	assert.Equal(t, calls, history[1].ToolCalls)
}

func TestInsertPreamble(t *testing.T) {
	t.Run("after system prompt", func(t *testing.T) {
		history := []models.ChatMessage{
			models.TextMessage(models.RoleSystem, "prompt"),
			models.TextMessage(models.RoleUser, "[alice]: hi"),
		}
		out := InsertPreamble(history, "relevant knowledge")
		require.Len(t, out, 3)
		assert.Equal(t, "prompt", out[0].Content)
		assert.Equal(t, models.RoleSystem, out[1].Role)
		assert.Equal(t, "relevant knowledge", out[1].Content)
		assert.Equal(t, "[alice]: hi", out[2].Content)
	})

	t.Run("first without system prompt", func(t *testing.T) {
		history := []models.ChatMessage{models.TextMessage(models.RoleUser, "[alice]: hi")}
		out := InsertPreamble(history, "relevant knowledge")
		require.Len(t, out, 2)
		assert.Equal(t, models.RoleSystem, out[0].Role)
		assert.Equal(t, "relevant knowledge", out[0].Content)
	})

	t.Run("empty preamble is a no-op", func(t *testing.T) {
		history := []models.ChatMessage{models.TextMessage(models.RoleUser, "hi")}
		assert.Equal(t, history, InsertPreamble(history, ""))
	})
}

func TestRenderMessageAttachments(t *testing.T) {
	agent := testAgent("Writer")
	data := base64.StdEncoding.EncodeToString([]byte{0x89, 0x50, 0x4e, 0x47})
	msgs := []*models.Message{{
		SenderType: models.SenderUser,
		SenderName: "alice",
		Content:    "see attached",
		Attachments: []models.Attachment{
			{Kind: models.AttachmentImage, AssetRef: "asset://ns/img-1", MIME: "image/png"},
			{Kind: models.AttachmentFile, URL: "https://example.com/doc.pdf", MIME: "application/pdf"},
			{Kind: models.AttachmentImage, Data: data, MIME: "image/png"},
			{Kind: models.AttachmentImage, Data: "not-base64!!!"},
			{Kind: models.AttachmentImage}, // nothing set, skipped
		},
	}}

	history := BuildHistory(agent, msgs, HistoryOptions{})
	require.Len(t, history, 2)

	cm := history[1]
	assert.Empty(t, cm.Content)
	require.Len(t, cm.Parts, 4)

	assert.Equal(t, models.PartText, cm.Parts[0].Kind)
	assert.Equal(t, "[alice]: see attached", cm.Parts[0].Text)

	assert.Equal(t, models.PartImage, cm.Parts[1].Kind)
	assert.Equal(t, "asset://ns/img-1", cm.Parts[1].AssetRef)

	assert.Equal(t, models.PartFile, cm.Parts[2].Kind)
	assert.Equal(t, "https://example.com/doc.pdf", cm.Parts[2].URL)

	assert.Equal(t, models.PartImage, cm.Parts[3].Kind)
	assert.Equal(t, []byte{0x89, 0x50, 0x4e, 0x47}, cm.Parts[3].Data)
}
