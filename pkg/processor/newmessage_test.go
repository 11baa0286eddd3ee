package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/weftlabs/weft/pkg/config"
	"github.com/weftlabs/weft/pkg/models"
)

func routingAgents(names ...string) *config.AgentRegistry {
	agents := make([]*config.AgentConfig, 0, len(names))
	for _, n := range names {
		agents = append(agents, &config.AgentConfig{Name: n})
	}
	return config.NewAgentRegistry(agents)
}

func TestResolveRouting(t *testing.T) {
	agents := routingAgents("Researcher", "Writer")

	tests := []struct {
		name          string
		payload       models.MessagePayload
		eventMeta     models.Meta
		expectedID    string
		expectedQueue []string
	}{
		{
			name: "user message routes to first mention",
			payload: models.MessagePayload{
				Content: "hey @Writer, draft this",
				Sender:  models.Sender{Type: models.SenderUser},
			},
			expectedID: "Writer",
		},
		{
			name: "user message with chained mentions queues the rest",
			payload: models.MessagePayload{
				Content: "@Researcher find sources and @Writer draft",
				Sender:  models.Sender{Type: models.SenderUser},
			},
			expectedID:    "Researcher",
			expectedQueue: []string{"Writer"},
		},
		{
			name: "user message without mentions routes to the default agent",
			payload: models.MessagePayload{
				Content: "what is the weather?",
				Sender:  models.Sender{Type: models.SenderUser},
			},
			expectedID: "Researcher",
		},
		{
			name: "default agent outranks caller metadata",
			payload: models.MessagePayload{
				Content: "direct delivery",
				Sender:  models.Sender{Type: models.SenderUser},
			},
			eventMeta:  models.Meta{models.MetaTargetID: "Writer"},
			expectedID: "Researcher",
		},
		{
			name: "agent message trusts computed metadata",
			payload: models.MessagePayload{
				Content: "@Writer ignore this mention",
				Sender:  models.Sender{Type: models.SenderAgent, ID: "Researcher"},
			},
			eventMeta:     models.Meta{models.MetaTargetID: "user-1", models.MetaTargetQueue: []string{"Writer"}},
			expectedID:    "user-1",
			expectedQueue: []string{"Writer"},
		},
		{
			name: "agent message without metadata re-derives from content",
			payload: models.MessagePayload{
				Content: "@Writer your turn",
				Sender:  models.Sender{Type: models.SenderAgent, ID: "Researcher"},
			},
			expectedID:    "Writer",
			expectedQueue: []string{},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev := &models.Event{Metadata: tc.eventMeta}
			id, queue := resolveRouting(&tc.payload, ev, agents)
			assert.Equal(t, tc.expectedID, id)
			if tc.expectedQueue == nil {
				assert.Empty(t, queue)
			} else {
				assert.Equal(t, tc.expectedQueue, queue)
			}
		})
	}

	t.Run("caller metadata is the last resort without agents", func(t *testing.T) {
		payload := models.MessagePayload{
			Content: "direct delivery",
			Sender:  models.Sender{Type: models.SenderUser},
		}
		ev := &models.Event{Metadata: models.Meta{models.MetaTargetID: "Writer"}}
		id, _ := resolveRouting(&payload, ev, routingAgents())
		assert.Equal(t, "Writer", id)
	})
}

func TestMessageMeta(t *testing.T) {
	t.Run("routed message stamps target", func(t *testing.T) {
		payload := &models.MessagePayload{
			Sender:   models.Sender{Type: models.SenderUser},
			Metadata: models.Meta{"custom": "kept"},
		}
		meta := messageMeta(payload, &models.Event{}, "Writer", []string{"Reviewer"})
		assert.Equal(t, "kept", meta.String("custom"))
		assert.Equal(t, "Writer", meta.String(models.MetaTargetID))
		assert.Equal(t, []string{"Reviewer"}, meta.StringSlice(models.MetaTargetQueue))
	})

	t.Run("tool result copies batch and routing bookkeeping", func(t *testing.T) {
		payload := &models.MessagePayload{Sender: models.Sender{Type: models.SenderTool}}
		ev := &models.Event{Metadata: models.Meta{
			models.MetaBatch:        models.BatchMeta{ID: "b-1", Size: 2},
			models.MetaAgentID:      "Writer",
			models.MetaSourceSender: "user-1",
			models.MetaTargetQueue:  []string{"Reviewer"},
		}}
		meta := messageMeta(payload, ev, "", nil)

		batch, ok := meta.Batch()
		assert.True(t, ok)
		assert.Equal(t, "b-1", batch.ID)
		assert.Equal(t, "Writer", meta.String(models.MetaAgentID))
		assert.Equal(t, "user-1", meta.String(models.MetaSourceSender))
		assert.Equal(t, []string{"Reviewer"}, meta.StringSlice(models.MetaTargetQueue))
	})

	t.Run("tool-call message passes the reply target through", func(t *testing.T) {
		payload := &models.MessagePayload{
			Sender:    models.Sender{Type: models.SenderAgent, ID: "Writer"},
			ToolCalls: []models.ToolCall{{Name: "web_search"}},
		}
		ev := &models.Event{Metadata: models.Meta{models.MetaTargetID: "user-1"}}
		meta := messageMeta(payload, ev, "", nil)
		assert.Equal(t, "user-1", meta.String(models.MetaTargetID))
	})

	t.Run("empty stays empty", func(t *testing.T) {
		payload := &models.MessagePayload{Sender: models.Sender{Type: models.SenderUser}}
		meta := messageMeta(payload, &models.Event{}, "", nil)
		assert.Empty(t, meta)
	})
}

func TestSenderID(t *testing.T) {
	assert.Equal(t, "id-1", senderID(models.Sender{ID: "id-1", ExternalID: "ext-1", Name: "alice"}))
	assert.Equal(t, "ext-1", senderID(models.Sender{ExternalID: "ext-1", Name: "alice"}))
	assert.Equal(t, "alice", senderID(models.Sender{Name: "alice"}))
	assert.Empty(t, senderID(models.Sender{}))
}

func TestExtractionEnabled(t *testing.T) {
	assert.False(t, extractionEnabled(&config.AgentConfig{Name: "a"}))
	assert.False(t, extractionEnabled(&config.AgentConfig{
		Name: "a", EntityExtraction: &config.EntityExtractionConfig{},
	}))
	assert.True(t, extractionEnabled(&config.AgentConfig{
		Name: "a", EntityExtraction: &config.EntityExtractionConfig{Enabled: true},
	}))
}

func TestExtractionAgent(t *testing.T) {
	on := &config.EntityExtractionConfig{Enabled: true}
	curator := &config.AgentConfig{Name: "Curator", EntityExtraction: on}
	writer := &config.AgentConfig{Name: "Writer"}
	agents := config.NewAgentRegistry([]*config.AgentConfig{curator, writer})

	t.Run("extracting target wins", func(t *testing.T) {
		got := extractionAgent(agents, curator, models.Sender{Type: models.SenderUser})
		assert.Same(t, curator, got)
	})

	t.Run("non-extracting target yields nothing for user senders", func(t *testing.T) {
		assert.Nil(t, extractionAgent(agents, writer, models.Sender{Type: models.SenderUser}))
	})

	t.Run("final reply falls back to the sending agent", func(t *testing.T) {
		got := extractionAgent(agents, nil, models.Sender{Type: models.SenderAgent, ID: "Curator"})
		assert.Same(t, curator, got)
	})

	t.Run("sending agent without extraction stays off", func(t *testing.T) {
		assert.Nil(t, extractionAgent(agents, nil, models.Sender{Type: models.SenderAgent, ID: "Writer"}))
	})
}
