package runtime_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/pkg/config"
	"github.com/weftlabs/weft/pkg/database"
	"github.com/weftlabs/weft/pkg/events"
	"github.com/weftlabs/weft/pkg/llm"
	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/runtime"
	"github.com/weftlabs/weft/test/util"
)

// setupRuntime builds a full runtime on an isolated schema of the shared
// test database. mutate adjusts the config before the runtime starts.
func setupRuntime(t *testing.T, chat llm.ChatProvider, mutate func(*config.Config)) *runtime.Runtime {
	t.Helper()
	return setupRuntimeWith(t, runtime.Providers{Chat: chat}, mutate)
}

// setupRuntimeWith is setupRuntime for tests that also need an embedder or
// a custom asset store.
func setupRuntimeWith(t *testing.T, providers runtime.Providers, mutate func(*config.Config)) *runtime.Runtime {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	base := util.GetBaseConnectionString(t)
	schema := util.GenerateSchemaName(t)

	boot, err := database.New(ctx, &config.DatabaseConfig{DSN: base, MaxConns: 2, MinConns: 1})
	require.NoError(t, err)
	require.NoError(t, boot.EnsureSchema(ctx, schema))
	t.Cleanup(func() {
		_, _ = boot.Pool().Exec(context.Background(),
			fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema))
		boot.Close()
	})

	cfg := &config.Config{
		Database: &config.DatabaseConfig{
			DSN:      util.AddSearchPathToConnString(base, schema),
			MaxConns: 5,
			MinConns: 1,
		},
		Queue: &config.QueueConfig{
			WorkerCount:             2,
			PollInterval:            100 * time.Millisecond,
			LeaseTTL:                10 * time.Second,
			LeaseRenewInterval:      100 * time.Millisecond,
			EventTimeout:            10 * time.Second,
			GracefulShutdownTimeout: 5 * time.Second,
			ExpireSweepInterval:     time.Hour,
			OrphanSweepInterval:     time.Hour,
			UserUpsertDebounce:      time.Minute,
		},
		RAG:           config.DefaultRAGConfig(),
		Assets:        &config.AssetConfig{Backend: config.AssetBackendMemory},
		Observability: &config.ObservabilityConfig{},
		Defaults:      config.DefaultDefaults(),
		AgentRegistry: config.NewAgentRegistry([]*config.AgentConfig{
			{Name: "Assistant", Model: "scripted"},
		}),
	}
	if mutate != nil {
		mutate(cfg)
	}

	rt, err := runtime.New(ctx, cfg, providers)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Stop(context.Background()) })
	return rt
}

// collectRun drains the handle's event stream until it closes.
func collectRun(t *testing.T, h *runtime.RunHandle, timeout time.Duration) []*events.StreamEvent {
	t.Helper()
	var got []*events.StreamEvent
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("event stream did not close; got %d events", len(got))
		}
	}
}

func eventTypes(evs []*events.StreamEvent) []models.EventType {
	out := make([]models.EventType, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func TestRunSingleAgentReply(t *testing.T) {
	chat := util.NewScriptedChat(util.ScriptedReply{Text: "Hello there", TokenSize: 4})
	rt := setupRuntime(t, chat, nil)
	ctx := context.Background()

	h, err := rt.Run(ctx, runtime.RunMessage{
		Content: "Hi",
		Sender:  models.Sender{Type: models.SenderUser, Name: "Alex"},
		Thread:  models.ThreadSpec{ExternalID: "t1"},
	}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, h.QueueID)
	require.NotEmpty(t, h.ThreadID)

	got := collectRun(t, h, 15*time.Second)
	types := eventTypes(got)

	// The submitted message opens the stream and the drain closes it, with
	// the agent turn in between.
	require.GreaterOrEqual(t, len(got), 5)
	assert.Equal(t, models.EventNewMessage, types[0])
	assert.Equal(t, models.EventQueueDrained, types[len(types)-1])

	llmIdx, firstTokenIdx := -1, -1
	var tokens []string
	completions := 0
	for i, ev := range got {
		switch ev.Type {
		case models.EventLLMCall:
			llmIdx = i
		case models.EventToken:
			if firstTokenIdx == -1 {
				firstTokenIdx = i
			}
			var tp models.TokenPayload
			require.NoError(t, json.Unmarshal(ev.Payload, &tp))
			if tp.IsComplete {
				completions++
			} else {
				tokens = append(tokens, tp.Token)
			}
		}
	}
	require.NotEqual(t, -1, llmIdx, "stream must show the agent turn")
	require.NotEqual(t, -1, firstTokenIdx)
	assert.Less(t, llmIdx, firstTokenIdx, "tokens follow their call")
	assert.Equal(t, "Hello there", strings.Join(tokens, ""))
	assert.Equal(t, 1, completions, "exactly one completion marker per call")

	// The agent's reply is the last NEW_MESSAGE, routed back at the sender.
	var reply models.MessagePayload
	for i := len(got) - 1; i >= 0; i-- {
		if got[i].Type == models.EventNewMessage {
			require.NoError(t, json.Unmarshal(got[i].Payload, &reply))
			break
		}
	}
	assert.Equal(t, models.SenderAgent, reply.Sender.Type)
	assert.Equal(t, "Assistant", reply.Sender.Name)
	assert.Equal(t, "Hello there", reply.Content)
	assert.Equal(t, "Alex", reply.Metadata.String(models.MetaTargetID))

	<-h.Done()
	assert.NoError(t, h.Err())
	assert.Equal(t, runtime.StatusCompleted, h.Status())

	msgs, err := rt.Store().ListMessages(ctx, h.ThreadID, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2, "user message and agent reply")

	calls := chat.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Assistant", calls[0].AgentID)
	assert.Equal(t, "scripted", calls[0].Model)
	assert.Equal(t, h.ThreadID, calls[0].ThreadID)
}

func twoAgents(cfg *config.Config) {
	cfg.AgentRegistry = config.NewAgentRegistry([]*config.AgentConfig{
		{Name: "Researcher", Model: "scripted"},
		{Name: "Writer", Model: "scripted"},
	})
}

func TestRunMentionRouting(t *testing.T) {
	chat := util.NewScriptedChat(util.ScriptedReply{Text: "On it."})
	rt := setupRuntime(t, chat, twoAgents)
	ctx := context.Background()

	h, err := rt.Run(ctx, runtime.RunMessage{
		Content: "@Writer, hello",
		Sender:  models.Sender{Type: models.SenderUser, Name: "Alex"},
	}, nil)
	require.NoError(t, err)

	got := collectRun(t, h, 15*time.Second)

	var llmCalls []models.LLMCallPayload
	for _, ev := range got {
		if ev.Type == models.EventLLMCall {
			var p models.LLMCallPayload
			require.NoError(t, json.Unmarshal(ev.Payload, &p))
			llmCalls = append(llmCalls, p)
		}
	}
	// The mention outranks the default agent: Writer is called, Researcher
	// never is.
	require.Len(t, llmCalls, 1)
	assert.Equal(t, "Writer", llmCalls[0].AgentName)

	calls := chat.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Writer", calls[0].AgentID)

	<-h.Done()
	assert.Equal(t, runtime.StatusCompleted, h.Status())
}

func TestRunMultiAgentChain(t *testing.T) {
	chat := util.NewScriptedChat(
		util.ScriptedReply{Text: "Findings compiled."},
		util.ScriptedReply{Text: "Draft complete."},
	)
	rt := setupRuntime(t, chat, twoAgents)
	ctx := context.Background()

	h, err := rt.Run(ctx, runtime.RunMessage{
		Content: "@Researcher and @Writer, collaborate",
		Sender:  models.Sender{Type: models.SenderUser, Name: "Alex"},
	}, nil)
	require.NoError(t, err)

	got := collectRun(t, h, 20*time.Second)

	var llmCalls []models.LLMCallPayload
	var agentMsgs []models.MessagePayload
	for _, ev := range got {
		switch ev.Type {
		case models.EventLLMCall:
			var p models.LLMCallPayload
			require.NoError(t, json.Unmarshal(ev.Payload, &p))
			llmCalls = append(llmCalls, p)
		case models.EventNewMessage:
			var p models.MessagePayload
			require.NoError(t, json.Unmarshal(ev.Payload, &p))
			if p.Sender.Type == models.SenderAgent {
				agentMsgs = append(agentMsgs, p)
			}
		}
	}

	// First mention gets the call, second waits in the queue.
	require.Len(t, llmCalls, 2)
	assert.Equal(t, "Researcher", llmCalls[0].AgentName)
	assert.Equal(t, []string{"Writer"}, llmCalls[0].TargetQueue)
	assert.Equal(t, "Alex", llmCalls[0].SourceSenderID)
	assert.Equal(t, "Writer", llmCalls[1].AgentName)
	assert.Empty(t, llmCalls[1].TargetQueue)

	// Researcher's plain reply advances the queue to Writer; Writer's reply
	// lands back at the user, which ends the chain.
	require.Len(t, agentMsgs, 2)
	assert.Equal(t, "Researcher", agentMsgs[0].Sender.Name)
	assert.Equal(t, "Writer", agentMsgs[0].Metadata.String(models.MetaTargetID))
	assert.Equal(t, "Writer", agentMsgs[1].Sender.Name)
	assert.Equal(t, "Alex", agentMsgs[1].Metadata.String(models.MetaTargetID))

	<-h.Done()
	assert.NoError(t, h.Err())
	assert.Equal(t, runtime.StatusCompleted, h.Status())

	msgs, err := rt.Store().ListMessages(ctx, h.ThreadID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3, "user message and both agent replies")
	assert.Equal(t, "Researcher", msgs[0].Metadata.String(models.MetaTargetID))
	assert.Equal(t, []string{"Writer"}, msgs[0].Metadata.StringSlice(models.MetaTargetQueue))

	require.Len(t, chat.Calls(), 2)
}

func TestRunToolBatchFollowUp(t *testing.T) {
	chat := util.NewScriptedChat(
		util.ScriptedReply{ToolCalls: []llm.ToolCallChunk{
			{Name: "save_asset", Arguments: `{"content":"meeting notes","name":"notes.txt"}`},
			{Name: "ingest_document", Arguments: `{"source":"text:the release ships a durable queue","title":"release notes"}`},
		}},
		util.ScriptedReply{Text: "Saved and ingested."},
	)
	rt := setupRuntimeWith(t, runtime.Providers{Chat: chat, Embedder: &util.HashEmbedder{}}, nil)
	ctx := context.Background()

	h, err := rt.Run(ctx, runtime.RunMessage{
		Content: "Save these notes, then ingest the release notes",
		Sender:  models.Sender{Type: models.SenderUser, Name: "Sam"},
	}, nil)
	require.NoError(t, err)

	got := collectRun(t, h, 20*time.Second)

	var toolCalls []models.ToolCallPayload
	llmCalls, assetsCreated := 0, 0
	for _, ev := range got {
		switch ev.Type {
		case models.EventToolCall:
			var p models.ToolCallPayload
			require.NoError(t, json.Unmarshal(ev.Payload, &p))
			toolCalls = append(toolCalls, p)
		case models.EventLLMCall:
			llmCalls++
		case models.EventAssetCreated:
			assetsCreated++
		}
	}

	// Both calls share one batch so the last result can trigger the
	// follow-up.
	require.Len(t, toolCalls, 2)
	assert.NotEmpty(t, toolCalls[0].Call.BatchID)
	assert.Equal(t, toolCalls[0].Call.BatchID, toolCalls[1].Call.BatchID)
	assert.Equal(t, 2, toolCalls[0].Call.BatchSize)
	assert.ElementsMatch(t, []int{0, 1},
		[]int{toolCalls[0].Call.BatchIndex, toolCalls[1].Call.BatchIndex})
	assert.Equal(t, 1, assetsCreated)

	// The initial turn plus exactly one observation of the results.
	assert.Equal(t, 2, llmCalls)
	require.Len(t, chat.Calls(), 2)

	<-h.Done()
	assert.Equal(t, runtime.StatusCompleted, h.Status())

	msgs, err := rt.Store().ListMessages(ctx, h.ThreadID, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	assert.Equal(t, models.SenderUser, msgs[0].SenderType)
	assert.Len(t, msgs[1].ToolCalls, 2)
	assert.Equal(t, models.SenderTool, msgs[2].SenderType)
	assert.Equal(t, models.SenderTool, msgs[3].SenderType)
	assert.Equal(t, "Saved and ingested.", msgs[4].Content)

	// The ingest result names a document that really landed in the thread's
	// namespace.
	var ingested struct {
		DocumentID string `json:"documentId"`
		Status     string `json:"status"`
		ChunkCount int    `json:"chunkCount"`
	}
	for _, m := range msgs {
		if m.SenderType == models.SenderTool && m.SenderName == "ingest_document" {
			require.NoError(t, json.Unmarshal([]byte(m.Content), &ingested))
		}
	}
	require.NotEmpty(t, ingested.DocumentID)
	assert.Equal(t, "ready", ingested.Status)

	doc, err := rt.Store().GetDocument(ctx, ingested.DocumentID)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "thread:"+h.ThreadID, doc.Namespace)

	chunks, err := rt.Store().ListDocumentChunks(ctx, ingested.DocumentID)
	require.NoError(t, err)
	assert.Len(t, chunks, doc.ChunkCount)
	assert.Equal(t, ingested.ChunkCount, doc.ChunkCount)
}

func TestRunIngestDocumentThroughQueue(t *testing.T) {
	chat := util.NewScriptedChat()
	rt := setupRuntimeWith(t, runtime.Providers{Chat: chat, Embedder: &util.HashEmbedder{}}, nil)
	ctx := context.Background()

	const text = "the queue persists every event before dispatch"
	h, err := rt.IngestDocument(ctx, runtime.IngestRequest{
		Source: "text:" + text,
		Title:  "queue notes",
	}, &runtime.RunOptions{AckMode: runtime.AckOnComplete})
	require.NoError(t, err)
	require.Equal(t, runtime.StatusCompleted, h.Status())
	assert.Equal(t, "thread:"+h.ThreadID, h.Namespace)

	sum := sha256.Sum256([]byte(text))
	doc, err := rt.Store().FindDocumentByHash(ctx, h.Namespace, hex.EncodeToString(sum[:]))
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, models.DocumentStatusReady, doc.Status)
	assert.Equal(t, 1, doc.ChunkCount)
	assert.Equal(t, "queue notes", doc.Metadata.String("title"))

	// Re-submitting the same source drains without growing the store.
	h2, err := rt.IngestDocument(ctx, runtime.IngestRequest{
		Source: "text:" + text,
		Thread: models.ThreadSpec{ID: h.ThreadID},
	}, &runtime.RunOptions{AckMode: runtime.AckOnComplete})
	require.NoError(t, err)
	require.Equal(t, runtime.StatusCompleted, h2.Status())
	assert.Equal(t, h.ThreadID, h2.ThreadID)

	chunks, err := rt.Store().ListDocumentChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)

	assert.Empty(t, chat.Calls(), "ingestion never touches the chat provider")
}

func TestRunIngestDocumentRequiresEmbedder(t *testing.T) {
	chat := util.NewScriptedChat()
	rt := setupRuntime(t, chat, nil)

	_, err := rt.IngestDocument(context.Background(), runtime.IngestRequest{Source: "text:x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding provider")

	_, err = rt.IngestDocument(context.Background(), runtime.IngestRequest{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source")
}

func TestRunOnCompleteBlocksUntilDrained(t *testing.T) {
	chat := util.NewScriptedChat(util.ScriptedReply{Text: "done"})
	rt := setupRuntime(t, chat, nil)
	ctx := context.Background()

	h, err := rt.Run(ctx, runtime.RunMessage{
		Content: "ping",
		Sender:  models.Sender{Type: models.SenderUser, Name: "Sam"},
	}, &runtime.RunOptions{AckMode: runtime.AckOnComplete})
	require.NoError(t, err)

	// Run already waited: the handle is terminal on return.
	select {
	case <-h.Done():
	default:
		t.Fatal("onComplete returned before the run finished")
	}
	assert.Equal(t, runtime.StatusCompleted, h.Status())

	msgs, err := rt.Store().ListMessages(ctx, h.ThreadID, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestRunDeferredThreadWaitsForFlush(t *testing.T) {
	chat := util.NewScriptedChat(util.ScriptedReply{Text: "later"})
	rt := setupRuntime(t, chat, nil)
	ctx := context.Background()

	h, err := rt.Run(ctx, runtime.RunMessage{
		Content: "queue this",
		Sender:  models.Sender{Type: models.SenderUser, Name: "Sam"},
		Thread:  models.ThreadSpec{Mode: models.ThreadModeDeferred},
	}, nil)
	require.NoError(t, err)

	// No worker starts for a deferred thread; the event stays pending.
	time.Sleep(300 * time.Millisecond)
	evt, err := rt.Store().GetEvent(ctx, h.QueueID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusPending, evt.Status)

	require.NoError(t, rt.Flush(ctx, h.ThreadID))
	select {
	case <-h.Done():
	case <-time.After(15 * time.Second):
		t.Fatal("flush did not drain the deferred thread")
	}
	assert.Equal(t, runtime.StatusCompleted, h.Status())
}

func TestRunCancelAbortsWorker(t *testing.T) {
	gate := make(chan struct{})
	chat := util.NewScriptedChat(util.ScriptedReply{Text: "never sent", Gate: gate})
	rt := setupRuntime(t, chat, nil)
	ctx := context.Background()

	h, err := rt.Run(ctx, runtime.RunMessage{
		Content: "long think",
		Sender:  models.Sender{Type: models.SenderUser, Name: "Sam"},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { close(gate) })

	// Wait until the agent turn is underway, then abort it.
	waitFor := time.After(10 * time.Second)
	for len(chat.Calls()) == 0 {
		select {
		case <-waitFor:
			t.Fatal("model call never started")
		case <-time.After(20 * time.Millisecond):
		}
	}
	h.Cancel()

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not resolve the handle")
	}
	assert.NoError(t, h.Err())
	assert.Equal(t, runtime.StatusCancelled, h.Status())
}

func TestRunFailureSurfacesOnHandle(t *testing.T) {
	// The script has no reply for a second agent, so the turn fails; the
	// submitted message itself still completes, and the drain resolves the
	// handle cleanly with the failure visible on the stream.
	chat := util.NewScriptedChat()
	rt := setupRuntime(t, chat, nil)
	ctx := context.Background()

	h, err := rt.Run(ctx, runtime.RunMessage{
		Content: "Hi",
		Sender:  models.Sender{Type: models.SenderUser, Name: "Sam"},
	}, nil)
	require.NoError(t, err)

	got := collectRun(t, h, 15*time.Second)
	var failures int
	for _, ev := range got {
		if ev.Type == models.EventFailed {
			failures++
		}
	}
	assert.Equal(t, 1, failures, "the agent turn failure is observable")

	<-h.Done()
	assert.NoError(t, h.Err(), "a mid-chain failure does not fail the run")
	assert.Equal(t, runtime.StatusCompleted, h.Status())
}

func TestRunPinnedNamespace(t *testing.T) {
	chat := util.NewScriptedChat(util.ScriptedReply{Text: "scoped"})
	rt := setupRuntime(t, chat, nil)
	ctx := context.Background()

	h, err := rt.Run(ctx, runtime.RunMessage{
		Content: "hello",
		Sender:  models.Sender{Type: models.SenderUser, Name: "Sam"},
	}, &runtime.RunOptions{Namespace: "acme:global", AckMode: runtime.AckOnComplete})
	require.NoError(t, err)
	assert.Equal(t, "acme:global", h.Namespace)

	evt, err := rt.Store().GetEvent(ctx, h.QueueID)
	require.NoError(t, err)
	assert.Equal(t, "acme:global", evt.Namespace)

	thread, err := rt.Store().GetThread(ctx, h.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, "acme:global", thread.Namespace)
}

func TestRunDefaultNamespaceScopesToThread(t *testing.T) {
	chat := util.NewScriptedChat(util.ScriptedReply{Text: "ok"})
	rt := setupRuntime(t, chat, nil)

	h, err := rt.Run(context.Background(), runtime.RunMessage{
		Content: "hello",
		Sender:  models.Sender{Type: models.SenderUser, Name: "Sam"},
	}, &runtime.RunOptions{AckMode: runtime.AckOnComplete})
	require.NoError(t, err)
	assert.Equal(t, "thread:"+h.ThreadID, h.Namespace)
}

func TestRunTenantSchema(t *testing.T) {
	chat := util.NewScriptedChat(util.ScriptedReply{Text: "tenant reply"})
	rt := setupRuntime(t, chat, func(cfg *config.Config) {
		cfg.Database.AutoProvisionSchemas = true
	})
	ctx := context.Background()

	tenant := "tenant_" + strings.ToLower(models.NewID()[:12])
	t.Cleanup(func() {
		c, err := database.New(context.Background(),
			&config.DatabaseConfig{DSN: util.GetBaseConnectionString(t), MaxConns: 1, MinConns: 1})
		if err == nil {
			_, _ = c.Pool().Exec(context.Background(), "DROP SCHEMA IF EXISTS "+tenant+" CASCADE")
			c.Close()
		}
	})

	h, err := rt.Run(ctx, runtime.RunMessage{
		Content: "hello tenant",
		Sender:  models.Sender{Type: models.SenderUser, Name: "Sam"},
	}, &runtime.RunOptions{Schema: tenant, AckMode: runtime.AckOnComplete})
	require.NoError(t, err)
	require.Equal(t, runtime.StatusCompleted, h.Status())

	// The conversation lives in the tenant schema, not the default one.
	tenantStore := rt.Store().WithSchema(tenant)
	thread, err := tenantStore.GetThread(ctx, h.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, h.ThreadID, thread.ID)

	msgs, err := tenantStore.ListMessages(ctx, h.ThreadID, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	_, err = rt.Store().GetThread(ctx, h.ThreadID)
	assert.Error(t, err, "default schema must not see the tenant thread")
}

func TestRunValidation(t *testing.T) {
	chat := util.NewScriptedChat()
	rt := setupRuntime(t, chat, nil)

	_, err := rt.Run(context.Background(), runtime.RunMessage{
		Sender: models.Sender{Type: models.SenderUser, Name: "Sam"},
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content")
}

func TestRunHealth(t *testing.T) {
	chat := util.NewScriptedChat()
	rt := setupRuntime(t, chat, nil)

	h := rt.Health(context.Background())
	assert.True(t, h.Healthy)
	assert.True(t, h.Pool.Healthy)
	require.NotNil(t, h.Database)
	assert.Equal(t, "healthy", h.Database.Status)
}
