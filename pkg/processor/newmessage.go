package processor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weftlabs/weft/pkg/config"
	"github.com/weftlabs/weft/pkg/events"
	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/namespace"
	"github.com/weftlabs/weft/pkg/rag"
)

// NewMessageProcessor persists incoming messages, resolves who speaks
// next, and fans the work out: LLM calls for addressed agents, tool calls
// for messages carrying them, follow-up calls for tool results, and async
// entity extraction.
type NewMessageProcessor struct{}

func (*NewMessageProcessor) EventType() models.EventType { return models.EventNewMessage }
func (*NewMessageProcessor) Priority() int               { return 0 }

func (*NewMessageProcessor) ShouldProcess(context.Context, *models.Event, *Deps) bool { return true }

func (p *NewMessageProcessor) Process(ctx context.Context, ev *models.Event, deps *Deps) (*Result, error) {
	var payload models.MessagePayload
	if err := ev.DecodePayload(&payload); err != nil {
		return nil, Permanent(fmt.Errorf("decode message payload: %w", err))
	}

	if payload.Sender.Type == models.SenderUser && deps.Upserts != nil {
		deps.Upserts.MaybeUpsert(ctx, deps.Store, payload.Sender, ev.Namespace)
	}

	// Routing is resolved before persisting so the stored message carries
	// its final target, which the history generator and consumers read.
	var targetID string
	var targetQueue []string
	hasToolCalls := len(payload.ToolCalls) > 0
	if payload.Sender.Type != models.SenderTool && !hasToolCalls {
		targetID, targetQueue = resolveRouting(&payload, ev, deps.Agents)
	}

	msg := &models.Message{
		// The event id doubles as the message id, making the persist
		// idempotent across re-dispatches of the same event.
		ID:          ev.ID,
		ThreadID:    ev.ThreadID,
		SenderID:    senderID(payload.Sender),
		SenderType:  payload.Sender.Type,
		SenderName:  payload.Sender.Name,
		Content:     payload.Content,
		ToolCalls:   payload.ToolCalls,
		ToolCallID:  payload.ToolCallID,
		Attachments: payload.Attachments,
		Metadata:    messageMeta(&payload, ev, targetID, targetQueue),
	}
	msg, node, _, err := deps.Store.CreateMessage(ctx, msg, ev.Namespace)
	if err != nil {
		return nil, err
	}

	switch {
	case hasToolCalls:
		return p.produceToolCalls(&payload, ev), nil
	case payload.Sender.Type == models.SenderTool:
		return p.processToolResult(ctx, ev, msg, deps)
	default:
		return p.routeMessage(ctx, ev, &payload, msg, node, targetID, targetQueue, deps)
	}
}

// produceToolCalls turns a message carrying tool calls into one TOOL_CALL
// event per call. The reply target in effect rides along so it survives
// the tool round trip.
func (p *NewMessageProcessor) produceToolCalls(payload *models.MessagePayload, ev *models.Event) *Result {
	agentID := ""
	agentName := ""
	if payload.Sender.Type == models.SenderAgent {
		agentID = senderID(payload.Sender)
		agentName = payload.Sender.Name
	}
	sourceSender := ev.Metadata.String(models.MetaTargetID)
	if sourceSender == "" {
		sourceSender = senderID(payload.Sender)
	}

	produced := make([]models.EnqueueInput, 0, len(payload.ToolCalls))
	for _, call := range payload.ToolCalls {
		produced = append(produced, models.EnqueueInput{
			Type: models.EventToolCall,
			Payload: models.ToolCallPayload{
				Call:           call,
				AgentID:        agentID,
				AgentName:      agentName,
				SourceEventID:  ev.ID,
				SourceSenderID: sourceSender,
				TargetQueue:    ev.Metadata.StringSlice(models.MetaTargetQueue),
			},
			ParentEventID: ev.ID,
			TraceID:       ev.TraceID,
		})
	}
	return &Result{Produced: produced}
}

// processToolResult decides whether a persisted tool result completes its
// batch and, when it does, emits the follow-up LLM call so the agent can
// observe the results. Non-batched results follow up immediately.
func (p *NewMessageProcessor) processToolResult(ctx context.Context, ev *models.Event, msg *models.Message, deps *Deps) (*Result, error) {
	agentID := ev.Metadata.String(models.MetaAgentID)
	agent, ok := deps.Agents.Lookup(agentID)
	if !ok {
		slog.WarnContext(ctx, "Tool result for unknown agent, no follow-up",
			"agent_id", agentID, "thread_id", ev.ThreadID)
		return &Result{}, nil
	}

	batch, isBatch := ev.Metadata.Batch()
	if isBatch {
		done, err := deps.Store.CountBatchResults(ctx, ev.ThreadID, batch.ID)
		if err != nil {
			return nil, err
		}
		if done < batch.Size {
			return &Result{}, nil
		}
	}

	queue := ev.Metadata.StringSlice(models.MetaTargetQueue)
	sourceSender := ev.Metadata.String(models.MetaSourceSender)
	// Empty query: retrieving against tool-result JSON would only add noise.
	input, err := buildLLMCall(ctx, deps, agent, ev, queue, msg.ID, sourceSender, "")
	if err != nil {
		return nil, err
	}

	if !isBatch {
		return &Result{Produced: []models.EnqueueInput{input}}, nil
	}
	// Last member in: exactly one follow-up per batch, enforced by the
	// dedupe key even if two processes race here.
	followUp, err := deps.Store.EnqueueUnique(ctx, ev.ThreadID, ev.Namespace, input, "batch:"+batch.ID)
	if err != nil {
		return nil, err
	}
	// A deduped insert returns nil; only the winner announces the event.
	if followUp != nil && deps.Broker != nil {
		if err := deps.Broker.Publish(ctx, events.FromQueueEvent(followUp)); err != nil {
			slog.DebugContext(ctx, "Follow-up observation not published",
				"event_id", followUp.ID, "error", err)
		}
	}
	return &Result{}, nil
}

// routeMessage turns a routed message into an LLM call for the addressed
// agent, plus entity extraction when the agent has it enabled. Messages
// addressed to a user (or to nobody) end the chain.
func (p *NewMessageProcessor) routeMessage(ctx context.Context, ev *models.Event, payload *models.MessagePayload, msg *models.Message, node *models.KnowledgeNode, targetID string, targetQueue []string, deps *Deps) (*Result, error) {
	var targetAgent *config.AgentConfig
	if targetID != "" {
		targetAgent, _ = deps.Agents.Lookup(targetID)
	}
	// An agent addressing itself would loop forever; end the chain instead.
	if targetAgent != nil && payload.Sender.Type == models.SenderAgent && matchesAgent(targetAgent, senderID(payload.Sender)) {
		slog.DebugContext(ctx, "Agent addressed itself, ending chain",
			"agent", targetAgent.Name, "thread_id", ev.ThreadID)
		targetAgent = nil
	}

	result := &Result{}
	if targetAgent != nil {
		// For chained hops the initiating sender arrives on the event; the
		// called agent replies to them once the queue runs out, which is what
		// ends an agent-to-agent chain.
		sourceSender := ev.Metadata.String(models.MetaSourceSender)
		if sourceSender == "" {
			sourceSender = senderID(payload.Sender)
		}
		input, err := buildLLMCall(ctx, deps, targetAgent, ev, targetQueue, msg.ID, sourceSender, payload.Content)
		if err != nil {
			return nil, err
		}
		result.Produced = append(result.Produced, input)
	}

	if ex := extractionAgent(deps.Agents, targetAgent, payload.Sender); ex != nil && payload.Content != "" && node != nil {
		result.Produced = append(result.Produced, models.EnqueueInput{
			Type: models.EventEntityExtract,
			Payload: models.EntityExtractPayload{
				MessageID:  msg.ID,
				NodeID:     node.ID,
				Content:    payload.Content,
				Namespace:  ev.Namespace,
				SenderName: payload.Sender.DisplayName(),
				AgentID:    ex.EffectiveID(),
			},
			ParentEventID: ev.ID,
			TraceID:       ev.TraceID,
		})
	}
	return result, nil
}

// extractionAgent picks whose extraction settings govern a message: the
// addressed agent when it extracts, else the sending agent. A chain's
// final reply has no agent target but still feeds the graph.
func extractionAgent(agents *config.AgentRegistry, target *config.AgentConfig, sender models.Sender) *config.AgentConfig {
	if target != nil && extractionEnabled(target) {
		return target
	}
	if sender.Type == models.SenderAgent && agents != nil {
		if a, ok := agents.Lookup(senderID(sender)); ok && extractionEnabled(a) {
			return a
		}
	}
	return nil
}

// resolveRouting applies the target fallback chain. User messages route to
// their first mention, then the default agent, then whatever the caller
// set; agent messages trust the routing metadata the LLM-call processor
// already computed, re-deriving from content only for chained hops that
// arrive without it.
func resolveRouting(payload *models.MessagePayload, ev *models.Event, agents *config.AgentRegistry) (string, []string) {
	metaTarget := ev.Metadata.String(models.MetaTargetID)
	metaQueue := ev.Metadata.StringSlice(models.MetaTargetQueue)

	if payload.Sender.Type == models.SenderAgent {
		if metaTarget != "" {
			return metaTarget, metaQueue
		}
		return ResolveAgentTarget(payload.Content, metaQueue, "")
	}

	if mentions := ExtractMentions(payload.Content); len(mentions) > 0 {
		return mentions[0], mentions[1:]
	}
	if first := agents.First(); first != nil {
		return first.Name, metaQueue
	}
	return metaTarget, metaQueue
}

// buildLLMCall assembles the per-agent conversation view and, when the
// agent retrieves automatically, the knowledge preamble. Retrieval
// failures degrade to a call without the preamble.
func buildLLMCall(ctx context.Context, deps *Deps, agent *config.AgentConfig, ev *models.Event, targetQueue []string, sourceMessageID, sourceSenderID, query string) (models.EnqueueInput, error) {
	opts := historyOptions(deps.Cfg, agent)
	msgs, err := deps.Store.ListMessages(ctx, ev.ThreadID, opts.MaxMessages)
	if err != nil {
		return models.EnqueueInput{}, err
	}
	history := BuildHistory(agent, msgs, opts)

	if agent.RAG.Auto() && deps.Retriever != nil && query != "" {
		chunks, err := deps.Retriever.Search(ctx, query, rag.SearchOptions{
			Namespaces: ragNamespaces(deps.Cfg, agent, ev.Namespace, ev.ThreadID),
			TopK:       agent.RAG.TopK,
			SearchType: agent.RAG.SearchType,
		})
		if err != nil {
			slog.WarnContext(ctx, "Knowledge retrieval failed, continuing without context",
				"agent", agent.Name, "error", err)
		} else if len(chunks) > 0 {
			history = InsertPreamble(history, rag.FormatContext(chunks))
		}
	}

	return models.EnqueueInput{
		Type: models.EventLLMCall,
		Payload: models.LLMCallPayload{
			AgentID:         agent.EffectiveID(),
			AgentName:       agent.Name,
			Messages:        history,
			SourceMessageID: sourceMessageID,
			SourceSenderID:  sourceSenderID,
			TargetQueue:     targetQueue,
		},
		ParentEventID: ev.ID,
		TraceID:       ev.TraceID,
	}, nil
}

// ragNamespaces expands an agent's retrieval scopes into concrete
// namespaces: the run's own namespace for thread scope, and derived ones
// for agent and global scope.
func ragNamespaces(cfg *config.Config, agent *config.AgentConfig, eventNS, threadID string) []string {
	scopes := agent.RAG.Scopes
	if len(scopes) == 0 {
		scopes = []string{string(namespace.ScopeThread), string(namespace.ScopeAgent), string(namespace.ScopeGlobal)}
	}
	prefix := cfg.Defaults.NamespacePrefix

	seen := make(map[string]bool, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		var ns string
		switch namespace.Scope(s) {
		case namespace.ScopeThread:
			ns = eventNS
			if ns == "" {
				ns = namespace.Resolve(prefix, namespace.ScopeThread, threadID)
			}
		case namespace.ScopeAgent:
			ns = namespace.Resolve(prefix, namespace.ScopeAgent, agent.EffectiveID())
		case namespace.ScopeGlobal:
			ns = namespace.Resolve(prefix, namespace.ScopeGlobal, "")
		default:
			continue
		}
		if ns != "" && !seen[ns] {
			seen[ns] = true
			out = append(out, ns)
		}
	}
	return out
}

// messageMeta merges the caller's message metadata with the routing and
// batch bookkeeping the runtime stamped on the event.
func messageMeta(payload *models.MessagePayload, ev *models.Event, targetID string, targetQueue []string) models.Meta {
	meta := payload.Metadata.Clone()

	switch {
	case payload.Sender.Type == models.SenderTool:
		if batch, ok := ev.Metadata.Batch(); ok {
			meta[models.MetaBatch] = batch
		}
		if aid := ev.Metadata.String(models.MetaAgentID); aid != "" {
			meta[models.MetaAgentID] = aid
		}
		if ss := ev.Metadata.String(models.MetaSourceSender); ss != "" {
			meta[models.MetaSourceSender] = ss
		}
		if q := ev.Metadata.StringSlice(models.MetaTargetQueue); len(q) > 0 {
			meta[models.MetaTargetQueue] = q
		}

	case len(payload.ToolCalls) > 0:
		if t := ev.Metadata.String(models.MetaTargetID); t != "" {
			meta[models.MetaTargetID] = t
		}
		if q := ev.Metadata.StringSlice(models.MetaTargetQueue); len(q) > 0 {
			meta[models.MetaTargetQueue] = q
		}

	default:
		if targetID != "" {
			meta[models.MetaTargetID] = targetID
		}
		if len(targetQueue) > 0 {
			meta[models.MetaTargetQueue] = targetQueue
		}
	}
	return meta
}

func senderID(s models.Sender) string {
	if s.ID != "" {
		return s.ID
	}
	if s.ExternalID != "" {
		return s.ExternalID
	}
	return s.Name
}

func extractionEnabled(agent *config.AgentConfig) bool {
	return agent.EntityExtraction != nil && agent.EntityExtraction.Enabled
}
