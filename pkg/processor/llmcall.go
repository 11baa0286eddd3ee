package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/weftlabs/weft/pkg/assets"
	"github.com/weftlabs/weft/pkg/events"
	"github.com/weftlabs/weft/pkg/llm"
	"github.com/weftlabs/weft/pkg/models"
)

// LLMCallProcessor runs one agent turn: it resolves asset references,
// invokes the chat provider with streaming, relays tokens to the run's
// stream, and turns the response into the next NEW_MESSAGE with routing
// metadata and normalized tool calls.
type LLMCallProcessor struct{}

func (*LLMCallProcessor) EventType() models.EventType { return models.EventLLMCall }
func (*LLMCallProcessor) Priority() int               { return 0 }

func (*LLMCallProcessor) ShouldProcess(context.Context, *models.Event, *Deps) bool { return true }

func (p *LLMCallProcessor) Process(ctx context.Context, ev *models.Event, deps *Deps) (*Result, error) {
	var payload models.LLMCallPayload
	if err := ev.DecodePayload(&payload); err != nil {
		return nil, Permanent(fmt.Errorf("decode llm call payload: %w", err))
	}
	agent, ok := deps.Agents.Lookup(payload.AgentID)
	if !ok {
		return nil, Permanent(fmt.Errorf("unknown agent %q", payload.AgentID))
	}

	msgs := payload.Messages
	if deps.Assets != nil && deps.Cfg.Assets.ResolveAssetsInLLM() {
		msgs = assets.ResolveMessages(ctx, deps.Assets, msgs, deps.Cfg.Assets.InlineLimit)
	} else {
		msgs = assets.StripParts(msgs)
	}

	var defs []llm.ToolDefinition
	if deps.Tools != nil {
		defs = deps.Tools.Definitions(agent.Tools)
	}

	req := &llm.ChatRequest{
		ThreadID: ev.ThreadID,
		EventID:  ev.ID,
		AgentID:  payload.AgentID,
		Model:    agent.Model,
		Messages: msgs,
		Tools:    defs,
		Config: llm.GenerationConfig{
			Temperature: agent.Temperature,
			MaxTokens:   agent.MaxTokens,
			Stream:      true,
		},
	}

	inst := deps.Instruments()
	base := []attribute.KeyValue{
		attribute.String("agent", payload.AgentID),
		attribute.String("model", agent.Model),
	}
	start := time.Now()

	stream, err := deps.Chat.Generate(ctx, req)
	if err != nil {
		inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(append(base, attribute.String("status", "error"))...))
		return nil, err
	}

	resp, err := llm.CollectWithCallback(stream, func(kind llm.ChunkType, delta string) {
		if kind != llm.ChunkTypeText || delta == "" {
			return
		}
		publishToken(ctx, deps, ev, payload.AgentName, delta, false)
	})
	// The stream contract: exactly one completion marker per call, success
	// or not, so consumers can stop waiting.
	publishToken(ctx, deps, ev, payload.AgentName, "", true)

	inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(append(base, attribute.String("status", callStatus(err)))...))
	inst.LLMDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(base...))
	if err != nil {
		return nil, err
	}
	if resp.Usage != nil {
		inst.TokenUsage.Add(ctx, int64(resp.Usage.TotalTokens), metric.WithAttributes(base...))
	}

	answer := StripSelfPrefix(resp.Text, agent.Name)
	toolCalls := normalizeToolCalls(resp.ToolCalls)
	if answer == "" && len(toolCalls) == 0 {
		slog.WarnContext(ctx, "Model returned neither text nor tool calls",
			"agent", agent.Name, "thread_id", ev.ThreadID)
		return &Result{}, nil
	}

	targetID, targetQueue := ResolveAgentTarget(answer, payload.TargetQueue, payload.SourceSenderID)
	meta := models.Meta{}
	if targetID != "" {
		meta[models.MetaTargetID] = targetID
	}
	if len(targetQueue) > 0 {
		meta[models.MetaTargetQueue] = targetQueue
	}
	if payload.SourceSenderID != "" {
		// The run's initiator rides the chain so later hops reply to them,
		// not to whichever agent spoke last.
		meta[models.MetaSourceSender] = payload.SourceSenderID
	}

	return &Result{Produced: []models.EnqueueInput{{
		Type: models.EventNewMessage,
		Payload: models.MessagePayload{
			Content:   answer,
			Sender:    models.Sender{ID: agent.EffectiveID(), Type: models.SenderAgent, Name: agent.Name},
			ToolCalls: toolCalls,
			// Routing rides the payload too, so stream subscribers see where
			// the reply is headed.
			Metadata: meta,
		},
		ParentEventID: ev.ID,
		TraceID:       ev.TraceID,
		Metadata:      meta,
	}}}, nil
}

// normalizeToolCalls fills in missing call ids and, for multi-call
// responses, stamps the shared batch so completion can be counted.
func normalizeToolCalls(calls []models.ToolCall) []models.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]models.ToolCall, len(calls))
	copy(out, calls)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = uuid.NewString()
		}
	}
	if len(out) > 1 {
		batchID := uuid.NewString()
		for i := range out {
			out[i].BatchID = batchID
			out[i].BatchSize = len(out)
			out[i].BatchIndex = i
		}
	}
	return out
}

// publishToken pushes one streamed token at the run's subscribers.
// Fire-and-forget: a failed publish never back-pressures the LLM call.
func publishToken(ctx context.Context, deps *Deps, ev *models.Event, agentName, token string, complete bool) {
	if deps.Broker == nil {
		return
	}
	tok, err := events.TokenEvent(ev.ThreadID, ev.ID, models.TokenPayload{
		ThreadID:   ev.ThreadID,
		AgentName:  agentName,
		Token:      token,
		IsComplete: complete,
	})
	if err != nil {
		return
	}
	if err := deps.Broker.Publish(ctx, tok); err != nil {
		slog.DebugContext(ctx, "Token publish failed", "thread_id", ev.ThreadID, "error", err)
	}
}

func callStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
