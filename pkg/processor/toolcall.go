package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/weftlabs/weft/pkg/events"
	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/tools"
)

// ToolCallProcessor executes one tool call and persists the outcome as a
// tool-sender message. Execution failures become error messages the agent
// can read and react to; only cancellation aborts the event itself.
type ToolCallProcessor struct{}

func (*ToolCallProcessor) EventType() models.EventType { return models.EventToolCall }
func (*ToolCallProcessor) Priority() int               { return 0 }

func (*ToolCallProcessor) ShouldProcess(context.Context, *models.Event, *Deps) bool { return true }

func (p *ToolCallProcessor) Process(ctx context.Context, ev *models.Event, deps *Deps) (*Result, error) {
	var payload models.ToolCallPayload
	if err := ev.DecodePayload(&payload); err != nil {
		return nil, Permanent(fmt.Errorf("decode tool call payload: %w", err))
	}
	call := payload.Call

	tctx := &tools.Context{
		ThreadID:    ev.ThreadID,
		SenderID:    payload.AgentID,
		AgentID:     payload.AgentID,
		Namespace:   ev.Namespace,
		Store:       deps.Store,
		Collections: deps.Store.WithNamespace(ev.Namespace),
		Assets:      deps.Assets,
		Agents:      deps.Agents,
		Tools:       deps.Tools,
		Ingestor:    deps.Ingestor,
		Emit: func(sev *events.StreamEvent) {
			if deps.Broker == nil {
				return
			}
			if err := deps.Broker.Publish(ctx, sev); err != nil {
				slog.DebugContext(ctx, "Stream emit failed", "type", sev.Type, "error", err)
			}
		},
	}

	inst := deps.Instruments()
	start := time.Now()

	var result any
	execErr := tools.ErrToolNotFound
	if deps.Tools != nil {
		result, execErr = deps.Tools.Execute(ctx, tctx, call.Name, json.RawMessage(call.Arguments))
	}

	inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", call.Name),
		attribute.String("status", callStatus(execErr)),
	))
	inst.ToolDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("tool", call.Name)))

	var content string
	if execErr != nil {
		if errors.Is(execErr, context.Canceled) {
			return nil, execErr
		}
		slog.WarnContext(ctx, "Tool execution failed",
			"tool", call.Name, "thread_id", ev.ThreadID, "error", execErr)
		content = errorContent(execErr)
	} else {
		buf, err := json.Marshal(result)
		if err != nil {
			content = errorContent(fmt.Errorf("encode tool result: %w", err))
		} else {
			content = string(buf)
		}
	}

	meta := models.Meta{}
	if payload.AgentID != "" {
		meta[models.MetaAgentID] = payload.AgentID
	}
	if payload.SourceSenderID != "" {
		meta[models.MetaSourceSender] = payload.SourceSenderID
	}
	if len(payload.TargetQueue) > 0 {
		meta[models.MetaTargetQueue] = payload.TargetQueue
	}
	if call.BatchID != "" {
		meta[models.MetaBatch] = models.BatchMeta{ID: call.BatchID, Size: call.BatchSize}
	}

	return &Result{Produced: []models.EnqueueInput{{
		Type: models.EventNewMessage,
		Payload: models.MessagePayload{
			Content:    content,
			Sender:     models.Sender{ID: call.Name, Type: models.SenderTool, Name: call.Name},
			ToolCallID: call.ID,
		},
		ParentEventID: ev.ID,
		TraceID:       ev.TraceID,
		Metadata:      meta,
	}}}, nil
}

func errorContent(err error) string {
	buf, merr := json.Marshal(map[string]string{"error": err.Error()})
	if merr != nil {
		return `{"error":"tool execution failed"}`
	}
	return string(buf)
}
