// Package processor contains the event processors the thread worker
// dispatches to: message persistence and routing, LLM calls with token
// streaming, tool execution, entity extraction, and document ingestion.
//
// Processors are registered per event type with a priority; dispatch picks
// the first registered processor whose ShouldProcess accepts the event, so
// embedders can override a built-in by registering at a higher priority.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/weftlabs/weft/pkg/assets"
	"github.com/weftlabs/weft/pkg/config"
	"github.com/weftlabs/weft/pkg/events"
	"github.com/weftlabs/weft/pkg/llm"
	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/observe"
	"github.com/weftlabs/weft/pkg/rag"
	"github.com/weftlabs/weft/pkg/store"
	"github.com/weftlabs/weft/pkg/tools"
)

// ErrNoProcessor is returned by Dispatch when no registered processor
// accepts the event.
var ErrNoProcessor = errors.New("no processor for event")

// Deps bundles everything a processor may need. The worker builds one Deps
// per thread session; Agents and Tools are the merged per-run views when the
// run supplied overrides.
type Deps struct {
	Store    *store.Store
	Cfg      *config.Config
	Agents   *config.AgentRegistry
	Tools    *tools.Registry
	Chat     llm.ChatProvider
	Embedder llm.EmbeddingProvider
	Assets   assets.Store

	Retriever *rag.Retriever
	Extractor *rag.Extractor
	Ingestor  *rag.Ingestor

	Broker  *events.Broker
	Inst    *observe.Instruments
	Upserts *UserUpserter
}

// Instruments returns the observability instruments, never nil.
func (d *Deps) Instruments() *observe.Instruments {
	if d.Inst != nil {
		return d.Inst
	}
	return observe.Noop()
}

// Result is what processing one event yields: the events it produced,
// enqueued atomically with the ack.
type Result struct {
	Produced []models.EnqueueInput
}

// Processor handles one event type.
type Processor interface {
	// EventType is the queue event type this processor handles.
	EventType() models.EventType
	// Priority orders processors for the same type; higher wins.
	Priority() int
	// ShouldProcess lets a processor decline an event, passing it to the
	// next registered processor for the type.
	ShouldProcess(ctx context.Context, ev *models.Event, deps *Deps) bool
	// Process handles the event. Produced events are enqueued in the same
	// transaction as the ack.
	Process(ctx context.Context, ev *models.Event, deps *Deps) (*Result, error)
}

// Registry holds processors per event type, sorted by descending priority.
type Registry struct {
	byType map[models.EventType][]Processor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[models.EventType][]Processor)}
}

// Default returns a registry with the built-in processors registered at
// priority 0.
func Default() *Registry {
	r := NewRegistry()
	r.Register(&NewMessageProcessor{})
	r.Register(&LLMCallProcessor{})
	r.Register(&ToolCallProcessor{})
	r.Register(&EntityExtractProcessor{})
	r.Register(&RAGIngestProcessor{})
	return r
}

// Register adds a processor. Registration order breaks priority ties:
// earlier registrations stay ahead.
func (r *Registry) Register(p Processor) {
	list := append(r.byType[p.EventType()], p)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Priority() > list[j].Priority() })
	r.byType[p.EventType()] = list
}

// Dispatch routes an event to the first willing processor.
func (r *Registry) Dispatch(ctx context.Context, ev *models.Event, deps *Deps) (*Result, error) {
	for _, p := range r.byType[ev.Type] {
		if p.ShouldProcess(ctx, ev, deps) {
			return p.Process(ctx, ev, deps)
		}
	}
	return nil, Permanent(fmt.Errorf("%w: type %s", ErrNoProcessor, ev.Type))
}

// Category classifies processing failures; it decides how the worker
// records the failure, never whether the loop survives (it always does).
type Category string

// Failure categories.
const (
	// CategoryTransient marks infrastructure hiccups: network, provider
	// 5xx, DB deadlock. Retrying the event could succeed.
	CategoryTransient Category = "transient"
	// CategoryPermanent marks input failures: schema validation, an
	// unknown agent or tool. Retrying the same event cannot succeed.
	CategoryPermanent Category = "permanent"
	// CategoryCancelled marks work aborted by run cancellation.
	CategoryCancelled Category = "cancelled"
	// CategoryFatal marks infrastructure failures that invalidate the
	// whole worker session, such as a lost lease or unreachable DB.
	CategoryFatal Category = "fatal"
)

// Error carries a failure category alongside the cause.
type Error struct {
	Category Category
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a transient failure.
func Transient(err error) error {
	return &Error{Category: CategoryTransient, Err: err}
}

// Permanent wraps err as a permanent input failure.
func Permanent(err error) error {
	return &Error{Category: CategoryPermanent, Err: err}
}

// Fatal wraps err as a worker-session-fatal failure.
func Fatal(err error) error {
	return &Error{Category: CategoryFatal, Err: err}
}

// Categorize maps an error to its failure category. Context cancellation
// is cancelled, a processing deadline is transient (a retry may fit the
// budget), invalid tool input is permanent, and everything unmarked
// defaults to transient.
func Categorize(err error) Category {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Category
	}
	if errors.Is(err, context.Canceled) {
		return CategoryCancelled
	}
	if errors.Is(err, tools.ErrInvalidArgs) || errors.Is(err, tools.ErrToolNotFound) {
		return CategoryPermanent
	}
	return CategoryTransient
}
