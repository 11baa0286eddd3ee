package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/weftlabs/weft/pkg/config"
	"github.com/weftlabs/weft/pkg/events"
	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/namespace"
	"github.com/weftlabs/weft/pkg/processor"
	"github.com/weftlabs/weft/pkg/queue"
	"github.com/weftlabs/weft/pkg/rag"
	"github.com/weftlabs/weft/pkg/store"
	"github.com/weftlabs/weft/pkg/tools"
)

// AckMode selects when Run returns relative to queue processing.
type AckMode string

// Acknowledgement modes.
const (
	// AckImmediate returns as soon as the message is durably enqueued.
	AckImmediate AckMode = "immediate"
	// AckOnComplete blocks until the thread drains past the submitted event.
	AckOnComplete AckMode = "onComplete"
)

// RunMessage is one message submitted to a thread. Thread identifies or
// creates the conversation: ID and ExternalID look up an existing thread,
// and the remaining spec fields seed a new one.
type RunMessage struct {
	Content   string
	Sender    models.Sender
	Thread    models.ThreadSpec
	ToolCalls []models.ToolCall
	Metadata  models.Meta
}

// RunOptions tune one Run call. The zero value streams tokens, returns
// immediately after enqueue, and applies the configured defaults.
type RunOptions struct {
	// OnEvent is invoked inline for every stream observation, before the
	// event is forwarded to the handle's channel. Panics are swallowed; the
	// callback must not block.
	OnEvent func(*events.StreamEvent)

	// DisableStream suppresses TOKEN events on the handle and callback.
	// Lifecycle events are always delivered.
	DisableStream bool

	// AckMode defaults to AckImmediate.
	AckMode AckMode

	// QueueTTL bounds how long the submitted event may sit pending before
	// it expires. Zero applies the configured default.
	QueueTTL time.Duration

	// Namespace pins the event namespace, skipping scope resolution.
	Namespace string

	// Schema runs this call against a tenant schema. With auto-provisioning
	// enabled the schema is created and migrated on first use; otherwise it
	// must already exist.
	Schema string

	// Agents and Tools overlay the configured registries for this run only.
	Agents []*config.AgentConfig
	Tools  []*tools.Tool

	// Buffer sizes the event subscription; zero uses the relay default.
	Buffer int
}

// Run durably enqueues a message and returns a handle on the resulting
// processing. The context bounds submission (and, with AckOnComplete, the
// wait for the drain); the handle outlives it. Threads in deferred mode
// accumulate events without a worker until Flush.
func (r *Runtime) Run(ctx context.Context, msg RunMessage, opts *RunOptions) (*RunHandle, error) {
	if opts == nil {
		opts = &RunOptions{}
	}
	if msg.Content == "" && len(msg.ToolCalls) == 0 {
		return nil, errors.New("runtime: message content is required")
	}
	sender := msg.Sender
	if sender.Type == "" {
		sender.Type = models.SenderUser
	}

	st, err := r.storeFor(ctx, opts)
	if err != nil {
		return nil, err
	}
	thread, ns, err := r.resolveThread(ctx, st, msg.Thread, opts, msg.Metadata)
	if err != nil {
		return nil, err
	}
	runDeps, err := r.runDeps(st, opts)
	if err != nil {
		return nil, err
	}

	return r.submit(ctx, st, thread, ns, models.EnqueueInput{
		Type: models.EventNewMessage,
		Payload: models.MessagePayload{
			Content:   msg.Content,
			Sender:    sender,
			ToolCalls: msg.ToolCalls,
			Metadata:  msg.Metadata,
		},
		Metadata: msg.Metadata,
	}, runDeps, opts)
}

// IngestRequest identifies a document to ingest through the queue.
type IngestRequest struct {
	// Source is text:<content>, an http(s) URL, or a file path.
	Source   string
	Title    string
	MIMEType string

	// Thread identifies or creates the conversation whose worker runs the
	// ingest. The resolved namespace scopes the document.
	Thread models.ThreadSpec

	Metadata models.Meta
}

// IngestDocument durably enqueues document ingestion and returns a handle
// that resolves when the thread drains past it. Queue-borne ingestion
// survives crashes and serializes with the thread's other work; tools
// that need the result inline use the ingest_document builtin instead.
func (r *Runtime) IngestDocument(ctx context.Context, req IngestRequest, opts *RunOptions) (*RunHandle, error) {
	if opts == nil {
		opts = &RunOptions{}
	}
	if req.Source == "" {
		return nil, errors.New("runtime: ingest source is required")
	}

	st, err := r.storeFor(ctx, opts)
	if err != nil {
		return nil, err
	}
	runDeps, err := r.runDeps(st, opts)
	if err != nil {
		return nil, err
	}
	if runDeps.Ingestor == nil {
		return nil, errors.New("runtime: no embedding provider configured")
	}
	thread, ns, err := r.resolveThread(ctx, st, req.Thread, opts, req.Metadata)
	if err != nil {
		return nil, err
	}

	return r.submit(ctx, st, thread, ns, models.EnqueueInput{
		Type: models.EventRAGIngest,
		Payload: models.RAGIngestPayload{
			Source:    req.Source,
			Namespace: ns,
			MIMEType:  req.MIMEType,
			Title:     req.Title,
		},
		Metadata: req.Metadata,
	}, runDeps, opts)
}

// storeFor returns the store bound to the run's schema, provisioning the
// schema first when configured to.
func (r *Runtime) storeFor(ctx context.Context, opts *RunOptions) (*store.Store, error) {
	if opts.Schema == "" {
		return r.store, nil
	}
	if r.cfg.Database.AutoProvisionSchemas {
		if err := r.db.EnsureSchema(ctx, opts.Schema); err != nil {
			return nil, fmt.Errorf("runtime: provision schema %q: %w", opts.Schema, err)
		}
	}
	return r.store.WithSchema(opts.Schema), nil
}

// resolveThread finds or creates the conversation and reconciles its
// namespace: an existing thread keeps the namespace it was created under,
// so sweeper restarts dequeue with the one its events carry.
func (r *Runtime) resolveThread(ctx context.Context, st *store.Store, spec models.ThreadSpec, opts *RunOptions, meta models.Meta) (*models.Thread, string, error) {
	if spec.ID == "" {
		spec.ID = models.NewID()
	}
	ns := opts.Namespace
	if ns == "" {
		ns = r.defaultNamespace(spec.ID, meta)
	}
	if spec.Namespace == "" {
		spec.Namespace = ns
	}

	thread, created, err := st.FindOrCreateThread(ctx, spec)
	if err != nil {
		return nil, "", fmt.Errorf("runtime: resolve thread: %w", err)
	}
	if opts.Namespace == "" {
		if thread.Namespace != "" {
			ns = thread.Namespace
		} else if thread.ID != spec.ID {
			ns = r.defaultNamespace(thread.ID, meta)
		}
	}
	if created {
		slog.DebugContext(ctx, "Thread created",
			"thread_id", thread.ID, "namespace", ns, "mode", thread.Mode)
	}
	return thread, ns, nil
}

// submit durably enqueues one event, announces it on the stream, starts
// or joins the thread's worker, and wires up the handle.
func (r *Runtime) submit(ctx context.Context, st *store.Store, thread *models.Thread, ns string, input models.EnqueueInput, deps *processor.Deps, opts *RunOptions) (*RunHandle, error) {
	sub, err := r.broker.Subscribe(ctx, thread.ID, opts.Buffer)
	if err != nil {
		return nil, fmt.Errorf("runtime: subscribe: %w", err)
	}

	if input.TTL == 0 {
		input.TTL = opts.QueueTTL
	}
	if input.TTL == 0 && r.cfg.Defaults != nil {
		input.TTL = r.cfg.Defaults.QueueTTL
	}
	evt, err := st.Enqueue(ctx, thread.ID, ns, input)
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("runtime: enqueue: %w", err)
	}

	// The submitted event's own stream observation; produced events are
	// announced by the worker right after each acknowledgement commits.
	if perr := r.broker.Publish(ctx, events.FromQueueEvent(evt)); perr != nil {
		slog.DebugContext(ctx, "Submitted event observation not published",
			"event_id", evt.ID, "error", perr)
	}

	if thread.Mode != models.ThreadModeDeferred {
		switch err := r.pool.Ensure(thread.ID, ns, deps); {
		case err == nil:
		case errors.Is(err, queue.ErrAtCapacity):
			// The event is durable; the orphan sweep starts a worker once a
			// slot frees up.
			slog.DebugContext(ctx, "Worker pool at capacity, thread queued",
				"thread_id", thread.ID)
		default:
			sub.Close()
			return nil, fmt.Errorf("runtime: start worker: %w", err)
		}
	}

	h := newRunHandle(evt.ID, thread.ID, ns, st, sub, opts, func() {
		r.pool.Cancel(thread.ID)
	})
	go h.loop()

	if opts.AckMode == AckOnComplete {
		select {
		case <-h.Done():
		case <-ctx.Done():
			return h, ctx.Err()
		}
		if err := h.Err(); err != nil {
			return h, err
		}
	}
	return h, nil
}

// runDeps returns the processor dependencies for one run, overlaying the
// per-run registry and schema options onto the shared set.
func (r *Runtime) runDeps(st *store.Store, opts *RunOptions) (*processor.Deps, error) {
	if opts.Schema == "" && len(opts.Agents) == 0 && len(opts.Tools) == 0 {
		return r.deps, nil
	}
	d := *r.deps
	d.Store = st
	d.Agents = d.Agents.Merged(opts.Agents)
	merged, err := d.Tools.Merged(opts.Tools)
	if err != nil {
		return nil, fmt.Errorf("runtime: merge tools: %w", err)
	}
	d.Tools = merged
	if opts.Schema != "" && r.embedder != nil {
		// Retrieval state lives in the tenant schema too.
		d.Retriever = rag.NewRetriever(st, r.embedder, r.cfg.RAG)
		d.Extractor = rag.NewExtractor(st, r.chat, r.embedder, r.cfg.RAG)
		d.Ingestor = rag.NewIngestor(st, r.embedder, r.cfg.RAG, r.inst)
	}
	return &d, nil
}

// defaultNamespace resolves the namespace for a run that did not pin one,
// using the configured prefix and scope. Agent scope keys on the routed
// target when the message names one, falling back to the first configured
// agent.
func (r *Runtime) defaultNamespace(threadID string, meta models.Meta) string {
	d := r.cfg.Defaults
	if d == nil {
		d = config.DefaultDefaults()
	}
	scope := namespace.Scope(d.NamespaceScope)
	id := threadID
	switch scope {
	case namespace.ScopeAgent:
		if target := meta.String(models.MetaTargetID); target != "" {
			id = target
		} else if a := r.cfg.AgentRegistry.First(); a != nil {
			id = a.EffectiveID()
		}
	case namespace.ScopeGlobal:
		id = ""
	}
	return namespace.Resolve(d.NamespacePrefix, scope, id)
}
