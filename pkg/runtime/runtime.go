// Package runtime assembles the conversation engine into a single embeddable
// unit: database, store, event relay, worker pool, and the processor
// pipeline, behind one Run entry point. The embedding application supplies
// the model providers; everything else is built from configuration.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/weftlabs/weft/pkg/assets"
	"github.com/weftlabs/weft/pkg/config"
	"github.com/weftlabs/weft/pkg/database"
	"github.com/weftlabs/weft/pkg/events"
	"github.com/weftlabs/weft/pkg/llm"
	"github.com/weftlabs/weft/pkg/observe"
	"github.com/weftlabs/weft/pkg/processor"
	"github.com/weftlabs/weft/pkg/queue"
	"github.com/weftlabs/weft/pkg/rag"
	"github.com/weftlabs/weft/pkg/store"
	"github.com/weftlabs/weft/pkg/tools"
	"github.com/weftlabs/weft/pkg/version"
)

// Providers are the caller-supplied backends the runtime cannot build from
// configuration alone.
type Providers struct {
	// Chat generates agent completions. Required.
	Chat llm.ChatProvider
	// Embedder produces vectors for retrieval and entity linking. Optional;
	// without it the retrieval pipeline is disabled and ingest events fail
	// as permanent.
	Embedder llm.EmbeddingProvider
	// Assets overrides the asset store built from config when non-nil.
	Assets assets.Store
}

// Runtime owns the processing stack for one process: it dials the database,
// runs migrations, starts the NOTIFY relay and the worker pool, and serves
// Run calls until Stop.
type Runtime struct {
	cfg    *config.Config
	db     *database.Client
	store  *store.Store
	broker *events.Broker
	pool   *queue.WorkerPool
	deps   *processor.Deps
	inst   *observe.Instruments

	chat     llm.ChatProvider
	embedder llm.EmbeddingProvider

	otelShutdown func(context.Context) error
}

// New builds and starts a Runtime. The context bounds startup work
// (dialing, migrations, listener setup); it does not govern the runtime's
// lifetime.
func New(ctx context.Context, cfg *config.Config, providers Providers) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("runtime: config is required")
	}
	if providers.Chat == nil {
		return nil, errors.New("runtime: chat provider is required")
	}

	inst := observe.Noop()
	var otelShutdown func(context.Context) error
	if cfg.Observability != nil && cfg.Observability.Enabled {
		i, shutdown, err := observe.Init(ctx, cfg.Observability.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("runtime: init telemetry: %w", err)
		}
		inst, otelShutdown = i, shutdown
	}
	fail := func(err error) (*Runtime, error) {
		if otelShutdown != nil {
			_ = otelShutdown(ctx)
		}
		return nil, err
	}

	// database.New applies embedded migrations per cfg.Database.MigrateOnStart.
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		return fail(fmt.Errorf("runtime: connect database: %w", err))
	}

	st := store.New(db.Pool())

	broker := events.NewBroker(db.Pool(), db.DSN())
	if err := broker.Start(ctx); err != nil {
		db.Close()
		return fail(fmt.Errorf("runtime: start event relay: %w", err))
	}

	assetStore := providers.Assets
	if assetStore == nil {
		assetStore, err = assets.New(ctx, cfg.Assets)
		if err != nil {
			broker.Stop(ctx)
			db.Close()
			return fail(fmt.Errorf("runtime: build asset store: %w", err))
		}
	}

	toolReg, err := tools.NewRegistry(tools.Builtins()...)
	if err != nil {
		broker.Stop(ctx)
		db.Close()
		return fail(fmt.Errorf("runtime: register tools: %w", err))
	}

	deps := &processor.Deps{
		Store:    st,
		Cfg:      cfg,
		Agents:   cfg.AgentRegistry,
		Tools:    toolReg,
		Chat:     providers.Chat,
		Embedder: providers.Embedder,
		Assets:   assetStore,
		Broker:   broker,
		Inst:     inst,
		Upserts:  processor.NewUserUpserter(cfg.Queue.UserUpsertDebounce),
	}
	if providers.Embedder != nil {
		deps.Retriever = rag.NewRetriever(st, providers.Embedder, cfg.RAG)
		deps.Extractor = rag.NewExtractor(st, providers.Chat, providers.Embedder, cfg.RAG)
		deps.Ingestor = rag.NewIngestor(st, providers.Embedder, cfg.RAG, inst)
	}

	pool := queue.NewWorkerPool(st, cfg.Queue, processor.Default(), deps)
	pool.Start(ctx)

	slog.InfoContext(ctx, "Runtime started",
		"version", version.Full(),
		"agents", cfg.AgentRegistry.Len(),
		"tools", toolReg.Len(),
		"workers", cfg.Queue.WorkerCount,
		"retrieval", providers.Embedder != nil)

	return &Runtime{
		cfg:          cfg,
		db:           db,
		store:        st,
		broker:       broker,
		pool:         pool,
		deps:         deps,
		inst:         inst,
		chat:         providers.Chat,
		embedder:     providers.Embedder,
		otelShutdown: otelShutdown,
	}, nil
}

// Stop drains the worker pool, stops the relay, and closes the database.
// In-flight events get the configured graceful window before workers are
// cancelled; cancelled events stay processing and are recovered by the
// next lease holder.
func (r *Runtime) Stop(ctx context.Context) error {
	r.pool.Stop()
	r.broker.Stop(ctx)
	r.db.Close()
	slog.InfoContext(ctx, "Runtime stopped")
	if r.otelShutdown != nil {
		return r.otelShutdown(ctx)
	}
	return nil
}

// Store exposes the backing store for callers that read conversation state
// directly, such as history APIs and tests.
func (r *Runtime) Store() *store.Store {
	return r.store
}

// Flush starts a worker for a thread whose events were queued without one,
// typically a deferred-mode thread. It no-ops when a worker is already
// live, and reports pool capacity exhaustion as an error.
func (r *Runtime) Flush(ctx context.Context, threadID string) error {
	thread, err := r.store.GetThread(ctx, threadID)
	if err != nil {
		return fmt.Errorf("runtime: flush %s: %w", threadID, err)
	}
	return r.pool.Ensure(thread.ID, thread.Namespace, nil)
}

// CancelThread aborts the live worker for a thread, if any. The in-flight
// event keeps its processing status and is reset when the next worker
// takes the lease.
func (r *Runtime) CancelThread(threadID string) bool {
	return r.pool.Cancel(threadID)
}

// Health reports the state of the runtime's moving parts.
type Health struct {
	Healthy  bool                   `json:"healthy"`
	Database *database.HealthStatus `json:"database"`
	Pool     queue.PoolHealth       `json:"pool"`
}

// Health checks the database and the worker pool.
func (r *Runtime) Health(ctx context.Context) Health {
	dbHealth, err := r.db.Health(ctx)
	poolHealth := r.pool.Health()
	healthy := err == nil && dbHealth.Status == "healthy" && poolHealth.Healthy
	return Health{
		Healthy:  healthy,
		Database: dbHealth,
		Pool:     poolHealth,
	}
}
