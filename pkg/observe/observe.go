// Package observe provides OpenTelemetry instrumentation for the weft
// runtime. Workers, processors, and the RAG pipeline record spans and
// metrics through a shared Instruments bundle; exporters are configured
// via the standard OTEL env vars (OTEL_EXPORTER_OTLP_ENDPOINT, etc.).
package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const scopeName = "github.com/weftlabs/weft"

// Instruments holds the tracer, meter, and every instrument the runtime
// records on. A single bundle is built at startup and threaded through
// the worker pool and processors.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	// Counters
	EventsProcessed   metric.Int64Counter
	LLMRequests       metric.Int64Counter
	TokenUsage        metric.Int64Counter
	ToolExecutions    metric.Int64Counter
	EmbedRequests     metric.Int64Counter
	DocumentsIngested metric.Int64Counter

	// Histograms
	EventDuration metric.Float64Histogram
	LLMDuration   metric.Float64Histogram
	ToolDuration  metric.Float64Histogram
	EmbedDuration metric.Float64Histogram
}

// Init sets up OTEL trace and metric providers with OTLP HTTP exporters
// and returns the instrument bundle plus a shutdown function that must be
// called on application exit. Logs stay on slog; only traces and metrics
// go through OTEL.
func Init(ctx context.Context, serviceName string) (*Instruments, func(context.Context) error, error) {
	if serviceName == "" {
		serviceName = "weft"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	inst, err := newInstruments(otel.Tracer(scopeName), otel.Meter(scopeName))
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
		)
	}

	return inst, shutdown, nil
}

// Noop returns an instrument bundle backed by no-op providers. Used when
// observability is disabled and in tests, so callers never nil-check.
func Noop() *Instruments {
	tracer := tracenoop.NewTracerProvider().Tracer(scopeName)
	meter := metricnoop.NewMeterProvider().Meter(scopeName)
	inst, _ := newInstruments(tracer, meter)
	return inst
}

func newInstruments(tracer trace.Tracer, meter metric.Meter) (*Instruments, error) {
	eventsProcessed, err := meter.Int64Counter("queue.events.processed",
		metric.WithDescription("Events dispatched to processors, by type and outcome"),
		metric.WithUnit("{event}"))
	if err != nil {
		return nil, err
	}

	llmRequests, err := meter.Int64Counter("llm.requests",
		metric.WithDescription("LLM request count"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	tokenUsage, err := meter.Int64Counter("llm.token.usage",
		metric.WithDescription("Total tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	toolExecutions, err := meter.Int64Counter("tool.executions",
		metric.WithDescription("Tool execution count"),
		metric.WithUnit("{execution}"))
	if err != nil {
		return nil, err
	}

	embedRequests, err := meter.Int64Counter("embedding.requests",
		metric.WithDescription("Embedding request count"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	documentsIngested, err := meter.Int64Counter("rag.documents.ingested",
		metric.WithDescription("Documents ingested into the knowledge store"),
		metric.WithUnit("{document}"))
	if err != nil {
		return nil, err
	}

	eventDuration, err := meter.Float64Histogram("queue.event.duration",
		metric.WithDescription("End-to-end event processing duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	llmDuration, err := meter.Float64Histogram("llm.duration",
		metric.WithDescription("LLM call duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	toolDuration, err := meter.Float64Histogram("tool.duration",
		metric.WithDescription("Tool execution duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	embedDuration, err := meter.Float64Histogram("embedding.duration",
		metric.WithDescription("Embedding call duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:            tracer,
		Meter:             meter,
		EventsProcessed:   eventsProcessed,
		LLMRequests:       llmRequests,
		TokenUsage:        tokenUsage,
		ToolExecutions:    toolExecutions,
		EmbedRequests:     embedRequests,
		DocumentsIngested: documentsIngested,
		EventDuration:     eventDuration,
		LLMDuration:       llmDuration,
		ToolDuration:      toolDuration,
		EmbedDuration:     embedDuration,
	}, nil
}
