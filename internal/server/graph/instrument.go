package graph

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span names
const (
	SpanGraphRead  = "relgraph.graph.read"
	SpanGraphWrite = "relgraph.graph.write"
)

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relgraph",
		Subsystem: "graph",
		Name:      "queries_total",
		Help:      "Total number of graph queries by transaction mode and outcome",
	}, []string{"mode", "outcome"})

	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relgraph",
		Subsystem: "graph",
		Name:      "query_duration_seconds",
		Help:      "Graph query latency by transaction mode",
		Buckets:   prometheus.DefBuckets,
	}, []string{"mode"})
)

// InstrumentedExecutor wraps an Executor with Prometheus metrics and
// OpenTelemetry spans. It adds no behaviour of its own.
type InstrumentedExecutor struct {
	inner  Executor
	tracer trace.Tracer
	system string
}

// InstrumentOption configures an InstrumentedExecutor.
type InstrumentOption func(*InstrumentedExecutor)

// WithTracer sets the tracer used for spans.
func WithTracer(tracer trace.Tracer) InstrumentOption {
	return func(e *InstrumentedExecutor) {
		e.tracer = tracer
	}
}

// WithSystem sets the db.system span attribute.
func WithSystem(system string) InstrumentOption {
	return func(e *InstrumentedExecutor) {
		e.system = system
	}
}

// Instrument wraps inner with metrics and tracing.
func Instrument(inner Executor, opts ...InstrumentOption) *InstrumentedExecutor {
	e := &InstrumentedExecutor{
		inner:  inner,
		tracer: otel.Tracer("github.com/systemshift/relgraph/internal/server/graph"),
		system: "neo4j",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteRead implements Executor.
func (e *InstrumentedExecutor) ExecuteRead(ctx context.Context, q Query) (*Result, error) {
	return e.observe(ctx, SpanGraphRead, "read", q, e.inner.ExecuteRead)
}

// ExecuteWrite implements Executor.
func (e *InstrumentedExecutor) ExecuteWrite(ctx context.Context, q Query) (*Result, error) {
	return e.observe(ctx, SpanGraphWrite, "write", q, e.inner.ExecuteWrite)
}

func (e *InstrumentedExecutor) observe(
	ctx context.Context,
	spanName, mode string,
	q Query,
	run func(context.Context, Query) (*Result, error),
) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", e.system),
		attribute.String("db.operation", mode),
		attribute.Int("db.params", len(q.Params)),
	)

	start := time.Now()
	result, err := run(ctx, q)
	queryDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())

	if err != nil {
		queriesTotal.WithLabelValues(mode, outcome(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	queriesTotal.WithLabelValues(mode, "ok").Inc()
	span.SetAttributes(
		attribute.Int("relgraph.records", len(result.Records)),
		attribute.Int("relgraph.relationships_created", result.Summary.RelationshipsCreated),
		attribute.Int("relgraph.relationships_deleted", result.Summary.RelationshipsDeleted),
	)
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func outcome(err error) string {
	if errors.Is(err, ErrUnavailable) {
		return "unavailable"
	}
	return "error"
}
