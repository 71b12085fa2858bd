package query

import (
	"context"
	"runtime"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/polarsignals/tsflow/internal/recovery"
	"github.com/polarsignals/tsflow/operator"
	"github.com/polarsignals/tsflow/transform"
)

// Source produces the input records of a query. Scan calls callback once per
// record, from a single goroutine. The record is only valid during the call.
type Source interface {
	Schema() *arrow.Schema
	Scan(ctx context.Context, mem memory.Allocator, callback func(ctx context.Context, r arrow.Record) error) error
}

type Builder interface {
	Transform(kind transform.Kind, params transform.Params) Builder
	Execute(ctx context.Context, callback func(ctx context.Context, r arrow.Record) error) error
}

type LocalEngine struct {
	pool        memory.Allocator
	tracer      trace.Tracer
	logger      log.Logger
	metrics     *operator.Metrics
	concurrency int
	batchSize   int
}

type Option func(*LocalEngine)

func WithTracer(tracer trace.Tracer) Option {
	return func(e *LocalEngine) {
		e.tracer = tracer
	}
}

func WithLogger(logger log.Logger) Option {
	return func(e *LocalEngine) {
		e.logger = logger
	}
}

// WithRegisterer registers the operator metrics of every query with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *LocalEngine) {
		e.metrics = operator.NewMetrics(reg)
	}
}

// WithConcurrency sets the number of workers pushing into the operator.
func WithConcurrency(concurrency int) Option {
	return func(e *LocalEngine) {
		if concurrency > 0 {
			e.concurrency = concurrency
		}
	}
}

func WithBatchSize(n int) Option {
	return func(e *LocalEngine) {
		e.batchSize = n
	}
}

func NewEngine(
	pool memory.Allocator,
	options ...Option,
) *LocalEngine {
	e := &LocalEngine{
		pool:        pool,
		tracer:      noop.NewTracerProvider().Tracer(""),
		logger:      log.NewNopLogger(),
		concurrency: runtime.NumCPU(),
		batchSize:   operator.DefaultBatchSize,
	}

	for _, option := range options {
		option(e)
	}
	if e.metrics == nil {
		e.metrics = operator.NewMetrics(prometheus.NewRegistry())
	}

	return e
}

type LocalQueryBuilder struct {
	engine *LocalEngine
	source Source
	kind   transform.Kind
	params transform.Params
}

// Scan starts a query reading from source.
func (e *LocalEngine) Scan(source Source) Builder {
	return LocalQueryBuilder{
		engine: e,
		source: source,
	}
}

func (b LocalQueryBuilder) Transform(kind transform.Kind, params transform.Params) Builder {
	return LocalQueryBuilder{
		engine: b.engine,
		source: b.source,
		kind:   kind,
		params: params,
	}
}

// Execute binds the transform to the source schema, pushes every record of
// the source from the configured number of workers and calls callback with
// every output record. callback is never called concurrently.
func (b LocalQueryBuilder) Execute(ctx context.Context, callback func(ctx context.Context, r arrow.Record) error) error {
	e := b.engine
	id := uuid.New()
	ctx, span := e.tracer.Start(ctx, "LocalQueryBuilder/Execute", trace.WithAttributes(
		attribute.String("query_id", id.String()),
		attribute.String("transform", string(b.kind)),
	))
	defer span.End()
	logger := log.With(e.logger, "query", id.String())

	op, err := operator.Bind(b.kind, b.source.Schema(), b.params,
		operator.WithAllocator(e.pool),
		operator.WithLogger(logger),
		operator.WithTracer(e.tracer),
		operator.WithMetrics(e.metrics),
		operator.WithBatchSize(e.batchSize),
	)
	if err != nil {
		return err
	}
	level.Debug(logger).Log("msg", "executing query", "transform", b.kind, "workers", e.concurrency)

	g, ctx := errgroup.WithContext(ctx)
	state := op.InitGlobal(ctx)
	defer state.Release()

	records := make(chan arrow.Record)
	g.Go(recovery.Do(func() error {
		defer close(records)
		return b.source.Scan(ctx, e.pool, func(ctx context.Context, r arrow.Record) error {
			r.Retain()
			select {
			case records <- r:
				return nil
			case <-ctx.Done():
				r.Release()
				return ctx.Err()
			}
		})
	}, logger))

	locals := make([]*operator.LocalState, e.concurrency)
	for i := range locals {
		locals[i] = state.InitLocal()
		state.Register(locals[i])
	}
	for _, local := range locals {
		g.Go(recovery.Do(func() error {
			if err := push(ctx, state, local, records); err != nil {
				return err
			}
			for {
				r, status, err := state.Pull(ctx, local)
				if err != nil {
					return err
				}
				if r != nil {
					err := callback(ctx, r)
					r.Release()
					if err != nil {
						return err
					}
				}
				if status == operator.Finished {
					return nil
				}
			}
		}, logger))
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		level.Debug(logger).Log("msg", "query failed", "err", err)
		return err
	}
	return nil
}

// push consumes records until the source is exhausted.
func push(ctx context.Context, state *operator.State, local *operator.LocalState, records <-chan arrow.Record) error {
	for r := range records {
		_, err := state.Push(ctx, local, r)
		r.Release()
		if err != nil {
			return err
		}
	}
	return nil
}
