package operator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/go-kit/log/level"
	"go.opentelemetry.io/otel/attribute"

	"github.com/polarsignals/tsflow/internal/barrier"
	"github.com/polarsignals/tsflow/series"
	"github.com/polarsignals/tsflow/transform"
)

var ErrPushAfterPull = errors.New("push after pull")

// State is the state of one execution of an operator, shared by all of its
// workers.
type State struct {
	op        *Operator
	router    *series.Router
	barrier   *barrier.Barrier
	processor *transform.Processor
	metrics   *transformMetrics

	// Only the worker that won the barrier claim touches the fields below.
	cursor   Cursor
	reported bool
}

// LocalState is the state of one worker. It must not be shared between
// goroutines.
type LocalState struct {
	registered bool
	pulled     bool
	owner      bool
}

func (o *Operator) InitGlobal(ctx context.Context) *State {
	_, span := o.tracer.Start(ctx, "operator/InitGlobal")
	defer span.End()

	return &State{
		op:        o,
		router:    series.NewRouter(o.slots, o.time, len(o.features) > 0),
		barrier:   barrier.New(),
		processor: transform.NewProcessor(o.transform, o.mem, o.logger),
		metrics:   o.metrics.forTransform(o.transform.Kind()),
	}
}

func (s *State) InitLocal() *LocalState {
	return &LocalState{}
}

// Register announces the worker of l as a producer. Push does so on the
// first call. Hosts that let workers pull while other workers may not have
// pushed yet must register every worker up front.
func (s *State) Register(l *LocalState) {
	if !l.registered {
		l.registered = true
		s.barrier.Register()
	}
}

// Push buffers the rows of rec. It may be called any number of times by
// any number of workers until they first call Pull.
func (s *State) Push(ctx context.Context, l *LocalState, rec arrow.Record) (Status, error) {
	_, span := s.op.tracer.Start(ctx, "operator/Push")
	defer span.End()
	span.SetAttributes(attribute.Int64("rows", rec.NumRows()))

	if l.pulled {
		return Finished, ErrPushAfterPull
	}
	if err := s.checkSchema(rec.Schema()); err != nil {
		return Finished, err
	}
	s.Register(l)

	stats, err := s.router.Route(rec)
	s.metrics.rowsPushed.Add(float64(stats.Rows))
	s.metrics.rowsDropped.Add(float64(stats.DroppedRows))
	if err != nil {
		span.RecordError(err)
		return Finished, err
	}
	return NeedMoreInput, nil
}

// Pull returns the next output record. The first call of every worker
// marks the end of its input. A single worker waits for all others, runs
// the transform and then emits the output in batches. Every other worker
// is Finished immediately. The returned record is owned by the caller and
// may be nil.
func (s *State) Pull(ctx context.Context, l *LocalState) (arrow.Record, Status, error) {
	ctx, span := s.op.tracer.Start(ctx, "operator/Pull")
	defer span.End()

	if !l.pulled {
		l.pulled = true
		if l.registered {
			if err := s.barrier.Arrive(); err != nil {
				return nil, Finished, err
			}
		}
		if !s.barrier.Claim() {
			return nil, Finished, nil
		}

		start := time.Now()
		if err := s.barrier.Wait(ctx); err != nil {
			return nil, Finished, fmt.Errorf("wait for producers: %w", err)
		}
		s.metrics.barrierWait.Observe(time.Since(start).Seconds())
		l.owner = true
	}
	if !l.owner {
		return nil, Finished, nil
	}

	out, err := s.processor.Process(ctx, s.router.Slots())
	if err != nil {
		span.RecordError(err)
		s.router.Release()
		return nil, Finished, err
	}
	if !s.reported {
		s.reported = true
		summary := s.processor.Summary()
		s.metrics.groups.Add(float64(summary.Groups))
		s.metrics.degradedGroups.Add(float64(summary.Degraded))
		level.Debug(s.op.logger).Log("msg", "processing done", "groups", summary.Groups, "rows", summary.Rows, "duration", summary.Duration)
	}

	rec, done, err := s.write(out)
	if err != nil {
		s.router.Release()
		return nil, Finished, err
	}
	if rec != nil {
		s.metrics.rowsEmitted.Add(float64(rec.NumRows()))
		span.SetAttributes(attribute.Int64("rows", rec.NumRows()))
	}
	if done {
		s.router.Release()
		return rec, Finished, nil
	}
	return rec, HaveMoreOutput, nil
}

// Release frees the input records retained for pass-through columns. It is
// safe to call after the output was fully pulled.
func (s *State) Release() {
	s.router.Release()
}

func (s *State) checkSchema(schema *arrow.Schema) error {
	input := s.op.input
	if schema.NumFields() != input.NumFields() {
		return &SchemaError{
			Column: schema.NumFields(),
			Reason: fmt.Sprintf("expected %d columns, got %d", input.NumFields(), schema.NumFields()),
		}
	}
	for i := 0; i < schema.NumFields(); i++ {
		if !arrow.TypeEqual(schema.Field(i).Type, input.Field(i).Type) {
			return &SchemaError{
				Column: i,
				Field:  schema.Field(i).Name,
				Reason: fmt.Sprintf("expected type %s, got %s", input.Field(i).Type, schema.Field(i).Type),
			}
		}
	}
	return nil
}
