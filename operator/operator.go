// Package operator exposes transforms as a push/pull operator that many
// workers feed concurrently and a single worker drains.
package operator

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/polarsignals/tsflow/series"
	"github.com/polarsignals/tsflow/transform"
)

// DefaultBatchSize is the maximum number of rows of an output record.
const DefaultBatchSize = 2048

// DefaultSlots is the number of slots groups are buffered in unless
// WithSlots says otherwise. It is fixed so that output order does not
// depend on the machine.
const DefaultSlots = 16

type Status int

const (
	NeedMoreInput Status = iota
	HaveMoreOutput
	Finished
)

func (s Status) String() string {
	switch s {
	case NeedMoreInput:
		return "NeedMoreInput"
	case HaveMoreOutput:
		return "HaveMoreOutput"
	case Finished:
		return "Finished"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// SchemaError reports an input column that an operator cannot consume.
type SchemaError struct {
	Column int
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("input column %d (%s): %s", e.Column, e.Field, e.Reason)
}

// Operator is a transform bound to an input schema.
type Operator struct {
	id        ulid.ULID
	transform transform.Transform
	input     *arrow.Schema
	output    *arrow.Schema
	time      series.TimeColumn
	// features are the input columns passed through to the output.
	features []int

	logger    log.Logger
	tracer    trace.Tracer
	mem       memory.Allocator
	metrics   *Metrics
	batchSize int
	slots     int
}

type Option func(*Operator)

func WithLogger(logger log.Logger) Option {
	return func(o *Operator) {
		o.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *Operator) {
		o.tracer = tracer
	}
}

func WithAllocator(mem memory.Allocator) Option {
	return func(o *Operator) {
		o.mem = mem
	}
}

// WithMetrics shares metrics between operators. Without it every operator
// registers its metrics with a private registry.
func WithMetrics(m *Metrics) Option {
	return func(o *Operator) {
		o.metrics = m
	}
}

func WithBatchSize(n int) Option {
	return func(o *Operator) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithSlots sets the number of independently locked partitions that groups
// are buffered in.
func WithSlots(n int) Option {
	return func(o *Operator) {
		if n > 0 {
			o.slots = n
		}
	}
}

// Bind validates the input schema and the parameters of the transform kind
// and returns the operator computing it. Columns 0, 1 and 2 of the input
// hold the group, the timestamp and the value. Transforms that pass
// features through take every following column as a feature.
func Bind(kind transform.Kind, input *arrow.Schema, params transform.Params, options ...Option) (*Operator, error) {
	if input.NumFields() <= series.ValueIndex {
		return nil, &SchemaError{
			Column: input.NumFields(),
			Reason: fmt.Sprintf("expected at least %d columns (group, timestamp, value), got %d", series.ValueIndex+1, input.NumFields()),
		}
	}

	group := input.Field(series.GroupIndex)
	if err := series.CheckGroupType(group.Type); err != nil {
		return nil, &SchemaError{Column: series.GroupIndex, Field: group.Name, Reason: err.Error()}
	}
	ts := input.Field(series.TimeIndex)
	timeColumn, err := series.NewTimeColumn(ts.Type)
	if err != nil {
		return nil, &SchemaError{Column: series.TimeIndex, Field: ts.Name, Reason: err.Error()}
	}
	value := input.Field(series.ValueIndex)
	if err := series.CheckValueType(value.Type); err != nil {
		return nil, &SchemaError{Column: series.ValueIndex, Field: value.Name, Reason: err.Error()}
	}

	t, err := transform.New(kind, params, timeColumn)
	if err != nil {
		return nil, err
	}

	o := &Operator{
		id:        ulid.Make(),
		transform: t,
		input:     input,
		time:      timeColumn,
		logger:    log.NewNopLogger(),
		tracer:    noop.NewTracerProvider().Tracer(""),
		mem:       memory.DefaultAllocator,
		batchSize: DefaultBatchSize,
		slots:     DefaultSlots,
	}
	for _, option := range options {
		option(o)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(prometheus.NewRegistry())
	}
	o.logger = log.With(o.logger, "operator", o.id.String(), "transform", string(kind))

	if ft, ok := t.(transform.FeatureTransform); ok && ft.PassesFeatures() {
		for i := series.ValueIndex + 1; i < input.NumFields(); i++ {
			o.features = append(o.features, i)
		}
	}
	o.output = o.outputSchema(t.Layout())

	level.Debug(o.logger).Log("msg", "bound operator", "input", input.String(), "features", len(o.features))
	return o, nil
}

// Schema returns the schema of the records the operator emits.
func (o *Operator) Schema() *arrow.Schema {
	return o.output
}

func (o *Operator) Kind() transform.Kind {
	return o.transform.Kind()
}

func (o *Operator) ID() ulid.ULID {
	return o.id
}

func (o *Operator) outputSchema(layout []transform.Column) *arrow.Schema {
	fields := make([]arrow.Field, 0, len(layout)+len(o.features))
	for _, c := range layout {
		var f arrow.Field
		switch c.Kind {
		case transform.ColumnGroup:
			f = o.input.Field(series.GroupIndex)
			f.Type = groupOutputType(f.Type)
			f.Nullable = true
		case transform.ColumnTime:
			f = o.input.Field(series.TimeIndex)
			f.Nullable = false
		case transform.ColumnValue:
			f = o.input.Field(series.ValueIndex)
			f.Type = arrow.PrimitiveTypes.Float64
			f.Nullable = true
		case transform.ColumnFoldID:
			f = arrow.Field{Type: arrow.PrimitiveTypes.Int64}
		case transform.ColumnSplit:
			f = arrow.Field{Type: arrow.BinaryTypes.String}
		case transform.ColumnChangepoint:
			f = arrow.Field{Type: arrow.FixedWidthTypes.Boolean}
		case transform.ColumnProbability:
			f = arrow.Field{Type: arrow.PrimitiveTypes.Float64, Nullable: true}
		case transform.ColumnFeatures:
			for _, i := range o.features {
				f := o.input.Field(i)
				f.Nullable = true
				fields = append(fields, f)
			}
			continue
		}
		if c.Name != "" {
			f.Name = c.Name
		}
		fields = append(fields, f)
	}
	return arrow.NewSchema(fields, nil)
}

// groupOutputType is the type groups are written back as. Dictionaries are
// decoded and an all-null column becomes a string column.
func groupOutputType(dt arrow.DataType) arrow.DataType {
	switch t := dt.(type) {
	case *arrow.DictionaryType:
		return t.ValueType
	case *arrow.NullType:
		return arrow.BinaryTypes.String
	}
	return dt
}
