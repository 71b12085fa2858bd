// Package source contains the query.Source implementations reading CSV,
// Parquet, object storage and SQL query results.
package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// DefaultBatchSize is the number of rows per record produced by the
// row-oriented sources.
const DefaultBatchSize = 8192

type Option func(*options)

type options struct {
	batchSize int
	header    bool
	comma     rune
	nulls     []string
}

func newOptions(opts []Option) options {
	o := options{
		batchSize: DefaultBatchSize,
		header:    true,
		comma:     ',',
		nulls:     []string{"", "NULL", "null"},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithHeader sets whether the first line of a CSV input names the columns.
func WithHeader(header bool) Option {
	return func(o *options) {
		o.header = header
	}
}

func WithComma(comma rune) Option {
	return func(o *options) {
		o.comma = comma
	}
}

// WithNullValues sets the CSV cells read as null.
func WithNullValues(nulls ...string) Option {
	return func(o *options) {
		o.nulls = nulls
	}
}

// batcher accumulates appended rows and hands them to the callback in
// records of at most size rows.
type batcher struct {
	size     int
	b        *array.RecordBuilder
	rows     int
	callback func(ctx context.Context, r arrow.Record) error
}

func newBatcher(mem memory.Allocator, schema *arrow.Schema, size int, callback func(ctx context.Context, r arrow.Record) error) *batcher {
	return &batcher{
		size:     size,
		b:        array.NewRecordBuilder(mem, schema),
		callback: callback,
	}
}

func (b *batcher) field(i int) array.Builder {
	return b.b.Field(i)
}

// next completes the current row and flushes the batch when it is full.
func (b *batcher) next(ctx context.Context) error {
	b.rows++
	if b.rows < b.size {
		return nil
	}
	return b.flush(ctx)
}

func (b *batcher) flush(ctx context.Context) error {
	if b.rows == 0 {
		return nil
	}
	r := b.b.NewRecord()
	defer r.Release()
	b.rows = 0
	return b.callback(ctx, r)
}

func (b *batcher) release() {
	b.b.Release()
}

// ParseSchema parses a comma separated list of name:type column
// definitions, e.g. "id:string,ts:timestamp,value:float64".
func ParseSchema(s string) (*arrow.Schema, error) {
	var fields []arrow.Field
	for _, def := range strings.Split(s, ",") {
		def = strings.TrimSpace(def)
		if def == "" {
			continue
		}
		name, typ, ok := strings.Cut(def, ":")
		if !ok {
			return nil, fmt.Errorf("column %q: missing type", def)
		}
		dt, err := parseType(strings.TrimSpace(typ))
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		fields = append(fields, arrow.Field{Name: strings.TrimSpace(name), Type: dt, Nullable: true})
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty schema")
	}
	return arrow.NewSchema(fields, nil), nil
}

func parseType(s string) (arrow.DataType, error) {
	switch strings.ToLower(s) {
	case "string", "utf8", "varchar":
		return arrow.BinaryTypes.String, nil
	case "int32", "integer":
		return arrow.PrimitiveTypes.Int32, nil
	case "int64", "int", "bigint":
		return arrow.PrimitiveTypes.Int64, nil
	case "float32", "float":
		return arrow.PrimitiveTypes.Float32, nil
	case "float64", "double":
		return arrow.PrimitiveTypes.Float64, nil
	case "bool", "boolean":
		return arrow.FixedWidthTypes.Boolean, nil
	case "date", "date32":
		return arrow.FixedWidthTypes.Date32, nil
	case "timestamp", "timestamp[us]":
		return arrow.FixedWidthTypes.Timestamp_us, nil
	case "timestamp[ms]":
		return arrow.FixedWidthTypes.Timestamp_ms, nil
	case "timestamp[s]":
		return arrow.FixedWidthTypes.Timestamp_s, nil
	case "timestamp[ns]":
		return arrow.FixedWidthTypes.Timestamp_ns, nil
	}
	return nil, fmt.Errorf("unsupported type %q", s)
}
