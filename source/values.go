package source

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/polarsignals/tsflow/internal/records"
	"github.com/polarsignals/tsflow/query"
)

var _ query.Source = (*Values[struct{}])(nil)

// Values reads Go structs. The columns are the fields of T in declaration
// order, named by their `tsflow` struct tag. See records.Build for the
// supported field types.
type Values[T any] struct {
	values  []T
	schema  *arrow.Schema
	options options
}

func NewValues[T any](values []T, opts ...Option) *Values[T] {
	b := records.NewBuild[T](memory.DefaultAllocator)
	defer b.Release()
	return &Values[T]{
		values:  values,
		schema:  b.Schema(),
		options: newOptions(opts),
	}
}

func (s *Values[T]) Schema() *arrow.Schema {
	return s.schema
}

func (s *Values[T]) Scan(ctx context.Context, mem memory.Allocator, callback func(ctx context.Context, r arrow.Record) error) error {
	b := records.NewBuild[T](mem)
	defer b.Release()

	for start := 0; start < len(s.values); start += s.options.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+s.options.batchSize, len(s.values))
		if err := b.Append(s.values[start:end]...); err != nil {
			return err
		}
		r := b.NewRecord()
		err := callback(ctx, r)
		r.Release()
		if err != nil {
			return err
		}
	}
	return nil
}

// Collect reads the rows of records into structs of type T.
func Collect[T any](recs []arrow.Record) []T {
	return records.NewReader[T](recs...).Values()
}
