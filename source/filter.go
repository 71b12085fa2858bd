package source

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/polarsignals/tsflow/query"
)

var _ query.Source = (*Filtered)(nil)

// Filtered passes on the rows of a source for which a boolean expression
// holds. Columns are referenced by name. Timestamp and date columns are
// time.Time values, integers are int and floats are float64. Rows for which
// the expression fails to evaluate, e.g. because a column is null, are
// dropped.
type Filtered struct {
	source  query.Source
	program *vm.Program
}

func Filter(source query.Source, expression string) (*Filtered, error) {
	schema := source.Schema()
	env := make(map[string]any, schema.NumFields())
	for _, f := range schema.Fields() {
		env[f.Name] = zeroValue(f.Type)
	}

	program, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter: %w", err)
	}
	return &Filtered{source: source, program: program}, nil
}

func (f *Filtered) Schema() *arrow.Schema {
	return f.source.Schema()
}

func (f *Filtered) Scan(ctx context.Context, mem memory.Allocator, callback func(ctx context.Context, r arrow.Record) error) error {
	return f.source.Scan(ctx, mem, func(ctx context.Context, r arrow.Record) error {
		mask, selected := f.evaluate(mem, r)
		defer mask.Release()

		switch selected {
		case 0:
			return nil
		case int(r.NumRows()):
			return callback(ctx, r)
		}

		filtered, err := compute.FilterRecordBatch(compute.WithAllocator(ctx, mem), r, mask, compute.DefaultFilterOptions())
		if err != nil {
			return fmt.Errorf("filter record: %w", err)
		}
		defer filtered.Release()
		return callback(ctx, filtered)
	})
}

func (f *Filtered) evaluate(mem memory.Allocator, r arrow.Record) (*array.Boolean, int) {
	b := array.NewBooleanBuilder(mem)
	defer b.Release()
	b.Reserve(int(r.NumRows()))

	env := make(map[string]any, r.NumCols())
	selected := 0
	for i := 0; i < int(r.NumRows()); i++ {
		for j, col := range r.Columns() {
			env[r.ColumnName(j)] = rowValue(col, i)
		}
		out, err := expr.Run(f.program, env)
		keep := err == nil && out.(bool)
		if keep {
			selected++
		}
		b.UnsafeAppend(keep)
	}
	return b.NewBooleanArray(), selected
}

func zeroValue(dt arrow.DataType) any {
	switch dt.ID() {
	case arrow.INT32, arrow.INT64:
		return 0
	case arrow.FLOAT32, arrow.FLOAT64:
		return 0.0
	case arrow.BOOL:
		return false
	case arrow.TIMESTAMP, arrow.DATE32, arrow.DATE64:
		return time.Time{}
	default:
		return ""
	}
}

func rowValue(arr arrow.Array, i int) any {
	if arr.IsNull(i) {
		return nil
	}
	switch a := arr.(type) {
	case *array.String:
		return a.Value(i)
	case *array.LargeString:
		return a.Value(i)
	case *array.Binary:
		return string(a.Value(i))
	case *array.Int64:
		return int(a.Value(i))
	case *array.Int32:
		return int(a.Value(i))
	case *array.Float64:
		return a.Value(i)
	case *array.Float32:
		return float64(a.Value(i))
	case *array.Boolean:
		return a.Value(i)
	case *array.Timestamp:
		return a.Value(i).ToTime(a.DataType().(*arrow.TimestampType).Unit).UTC()
	case *array.Date32:
		return a.Value(i).ToTime().UTC()
	case *array.Date64:
		return a.Value(i).ToTime().UTC()
	case *array.Dictionary:
		return a.Dictionary().ValueStr(a.GetValueIndex(i))
	default:
		return arr.ValueStr(i)
	}
}
