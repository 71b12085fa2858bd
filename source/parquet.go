package source

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/parquet-go/parquet-go"

	"github.com/polarsignals/tsflow/query"
)

var _ query.Source = (*Parquet)(nil)

// Parquet reads the rows of a flat Parquet file.
type Parquet struct {
	file    *parquet.File
	schema  *arrow.Schema
	options options
}

func NewParquet(r io.ReaderAt, size int64, opts ...Option) (*Parquet, error) {
	f, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}

	fields := f.Schema().Fields()
	arrowFields := make([]arrow.Field, 0, len(fields))
	for _, pf := range fields {
		field, err := parquetFieldToArrowField(pf)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", pf.Name(), err)
		}
		arrowFields = append(arrowFields, field)
	}

	return &Parquet{
		file:    f,
		schema:  arrow.NewSchema(arrowFields, nil),
		options: newOptions(opts),
	}, nil
}

func (p *Parquet) Schema() *arrow.Schema {
	return p.schema
}

// NumRows returns the number of rows in the file.
func (p *Parquet) NumRows() int64 {
	return p.file.NumRows()
}

func (p *Parquet) Scan(ctx context.Context, mem memory.Allocator, callback func(ctx context.Context, r arrow.Record) error) error {
	reader := parquet.NewReader(p.file)
	defer reader.Close()

	b := newBatcher(mem, p.schema, p.options.batchSize, callback)
	defer b.release()

	rows := make([]parquet.Row, min(p.options.batchSize, 1024))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := reader.ReadRows(rows)
		for _, row := range rows[:n] {
			for _, v := range row {
				appendParquetValue(b.field(v.Column()), v)
			}
			if err := b.next(ctx); err != nil {
				return err
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read parquet rows: %w", err)
		}
	}
	return b.flush(ctx)
}

func parquetFieldToArrowField(pf parquet.Field) (arrow.Field, error) {
	if !pf.Leaf() || pf.Repeated() {
		return arrow.Field{}, errors.New("unsupported nested column")
	}
	typ, err := parquetNodeToType(pf)
	if err != nil {
		return arrow.Field{}, err
	}

	return arrow.Field{
		Name:     pf.Name(),
		Type:     typ,
		Nullable: pf.Optional(),
	}, nil
}

// parquetNodeToType converts a parquet leaf node to an arrow type.
func parquetNodeToType(n parquet.Node) (arrow.DataType, error) {
	t := n.Type()
	lt := t.LogicalType()

	switch {
	case lt != nil && lt.UTF8 != nil:
		return arrow.BinaryTypes.String, nil
	case lt != nil && lt.Integer != nil:
		switch {
		case !lt.Integer.IsSigned:
			return nil, errors.New("unsupported unsigned integer")
		case lt.Integer.BitWidth == 64:
			return arrow.PrimitiveTypes.Int64, nil
		default:
			return arrow.PrimitiveTypes.Int32, nil
		}
	case lt != nil && lt.Date != nil:
		return arrow.FixedWidthTypes.Date32, nil
	case lt != nil && lt.Timestamp != nil:
		switch unit := lt.Timestamp.Unit; {
		case unit.Millis != nil:
			return arrow.FixedWidthTypes.Timestamp_ms, nil
		case unit.Micros != nil:
			return arrow.FixedWidthTypes.Timestamp_us, nil
		default:
			return arrow.FixedWidthTypes.Timestamp_ns, nil
		}
	case lt != nil:
		return nil, errors.New("unsupported logical type: " + t.String())
	}

	switch t.Kind() {
	case parquet.Boolean:
		return arrow.FixedWidthTypes.Boolean, nil
	case parquet.Int32:
		return arrow.PrimitiveTypes.Int32, nil
	case parquet.Int64:
		return arrow.PrimitiveTypes.Int64, nil
	case parquet.Float:
		return arrow.PrimitiveTypes.Float32, nil
	case parquet.Double:
		return arrow.PrimitiveTypes.Float64, nil
	case parquet.ByteArray:
		return arrow.BinaryTypes.Binary, nil
	default:
		return nil, errors.New("unsupported type: " + t.String())
	}
}

func appendParquetValue(b array.Builder, v parquet.Value) {
	if v.IsNull() {
		b.AppendNull()
		return
	}
	switch b := b.(type) {
	case *array.StringBuilder:
		b.Append(string(v.ByteArray()))
	case *array.BinaryBuilder:
		b.Append(v.ByteArray())
	case *array.Int64Builder:
		b.Append(v.Int64())
	case *array.Int32Builder:
		b.Append(v.Int32())
	case *array.Float64Builder:
		b.Append(v.Double())
	case *array.Float32Builder:
		b.Append(v.Float())
	case *array.BooleanBuilder:
		b.Append(v.Boolean())
	case *array.Date32Builder:
		b.Append(arrow.Date32(v.Int32()))
	case *array.TimestampBuilder:
		b.Append(arrow.Timestamp(v.Int64()))
	default:
		b.AppendNull()
	}
}
