package operator

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/polarsignals/tsflow/series"
	"github.com/polarsignals/tsflow/transform"
)

// write builds the next output record from the rows after the cursor. The
// record is nil if no row is left.
func (s *State) write(out [][]transform.GroupOutput) (arrow.Record, bool, error) {
	b := array.NewRecordBuilder(s.op.mem, s.op.output)
	defer b.Release()

	layout := s.op.transform.Layout()
	var err error
	n, done := s.cursor.Advance(out, s.op.batchSize, func(slot, group, row int) {
		if err != nil {
			return
		}
		g := out[slot][group]
		err = s.appendRow(b, layout, g.Buffer, g.Rows[row])
	})
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		return nil, done, nil
	}
	return b.NewRecord(), done, nil
}

func (s *State) appendRow(b *array.RecordBuilder, layout []transform.Column, buf *series.Buffer, r transform.Row) error {
	col := 0
	for _, c := range layout {
		switch c.Kind {
		case transform.ColumnGroup:
			if buf == nil {
				b.Field(col).AppendNull()
			} else if err := appendGroup(b.Field(col), buf.Group); err != nil {
				return err
			}
		case transform.ColumnTime:
			if err := s.op.time.Append(b.Field(col), r.Time); err != nil {
				return err
			}
		case transform.ColumnValue:
			if r.Valid {
				b.Field(col).(*array.Float64Builder).Append(r.Value)
			} else {
				b.Field(col).AppendNull()
			}
		case transform.ColumnFoldID:
			b.Field(col).(*array.Int64Builder).Append(r.Fold)
		case transform.ColumnSplit:
			b.Field(col).(*array.StringBuilder).Append(r.Split.String())
		case transform.ColumnChangepoint:
			b.Field(col).(*array.BooleanBuilder).Append(r.Changepoint)
		case transform.ColumnProbability:
			if r.HasProbability {
				b.Field(col).(*array.Float64Builder).Append(r.Probability)
			} else {
				b.Field(col).AppendNull()
			}
		case transform.ColumnFeatures:
			for _, idx := range s.op.features {
				if buf == nil || r.Pos < 0 || buf.Refs == nil {
					b.Field(col).AppendNull()
				} else {
					ref := buf.Refs[r.Pos]
					arr := s.router.Batch(ref.Batch).Column(idx)
					if err := appendValue(b.Field(col), arr, int(ref.Row)); err != nil {
						return err
					}
				}
				col++
			}
			continue
		}
		col++
	}
	return nil
}

func appendGroup(b array.Builder, v series.Value) error {
	if v.Null {
		b.AppendNull()
		return nil
	}
	switch bldr := b.(type) {
	case *array.StringBuilder:
		bldr.Append(v.Str)
	case *array.LargeStringBuilder:
		bldr.Append(v.Str)
	case *array.BinaryBuilder:
		bldr.AppendString(v.Str)
	case *array.Int64Builder:
		bldr.Append(v.Int)
	case *array.Int32Builder:
		bldr.Append(int32(v.Int))
	default:
		return fmt.Errorf("unsupported group builder type %T", b)
	}
	return nil
}

// appendValue copies row i of arr to b. Both must be of the same type.
func appendValue(b array.Builder, arr arrow.Array, i int) error {
	if arr.IsNull(i) {
		b.AppendNull()
		return nil
	}
	switch a := arr.(type) {
	case *array.Float64:
		b.(*array.Float64Builder).Append(a.Value(i))
	case *array.Float32:
		b.(*array.Float32Builder).Append(a.Value(i))
	case *array.Int64:
		b.(*array.Int64Builder).Append(a.Value(i))
	case *array.Int32:
		b.(*array.Int32Builder).Append(a.Value(i))
	case *array.Boolean:
		b.(*array.BooleanBuilder).Append(a.Value(i))
	case *array.String:
		b.(*array.StringBuilder).Append(a.Value(i))
	case *array.Binary:
		b.(*array.BinaryBuilder).Append(a.Value(i))
	case *array.Timestamp:
		b.(*array.TimestampBuilder).Append(a.Value(i))
	case *array.Date32:
		b.(*array.Date32Builder).Append(a.Value(i))
	default:
		return b.AppendValueFromString(arr.ValueStr(i))
	}
	return nil
}
