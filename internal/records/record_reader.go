package records

import (
	"reflect"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// Reader reads the rows of records into structs of type T. Fields are
// matched to columns by name the same way Build names them. Pointer fields
// are left nil for nulls.
type Reader[T any] struct {
	records []arrow.Record
}

func NewReader[T any](records ...arrow.Record) *Reader[T] {
	structType[T]()
	return &Reader[T]{records: records}
}

func (r *Reader[T]) NumRows() int64 {
	var rows int64
	for _, record := range r.records {
		rows += record.NumRows()
	}
	return rows
}

// Values returns every row.
func (r *Reader[T]) Values() []T {
	res := make([]T, r.NumRows())
	for i := range res {
		res[i] = r.Value(i)
	}
	return res
}

func (r *Reader[T]) Value(i int) T {
	row := *new(T)
	rowType := reflect.TypeOf(row)

	// find the record with the value
	var record arrow.Record
	var previousRows int64
	for _, rec := range r.records {
		if i < int(previousRows+rec.NumRows()) {
			record = rec
			i = i - int(previousRows)
			break
		}
		previousRows += rec.NumRows()
	}

	for j := 0; j < rowType.NumField(); j++ {
		f := rowType.Field(j)
		name, _ := fieldName(f)

		indices := record.Schema().FieldIndices(name)
		if len(indices) != 1 {
			panic("field " + name + " not found or ambiguous")
		}
		arr := record.Column(indices[0])
		if arr.IsNull(i) {
			continue
		}

		fty := f.Type
		pointer := fty.Kind() == reflect.Ptr
		if pointer {
			fty = fty.Elem()
		}
		v, ok := value(arr, i, fty)
		if !ok {
			panic("field " + name + " of type " + f.Type.String() + " cannot hold " + arr.DataType().String())
		}
		if pointer {
			p := reflect.New(fty)
			p.Elem().Set(v)
			v = p
		}
		reflect.ValueOf(&row).Elem().Field(j).Set(v)
	}

	return row
}

func value(arr arrow.Array, i int, typ reflect.Type) (reflect.Value, bool) {
	var v any
	switch a := arr.(type) {
	case *array.Boolean:
		v = a.Value(i)
	case *array.Float64:
		v = a.Value(i)
	case *array.Int64:
		v = a.Value(i)
	case *array.Int32:
		v = a.Value(i)
	case *array.String:
		v = a.Value(i)
	case *array.Timestamp:
		v = a.Value(i).ToTime(a.DataType().(*arrow.TimestampType).Unit).UTC()
	case *array.Date32:
		v = a.Value(i).ToTime().UTC()
	case *array.Dictionary:
		return value(a.Dictionary(), a.GetValueIndex(i), typ)
	default:
		return reflect.Value{}, false
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.Type() == typ:
		return rv, true
	case numeric(rv.Kind()) && numeric(typ.Kind()):
		return rv.Convert(typ), true
	}
	return reflect.Value{}, false
}

func numeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int32, reflect.Int64, reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
