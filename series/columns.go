package series

import (
	"fmt"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// Key is the canonical string form of a group value.
type Key string

// NullKey is the Key of the null group. A string group with the same text
// is a distinct group; Value.Null tells them apart.
const NullKey Key = "__NULL__"

// Value is a group value as it appeared in the input. Str is set for
// string-like columns, Int for integer columns.
type Value struct {
	Null bool
	Str  string
	Int  int64
}

const MicrosPerDay = 86400 * 1_000_000

// CheckGroupType reports whether dt can be used as a group column.
func CheckGroupType(dt arrow.DataType) error {
	switch t := dt.(type) {
	case *arrow.StringType, *arrow.LargeStringType, *arrow.BinaryType,
		*arrow.Int32Type, *arrow.Int64Type, *arrow.NullType:
		return nil
	case *arrow.DictionaryType:
		switch t.ValueType.(type) {
		case *arrow.StringType, *arrow.BinaryType:
			return nil
		}
	}
	return fmt.Errorf("unsupported group column type %s", dt)
}

// CheckValueType reports whether dt can be used as a value column.
func CheckValueType(dt arrow.DataType) error {
	switch dt.(type) {
	case *arrow.Float64Type, *arrow.Float32Type, *arrow.Int32Type, *arrow.Int64Type:
		return nil
	}
	return fmt.Errorf("unsupported value column type %s", dt)
}

type groupReader func(i int) (Key, Value)

func newGroupReader(arr arrow.Array) (groupReader, error) {
	null := func() (Key, Value) { return NullKey, Value{Null: true} }
	switch ar := arr.(type) {
	case *array.String:
		return func(i int) (Key, Value) {
			if ar.IsNull(i) {
				return null()
			}
			s := ar.Value(i)
			return Key(s), Value{Str: s}
		}, nil
	case *array.LargeString:
		return func(i int) (Key, Value) {
			if ar.IsNull(i) {
				return null()
			}
			s := ar.Value(i)
			return Key(s), Value{Str: s}
		}, nil
	case *array.Binary:
		return func(i int) (Key, Value) {
			if ar.IsNull(i) {
				return null()
			}
			s := string(ar.Value(i))
			return Key(s), Value{Str: s}
		}, nil
	case *array.Int64:
		return func(i int) (Key, Value) {
			if ar.IsNull(i) {
				return null()
			}
			v := ar.Value(i)
			return Key(strconv.FormatInt(v, 10)), Value{Int: v}
		}, nil
	case *array.Int32:
		return func(i int) (Key, Value) {
			if ar.IsNull(i) {
				return null()
			}
			v := int64(ar.Value(i))
			return Key(strconv.FormatInt(v, 10)), Value{Int: v}
		}, nil
	case *array.Null:
		return func(int) (Key, Value) { return null() }, nil
	case *array.Dictionary:
		var value func(int) string
		switch dict := ar.Dictionary().(type) {
		case *array.String:
			value = dict.Value
		case *array.Binary:
			value = func(i int) string { return string(dict.Value(i)) }
		default:
			return nil, fmt.Errorf("unsupported dictionary type %T", dict)
		}
		return func(i int) (Key, Value) {
			if ar.IsNull(i) {
				return null()
			}
			s := value(ar.GetValueIndex(i))
			return Key(s), Value{Str: s}
		}, nil
	default:
		return nil, fmt.Errorf("unsupported group array type %T", arr)
	}
}

// TimeColumn converts between the values of a time column and the int64
// timestamps held by buffers. Date and timestamp columns are converted to
// microseconds since the epoch, integer columns are kept as they are.
type TimeColumn struct {
	Type arrow.DataType
}

func NewTimeColumn(dt arrow.DataType) (TimeColumn, error) {
	switch dt.(type) {
	case *arrow.Date32Type, *arrow.Date64Type, *arrow.TimestampType,
		*arrow.Int32Type, *arrow.Int64Type:
		return TimeColumn{Type: dt}, nil
	}
	return TimeColumn{}, fmt.Errorf("unsupported time column type %s", dt)
}

// Raw reports whether the column holds plain integers.
func (c TimeColumn) Raw() bool {
	switch c.Type.(type) {
	case *arrow.Int32Type, *arrow.Int64Type:
		return true
	}
	return false
}

// Date reports whether the column has day resolution.
func (c TimeColumn) Date() bool {
	switch c.Type.(type) {
	case *arrow.Date32Type, *arrow.Date64Type:
		return true
	}
	return false
}

func unitMicros(u arrow.TimeUnit) (mul, div int64) {
	switch u {
	case arrow.Second:
		return 1_000_000, 1
	case arrow.Millisecond:
		return 1_000, 1
	case arrow.Nanosecond:
		return 1, 1_000
	default:
		return 1, 1
	}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Reader returns an accessor for the timestamps of arr. The boolean is false
// for null rows.
func (c TimeColumn) Reader(arr arrow.Array) (func(i int) (int64, bool), error) {
	switch ar := arr.(type) {
	case *array.Date32:
		return func(i int) (int64, bool) {
			if ar.IsNull(i) {
				return 0, false
			}
			return int64(ar.Value(i)) * MicrosPerDay, true
		}, nil
	case *array.Date64:
		return func(i int) (int64, bool) {
			if ar.IsNull(i) {
				return 0, false
			}
			return int64(ar.Value(i)) * 1_000, true
		}, nil
	case *array.Timestamp:
		mul, div := unitMicros(ar.DataType().(*arrow.TimestampType).Unit)
		return func(i int) (int64, bool) {
			if ar.IsNull(i) {
				return 0, false
			}
			return floorDiv(int64(ar.Value(i))*mul, div), true
		}, nil
	case *array.Int64:
		return func(i int) (int64, bool) {
			if ar.IsNull(i) {
				return 0, false
			}
			return ar.Value(i), true
		}, nil
	case *array.Int32:
		return func(i int) (int64, bool) {
			if ar.IsNull(i) {
				return 0, false
			}
			return int64(ar.Value(i)), true
		}, nil
	default:
		return nil, fmt.Errorf("unsupported time array type %T", arr)
	}
}

// FromMicros converts a buffer timestamp to the native value of the column.
func (c TimeColumn) FromMicros(ts int64) int64 {
	switch t := c.Type.(type) {
	case *arrow.Date32Type:
		return floorDiv(ts, MicrosPerDay)
	case *arrow.Date64Type:
		return floorDiv(ts, 1_000)
	case *arrow.TimestampType:
		mul, div := unitMicros(t.Unit)
		return floorDiv(ts*div, mul)
	default:
		return ts
	}
}

// Append appends the buffer timestamp ts to a builder of the column type.
func (c TimeColumn) Append(b array.Builder, ts int64) error {
	v := c.FromMicros(ts)
	switch bldr := b.(type) {
	case *array.Date32Builder:
		bldr.Append(arrow.Date32(v))
	case *array.Date64Builder:
		bldr.Append(arrow.Date64(v))
	case *array.TimestampBuilder:
		bldr.Append(arrow.Timestamp(v))
	case *array.Int64Builder:
		bldr.Append(v)
	case *array.Int32Builder:
		bldr.Append(int32(v))
	default:
		return fmt.Errorf("unsupported time builder type %T", b)
	}
	return nil
}

func newValueReader(arr arrow.Array) (func(i int) (float64, bool), error) {
	switch ar := arr.(type) {
	case *array.Float64:
		return func(i int) (float64, bool) {
			if ar.IsNull(i) {
				return 0, false
			}
			return ar.Value(i), true
		}, nil
	case *array.Float32:
		return func(i int) (float64, bool) {
			if ar.IsNull(i) {
				return 0, false
			}
			return float64(ar.Value(i)), true
		}, nil
	case *array.Int64:
		return func(i int) (float64, bool) {
			if ar.IsNull(i) {
				return 0, false
			}
			return float64(ar.Value(i)), true
		}, nil
	case *array.Int32:
		return func(i int) (float64, bool) {
			if ar.IsNull(i) {
				return 0, false
			}
			return float64(ar.Value(i)), true
		}, nil
	default:
		return nil, fmt.Errorf("unsupported value array type %T", arr)
	}
}
