package records

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

const (
	TagName = "tsflow"
)

var timeType = reflect.TypeOf(time.Time{})

// Build is a generic arrow.Record builder that ingests structs of type T.
//
// Struct tag `tsflow` names the column. When omitted the name is derived
// from the field name (snake_cased). A second tag item of dict stores a
// string column as a dictionary.
//
// Supported field types are string, int32, int64, float64, bool and
// time.Time, which is stored as a microsecond timestamp. Pointer fields are
// nullable.
//
// Example tagged Observation struct
//
//	type Observation struct {
//		Store string    `tsflow:"store,dict"`
//		Day   time.Time `tsflow:"day"`
//		Sales *float64  `tsflow:"sales"`
//	}
type Build[T any] struct {
	schema *arrow.Schema
	fields []*fieldBuilder
}

type fieldBuilder struct {
	builder  array.Builder
	nullable bool
	append   func(v reflect.Value) error
}

func structType[T any]() reflect.Type {
	var a T
	r := reflect.TypeOf(a)
	for r.Kind() == reflect.Ptr {
		r = r.Elem()
	}
	if r.Kind() != reflect.Struct {
		panic("tsflow/records: " + r.String() + " is not supported")
	}
	return r
}

func NewBuild[T any](mem memory.Allocator) *Build[T] {
	r := structType[T]()
	b := &Build[T]{}
	fields := make([]arrow.Field, 0, r.NumField())
	for i := 0; i < r.NumField(); i++ {
		f := r.Field(i)
		name, tag := fieldName(f)

		fty := f.Type
		nullable := false
		for fty.Kind() == reflect.Ptr {
			nullable = true
			fty = fty.Elem()
		}
		typ := baseType(fty)
		if tag == "dict" && typ.ID() == arrow.STRING {
			typ = &arrow.DictionaryType{IndexType: arrow.PrimitiveTypes.Int32, ValueType: typ}
		}

		fields = append(fields, arrow.Field{Name: name, Type: typ, Nullable: nullable})
		b.fields = append(b.fields, newFieldBuild(array.NewBuilder(mem, typ), nullable))
	}
	b.schema = arrow.NewSchema(fields, nil)
	return b
}

// Schema returns the schema of the records built from T.
func (b *Build[T]) Schema() *arrow.Schema {
	return b.schema
}

func (b *Build[T]) Append(values ...T) error {
	for _, value := range values {
		v := reflect.ValueOf(value)
		for v.Kind() == reflect.Ptr {
			v = v.Elem()
		}
		for i := 0; i < v.NumField(); i++ {
			if err := b.fields[i].build(v.Field(i)); err != nil {
				return fmt.Errorf("field %s: %w", b.schema.Field(i).Name, err)
			}
		}
	}
	return nil
}

// NewRecord returns the appended values as a record and resets the builder.
func (b *Build[T]) NewRecord() arrow.Record {
	cols := make([]arrow.Array, len(b.fields))
	for i, f := range b.fields {
		cols[i] = f.builder.NewArray()
	}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	return array.NewRecord(b.schema, cols, int64(cols[0].Len()))
}

func (b *Build[T]) Release() {
	for _, f := range b.fields {
		f.builder.Release()
	}
}

func (f *fieldBuilder) build(v reflect.Value) error {
	if f.nullable {
		if v.IsNil() {
			f.builder.AppendNull()
			return nil
		}
		v = v.Elem()
	}
	return f.append(v)
}

func baseType(fty reflect.Type) arrow.DataType {
	if fty == timeType {
		return arrow.FixedWidthTypes.Timestamp_us
	}
	switch fty.Kind() {
	case reflect.Int64:
		return arrow.PrimitiveTypes.Int64
	case reflect.Int32:
		return arrow.PrimitiveTypes.Int32
	case reflect.Float64:
		return arrow.PrimitiveTypes.Float64
	case reflect.Bool:
		return arrow.FixedWidthTypes.Boolean
	case reflect.String:
		return arrow.BinaryTypes.String
	default:
		panic("tsflow/records: " + fty.String() + " is not supported")
	}
}

func fieldName(f reflect.StructField) (name, tag string) {
	name, tag, _ = strings.Cut(f.Tag.Get(TagName), ",")
	if name == "" {
		name = ToSnakeCase(f.Name)
	}
	return
}

func newFieldBuild(b array.Builder, nullable bool) *fieldBuilder {
	f := &fieldBuilder{builder: b, nullable: nullable}
	switch e := b.(type) {
	case *array.Int64Builder:
		f.append = func(v reflect.Value) error {
			e.Append(v.Int())
			return nil
		}
	case *array.Int32Builder:
		f.append = func(v reflect.Value) error {
			e.Append(int32(v.Int()))
			return nil
		}
	case *array.Float64Builder:
		f.append = func(v reflect.Value) error {
			e.Append(v.Float())
			return nil
		}
	case *array.BooleanBuilder:
		f.append = func(v reflect.Value) error {
			e.Append(v.Bool())
			return nil
		}
	case *array.StringBuilder:
		f.append = func(v reflect.Value) error {
			e.Append(v.String())
			return nil
		}
	case *array.BinaryDictionaryBuilder:
		f.append = func(v reflect.Value) error {
			return e.AppendString(v.String())
		}
	case *array.TimestampBuilder:
		f.append = func(v reflect.Value) error {
			e.Append(arrow.Timestamp(v.Interface().(time.Time).UnixMicro()))
			return nil
		}
	default:
		panic("tsflow/records: unsupported array builder " + b.Type().String())
	}
	return f
}

var (
	matchFirstCap = regexp.MustCompile("(.)([A-Z][a-z]+)")
	matchAllCap   = regexp.MustCompile("([a-z0-9])([A-Z])")
)

func ToSnakeCase(str string) string {
	snake := matchFirstCap.ReplaceAllString(str, "${1}_${2}")
	snake = matchAllCap.ReplaceAllString(snake, "${1}_${2}")
	return strings.ToLower(snake)
}
