package source

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/polarsignals/tsflow/query"
)

var _ query.Source = (*SQL)(nil)

// OpenDuckDB opens a DuckDB database. An empty dsn opens an in-memory
// database.
func OpenDuckDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return db, nil
}

// SQL reads the result of a query. The query runs when the source is
// created so that its schema is known, and the result is consumed by the
// first Scan. Close must be called if Scan is never called.
type SQL struct {
	rows    *sql.Rows
	schema  *arrow.Schema
	options options
}

func NewSQL(ctx context.Context, db *sql.DB, stmt string, opts ...Option) (*SQL, error) {
	rows, err := db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("column types: %w", err)
	}
	fields := make([]arrow.Field, len(columnTypes))
	for i, ct := range columnTypes {
		fields[i] = arrow.Field{
			Name:     ct.Name(),
			Type:     sqlTypeToArrowType(ct.DatabaseTypeName()),
			Nullable: true,
		}
	}

	return &SQL{
		rows:    rows,
		schema:  arrow.NewSchema(fields, nil),
		options: newOptions(opts),
	}, nil
}

func (s *SQL) Schema() *arrow.Schema {
	return s.schema
}

func (s *SQL) Close() error {
	return s.rows.Close()
}

func (s *SQL) Scan(ctx context.Context, mem memory.Allocator, callback func(ctx context.Context, r arrow.Record) error) error {
	defer s.rows.Close()

	b := newBatcher(mem, s.schema, s.options.batchSize, callback)
	defer b.release()

	values := make([]any, len(s.schema.Fields()))
	ptrs := make([]any, len(values))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for s.rows.Next() {
		if err := s.rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			if err := appendSQLValue(b.field(i), v); err != nil {
				return fmt.Errorf("column %s: %w", s.schema.Field(i).Name, err)
			}
		}
		if err := b.next(ctx); err != nil {
			return err
		}
	}
	if err := s.rows.Err(); err != nil {
		return fmt.Errorf("iterate rows: %w", err)
	}
	return b.flush(ctx)
}

func sqlTypeToArrowType(sqlType string) arrow.DataType {
	sqlType = strings.ToUpper(sqlType)
	switch {
	case strings.Contains(sqlType, "HUGEINT"), strings.Contains(sqlType, "INTERVAL"):
		return arrow.BinaryTypes.String
	case strings.Contains(sqlType, "BIGINT"), strings.Contains(sqlType, "INT64"), strings.Contains(sqlType, "UINTEGER"):
		return arrow.PrimitiveTypes.Int64
	case strings.Contains(sqlType, "INT"):
		return arrow.PrimitiveTypes.Int32
	case strings.Contains(sqlType, "FLOAT"), strings.Contains(sqlType, "DOUBLE"), strings.Contains(sqlType, "REAL"):
		return arrow.PrimitiveTypes.Float64
	case strings.Contains(sqlType, "BOOL"):
		return arrow.FixedWidthTypes.Boolean
	case strings.Contains(sqlType, "TIMESTAMP"), strings.Contains(sqlType, "DATETIME"):
		return arrow.FixedWidthTypes.Timestamp_us
	case strings.Contains(sqlType, "DATE"):
		return arrow.FixedWidthTypes.Date32
	default:
		return arrow.BinaryTypes.String
	}
}

func appendSQLValue(builder array.Builder, val any) error {
	if val == nil {
		builder.AppendNull()
		return nil
	}

	switch b := builder.(type) {
	case *array.Int64Builder:
		switch v := val.(type) {
		case int64:
			b.Append(v)
		case int32:
			b.Append(int64(v))
		case int:
			b.Append(int64(v))
		case uint64:
			if v > math.MaxInt64 {
				return fmt.Errorf("value %d overflows int64", v)
			}
			b.Append(int64(v))
		case uint32:
			b.Append(int64(v))
		case uint16:
			b.Append(int64(v))
		case uint8:
			b.Append(int64(v))
		default:
			return fmt.Errorf("unexpected %T for int64", val)
		}
	case *array.Int32Builder:
		switch v := val.(type) {
		case int32:
			b.Append(v)
		case int16:
			b.Append(int32(v))
		case int8:
			b.Append(int32(v))
		case int64:
			b.Append(int32(v))
		case uint16:
			b.Append(int32(v))
		case uint8:
			b.Append(int32(v))
		default:
			return fmt.Errorf("unexpected %T for int32", val)
		}
	case *array.Float64Builder:
		switch v := val.(type) {
		case float64:
			b.Append(v)
		case float32:
			b.Append(float64(v))
		case int64:
			b.Append(float64(v))
		case int32:
			b.Append(float64(v))
		default:
			return fmt.Errorf("unexpected %T for float64", val)
		}
	case *array.StringBuilder:
		switch v := val.(type) {
		case string:
			b.Append(v)
		case []byte:
			b.Append(string(v))
		case time.Time:
			b.Append(v.Format(time.RFC3339Nano))
		default:
			b.Append(fmt.Sprintf("%v", v))
		}
	case *array.BooleanBuilder:
		v, ok := val.(bool)
		if !ok {
			return fmt.Errorf("unexpected %T for bool", val)
		}
		b.Append(v)
	case *array.TimestampBuilder:
		v, ok := val.(time.Time)
		if !ok {
			return fmt.Errorf("unexpected %T for timestamp", val)
		}
		b.Append(arrow.Timestamp(v.UnixMicro()))
	case *array.Date32Builder:
		v, ok := val.(time.Time)
		if !ok {
			return fmt.Errorf("unexpected %T for date", val)
		}
		b.Append(arrow.Date32FromTime(v))
	default:
		builder.AppendNull()
	}
	return nil
}
