package source

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"
	"github.com/thanos-io/objstore"

	"github.com/polarsignals/tsflow/query"
	"github.com/polarsignals/tsflow/transform"
)

const testCSV = `id,ts,value
a,0,1.5
a,2,
b,0,3
b,4,4
`

func testSchema(t *testing.T) *arrow.Schema {
	t.Helper()
	schema, err := ParseSchema("id:string, ts:int64, value:float64")
	require.NoError(t, err)
	return schema
}

// rows scans src and returns every row as its comma separated cell
// strings.
func rows(t *testing.T, mem memory.Allocator, src query.Source) ([]string, int) {
	t.Helper()
	var res []string
	records := 0
	err := src.Scan(context.Background(), mem, func(_ context.Context, r arrow.Record) error {
		records++
		for i := 0; i < int(r.NumRows()); i++ {
			cells := make([]string, r.NumCols())
			for j, col := range r.Columns() {
				cells[j] = col.ValueStr(i)
			}
			res = append(res, strings.Join(cells, ","))
		}
		return nil
	})
	require.NoError(t, err)
	return res, records
}

var expectedRows = []string{
	"a,0,1.5",
	"a,2,(null)",
	"b,0,3",
	"b,4,4",
}

func TestParseSchema(t *testing.T) {
	schema := testSchema(t)
	require.Equal(t, 3, schema.NumFields())
	require.Equal(t, arrow.BinaryTypes.String, schema.Field(0).Type)
	require.Equal(t, arrow.PrimitiveTypes.Int64, schema.Field(1).Type)
	require.Equal(t, arrow.PrimitiveTypes.Float64, schema.Field(2).Type)

	schema, err := ParseSchema("day:date,at:timestamp[ms]")
	require.NoError(t, err)
	require.Equal(t, arrow.FixedWidthTypes.Date32, schema.Field(0).Type)
	require.Equal(t, arrow.FixedWidthTypes.Timestamp_ms, schema.Field(1).Type)

	for _, s := range []string{"", "id", "id:uuid"} {
		_, err := ParseSchema(s)
		require.Error(t, err, s)
	}
}

func TestFormat(t *testing.T) {
	for name, format := range map[string]string{
		"a.csv":             "csv",
		"dir/a.CSV.zst":     "csv",
		"a.tsv.gz":          "tsv",
		"data/part.parquet": "parquet",
		"a":                 "",
	} {
		require.Equal(t, format, Format(name), name)
	}
}

func TestCSV(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	src := NewCSV(strings.NewReader(testCSV), testSchema(t), WithBatchSize(3))
	res, records := rows(t, mem, src)
	require.Equal(t, expectedRows, res)
	require.Equal(t, 2, records)

	err := src.Scan(context.Background(), mem, func(context.Context, arrow.Record) error { return nil })
	require.Error(t, err)
}

func TestDecompress(t *testing.T) {
	var zbuf bytes.Buffer
	zw, err := zstd.NewWriter(&zbuf)
	require.NoError(t, err)
	_, err = zw.Write([]byte(testCSV))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var gbuf bytes.Buffer
	gw := gzip.NewWriter(&gbuf)
	_, err = gw.Write([]byte(testCSV))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	for name, data := range map[string][]byte{
		"a.csv":     []byte(testCSV),
		"a.csv.zst": zbuf.Bytes(),
		"a.csv.gz":  gbuf.Bytes(),
	} {
		t.Run(name, func(t *testing.T) {
			r, err := Decompress(bytes.NewReader(data), name)
			require.NoError(t, err)
			defer r.Close()

			res, _ := rows(t, memory.DefaultAllocator, NewCSV(r, testSchema(t)))
			require.Equal(t, expectedRows, res)
		})
	}

	_, err = Decompress(strings.NewReader("not gzip"), "a.csv.gz")
	require.Error(t, err)
}

type parquetRow struct {
	ID    string   `parquet:"id"`
	TS    int64    `parquet:"ts"`
	Value *float64 `parquet:"value,optional"`
}

func ptr[T any](v T) *T { return &v }

func parquetFile(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[parquetRow](&buf)
	_, err := w.Write([]parquetRow{
		{ID: "a", TS: 0, Value: ptr(1.5)},
		{ID: "a", TS: 2},
		{ID: "b", TS: 0, Value: ptr(3.0)},
		{ID: "b", TS: 4, Value: ptr(4.0)},
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestParquet(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	data := parquetFile(t)
	src, err := NewParquet(bytes.NewReader(data), int64(len(data)), WithBatchSize(3))
	require.NoError(t, err)
	require.Equal(t, int64(4), src.NumRows())

	schema := src.Schema()
	require.Equal(t, []string{"id", "ts", "value"}, []string{
		schema.Field(0).Name, schema.Field(1).Name, schema.Field(2).Name,
	})
	require.Equal(t, arrow.BinaryTypes.String, schema.Field(0).Type)
	require.Equal(t, arrow.PrimitiveTypes.Int64, schema.Field(1).Type)
	require.Equal(t, arrow.PrimitiveTypes.Float64, schema.Field(2).Type)
	require.True(t, schema.Field(2).Nullable)

	res, records := rows(t, mem, src)
	require.Equal(t, expectedRows, res)
	require.Equal(t, 2, records)
}

func TestParquetNodeToType(t *testing.T) {
	cases := []struct {
		node parquet.Node
		typ  arrow.DataType
	}{
		{parquet.String(), arrow.BinaryTypes.String},
		{parquet.Int(64), arrow.PrimitiveTypes.Int64},
		{parquet.Int(32), arrow.PrimitiveTypes.Int32},
		{parquet.Leaf(parquet.DoubleType), arrow.PrimitiveTypes.Float64},
		{parquet.Leaf(parquet.FloatType), arrow.PrimitiveTypes.Float32},
		{parquet.Date(), arrow.FixedWidthTypes.Date32},
		{parquet.Timestamp(parquet.Millisecond), arrow.FixedWidthTypes.Timestamp_ms},
		{parquet.Timestamp(parquet.Microsecond), arrow.FixedWidthTypes.Timestamp_us},
	}
	for _, c := range cases {
		typ, err := parquetNodeToType(c.node)
		require.NoError(t, err)
		require.Equal(t, c.typ, typ)
	}

	for _, n := range []parquet.Node{parquet.Uint(64), parquet.Leaf(parquet.Int96Type)} {
		_, err := parquetNodeToType(n)
		require.Error(t, err)
	}
}

func TestOpenObject(t *testing.T) {
	ctx := context.Background()
	bucket := objstore.NewInMemBucket()

	var gbuf bytes.Buffer
	gw := gzip.NewWriter(&gbuf)
	_, err := gw.Write([]byte(testCSV))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	require.NoError(t, bucket.Upload(ctx, "metrics/a.csv.gz", &gbuf))
	require.NoError(t, bucket.Upload(ctx, "metrics/b.parquet", bytes.NewReader(parquetFile(t))))
	require.NoError(t, bucket.Upload(ctx, "metrics/c.json", strings.NewReader("{}")))

	prefixed := NewPrefixedBucket(bucket, "metrics")
	var names []string
	require.NoError(t, prefixed.Iter(ctx, "", func(name string) error {
		names = append(names, name)
		return nil
	}))
	require.Equal(t, []string{"a.csv.gz", "b.parquet", "c.json"}, names)

	for _, name := range []string{"a.csv.gz", "b.parquet"} {
		t.Run(name, func(t *testing.T) {
			src, closeFn, err := OpenObject(ctx, prefixed, name, testSchema(t))
			require.NoError(t, err)
			defer func() { require.NoError(t, closeFn()) }()

			res, _ := rows(t, memory.DefaultAllocator, src)
			require.Equal(t, expectedRows, res)
		})
	}

	_, _, err = OpenObject(ctx, prefixed, "c.json", nil)
	require.Error(t, err)
	_, _, err = OpenObject(ctx, prefixed, "a.csv.gz", nil)
	require.Error(t, err)
	_, _, err = OpenObject(ctx, prefixed, "missing.parquet", nil)
	require.Error(t, err)
}

func TestFilter(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	for _, c := range []struct {
		expression string
		rows       []string
	}{
		{`id == "b"`, []string{"b,0,3", "b,4,4"}},
		{`value > 2`, []string{"b,0,3", "b,4,4"}},
		{`ts == 0 || value < 2`, []string{"a,0,1.5", "b,0,3"}},
		{`true`, expectedRows},
		{`false`, nil},
	} {
		t.Run(c.expression, func(t *testing.T) {
			src, err := Filter(NewCSV(strings.NewReader(testCSV), testSchema(t)), c.expression)
			require.NoError(t, err)
			res, _ := rows(t, mem, src)
			require.Equal(t, c.rows, res)
		})
	}

	_, err := Filter(NewCSV(strings.NewReader(testCSV), testSchema(t)), `missing > 1`)
	require.Error(t, err)
	_, err = Filter(NewCSV(strings.NewReader(testCSV), testSchema(t)), `value + 1`)
	require.Error(t, err)
}

func TestFilterTime(t *testing.T) {
	schema, err := ParseSchema("id:string,ts:timestamp,value:float64")
	require.NoError(t, err)

	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	for i, day := range []int{1, 2, 3} {
		b.Field(0).(*array.StringBuilder).Append("a")
		b.Field(1).(*array.TimestampBuilder).Append(arrow.Timestamp(time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC).UnixMicro()))
		b.Field(2).(*array.Float64Builder).Append(float64(i))
	}
	rec := b.NewRecord()
	defer rec.Release()

	src, err := Filter(&query.FakeSource{Records: []arrow.Record{rec}}, `ts >= date("2024-01-02")`)
	require.NoError(t, err)

	var values []float64
	err = src.Scan(context.Background(), memory.DefaultAllocator, func(_ context.Context, r arrow.Record) error {
		values = append(values, r.Column(2).(*array.Float64).Float64Values()...)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2}, values)
}

func TestSQL(t *testing.T) {
	ctx := context.Background()
	db, err := OpenDuckDB(ctx, "")
	require.NoError(t, err)
	defer db.Close()

	src, err := NewSQL(ctx, db, `
		SELECT 'a' AS id, TIMESTAMP '2024-01-01 00:00:00' AS ts, 1.5::DOUBLE AS value
		UNION ALL
		SELECT 'b', TIMESTAMP '2024-01-02 00:00:00', NULL
		ORDER BY id`, WithBatchSize(1))
	require.NoError(t, err)

	schema := src.Schema()
	require.Equal(t, arrow.BinaryTypes.String, schema.Field(0).Type)
	require.Equal(t, arrow.FixedWidthTypes.Timestamp_us, schema.Field(1).Type)
	require.Equal(t, arrow.PrimitiveTypes.Float64, schema.Field(2).Type)

	var (
		ids     []string
		times   []int64
		records int
		nulls   int
	)
	err = src.Scan(ctx, memory.DefaultAllocator, func(_ context.Context, r arrow.Record) error {
		records++
		ids = append(ids, r.Column(0).(*array.String).Value(0))
		times = append(times, int64(r.Column(1).(*array.Timestamp).Value(0)))
		nulls += r.Column(2).NullN()
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, records)
	require.Equal(t, []string{"a", "b"}, ids)
	require.Equal(t, []int64{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMicro(),
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).UnixMicro(),
	}, times)
	require.Equal(t, 1, nulls)

	_, err = NewSQL(ctx, db, "SELECT * FROM missing")
	require.Error(t, err)
}

func TestSQLUnsignedColumns(t *testing.T) {
	ctx := context.Background()
	db, err := OpenDuckDB(ctx, "")
	require.NoError(t, err)
	defer db.Close()

	src, err := NewSQL(ctx, db, `
		SELECT 7::UTINYINT AS id, 3000000000::UINTEGER AS ts, 40000::USMALLINT AS value, 9::UBIGINT AS total`)
	require.NoError(t, err)

	schema := src.Schema()
	require.Equal(t, arrow.PrimitiveTypes.Int32, schema.Field(0).Type)
	require.Equal(t, arrow.PrimitiveTypes.Int64, schema.Field(1).Type)
	require.Equal(t, arrow.PrimitiveTypes.Int32, schema.Field(2).Type)
	require.Equal(t, arrow.PrimitiveTypes.Int64, schema.Field(3).Type)

	var row []int64
	err = src.Scan(ctx, memory.DefaultAllocator, func(_ context.Context, r arrow.Record) error {
		row = append(row,
			int64(r.Column(0).(*array.Int32).Value(0)),
			r.Column(1).(*array.Int64).Value(0),
			int64(r.Column(2).(*array.Int32).Value(0)),
			r.Column(3).(*array.Int64).Value(0),
		)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []int64{7, 3000000000, 40000, 9}, row)
}

func TestCSVTransform(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	engine := query.NewEngine(mem, query.WithConcurrency(2))
	var res []string
	err := engine.Scan(NewCSV(strings.NewReader(testCSV), testSchema(t))).
		Transform(transform.KindFillGaps, transform.Params{"frequency": 1}).
		Execute(context.Background(), func(_ context.Context, r arrow.Record) error {
			for i := 0; i < int(r.NumRows()); i++ {
				res = append(res, r.Column(0).ValueStr(i)+","+r.Column(1).ValueStr(i)+","+r.Column(2).ValueStr(i))
			}
			return nil
		})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{
		"a,0,1.5", "a,1,(null)", "a,2,(null)",
		"b,0,3", "b,1,(null)", "b,2,(null)", "b,3,(null)", "b,4,4",
	}, res)
}

func TestValues(t *testing.T) {
	type observation struct {
		Store string    `tsflow:"store,dict"`
		Day   time.Time `tsflow:"day"`
		Sales *float64
	}
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	sales := func(v float64) *float64 { return &v }

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	src := NewValues([]observation{
		{Store: "s1", Day: day(1), Sales: sales(1)},
		{Store: "s1", Day: day(3), Sales: sales(3)},
		{Store: "s2", Day: day(2)},
	}, WithBatchSize(2))
	require.Equal(t, "store", src.Schema().Field(0).Name)
	require.Equal(t, arrow.DICTIONARY, src.Schema().Field(0).Type.ID())
	require.Equal(t, "sales", src.Schema().Field(2).Name)

	_, records := rows(t, mem, src)
	require.Equal(t, 2, records)

	var out []arrow.Record
	defer func() {
		for _, r := range out {
			r.Release()
		}
	}()
	err := query.NewEngine(mem, query.WithConcurrency(2)).
		Scan(src).
		Transform(transform.KindFillGaps, transform.Params{"frequency": "1d"}).
		Execute(context.Background(), func(_ context.Context, r arrow.Record) error {
			r.Retain()
			out = append(out, r)
			return nil
		})
	require.NoError(t, err)

	type result struct {
		Store string
		Day   time.Time
		Sales *float64
	}
	require.ElementsMatch(t, []result{
		{Store: "s1", Day: day(1), Sales: sales(1)},
		{Store: "s1", Day: day(2)},
		{Store: "s1", Day: day(3), Sales: sales(3)},
		{Store: "s2", Day: day(2)},
	}, Collect[result](out))
}
