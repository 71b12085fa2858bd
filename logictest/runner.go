package logictest

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/cockroachdb/datadriven"

	"github.com/polarsignals/tsflow/query"
	"github.com/polarsignals/tsflow/source"
	"github.com/polarsignals/tsflow/transform"
)

const nullString = "null"

const (
	// input replaces the active input with a single batch. The columns are
	// given with the schema argument as name:type pairs, the rows as
	// whitespace separated values, one row per line.
	// Example usage: input schema=(id:string, ts:int64, value:float64)
	// Supported types are the ones of source.ParseSchema plus dict, a
	// string dictionary. The value null appends a null.
	inputCmd = "input"
	// append adds another batch with the schema of the active input.
	appendCmd = "append"
	// run executes a transform over the active input.
	// Example usage: run transform=fill_gaps frequency=1d [unordered]
	// Arguments:
	// - transform
	// The kind of the transform to run.
	// - workers, batch
	// Optional engine settings. They must not change the output.
	// - unordered
	// The unordered flag is optional and specifies that the expected output
	// should not be compared in ordered fashion with the actual output.
	// Every other argument is passed on as a transform parameter. Arguments
	// with several values are passed as a list.
	runCmd = "run"
)

type Runner struct {
	mem     memory.Allocator
	schema  *arrow.Schema
	records []arrow.Record
}

func NewRunner(mem memory.Allocator) *Runner {
	return &Runner{mem: mem}
}

// RunCmd parses and runs datadriven command with the associated arguments, and
// returns the result.
func (r *Runner) RunCmd(ctx context.Context, c *datadriven.TestData) string {
	result, err := r.handleCmd(ctx, c)
	if err != nil {
		return err.Error()
	}
	return result
}

// Close releases the active input.
func (r *Runner) Close() {
	for _, rec := range r.records {
		rec.Release()
	}
	r.records = nil
}

func (r *Runner) handleCmd(ctx context.Context, c *datadriven.TestData) (string, error) {
	switch c.Cmd {
	case inputCmd:
		return r.handleInput(c)
	case appendCmd:
		return r.handleAppend(c)
	case runCmd:
		return r.handleRun(ctx, c)
	}
	return "", fmt.Errorf("unknown command %s", c.Cmd)
}

func (r *Runner) handleInput(c *datadriven.TestData) (string, error) {
	var fields []arrow.Field
	for _, arg := range c.CmdArgs {
		if arg.Key != "schema" {
			continue
		}
		for _, def := range arg.Vals {
			f, err := parseField(def)
			if err != nil {
				return "", fmt.Errorf("input: %w", err)
			}
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		return "", fmt.Errorf("input: no schema provided")
	}

	r.Close()
	r.schema = arrow.NewSchema(fields, nil)
	return r.handleAppend(c)
}

func parseField(def string) (arrow.Field, error) {
	name, typ, ok := strings.Cut(def, ":")
	if ok && strings.TrimSpace(typ) == "dict" {
		return arrow.Field{
			Name:     strings.TrimSpace(name),
			Type:     &arrow.DictionaryType{IndexType: arrow.PrimitiveTypes.Int32, ValueType: arrow.BinaryTypes.String},
			Nullable: true,
		}, nil
	}
	schema, err := source.ParseSchema(def)
	if err != nil {
		return arrow.Field{}, err
	}
	return schema.Field(0), nil
}

func (r *Runner) handleAppend(c *datadriven.TestData) (string, error) {
	if r.schema == nil {
		return "", fmt.Errorf("%s: no active input", c.Cmd)
	}

	build := array.NewRecordBuilder(r.mem, r.schema)
	defer build.Release()
	builds := make([]buildFunc, r.schema.NumFields())
	for i, f := range r.schema.Fields() {
		builds[i] = newBuild(build.Field(i), f)
	}

	for i, line := range strings.Split(strings.TrimSpace(c.Input), "\n") {
		values := strings.Fields(line)
		if len(values) == 0 {
			continue
		}
		if len(values) != len(builds) {
			return "", fmt.Errorf(
				"%s: row %d (%d values) does not match expected schema (%d cols)",
				c.Cmd,
				i+1,
				len(values),
				len(builds),
			)
		}
		for col := range values {
			if err := builds[col](values[col]); err != nil {
				return "", fmt.Errorf("%s: row %d: %w", c.Cmd, i+1, err)
			}
		}
	}

	r.records = append(r.records, build.NewRecord())
	return c.Expected, nil
}

type buildFunc func(s string) error

func newBuild(b array.Builder, f arrow.Field) buildFunc {
	var appendValue func(s string) error
	switch e := b.(type) {
	case *array.Int64Builder:
		appendValue = func(s string) error {
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return err
			}
			e.Append(v)
			return nil
		}
	case *array.Int32Builder:
		appendValue = func(s string) error {
			v, err := strconv.ParseInt(s, 10, 32)
			if err != nil {
				return err
			}
			e.Append(int32(v))
			return nil
		}
	case *array.Float64Builder:
		appendValue = func(s string) error {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return err
			}
			e.Append(v)
			return nil
		}
	case *array.BooleanBuilder:
		appendValue = func(s string) error {
			v, err := strconv.ParseBool(s)
			if err != nil {
				return err
			}
			e.Append(v)
			return nil
		}
	case *array.Date32Builder:
		appendValue = func(s string) error {
			v, err := time.Parse(time.DateOnly, s)
			if err != nil {
				return err
			}
			e.Append(arrow.Date32FromTime(v))
			return nil
		}
	case *array.TimestampBuilder:
		unit := f.Type.(*arrow.TimestampType).Unit
		appendValue = func(s string) error {
			v, err := arrow.TimestampFromString(s, unit)
			if err != nil {
				return err
			}
			e.Append(v)
			return nil
		}
	case *array.StringBuilder:
		appendValue = func(s string) error {
			e.Append(s)
			return nil
		}
	case *array.BinaryDictionaryBuilder:
		appendValue = func(s string) error {
			return e.AppendString(s)
		}
	default:
		panic(fmt.Sprintf("unexpected array builder type %T", e))
	}

	return func(s string) error {
		if s == nullString {
			b.AppendNull()
			return nil
		}
		return appendValue(s)
	}
}

func (r *Runner) handleRun(ctx context.Context, c *datadriven.TestData) (string, error) {
	var (
		kind      transform.Kind
		unordered bool
		opts      []query.Option
		params    = transform.Params{}
	)
	for _, arg := range c.CmdArgs {
		switch arg.Key {
		case "transform":
			kind = transform.Kind(arg.Vals[0])
		case "unordered":
			unordered = true
		case "workers", "batch":
			n, err := strconv.Atoi(arg.Vals[0])
			if err != nil {
				return "", fmt.Errorf("run: %s: %w", arg.Key, err)
			}
			if arg.Key == "workers" {
				opts = append(opts, query.WithConcurrency(n))
			} else {
				opts = append(opts, query.WithBatchSize(n))
			}
		default:
			switch len(arg.Vals) {
			case 0:
				params[arg.Key] = true
			case 1:
				params[arg.Key] = arg.Vals[0]
			default:
				params[arg.Key] = arg.Vals
			}
		}
	}
	if r.schema == nil {
		return "", fmt.Errorf("run: no active input")
	}

	var b bytes.Buffer
	const (
		minWidth = 8
		tabWidth = 8
		padding  = 2
		padChar  = ' '
		noFlags  = 0
	)
	w := tabwriter.NewWriter(&b, minWidth, tabWidth, padding, padChar, noFlags)

	var results []string
	err := query.NewEngine(r.mem, opts...).
		Scan(&query.FakeSource{Records: r.records, RecordSchema: r.schema}).
		Transform(kind, params).
		Execute(ctx, func(_ context.Context, ar arrow.Record) error {
			colStrings := make([][]string, ar.NumCols())
			for i, col := range ar.Columns() {
				stringVals, err := arrayToStringVals(col)
				if err != nil {
					return fmt.Errorf("run: %w", err)
				}
				colStrings[i] = stringVals
			}

			for i := 0; i < int(ar.NumRows()); i++ {
				rowStrings := make([]string, 0, ar.NumCols())
				for _, col := range colStrings {
					rowStrings = append(rowStrings, col[i])
				}
				results = append(results, strings.Join(rowStrings, "\t")+"\n")
			}
			return nil
		})
	if err != nil {
		return "", err
	}

	if unordered {
		// The test doesn't want to verify the ordering of the output. Sort the
		// output so that the results are deterministically ordered
		// independently of the execution engine.
		sort.Strings(results)
	}

	for _, result := range results {
		if _, err := w.Write([]byte(result)); err != nil {
			return "", err
		}
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	return b.String(), nil
}

func arrayToStringVals(a arrow.Array) ([]string, error) {
	result := make([]string, a.Len())
	var value func(i int) string
	switch col := a.(type) {
	case *array.String:
		value = col.Value
	case *array.Binary:
		value = col.ValueString
	case *array.Int64:
		value = func(i int) string { return strconv.FormatInt(col.Value(i), 10) }
	case *array.Int32:
		value = func(i int) string { return strconv.FormatInt(int64(col.Value(i)), 10) }
	case *array.Float64:
		value = func(i int) string { return strconv.FormatFloat(col.Value(i), 'f', -1, 64) }
	case *array.Boolean:
		value = func(i int) string { return strconv.FormatBool(col.Value(i)) }
	case *array.Date32:
		value = func(i int) string { return col.Value(i).ToTime().Format(time.DateOnly) }
	case *array.Timestamp:
		unit := col.DataType().(*arrow.TimestampType).Unit
		value = func(i int) string { return col.Value(i).ToTime(unit).UTC().Format(time.RFC3339) }
	case *array.Dictionary:
		dict, ok := col.Dictionary().(*array.String)
		if !ok {
			return nil, fmt.Errorf("unhandled dictionary type: %T", col.Dictionary())
		}
		value = func(i int) string { return dict.Value(col.GetValueIndex(i)) }
	default:
		return nil, fmt.Errorf("unhandled type %T", col)
	}

	for i := range result {
		if a.IsNull(i) {
			result[i] = nullString
			continue
		}
		result[i] = value(i)
	}
	return result, nil
}
