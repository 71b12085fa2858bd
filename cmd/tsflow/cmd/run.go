package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/arrow/util"
	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/thanos-io/objstore/providers/filesystem"

	"github.com/polarsignals/tsflow/query"
	"github.com/polarsignals/tsflow/source"
	"github.com/polarsignals/tsflow/transform"
)

func newRunCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <transform> [param=value...]",
		Short: "Run a transform and print its output",
		Example: `  tsflow run fill_gaps frequency=1d --input sales.csv --schema "store:string,day:date,sales:float64"
  tsflow run cv_split horizon=7 training_end_times=2024-01-10,2024-02-10 --input sales.parquet
  tsflow run changepoints --sql "SELECT id, ts, value FROM 'metrics.parquet'"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransform(cmd.Context(), v, cmd.OutOrStdout(), cmd.ErrOrStderr(), args)
		},
	}

	flags := cmd.Flags()
	flags.StringP("input", "i", "", "input file or object name (csv, tsv or parquet, optionally .gz or .zst)")
	flags.String("bucket", "", "directory used as object storage bucket; input is resolved inside it")
	flags.StringP("schema", "s", "", "schema of csv input as name:type pairs, e.g. id:string,ts:int64,value:float64")
	flags.Bool("header", true, "csv input starts with a header row")
	flags.String("sql", "", "DuckDB query producing the input")
	flags.String("dsn", "", "DuckDB database (default in-memory)")
	flags.StringP("filter", "f", "", "expression rows must satisfy, e.g. \"value > 0 && id != 'test'\"")
	flags.Int("workers", 0, "number of workers (default number of CPUs)")
	flags.Int("batch-size", 0, "rows per output record")
	flags.String("memory-limit", "", "maximum memory held by the query, e.g. 2GB")
	flags.StringP("output", "o", "table", "output format: table or csv")
	return cmd
}

func runTransform(ctx context.Context, v *viper.Viper, stdout, stderr io.Writer, args []string) error {
	logger, err := newLogger(stderr, v.GetString("log-level"))
	if err != nil {
		return err
	}

	kind := transform.Kind(args[0])
	params, err := parseParams(v.GetStringMap("params"), args[1:])
	if err != nil {
		return err
	}

	out, err := newOutput(v.GetString("output"), stdout)
	if err != nil {
		return err
	}

	pool := memory.Allocator(memory.NewGoAllocator())
	if limit := v.GetString("memory-limit"); limit != "" {
		n, err := humanize.ParseBytes(limit)
		if err != nil {
			return fmt.Errorf("memory limit: %w", err)
		}
		pool = query.NewLimitAllocator(int64(n), pool)
	}

	src, closeSource, err := openSource(ctx, v)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSource(); err != nil {
			level.Warn(logger).Log("msg", "failed to close input", "err", err)
		}
	}()

	if expression := v.GetString("filter"); expression != "" {
		src, err = source.Filter(src, expression)
		if err != nil {
			return err
		}
	}

	opts := []query.Option{
		query.WithLogger(logger),
		query.WithRegisterer(prometheus.NewRegistry()),
	}
	if n := v.GetInt("workers"); n > 0 {
		opts = append(opts, query.WithConcurrency(n))
	}
	if n := v.GetInt("batch-size"); n > 0 {
		opts = append(opts, query.WithBatchSize(n))
	}

	var (
		rows  int64
		bytes int64
		start = time.Now()
	)
	err = query.NewEngine(pool, opts...).
		Scan(src).
		Transform(kind, params).
		Execute(ctx, func(_ context.Context, r arrow.Record) error {
			rows += r.NumRows()
			bytes += util.TotalRecordSize(r)
			return out.Write(r)
		})
	if err != nil {
		return err
	}
	if err := out.Flush(); err != nil {
		return err
	}

	level.Info(logger).Log(
		"msg", "transform finished",
		"transform", kind,
		"rows", humanize.Comma(rows),
		"output_size", humanize.Bytes(uint64(bytes)),
		"duration", time.Since(start),
	)
	return nil
}

// parseParams merges the params of the config file with key=value
// arguments. Arguments take precedence.
func parseParams(config map[string]any, args []string) (transform.Params, error) {
	params := transform.Params{}
	for k, val := range config {
		params[k] = val
	}
	for _, arg := range args {
		k, val, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected name=value", arg)
		}
		params[k] = val
	}
	return params, nil
}

// openSource opens the input named by the configuration. The returned
// function releases the resources held by the source.
func openSource(ctx context.Context, v *viper.Viper) (query.Source, func() error, error) {
	var opts []source.Option
	if n := v.GetInt("batch-size"); n > 0 {
		opts = append(opts, source.WithBatchSize(n))
	}
	opts = append(opts, source.WithHeader(v.GetBool("header")))

	if stmt := v.GetString("sql"); stmt != "" {
		db, err := source.OpenDuckDB(ctx, v.GetString("dsn"))
		if err != nil {
			return nil, nil, err
		}
		src, err := source.NewSQL(ctx, db, stmt, opts...)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return src, func() error {
			src.Close()
			return db.Close()
		}, nil
	}

	input := v.GetString("input")
	if input == "" {
		return nil, nil, fmt.Errorf("one of --input or --sql is required")
	}
	dir := v.GetString("bucket")
	if dir == "" {
		dir, input = filepath.Split(input)
		if dir == "" {
			dir = "."
		}
	}
	bucket, err := filesystem.NewBucket(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("open bucket: %w", err)
	}

	var schema *arrow.Schema
	if s := v.GetString("schema"); s != "" {
		if schema, err = source.ParseSchema(s); err != nil {
			bucket.Close()
			return nil, nil, err
		}
	}
	src, closeObject, err := source.OpenObject(ctx, bucket, input, schema, opts...)
	if err != nil {
		bucket.Close()
		return nil, nil, err
	}
	return src, func() error {
		err := closeObject()
		if cerr := bucket.Close(); err == nil {
			err = cerr
		}
		return err
	}, nil
}
