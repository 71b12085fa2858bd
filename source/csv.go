package source

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/polarsignals/tsflow/query"
)

var _ query.Source = (*CSV)(nil)

// CSV reads records of a fixed schema from CSV text. The input is consumed
// by the first Scan.
type CSV struct {
	r       io.Reader
	schema  *arrow.Schema
	options options
	scanned bool
}

func NewCSV(r io.Reader, schema *arrow.Schema, opts ...Option) *CSV {
	return &CSV{
		r:       r,
		schema:  schema,
		options: newOptions(opts),
	}
}

func (c *CSV) Schema() *arrow.Schema {
	return c.schema
}

func (c *CSV) Scan(ctx context.Context, mem memory.Allocator, callback func(ctx context.Context, r arrow.Record) error) error {
	if c.scanned {
		return fmt.Errorf("csv input already consumed")
	}
	c.scanned = true

	reader := csv.NewReader(c.r, c.schema,
		csv.WithAllocator(mem),
		csv.WithHeader(c.options.header),
		csv.WithChunk(c.options.batchSize),
		csv.WithComma(c.options.comma),
		csv.WithNullReader(true, c.options.nulls...),
	)
	defer reader.Release()

	for reader.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := callback(ctx, reader.Record()); err != nil {
			return err
		}
	}
	if err := reader.Err(); err != nil {
		return fmt.Errorf("read csv: %w", err)
	}
	return nil
}

// Decompress wraps r in a decompressor chosen by the extension of name.
// Names ending in .zst and .gz are decompressed, everything else is
// returned as is. Closing the result does not close r.
func Decompress(r io.Reader, name string) (io.ReadCloser, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".zst", ".zstd":
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("open zstd stream %s: %w", name, err)
		}
		return dec.IOReadCloser(), nil
	case ".gz":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream %s: %w", name, err)
		}
		return gz, nil
	default:
		return io.NopCloser(r), nil
	}
}

// Format returns the file format of name ignoring compression extensions,
// i.e. "csv" for "metrics.csv.zst".
func Format(name string) string {
	ext := strings.ToLower(path.Ext(name))
	switch ext {
	case ".zst", ".zstd", ".gz":
		ext = strings.ToLower(path.Ext(strings.TrimSuffix(name, path.Ext(name))))
	}
	return strings.TrimPrefix(ext, ".")
}
