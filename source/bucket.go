package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/thanos-io/objstore"

	"github.com/polarsignals/tsflow/query"
)

// PrefixedBucket reads the objects of a bucket below prefix.
type PrefixedBucket struct {
	objstore.BucketReader
	prefix string
}

func NewPrefixedBucket(bucket objstore.BucketReader, prefix string) *PrefixedBucket {
	return &PrefixedBucket{BucketReader: bucket, prefix: prefix}
}

func (b *PrefixedBucket) addPrefix(name string) string {
	return filepath.Join(b.prefix, name)
}

func (b *PrefixedBucket) trimPrefix(name string) string {
	return strings.TrimPrefix(strings.TrimPrefix(name, b.prefix), string(filepath.Separator))
}

func (b *PrefixedBucket) Iter(ctx context.Context, dir string, f func(string) error, options ...objstore.IterOption) error {
	return b.BucketReader.Iter(ctx, b.addPrefix(dir), func(path string) error {
		return f(b.trimPrefix(path))
	}, options...)
}

func (b *PrefixedBucket) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	return b.BucketReader.Get(ctx, b.addPrefix(name))
}

func (b *PrefixedBucket) GetRange(ctx context.Context, name string, off, length int64) (io.ReadCloser, error) {
	return b.BucketReader.GetRange(ctx, b.addPrefix(name), off, length)
}

func (b *PrefixedBucket) Exists(ctx context.Context, name string) (bool, error) {
	return b.BucketReader.Exists(ctx, b.addPrefix(name))
}

func (b *PrefixedBucket) Attributes(ctx context.Context, name string) (objstore.ObjectAttributes, error) {
	return b.BucketReader.Attributes(ctx, b.addPrefix(name))
}

// ObjectReaderAt reads an object through ranged gets.
type ObjectReaderAt struct {
	bucket objstore.BucketReader
	name   string
	ctx    context.Context
}

// ReadAt implements the io.ReaderAt interface.
func (o *ObjectReaderAt) ReadAt(p []byte, off int64) (n int, err error) {
	rc, err := o.bucket.GetRange(o.ctx, o.name, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	total := 0
	for total < len(p) { // Read does not guarantee the buffer will be full, but ReadAt does
		n, err = rc.Read(p[total:])
		total += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return total, err
		}
	}
	if total < len(p) {
		return total, io.EOF
	}
	return total, nil
}

// OpenObject returns a source reading the named object. Parquet objects are
// read with ranged gets, CSV objects (optionally compressed) are streamed
// and need schema to be set. The returned close function releases the
// underlying stream.
func OpenObject(ctx context.Context, bucket objstore.BucketReader, name string, schema *arrow.Schema, opts ...Option) (query.Source, func() error, error) {
	switch Format(name) {
	case "parquet":
		attr, err := bucket.Attributes(ctx, name)
		if err != nil {
			return nil, nil, fmt.Errorf("stat %s: %w", name, err)
		}
		src, err := NewParquet(&ObjectReaderAt{bucket: bucket, name: name, ctx: ctx}, attr.Size, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", name, err)
		}
		return src, func() error { return nil }, nil
	case "csv", "tsv":
		if schema == nil {
			return nil, nil, fmt.Errorf("%s: csv input needs a schema", name)
		}
		rc, err := bucket.Get(ctx, name)
		if err != nil {
			return nil, nil, fmt.Errorf("get %s: %w", name, err)
		}
		r, err := Decompress(rc, name)
		if err != nil {
			rc.Close()
			return nil, nil, err
		}
		if Format(name) == "tsv" {
			opts = append([]Option{WithComma('\t')}, opts...)
		}
		return NewCSV(r, schema, opts...), func() error {
			return errors.Join(r.Close(), rc.Close())
		}, nil
	default:
		return nil, nil, fmt.Errorf("%s: unsupported format %q", name, Format(name))
	}
}
