package query

import (
	"context"
	"errors"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// FakeSource is a Source serving records held in memory.
type FakeSource struct {
	Records      []arrow.Record
	RecordSchema *arrow.Schema
	// Err is returned after all records were served.
	Err error
}

func (s *FakeSource) Schema() *arrow.Schema {
	if s.RecordSchema == nil && len(s.Records) > 0 {
		return s.Records[0].Schema()
	}
	return s.RecordSchema
}

func (s *FakeSource) Scan(
	ctx context.Context,
	_ memory.Allocator,
	callback func(ctx context.Context, r arrow.Record) error,
) error {
	if callback == nil {
		return errors.New("no callback provided")
	}

	for _, r := range s.Records {
		if err := callback(ctx, r); err != nil {
			return err
		}
	}

	return s.Err
}
