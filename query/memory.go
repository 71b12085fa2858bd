package query

import (
	"errors"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ErrMemoryLimit is the value a LimitAllocator panics with. The engine
// returns it as the error of the query.
var ErrMemoryLimit = errors.New("memory limit exceeded")

var _ memory.Allocator = (*LimitAllocator)(nil)

// LimitAllocator is a wrapper around a memory.Allocator that panics if the
// memory usage exceeds the defined limit. A limit of zero or less disables
// the limit but keeps the accounting.
type LimitAllocator struct {
	limit     int64
	allocated *atomic.Int64
	allocator memory.Allocator
}

func NewLimitAllocator(limit int64, allocator memory.Allocator) *LimitAllocator {
	return &LimitAllocator{
		limit:     limit,
		allocated: &atomic.Int64{},
		allocator: allocator,
	}
}

func (a *LimitAllocator) exceeded(allocated int64) bool {
	return a.limit > 0 && allocated > a.limit
}

func (a *LimitAllocator) Allocate(size int) []byte {
	allocated := a.allocated.Add(int64(size))
	if a.exceeded(allocated) {
		a.allocated.Add(-int64(size))
		panic(ErrMemoryLimit)
	}

	return a.allocator.Allocate(size)
}

func (a *LimitAllocator) Reallocate(size int, b []byte) []byte {
	if len(b) == size {
		return b
	}

	diff := int64(size - len(b))
	allocated := a.allocated.Add(diff)
	if a.exceeded(allocated) {
		a.allocated.Add(-diff)
		panic(ErrMemoryLimit)
	}
	return a.allocator.Reallocate(size, b)
}

func (a *LimitAllocator) Free(b []byte) {
	a.allocated.Add(-int64(len(b)))
	a.allocator.Free(b)
}

// Allocated returns the number of bytes currently allocated.
func (a *LimitAllocator) Allocated() int {
	return int(a.allocated.Load())
}
