package series

import (
	"errors"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/roaring64"
)

// ErrDuplicateTimestamp is matched by every *DuplicateError.
var ErrDuplicateTimestamp = errors.New("duplicate timestamp")

// DuplicateError reports a group holding the same timestamp twice.
type DuplicateError struct {
	Group     Key
	Null      bool
	Timestamp int64
}

func (e *DuplicateError) Error() string {
	if e.Null {
		return fmt.Sprintf("duplicate timestamp %d in null group", e.Timestamp)
	}
	return fmt.Sprintf("duplicate timestamp %d in group %q", e.Timestamp, string(e.Group))
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicateTimestamp
}

// RowRef points at a row of a retained input record.
type RowRef struct {
	Batch int32
	Row   int32
}

// Row is a single observation on its way into a Buffer.
type Row struct {
	Key   Key
	Group Value
	Time  int64
	Value float64
	Valid bool
	Ref   RowRef
}

// Buffer holds the observations of one group. Until Sort is called the
// observations are kept in arrival order.
type Buffer struct {
	Key   Key
	Group Value

	Times  []int64
	Values []float64
	Valid  []bool
	// Refs is only populated when the router retains input records.
	Refs []RowRef

	seen *roaring64.Bitmap
}

func newBuffer(key Key, group Value) *Buffer {
	return &Buffer{
		Key:   key,
		Group: group,
		seen:  roaring64.New(),
	}
}

func (b *Buffer) add(r Row, withRefs bool) error {
	if !b.seen.CheckedAdd(uint64(r.Time)) {
		return &DuplicateError{Group: b.Key, Null: b.Group.Null, Timestamp: r.Time}
	}
	b.Times = append(b.Times, r.Time)
	b.Values = append(b.Values, r.Value)
	b.Valid = append(b.Valid, r.Valid)
	if withRefs {
		b.Refs = append(b.Refs, r.Ref)
	}
	return nil
}

func (b *Buffer) Len() int {
	return len(b.Times)
}

// Sort orders the observations by timestamp and verifies that no
// timestamp occurs twice.
func (b *Buffer) Sort() error {
	sort.Stable(b)
	for i := 1; i < len(b.Times); i++ {
		if b.Times[i] == b.Times[i-1] {
			return &DuplicateError{Group: b.Key, Null: b.Group.Null, Timestamp: b.Times[i]}
		}
	}
	return nil
}

func (b *Buffer) Less(i, j int) bool {
	return b.Times[i] < b.Times[j]
}

func (b *Buffer) Swap(i, j int) {
	b.Times[i], b.Times[j] = b.Times[j], b.Times[i]
	b.Values[i], b.Values[j] = b.Values[j], b.Values[i]
	b.Valid[i], b.Valid[j] = b.Valid[j], b.Valid[i]
	if b.Refs != nil {
		b.Refs[i], b.Refs[j] = b.Refs[j], b.Refs[i]
	}
}
