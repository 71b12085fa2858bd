package series

import (
	"errors"
	"fmt"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
)

// groupID tells the null group apart from a string group whose value
// happens to equal NullKey.
type groupID struct {
	key  Key
	null bool
}

// Slot owns the groups whose hash maps to it.
type Slot struct {
	mtx    sync.Mutex
	groups map[groupID]*Buffer
	order  []*Buffer
}

func newSlot() *Slot {
	return &Slot{groups: map[groupID]*Buffer{}}
}

// merge adds rows to their buffers while holding the slot lock once.
func (s *Slot) merge(rows []Row, withRefs bool) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	for _, r := range rows {
		id := groupID{key: r.Key, null: r.Group.Null}
		b, ok := s.groups[id]
		if !ok {
			b = newBuffer(r.Key, r.Group)
			s.groups[id] = b
			s.order = append(s.order, b)
		}
		if err := b.add(r, withRefs); err != nil {
			return err
		}
	}
	return nil
}

// Buffers returns the groups of the slot in the order they were first seen.
// It must only be called once routing has stopped.
func (s *Slot) Buffers() []*Buffer {
	return s.order
}

// Stats describes the outcome of routing one record.
type Stats struct {
	Rows        int
	DroppedRows int
}

// Router partitions incoming records into a fixed set of slots. Routing is
// safe for concurrent use.
type Router struct {
	slots []*Slot
	time  TimeColumn

	retain   bool
	batchMtx sync.Mutex
	batches  []arrow.Record
}

// Column positions of routed records.
const (
	GroupIndex = 0
	TimeIndex  = 1
	ValueIndex = 2
)

// NewRouter creates a router with nslots slots. If retain is true every
// routed record is retained so that rows can later be referenced through
// their RowRef.
func NewRouter(nslots int, time TimeColumn, retain bool) *Router {
	if nslots < 1 {
		nslots = 1
	}
	slots := make([]*Slot, nslots)
	for i := range slots {
		slots[i] = newSlot()
	}
	return &Router{
		slots:  slots,
		time:   time,
		retain: retain,
	}
}

func (r *Router) Slots() []*Slot {
	return r.slots
}

// Batch returns a retained record.
func (r *Router) Batch(i int32) arrow.Record {
	r.batchMtx.Lock()
	defer r.batchMtx.Unlock()
	return r.batches[i]
}

// Release releases all retained records.
func (r *Router) Release() {
	r.batchMtx.Lock()
	defer r.batchMtx.Unlock()
	for _, b := range r.batches {
		b.Release()
	}
	r.batches = nil
}

func (r *Router) retainRecord(rec arrow.Record) (int32, error) {
	r.batchMtx.Lock()
	defer r.batchMtx.Unlock()
	if len(r.batches) >= 1<<31-1 {
		return 0, errors.New("too many retained records")
	}
	rec.Retain()
	r.batches = append(r.batches, rec)
	return int32(len(r.batches) - 1), nil
}

// Route partitions the rows of rec into per-slot lists without holding any
// lock and then merges each list into its slot, taking each touched slot's
// lock exactly once. Rows with a null timestamp are dropped.
func (r *Router) Route(rec arrow.Record) (Stats, error) {
	n := int(rec.NumRows())
	if n == 0 {
		return Stats{}, nil
	}
	if rec.NumCols() <= ValueIndex {
		return Stats{}, fmt.Errorf("expected at least %d columns, got %d", ValueIndex+1, rec.NumCols())
	}

	groups := rec.Column(GroupIndex)
	hashes, err := HashArray(groups)
	if err != nil {
		return Stats{}, err
	}
	groupAt, err := newGroupReader(groups)
	if err != nil {
		return Stats{}, err
	}
	timeAt, err := r.time.Reader(rec.Column(TimeIndex))
	if err != nil {
		return Stats{}, err
	}
	valueAt, err := newValueReader(rec.Column(ValueIndex))
	if err != nil {
		return Stats{}, err
	}

	batch := int32(-1)
	if r.retain {
		if batch, err = r.retainRecord(rec); err != nil {
			return Stats{}, err
		}
	}

	stats := Stats{Rows: n}
	local := make([][]Row, len(r.slots))
	nslots := uint64(len(r.slots))
	for i := 0; i < n; i++ {
		ts, ok := timeAt(i)
		if !ok {
			stats.DroppedRows++
			continue
		}
		key, group := groupAt(i)
		v, valid := valueAt(i)
		s := hashes[i] % nslots
		local[s] = append(local[s], Row{
			Key:   key,
			Group: group,
			Time:  ts,
			Value: v,
			Valid: valid,
			Ref:   RowRef{Batch: batch, Row: int32(i)},
		})
	}

	for s, rows := range local {
		if len(rows) == 0 {
			continue
		}
		if err := r.slots[s].merge(rows, r.retain); err != nil {
			return stats, err
		}
	}
	return stats, nil
}
