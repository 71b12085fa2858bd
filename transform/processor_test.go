package transform

import (
	"context"
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/polarsignals/tsflow/algo"
	"github.com/polarsignals/tsflow/series"
)

type point struct {
	group string
	ts    int64
	value float64
}

var pointSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.BinaryTypes.String},
	{Name: "ts", Type: arrow.PrimitiveTypes.Int64},
	{Name: "value", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
}, nil)

// route buffers points in a router with nslots slots.
func route(t *testing.T, mem memory.Allocator, nslots int, points ...point) *series.Router {
	t.Helper()
	b := array.NewRecordBuilder(mem, pointSchema)
	defer b.Release()
	for _, p := range points {
		b.Field(0).(*array.StringBuilder).Append(p.group)
		b.Field(1).(*array.Int64Builder).Append(p.ts)
		b.Field(2).(*array.Float64Builder).Append(p.value)
	}
	rec := b.NewRecord()
	defer rec.Release()

	r := series.NewRouter(nslots, timeColumn(t, arrow.PrimitiveTypes.Int64), false)
	_, err := r.Route(rec)
	require.NoError(t, err)
	return r
}

func process(t *testing.T, mem memory.Allocator, kind Kind, params Params, r *series.Router) (map[series.Key][]Row, *Processor) {
	t.Helper()
	tr, err := New(kind, params, timeColumn(t, arrow.PrimitiveTypes.Int64))
	require.NoError(t, err)
	p := NewProcessor(tr, mem, nil)
	out, err := p.Process(context.Background(), r.Slots())
	require.NoError(t, err)

	res := map[series.Key][]Row{}
	for _, slot := range out {
		for _, g := range slot {
			key := series.Key("")
			if g.Buffer != nil {
				key = g.Buffer.Key
			}
			res[key] = append(res[key], g.Rows...)
		}
	}
	return res, p
}

func times(rows []Row) []int64 {
	res := make([]int64, len(rows))
	for i, r := range rows {
		res[i] = r.Time
	}
	return res
}

func TestProcessFillGaps(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	r := route(t, mem, 2, point{"a", 3, 3}, point{"a", 1, 1}, point{"b", 5, 5})
	out, p := process(t, mem, KindFillGaps, Params{"frequency": 1}, r)

	require.Equal(t, []Row{
		{Pos: 0, Time: 1, Value: 1, Valid: true},
		{Pos: -1, Time: 2},
		{Pos: 1, Time: 3, Value: 3, Valid: true},
	}, out["a"])
	require.Equal(t, []Row{{Pos: 0, Time: 5, Value: 5, Valid: true}}, out["b"])
	require.Equal(t, 2, p.Summary().Groups)
	require.Equal(t, 4, p.Summary().Rows)
}

func TestProcessFillForward(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	r := route(t, mem, 1, point{"a", 2, 1}, point{"a", 4, 2})
	out, _ := process(t, mem, KindFillForward, Params{"frequency": 2, "target": 8}, r)
	require.Equal(t, []int64{2, 4, 6, 8}, times(out["a"]))
	require.False(t, out["a"][3].Valid)
}

func TestProcessFillErrorIsFatal(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	r := route(t, mem, 1, point{"a", 0, 1}, point{"a", 1 << 40, 2})
	tr, err := New(KindFillGaps, Params{"frequency": 1}, timeColumn(t, arrow.PrimitiveTypes.Int64))
	require.NoError(t, err)

	p := NewProcessor(tr, mem, nil)
	_, err = p.Process(context.Background(), r.Slots())
	var aerr *algo.Error
	require.True(t, errors.As(err, &aerr), "got %v", err)
	require.Contains(t, err.Error(), `fill group "a"`)

	// The result is cached.
	_, again := p.Process(context.Background(), r.Slots())
	require.Equal(t, err, again)
}

func TestProcessMLFoldsSkipsSmallGroups(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	var points []point
	for i := 0; i < 10; i++ {
		points = append(points, point{"long", int64(i), float64(i)})
	}
	points = append(points, point{"short", 0, 0}, point{"short", 1, 1}, point{"short", 2, 2})
	r := route(t, mem, 4, points...)

	out, p := process(t, mem, KindMLFolds, Params{
		"n_folds":        2,
		"horizon":        2,
		"window_type":    "fixed",
		"min_train_size": 4,
	}, r)
	require.Empty(t, out["short"])
	require.Equal(t, []int64{2, 3, 4, 5, 6, 7, 4, 5, 6, 7, 8, 9}, times(out["long"]))
	require.Equal(t, Train, out["long"][0].Split)
	require.Equal(t, Test, out["long"][4].Split)
	require.Equal(t, int64(2), out["long"][11].Fold)
	require.Equal(t, 1, p.Summary().Skipped)
}

func TestProcessCVSplit(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	r := route(t, mem, 3,
		point{"a", 10, 1}, point{"a", 20, 2}, point{"a", 30, 3}, point{"a", 40, 4},
		point{"b", 35, 1}, point{"b", 45, 2},
	)
	out, _ := process(t, mem, KindCVSplit, Params{"horizon": 1, "training_end_times": []int{20, 35}}, r)

	require.Equal(t, []Row{
		{Pos: 0, Time: 10, Value: 1, Valid: true, Fold: 1, Split: Train},
		{Pos: 1, Time: 20, Value: 2, Valid: true, Fold: 1, Split: Train},
		{Pos: 2, Time: 30, Value: 3, Valid: true, Fold: 1, Split: Test},
		{Pos: 0, Time: 10, Value: 1, Valid: true, Fold: 2, Split: Train},
		{Pos: 1, Time: 20, Value: 2, Valid: true, Fold: 2, Split: Train},
		{Pos: 2, Time: 30, Value: 3, Valid: true, Fold: 2, Split: Train},
		{Pos: 3, Time: 40, Value: 4, Valid: true, Fold: 2, Split: Test},
	}, out["a"])
	// Group b has no point at or before 20.
	require.Equal(t, []Row{
		{Pos: 0, Time: 35, Value: 1, Valid: true, Fold: 2, Split: Train},
		{Pos: 1, Time: 45, Value: 2, Valid: true, Fold: 2, Split: Test},
	}, out["b"])
}

func TestProcessChangepoints(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	var points []point
	for i := 0; i < 40; i++ {
		v := 0.0
		if i >= 20 {
			v = 100
		}
		points = append(points, point{"step", int64(i), v})
	}
	points = append(points, point{"tiny", 0, 1}, point{"tiny", 1, 2})
	r := route(t, mem, 2, points...)

	out, p := process(t, mem, KindChangepoints, Params{"include_probabilities": true}, r)

	step := out["step"]
	require.Len(t, step, 40)
	for i, row := range step {
		require.Equal(t, i == 20, row.Changepoint, "row %d", i)
		require.True(t, row.HasProbability)
	}

	tiny := out["tiny"]
	require.Len(t, tiny, 2)
	for _, row := range tiny {
		require.False(t, row.Changepoint)
		require.False(t, row.HasProbability)
	}
	require.Equal(t, 1, p.Summary().Degraded)
}

func TestProcessGenerateFolds(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	var points []point
	for i := 0; i < 10; i++ {
		points = append(points, point{"a", int64(i), 0})
		if i%2 == 0 {
			points = append(points, point{"b", int64(i), 0})
		}
	}
	r := route(t, mem, 4, points...)

	out, p := process(t, mem, KindGenerateFolds, Params{"n_folds": 2, "horizon": 3}, r)
	require.Equal(t, []Row{
		{Pos: -1, Time: 3, Fold: 1},
		{Pos: -1, Time: 6, Fold: 2},
	}, out[""])
	require.Equal(t, 2, p.Summary().Groups)
}

func TestProcessDuplicateAfterSort(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	r := route(t, mem, 1, point{"a", 1, 1}, point{"a", 2, 2})
	b := r.Slots()[0].Buffers()[0]
	b.Times[1] = 1

	tr, err := New(KindChangepoints, nil, timeColumn(t, arrow.PrimitiveTypes.Int64))
	require.NoError(t, err)
	out, err := NewProcessor(tr, mem, nil).Process(context.Background(), r.Slots())
	require.ErrorIs(t, err, series.ErrDuplicateTimestamp)
	require.Nil(t, out)
}

func TestProcessCanceled(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	r := route(t, mem, 1, point{"a", 1, 1})
	tr, err := New(KindFillGaps, Params{"frequency": 1}, timeColumn(t, arrow.PrimitiveTypes.Int64))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewProcessor(tr, mem, nil).Process(ctx, r.Slots())
	require.ErrorIs(t, err, context.Canceled)
}
