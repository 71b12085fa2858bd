package algo

import (
	"errors"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"
)

func seriesValues(s *Series) ([]int64, []any) {
	times := make([]int64, s.Len())
	values := make([]any, s.Len())
	for i := 0; i < s.Len(); i++ {
		times[i] = s.Times.Value(i)
		if s.Values.IsNull(i) {
			values[i] = nil
			continue
		}
		values[i] = s.Values.Value(i)
	}
	return times, values
}

func requireCode(t *testing.T, err error, code Code) {
	t.Helper()
	var algoErr *Error
	require.True(t, errors.As(err, &algoErr), "unexpected error type %T", err)
	require.Equal(t, code, algoErr.Code)
}

func TestFillGaps(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	s, err := FillGaps(mem, []int64{0, 10, 40}, []float64{1, 2, 3}, nil, Step{Fixed: 10})
	require.NoError(t, err)
	defer s.Release()

	times, values := seriesValues(s)
	require.Equal(t, []int64{0, 10, 20, 30, 40}, times)
	require.Equal(t, []any{1.0, 2.0, nil, nil, 3.0}, values)
}

func TestFillGapsMisalignedStep(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	s, err := FillGaps(mem, []int64{0, 25}, []float64{1, 2}, []bool{true, false}, Step{Fixed: 10})
	require.NoError(t, err)
	defer s.Release()

	times, values := seriesValues(s)
	require.Equal(t, []int64{0, 10, 25}, times)
	require.Equal(t, []any{1.0, nil, nil}, values)

	s2, err := FillGaps(mem, []int64{0, 3, 9}, []float64{1, 2, 3}, nil, Step{Fixed: 2})
	require.NoError(t, err)
	defer s2.Release()

	times, _ = seriesValues(s2)
	require.Equal(t, []int64{0, 3, 5, 7, 9}, times)
}

func TestFillGapsCalendar(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	jan := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	apr := time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC)
	s, err := FillGaps(mem, []int64{jan.UnixMicro(), apr.UnixMicro()}, []float64{1, 4}, nil, Step{Months: 1})
	require.NoError(t, err)
	defer s.Release()

	times, _ := seriesValues(s)
	require.Equal(t, []int64{
		jan.UnixMicro(),
		time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC).UnixMicro(),
		time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC).UnixMicro(),
		apr.UnixMicro(),
	}, times)
}

func TestFillGapsShortSeries(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	s, err := FillGaps(mem, nil, nil, nil, Step{Fixed: 1})
	require.NoError(t, err)
	require.Equal(t, 0, s.Len())
	s.Release()

	s, err = FillGaps(mem, []int64{5}, []float64{7}, nil, Step{Fixed: 1})
	require.NoError(t, err)
	times, values := seriesValues(s)
	require.Equal(t, []int64{5}, times)
	require.Equal(t, []any{7.0}, values)
	s.Release()
}

func TestFillGapsErrors(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	_, err := FillGaps(mem, []int64{0, 1}, []float64{1, 2}, nil, Step{})
	requireCode(t, err, CodeInvalidInput)

	_, err = FillGaps(mem, []int64{0, 1}, []float64{1, 2}, nil, Step{Fixed: 1, Months: 1})
	requireCode(t, err, CodeInvalidInput)

	_, err = FillGaps(mem, []int64{1, 1}, []float64{1, 2}, nil, Step{Fixed: 1})
	requireCode(t, err, CodeInvalidInput)

	_, err = FillGaps(mem, []int64{0, 1}, []float64{1}, nil, Step{Fixed: 1})
	requireCode(t, err, CodeInvalidInput)
}

func TestFillForward(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	s, err := FillForward(mem, []int64{0, 10}, []float64{1, 2}, nil, 35, Step{Fixed: 10})
	require.NoError(t, err)
	times, values := seriesValues(s)
	require.Equal(t, []int64{0, 10, 20, 30}, times)
	require.Equal(t, []any{1.0, 2.0, nil, nil}, values)
	s.Release()

	s, err = FillForward(mem, []int64{0, 10}, []float64{1, 2}, nil, 10, Step{Fixed: 10})
	require.NoError(t, err)
	times, _ = seriesValues(s)
	require.Equal(t, []int64{0, 10}, times)
	s.Release()

	s, err = FillForward(mem, nil, nil, nil, 10, Step{Fixed: 10})
	require.NoError(t, err)
	require.Equal(t, 0, s.Len())
	s.Release()
}

func stepSeries(n int, low, high float64) []float64 {
	values := make([]float64, 2*n)
	for i := range values {
		if i < n {
			values[i] = low
		} else {
			values[i] = high
		}
	}
	return values
}

func TestDetectChangepoints(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	cp, err := DetectChangepoints(mem, stepSeries(20, 0, 100), nil, ChangepointOptions{
		HazardLambda:         DefaultHazardLambda,
		IncludeProbabilities: true,
	})
	require.NoError(t, err)
	defer cp.Release()

	require.Equal(t, []int{20}, cp.Indices)
	require.Equal(t, 40, cp.Flags.Len())
	require.True(t, cp.Flags.Value(20))
	require.False(t, cp.Flags.Value(0))
	require.Zero(t, cp.Probabilities.NullN())
	require.Greater(t, cp.Probabilities.Value(20), 0.5)
	require.Less(t, cp.Probabilities.Value(30), 0.5)
}

func TestDetectChangepointsWithoutProbabilities(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	values := stepSeries(20, 0, 100)
	valid := make([]bool, len(values))
	for i := range valid {
		valid[i] = i != 5
	}
	cp, err := DetectChangepoints(mem, values, valid, ChangepointOptions{})
	require.NoError(t, err)
	defer cp.Release()

	require.Equal(t, 40, cp.Probabilities.NullN())
	require.Equal(t, []int{20}, cp.Indices)
}

func TestDetectChangepointsInsufficientData(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	_, err := DetectChangepoints(mem, []float64{1, 2}, nil, ChangepointOptions{})
	requireCode(t, err, CodeInsufficientData)

	_, err = DetectChangepoints(mem, []float64{1, 2, 3, 4}, []bool{true, false, false, true}, ChangepointOptions{})
	requireCode(t, err, CodeInsufficientData)
}
