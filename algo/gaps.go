package algo

import (
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// MaxPoints bounds the length of a densified series.
const MaxPoints = 50_000_000

// FillGaps inserts a null observation at every step of the frequency that
// is missing between the first and the last timestamp. Between two
// observations prev and next, prev+k*step is inserted for every k such that
// prev+(k+1)*step is not after next, so a misaligned step leaves the last
// partial step empty. Times must be strictly increasing. A series of zero or
// one point is returned as is.
func FillGaps(mem memory.Allocator, times []int64, values []float64, valid []bool, step Step) (*Series, error) {
	if !step.Valid() {
		return nil, errorf(CodeInvalidInput, "frequency must be positive")
	}
	if err := checkInput(times, values, valid); err != nil {
		return nil, err
	}

	if n := len(times); n > 1 && exceedsMaxPoints(times[0], times[n-1], step) {
		return nil, errorf(CodeComputation, "filled series exceeds %d points", MaxPoints)
	}

	b := newSeriesBuilder(mem, len(times))
	for i := range times {
		if i > 0 {
			for k := int64(1); step.Add(times[i-1], k+1) <= times[i]; k++ {
				t := step.Add(times[i-1], k)
				if b.len() >= MaxPoints {
					b.release()
					return nil, errorf(CodeComputation, "filled series exceeds %d points", MaxPoints)
				}
				b.append(t, 0, false)
			}
		}
		b.append(times[i], values[i], isValid(valid, i))
	}
	return b.finish(), nil
}

// FillForward extends the series with null observations, one per step,
// up to and including target. Nothing is appended when target is not after
// the last timestamp.
func FillForward(mem memory.Allocator, times []int64, values []float64, valid []bool, target int64, step Step) (*Series, error) {
	if !step.Valid() {
		return nil, errorf(CodeInvalidInput, "frequency must be positive")
	}
	if err := checkInput(times, values, valid); err != nil {
		return nil, err
	}

	if n := len(times); n > 0 && target > times[n-1] && exceedsMaxPoints(times[n-1], target, step) {
		return nil, errorf(CodeComputation, "extended series exceeds %d points", MaxPoints)
	}

	b := newSeriesBuilder(mem, len(times))
	for i := range times {
		b.append(times[i], values[i], isValid(valid, i))
	}
	if len(times) == 0 {
		return b.finish(), nil
	}

	last := times[len(times)-1]
	for k := int64(1); ; k++ {
		t := step.Add(last, k)
		if t > target {
			break
		}
		if b.len() >= MaxPoints {
			b.release()
			return nil, errorf(CodeComputation, "extended series exceeds %d points", MaxPoints)
		}
		b.append(t, 0, false)
	}
	return b.finish(), nil
}

// exceedsMaxPoints reports whether stepping from first to last with a fixed
// step yields more than MaxPoints points. Calendar steps are checked while
// filling.
func exceedsMaxPoints(first, last int64, step Step) bool {
	if step.Fixed <= 0 {
		return false
	}
	return (uint64(last)-uint64(first))/uint64(step.Fixed) >= MaxPoints
}
