package transform

import (
	"fmt"
	"strings"

	"golang.org/x/exp/constraints"
)

type WindowType int

const (
	Expanding WindowType = iota
	Fixed
	Sliding
)

func ParseWindowType(s string) (WindowType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "expanding":
		return Expanding, nil
	case "fixed":
		return Fixed, nil
	case "sliding":
		return Sliding, nil
	}
	return 0, fmt.Errorf("unknown window type %q, expected expanding, fixed or sliding", s)
}

func (w WindowType) String() string {
	switch w {
	case Fixed:
		return "fixed"
	case Sliding:
		return "sliding"
	default:
		return "expanding"
	}
}

// FoldConfig holds the fold arithmetic parameters. All sizes are counted in
// positions of the sorted group.
type FoldConfig struct {
	Folds            int
	Horizon          int
	Gap              int
	Window           WindowType
	MinTrainSize     int
	InitialTrainSize int
	SkipLength       int
	ClipHorizon      bool
}

// Fold is an inclusive range of training positions followed by an inclusive
// range of test positions.
type Fold struct {
	ID         int64
	TrainStart int
	TrainEnd   int
	TestStart  int
	TestEnd    int
}

func (c FoldConfig) trainStart(trainEnd int) int {
	if c.Window == Expanding {
		return 0
	}
	return max(0, trainEnd+1-c.MinTrainSize)
}

// tooSmall reports whether a group of n positions cannot hold a single
// training window.
func (c FoldConfig) tooSmall(n int) bool {
	return c.Window != Expanding && n < c.MinTrainSize
}

// PlanFolds computes up to c.Folds folds over n positions. Folds whose test
// range does not fit are dropped, as are all following folds. Fold IDs
// number the remaining folds from 1.
func PlanFolds(n int, c FoldConfig) []Fold {
	if n < 2 || c.tooSmall(n) {
		return nil
	}

	init := c.InitialTrainSize
	if init <= 0 {
		init = 1
		if n > c.Horizon*c.Folds {
			init = n - c.Horizon*c.Folds
		}
	}
	if c.Window != Expanding {
		init = max(init, c.MinTrainSize)
	}
	skip := c.SkipLength
	if skip <= 0 {
		skip = c.Horizon
	}

	var folds []Fold
	for f := 0; f < c.Folds; f++ {
		trainEnd := init - 1 + f*skip
		if c.Window != Expanding && trainEnd+1 < c.MinTrainSize {
			continue
		}
		testStart := trainEnd + 1 + c.Gap
		testEnd := testStart + c.Horizon - 1

		fits := testEnd < n
		if c.ClipHorizon {
			fits = testStart < n
		}
		if !fits {
			break
		}
		folds = append(folds, Fold{
			ID:         int64(len(folds) + 1),
			TrainStart: c.trainStart(trainEnd),
			TrainEnd:   trainEnd,
			TestStart:  testStart,
			TestEnd:    min(testEnd, n-1),
		})
	}
	return folds
}

// LocateFolds places one fold per training end time. The training range of
// fold i ends at the last position whose timestamp is at or before ends[i].
// ends must be sorted. A fold without a training or a test position is
// dropped; the IDs of the others stay i+1 so that they line up across
// groups.
func LocateFolds(times []int64, ends []int64, c FoldConfig) []Fold {
	n := len(times)
	if n == 0 || c.tooSmall(n) {
		return nil
	}

	var folds []Fold
	for i, end := range ends {
		trainEnd := lastAtMost(times, end)
		if trainEnd < 0 {
			continue
		}
		testStart := trainEnd + 1 + c.Gap
		if testStart >= n {
			continue
		}
		folds = append(folds, Fold{
			ID:         int64(i + 1),
			TrainStart: c.trainStart(trainEnd),
			TrainEnd:   trainEnd,
			TestStart:  testStart,
			TestEnd:    min(testStart+c.Horizon-1, n-1),
		})
	}
	return folds
}

// lastAtMost returns the index of the last element of the sorted xs that is
// not greater than v, or -1.
func lastAtMost[T constraints.Ordered](xs []T, v T) int {
	lo, hi := 0, len(xs)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if xs[mid] <= v {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}

// foldRows expands folds into train rows followed by test rows per fold.
func foldRows(src []Row, folds []Fold) []Row {
	size := 0
	for _, f := range folds {
		size += f.TrainEnd - f.TrainStart + 1 + f.TestEnd - f.TestStart + 1
	}
	rows := make([]Row, 0, size)
	for _, f := range folds {
		for i := f.TrainStart; i <= f.TrainEnd; i++ {
			r := src[i]
			r.Fold, r.Split = f.ID, Train
			rows = append(rows, r)
		}
		for i := f.TestStart; i <= f.TestEnd; i++ {
			r := src[i]
			r.Fold, r.Split = f.ID, Test
			rows = append(rows, r)
		}
	}
	return rows
}
