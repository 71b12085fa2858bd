// Package transform implements the per-group computations that run once all
// input has been buffered: gap filling, forward filling, fold splitting and
// changepoint labeling.
package transform

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/polarsignals/tsflow/series"
)

type Kind string

const (
	KindFillGaps      Kind = "fill_gaps"
	KindFillForward   Kind = "fill_forward"
	KindCVSplit       Kind = "cv_split"
	KindMLFolds       Kind = "ml_folds"
	KindChangepoints  Kind = "changepoints"
	KindGenerateFolds Kind = "cv_generate_folds"
)

// Kinds lists every transform in a stable order.
var Kinds = []Kind{
	KindFillGaps,
	KindFillForward,
	KindCVSplit,
	KindMLFolds,
	KindChangepoints,
	KindGenerateFolds,
}

type Split uint8

const (
	Train Split = iota + 1
	Test
)

func (s Split) String() string {
	switch s {
	case Train:
		return "train"
	case Test:
		return "test"
	default:
		return ""
	}
}

// Row is one output row. Pos is the position of the input row in the sorted
// group, or -1 for rows that did not exist in the input.
type Row struct {
	Pos   int
	Time  int64
	Value float64
	Valid bool

	Fold  int64
	Split Split

	Changepoint    bool
	Probability    float64
	HasProbability bool
}

// Outcome is the result of transforming one group.
type Outcome struct {
	Rows []Row
	// Skipped is set when the group is too small to produce any row.
	Skipped bool
	// Degraded holds the collaborator failure of a group that was emitted
	// without its derived values.
	Degraded error
}

// Transform computes the output rows of one sorted group.
type Transform interface {
	Kind() Kind
	Layout() []Column
	Apply(ctx context.Context, mem memory.Allocator, b *series.Buffer) (Outcome, error)
}

// GlobalTransform computes a single set of rows from all groups at once.
type GlobalTransform interface {
	Transform
	ApplyAll(ctx context.Context, mem memory.Allocator, buffers []*series.Buffer) ([]Row, error)
}

// FeatureTransform passes the input columns following the value column
// through to its output.
type FeatureTransform interface {
	Transform
	PassesFeatures() bool
}

type ColumnKind int

const (
	ColumnGroup ColumnKind = iota
	ColumnTime
	ColumnValue
	ColumnFoldID
	ColumnSplit
	ColumnChangepoint
	ColumnProbability
	// ColumnFeatures expands to every pass-through input column.
	ColumnFeatures
)

// Column describes an output column. An empty Name keeps the name of the
// matching input column.
type Column struct {
	Kind ColumnKind
	Name string
}

// New validates params for kind and returns the transform. time describes
// the time column of the input.
func New(kind Kind, params Params, time series.TimeColumn) (Transform, error) {
	values, err := params.resolve(kind)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindFillGaps:
		return newFillGaps(values, time)
	case KindFillForward:
		return newFillForward(values, time)
	case KindCVSplit:
		return newCVSplit(values, time)
	case KindMLFolds:
		return newMLFolds(values)
	case KindChangepoints:
		return newChangepoints(values)
	case KindGenerateFolds:
		return newGenerateFolds(values, time)
	default:
		return nil, fmt.Errorf("unknown transform %q", kind)
	}
}

// inputRows returns one row per observation of b.
func inputRows(b *series.Buffer) []Row {
	rows := make([]Row, b.Len())
	for i := range rows {
		rows[i] = Row{
			Pos:   i,
			Time:  b.Times[i],
			Value: b.Values[i],
			Valid: b.Valid[i],
		}
	}
	return rows
}

var baseLayout = []Column{
	{Kind: ColumnGroup},
	{Kind: ColumnTime},
	{Kind: ColumnValue},
}
