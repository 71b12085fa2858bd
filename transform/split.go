package transform

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"golang.org/x/exp/slices"

	"github.com/polarsignals/tsflow/series"
)

var foldLayout = []Column{
	{Kind: ColumnGroup},
	{Kind: ColumnTime},
	{Kind: ColumnValue},
	{Kind: ColumnFoldID, Name: "fold_id"},
	{Kind: ColumnSplit, Name: "split"},
}

// cvSplit assigns rows to folds that end at given training end times.
type cvSplit struct {
	ends   []int64
	config FoldConfig
	// embargo is accepted for compatibility and not applied.
	embargo int64
}

func newCVSplit(v values, col series.TimeColumn) (*cvSplit, error) {
	if _, err := v.required(ParamHorizon); err != nil {
		return nil, err
	}
	config, err := v.foldConfig(false)
	if err != nil {
		return nil, err
	}
	ends, err := v.timestamps(ParamTrainingEndTimes, col)
	if err != nil {
		return nil, err
	}
	embargo, err := v.int(ParamEmbargo, 0, 0)
	if err != nil {
		return nil, err
	}
	return &cvSplit{ends: ends, config: config, embargo: embargo}, nil
}

func (t *cvSplit) Kind() Kind       { return KindCVSplit }
func (t *cvSplit) Layout() []Column { return foldLayout }

func (t *cvSplit) Apply(_ context.Context, _ memory.Allocator, b *series.Buffer) (Outcome, error) {
	if t.config.tooSmall(b.Len()) {
		return Outcome{Skipped: true}, nil
	}
	folds := LocateFolds(b.Times, t.ends, t.config)
	return Outcome{Rows: foldRows(inputRows(b), folds)}, nil
}

// foldConfig reads the fold parameters shared by the fold transforms.
// Planned folds additionally read the fold count and the initial training
// window.
func (v values) foldConfig(planned bool) (FoldConfig, error) {
	c := FoldConfig{MinTrainSize: 1}
	horizon, err := v.int(ParamHorizon, 7, 1)
	if err != nil {
		return c, err
	}
	c.Horizon = int(horizon)

	if v.allows(ParamGap) {
		gap, err := v.int(ParamGap, 0, 0)
		if err != nil {
			return c, err
		}
		c.Gap = int(gap)
	}
	if v.allows(ParamWindowType) {
		if c.Window, err = v.window(); err != nil {
			return c, err
		}
		minTrain, err := v.int(ParamMinTrainSize, 1, 1)
		if err != nil {
			return c, err
		}
		c.MinTrainSize = int(minTrain)
	}
	if !planned {
		return c, nil
	}

	folds, err := v.int(ParamFolds, 3, 1)
	if err != nil {
		return c, err
	}
	c.Folds = int(folds)
	initial, err := v.int(ParamInitialTrainSize, 0, 0)
	if err != nil {
		return c, err
	}
	c.InitialTrainSize = int(initial)
	skip, err := v.int(ParamSkipLength, 0, 0)
	if err != nil {
		return c, err
	}
	c.SkipLength = int(skip)
	if c.ClipHorizon, err = v.bool(ParamClipHorizon, false); err != nil {
		return c, err
	}
	return c, nil
}

func (v values) allows(name string) bool {
	return slices.Contains(allowedParams[v.kind], name)
}
