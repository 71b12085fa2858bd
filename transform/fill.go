package transform

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/polarsignals/tsflow/algo"
	"github.com/polarsignals/tsflow/series"
)

type fillGaps struct {
	freq Frequency
	step algo.Step
}

func newFillGaps(v values, col series.TimeColumn) (*fillGaps, error) {
	freq, err := v.frequency()
	if err != nil {
		return nil, err
	}
	step, err := freq.StepFor(col)
	if err != nil {
		return nil, err
	}
	return &fillGaps{freq: freq, step: step}, nil
}

func (t *fillGaps) Kind() Kind       { return KindFillGaps }
func (t *fillGaps) Layout() []Column { return baseLayout }

func (t *fillGaps) Apply(_ context.Context, mem memory.Allocator, b *series.Buffer) (Outcome, error) {
	res, err := algo.FillGaps(mem, b.Times, b.Values, b.Valid, t.step)
	if err != nil {
		return Outcome{}, fmt.Errorf("fill group %q: %w", string(b.Key), err)
	}
	defer res.Release()
	return Outcome{Rows: filledRows(b, res)}, nil
}

type fillForward struct {
	freq   Frequency
	step   algo.Step
	target int64
}

func newFillForward(v values, col series.TimeColumn) (*fillForward, error) {
	freq, err := v.frequency()
	if err != nil {
		return nil, err
	}
	step, err := freq.StepFor(col)
	if err != nil {
		return nil, err
	}
	raw, err := v.required(ParamTarget)
	if err != nil {
		return nil, err
	}
	target, err := v.timestamp(ParamTarget, raw, col)
	if err != nil {
		return nil, err
	}
	return &fillForward{freq: freq, step: step, target: target}, nil
}

func (t *fillForward) Kind() Kind       { return KindFillForward }
func (t *fillForward) Layout() []Column { return baseLayout }

func (t *fillForward) Apply(_ context.Context, mem memory.Allocator, b *series.Buffer) (Outcome, error) {
	res, err := algo.FillForward(mem, b.Times, b.Values, b.Valid, t.target, t.step)
	if err != nil {
		return Outcome{}, fmt.Errorf("fill group %q: %w", string(b.Key), err)
	}
	defer res.Release()
	return Outcome{Rows: filledRows(b, res)}, nil
}

// filledRows converts a filled series back to rows, matching every
// timestamp that existed in b to its input position.
func filledRows(b *series.Buffer, s *algo.Series) []Row {
	rows := make([]Row, s.Len())
	j := 0
	for i := range rows {
		ts := s.Times.Value(i)
		pos := -1
		if j < b.Len() && b.Times[j] == ts {
			pos = j
			j++
		}
		rows[i] = Row{Pos: pos, Time: ts}
		if s.Values.IsValid(i) {
			rows[i].Value, rows[i].Valid = s.Values.Value(i), true
		}
	}
	return rows
}
