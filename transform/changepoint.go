package transform

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/polarsignals/tsflow/algo"
	"github.com/polarsignals/tsflow/series"
)

var changepointLayout = []Column{
	{Kind: ColumnGroup},
	{Kind: ColumnTime},
	{Kind: ColumnValue},
	{Kind: ColumnChangepoint, Name: "is_changepoint"},
	{Kind: ColumnProbability, Name: "changepoint_probability"},
}

type changepoints struct {
	opts algo.ChangepointOptions
}

func newChangepoints(v values) (*changepoints, error) {
	lambda, err := v.positiveFloat(ParamHazardLambda, algo.DefaultHazardLambda)
	if err != nil {
		return nil, err
	}
	probs, err := v.bool(ParamIncludeProbability, false)
	if err != nil {
		return nil, err
	}
	return &changepoints{opts: algo.ChangepointOptions{
		HazardLambda:         lambda,
		IncludeProbabilities: probs,
	}}, nil
}

func (t *changepoints) Kind() Kind       { return KindChangepoints }
func (t *changepoints) Layout() []Column { return changepointLayout }

// Apply labels every row of b. If detection fails the rows are emitted
// unlabeled and the failure is reported as degraded.
func (t *changepoints) Apply(_ context.Context, mem memory.Allocator, b *series.Buffer) (Outcome, error) {
	rows := inputRows(b)
	cp, err := algo.DetectChangepoints(mem, b.Values, b.Valid, t.opts)
	if err != nil {
		return Outcome{Rows: rows, Degraded: err}, nil
	}
	defer cp.Release()

	for i := range rows {
		rows[i].Changepoint = cp.Flags.Value(i)
		if cp.Probabilities.IsValid(i) {
			rows[i].Probability = cp.Probabilities.Value(i)
			rows[i].HasProbability = true
		}
	}
	return Outcome{Rows: rows}, nil
}
