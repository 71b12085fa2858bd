package transform

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"golang.org/x/exp/slices"

	"github.com/polarsignals/tsflow/series"
)

var generateLayout = []Column{
	{Kind: ColumnFoldID, Name: "fold_id"},
	{Kind: ColumnTime, Name: "training_end"},
}

// generateFolds derives training end times from the distinct timestamps of
// all groups. The result is meant to be fed to cv_split.
type generateFolds struct {
	config FoldConfig
	// seconds truncates timestamps to whole seconds before deduplication.
	seconds bool
}

func newGenerateFolds(v values, col series.TimeColumn) (*generateFolds, error) {
	config, err := v.foldConfig(true)
	if err != nil {
		return nil, err
	}
	_, timestamp := col.Type.(*arrow.TimestampType)
	return &generateFolds{config: config, seconds: timestamp}, nil
}

func (t *generateFolds) Kind() Kind       { return KindGenerateFolds }
func (t *generateFolds) Layout() []Column { return generateLayout }

func (t *generateFolds) Apply(context.Context, memory.Allocator, *series.Buffer) (Outcome, error) {
	return Outcome{Skipped: true}, nil
}

// ApplyAll returns one row per fold holding the fold ID and its training
// end time.
func (t *generateFolds) ApplyAll(ctx context.Context, _ memory.Allocator, buffers []*series.Buffer) ([]Row, error) {
	var times []int64
	for _, b := range buffers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, ts := range b.Times {
			if t.seconds {
				ts -= ((ts % 1_000_000) + 1_000_000) % 1_000_000
			}
			times = append(times, ts)
		}
	}
	slices.Sort(times)
	times = slices.Compact(times)

	folds := PlanFolds(len(times), t.config)
	rows := make([]Row, len(folds))
	for i, f := range folds {
		rows[i] = Row{Pos: -1, Time: times[f.TrainEnd], Fold: f.ID}
	}
	return rows, nil
}
