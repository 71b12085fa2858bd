package transform

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/polarsignals/tsflow/series"
)

var mlFoldsLayout = []Column{
	{Kind: ColumnGroup},
	{Kind: ColumnTime},
	{Kind: ColumnValue, Name: "y"},
	{Kind: ColumnFoldID, Name: "fold_id"},
	{Kind: ColumnSplit, Name: "split"},
	{Kind: ColumnFeatures},
}

// mlFolds splits every group into folds planned from the group length.
type mlFolds struct {
	config  FoldConfig
	embargo int64
}

func newMLFolds(v values) (*mlFolds, error) {
	config, err := v.foldConfig(true)
	if err != nil {
		return nil, err
	}
	embargo, err := v.int(ParamEmbargo, 0, 0)
	if err != nil {
		return nil, err
	}
	return &mlFolds{config: config, embargo: embargo}, nil
}

func (t *mlFolds) Kind() Kind           { return KindMLFolds }
func (t *mlFolds) Layout() []Column     { return mlFoldsLayout }
func (t *mlFolds) PassesFeatures() bool { return true }

func (t *mlFolds) Apply(_ context.Context, _ memory.Allocator, b *series.Buffer) (Outcome, error) {
	folds := PlanFolds(b.Len(), t.config)
	if len(folds) == 0 {
		return Outcome{Skipped: true}, nil
	}
	return Outcome{Rows: foldRows(inputRows(b), folds)}, nil
}
