package logictest

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/cockroachdb/datadriven"
	"github.com/stretchr/testify/require"

	"github.com/polarsignals/tsflow/query"
)

const testdataDirectory = "testdata"

// TestLogic runs all the datadriven tests in the testdata directory. Refer to
// the RunCmd method of the Runner struct for more information on the expected
// syntax of these tests. If this test fails but the results look the same, it
// might be because the test returns tab-separated expected results and your
// IDE inserts tabs instead of spaces. Just run this test with the -rewrite flag
// to rewrite expected results.
func TestLogic(t *testing.T) {
	ctx := context.Background()
	t.Parallel()
	datadriven.Walk(t, testdataDirectory, func(t *testing.T, path string) {
		allocator := query.NewLimitAllocator(1024*1024*1024, memory.DefaultAllocator)
		r := NewRunner(allocator)
		datadriven.RunTest(t, path, func(t *testing.T, c *datadriven.TestData) string {
			return r.RunCmd(ctx, c)
		})
		r.Close()
		require.Equal(t, 0, allocator.Allocated())
	})
}
