package cmd

import (
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const salesCSV = `store,day,sales
s1,2024-01-01,1.5
s1,2024-01-03,3
s2,2024-01-02,4
`

const salesSchema = "store:string,day:date,sales:float64"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunCSV(t *testing.T) {
	path := writeFile(t, "sales.csv", salesCSV)
	out, err := execute(t, "run", "fill_gaps", "frequency=1d",
		"--input", path, "--schema", salesSchema, "--output", "csv", "--workers", "2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Equal(t, "store,day,sales", lines[0])
	require.ElementsMatch(t, []string{
		"s1,2024-01-01,1.5",
		"s1,2024-01-02,null",
		"s1,2024-01-03,3",
		"s2,2024-01-02,4",
	}, lines[1:])
}

func TestRunTable(t *testing.T) {
	path := writeFile(t, "sales.csv", salesCSV)
	out, err := execute(t, "run", "fill_forward", "frequency=1d", "target=2024-01-04",
		"--input", path, "--schema", salesSchema, "--filter", `store == "s1"`)
	require.NoError(t, err)
	require.Contains(t, out, "store")
	require.Contains(t, out, "2024-01-04")
	require.NotContains(t, out, "s2")
}

func TestRunCompressedBucket(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(salesCSV))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "2024"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2024", "sales.csv.gz"), buf.Bytes(), 0o644))

	out, err := execute(t, "run", "cv_split", "horizon=1", "training_end_times=2024-01-01",
		"--bucket", dir, "--input", "2024/sales.csv.gz", "--schema", salesSchema, "--output", "csv")
	require.NoError(t, err)
	require.Equal(t, "store,day,sales,fold_id,split\ns1,2024-01-01,1.5,1,train\ns1,2024-01-03,3,1,test\n", out)
}

func TestRunParamsFromConfig(t *testing.T) {
	path := writeFile(t, "sales.csv", salesCSV)
	config := writeFile(t, "tsflow.yaml", "output: csv\nparams:\n  frequency: 2d\n")
	out, err := execute(t, "run", "fill_gaps", "--config", config, "--input", path, "--schema", salesSchema)
	require.NoError(t, err)
	require.Contains(t, out, "s1,2024-01-01,1.5\ns1,2024-01-03,3\n")
}

func TestRunErrors(t *testing.T) {
	path := writeFile(t, "sales.csv", salesCSV)
	for _, tc := range []struct {
		name string
		args []string
		err  string
	}{
		{
			name: "no input",
			args: []string{"run", "fill_gaps", "frequency=1d"},
			err:  "one of --input or --sql is required",
		},
		{
			name: "bad parameter",
			args: []string{"run", "fill_gaps", "frequency", "--input", path, "--schema", salesSchema},
			err:  `invalid parameter "frequency", expected name=value`,
		},
		{
			name: "missing schema",
			args: []string{"run", "fill_gaps", "frequency=1d", "--input", path},
			err:  "csv input needs a schema",
		},
		{
			name: "unknown transform",
			args: []string{"run", "resample", "--input", path, "--schema", salesSchema},
			err:  `unknown transform "resample"`,
		},
		{
			name: "memory limit",
			args: []string{"run", "fill_gaps", "frequency=1d", "--input", path, "--schema", salesSchema, "--memory-limit", "lots"},
			err:  "memory limit",
		},
		{
			name: "output",
			args: []string{"run", "fill_gaps", "frequency=1d", "--input", path, "--schema", salesSchema, "--output", "json"},
			err:  `unknown output format "json"`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := execute(t, tc.args...)
			require.ErrorContains(t, err, tc.err)
		})
	}
}

func TestTransforms(t *testing.T) {
	out, err := execute(t, "transforms")
	require.NoError(t, err)
	require.Contains(t, out, "cv_generate_folds")
	require.Contains(t, out, "hazard_lambda")
}
