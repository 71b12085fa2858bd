package recovery

import (
	"bytes"
	"errors"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"
)

func TestDo(t *testing.T) {
	sentinel := errors.New("sentinel")

	require.NoError(t, Do(func() error { return nil })())
	require.ErrorIs(t, Do(func() error { return sentinel })(), sentinel)
	require.ErrorIs(t, Do(func() error { panic(sentinel) })(), sentinel)
	require.EqualError(t, Do(func() error { panic("boom") })(), "panic: boom")

	var buf bytes.Buffer
	err := Do(func() error { panic(42) }, log.NewLogfmtLogger(&buf))()
	require.EqualError(t, err, "panic: 42")
	require.Contains(t, buf.String(), "recovered from panic")
	require.Contains(t, buf.String(), "stacktrace")
}
