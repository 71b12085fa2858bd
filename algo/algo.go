// Package algo contains the numeric routines the grouped transforms call
// out to. Every routine works on flat arrays, reports failures through
// *Error and returns results backed by memory from the supplied allocator.
// Callers own the results and must Release them.
package algo

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Code classifies a failure.
type Code int

const (
	CodeInvalidInput Code = iota + 1
	CodeInsufficientData
	CodeComputation
)

func (c Code) String() string {
	switch c {
	case CodeInvalidInput:
		return "invalid input"
	case CodeInsufficientData:
		return "insufficient data"
	case CodeComputation:
		return "computation error"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return e.Code.String() + ": " + e.Msg
}

func errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Step is a sampling frequency. Exactly one of Fixed and Months is set.
// Fixed is expressed in the unit of the timestamps it is applied to,
// Months steps calendar months on microsecond timestamps.
type Step struct {
	Fixed  int64
	Months int
}

func (s Step) Valid() bool {
	return (s.Fixed > 0) != (s.Months > 0)
}

// Add returns t advanced by k steps.
func (s Step) Add(t, k int64) int64 {
	if s.Months > 0 {
		return time.UnixMicro(t).UTC().AddDate(0, s.Months*int(k), 0).UnixMicro()
	}
	return t + k*s.Fixed
}

func (s Step) String() string {
	if s.Months > 0 {
		return fmt.Sprintf("%dmo", s.Months)
	}
	return fmt.Sprintf("%d", s.Fixed)
}

// Series is a densified series. Values are null where no observation exists.
type Series struct {
	Times  *array.Int64
	Values *array.Float64
}

func (s *Series) Len() int {
	return s.Times.Len()
}

func (s *Series) Release() {
	s.Times.Release()
	s.Values.Release()
}

type seriesBuilder struct {
	times  *array.Int64Builder
	values *array.Float64Builder
}

func newSeriesBuilder(mem memory.Allocator, capacity int) *seriesBuilder {
	b := &seriesBuilder{
		times:  array.NewInt64Builder(mem),
		values: array.NewFloat64Builder(mem),
	}
	b.times.Reserve(capacity)
	b.values.Reserve(capacity)
	return b
}

func (b *seriesBuilder) append(t int64, v float64, valid bool) {
	b.times.Append(t)
	if valid {
		b.values.Append(v)
	} else {
		b.values.AppendNull()
	}
}

func (b *seriesBuilder) len() int {
	return b.times.Len()
}

func (b *seriesBuilder) finish() *Series {
	defer b.release()
	return &Series{
		Times:  b.times.NewInt64Array(),
		Values: b.values.NewFloat64Array(),
	}
}

func (b *seriesBuilder) release() {
	b.times.Release()
	b.values.Release()
}

func checkInput(times []int64, values []float64, valid []bool) *Error {
	if len(values) != len(times) {
		return errorf(CodeInvalidInput, "%d timestamps but %d values", len(times), len(values))
	}
	if valid != nil && len(valid) != len(times) {
		return errorf(CodeInvalidInput, "%d timestamps but %d validity flags", len(times), len(valid))
	}
	for i := 1; i < len(times); i++ {
		if times[i] <= times[i-1] {
			return errorf(CodeInvalidInput, "timestamps must be strictly increasing (position %d)", i)
		}
	}
	return nil
}

func isValid(valid []bool, i int) bool {
	return valid == nil || valid[i]
}
