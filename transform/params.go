package transform

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"golang.org/x/exp/slices"

	"github.com/polarsignals/tsflow/series"
)

// Params holds the named parameters of a transform. Keys are matched
// case-insensitively.
type Params map[string]any

// ParamError reports an unknown, missing or invalid parameter.
type ParamError struct {
	Transform Kind
	Param     string
	Reason    string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("%s: parameter %q %s", e.Transform, e.Param, e.Reason)
}

const (
	ParamFrequency          = "frequency"
	ParamTarget             = "target"
	ParamHorizon            = "horizon"
	ParamTrainingEndTimes   = "training_end_times"
	ParamGap                = "gap"
	ParamEmbargo            = "embargo"
	ParamWindowType         = "window_type"
	ParamMinTrainSize       = "min_train_size"
	ParamFolds              = "n_folds"
	ParamInitialTrainSize   = "initial_train_size"
	ParamSkipLength         = "skip_length"
	ParamClipHorizon        = "clip_horizon"
	ParamHazardLambda       = "hazard_lambda"
	ParamIncludeProbability = "include_probabilities"
)

var allowedParams = map[Kind][]string{
	KindFillGaps:    {ParamFrequency},
	KindFillForward: {ParamFrequency, ParamTarget},
	KindCVSplit: {
		ParamHorizon, ParamTrainingEndTimes, ParamGap, ParamEmbargo,
		ParamWindowType, ParamMinTrainSize,
	},
	KindMLFolds: {
		ParamFolds, ParamHorizon, ParamGap, ParamEmbargo, ParamWindowType,
		ParamMinTrainSize, ParamInitialTrainSize, ParamSkipLength, ParamClipHorizon,
	},
	KindChangepoints: {ParamHazardLambda, ParamIncludeProbability},
	KindGenerateFolds: {
		ParamFolds, ParamHorizon, ParamInitialTrainSize, ParamSkipLength, ParamClipHorizon,
	},
}

// AllowedParams returns the parameter names accepted by kind.
func AllowedParams(kind Kind) []string {
	return slices.Clone(allowedParams[kind])
}

// values are the validated parameters of one transform.
type values struct {
	kind Kind
	m    map[string]any
}

func (p Params) resolve(kind Kind) (values, error) {
	keys, ok := allowedParams[kind]
	if !ok {
		return values{}, fmt.Errorf("unknown transform %q", kind)
	}

	m := make(map[string]any, len(p))
	for k, v := range p {
		name := strings.ToLower(strings.TrimSpace(k))
		if !slices.Contains(keys, name) {
			return values{}, &ParamError{
				Transform: kind,
				Param:     k,
				Reason:    "is not supported, available parameters: " + strings.Join(keys, ", "),
			}
		}
		if _, dup := m[name]; dup {
			return values{}, &ParamError{Transform: kind, Param: k, Reason: "is given more than once"}
		}
		m[name] = v
	}
	return values{kind: kind, m: m}, nil
}

func (v values) invalid(name string, format string, args ...any) error {
	return &ParamError{Transform: v.kind, Param: name, Reason: fmt.Sprintf(format, args...)}
}

func (v values) int(name string, def, least int64) (int64, error) {
	raw, ok := v.m[name]
	if !ok {
		return def, nil
	}
	n, err := cast.ToInt64E(raw)
	if err != nil {
		return 0, v.invalid(name, "must be an integer: %v", err)
	}
	if n < least {
		return 0, v.invalid(name, "must be at least %d, got %d", least, n)
	}
	return n, nil
}

func (v values) positiveFloat(name string, def float64) (float64, error) {
	raw, ok := v.m[name]
	if !ok {
		return def, nil
	}
	f, err := cast.ToFloat64E(raw)
	if err != nil {
		return 0, v.invalid(name, "must be a number: %v", err)
	}
	if !(f > 0) {
		return 0, v.invalid(name, "must be positive, got %v", f)
	}
	return f, nil
}

func (v values) bool(name string, def bool) (bool, error) {
	raw, ok := v.m[name]
	if !ok {
		return def, nil
	}
	b, err := cast.ToBoolE(raw)
	if err != nil {
		return false, v.invalid(name, "must be a boolean: %v", err)
	}
	return b, nil
}

func (v values) required(name string) (any, error) {
	raw, ok := v.m[name]
	if !ok || raw == nil {
		return nil, v.invalid(name, "is required")
	}
	return raw, nil
}

func (v values) frequency() (Frequency, error) {
	raw, err := v.required(ParamFrequency)
	if err != nil {
		return Frequency{}, err
	}
	s, err := cast.ToStringE(raw)
	if err != nil {
		return Frequency{}, v.invalid(ParamFrequency, "must be a string or an integer: %v", err)
	}
	return ParseFrequency(s)
}

func (v values) window() (WindowType, error) {
	raw, ok := v.m[ParamWindowType]
	if !ok {
		return Expanding, nil
	}
	s, err := cast.ToStringE(raw)
	if err != nil {
		return 0, v.invalid(ParamWindowType, "must be a string: %v", err)
	}
	w, err := ParseWindowType(s)
	if err != nil {
		return 0, v.invalid(ParamWindowType, "%v", err)
	}
	return w, nil
}

// timestamp converts a parameter to the buffer representation of col:
// microseconds for date and timestamp columns, the raw value otherwise.
func (v values) timestamp(name string, raw any, col series.TimeColumn) (int64, error) {
	if col.Raw() {
		n, err := cast.ToInt64E(raw)
		if err != nil {
			return 0, v.invalid(name, "must be an integer for %s time columns: %v", col.Type, err)
		}
		return n, nil
	}
	t, err := cast.ToTimeInDefaultLocationE(raw, time.UTC)
	if err != nil {
		return 0, v.invalid(name, "must be a timestamp: %v", err)
	}
	return t.UnixMicro(), nil
}

// timestamps reads a list parameter, sorted and without repetitions. A
// string is split on commas.
func (v values) timestamps(name string, col series.TimeColumn) ([]int64, error) {
	raw, err := v.required(name)
	if err != nil {
		return nil, err
	}

	var items []any
	switch s := raw.(type) {
	case []any:
		items = s
	case []string:
		items = anySlice(s)
	case []time.Time:
		items = anySlice(s)
	case []int64:
		items = anySlice(s)
	case []int:
		items = anySlice(s)
	case string:
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
	default:
		items = []any{raw}
	}

	res := make([]int64, 0, len(items))
	for _, item := range items {
		if item == nil {
			return nil, v.invalid(name, "must not contain null values")
		}
		ts, err := v.timestamp(name, item, col)
		if err != nil {
			return nil, err
		}
		res = append(res, ts)
	}
	slices.Sort(res)
	return slices.Compact(res), nil
}

func anySlice[T any](s []T) []any {
	res := make([]any, len(s))
	for i := range s {
		res[i] = s[i]
	}
	return res
}
