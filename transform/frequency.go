package transform

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/polarsignals/tsflow/algo"
	"github.com/polarsignals/tsflow/series"
)

type Unit int

const (
	// UnitNone marks a bare integer frequency.
	UnitNone Unit = iota
	UnitMinute
	UnitHour
	UnitDay
	UnitWeek
	UnitMonth
	UnitQuarter
	UnitYear
)

var unitNames = map[Unit]string{
	UnitMinute:  "minute",
	UnitHour:    "hour",
	UnitDay:     "day",
	UnitWeek:    "week",
	UnitMonth:   "month",
	UnitQuarter: "quarter",
	UnitYear:    "year",
}

func (u Unit) String() string {
	return unitNames[u]
}

const (
	microsPerMinute = 60 * 1_000_000
	microsPerHour   = 60 * microsPerMinute
	microsPerWeek   = 7 * series.MicrosPerDay
)

func (u Unit) micros() int64 {
	switch u {
	case UnitMinute:
		return microsPerMinute
	case UnitHour:
		return microsPerHour
	case UnitDay:
		return series.MicrosPerDay
	case UnitWeek:
		return microsPerWeek
	}
	return 0
}

func (u Unit) months() int {
	switch u {
	case UnitMonth:
		return 1
	case UnitQuarter:
		return 3
	case UnitYear:
		return 12
	}
	return 0
}

// FrequencyError reports a frequency that cannot be parsed or applied.
type FrequencyError struct {
	Frequency string
	Reason    string
}

func (e *FrequencyError) Error() string {
	return fmt.Sprintf("invalid frequency %q: %s", e.Frequency, e.Reason)
}

// Frequency is a sampling interval such as "1d", "30 minutes" or a bare
// integer.
type Frequency struct {
	Count int64
	Unit  Unit
	text  string
}

var (
	shortFrequency    = regexp.MustCompile(`(?i)^([0-9]+)(d|h|m|min|w|mo|q|y)$`)
	intervalFrequency = regexp.MustCompile(`(?i)^([0-9]+)\s*(minute|hour|day|week|month|quarter|year)s?$`)
	rawFrequency      = regexp.MustCompile(`^[0-9]+$`)
)

var shortUnits = map[string]Unit{
	"m":   UnitMinute,
	"min": UnitMinute,
	"h":   UnitHour,
	"d":   UnitDay,
	"w":   UnitWeek,
	"mo":  UnitMonth,
	"q":   UnitQuarter,
	"y":   UnitYear,
}

func ParseFrequency(s string) (Frequency, error) {
	text := strings.TrimSpace(s)
	f := Frequency{text: s}

	var count, unit string
	switch {
	case rawFrequency.MatchString(text):
		count = text
	case shortFrequency.MatchString(text):
		m := shortFrequency.FindStringSubmatch(text)
		count, unit = m[1], strings.ToLower(m[2])
		f.Unit = shortUnits[unit]
	case intervalFrequency.MatchString(text):
		m := intervalFrequency.FindStringSubmatch(text)
		count = m[1]
		for u, name := range unitNames {
			if strings.EqualFold(name, m[2]) {
				f.Unit = u
			}
		}
	default:
		return Frequency{}, &FrequencyError{Frequency: s, Reason: "expected a number optionally followed by a unit (e.g. 1d, 30m, 1 week)"}
	}

	n, err := strconv.ParseInt(count, 10, 64)
	if err != nil {
		return Frequency{}, &FrequencyError{Frequency: s, Reason: err.Error()}
	}
	if n <= 0 {
		return Frequency{}, &FrequencyError{Frequency: s, Reason: "must be positive"}
	}
	f.Count = n
	return f, nil
}

func (f Frequency) String() string {
	if f.text != "" {
		return f.text
	}
	if f.Unit == UnitNone {
		return strconv.FormatInt(f.Count, 10)
	}
	return fmt.Sprintf("%d %ss", f.Count, f.Unit)
}

// StepFor resolves the frequency against a time column. Bare integers step
// integer columns in their own unit and date or timestamp columns in days.
func (f Frequency) StepFor(c series.TimeColumn) (algo.Step, error) {
	if c.Raw() {
		if f.Unit != UnitNone {
			return algo.Step{}, &FrequencyError{Frequency: f.String(), Reason: "integer time columns require an integer frequency"}
		}
		return algo.Step{Fixed: f.Count}, nil
	}

	unit := f.Unit
	if unit == UnitNone {
		unit = UnitDay
	}
	if months := unit.months(); months > 0 {
		if f.Count > int64(int(^uint32(0)>>1)/months) {
			return algo.Step{}, &FrequencyError{Frequency: f.String(), Reason: "too large"}
		}
		return algo.Step{Months: int(f.Count) * months}, nil
	}

	per := unit.micros()
	if f.Count > (1<<63-1)/per {
		return algo.Step{}, &FrequencyError{Frequency: f.String(), Reason: "too large"}
	}
	step := f.Count * per
	if c.Date() && step%series.MicrosPerDay != 0 {
		return algo.Step{}, &FrequencyError{Frequency: f.String(), Reason: "date columns require a whole number of days"}
	}
	return algo.Step{Fixed: step}, nil
}
