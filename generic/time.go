package generic

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// =============================================================================
// TIME POINT - The one time representation used by the engine
// =============================================================================
// A TimePoint is a UTC instant truncated to whole milliseconds. It is stored
// and serialized as epoch milliseconds (int64) everywhere: JSON, SQLite
// columns, API query parameters. Conversions from other units happen once,
// at the edge, via FromEpoch.

type TimePoint struct {
	Time time.Time
}

const (
	millisPerDay = int64(24 * time.Hour / time.Millisecond)

	// AverageMonth is the month length used when a duration has to be
	// expressed as a fractional number of months.
	AverageMonth = 30 * 24 * time.Hour

	// MaxScheduleMonths is the horizon for schedule arithmetic: one hundred
	// years of average months.
	MaxScheduleMonths = 1200
)

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func FromTime(t time.Time) TimePoint {
	return TimePoint{Time: t.UTC().Truncate(time.Millisecond)}
}

func FromMillis(ms int64) TimePoint {
	return TimePoint{Time: time.UnixMilli(ms).UTC()}
}

func Now() TimePoint { return FromTime(time.Now()) }

// FromEpoch converts a legacy epoch timestamp whose unit is unknown.
// Values are classified by magnitude: seconds (< 1e11), milliseconds
// (< 1e14), microseconds (< 1e17), otherwise nanoseconds.
func FromEpoch(v int64) TimePoint {
	abs := v
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs < 1e11:
		return FromMillis(v * 1000)
	case abs < 1e14:
		return FromMillis(v)
	case abs < 1e17:
		return FromMillis(v / 1000)
	default:
		return FromMillis(v / 1_000_000)
	}
}

func (tp TimePoint) Millis() int64 { return tp.Time.UnixMilli() }

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.Time.Before(other.Time) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.Time.Equal(other.Time) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.Time.After(other.Time) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return !tp.After(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return !tp.Before(other) }

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint   { return TimePoint{Time: tp.Time.AddDate(0, 0, n)} }
func (tp TimePoint) AddMonths(n int) TimePoint { return TimePoint{Time: tp.Time.AddDate(0, n, 0)} }
func (tp TimePoint) AddYears(n int) TimePoint  { return TimePoint{Time: tp.Time.AddDate(n, 0, 0)} }

// Add shifts the point by d, keeping millisecond precision.
func (tp TimePoint) Add(d time.Duration) TimePoint { return FromTime(tp.Time.Add(d)) }

func (tp TimePoint) Sub(other TimePoint) time.Duration { return tp.Time.Sub(other.Time) }

func (tp TimePoint) IsZero() bool { return tp.Time.IsZero() }

func (tp TimePoint) String() string {
	if tp.IsZero() {
		return "-"
	}
	return tp.Time.Format(time.RFC3339)
}

// MarshalJSON writes epoch milliseconds. The zero TimePoint is null.
func (tp TimePoint) MarshalJSON() ([]byte, error) {
	if tp.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(tp.Millis(), 10)), nil
}

// UnmarshalJSON accepts epoch milliseconds, null, or an RFC 3339 string.
func (tp *TimePoint) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*tp = TimePoint{}
		return nil
	}
	var ms int64
	if err := json.Unmarshal(data, &ms); err == nil {
		*tp = FromMillis(ms)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("time point: expected epoch millis or RFC 3339 string: %w", err)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("time point: %w", err)
	}
	*tp = FromTime(t)
	return nil
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

func DaysBetween(from, to TimePoint) int {
	return int((to.Millis() - from.Millis()) / millisPerDay)
}

// MonthsBetween returns the fractional number of average months from from to
// to. Negative when to is before from.
func MonthsBetween(from, to TimePoint) float64 {
	return float64(to.Sub(from)) / float64(AverageMonth)
}

// MonthsDuration converts a fractional month count into a duration using the
// average month length. Counts beyond the range of time.Duration saturate.
func MonthsDuration(months float64) time.Duration {
	d := math.Round(months * float64(AverageMonth))
	switch {
	case math.IsNaN(d):
		return 0
	case d >= float64(math.MaxInt64):
		return time.Duration(math.MaxInt64)
	case d <= float64(math.MinInt64):
		return time.Duration(math.MinInt64)
	}
	return time.Duration(d)
}

// AddFractionalMonths shifts the point by a fractional number of average
// months, saturating at MaxScheduleMonths in either direction.
func (tp TimePoint) AddFractionalMonths(months float64) TimePoint {
	if math.IsNaN(months) {
		return tp
	}
	months = math.Max(-MaxScheduleMonths, math.Min(MaxScheduleMonths, months))
	return tp.Add(MonthsDuration(months))
}

func Latest(a, b TimePoint) TimePoint {
	if a.After(b) {
		return a
	}
	return b
}
