package generic

import "time"

// =============================================================================
// PERIOD - A closed time window [Start, End]
// =============================================================================

// Period is the window a consumable endowment spends down over, or the span
// covered by an installment schedule.
//
// Examples:
//   - A phased spend-down: Jan 1 2025 - Dec 31 2026
//   - A converted tranche's consumable schedule: conversion date + 24 months
type Period struct {
	Start TimePoint
	End   TimePoint
}

// NewPeriod validates that end is not before start.
func NewPeriod(start, end TimePoint) (Period, error) {
	if end.Before(start) {
		return Period{}, ErrInvalidPeriod
	}
	return Period{Start: start, End: end}, nil
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Duration is End - Start.
func (p Period) Duration() time.Duration {
	return p.End.Sub(p.Start)
}

// Ended reports whether the window closed before t.
func (p Period) Ended(t TimePoint) bool {
	return !p.End.IsZero() && p.End.Before(t)
}

// Extend pushes End out by d. Start is unchanged.
func (p Period) Extend(d time.Duration) Period {
	return Period{Start: p.Start, End: p.End.Add(d)}
}

// RemainingMonths returns the fractional months left in the window at t,
// never less than zero.
func (p Period) RemainingMonths(t TimePoint) float64 {
	m := MonthsBetween(t, p.End)
	if m < 0 {
		return 0
	}
	return m
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// RECURRENCE - Fixed-interval schedules
// =============================================================================

// Frequency is a fixed payment interval. Months are approximated by a fixed
// number of days so schedules are independent of calendar month lengths.
type Frequency string

const (
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyAnnually  Frequency = "annually"
)

// IntervalDays returns the day count between two occurrences.
// Unknown frequencies fall back to monthly.
func (f Frequency) IntervalDays() int {
	switch f {
	case FrequencyQuarterly:
		return 90
	case FrequencyAnnually:
		return 365
	default:
		return 30
	}
}

func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyMonthly, FrequencyQuarterly, FrequencyAnnually:
		return true
	default:
		return false
	}
}

// Occurrences returns n due dates, the first one interval after from.
func (f Frequency) Occurrences(from TimePoint, n int) []TimePoint {
	dates := make([]TimePoint, 0, n)
	for i := 1; i <= n; i++ {
		dates = append(dates, from.AddDays(i*f.IntervalDays()))
	}
	return dates
}
