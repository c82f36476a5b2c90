package generic

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEpoch_ClassifiesUnits(t *testing.T) {
	want := NewTimePoint(2025, time.January, 15)
	tests := []struct {
		name string
		in   int64
	}{
		{"seconds", 1736899200},
		{"milliseconds", 1736899200000},
		{"microseconds", 1736899200000000},
		{"nanoseconds", 1736899200000000000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, FromEpoch(tt.in).Equal(want), "got %s", FromEpoch(tt.in))
		})
	}
}

func TestTimePoint_JSON(t *testing.T) {
	// GIVEN: A point and the zero point
	tp := NewTimePoint(2025, time.March, 1)

	// WHEN: Marshaling
	data, err := json.Marshal(struct {
		At   TimePoint `json:"at"`
		Zero TimePoint `json:"zero"`
	}{At: tp})
	require.NoError(t, err)

	// THEN: Millis for the point, null for zero
	assert.JSONEq(t, `{"at":1740787200000,"zero":null}`, string(data))

	// AND: Millis, RFC 3339 and null all decode
	var got TimePoint
	require.NoError(t, json.Unmarshal([]byte(`1740787200000`), &got))
	assert.True(t, got.Equal(tp))
	require.NoError(t, json.Unmarshal([]byte(`"2025-03-01T00:00:00Z"`), &got))
	assert.True(t, got.Equal(tp))
	require.NoError(t, json.Unmarshal([]byte(`null`), &got))
	assert.True(t, got.IsZero())

	assert.Error(t, json.Unmarshal([]byte(`"next tuesday"`), &got))
}

func TestMonthsBetween(t *testing.T) {
	from := NewTimePoint(2025, time.January, 1)

	assert.InDelta(t, 1.0, MonthsBetween(from, from.AddDays(30)), 1e-9)
	assert.InDelta(t, -0.5, MonthsBetween(from, from.AddDays(-15)), 1e-9)
	assert.Equal(t, 45*24*time.Hour, MonthsDuration(1.5))
	assert.Equal(t, 30, DaysBetween(from, from.AddDays(30)))
}

func TestAddFractionalMonths_SaturatesAtHorizon(t *testing.T) {
	from := NewTimePoint(2025, time.January, 1)

	assert.True(t, from.AddFractionalMonths(0.5).Equal(from.AddDays(15)))
	assert.True(t, from.AddFractionalMonths(10000).Equal(from.AddDays(MaxScheduleMonths*30)))
	assert.True(t, from.AddFractionalMonths(-10000).Equal(from.AddDays(-MaxScheduleMonths*30)))
	assert.True(t, from.AddFractionalMonths(math.NaN()).Equal(from))

	// Beyond ~292 years a Duration would wrap; it saturates instead
	assert.Equal(t, time.Duration(math.MaxInt64), MonthsDuration(5000))
	assert.Equal(t, time.Duration(math.MinInt64), MonthsDuration(-5000))
}

func TestLatest(t *testing.T) {
	a := NewTimePoint(2025, time.January, 1)
	b := a.AddDays(1)
	assert.True(t, Latest(a, b).Equal(b))
	assert.True(t, Latest(b, a).Equal(b))
}
