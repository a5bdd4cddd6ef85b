package consumption

import (
	"testing"
	"time"

	"github.com/cepro/dispatchengine/types"
	"github.com/stretchr/testify/assert"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return tm
}

func TestSlotsWithFewerThanThreeSamplesOmitted(t *testing.T) {
	samples := []Sample{
		{Timestamp: mustParse(t, "2024-01-01T10:00:00"), KW: 1}, // Monday
		{Timestamp: mustParse(t, "2024-01-08T10:00:00"), KW: 2}, // Monday
	}
	a := New(samples)
	_, ok := a.Stats(10, types.DayTypeWeekday)
	assert.False(t, ok, "only two samples in the slot, must be omitted")
}

func TestPercentileLinearInterpolation(t *testing.T) {
	// three Monday 10:00 samples, enough to build a stats entry
	samples := []Sample{
		{Timestamp: mustParse(t, "2024-01-01T10:00:00"), KW: 1},
		{Timestamp: mustParse(t, "2024-01-08T10:00:00"), KW: 2},
		{Timestamp: mustParse(t, "2024-01-15T10:00:00"), KW: 3},
	}
	a := New(samples)
	stats, ok := a.Stats(10, types.DayTypeWeekday)
	assert.True(t, ok)
	assert.InDelta(t, 2.0, stats.Median, 1e-9)
	assert.Equal(t, 3, stats.SampleCount)
}

func TestDayTypeSeparatesWeekdayAndWeekend(t *testing.T) {
	samples := []Sample{
		{Timestamp: mustParse(t, "2024-01-06T10:00:00"), KW: 10}, // Saturday
		{Timestamp: mustParse(t, "2024-01-13T10:00:00"), KW: 11}, // Saturday
		{Timestamp: mustParse(t, "2024-01-20T10:00:00"), KW: 12}, // Saturday
		{Timestamp: mustParse(t, "2024-01-01T10:00:00"), KW: 1},  // Monday
		{Timestamp: mustParse(t, "2024-01-08T10:00:00"), KW: 2},  // Monday
		{Timestamp: mustParse(t, "2024-01-15T10:00:00"), KW: 3},  // Monday
	}
	a := New(samples)
	weekday, ok := a.Stats(10, types.DayTypeWeekday)
	assert.True(t, ok)
	weekend, ok := a.Stats(10, types.DayTypeWeekend)
	assert.True(t, ok)
	assert.NotEqual(t, weekday.Mean, weekend.Mean)
}

func TestForecastNoLeakage(t *testing.T) {
	// Build a trace where row i's consumption equals i, so that any leak of
	// a future row into the forecast is detectable: shuffling rows with
	// index >= idx must not change Forecast(idx).
	base := mustParse(t, "2024-01-01T00:00:00")
	samples := make([]Sample, 48)
	for i := range samples {
		samples[i] = Sample{Timestamp: base.Add(time.Duration(i) * time.Hour), KW: float64(i)}
	}

	idx := 24
	a := New(samples)
	forecast := a.Forecast(idx)

	// mutate every future sample's KW value; the forecast for idx must be unchanged.
	mutated := make([]Sample, len(samples))
	copy(mutated, samples)
	for i := idx; i < len(mutated); i++ {
		mutated[i].KW = -999
	}
	aMutated := New(mutated)
	forecastMutated := aMutated.Forecast(idx)

	assert.Equal(t, forecast, forecastMutated, "forecast at idx must not depend on rows with index >= idx")
}

func TestRiskHighCoefficientOfVariationAloneIsMedium(t *testing.T) {
	// cv=2>1 but P95=1 is not >5 and hour 10 isn't evening: high cv alone
	// only reaches medium, since High requires a high P95 alongside it.
	stats := types.ConsumptionStats{Mean: 1, StdDev: 2, P95: 1}
	assert.Equal(t, types.RiskMedium, Risk(stats, 10))
}

func TestRiskHighRequiresBothCoefficientOfVariationAndP95(t *testing.T) {
	stats := types.ConsumptionStats{Mean: 1, StdDev: 2, P95: 6}
	assert.Equal(t, types.RiskHigh, Risk(stats, 10))
}

func TestRiskEveningBump(t *testing.T) {
	stats := types.ConsumptionStats{Mean: 10, StdDev: 1, P95: 1}
	assert.Equal(t, types.RiskMedium, Risk(stats, 18), "evening hour should bump low risk up one class")
}

func TestRecommendedPercentileMapping(t *testing.T) {
	assert.Equal(t, 99, types.RecommendedPercentileForRisk(types.RiskHigh))
	assert.Equal(t, 95, types.RecommendedPercentileForRisk(types.RiskMedium))
	assert.Equal(t, 90, types.RecommendedPercentileForRisk(types.RiskLow))
}
