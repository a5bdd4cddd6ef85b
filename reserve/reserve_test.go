package reserve

import (
	"testing"
	"time"

	"github.com/cepro/dispatchengine/consumption"
	"github.com/stretchr/testify/assert"
)

func analyserFixture(t *testing.T) *consumption.Analyser {
	t.Helper()
	base, err := time.Parse("2006-01-02T15:04:05", "2024-01-01T18:00:00")
	if err != nil {
		t.Fatal(err)
	}
	samples := []consumption.Sample{
		{Timestamp: base, KW: 6},
		{Timestamp: base.AddDate(0, 0, 7), KW: 7},
		{Timestamp: base.AddDate(0, 0, 14), KW: 8},
	}
	return consumption.New(samples)
}

func TestRequirementFallbackWhenNoStats(t *testing.T) {
	cfg := Config{GridImportLimitKW: 5, MaxDischargeKW: 5, SafetyBuffer: 1.2, SpikeDurationHrs: 0.5, MinReserveKWh: 0.5, MaxReserveKWh: 10}
	c := New(cfg, consumption.New(nil))

	req := c.Requirement(mustParseReserve(t, "2024-01-01T03:00:00"), 0)
	assert.Equal(t, fallbackExpectedPeakKW, req.ExpectedPeakKW)
	assert.Equal(t, fallbackConfidence, req.Confidence)
}

func TestRequirementClampsToMaxReserve(t *testing.T) {
	cfg := Config{GridImportLimitKW: 0, MaxDischargeKW: 100, SafetyBuffer: 1.0, SpikeDurationHrs: 1, MinReserveKWh: 0, MaxReserveKWh: 1}
	c := New(cfg, analyserFixture(t))

	req := c.Requirement(mustParseReserve(t, "2024-01-01T18:00:00"), 0)
	assert.Equal(t, 1.0, req.FinalReserveKWh, "reserve must be clamped to max_reserve")
}

func TestAllocateCapacityOpportunityCostBelowHalfPool(t *testing.T) {
	cfg := Config{GridImportLimitKW: 5, MaxDischargeKW: 5, SafetyBuffer: 1, SpikeDurationHrs: 0.5, MinReserveKWh: 0, MaxReserveKWh: 10}
	c := New(cfg, analyserFixture(t))

	req := c.Requirement(mustParseReserve(t, "2024-01-01T18:00:00"), 0)
	alloc := c.AllocateCapacity(2, 1, 10, 5, 5, req, 4.0)
	assert.Less(t, alloc.ArbitragePoolKWh, 5.0)
	assert.Greater(t, alloc.EstimatedOpportunityCost, 0.0)
}

func mustParseReserve(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		t.Fatal(err)
	}
	return tm
}
