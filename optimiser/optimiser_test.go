package optimiser

import (
	"testing"
	"time"

	"github.com/cepro/dispatchengine/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	var measurement [hoursPerDay]bool
	for h := 16; h <= 19; h++ {
		measurement[h] = true
	}
	return Config{
		Capacity:              10,
		MaxChargeKW:           5,
		MaxDischargeKW:        5,
		Efficiency:             0.9,
		MinSoC:                1,
		GridFee:               0.1,
		EnergyTax:             0.1,
		VATRate:               0.25,
		IsMeasurementHour:     measurement,
		PeakReserveKWh:        2,
		TargetPeakKW:          4,
		PeakPenaltyMultiplier: 100,
	}
}

func testContext() *types.BatteryContext {
	ts, _ := time.Parse("2006-01-02T15:04:05", "2024-01-15T13:00:00")
	ctx := &types.BatteryContext{
		Timestamp: ts,
		HourOfDay: 13,
		SoC:       3,
	}
	for i := range ctx.SpotForecast {
		ctx.SpotForecast[i] = 1.0
	}
	for i := range ctx.ConsumptionForecast {
		ctx.ConsumptionForecast[i] = 3.0
	}
	// cheap overnight hours
	for i := 10; i < 16; i++ {
		ctx.SpotForecast[i] = 0.2
	}
	return ctx
}

func TestPlanProducesA24HourPlanWithNonNegativeCharges(t *testing.T) {
	o := New(testConfig())
	plan, err := o.Plan(testContext())
	require.NoError(t, err)

	for h := 0; h < hoursPerDay; h++ {
		assert.GreaterOrEqual(t, plan.ChargeKWh[h], 0.0)
		assert.GreaterOrEqual(t, plan.DischargeKWh[h], 0.0)
	}
	assert.NotEqual(t, types.PlanStatus(""), plan.Status)
}

func TestHeuristicNeverChargesDuringMeasurementWindow(t *testing.T) {
	o := New(testConfig())
	var consumption, price [hoursPerDay]float64
	for h := range consumption {
		consumption[h] = 3
		price[h] = 1
	}
	for h := 10; h < 16; h++ {
		price[h] = 0.1
	}
	plan := o.heuristic(3, consumption, price)
	for h := 16; h <= 19; h++ {
		assert.Equal(t, 0.0, plan.ChargeKWh[h])
	}
}

func TestBaselineCostSumsGridTimesPrice(t *testing.T) {
	var consumption, price [hoursPerDay]float64
	for h := range consumption {
		consumption[h] = 2
		price[h] = 1.5
	}
	cost := baselineCost(consumption, price)
	assert.Equal(t, 2*1.5*hoursPerDay, cost)
}

func TestPlanDateRollsToTomorrowExceptAtMidnight(t *testing.T) {
	afternoon, _ := time.Parse("2006-01-02T15:04:05", "2024-03-10T13:00:00")
	assert.Equal(t, "2024-03-11", planDate(afternoon).Format("2006-01-02"))

	midnight, _ := time.Parse("2006-01-02T15:04:05", "2024-03-10T00:00:00")
	assert.Equal(t, "2024-03-10", planDate(midnight).Format("2006-01-02"))
}
