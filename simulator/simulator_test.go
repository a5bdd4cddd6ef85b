package simulator

import (
	"context"
	"testing"
	"time"

	"github.com/cepro/dispatchengine/boss"
	"github.com/cepro/dispatchengine/consumption"
	"github.com/cepro/dispatchengine/peaktracker"
	"github.com/cepro/dispatchengine/policy"
	"github.com/cepro/dispatchengine/reserve"
	"github.com/cepro/dispatchengine/types"
	"github.com/cepro/dispatchengine/valuecalc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// holdPolicy never recommends anything, so Boss always falls through to hold.
type holdPolicy struct{}

func (holdPolicy) Name() string { return "hold" }
func (holdPolicy) Propose(ctx *types.BatteryContext) (*types.Recommendation, error) {
	return nil, nil
}

func newTestSimulator(t *testing.T, rows []TraceRow, sink RunSink) *Simulator {
	t.Helper()

	samples := make([]consumption.Sample, 0, len(rows))
	for _, r := range rows {
		samples = append(samples, consumption.Sample{Timestamp: r.Timestamp, KW: r.ConsumptionKWh})
	}
	analyser := consumption.New(samples)
	peaks := peaktracker.New(3, 16, 19)
	reserveCalc := reserve.New(reserve.Config{GridImportLimitKW: 5, MaxDischargeKW: 5, SafetyBuffer: 1.2, SpikeDurationHrs: 0.5, MinReserveKWh: 1, MaxReserveKWh: 10}, analyser)

	ps := policy.DefaultPeakShaving()
	ps.TargetPeakKW = 5
	ps.DaysInMonth = 30

	coordinator := boss.New(boss.DefaultConfig(), []policy.Policy{holdPolicy{}}, ps, reserveCalc, peaks, 100, nil)

	tariff := valuecalc.Calculator{GridFee: 0.1, EnergyTax: 0.1, VATRate: 0.25, EffectTariffKWMonth: 100, Efficiency: 0.95}

	cfg := Config{
		InitialSoC:           2,
		Capacity:             10,
		MaxChargeKW:          5,
		MaxDischargeKW:       5,
		Efficiency:           0.95,
		FloorSoC:             1,
		TargetMorningSoC:     2,
		MeasurementStartHour: 16,
		MeasurementEndHour:   19,
		TopN:                 3,
		EffectTariffMethod:   types.EffectTariffTopNAverage,
		EffectTariffKWMonth:  100,
	}

	return New(cfg, tariff, peaks, analyser, reserveCalc, coordinator, nil, sink)
}

func hourlyTrace(start time.Time, n int, consumptionKW, spot float64) []TraceRow {
	rows := make([]TraceRow, n)
	for i := 0; i < n; i++ {
		rows[i] = TraceRow{
			Timestamp:      start.Add(time.Duration(i) * time.Hour),
			ConsumptionKWh: consumptionKW,
			SpotPrice:      spot,
		}
	}
	return rows
}

func TestRunProducesOneDecisionPerRow(t *testing.T) {
	start, err := time.Parse("2006-01-02T15:04:05", "2024-01-01T00:00:00")
	require.NoError(t, err)
	rows := hourlyTrace(start, 48, 3, 1)

	sim := newTestSimulator(t, rows, nil)
	result, err := sim.Run(context.Background(), rows)
	require.NoError(t, err)

	assert.Len(t, result.Decisions, 48)
	assert.Len(t, result.SoCSeries, 48)
	assert.Len(t, result.GridImportSeries, 48)
}

func TestRunRejectsNonHourlySpacing(t *testing.T) {
	start, err := time.Parse("2006-01-02T15:04:05", "2024-01-01T00:00:00")
	require.NoError(t, err)
	rows := []TraceRow{
		{Timestamp: start, ConsumptionKWh: 1, SpotPrice: 1},
		{Timestamp: start.Add(2 * time.Hour), ConsumptionKWh: 1, SpotPrice: 1},
	}

	sim := newTestSimulator(t, rows, nil)
	_, err = sim.Run(context.Background(), rows)
	assert.Error(t, err)
}

func TestRunClosesMonthOnBoundary(t *testing.T) {
	start, err := time.Parse("2006-01-02T15:04:05", "2024-01-30T00:00:00")
	require.NoError(t, err)
	rows := hourlyTrace(start, 72, 2, 1) // spans into February

	sim := newTestSimulator(t, rows, nil)
	result, err := sim.Run(context.Background(), rows)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(result.MonthlyPeaks), 1)
	months := make(map[string]bool)
	for _, m := range result.MonthlyPeaks {
		months[m.MonthKey] = true
	}
	assert.True(t, months["2024-01"])
}

func TestRunNeverLeavesSoCOutOfBounds(t *testing.T) {
	start, err := time.Parse("2006-01-02T15:04:05", "2024-01-01T00:00:00")
	require.NoError(t, err)
	rows := hourlyTrace(start, 24, 4, 1)

	sim := newTestSimulator(t, rows, nil)
	result, err := sim.Run(context.Background(), rows)
	require.NoError(t, err)

	for _, soc := range result.SoCSeries {
		assert.GreaterOrEqual(t, soc, sim.cfg.FloorSoC)
		assert.LessOrEqual(t, soc, sim.cfg.Capacity)
	}
}

// recordingSink counts every call it receives, used to confirm Run calls
// the sink once per tick and once per month close.
type recordingSink struct {
	ticks        int
	monthCloses  int
}

func (s *recordingSink) RecordTick(dec types.Decision, outcome PhysicalOutcome) error {
	s.ticks++
	return nil
}

func (s *recordingSink) RecordMonthClose(monthKey string, effectTariffCost float64) error {
	s.monthCloses++
	return nil
}

func TestRunWritesThroughSink(t *testing.T) {
	start, err := time.Parse("2006-01-02T15:04:05", "2024-01-01T00:00:00")
	require.NoError(t, err)
	rows := hourlyTrace(start, 24, 3, 1)

	sink := &recordingSink{}
	sim := newTestSimulator(t, rows, sink)
	_, err = sim.Run(context.Background(), rows)
	require.NoError(t, err)

	assert.Equal(t, 24, sink.ticks)
	assert.Equal(t, 1, sink.monthCloses)
}

func TestApplyPhysicsClampsChargeToCapacity(t *testing.T) {
	bc := types.BatteryContext{SoC: 9.5, Capacity: 10, MaxChargeKW: 5, MaxDischargeKW: 5, Efficiency: 0.9, FloorSoC: 1}
	dec := types.Decision{Action: types.ActionCharge, KWhDelivered: 5}

	out := applyPhysics(bc, dec)
	assert.LessOrEqual(t, out.SoCAfter, 10.0+1e-9)
	assert.NoError(t, checkInvariants(bc, out))
}

func TestApplyPhysicsClampsDischargeToFloor(t *testing.T) {
	bc := types.BatteryContext{SoC: 1.2, Capacity: 10, MaxChargeKW: 5, MaxDischargeKW: 5, Efficiency: 0.9, FloorSoC: 1}
	dec := types.Decision{Action: types.ActionDischarge, KWhDelivered: 5}

	out := applyPhysics(bc, dec)
	assert.GreaterOrEqual(t, out.SoCAfter, 1.0-1e-9)
	assert.NoError(t, checkInvariants(bc, out))
}

func TestCheckInvariantsRejectsSimultaneousChargeAndDischarge(t *testing.T) {
	bc := types.BatteryContext{SoC: 5, Capacity: 10, FloorSoC: 1}
	out := PhysicalOutcome{Charge: 1, Discharge: 1, SoCAfter: 5}
	assert.Error(t, checkInvariants(bc, out))
}

func TestValidateTraceAcceptsEmptyInput(t *testing.T) {
	assert.NoError(t, validateTrace(nil))
}
