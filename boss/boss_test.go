package boss

import (
	"testing"
	"time"

	"github.com/cepro/dispatchengine/consumption"
	"github.com/cepro/dispatchengine/peaktracker"
	"github.com/cepro/dispatchengine/policy"
	"github.com/cepro/dispatchengine/reserve"
	"github.com/cepro/dispatchengine/types"
	"github.com/cepro/dispatchengine/valuecalc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02T15:04:05", s)
	require.NoError(t, err)
	return ts
}

func newTestBoss(policies []policy.Policy, planner Planner) *Boss {
	reserveCalc := reserve.New(reserve.Config{GridImportLimitKW: 5, MaxDischargeKW: 10, SafetyBuffer: 1.2, SpikeDurationHrs: 0.5, MinReserveKWh: 1, MaxReserveKWh: 10}, consumption.New(nil))
	peaks := peaktracker.New(3, 16, 19)
	ps := policy.DefaultPeakShaving()
	ps.TargetPeakKW = 5
	ps.DaysInMonth = 30
	ps.Value = valuecalc.Calculator{EffectTariffKWMonth: 100}

	cfg := DefaultConfig()
	cfg.EnableDailyPlan = planner != nil
	return New(cfg, policies, ps, reserveCalc, peaks, 100, planner)
}

func baseCtx() *types.BatteryContext {
	return &types.BatteryContext{
		Timestamp:      mustParseBase(),
		HourOfDay:      10,
		SoC:            5,
		Capacity:       10,
		MaxChargeKW:    5,
		MaxDischargeKW: 5,
		Efficiency:     0.95,
		FloorSoC:       1,
		ConsumptionKW:  3,
	}
}

func mustParseBase() time.Time {
	t, _ := time.Parse("2006-01-02T15:04:05", "2024-01-01T10:00:00")
	return t
}

// stubPolicy returns a fixed recommendation (or nil) every time.
type stubPolicy struct {
	name string
	rec  *types.Recommendation
	err  error
}

func (s stubPolicy) Name() string { return s.name }
func (s stubPolicy) Propose(ctx *types.BatteryContext) (*types.Recommendation, error) {
	return s.rec, s.err
}

func TestDecideHoldsWithNoRecommendations(t *testing.T) {
	b := newTestBoss([]policy.Policy{stubPolicy{name: "noop"}}, nil)
	dec := b.Decide(baseCtx())
	assert.Equal(t, types.ActionHold, dec.Action)
	assert.Equal(t, 1, b.Counters.Decisions)
}

func TestDecideReturnsVetoImmediately(t *testing.T) {
	veto := &types.Recommendation{Kind: types.ActionDischarge, MagnitudeKWh: 2, IsVeto: true, Priority: 1, PolicyName: "override", Value: 1}
	b := newTestBoss([]policy.Policy{stubPolicy{name: "override", rec: veto}}, nil)
	dec := b.Decide(baseCtx())
	assert.Equal(t, types.ActionDischarge, dec.Action)
	assert.Equal(t, "override", dec.ChosenPolicy)
	assert.Equal(t, 1, b.Counters.VetosApplied)
}

func TestDecidePicksHigherAdjustedValueOnTie(t *testing.T) {
	low := &types.Recommendation{Kind: types.ActionDischarge, MagnitudeKWh: 1, Priority: 2, PolicyName: "a", Value: 1}
	high := &types.Recommendation{Kind: types.ActionDischarge, MagnitudeKWh: 1, Priority: 2, PolicyName: "b", Value: 10}
	b := newTestBoss([]policy.Policy{
		stubPolicy{name: "a", rec: low},
		stubPolicy{name: "b", rec: high},
	}, nil)
	dec := b.Decide(baseCtx())
	assert.Equal(t, "b", dec.ChosenPolicy)
	assert.True(t, dec.ConflictsArose)
	assert.Equal(t, 1, b.Counters.ConflictsResolved)
}

func TestSpecialistFaultIsolatedFromOtherPolicies(t *testing.T) {
	good := &types.Recommendation{Kind: types.ActionDischarge, MagnitudeKWh: 1, Priority: 2, PolicyName: "good", Value: 5}
	b := newTestBoss([]policy.Policy{
		stubPolicy{name: "bad", err: assertErr("boom")},
		stubPolicy{name: "good", rec: good},
	}, nil)
	dec := b.Decide(baseCtx())
	assert.Equal(t, "good", dec.ChosenPolicy)
}

func TestNonVetoChargeSuppressedDuringMeasurementHour(t *testing.T) {
	charge := &types.Recommendation{Kind: types.ActionCharge, MagnitudeKWh: 1, Priority: 2, PolicyName: "charger", Value: 5}
	b := newTestBoss([]policy.Policy{stubPolicy{name: "charger", rec: charge}}, nil)
	ctx := baseCtx()
	ctx.IsMeasurementHour = true
	dec := b.Decide(ctx)
	assert.Equal(t, types.ActionHold, dec.Action)
}

// stubPlanner always returns a fixed plan.
type stubPlanner struct {
	plan types.DailyPlan
}

func (s stubPlanner) Plan(ctx *types.BatteryContext) (types.DailyPlan, error) {
	return s.plan, nil
}

func TestMaybePlanCachesOncePerDay(t *testing.T) {
	var plan types.DailyPlan
	plan.ChargeKWh[11] = 2
	planner := stubPlanner{plan: plan}
	b := newTestBoss(nil, planner)

	ctx := baseCtx()
	b.MaybePlan(ctx)
	require.Len(t, b.plans, 1)

	// Calling again for the same date must not reset the cached plan.
	ctx2 := baseCtx()
	ctx2.Timestamp = ctx.Timestamp.Add(time.Hour)
	b.MaybePlan(ctx2)
	assert.Len(t, b.plans, 1)
}

func TestFollowPlanChargesAtPlannedHour(t *testing.T) {
	var plan types.DailyPlan
	plan.ChargeKWh[11] = 3
	planner := stubPlanner{plan: plan}
	b := newTestBoss(nil, planner)

	ctx := baseCtx()
	b.MaybePlan(ctx)

	ctx2 := baseCtx()
	ctx2.HourOfDay = 11
	dec := b.Decide(ctx2)
	assert.Equal(t, types.ActionCharge, dec.Action)
	assert.Equal(t, "daily_plan", dec.ChosenPolicy)
}

func TestDaysInMonth(t *testing.T) {
	assert.Equal(t, 31, DaysInMonth(mustParse(t, "2024-01-15T00:00:00")))
	assert.Equal(t, 29, DaysInMonth(mustParse(t, "2024-02-15T00:00:00"))) // 2024 is a leap year
}

type assertErrString string

func (e assertErrString) Error() string { return string(e) }

func assertErr(msg string) error {
	return assertErrString(msg)
}
