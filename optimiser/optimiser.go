// Package optimiser implements the 24-hour day-ahead optimiser (spec.md
// §4.G): a linear program over hourly charge/discharge/SoC/grid-import
// variables plus a scalar peak, solved with gonum's simplex LP routine, with
// a greedy heuristic fallback when the solver is unavailable or returns a
// non-optimal status.
//
// Grounded on spec.md §9's explicit statement that an LP routine is assumed
// available (resolved here by wiring gonum.org/v1/gonum/optimize/convex/lp,
// the sibling module of the teacher's own indirect gonum.org/v1/plot
// dependency) and on controller/dynamic_peak.go's "make sure the battery is
// empty by the end of the peak window" greedy reasoning, generalised into
// the heuristic's cheap-hour-charge / window-discharge ordering.
package optimiser

import (
	"time"

	"github.com/cepro/dispatchengine/types"
)

const hoursPerDay = 24

// Config holds the parameters the LP and heuristic both need.
type Config struct {
	Capacity       float64
	MaxChargeKW    float64
	MaxDischargeKW float64
	Efficiency     float64
	MinSoC         float64

	GridFee   float64
	EnergyTax float64
	VATRate   float64

	IsMeasurementHour     [hoursPerDay]bool
	PeakReserveKWh        float64 // kWh that must remain in SoC during measurement hours
	TargetPeakKW          float64 // heuristic's discharge target inside the window
	PeakPenaltyMultiplier float64 // default ~100, weights peak kW against 1 kWh of energy cost
}

// DailyOptimiser produces a DailyPlan from 24-hour forecasts. It satisfies
// boss.Planner.
type DailyOptimiser struct {
	Cfg Config
}

// New builds a DailyOptimiser.
func New(cfg Config) *DailyOptimiser {
	return &DailyOptimiser{Cfg: cfg}
}

// Plan implements boss.Planner. ctx.SpotForecast/ConsumptionForecast are
// indexed by offset (0 = next hour); the returned plan is re-indexed by
// plain hour-of-day so Boss can look a tick's hour up directly without
// carrying the planning instant around.
func (o *DailyOptimiser) Plan(ctx *types.BatteryContext) (types.DailyPlan, error) {
	var priceByOffset [hoursPerDay]float64
	for i, spot := range ctx.SpotForecast {
		priceByOffset[i] = (spot + o.Cfg.GridFee + o.Cfg.EnergyTax) * (1 + o.Cfg.VATRate)
	}

	plan, err := o.solveLP(ctx.SoC, ctx.ConsumptionForecast, priceByOffset)
	if err != nil {
		plan = o.heuristic(ctx.SoC, ctx.ConsumptionForecast, priceByOffset)
	}

	plan = reindexByHourOfDay(plan, ctx.HourOfDay)
	plan.Date = planDate(ctx.Timestamp)
	plan.ExpectedSavings = baselineCost(ctx.ConsumptionForecast, priceByOffset) - plan.ExpectedCost

	return plan, nil
}

// planDate returns the calendar date (truncated to midnight, local) that a
// plan built at t covers: tomorrow, unless the planning tick itself falls at
// hour 0 (warm-up / first tick of a run), in which case the plan covers
// today.
func planDate(t time.Time) time.Time {
	d := t
	if t.Hour() != 0 {
		d = t.AddDate(0, 0, 1)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
}

// reindexByHourOfDay rotates a plan built with offset-0==next-hour indexing
// into plain hour-of-day indexing.
func reindexByHourOfDay(plan types.DailyPlan, currentHour int) types.DailyPlan {
	var out types.DailyPlan
	out.ExpectedCost = plan.ExpectedCost
	out.ExpectedPeakKW = plan.ExpectedPeakKW
	out.ExpectedSavings = plan.ExpectedSavings
	out.Status = plan.Status
	for offset := 0; offset < hoursPerDay; offset++ {
		hour := (currentHour + 1 + offset) % hoursPerDay
		out.ChargeKWh[hour] = plan.ChargeKWh[offset]
		out.DischargeKWh[hour] = plan.DischargeKWh[offset]
		out.ProjectedSoC[hour] = plan.ProjectedSoC[offset]
		out.ProjectedGridKW[hour] = plan.ProjectedGridKW[offset]
	}
	return out
}

// baselineCost is the cost with zero battery action, used for
// ExpectedSavings and for the §8 "baseline equivalence" law.
func baselineCost(consumption, priceByOffset [hoursPerDay]float64) float64 {
	total := 0.0
	for h := 0; h < hoursPerDay; h++ {
		grid := consumption[h]
		if grid < 0 {
			grid = 0
		}
		total += grid * priceByOffset[h]
	}
	return total
}
