package optimiser

import (
	"fmt"

	"github.com/cepro/dispatchengine/types"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// lpModel indexes the decision variables solveLP hands to gonum's simplex
// solver. Every variable is implicitly >= 0 (the solver's standard-form
// requirement); upper bounds and window-specific lower bounds are encoded as
// extra equality rows with their own non-negative slack variable.
type lpModel struct {
	n int

	charge    [hoursPerDay]int
	discharge [hoursPerDay]int
	grid      [hoursPerDay]int
	socShift  [hoursPerDay]int // soc_h - MinSoC
	chargeSlk [hoursPerDay]int
	dischSlk  [hoursPerDay]int
	capSlk    [hoursPerDay]int // socShift_h + capSlk_h = Capacity - MinSoC
	peak      int
	peakSlk   [hoursPerDay]int // only used for measurement hours
	rsvSlk    [hoursPerDay]int // only used for measurement hours
}

func newLPModel() *lpModel {
	m := &lpModel{}
	next := 0
	alloc := func() int { v := next; next++; return v }
	for h := 0; h < hoursPerDay; h++ {
		m.charge[h] = alloc()
		m.discharge[h] = alloc()
		m.grid[h] = alloc()
		m.socShift[h] = alloc()
		m.chargeSlk[h] = alloc()
		m.dischSlk[h] = alloc()
		m.capSlk[h] = alloc()
	}
	m.peak = alloc()
	for h := 0; h < hoursPerDay; h++ {
		m.peakSlk[h] = alloc()
		m.rsvSlk[h] = alloc()
	}
	m.n = next
	return m
}

// solveLP builds the spec.md §4.G linear program and solves it with gonum's
// simplex routine. Any construction/solve failure, or a non-optimal status,
// is reported as an error so Plan falls back to the heuristic.
func (o *DailyOptimiser) solveLP(initialSoC float64, consumption, priceByOffset [hoursPerDay]float64) (plan types.DailyPlan, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lp solver panicked: %v", r)
		}
	}()

	m := newLPModel()

	var rows [][]float64
	var b []float64
	addRow := func(coeffs map[int]float64, rhs float64) {
		row := make([]float64, m.n)
		for idx, v := range coeffs {
			row[idx] = v
		}
		rows = append(rows, row)
		b = append(b, rhs)
	}

	maxChargeH := func(h int) float64 {
		if o.Cfg.IsMeasurementHour[h] {
			return 0
		}
		return o.Cfg.MaxChargeKW
	}

	for h := 0; h < hoursPerDay; h++ {
		// Energy balance: grid_h - charge_h + discharge_h = consumption_h.
		// consumption_h is the net demand forecast (consumption.Analyser's
		// samples are pre-netted against solar by the caller, cmd/dispatch's
		// wiring, the same quantity PeakTracker/billing use), not raw load;
		// the optimiser itself does no solar forecasting of its own (spec.md's
		// Non-goals exclude weather-based solar forecasting).
		addRow(map[int]float64{m.grid[h]: 1, m.charge[h]: -1, m.discharge[h]: 1}, consumption[h])

		// Charge/discharge inverter limits.
		addRow(map[int]float64{m.charge[h]: 1, m.chargeSlk[h]: 1}, maxChargeH(h))
		addRow(map[int]float64{m.discharge[h]: 1, m.dischSlk[h]: 1}, o.Cfg.MaxDischargeKW)

		// SoC recurrence (shifted so the decision variable is MinSoC-relative
		// and therefore naturally >= 0).
		if h == 0 {
			addRow(map[int]float64{m.socShift[0]: 1, m.charge[0]: -o.Cfg.Efficiency, m.discharge[0]: 1}, initialSoC-o.Cfg.MinSoC)
		} else {
			addRow(map[int]float64{m.socShift[h]: 1, m.socShift[h-1]: -1, m.charge[h]: -o.Cfg.Efficiency, m.discharge[h]: 1}, 0)
		}

		// SoC upper bound (capacity).
		addRow(map[int]float64{m.socShift[h]: 1, m.capSlk[h]: 1}, o.Cfg.Capacity-o.Cfg.MinSoC)

		if o.Cfg.IsMeasurementHour[h] {
			// peak >= grid_h.
			addRow(map[int]float64{m.peak: 1, m.grid[h]: -1, m.peakSlk[h]: -1}, 0)
			// soc_h >= MinSoC + PeakReserveKWh, i.e. socShift_h >= PeakReserveKWh.
			addRow(map[int]float64{m.socShift[h]: 1, m.rsvSlk[h]: -1}, o.Cfg.PeakReserveKWh)
		}
	}

	A := mat.NewDense(len(rows), m.n, nil)
	for i, row := range rows {
		A.SetRow(i, row)
	}

	c := make([]float64, m.n)
	for h := 0; h < hoursPerDay; h++ {
		c[m.grid[h]] = priceByOffset[h]
	}
	c[m.peak] = o.Cfg.PeakPenaltyMultiplier

	const tol = 1e-8
	_, x, solveErr := lp.Simplex(c, A, b, tol, nil)
	if solveErr != nil {
		return types.DailyPlan{}, fmt.Errorf("simplex: %w", solveErr)
	}

	var out types.DailyPlan
	out.Status = types.PlanOptimal
	totalCost := 0.0
	peakKW := 0.0
	for h := 0; h < hoursPerDay; h++ {
		out.ChargeKWh[h] = x[m.charge[h]]
		out.DischargeKWh[h] = x[m.discharge[h]]
		out.ProjectedSoC[h] = x[m.socShift[h]] + o.Cfg.MinSoC
		out.ProjectedGridKW[h] = x[m.grid[h]]
		totalCost += x[m.grid[h]] * priceByOffset[h]
		if o.Cfg.IsMeasurementHour[h] && x[m.grid[h]] > peakKW {
			peakKW = x[m.grid[h]]
		}
	}
	out.ExpectedCost = totalCost
	out.ExpectedPeakKW = peakKW

	return out, nil
}
