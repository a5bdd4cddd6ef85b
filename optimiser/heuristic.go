package optimiser

import (
	"sort"

	"github.com/cepro/dispatchengine/types"
)

// heuristic implements spec.md §4.G's fallback: greedily charge the
// cheapest non-measurement hours, then walk the day forward discharging
// inside the measurement window whenever consumption minus solar would
// otherwise exceed the target peak.
//
// Grounded on controller/dynamic_peak.go's "make sure the battery is empty
// by the end of the peak window" approach-curve reasoning, generalised into
// an explicit two-pass greedy schedule.
func (o *DailyOptimiser) heuristic(initialSoC float64, consumption, priceByOffset [hoursPerDay]float64) types.DailyPlan {
	var plan types.DailyPlan
	plan.Status = types.PlanSuboptimal

	type cheapHour struct {
		offset int
		price  float64
	}
	var cheap []cheapHour
	for h := 0; h < hoursPerDay; h++ {
		if o.Cfg.IsMeasurementHour[h] {
			continue
		}
		if priceByOffset[h] < 1.0 {
			cheap = append(cheap, cheapHour{offset: h, price: priceByOffset[h]})
		}
	}
	sort.Slice(cheap, func(i, j int) bool { return cheap[i].price < cheap[j].price })

	chargeCeiling := min2(o.Cfg.Capacity-o.Cfg.PeakReserveKWh, 0.6*o.Cfg.Capacity)

	soc := initialSoC
	chargePlan := [hoursPerDay]float64{}
	for _, h := range cheap {
		if soc >= chargeCeiling {
			break
		}
		room := chargeCeiling - soc
		chargeKWh := min2(room, o.Cfg.MaxChargeKW)
		if chargeKWh <= 0 {
			continue
		}
		chargePlan[h.offset] = chargeKWh
		soc += chargeKWh * o.Cfg.Efficiency
	}

	soc = initialSoC
	expectedPeak := 0.0
	totalCost := 0.0
	for h := 0; h < hoursPerDay; h++ {
		charge := chargePlan[h]
		discharge := 0.0

		soc += charge * o.Cfg.Efficiency

		if o.Cfg.IsMeasurementHour[h] {
			netDemand := consumption[h]
			if netDemand > o.Cfg.TargetPeakKW {
				need := netDemand - o.Cfg.TargetPeakKW
				available := soc - o.Cfg.MinSoC - o.Cfg.PeakReserveKWh
				discharge = min2(need, min2(available, o.Cfg.MaxDischargeKW))
				if discharge < 0 {
					discharge = 0
				}
			}
		}
		soc -= discharge

		grid := consumption[h] + charge - discharge
		if grid < 0 {
			grid = 0
		}

		plan.ChargeKWh[h] = charge
		plan.DischargeKWh[h] = discharge
		plan.ProjectedSoC[h] = soc
		plan.ProjectedGridKW[h] = grid

		totalCost += grid * priceByOffset[h]
		if o.Cfg.IsMeasurementHour[h] && grid > expectedPeak {
			expectedPeak = grid
		}
	}

	plan.ExpectedCost = totalCost
	plan.ExpectedPeakKW = expectedPeak

	return plan
}

func min2(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
