package policy

import (
	"github.com/cepro/dispatchengine/types"
)

// Override is the real-time override specialist (spec.md §4.E). It fires
// only on two emergencies, both veto-flagged and priority 1: an imminent
// new top-N peak during a measurement hour, or an SoC that has fallen to
// within SafetySoCMarginKWh of the floor outside the measurement window.
//
// Grounded on the teacher's base_agent-style emergency thresholds
// (spike_threshold_kw, critical_peak_margin_kw in the Python source this
// spec was distilled from) generalised into the Scheme-B controlComponent
// contract used throughout this package.
type Override struct {
	SpikeThresholdKW       float64 // default 10.0
	CriticalMarginKW       float64 // default 1.0
	SafetySoCMarginKWh     float64 // default 2.0
	SafetyRestoreTargetKWh float64 // added to floor; default 5.0
}

// DefaultOverride returns an Override configured with the spec's defaults.
func DefaultOverride() Override {
	return Override{
		SpikeThresholdKW:       10.0,
		CriticalMarginKW:       1.0,
		SafetySoCMarginKWh:     2.0,
		SafetyRestoreTargetKWh: 5.0,
	}
}

func (o Override) Name() string { return "override" }

func (o Override) Propose(ctx *types.BatteryContext) (*types.Recommendation, error) {
	if r := o.peakAboutToBeSet(ctx); r != nil {
		return r, nil
	}
	if r := o.safetyReserveRestoration(ctx); r != nil {
		return r, nil
	}
	return nil, nil
}

// peakAboutToBeSet discharges to pull grid import back below the current
// threshold when consumption is within CriticalMarginKW of breaching it.
func (o Override) peakAboutToBeSet(ctx *types.BatteryContext) *types.Recommendation {
	if !ctx.IsMeasurementHour {
		return nil
	}
	if ctx.ConsumptionKW <= o.SpikeThresholdKW {
		return nil
	}
	if ctx.ConsumptionKW <= ctx.PeakThresholdKW-o.CriticalMarginKW {
		return nil
	}

	target := ctx.PeakThresholdKW - o.CriticalMarginKW
	dischargeKW := ctx.ConsumptionKW - target
	if dischargeKW <= 0 {
		return nil
	}
	if dischargeKW > ctx.MaxDischargeKW {
		dischargeKW = ctx.MaxDischargeKW
	}

	r := rec(o.Name(), types.ActionDischarge, dischargeKW, 0.95, 0, 1,
		"peak about to be set: discharging to keep grid import below threshold", true)
	return r
}

// safetyReserveRestoration charges back up to floor+SafetyRestoreTargetKWh
// when SoC has fallen dangerously close to the floor, but only outside the
// measurement window (charging inside it would create a new peak).
func (o Override) safetyReserveRestoration(ctx *types.BatteryContext) *types.Recommendation {
	if ctx.IsMeasurementHour {
		return nil
	}
	if ctx.SoC-ctx.FloorSoC > o.SafetySoCMarginKWh {
		return nil
	}

	target := ctx.FloorSoC + o.SafetyRestoreTargetKWh
	chargeKWh := target - ctx.SoC
	if chargeKWh <= 0 {
		return nil
	}
	if chargeKWh > ctx.MaxChargeKW {
		chargeKWh = ctx.MaxChargeKW
	}

	r := rec(o.Name(), types.ActionCharge, chargeKWh, 0.95, 0, 1,
		"SoC near floor: restoring safety reserve", true)
	return r
}
