package policy

import (
	"github.com/cepro/dispatchengine/types"
	"github.com/cepro/dispatchengine/valuecalc"
)

// PeakShaving runs only inside the measurement window, discharging to keep
// projected grid import from setting (or worsening) a top-N peak.
type PeakShaving struct {
	TargetPeakKW               float64 // grid_import_limit_kw
	AggressiveThresholdMultiplier float64 // default 0.9
	DaysInMonth                int
	Value                      valuecalc.Calculator
	AssumedBatteryChargeCost   float64 // used for the self-consumption half of the value estimate
}

// DefaultPeakShaving returns a PeakShaving configured with the spec's default
// aggressive threshold multiplier; callers must still set TargetPeakKW,
// DaysInMonth and Value.
func DefaultPeakShaving() PeakShaving {
	return PeakShaving{AggressiveThresholdMultiplier: 0.9}
}

func (p PeakShaving) Name() string { return "peak_shaving" }

func (p PeakShaving) Propose(ctx *types.BatteryContext) (*types.Recommendation, error) {
	if !ctx.IsMeasurementHour {
		return nil, nil
	}

	projectedImport := ctx.GridImportKW
	fewerThanN := ctx.TopN > 0 && len(ctx.TopNPeaks) < ctx.TopN
	threshold := ctx.PeakThresholdKW

	// Below threshold * aggressive multiplier there is nothing worth doing,
	// unless the month hasn't yet accumulated N samples, in which case any
	// positive import is a candidate top-N peak.
	if !fewerThanN && projectedImport < threshold*p.AggressiveThresholdMultiplier {
		return nil, nil
	}

	dischargeKW := projectedImport - p.TargetPeakKW
	if dischargeKW <= 0 {
		return nil, nil
	}

	available := ctx.SoC - ctx.FloorSoC
	if dischargeKW > available {
		dischargeKW = available
	}
	if dischargeKW > ctx.MaxDischargeKW {
		dischargeKW = ctx.MaxDischargeKW
	}
	if dischargeKW > ctx.ConsumptionKW {
		dischargeKW = ctx.ConsumptionKW
	}
	if dischargeKW <= 0 {
		return nil, nil
	}

	peakValue := p.Value.PeakShavingValue(dischargeKW, true, p.DaysInMonth)
	selfConsumptionValue := p.Value.SelfConsumptionValue(ctx.SpotPrice, dischargeKW, p.AssumedBatteryChargeCost, true)
	value := peakValue + selfConsumptionValue

	priority := 2
	if projectedImport > 1.1*threshold {
		priority = 1
	}

	r := rec(p.Name(), types.ActionDischarge, dischargeKW, 0.9, value, priority,
		"peak shaving: discharging to keep grid import under the monthly threshold", false)
	return r, nil
}
