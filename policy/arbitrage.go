package policy

import (
	"github.com/cepro/dispatchengine/cartesian"
	"github.com/cepro/dispatchengine/types"
	"github.com/cepro/dispatchengine/valuecalc"
)

// Arbitrage branches on three non-overlapping windows (spec.md §4.E): night
// charging, self-consumption (permanently suppressed, see spec.md §9 — the
// reserve already covers this case with full economic value via
// peak-shaving), and export.
type Arbitrage struct {
	NightChargeStartHour int // inclusive, default 0
	NightChargeEndHour   int // inclusive, default 5
	NightChargeSpotMax   float64

	PeakReserveKWh         float64 // fixed reserve night-charging leaves room for
	ForecastHorizonHours   int     // default 18
	ForecastHighKW         float64 // default 7.0, threshold that scales the night target up
	ScaleCurve             cartesian.Curve

	LocalReserveOutsideWindowKWh float64 // default 2.0
	LocalReserveInsideWindowKWh  float64 // default 5.0
	MinExportPriceSpot           float64 // default 3.0
	MinArbitrageProfit           float64 // default 5.0
	AssumedNightChargeCostPerKWh float64

	Value valuecalc.Calculator
}

// DefaultArbitrage returns an Arbitrage configured with the spec's defaults;
// callers must still set PeakReserveKWh, AssumedNightChargeCostPerKWh and Value.
func DefaultArbitrage() Arbitrage {
	return Arbitrage{
		NightChargeStartHour:          0,
		NightChargeEndHour:            5,
		NightChargeSpotMax:            0.30,
		ForecastHorizonHours:          18,
		ForecastHighKW:                7.0,
		ScaleCurve:                    cartesian.Curve{Points: []cartesian.Point{{X: 7, Y: 0}, {X: 15, Y: 5}}},
		LocalReserveOutsideWindowKWh:  2.0,
		LocalReserveInsideWindowKWh:   5.0,
		MinExportPriceSpot:            3.0,
		MinArbitrageProfit:            5.0,
	}
}

func (a Arbitrage) Name() string { return "arbitrage" }

func (a Arbitrage) Propose(ctx *types.BatteryContext) (*types.Recommendation, error) {
	if ctx.IsMeasurementHour {
		// Night charging and self-consumption are both forbidden/suppressed
		// during measurement hours; only export remains a candidate, and
		// only once the non-measurement-hour checks below are skipped.
		return a.export(ctx)
	}

	if r := a.nightCharge(ctx); r != nil {
		return r, nil
	}
	// self-consumption branch: permanently suppressed (spec.md §9).
	return a.export(ctx)
}

func (a Arbitrage) inNightWindow(hour int) bool {
	return hour >= a.NightChargeStartHour && hour <= a.NightChargeEndHour
}

func (a Arbitrage) nightCharge(ctx *types.BatteryContext) *types.Recommendation {
	if ctx.IsMeasurementHour {
		return nil
	}
	if !a.inNightWindow(ctx.HourOfDay) {
		return nil
	}
	if ctx.SpotPrice >= a.NightChargeSpotMax {
		return nil
	}

	target := ctx.Capacity - a.PeakReserveKWh

	maxForecast := 0.0
	for i := 0; i < a.ForecastHorizonHours && i < len(ctx.ConsumptionForecast); i++ {
		if ctx.ConsumptionForecast[i] > maxForecast {
			maxForecast = ctx.ConsumptionForecast[i]
		}
	}
	if maxForecast > a.ForecastHighKW {
		target += a.ScaleCurve.ValueAt(maxForecast)
	}
	if target > ctx.Capacity {
		target = ctx.Capacity
	}

	room := target - ctx.SoC
	if room < 1.0 {
		return nil
	}

	chargeKWh := room
	if chargeKWh > ctx.MaxChargeKW {
		chargeKWh = ctx.MaxChargeKW
	}
	if chargeKWh < 0.5 {
		return nil
	}

	value := -a.Value.ImportCost(ctx.SpotPrice, chargeKWh, true)
	r := rec(a.Name(), types.ActionCharge, chargeKWh, 0.8, value, 3,
		"arbitrage: cheap night charging ahead of tomorrow's peaks", false)
	return r
}

func (a Arbitrage) export(ctx *types.BatteryContext) (*types.Recommendation, error) {
	if ctx.ConsumptionKW > 0.0001 {
		return nil, nil
	}
	if ctx.SpotPrice < a.MinExportPriceSpot {
		return nil, nil
	}

	localReserve := a.LocalReserveOutsideWindowKWh
	if ctx.IsMeasurementHour {
		localReserve = a.LocalReserveInsideWindowKWh
	}

	sizeKWh := ctx.SoC - ctx.FloorSoC - localReserve
	if sizeKWh <= 0 {
		return nil, nil
	}
	if sizeKWh > ctx.MaxDischargeKW {
		sizeKWh = ctx.MaxDischargeKW
	}

	revenuePerKWh := a.Value.ExportRevenue(ctx.SpotPrice, 1.0)
	if revenuePerKWh < a.AssumedNightChargeCostPerKWh {
		return nil, nil
	}

	profit := a.Value.ArbitrageValue(ctx.SpotPrice, a.NightChargeSpotMax, sizeKWh)
	if profit < a.MinArbitrageProfit {
		return nil, nil
	}

	r := rec(a.Name(), types.ActionExport, sizeKWh, 0.85, profit, 3,
		"arbitrage: exporting at an attractive spot price", false)
	return r, nil
}
