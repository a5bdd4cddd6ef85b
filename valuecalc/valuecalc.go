// Package valuecalc converts physical quantities (kWh delivered, kW peak
// reductions) into monetary outcomes under the configured tariff. Every
// function is pure and stateless, following the teacher's charges.go /
// timed_charge.go style of plain tariff arithmetic taking all parameters
// explicitly rather than reading from shared state.
package valuecalc

import "math"

// Calculator holds the tariff parameters that every pricing function needs.
type Calculator struct {
	GridFee             float64
	EnergyTax           float64
	TransferFee         float64
	VATRate             float64
	EffectTariffKWMonth float64
	Efficiency          float64
}

// ImportCost returns the cost of importing kwh at the given spot price,
// optionally including VAT.
func (c Calculator) ImportCost(spot, kwh float64, withVAT bool) float64 {
	unitCost := spot + c.GridFee + c.EnergyTax
	total := unitCost * kwh
	if withVAT {
		total *= 1 + c.VATRate
	}
	return total
}

// ExportRevenue returns the (non-negative) revenue from exporting kwh at the
// given spot price, net of the transfer fee. VAT is not applied by default;
// callers that need it apply it themselves.
func (c Calculator) ExportRevenue(spot, kwh float64) float64 {
	return math.Max(0, spot-c.TransferFee) * kwh
}

// PeakShavingValue is the daily slice of the monthly effect-tariff saving
// from reducing a peak by kwReduction, 0 if the reduction doesn't count
// towards the top-N set for the month.
func (c Calculator) PeakShavingValue(kwReduction float64, countsInTopN bool, daysInMonth int) float64 {
	if !countsInTopN || daysInMonth <= 0 {
		return 0
	}
	return kwReduction * c.EffectTariffKWMonth / float64(daysInMonth)
}

// SelfConsumptionValue is the saving from discharging kwh to cover
// consumption instead of importing it, net of the assumed cost to have
// charged that energy in the first place. May be negative.
func (c Calculator) SelfConsumptionValue(spot, kwh, batteryChargeCost float64, withVAT bool) float64 {
	if c.Efficiency <= 0 {
		c.Efficiency = 1
	}
	return c.ImportCost(spot, kwh, withVAT) - batteryChargeCost*kwh/c.Efficiency
}

// ArbitrageValue is the profit from charging kwh at chargeSpot and
// discharging it later at dischargeSpot. Efficiency is applied on the
// discharge side only, to avoid double-counting against the SoC update
// rule (which already applies it on the charge side).
func (c Calculator) ArbitrageValue(dischargeSpot, chargeSpot, kwh float64) float64 {
	return c.ExportRevenue(dischargeSpot, kwh*c.Efficiency) - c.ImportCost(chargeSpot, kwh, true)
}
