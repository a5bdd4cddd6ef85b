// Package reserve computes, for any instant, the kWh of stored energy that
// must be held aside for anticipated peaks, and splits current SoC into a
// technical floor, a peak-shaving reserve, and a pool available for
// arbitrage.
//
// Grounded on controller/comp_to_soe.go's clamp-with-conservative-fallback
// style: a derived quantity bounded to a safe range, with an explicit
// fallback value when the inputs needed to compute it properly are missing.
package reserve

import (
	"math"
	"time"

	"github.com/cepro/dispatchengine/consumption"
	"github.com/cepro/dispatchengine/types"
)

// fallbackExpectedPeakKW and fallbackConfidence are used when no
// ConsumptionStats exist for a slot (spec.md §4.D.6).
const (
	fallbackExpectedPeakKW = 8.0
	fallbackConfidence     = 0.5
	fallbackPercentile     = 95
)

// percentileWeight gives the confidence weight for a chosen percentile
// (spec.md §4.D.5): 0.8 at P90, 0.9 at P95, 1.0 at P99.
func percentileWeight(p int) float64 {
	switch {
	case p >= 99:
		return 1.0
	case p >= 95:
		return 0.9
	case p >= 90:
		return 0.8
	default:
		return 0.7
	}
}

// Config holds the reserve sizing parameters (spec.md §6).
type Config struct {
	GridImportLimitKW float64
	MaxDischargeKW    float64
	SafetyBuffer      float64
	SpikeDurationHrs  float64
	MinReserveKWh     float64
	MaxReserveKWh     float64
}

// Calculator computes ReserveRequirement and CapacityAllocation values.
type Calculator struct {
	cfg      Config
	analyser *consumption.Analyser
}

// New builds a reserve Calculator over the given consumption Analyser.
func New(cfg Config, analyser *consumption.Analyser) *Calculator {
	return &Calculator{cfg: cfg, analyser: analyser}
}

// Requirement derives a ReserveRequirement for the given instant. If
// overridePercentile is > 0 it is used verbatim; otherwise the analyser's
// risk-derived recommended percentile is used.
func (c *Calculator) Requirement(t time.Time, overridePercentile int) types.ReserveRequirement {
	stats, ok := c.analyser.StatsAt(t)
	if !ok {
		return types.ReserveRequirement{
			ChosenPercentile: fallbackPercentile,
			ExpectedPeakKW:   fallbackExpectedPeakKW,
			FinalReserveKWh:  clamp(fallbackExpectedPeakKW*c.cfg.SpikeDurationHrs*c.cfg.SafetyBuffer, c.cfg.MinReserveKWh, c.cfg.MaxReserveKWh),
			Confidence:       fallbackConfidence,
			RiskTag:          types.RiskMedium,
		}
	}

	percentile := overridePercentile
	risk := consumption.Risk(stats, t.Hour())
	if percentile <= 0 {
		percentile = types.RecommendedPercentileForRisk(risk)
	}

	expectedPeakKW := stats.Percentile(percentile)

	reductionKW := math.Max(0, expectedPeakKW-c.cfg.GridImportLimitKW)
	reductionKW = math.Min(reductionKW, c.cfg.MaxDischargeKW)

	rawReserveKWh := reductionKW * c.cfg.SpikeDurationHrs
	finalReserveKWh := clamp(rawReserveKWh*c.cfg.SafetyBuffer, c.cfg.MinReserveKWh, c.cfg.MaxReserveKWh)

	sampleWeight := math.Min(1, float64(stats.SampleCount)/30.0)
	cv := 0.0
	if stats.Mean > 0 {
		cv = stats.StdDev / stats.Mean
	}
	confidence := clamp((sampleWeight+(1-math.Min(cv, 1))+percentileWeight(percentile))/3, 0, 1)

	return types.ReserveRequirement{
		ChosenPercentile:    percentile,
		ExpectedPeakKW:      expectedPeakKW,
		RawReserveKWh:       rawReserveKWh,
		SafetyBufferApplied: c.cfg.SafetyBuffer,
		FinalReserveKWh:     finalReserveKWh,
		RiskTag:             risk,
		Confidence:          confidence,
	}
}

// AllocateCapacity splits SoC into technical floor, peak-shaving reserve and
// an arbitrage pool, derives per-hour charge/discharge caps, and estimates
// an opportunity cost (non-zero when the arbitrage pool is under 50% of
// capacity).
func (c *Calculator) AllocateCapacity(soc, floorSoC, capacity, maxChargeKW, maxDischargeKW float64, reserve types.ReserveRequirement, estimatedArbitrageValue float64) types.CapacityAllocation {
	peakShavingReserve := math.Min(reserve.FinalReserveKWh, math.Max(0, soc-floorSoC))
	arbitragePool := math.Max(0, soc-floorSoC-peakShavingReserve)

	opportunityCost := 0.0
	if capacity > 0 && arbitragePool < 0.5*capacity {
		opportunityCost = estimatedArbitrageValue / 2
	}

	return types.CapacityAllocation{
		TotalCapacity:            capacity,
		CurrentSoC:               soc,
		PeakShavingReserve:       peakShavingReserve,
		ArbitragePoolKWh:         arbitragePool,
		CanCharge:                soc < capacity,
		CanDischarge:             soc > floorSoC,
		ChargeCapKW:              math.Min(maxChargeKW, capacity-soc),
		DischargeCapKW:           math.Min(maxDischargeKW, math.Max(0, soc-floorSoC)),
		EstimatedOpportunityCost: opportunityCost,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
