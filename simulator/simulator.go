// Package simulator implements the hourly dispatch loop (spec.md §4.H): for
// each trace row it builds a BatteryContext, obtains a Decision from Boss,
// applies the physical update, feeds PeakTracker, accrues cost, and closes
// out the monthly effect-tariff charge at month boundaries.
//
// Grounded on brianmickel-battery-backtest/internal/backtest/engine.go's
// Engine.Run row-iteration/ledger-accumulation shape, fused with
// akwiatkowski's Battery.Process SoC-clamp-and-adjusted-grid arithmetic (the
// closest existing implementation of spec.md invariants 4/5), and the
// teacher's Controller.Run tick-driven loop structure for the live variant.
package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cepro/dispatchengine/boss"
	"github.com/cepro/dispatchengine/consumption"
	"github.com/cepro/dispatchengine/peaktracker"
	"github.com/cepro/dispatchengine/reserve"
	"github.com/cepro/dispatchengine/types"
	"github.com/cepro/dispatchengine/valuecalc"
)

// TraceRow is one hourly input row (spec.md §6).
type TraceRow struct {
	Timestamp              time.Time
	ConsumptionKWh         float64
	SpotPrice              float64
	SolarKWh               float64 // optional, 0 if none
	RealisedImportCost     *float64
	RealisedExportRevenue  *float64
}

// PhysicalOutcome is the result of applying a Decision to the battery for
// one tick (spec.md invariants 1-5).
type PhysicalOutcome struct {
	Charge            float64
	Discharge         float64
	SoCAfter          float64
	GridImportKW      float64
	GridExportKW      float64
	SelfConsumptionKW float64
}

// BessExecutor executes a Decision against a real or simulated battery.
// The backtest path uses applyPhysics directly; a live deployment wires in
// bessdriver.Driver behind an adapter satisfying this interface.
type BessExecutor interface {
	Execute(ctx context.Context, bc types.BatteryContext, dec types.Decision) (PhysicalOutcome, error)
}

// RunSink receives each tick's outcome for persistence/reporting. A
// historical backtest can pass nil; store.Store satisfies this for live or
// persisted runs.
type RunSink interface {
	RecordTick(dec types.Decision, outcome PhysicalOutcome) error
	RecordMonthClose(monthKey string, effectTariffCost float64) error
}

// Config holds the static battery/tariff/measurement parameters (spec.md §3, §6).
type Config struct {
	InitialSoC     float64
	Capacity       float64
	MaxChargeKW    float64
	MaxDischargeKW float64
	Efficiency     float64
	FloorSoC       float64 // technical/safety floor (min_soc)
	TargetMorningSoC float64

	MeasurementStartHour int
	MeasurementEndHour   int
	TopN                 int
	EffectTariffMethod   types.EffectTariffMethod
	EffectTariffKWMonth  float64

	PlanningHour    int
	EnableDailyPlan bool
}

// Simulator runs the hourly loop over a trace.
type Simulator struct {
	cfg      Config
	tariff   valuecalc.Calculator
	peaks    *peaktracker.PeakTracker
	analyser *consumption.Analyser
	reserve  *reserve.Calculator
	boss     *boss.Boss
	executor BessExecutor
	sink     RunSink
}

// New builds a Simulator. executor and sink may be nil, in which case the
// built-in physics function is used and no sink is written to.
func New(cfg Config, tariff valuecalc.Calculator, peaks *peaktracker.PeakTracker, analyser *consumption.Analyser, reserveCalc *reserve.Calculator, coordinator *boss.Boss, executor BessExecutor, sink RunSink) *Simulator {
	return &Simulator{
		cfg:      cfg,
		tariff:   tariff,
		peaks:    peaks,
		analyser: analyser,
		reserve:  reserveCalc,
		boss:     coordinator,
		executor: executor,
		sink:     sink,
	}
}

// MonthSummary is the effect-tariff outcome for one completed calendar month.
type MonthSummary struct {
	MonthKey         string
	TopNAverageKW    float64
	SinglePeakKW     float64
	EffectTariffCost float64
}

// RunResult is the per-run summary spec.md §6 describes.
type RunResult struct {
	Decisions []types.Decision

	TotalBaselineCost   float64
	TotalCostWithBattery float64
	NetSavings          float64
	PeakShavingSavings  float64

	SoCSeries        []float64
	GridImportSeries []float64
	GridExportSeries []float64

	MonthlyPeaks []MonthSummary

	PolicyCounters boss.Counters
}

// defaultExecutor applies spec.md invariants 1-5 in-process; it is what a
// historical backtest uses when no BessExecutor is supplied.
type defaultExecutor struct{}

func (defaultExecutor) Execute(_ context.Context, bc types.BatteryContext, dec types.Decision) (PhysicalOutcome, error) {
	return applyPhysics(bc, dec), nil
}

// applyPhysics turns a Decision's action/magnitude into the physical deltas
// spec.md invariants 1-5 require, clamped to power, capacity and floor
// limits.
func applyPhysics(bc types.BatteryContext, dec types.Decision) PhysicalOutcome {
	charge, discharge := 0.0, 0.0

	switch dec.Action {
	case types.ActionCharge:
		charge = math.Max(0, dec.KWhDelivered)
		charge = math.Min(charge, bc.MaxChargeKW)
		if bc.Efficiency > 0 {
			maxByCapacity := (bc.Capacity - bc.SoC) / bc.Efficiency
			charge = math.Min(charge, math.Max(0, maxByCapacity))
		} else {
			charge = 0
		}
	case types.ActionDischarge, types.ActionExport:
		discharge = math.Max(0, dec.KWhDelivered)
		discharge = math.Min(discharge, bc.MaxDischargeKW)
		discharge = math.Min(discharge, math.Max(0, bc.SoC-bc.FloorSoC))
	}

	socAfter := bc.SoC + charge*bc.Efficiency - discharge
	// Guard against floating-point drift pushing SoC a hair outside bounds.
	socAfter = math.Min(math.Max(socAfter, bc.FloorSoC), bc.Capacity)

	net := bc.ConsumptionKW - bc.SolarKW - discharge + charge
	gridImport := math.Max(0, net)
	gridExport := math.Max(0, -net)
	selfConsumption := math.Min(discharge, bc.ConsumptionKW)

	return PhysicalOutcome{
		Charge:            charge,
		Discharge:         discharge,
		SoCAfter:          socAfter,
		GridImportKW:      gridImport,
		GridExportKW:      gridExport,
		SelfConsumptionKW: selfConsumption,
	}
}

// Run processes rows in order, producing a RunResult. rows must be
// chronologically ordered at one-hour spacing (spec.md §6); a gap or
// out-of-order row is a validation error, returned immediately with no
// partial run.
func (s *Simulator) Run(ctx context.Context, rows []TraceRow) (RunResult, error) {
	if err := validateTrace(rows); err != nil {
		return RunResult{}, fmt.Errorf("validate trace: %w", err)
	}

	executor := s.executor
	if executor == nil {
		executor = defaultExecutor{}
	}

	var result RunResult
	soc := s.cfg.InitialSoC

	runningSum, runningCount, runningPeak := 0.0, 0, 0.0
	currentMonth := ""

	for idx, row := range rows {
		if currentMonth == "" {
			currentMonth = row.Timestamp.Format("2006-01")
		} else if monthKey := row.Timestamp.Format("2006-01"); monthKey != currentMonth {
			s.closeMonth(currentMonth, &result)
			currentMonth = monthKey
			s.boss.SetDaysInMonth(boss.DaysInMonth(row.Timestamp))
		}

		bc := s.buildContext(row, idx, rows, soc, runningSum, runningCount, runningPeak)

		if s.cfg.EnableDailyPlan && row.Timestamp.Hour() == s.cfg.PlanningHour {
			s.boss.MaybePlan(&bc)
		}

		dec := s.boss.Decide(&bc)

		outcome, err := executor.Execute(ctx, bc, dec)
		if err != nil {
			return RunResult{}, fmt.Errorf("tick %s: execute decision: %w", row.Timestamp, err)
		}

		if err := checkInvariants(bc, outcome); err != nil {
			return RunResult{}, fmt.Errorf("tick %s: invariant violation: %w", row.Timestamp, err)
		}

		dec.SoCAfter = outcome.SoCAfter
		dec.GridImportKW = outcome.GridImportKW
		dec.GridExportKW = outcome.GridExportKW
		dec.SelfConsumptionKW = outcome.SelfConsumptionKW

		soc = outcome.SoCAfter
		s.peaks.Update(row.Timestamp, outcome.GridImportKW)

		importCost := s.tariff.ImportCost(row.SpotPrice, outcome.GridImportKW, true)
		exportRevenue := s.tariff.ExportRevenue(row.SpotPrice, outcome.GridExportKW)
		result.TotalCostWithBattery += importCost - exportRevenue

		baselineGrid := math.Max(0, row.ConsumptionKWh-row.SolarKWh)
		result.TotalBaselineCost += s.tariff.ImportCost(row.SpotPrice, baselineGrid, true)

		result.Decisions = append(result.Decisions, dec)
		result.SoCSeries = append(result.SoCSeries, soc)
		result.GridImportSeries = append(result.GridImportSeries, outcome.GridImportKW)
		result.GridExportSeries = append(result.GridExportSeries, outcome.GridExportKW)

		if s.sink != nil {
			if err := s.sink.RecordTick(dec, outcome); err != nil {
				slog.Error("run sink failed to record tick", "timestamp", row.Timestamp, "error", err)
			}
		}

		runningSum += row.ConsumptionKWh
		runningCount++
		if row.ConsumptionKWh > runningPeak {
			runningPeak = row.ConsumptionKWh
		}
	}

	if currentMonth != "" {
		s.closeMonth(currentMonth, &result)
	}

	result.NetSavings = result.TotalBaselineCost - result.TotalCostWithBattery
	result.PolicyCounters = s.boss.Counters

	return result, nil
}

// closeMonth computes the completed month's effect-tariff cost from the
// PeakTracker under the configured method (spec.md §4.H step 6) and appends
// it to the run total.
func (s *Simulator) closeMonth(monthKey string, result *RunResult) {
	summary := MonthSummary{MonthKey: monthKey}
	summary.TopNAverageKW = s.peaks.TopNAverage(monthKey)
	summary.SinglePeakKW = s.peaks.SinglePeak(monthKey)

	var peakKW float64
	switch s.cfg.EffectTariffMethod {
	case types.EffectTariffSinglePeak:
		peakKW = summary.SinglePeakKW
	default:
		peakKW = summary.TopNAverageKW
	}
	summary.EffectTariffCost = peakKW * s.cfg.EffectTariffKWMonth

	result.TotalCostWithBattery += summary.EffectTariffCost
	result.MonthlyPeaks = append(result.MonthlyPeaks, summary)

	if s.sink != nil {
		if err := s.sink.RecordMonthClose(monthKey, summary.EffectTariffCost); err != nil {
			slog.Error("run sink failed to record month close", "month", monthKey, "error", err)
		}
	}
}

// buildContext assembles the per-tick BatteryContext (spec.md §3, §4.H
// step 1), including the no-peek forecasts.
func (s *Simulator) buildContext(row TraceRow, idx int, rows []TraceRow, soc, runningSum float64, runningCount int, runningPeak float64) types.BatteryContext {
	monthKey := row.Timestamp.Format("2006-01")
	isWindow := s.peaks.InWindow(row.Timestamp)

	var spotForecast [24]float64
	for i := 0; i < 24; i++ {
		if idx+1+i < len(rows) {
			spotForecast[i] = rows[idx+1+i].SpotPrice
		} else if len(rows) > 0 {
			spotForecast[i] = rows[len(rows)-1].SpotPrice
		}
	}

	// Forecast(idx+1) lets the past set include the current tick's own,
	// already-known consumption (index idx) while still excluding every
	// future row, so offset 0 lands on the next hour — the same convention
	// spotForecast above uses (spec.md §4.H step 1: "a consumption forecast
	// ... per future hour-of-day").
	var consumptionForecast [24]float64
	if s.analyser != nil {
		consumptionForecast = s.analyser.Forecast(idx + 1)
	}

	rollingAvg := 0.0
	if runningCount > 0 {
		rollingAvg = runningSum / float64(runningCount)
	}

	return types.BatteryContext{
		Timestamp: row.Timestamp,
		HourOfDay: row.Timestamp.Hour(),

		SoC:              soc,
		Capacity:         s.cfg.Capacity,
		MaxChargeKW:      s.cfg.MaxChargeKW,
		MaxDischargeKW:   s.cfg.MaxDischargeKW,
		Efficiency:       s.cfg.Efficiency,
		FloorSoC:         s.cfg.FloorSoC,
		TargetMorningSoC: s.cfg.TargetMorningSoC,

		ConsumptionKW: row.ConsumptionKWh,
		SolarKW:       row.SolarKWh,
		GridImportKW:  math.Max(0, row.ConsumptionKWh-row.SolarKWh),
		SpotPrice:     row.SpotPrice,

		SpotForecast:        spotForecast,
		ConsumptionForecast: consumptionForecast,

		MonthKey:        monthKey,
		TopN:            s.cfg.TopN,
		TopNPeaks:       s.peaks.TopNPeaks(monthKey),
		PeakThresholdKW: s.peaks.Threshold(monthKey),

		IsMeasurementHour: isWindow,

		RollingAverageConsumptionKW: rollingAvg,
		PeakConsumptionKW:           runningPeak,
	}
}

// validateTrace enforces spec.md §6's monotone, one-hour-spaced ordering.
func validateTrace(rows []TraceRow) error {
	for i := 1; i < len(rows); i++ {
		gap := rows[i].Timestamp.Sub(rows[i-1].Timestamp)
		if gap != time.Hour {
			return fmt.Errorf("row %d: expected 1h spacing after %s, got %s (gap %s)", i, rows[i-1].Timestamp, rows[i].Timestamp, gap)
		}
	}
	return nil
}

// checkInvariants hard-errors on a programming-error invariant violation
// (spec.md §7): SoC out of bounds, or a physically nonsensical simultaneous
// charge+discharge. These must never happen given applyPhysics's own
// clamping; a violation here means the executor wired in violated the
// contract.
func checkInvariants(bc types.BatteryContext, outcome PhysicalOutcome) error {
	const eps = 1e-6
	if outcome.SoCAfter < bc.FloorSoC-eps || outcome.SoCAfter > bc.Capacity+eps {
		return fmt.Errorf("soc %.6f outside [%.6f, %.6f]", outcome.SoCAfter, bc.FloorSoC, bc.Capacity)
	}
	if outcome.Charge > eps && outcome.Discharge > eps {
		return fmt.Errorf("simultaneous charge (%.6f) and discharge (%.6f)", outcome.Charge, outcome.Discharge)
	}
	if outcome.GridImportKW < -eps || outcome.GridExportKW < -eps {
		return fmt.Errorf("negative grid flow: import=%.6f export=%.6f", outcome.GridImportKW, outcome.GridExportKW)
	}
	if outcome.GridImportKW > eps && outcome.GridExportKW > eps {
		return fmt.Errorf("simultaneous grid import (%.6f) and export (%.6f)", outcome.GridImportKW, outcome.GridExportKW)
	}
	return nil
}
