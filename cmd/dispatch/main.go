// Command dispatch runs a historical-trace backtest of the dispatch engine
// (spec.md §1, §6): it reads a flat JSON configuration and an hourly CSV
// trace, wires the core modules together, runs the simulator loop, and
// prints the per-run summary.
//
// Grounded on besscontroller/main.go's shape: flag-parsed config path,
// slog.SetDefault text handler, construct-then-wire-then-run, a clean
// shutdown path. Unlike the teacher's always-on control-loop service, a
// backtest run is bounded (spec.md's own Simulator loop processes a finite
// trace and returns), so there's no signal-driven shutdown here — Run
// returns when the trace is exhausted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/cepro/dispatchengine/boss"
	"github.com/cepro/dispatchengine/config"
	"github.com/cepro/dispatchengine/consumption"
	"github.com/cepro/dispatchengine/optimiser"
	"github.com/cepro/dispatchengine/peaktracker"
	"github.com/cepro/dispatchengine/policy"
	"github.com/cepro/dispatchengine/reserve"
	"github.com/cepro/dispatchengine/simulator"
	"github.com/cepro/dispatchengine/store"
	"github.com/cepro/dispatchengine/types"
	"github.com/cepro/dispatchengine/valuecalc"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	var configPath, tracePath, storePath string
	flag.StringVar(&configPath, "config", "./config.json", "path to the run configuration")
	flag.StringVar(&tracePath, "trace", "./trace.csv", "path to the hourly CSV trace")
	flag.StringVar(&storePath, "store", "", "optional path to a SQLite file to persist decisions and monthly summaries")
	flag.Parse()

	cfg, err := config.Read(configPath)
	if err != nil {
		slog.Error("Failed to read config", "error", err)
		os.Exit(1)
	}

	rows, err := readTrace(tracePath)
	if err != nil {
		slog.Error("Failed to read trace", "error", err)
		os.Exit(1)
	}
	rows = sliceDateRange(rows, cfg.DateRangeStart, cfg.DateRangeEnd)
	if len(rows) == 0 {
		slog.Error("Trace is empty after applying date range")
		os.Exit(1)
	}

	tariff := valuecalc.Calculator{
		GridFee:             cfg.GridFee,
		EnergyTax:           cfg.EnergyTax,
		TransferFee:         cfg.TransferFee,
		VATRate:             cfg.VATRate,
		EffectTariffKWMonth: cfg.EffectTariffSekKWMonth,
		Efficiency:          cfg.BatteryEfficiency,
	}

	analyser := consumption.New(netConsumptionSamples(rows))

	peaks := peaktracker.New(cfg.TopN, cfg.MeasurementStartHour, cfg.MeasurementEndHour)

	reserveCalc := reserve.New(reserve.Config{
		GridImportLimitKW: cfg.GridImportLimitKW,
		MaxDischargeKW:    cfg.BatteryMaxDischargeKW,
		SafetyBuffer:      cfg.SafetyBuffer,
		SpikeDurationHrs:  cfg.SpikeDurationHours,
		MinReserveKWh:     cfg.MinReserveKWh,
		MaxReserveKWh:     cfg.MaxReserveKWh,
	}, analyser)

	daysInMonth := boss.DaysInMonth(rows[0].Timestamp)

	peakShaving := policy.DefaultPeakShaving()
	peakShaving.TargetPeakKW = cfg.GridImportLimitKW
	peakShaving.DaysInMonth = daysInMonth
	peakShaving.Value = tariff

	arbitrage := policy.DefaultArbitrage()
	arbitrage.PeakReserveKWh = cfg.MinReserveKWh
	arbitrage.AssumedNightChargeCostPerKWh = cfg.GridFee + cfg.EnergyTax
	arbitrage.Value = tariff

	override := policy.DefaultOverride()

	policies := []policy.Policy{override, peakShaving, arbitrage}

	effectTariffMethod := types.EffectTariffMethod(cfg.EffectTariffMethod)

	dailyOptimiser := optimiser.New(optimiser.Config{
		Capacity:              cfg.BatteryCapacityKWh,
		MaxChargeKW:           cfg.BatteryMaxChargeKW,
		MaxDischargeKW:        cfg.BatteryMaxDischargeKW,
		Efficiency:            cfg.BatteryEfficiency,
		MinSoC:                cfg.BatteryMinSoCKWh,
		GridFee:               cfg.GridFee,
		EnergyTax:             cfg.EnergyTax,
		VATRate:               cfg.VATRate,
		IsMeasurementHour:     measurementHourTable(cfg),
		PeakReserveKWh:        cfg.MinReserveKWh,
		TargetPeakKW:          cfg.GridImportLimitKW,
		PeakPenaltyMultiplier: cfg.PeakPenaltyMultiplier,
	})

	bossCfg := boss.DefaultConfig()
	bossCfg.EnableDailyPlan = cfg.EnableDailyPlan
	bossCfg.PlanningHour = cfg.PlanningHour
	bossCfg.DaysInMonth = daysInMonth

	coordinator := boss.New(bossCfg, policies, peakShaving, reserveCalc, peaks, cfg.EffectTariffSekKWMonth, dailyOptimiser)

	var sink simulator.RunSink
	if storePath != "" {
		s, err := store.New(storePath, nil)
		if err != nil {
			slog.Error("Failed to open store", "error", err)
			os.Exit(1)
		}
		sink = s
	}

	sim := simulator.New(simulator.Config{
		InitialSoC:           cfg.BatteryMinSoCKWh,
		Capacity:             cfg.BatteryCapacityKWh,
		MaxChargeKW:          cfg.BatteryMaxChargeKW,
		MaxDischargeKW:       cfg.BatteryMaxDischargeKW,
		Efficiency:           cfg.BatteryEfficiency,
		FloorSoC:             cfg.BatteryMinSoCKWh,
		TargetMorningSoC:     cfg.BatteryMinSoCKWh,
		MeasurementStartHour: cfg.MeasurementStartHour,
		MeasurementEndHour:   cfg.MeasurementEndHour,
		TopN:                 cfg.TopN,
		EffectTariffMethod:   effectTariffMethod,
		EffectTariffKWMonth:  cfg.EffectTariffSekKWMonth,
		PlanningHour:         cfg.PlanningHour,
		EnableDailyPlan:      cfg.EnableDailyPlan,
	}, tariff, peaks, analyser, reserveCalc, coordinator, nil, sink)

	result, err := sim.Run(context.Background(), rows)
	if err != nil {
		slog.Error("Run failed", "error", err)
		os.Exit(1)
	}

	printSummary(result)
}

// measurementHourTable expands a config's inclusive measurement window into
// a 24-entry boolean table, the shape optimiser.Config needs.
func measurementHourTable(cfg config.Config) [24]bool {
	var table [24]bool
	for h := 0; h < 24; h++ {
		table[h] = cfg.IsMeasurementHour(h)
	}
	return table
}

func printSummary(r simulator.RunResult) {
	fmt.Printf("Baseline cost:       %.2f\n", r.TotalBaselineCost)
	fmt.Printf("Cost with battery:   %.2f\n", r.TotalCostWithBattery)
	fmt.Printf("Net savings:         %.2f\n", r.NetSavings)
	fmt.Printf("Peak shaving saving: %.2f\n", r.PeakShavingSavings)
	fmt.Printf("Decisions:           %d\n", len(r.Decisions))
	fmt.Printf("Conflicts resolved:  %d\n", r.PolicyCounters.ConflictsResolved)
	fmt.Printf("Vetoes applied:      %d\n", r.PolicyCounters.VetosApplied)
	for _, m := range r.MonthlyPeaks {
		fmt.Printf("  %s: top-N avg %.2f kW, single peak %.2f kW, effect tariff %.2f\n",
			m.MonthKey, m.TopNAverageKW, m.SinglePeakKW, m.EffectTariffCost)
	}
}
