package main

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/cepro/dispatchengine/consumption"
	"github.com/cepro/dispatchengine/simulator"
)

// readTrace loads an hourly CSV trace (spec.md §6): local timestamp,
// consumption kWh, spot price, and an optional solar kWh column.
//
// Grounded on brianmickel-battery-backtest/internal/backtest/csv.go's
// WriteLedgerCSV, reversed into a reader: plain encoding/csv, a header row,
// strconv.ParseFloat per numeric column.
func readTrace(path string) ([]simulator.TraceRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read trace csv: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("trace file has no data rows")
	}

	header := records[0]
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"timestamp", "consumption_kwh", "spot_price"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("trace csv missing required column %q", required)
		}
	}
	solarIdx, hasSolar := col["solar_kwh"]

	rows := make([]simulator.TraceRow, 0, len(records)-1)
	for i, rec := range records[1:] {
		ts, err := time.Parse(time.RFC3339, rec[col["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("row %d: parse timestamp: %w", i, err)
		}
		consumption, err := strconv.ParseFloat(rec[col["consumption_kwh"]], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: parse consumption_kwh: %w", i, err)
		}
		spotPrice, err := strconv.ParseFloat(rec[col["spot_price"]], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: parse spot_price: %w", i, err)
		}

		var solar float64
		if hasSolar && rec[solarIdx] != "" {
			solar, err = strconv.ParseFloat(rec[solarIdx], 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: parse solar_kwh: %w", i, err)
			}
		}

		rows = append(rows, simulator.TraceRow{
			Timestamp:      ts,
			ConsumptionKWh: consumption,
			SpotPrice:      spotPrice,
			SolarKWh:       solar,
		})
	}

	return rows, nil
}

// netConsumptionSamples builds the sample series consumption.Analyser
// forecasts from. The optimiser and the peak-shaving/arbitrage specialists
// all reason about grid demand, which is net of solar — the same quantity
// PeakTracker accumulates and the simulator bills against (simulator.go's
// ConsumptionKWh-SolarKWh grid-import term) — so samples here are net, not
// gross, consumption; a trace with no solar_kwh column nets against zero and
// is unaffected.
func netConsumptionSamples(rows []simulator.TraceRow) []consumption.Sample {
	samples := make([]consumption.Sample, 0, len(rows))
	for _, r := range rows {
		samples = append(samples, consumption.Sample{Timestamp: r.Timestamp, KW: math.Max(0, r.ConsumptionKWh-r.SolarKWh)})
	}
	return samples
}

// sliceDateRange trims rows to [start, end] when either bound is set,
// implementing spec.md §6's optional trace-slice configuration.
func sliceDateRange(rows []simulator.TraceRow, start, end *time.Time) []simulator.TraceRow {
	if start == nil && end == nil {
		return rows
	}
	out := rows[:0:0]
	for _, r := range rows {
		if start != nil && r.Timestamp.Before(*start) {
			continue
		}
		if end != nil && r.Timestamp.After(*end) {
			continue
		}
		out = append(out, r)
	}
	return out
}
