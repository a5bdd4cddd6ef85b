// Package config reads the flat run configuration described in spec.md §6:
// battery electrical limits, tariff components, peak-tracking window,
// reserve sizing, and planning toggles.
//
// Grounded on the teacher's config/config.go Read(path) (Config, error)
// JSON-unmarshal pattern; the teacher's nested per-device sections
// (MetersConfig, BessConfig, DataPlatformConfig) don't apply to a flat
// options table, so this is flattened into a single struct with JSON tags
// matching spec.md's option names.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// EffectTariffMethod selects how the monthly peak charge is computed.
type EffectTariffMethod string

const (
	EffectTariffSinglePeak   EffectTariffMethod = "single_peak"
	EffectTariffTopNAverage  EffectTariffMethod = "top_n_average"
)

// Config is the full set of recognised options from spec.md §6.
type Config struct {
	BatteryCapacityKWh     float64 `json:"battery_capacity_kwh"`
	BatteryMaxChargeKW     float64 `json:"battery_max_charge_kw"`
	BatteryMaxDischargeKW  float64 `json:"battery_max_discharge_kw"`
	BatteryEfficiency      float64 `json:"battery_efficiency"`
	BatteryMinSoCKWh       float64 `json:"battery_min_soc_kwh"`

	GridFee     float64 `json:"grid_fee"`
	EnergyTax   float64 `json:"energy_tax"`
	TransferFee float64 `json:"transfer_fee"`
	VATRate     float64 `json:"vat_rate"`

	EffectTariffSekKWMonth float64            `json:"effect_tariff_sek_kw_month"`
	MeasurementStartHour   int                `json:"measurement_start_hour"`
	MeasurementEndHour     int                `json:"measurement_end_hour"`
	TopN                   int                `json:"top_n"`
	EffectTariffMethod     EffectTariffMethod `json:"effect_tariff_method"`

	GridImportLimitKW float64 `json:"grid_import_limit_kw"`

	DefaultPercentile    int     `json:"default_percentile"`
	SafetyBuffer         float64 `json:"safety_buffer"`
	SpikeDurationHours   float64 `json:"spike_duration_hours"`
	MinReserveKWh        float64 `json:"min_reserve_kwh"`
	MaxReserveKWh        float64 `json:"max_reserve_kwh"`

	PeakPenaltyMultiplier float64 `json:"peak_penalty_multiplier"`

	PlanningHour   int  `json:"planning_hour"`
	EnableDailyPlan bool `json:"enable_daily_plan"`

	DateRangeStart *time.Time `json:"date_range_start,omitempty"`
	DateRangeEnd   *time.Time `json:"date_range_end,omitempty"`
}

// Read loads and parses a JSON configuration file.
func Read(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.EffectTariffMethod == "" {
		cfg.EffectTariffMethod = EffectTariffTopNAverage
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for impossible combinations, per
// spec.md §7's "input validation... fails early" requirement.
func (c Config) Validate() error {
	if c.BatteryCapacityKWh <= 0 {
		return fmt.Errorf("battery_capacity_kwh must be positive")
	}
	if c.BatteryMinSoCKWh < 0 || c.BatteryMinSoCKWh >= c.BatteryCapacityKWh {
		return fmt.Errorf("battery_min_soc_kwh must be within [0, battery_capacity_kwh)")
	}
	if c.BatteryMaxChargeKW <= 0 || c.BatteryMaxDischargeKW <= 0 {
		return fmt.Errorf("battery_max_charge_kw and battery_max_discharge_kw must be positive")
	}
	if c.BatteryEfficiency <= 0 || c.BatteryEfficiency > 1 {
		return fmt.Errorf("battery_efficiency must be in (0, 1]")
	}
	if c.MeasurementStartHour < 0 || c.MeasurementStartHour > 23 || c.MeasurementEndHour < 0 || c.MeasurementEndHour > 23 {
		return fmt.Errorf("measurement_start_hour and measurement_end_hour must be within [0, 23]")
	}
	if c.TopN <= 0 {
		return fmt.Errorf("top_n must be positive")
	}
	if c.EffectTariffMethod != EffectTariffSinglePeak && c.EffectTariffMethod != EffectTariffTopNAverage {
		return fmt.Errorf("effect_tariff_method must be 'single_peak' or 'top_n_average'")
	}
	if c.MinReserveKWh > c.MaxReserveKWh {
		return fmt.Errorf("min_reserve_kwh must not exceed max_reserve_kwh")
	}
	if c.DateRangeStart != nil && c.DateRangeEnd != nil && c.DateRangeStart.After(*c.DateRangeEnd) {
		return fmt.Errorf("date_range_start must not be after date_range_end")
	}
	return nil
}

// IsMeasurementHour reports whether hour h falls within the inclusive
// measurement window, handling windows that wrap past midnight.
func (c Config) IsMeasurementHour(h int) bool {
	if c.MeasurementStartHour <= c.MeasurementEndHour {
		return h >= c.MeasurementStartHour && h <= c.MeasurementEndHour
	}
	return h >= c.MeasurementStartHour || h <= c.MeasurementEndHour
}
